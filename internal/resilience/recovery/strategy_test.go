package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermalens/conductor/internal/catalog"
	"github.com/dermalens/conductor/internal/core/domain"
)

var errBoom = errors.New("boom")

func TestDecide_Critical(t *testing.T) {
	tbl := NewTable(map[domain.ActionID]Strategy{
		"encrypt": {Critical: true, Retryable: true, MaxRetries: 5},
	})

	d := tbl.Decide("encrypt", 1, errBoom)
	assert.Equal(t, Abort, d.Kind, "critical wins over retryable")
}

func TestDecide_RetryUntilExhausted(t *testing.T) {
	tbl := NewTable(map[domain.ActionID]Strategy{
		"segment": {Retryable: true, MaxRetries: 2, RetryDelay: 100 * time.Millisecond},
	})

	first := tbl.Decide("segment", 1, errBoom)
	assert.Equal(t, Retry, first.Kind)
	assert.Equal(t, 100*time.Millisecond, first.Delay)

	assert.Equal(t, Retry, tbl.Decide("segment", 2, errBoom).Kind)
	assert.Equal(t, Skip, tbl.Decide("segment", 3, errBoom).Kind,
		"retries exhausted, no fallback configured")
}

func TestDecide_FallbackAfterRetries(t *testing.T) {
	tbl := NewTable(map[domain.ActionID]Strategy{
		"calibrate": {Retryable: true, MaxRetries: 1, Fallback: "calibrate_safe"},
	})

	assert.Equal(t, Retry, tbl.Decide("calibrate", 1, errBoom).Kind)

	d := tbl.Decide("calibrate", 2, errBoom)
	assert.Equal(t, Fallback, d.Kind)
	assert.Equal(t, domain.ActionID("calibrate_safe"), d.Fallback)
}

func TestDecide_SkipWhenNothingConfigured(t *testing.T) {
	tbl := NewTable(map[domain.ActionID]Strategy{"lookup": {}})

	assert.Equal(t, Skip, tbl.Decide("lookup", 1, errBoom).Kind)
}

func TestDecide_UnknownActionFailsSafe(t *testing.T) {
	tbl := NewTable(nil)

	assert.False(t, tbl.Has("mystery"))
	assert.Equal(t, Abort, tbl.Decide("mystery", 1, errBoom).Kind,
		"unknown ids must abort, never silently skip")
}

func TestDecide_BreakerRejectionCountsAsFailure(t *testing.T) {
	tbl := NewTable(map[domain.ActionID]Strategy{
		"segment": {Retryable: true, MaxRetries: 1},
	})
	openErr := &domain.CircuitOpenError{ID: "segment"}

	assert.Equal(t, Retry, tbl.Decide("segment", 1, openErr).Kind)
	assert.Equal(t, Skip, tbl.Decide("segment", 2, openErr).Kind)
}

func TestDermalDefaults_CoversCatalog(t *testing.T) {
	cat, err := catalog.Dermal(nil)
	require.NoError(t, err)

	tbl := DermalDefaults()
	for _, id := range cat.IDs() {
		assert.True(t, tbl.Has(id), "no strategy row for %s", id)
	}

	std := tbl.For(catalog.ActionStandardCalibration)
	assert.Equal(t, catalog.ActionSafetyCalibration, std.Fallback)
	assert.True(t, cat.Has(std.Fallback), "fallback must be a catalog action")

	assert.True(t, tbl.For(catalog.ActionAuditLogging).Critical)
	assert.True(t, tbl.For(catalog.ActionConsentVerification).Critical)
}

func TestDecisionKind_String(t *testing.T) {
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "fallback", Fallback.String())
	assert.Equal(t, "skip", Skip.String())
}
