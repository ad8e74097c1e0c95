package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermalens/conductor/internal/core/domain"
)

func TestCatalog_Register(t *testing.T) {
	c := New()

	require.NoError(t, c.Register(domain.Descriptor{ID: "a", Cost: 1}))
	assert.True(t, c.Has("a"))
	assert.Equal(t, 1, c.Len())

	t.Run("duplicate id", func(t *testing.T) {
		err := c.Register(domain.Descriptor{ID: "a", Cost: 1})
		assert.ErrorContains(t, err, "already registered")
	})

	t.Run("empty id", func(t *testing.T) {
		err := c.Register(domain.Descriptor{ID: "", Cost: 1})
		assert.ErrorContains(t, err, "must not be empty")
	})

	t.Run("negative cost", func(t *testing.T) {
		err := c.Register(domain.Descriptor{ID: "b", Cost: -1})
		assert.ErrorContains(t, err, "negative cost")
	})

	t.Run("sealed", func(t *testing.T) {
		c.Seal()
		err := c.Register(domain.Descriptor{ID: "c", Cost: 1})
		assert.ErrorContains(t, err, "sealed")
	})
}

func TestCatalog_LookupUnknown(t *testing.T) {
	c := New()

	_, err := c.Lookup("nope")

	var unknown *domain.UnknownActionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, domain.ActionID("nope"), unknown.ID)
}

func TestCatalog_OrderPreserved(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(domain.Descriptor{ID: "z", Cost: 1}))
	require.NoError(t, c.Register(domain.Descriptor{ID: "a", Cost: 1}))
	require.NoError(t, c.Register(domain.Descriptor{ID: "m", Cost: 1}))

	assert.Equal(t, []domain.ActionID{"z", "a", "m"}, c.IDs())
}

func TestDermal(t *testing.T) {
	c, err := Dermal(nil)
	require.NoError(t, err)

	assert.Equal(t, 17, c.Len())
	for _, id := range []domain.ActionID{
		ActionConsentVerification, ActionToneDetection,
		ActionStandardCalibration, ActionSafetyCalibration,
		ActionAuditLogging,
	} {
		assert.True(t, c.Has(id), "missing %s", id)
	}

	safety := c.MustLookup(ActionSafetyCalibration)
	standard := c.MustLookup(ActionStandardCalibration)
	assert.Greater(t, safety.Cost, standard.Cost,
		"safety calibration must cost more than the standard route")

	assert.Panics(t, func() { c.MustLookup("nonexistent") })
}

func TestDermal_CostOverrides(t *testing.T) {
	c, err := Dermal(map[domain.ActionID]float64{ActionSegmentation: 7.5})
	require.NoError(t, err)

	d, err := c.Lookup(ActionSegmentation)
	require.NoError(t, err)
	assert.Equal(t, 7.5, d.Cost)

	untouched, err := c.Lookup(ActionEncryption)
	require.NoError(t, err)
	assert.Equal(t, 1.0, untouched.Cost)
}

func TestDermal_CalibrationPreconditions(t *testing.T) {
	c, err := Dermal(nil)
	require.NoError(t, err)

	toned := domain.DefaultStartState().Apply(domain.Delta{
		domain.FactConsentVerified: true,
		domain.FactImageVerified:   true,
		domain.FactQualityAssessed: true,
		domain.FactToneDetected:    true,
	})
	lowConf := toned.Apply(domain.Delta{domain.FactLowConfidence: true})

	standard, _ := c.Lookup(ActionStandardCalibration)
	safety, _ := c.Lookup(ActionSafetyCalibration)

	assert.True(t, standard.Ready(toned))
	assert.False(t, standard.Ready(lowConf), "standard calibration must be blocked on low confidence")
	assert.True(t, safety.Ready(toned))
	assert.True(t, safety.Ready(lowConf))
}
