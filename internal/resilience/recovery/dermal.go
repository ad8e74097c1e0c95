package recovery

import (
	"time"

	"github.com/dermalens/conductor/internal/catalog"
	"github.com/dermalens/conductor/internal/core/domain"
)

// DermalDefaults is the shipped strategy table for the dermatology pipeline.
// Actions touching consent, privacy or the audit trail are critical; the
// model-backed stages retry; standard calibration falls back to the safety
// route; the case-history lookup may degrade to a skip.
func DermalDefaults() *Table {
	retry := func(n int, delay time.Duration) Strategy {
		return Strategy{Retryable: true, MaxRetries: n, RetryDelay: delay}
	}

	return NewTable(map[domain.ActionID]Strategy{
		catalog.ActionConsentVerification: {Critical: true},
		catalog.ActionImageValidation:     {Critical: true},
		catalog.ActionQualityAssessment:   retry(1, 200*time.Millisecond),
		catalog.ActionToneDetection:       retry(2, 500*time.Millisecond),
		catalog.ActionStandardCalibration: {
			Fallback: catalog.ActionSafetyCalibration,
		},
		catalog.ActionSafetyCalibration:    retry(1, 500*time.Millisecond),
		catalog.ActionSegmentation:         retry(2, 500*time.Millisecond),
		catalog.ActionFeatureExtraction:    retry(2, 500*time.Millisecond),
		catalog.ActionLesionClassification: retry(2, 1*time.Second),
		catalog.ActionRiskScoring:          retry(1, 500*time.Millisecond),
		catalog.ActionHistoryLookup:        {}, // non-critical, skip on failure
		catalog.ActionTriageRecommendation: retry(1, 500*time.Millisecond),
		catalog.ActionExplanation:          {},
		catalog.ActionReportGeneration:     retry(1, 500*time.Millisecond),
		catalog.ActionAnonymization:        {Critical: true},
		catalog.ActionEncryption:           {Critical: true},
		catalog.ActionAuditLogging:         {Critical: true},
	})
}
