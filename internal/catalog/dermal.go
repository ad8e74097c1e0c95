package catalog

import (
	"github.com/dermalens/conductor/internal/core/domain"
)

// Action ids of the dermatology analysis pipeline.
const (
	ActionConsentVerification  domain.ActionID = "consent_verification"
	ActionImageValidation      domain.ActionID = "image_validation"
	ActionQualityAssessment    domain.ActionID = "quality_assessment"
	ActionToneDetection        domain.ActionID = "tone_detection"
	ActionStandardCalibration  domain.ActionID = "standard_calibration"
	ActionSafetyCalibration    domain.ActionID = "safety_calibration"
	ActionSegmentation         domain.ActionID = "segmentation"
	ActionFeatureExtraction    domain.ActionID = "feature_extraction"
	ActionLesionClassification domain.ActionID = "lesion_classification"
	ActionRiskScoring          domain.ActionID = "risk_scoring"
	ActionHistoryLookup        domain.ActionID = "history_lookup"
	ActionTriageRecommendation domain.ActionID = "triage_recommendation"
	ActionExplanation          domain.ActionID = "explanation"
	ActionReportGeneration     domain.ActionID = "report_generation"
	ActionAnonymization        domain.ActionID = "anonymization"
	ActionEncryption           domain.ActionID = "encryption"
	ActionAuditLogging         domain.ActionID = "audit_logging"
)

func requires(flags ...domain.Fact) domain.Precondition {
	return func(s domain.Snapshot) bool {
		for _, f := range flags {
			if !s.Bool(f) {
				return false
			}
		}
		return true
	}
}

func sets(d domain.Delta) domain.Effect {
	return func(domain.Snapshot) domain.Delta {
		return d
	}
}

// Dermal builds the built-in dermatology pipeline catalog: a linear 16-stage
// standard path plus safety_calibration, the alternate calibration route taken
// when tone detection reports low confidence. Costs may be overridden per
// action id via the costs map (nil means all defaults).
func Dermal(costs map[domain.ActionID]float64) (*Catalog, error) {
	cost := func(id domain.ActionID, def float64) float64 {
		if c, ok := costs[id]; ok {
			return c
		}
		return def
	}

	descriptors := []domain.Descriptor{
		{
			ID:           ActionConsentVerification,
			Cost:         cost(ActionConsentVerification, 1),
			Precondition: nil, // entry point
			Effect:       sets(domain.Delta{domain.FactConsentVerified: true}),
		},
		{
			ID:           ActionImageValidation,
			Cost:         cost(ActionImageValidation, 1),
			Precondition: requires(domain.FactConsentVerified),
			Effect:       sets(domain.Delta{domain.FactImageVerified: true}),
		},
		{
			ID:           ActionQualityAssessment,
			Cost:         cost(ActionQualityAssessment, 1),
			Precondition: requires(domain.FactImageVerified),
			Effect:       sets(domain.Delta{domain.FactQualityAssessed: true}),
		},
		{
			ID:           ActionToneDetection,
			Cost:         cost(ActionToneDetection, 1),
			Precondition: requires(domain.FactQualityAssessed),
			Effect:       sets(domain.Delta{domain.FactToneDetected: true}),
		},
		{
			ID:   ActionStandardCalibration,
			Cost: cost(ActionStandardCalibration, 1),
			Precondition: func(s domain.Snapshot) bool {
				return s.Bool(domain.FactToneDetected) && !s.Bool(domain.FactLowConfidence)
			},
			Effect: sets(domain.Delta{domain.FactCalibrated: true}),
		},
		{
			// Costlier than the standard route, so the planner only picks it
			// when standard calibration is unavailable. Also serves as the
			// configured fallback when standard calibration fails outright.
			ID:           ActionSafetyCalibration,
			Cost:         cost(ActionSafetyCalibration, 2),
			Precondition: requires(domain.FactToneDetected),
			Effect: sets(domain.Delta{
				domain.FactCalibrated:          true,
				domain.FactSafetyMarginApplied: true,
			}),
		},
		{
			ID:           ActionSegmentation,
			Cost:         cost(ActionSegmentation, 1),
			Precondition: requires(domain.FactCalibrated),
			Effect:       sets(domain.Delta{domain.FactSegmented: true}),
		},
		{
			ID:           ActionFeatureExtraction,
			Cost:         cost(ActionFeatureExtraction, 1),
			Precondition: requires(domain.FactSegmented),
			Effect:       sets(domain.Delta{domain.FactFeaturesExtracted: true}),
		},
		{
			ID:           ActionLesionClassification,
			Cost:         cost(ActionLesionClassification, 1),
			Precondition: requires(domain.FactFeaturesExtracted),
			Effect:       sets(domain.Delta{domain.FactLesionsClassified: true}),
		},
		{
			ID:           ActionRiskScoring,
			Cost:         cost(ActionRiskScoring, 1),
			Precondition: requires(domain.FactLesionsClassified),
			Effect:       sets(domain.Delta{domain.FactRiskScored: true}),
		},
		{
			ID:           ActionHistoryLookup,
			Cost:         cost(ActionHistoryLookup, 1),
			Precondition: requires(domain.FactRiskScored),
			Effect:       sets(domain.Delta{domain.FactHistoryMatched: true}),
		},
		{
			ID:           ActionTriageRecommendation,
			Cost:         cost(ActionTriageRecommendation, 1),
			Precondition: requires(domain.FactHistoryMatched),
			Effect:       sets(domain.Delta{domain.FactTriageReady: true}),
		},
		{
			ID:           ActionExplanation,
			Cost:         cost(ActionExplanation, 1),
			Precondition: requires(domain.FactTriageReady),
			Effect:       sets(domain.Delta{domain.FactExplained: true}),
		},
		{
			ID:           ActionReportGeneration,
			Cost:         cost(ActionReportGeneration, 1),
			Precondition: requires(domain.FactExplained),
			Effect:       sets(domain.Delta{domain.FactReportGenerated: true}),
		},
		{
			ID:           ActionAnonymization,
			Cost:         cost(ActionAnonymization, 1),
			Precondition: requires(domain.FactReportGenerated),
			Effect:       sets(domain.Delta{domain.FactAnonymized: true}),
		},
		{
			ID:           ActionEncryption,
			Cost:         cost(ActionEncryption, 1),
			Precondition: requires(domain.FactAnonymized),
			Effect:       sets(domain.Delta{domain.FactEncrypted: true}),
		},
		{
			ID:           ActionAuditLogging,
			Cost:         cost(ActionAuditLogging, 1),
			Precondition: requires(domain.FactEncrypted),
			Effect:       sets(domain.Delta{domain.FactAuditLogged: true}),
		},
	}

	c := New()
	for _, d := range descriptors {
		if err := c.Register(d); err != nil {
			return nil, err
		}
	}
	c.Seal()
	return c, nil
}
