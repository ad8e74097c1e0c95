package domain

// Boolean stage flags. Each one marks a pipeline stage as completed.
const (
	FactConsentVerified     Fact = "consent_verified"
	FactImageVerified       Fact = "image_verified"
	FactQualityAssessed     Fact = "quality_assessed"
	FactToneDetected        Fact = "tone_detected"
	FactCalibrated          Fact = "calibrated"
	FactSafetyMarginApplied Fact = "safety_margin_applied"
	FactSegmented           Fact = "segmented"
	FactFeaturesExtracted   Fact = "features_extracted"
	FactLesionsClassified   Fact = "lesions_classified"
	FactRiskScored          Fact = "risk_scored"
	FactHistoryMatched      Fact = "history_matched"
	FactTriageReady         Fact = "triage_ready"
	FactExplained           Fact = "explained"
	FactReportGenerated     Fact = "report_generated"
	FactAnonymized          Fact = "anonymized"
	FactEncrypted           Fact = "encrypted"
	FactAuditLogged         Fact = "audit_logged"
)

// Scalar and enum measurement facts.
const (
	FactConfidenceScore Fact = "confidence_score" // 0..1
	FactLowConfidence   Fact = "low_confidence"
	FactFitzpatrickType Fact = "fitzpatrick_type" // I..VI or ""
	FactRiskLevel       Fact = "risk_level"       // low, medium, high or ""
)

// Fitzpatrick skin phototype values.
const (
	FitzpatrickI   = "I"
	FitzpatrickII  = "II"
	FitzpatrickIII = "III"
	FitzpatrickIV  = "IV"
	FitzpatrickV   = "V"
	FitzpatrickVI  = "VI"
)

// DefaultStartState returns the fixed-shape fact vector for a fresh analysis:
// every stage flag false, measurements unset.
func DefaultStartState() Snapshot {
	return NewSnapshot(map[Fact]any{
		FactConsentVerified:     false,
		FactImageVerified:       false,
		FactQualityAssessed:     false,
		FactToneDetected:        false,
		FactCalibrated:          false,
		FactSafetyMarginApplied: false,
		FactSegmented:           false,
		FactFeaturesExtracted:   false,
		FactLesionsClassified:   false,
		FactRiskScored:          false,
		FactHistoryMatched:      false,
		FactTriageReady:         false,
		FactExplained:           false,
		FactReportGenerated:     false,
		FactAnonymized:          false,
		FactEncrypted:           false,
		FactAuditLogged:         false,
		FactConfidenceScore:     0.0,
		FactLowConfidence:       false,
		FactFitzpatrickType:     "",
		FactRiskLevel:           "",
	})
}

// DefaultGoal is the standard analysis goal: the audit trail has been written,
// which transitively requires the whole pipeline.
func DefaultGoal() Goal {
	return Goal{FactAuditLogged: true}
}
