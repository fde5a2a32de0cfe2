package domain

// BiometricEvidence holds the raw per-round signals produced by the evidence
// provider for one audio sample. SpoofProbability is nil when the provider
// has no anti-spoofing head.
type BiometricEvidence struct {
	Similarity       float64  `json:"similarity" dynamodbav:"similarity"`
	SpoofProbability *float64 `json:"spoof_probability,omitempty" dynamodbav:"spoof_probability,omitempty"`
	PhraseMatchScore float64  `json:"phrase_match_score" dynamodbav:"phrase_match_score"`
	TranscribedText  string   `json:"transcribed_text,omitempty" dynamodbav:"transcribed_text,omitempty"`
}

// RoundResult is one challenge-response exchange inside a session.
type RoundResult struct {
	Round       int               `json:"round" dynamodbav:"round"`
	ChallengeID string            `json:"challenge_id" dynamodbav:"challenge_id"`
	Composite   float64           `json:"composite" dynamodbav:"composite"`
	RoundPass   bool              `json:"round_pass" dynamodbav:"round_pass"`
	Evidence    BiometricEvidence `json:"evidence" dynamodbav:"evidence"`
}
