package domain

// Risk levels carried by threshold policies.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Canonical policy names.
const (
	PolicyStrict   = "strict"
	PolicyStandard = "standard"
	PolicyRelaxed  = "relaxed"
)

// ThresholdPolicy is an immutable named bundle of decision thresholds.
// Copies are passed by value; nothing mutates a policy after construction.
type ThresholdPolicy struct {
	Name                 string  `json:"name"`
	SimilarityThreshold  float64 `json:"similarity_threshold"`
	SpoofThreshold       float64 `json:"spoof_threshold"`
	PhraseMatchThreshold float64 `json:"phrase_match_threshold"`
	MaxLatencyMS         int64   `json:"max_latency_ms"`
	RiskLevel            string  `json:"risk_level"`
}

// Decision reasons. The first four are designed outcomes of a decided
// attempt; the last two terminate an attempt on protocol or collaborator
// failure.
const (
	ReasonOK               = "OK"
	ReasonLowSimilarity    = "LOW_SIMILARITY"
	ReasonSpoof            = "SPOOF"
	ReasonBadPhrase        = "BAD_PHRASE"
	ReasonExpiredChallenge = "EXPIRED_CHALLENGE"
	ReasonError            = "ERROR"
)
