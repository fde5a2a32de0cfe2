package policy

import (
	"github.com/voiceid-api/internal/application/fusion"
	"github.com/voiceid-api/internal/domain"
)

// Input is everything an evaluator may weigh for one decided round.
type Input struct {
	Evidence       domain.BiometricEvidence
	Composite      float64
	RecentFailures int
	LatencyMS      int64
}

// Evaluator judges fused evidence against a policy. The returned reason is
// always one of the designed decision reasons; an accept carries ReasonOK.
type Evaluator interface {
	Evaluate(in Input, p domain.ThresholdPolicy) (accept bool, reason string)
}

// StandardEvaluator applies the fixed check precedence: spoofing first, then
// gross phrase correctness, then similarity, then the policy's own phrase
// match bar. The first failed check names the reason.
type StandardEvaluator struct{}

func (StandardEvaluator) Evaluate(in Input, p domain.ThresholdPolicy) (bool, string) {
	ev := in.Evidence
	if ev.SpoofProbability != nil && *ev.SpoofProbability >= p.SpoofThreshold {
		return false, domain.ReasonSpoof
	}
	if ev.PhraseMatchScore < fusion.PhraseOKThreshold {
		return false, domain.ReasonBadPhrase
	}
	if ev.Similarity < p.SimilarityThreshold {
		return false, domain.ReasonLowSimilarity
	}
	if ev.PhraseMatchScore < p.PhraseMatchThreshold {
		return false, domain.ReasonBadPhrase
	}
	return true, domain.ReasonOK
}

// ElevatedRiskEvaluator layers stricter checks on top of a base evaluator.
// It can only tighten: a round the base rejects stays rejected.
type ElevatedRiskEvaluator struct {
	Base Evaluator

	// MaxRecentFailures caps how many recent failed attempts are tolerated
	// before the round is rejected outright.
	MaxRecentFailures int
	// SimilarityMargin is added to the policy's similarity threshold.
	SimilarityMargin float64
	// SpoofMargin is subtracted from the policy's spoof threshold.
	SpoofMargin float64
}

// NewElevatedRiskEvaluator returns the elevated strategy with its default
// margins over the standard checks.
func NewElevatedRiskEvaluator() ElevatedRiskEvaluator {
	return ElevatedRiskEvaluator{
		Base:              StandardEvaluator{},
		MaxRecentFailures: 3,
		SimilarityMargin:  0.03,
		SpoofMargin:       0.1,
	}
}

func (e ElevatedRiskEvaluator) Evaluate(in Input, p domain.ThresholdPolicy) (bool, string) {
	accept, reason := e.Base.Evaluate(in, p)
	if !accept {
		return false, reason
	}
	if in.RecentFailures > e.MaxRecentFailures {
		return false, domain.ReasonError
	}
	if p.MaxLatencyMS > 0 && in.LatencyMS > p.MaxLatencyMS {
		return false, domain.ReasonError
	}
	ev := in.Evidence
	if ev.Similarity < p.SimilarityThreshold+e.SimilarityMargin {
		return false, domain.ReasonLowSimilarity
	}
	if ev.SpoofProbability != nil && *ev.SpoofProbability >= p.SpoofThreshold-e.SpoofMargin {
		return false, domain.ReasonSpoof
	}
	return true, domain.ReasonOK
}
