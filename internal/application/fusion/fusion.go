// Package fusion turns the raw per-round signals from the evidence provider
// into a single composite score and the per-round pass/fail gate.
package fusion

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/voiceid-api/internal/domain"
)

// Composite weights. They must sum to 1.
const (
	weightSimilarity = 0.6
	weightLiveness   = 0.2
	weightPhrase     = 0.2
)

// PhraseOKThreshold is the minimum normalized edit similarity for the spoken
// phrase to count as correct.
const PhraseOKThreshold = 0.7

// neutralLiveness is the liveness term used in the composite when the
// provider reports no spoof probability. The gate treats a missing score as
// live, but the composite stays neutral rather than rewarding the absence of
// a signal.
const neutralLiveness = 0.5

// Fuser fuses biometric evidence under a fixed anti-spoofing threshold.
type Fuser struct {
	antiSpoofThreshold float64
}

func NewFuser(antiSpoofThreshold float64) *Fuser {
	return &Fuser{antiSpoofThreshold: antiSpoofThreshold}
}

// BuildEvidence assembles BiometricEvidence from a computed similarity and
// the provider's analysis. When a transcript is available the phrase match
// is recomputed here as a normalized edit-similarity ratio; otherwise the
// provider's own score is taken as-is.
func (f *Fuser) BuildEvidence(similarity float64, spoof *float64, providerMatch float64, transcribed, expected string) domain.BiometricEvidence {
	ev := domain.BiometricEvidence{
		Similarity:       clamp01(similarity),
		SpoofProbability: spoof,
		TranscribedText:  transcribed,
	}
	if transcribed != "" && expected != "" {
		ev.PhraseMatchScore = PhraseMatch(expected, transcribed)
	} else {
		ev.PhraseMatchScore = clamp01(providerMatch)
	}
	return ev
}

// IsLive reports whether the evidence passes the liveness gate. A missing
// spoof probability is treated as live.
func (f *Fuser) IsLive(ev domain.BiometricEvidence) bool {
	return ev.SpoofProbability == nil || *ev.SpoofProbability < f.antiSpoofThreshold
}

// PhraseOK reports whether the spoken phrase matched well enough to count
// as correct at all, independent of any policy threshold.
func (f *Fuser) PhraseOK(ev domain.BiometricEvidence) bool {
	return ev.PhraseMatchScore >= PhraseOKThreshold
}

// Composite fuses the evidence into one score in [0, 1]:
// 0.6·similarity + 0.2·liveness + 0.2·phrase_match, where liveness is
// (1 − spoof_probability) or a neutral 0.5 when no probability was reported.
func (f *Fuser) Composite(ev domain.BiometricEvidence) float64 {
	liveness := neutralLiveness
	if ev.SpoofProbability != nil {
		liveness = 1 - clamp01(*ev.SpoofProbability)
	}
	return weightSimilarity*ev.Similarity + weightLiveness*liveness + weightPhrase*ev.PhraseMatchScore
}

// RoundPass is the single-phrase round gate: similarity over the policy
// threshold, live, and phrase correct. Multi-phrase rounds skip this gate
// entirely and defer to the session-level composite average.
func (f *Fuser) RoundPass(ev domain.BiometricEvidence, similarityThreshold float64) bool {
	return ev.Similarity >= similarityThreshold && f.IsLive(ev) && f.PhraseOK(ev)
}

// PhraseMatch returns the normalized edit similarity of the expected and
// transcribed phrases after normalization: 1 − distance/maxLen, in [0, 1].
func PhraseMatch(expected, transcribed string) float64 {
	a := NormalizeText(expected)
	b := NormalizeText(transcribed)
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	return clamp01(1 - float64(dist)/float64(maxLen))
}

// NormalizeText lowercases, strips punctuation and collapses whitespace so
// transcription artifacts don't dominate the edit distance.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
