// Package policy holds the named threshold bundles, the strategies that pick
// one for a request, and the evaluators that turn fused evidence into an
// accept/reject with a reason.
package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/voiceid-api/internal/domain"
)

// Canonical policies. Values are fixed; callers get copies.

func Strict() domain.ThresholdPolicy {
	return domain.ThresholdPolicy{
		Name:                 domain.PolicyStrict,
		SimilarityThreshold:  0.90,
		SpoofThreshold:       0.4,
		PhraseMatchThreshold: 0.85,
		MaxLatencyMS:         3000,
		RiskLevel:            domain.RiskHigh,
	}
}

func Standard() domain.ThresholdPolicy {
	return domain.ThresholdPolicy{
		Name:                 domain.PolicyStandard,
		SimilarityThreshold:  0.85,
		SpoofThreshold:       0.4,
		PhraseMatchThreshold: 0.80,
		MaxLatencyMS:         5000,
		RiskLevel:            domain.RiskMedium,
	}
}

func Relaxed() domain.ThresholdPolicy {
	return domain.ThresholdPolicy{
		Name:                 domain.PolicyRelaxed,
		SimilarityThreshold:  0.75,
		SpoofThreshold:       0.5,
		PhraseMatchThreshold: 0.70,
		MaxLatencyMS:         8000,
		RiskLevel:            domain.RiskLow,
	}
}

// Registry is a name-keyed set of policies, seeded with the canonical three.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]domain.ThresholdPolicy
}

func NewRegistry() *Registry {
	r := &Registry{policies: make(map[string]domain.ThresholdPolicy)}
	for _, p := range []domain.ThresholdPolicy{Strict(), Standard(), Relaxed()} {
		r.policies[p.Name] = p
	}
	return r
}

func (r *Registry) Get(name string) (domain.ThresholdPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return domain.ThresholdPolicy{}, fmt.Errorf("policy %q: %w", name, domain.ErrNotFound)
	}
	return p, nil
}

// Register adds or replaces a named policy.
func (r *Registry) Register(p domain.ThresholdPolicy) error {
	if p.Name == "" {
		return fmt.Errorf("policy name required: %w", domain.ErrBadRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Name] = p
	return nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.policies))
	for n := range r.policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
