package policy

import (
	"time"

	"github.com/voiceid-api/internal/domain"
)

// RequestContext carries the request-level facts a selector may weigh.
// Zero values are safe: an empty context selects the standard policy under
// every selector.
type RequestContext struct {
	UserID          string
	ClientID        string
	RequestedPolicy string
	KnownDevice     bool
	KnownLocation   bool
	RecentFailures  int
	Now             time.Time
}

func (c RequestContext) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// Selector maps a request context to the policy that will judge it.
type Selector interface {
	Select(rctx RequestContext) domain.ThresholdPolicy
}

// DefaultSelector always picks the standard policy.
type DefaultSelector struct{}

func (DefaultSelector) Select(RequestContext) domain.ThresholdPolicy { return Standard() }

// ClientSelector honors a per-client override first, then an explicitly
// requested policy name, and falls back to standard.
type ClientSelector struct {
	Registry  *Registry
	Overrides map[string]string // client_id -> policy name
}

func (s ClientSelector) Select(rctx RequestContext) domain.ThresholdPolicy {
	if name, ok := s.Overrides[rctx.ClientID]; ok {
		if p, err := s.Registry.Get(name); err == nil {
			return p
		}
	}
	if rctx.RequestedPolicy != "" {
		if p, err := s.Registry.Get(rctx.RequestedPolicy); err == nil {
			return p
		}
	}
	return Standard()
}

// Adaptive risk weights. The score is additive and bounded: each signal
// contributes at most its weight, recent failures saturate at
// maxCountedFailures.
const (
	riskNightHours      = 0.25
	riskUnknownDevice   = 0.25
	riskUnknownLocation = 0.20
	riskPerFailure      = 0.06
	maxCountedFailures  = 5
)

// AdaptiveSelector scores the request's risk from contextual signals and
// buckets the score into a policy: high risk gets strict, low risk relaxed.
type AdaptiveSelector struct{}

func (s AdaptiveSelector) Select(rctx RequestContext) domain.ThresholdPolicy {
	score := s.RiskScore(rctx)
	switch {
	case score >= 0.5:
		return Strict()
	case score >= 0.2:
		return Standard()
	default:
		return Relaxed()
	}
}

// RiskScore returns the bounded additive risk score in [0, 1].
func (s AdaptiveSelector) RiskScore(rctx RequestContext) float64 {
	score := 0.0
	if h := rctx.now().Hour(); h < 6 || h >= 22 {
		score += riskNightHours
	}
	if !rctx.KnownDevice {
		score += riskUnknownDevice
	}
	if !rctx.KnownLocation {
		score += riskUnknownLocation
	}
	failures := rctx.RecentFailures
	if failures > maxCountedFailures {
		failures = maxCountedFailures
	}
	score += float64(failures) * riskPerFailure
	if score > 1 {
		score = 1
	}
	return score
}

// TimeBasedSelector tightens the policy outside business hours: weekends and
// off-hours get strict, business hours get standard.
type TimeBasedSelector struct{}

func (TimeBasedSelector) Select(rctx RequestContext) domain.ThresholdPolicy {
	now := rctx.now()
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return Strict()
	}
	if h := now.Hour(); h < 8 || h >= 20 {
		return Strict()
	}
	return Standard()
}
