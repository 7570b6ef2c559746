// Package health implements C9: a stateless function grading a
// providers snapshot against a configurable threshold.
package health

import (
	"fmt"
	"time"
)

// ThresholdKind selects how "healthy" is derived from the per-provider
// connected/not-connected bits (spec section 6).
type ThresholdKind int

const (
	AllProviders ThresholdKind = iota
	MajorityProviders
	AtLeastOneProvider
	MinimumPercentage
)

// Threshold configures the health evaluator's pass/fail rule.
// Percentage is only meaningful when Kind is MinimumPercentage, in
// the range (0,100].
type Threshold struct {
	Kind       ThresholdKind
	Percentage float64
}

// Config bundles the evaluator's tunables.
type Config struct {
	Threshold  Threshold
	MaxEventAge time.Duration
}

// ProviderSnapshot is the read-only view of one provider's state the
// evaluator grades. Callers (normally the Supervisor) build this from
// the live Provider/Session state without exposing either directly.
type ProviderSnapshot struct {
	Title           string
	Address         string
	HasTransport    bool
	Connected       bool
	Authenticated   bool
	StatusText      string
	LastError       error
	LastConnectedAt time.Time
}

// ProviderReport is one provider's entry in the overall Report.
type ProviderReport struct {
	Title           string
	Address         string
	HasTransport    bool
	Connected       bool
	Authenticated   bool
	StatusText      string
	LastError       string
	LastConnectedAt time.Time
}

// Report is the evaluator's structured output.
type Report struct {
	TotalProviders     int
	ConnectedProviders int
	IsHealthy          bool
	Message            string
	Providers          []ProviderReport
	LastEventAt        time.Time
	EvaluatedAt        time.Time
	// Extended carries caller-supplied data merged in verbatim (spec
	// section 4.9); the evaluator never inspects or validates it.
	Extended map[string]interface{}
}

// Evaluate grades providers against cfg. lastEventAt is the most
// recent time any record was observed across all providers, used
// against MaxEventAge when set. now is the evaluation instant, passed
// in rather than read internally so the function stays pure.
func Evaluate(now time.Time, providers []ProviderSnapshot, lastEventAt time.Time, cfg Config, extended map[string]interface{}) Report {
	reports := make([]ProviderReport, len(providers))
	connected := 0
	for i, p := range providers {
		reports[i] = ProviderReport{
			Title:           p.Title,
			Address:         p.Address,
			HasTransport:    p.HasTransport,
			Connected:       p.Connected,
			Authenticated:   p.Authenticated,
			StatusText:      p.StatusText,
			LastConnectedAt: p.LastConnectedAt,
		}
		if p.LastError != nil {
			reports[i].LastError = p.LastError.Error()
		}
		if p.Connected {
			connected++
		}
	}

	healthy := isHealthy(len(providers), connected, cfg.Threshold)

	if healthy && cfg.MaxEventAge > 0 && !lastEventAt.IsZero() {
		if now.Sub(lastEventAt) > cfg.MaxEventAge {
			healthy = false
		}
	}

	return Report{
		TotalProviders:     len(providers),
		ConnectedProviders: connected,
		IsHealthy:          healthy,
		Message:            message(len(providers), connected, healthy),
		Providers:          reports,
		LastEventAt:        lastEventAt,
		EvaluatedAt:        now,
		Extended:           extended,
	}
}

// isHealthy applies the threshold rule. No providers configured is
// always unhealthy, regardless of threshold kind (spec section 4.9).
func isHealthy(total, connected int, th Threshold) bool {
	if total == 0 {
		return false
	}
	switch th.Kind {
	case AllProviders:
		return connected == total
	case MajorityProviders:
		return connected*2 > total
	case AtLeastOneProvider:
		return connected >= 1
	case MinimumPercentage:
		pct := (float64(connected) / float64(total)) * 100
		return pct >= th.Percentage
	default:
		return connected >= 1
	}
}

func message(total, connected int, healthy bool) string {
	if total == 0 {
		return "unhealthy: no providers configured"
	}
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return fmt.Sprintf("%s: %d/%d providers connected", status, connected, total)
}
