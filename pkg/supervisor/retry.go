package supervisor

import "time"

// RetryPolicy configures one provider's reconnect loop (spec section
// 6). In the zero value EnableInitialRetry is false, so the first
// failed connection attempt ends the loop; when retrying, callers
// should set at least InitialRetryDelay and DelayIncrement.
type RetryPolicy struct {
	EnableInitialRetry         bool
	InitialRetryDelay          time.Duration
	DelayIncrement             time.Duration
	MaxDelay                   time.Duration
	MaxAttempts                int // 0 = unlimited
	StopOnAuthenticationFailure bool
}

// nextDelay advances the backoff, capped at MaxDelay.
func (p RetryPolicy) nextDelay(current time.Duration) time.Duration {
	d := current + p.DelayIncrement
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
