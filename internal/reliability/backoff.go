package reliability

import "time"

// IsRetryableHTTPStatus reports whether a status means the server is
// overloaded or flaky rather than rejecting the request.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff doubles base per attempt up to cap.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// BackoffPolicy decides how long a reconnect loop waits and whether it may
// try again. The zero MaxAttempts means retry forever.
type BackoffPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	Exponential bool
	MaxAttempts int
}

func FixedBackoff(interval time.Duration) BackoffPolicy {
	return BackoffPolicy{Base: interval, Cap: interval}
}

// Delay returns the wait before retry number attempt (0-based consecutive
// failures).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if !p.Exponential || p.Cap <= p.Base {
		return p.Base
	}
	return ExponentialBackoff(attempt, p.Base, p.Cap)
}

// Allow reports whether another attempt is permitted after failures
// consecutive failures.
func (p BackoffPolicy) Allow(failures int) bool {
	return p.MaxAttempts <= 0 || failures < p.MaxAttempts
}
