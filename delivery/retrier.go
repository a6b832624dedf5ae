package delivery

import (
	"math"
	"time"
)

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the endpoint answered 2xx.
	Delivered Decision = iota

	// Retry means the attempt failed and attempts remain.
	Retry

	// Exhausted means the attempt failed and no attempts remain.
	Exhausted
)

// Result holds the outcome of a single HTTP attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// OK reports whether the endpoint answered 2xx.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Message is the status message recorded for the attempt.
func (r Result) Message() string {
	switch {
	case r.OK():
		return "HTTP " + itoa(r.StatusCode)
	case r.Error != "":
		return r.Error
	default:
		body := []rune(r.Response)
		if len(body) > 100 {
			body = body[:100]
		}
		return "HTTP " + itoa(r.StatusCode) + ": " + string(body)
	}
}

// Retrier decides what follows an attempt and how long to wait before the
// next one.
type Retrier struct {
	delay      time.Duration
	multiplier float64
	maxDelay   time.Duration
}

// NewRetrier creates a retrier. A multiplier of 1 or less keeps the delay
// fixed; a maxDelay of 0 leaves growth uncapped.
func NewRetrier(delay time.Duration, multiplier float64, maxDelay time.Duration) *Retrier {
	return &Retrier{delay: delay, multiplier: multiplier, maxDelay: maxDelay}
}

// Decide classifies an attempt. Any non-2xx answer, timeout or transport
// error is retryable while d has attempts left.
func (r *Retrier) Decide(res Result, d *Delivery) Decision {
	if res.OK() {
		return Delivered
	}
	if d.Attempts < d.MaxAttempts {
		return Retry
	}
	return Exhausted
}

// Delay returns the wait before the attempt following attempt number n.
func (r *Retrier) Delay(n int) time.Duration {
	if r.multiplier <= 1 || n <= 1 {
		return r.capped(r.delay)
	}
	grown := float64(r.delay) * math.Pow(r.multiplier, float64(n-1))
	// float64(MaxInt64) rounds up to 2^63, so equality already overflows.
	if grown >= float64(math.MaxInt64) || math.IsNaN(grown) {
		return r.capped(time.Duration(math.MaxInt64))
	}
	return r.capped(time.Duration(grown))
}

func (r *Retrier) capped(d time.Duration) time.Duration {
	if r.maxDelay > 0 && d > r.maxDelay {
		return r.maxDelay
	}
	return d
}
