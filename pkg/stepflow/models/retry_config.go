package models

import "time"

// RetryConfig spaces out redeliveries of a failing scheduler job.
type RetryConfig struct {
	MaxRetryCount    int
	RetryIntervalMin time.Duration
	RetryIntervalMax time.Duration
}

// DefaultRetryConfig retries up to max times between one second and five minutes apart.
func DefaultRetryConfig(max int) RetryConfig {
	return RetryConfig{MaxRetryCount: max, RetryIntervalMin: time.Second, RetryIntervalMax: 5 * time.Minute}
}

// SlidingInterval returns a retry interval between min and max based on the current retry attempt.
func (rc *RetryConfig) SlidingInterval(retryNum int) time.Duration {
	if retryNum <= 0 || rc.MaxRetryCount <= 0 {
		return rc.RetryIntervalMin
	}
	if retryNum >= rc.MaxRetryCount {
		return rc.RetryIntervalMax
	}
	scale := float64(retryNum) / float64(rc.MaxRetryCount)
	return rc.RetryIntervalMin + time.Duration(scale*float64(rc.RetryIntervalMax-rc.RetryIntervalMin))
}

// Exhausted reports whether retryNum attempts have used up the budget.
func (rc *RetryConfig) Exhausted(retryNum int) bool {
	return retryNum >= rc.MaxRetryCount
}
