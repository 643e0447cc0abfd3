package transport

import (
	"math"
	"time"
)

// ReconnectStrategy defines the reconnection backoff behavior
type ReconnectStrategy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultReconnectStrategy returns the default reconnection strategy.
// Retries are unbounded: a session with a bad credential stays in
// reconnecting until the credential changes or the server is removed.
func DefaultReconnectStrategy() *ReconnectStrategy {
	return &ReconnectStrategy{
		InitialDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// NextDelay calculates the delay for the next retry attempt
func (rs *ReconnectStrategy) NextDelay(attemptCount int) time.Duration {
	delay := float64(rs.InitialDelay) * math.Pow(rs.BackoffFactor, float64(attemptCount))
	if delay > float64(rs.MaxDelay) {
		return rs.MaxDelay
	}
	return time.Duration(delay)
}
