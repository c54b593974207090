package socket

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls the reconnect schedule after unexpected closes.
type BackoffConfig struct {
	BaseDelay    time.Duration `json:"baseDelay"`
	MaxDelay     time.Duration `json:"maxDelay"`
	MaxAttempts  int           `json:"maxAttempts"`
	JitterFactor float64       `json:"jitterFactor"`
}

// DefaultBackoffConfig returns the reconnect policy used when none is configured.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  8,
		JitterFactor: 0.1,
	}
}

// ReconnectDelay computes the wait before reconnect attempt n (zero-based):
// base * 2^n plus additive jitter, capped at MaxDelay. Jitter is strictly
// additive so the schedule is monotonically non-decreasing until the cap.
func ReconnectDelay(attempt int, cfg BackoffConfig) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	delay += delay * cfg.JitterFactor * rand.Float64()
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
