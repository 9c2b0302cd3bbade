// Package utils provides shared helpers for the proxy.
package utils

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// FormatDuration formats a millisecond duration as "1h23m45s", "5m30s" or "45s".
func FormatDuration(ms int64) string {
	seconds := ms / 1000
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, secs)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

// Sleep pauses for ms milliseconds or until the context is cancelled.
// Returns the context error when interrupted.
func Sleep(ctx context.Context, ms int64) error {
	if ms <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateJitter returns symmetric random jitter in (-maxJitterMs/2, +maxJitterMs/2).
// Spreads retries out so concurrent dispatches do not stampede the upstream.
func GenerateJitter(maxJitterMs int64) int64 {
	if maxJitterMs <= 0 {
		return 0
	}
	return int64(rand.Float64()*float64(maxJitterMs)) - maxJitterMs/2
}

// GenerateJitterPositive returns jitter in [0, maxJitterMs).
func GenerateJitterPositive(maxJitterMs int64) int64 {
	if maxJitterMs <= 0 {
		return 0
	}
	return int64(rand.Float64() * float64(maxJitterMs))
}

// IsNetworkError reports whether an error looks like a transient network failure.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "fetch failed") ||
		strings.Contains(msg, "network error") ||
		strings.Contains(msg, "econnreset") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "etimedout") ||
		strings.Contains(msg, "socket hang up") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout")
}

// Min returns the smaller of two int64 values
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of two int64 values
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// MaxInt returns the larger of two int values
func MaxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// MinInt returns the smaller of two int values
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// NowMs returns the current wall clock in milliseconds since epoch
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// ContainsAny reports whether s contains any of the given substrings
func ContainsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// TruncateString truncates a string to maxLen characters
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// MaskEmail masks an email address for logs (e.g. "j***@example.com")
func MaskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***"
	}
	local := parts[0]
	if len(local) <= 1 {
		return local + "***@" + parts[1]
	}
	return string(local[0]) + "***@" + parts[1]
}

// Ptr returns a pointer to the value
func Ptr[T any](v T) *T {
	return &v
}
