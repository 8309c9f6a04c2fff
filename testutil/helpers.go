package testutil

import (
	"context"
	"testing"
	"time"
)

// WithTimeout creates a context with timeout for tests.
// Default timeout is 10 seconds.
func WithTimeout(t testing.TB, timeout ...time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	duration := 10 * time.Second
	if len(timeout) > 0 {
		duration = timeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	t.Cleanup(cancel)

	return ctx, cancel
}

// WaitFor polls condition until it returns true or timeout elapses.
func WaitFor(t testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return condition()
}

// Eventually fails the test if condition does not become true within timeout.
func Eventually(t testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()
	if !WaitFor(t, timeout, interval, condition) {
		t.Errorf("condition not met within %s", timeout)
		return false
	}
	return true
}

// SkipIf skips the test if condition is true.
func SkipIf(t testing.TB, condition bool, reason string) {
	t.Helper()
	if condition {
		t.Skip(reason)
	}
}

// SkipUnless skips the test unless condition is true.
func SkipUnless(t testing.TB, condition bool, reason string) {
	t.Helper()
	if !condition {
		t.Skip(reason)
	}
}
