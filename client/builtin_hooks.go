package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ============================================================================
// LoggingHook - Logs call execution details
// ============================================================================

// LoggingHook logs calls with configurable detail levels.
type LoggingHook struct {
	logger       Logger
	logCalls     bool // Log operation names before sending
	logDurations bool // Log execution times
}

// NewLoggingHook creates a new logging hook with the given logger.
func NewLoggingHook(logger Logger, logCalls, logDurations bool) *LoggingHook {
	return &LoggingHook{
		logger:       logger,
		logCalls:     logCalls,
		logDurations: logDurations,
	}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

func (h *LoggingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	if h.logCalls {
		h.logger.Debug("sending call",
			String("operation", hookCtx.Operation),
			String("backend", hookCtx.Backend.String()),
			String("trace_id", hookCtx.TraceID))
	}
	return nil
}

func (h *LoggingHook) After(ctx context.Context, hookCtx *HookContext) error {
	fields := []Field{
		String("operation", hookCtx.Operation),
		String("backend", hookCtx.Backend.String()),
		String("trace_id", hookCtx.TraceID),
	}

	if h.logDurations {
		fields = append(fields, Duration("duration", hookCtx.Duration))
	}

	if hookCtx.Error != nil {
		fields = append(fields, String("kind", ErrorKind(hookCtx.Error)), Error("error", hookCtx.Error))
		h.logger.Error("call failed", fields...)
	} else {
		fields = append(fields, Int("response_bytes", hookCtx.ResponseBytes))
		h.logger.Debug("call completed", fields...)
	}

	return nil
}

// ============================================================================
// MetricsHook - Collects call metrics
// ============================================================================

// MetricsHook collects call metrics using atomic counters.
type MetricsHook struct {
	TotalCalls      atomic.Uint64
	RootCalls       atomic.Uint64
	MeliorCalls     atomic.Uint64
	TotalErrors     atomic.Uint64
	TotalDurationNs atomic.Uint64
	BytesSent       atomic.Uint64
	BytesReceived   atomic.Uint64

	mu           sync.Mutex
	errorsByKind map[string]uint64
}

// NewMetricsHook creates a new metrics collection hook.
func NewMetricsHook() *MetricsHook {
	return &MetricsHook{errorsByKind: make(map[string]uint64)}
}

func (h *MetricsHook) Name() string {
	return "metrics"
}

func (h *MetricsHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *MetricsHook) After(ctx context.Context, hookCtx *HookContext) error {
	h.TotalCalls.Add(1)
	h.TotalDurationNs.Add(uint64(hookCtx.Duration.Nanoseconds()))
	h.BytesSent.Add(uint64(hookCtx.RequestBytes))
	h.BytesReceived.Add(uint64(hookCtx.ResponseBytes))

	switch hookCtx.Backend {
	case BackendRoot:
		h.RootCalls.Add(1)
	case BackendMelior:
		h.MeliorCalls.Add(1)
	}

	if hookCtx.Error != nil {
		h.TotalErrors.Add(1)
		h.mu.Lock()
		h.errorsByKind[ErrorKind(hookCtx.Error)]++
		h.mu.Unlock()
	}

	return nil
}

// ErrorsByKind returns error counts keyed by ErrorKind.
func (h *MetricsHook) ErrorsByKind() map[string]uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]uint64, len(h.errorsByKind))
	for k, v := range h.errorsByKind {
		out[k] = v
	}
	return out
}

// GetStats returns current metrics as a map.
func (h *MetricsHook) GetStats() map[string]interface{} {
	totalCalls := h.TotalCalls.Load()
	totalDur := h.TotalDurationNs.Load()

	avgDuration := int64(0)
	if totalCalls > 0 {
		avgDuration = int64(totalDur / totalCalls)
	}

	return map[string]interface{}{
		"total_calls":       totalCalls,
		"root_calls":        h.RootCalls.Load(),
		"melior_calls":      h.MeliorCalls.Load(),
		"total_errors":      h.TotalErrors.Load(),
		"errors_by_kind":    h.ErrorsByKind(),
		"bytes_sent":        h.BytesSent.Load(),
		"bytes_received":    h.BytesReceived.Load(),
		"total_duration_ns": totalDur,
		"avg_duration_ns":   avgDuration,
		"avg_duration_ms":   float64(avgDuration) / 1_000_000,
	}
}

// Reset clears all metrics.
func (h *MetricsHook) Reset() {
	h.TotalCalls.Store(0)
	h.RootCalls.Store(0)
	h.MeliorCalls.Store(0)
	h.TotalErrors.Store(0)
	h.TotalDurationNs.Store(0)
	h.BytesSent.Store(0)
	h.BytesReceived.Store(0)
	h.mu.Lock()
	h.errorsByKind = make(map[string]uint64)
	h.mu.Unlock()
}

// ErrorKind names the layer an error comes from: "connection", "protocol",
// "status", "root", "graphql", "token", "operation" or "other".
func ErrorKind(err error) string {
	var (
		ce *ConnectionError
		pe *ProtocolError
		se *StatusError
		re *RootError
		ge *GraphQLError
		te *TokenError
		le *LoginError
		ne *ChangeNameError
	)
	switch {
	case errors.As(err, &te):
		return "token"
	case errors.As(err, &le), errors.As(err, &ne):
		return "operation"
	case errors.As(err, &ce):
		return "connection"
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &se):
		return "status"
	case errors.As(err, &re):
		return "root"
	case errors.As(err, &ge):
		return "graphql"
	default:
		return "other"
	}
}
