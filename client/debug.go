package client

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

const maxLoggedBody = 1000

var sensitiveJSONField = regexp.MustCompile(`"(J_API_ACCESS_TOKEN|J_API_BOT_TOKEN|accessToken|refreshToken|password|tfaWaitToken|code)"\s*:\s*"(?:[^"\\]|\\.)*"`)

// EnableDebugMode enables debug mode with raw body logging and stack traces.
func (c *Client) EnableDebugMode() {
	c.debugMode.Store(true)
	c.logger.Info("debug mode enabled")
}

// DisableDebugMode disables debug mode.
func (c *Client) DisableDebugMode() {
	c.debugMode.Store(false)
	c.logger.Info("debug mode disabled")
}

// IsDebugMode returns whether debug mode is currently enabled.
func (c *Client) IsDebugMode() bool {
	return c.debugMode.Load()
}

// GetDebugInfo returns a snapshot of client state for debugging. Tokens are never included.
func (c *Client) GetDebugInfo() map[string]interface{} {
	info := map[string]interface{}{
		"version":       Version,
		"userAgent":     c.userAgent,
		"authState":     c.GetState().String(),
		"debugMode":     c.IsDebugMode(),
		"closed":        c.closed.Load(),
		"refreshCount":  c.RefreshCount(),
		"hooks":         c.GetHooks(),
		"rateLimitFree": c.limiter.Available(),
	}

	if creds := c.Credentials(); creds != nil {
		if claims, err := ParseClaims(creds.AccessToken); err == nil {
			tokenInfo := map[string]interface{}{"subject": claims.Subject}
			if claims.ExpiresAt != nil {
				tokenInfo["expiresAt"] = claims.ExpiresAt.Format("2006-01-02T15:04:05.000Z07:00")
			}
			info["token"] = tokenInfo
		}
	}

	for _, conn := range []*backendConn{c.root, c.melior} {
		m := conn.metrics()
		entry := map[string]interface{}{
			"target":        conn.target().String(),
			"healthy":       conn.healthy(),
			"reconnects":    conn.reconnects.Load(),
			"requests":      m.TotalRequests,
			"errors":        m.TotalErrors,
			"bytesSent":     m.BytesSent,
			"bytesReceived": m.BytesReceived,
			"poisoned":      m.PoisonedCount,
			"avgLatency":    m.AverageLatency.String(),
		}
		if m.LastError != nil {
			entry["lastError"] = m.LastError.Error()
		}
		info[conn.backend.String()] = entry
	}

	info["queryCache"] = func() map[string]interface{} {
		hits, misses := c.queries.Stats()
		return map[string]interface{}{"hits": hits, "misses": misses}
	}()

	info["options"] = map[string]interface{}{
		"dialTimeout":        c.opts.DialTimeout.String(),
		"requestTimeout":     c.opts.RequestTimeout.String(),
		"reconnectOnFailure": c.opts.ReconnectOnFailure,
		"refreshSkew":        c.opts.RefreshSkew.String(),
		"rateLimitCapacity":  c.opts.RateLimitCapacity,
		"rateLimitPerSecond": c.opts.RateLimitPerSecond,
	}

	lastTransition := c.GetLastTransition()
	info["lastTransition"] = map[string]interface{}{
		"state":     lastTransition.To.String(),
		"timestamp": lastTransition.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		"duration":  lastTransition.Duration.String(),
	}

	return info
}

// DumpDebugInfoJSON returns debug info as formatted JSON string.
func (c *Client) DumpDebugInfoJSON() string {
	info := c.GetDebugInfo()
	bytes, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal debug info: %s"}`, err.Error())
	}
	return string(bytes)
}

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs) // Skip captureStackTrace, the error constructor, and runtime.Callers

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()

		frames = append(frames, fmt.Sprintf("%s (%s:%d)",
			frame.Function,
			frame.File,
			frame.Line,
		))

		if !more {
			break
		}
	}

	return frames
}

// logExchange logs a raw body in debug mode. Root bodies are logged without the
// length prefix and attachments.
func (c *Client) logExchange(ctx context.Context, cl *call, direction string, body []byte, token string) {
	if !c.IsDebugMode() {
		return
	}

	fields := []Field{
		String("operation", cl.name),
		String("backend", cl.backend.String()),
		TraceIDField(ctx),
		Int("bodyLength", len(body)),
	}

	text := string(body)
	if cl.backend == BackendRoot && direction == "request" {
		text = rootJSONSegment(body)
		fields = append(fields, Int("attachments", len(cl.attachments)))
	}
	text = redactSecrets(text, token, c.botToken)
	if len(text) > maxLoggedBody {
		fields = append(fields, String("bodyPreview", text[:maxLoggedBody]+"..."))
	} else {
		fields = append(fields, String("body", text))
	}

	c.logger.Debug("raw "+direction, fields...)
}

func rootJSONSegment(body []byte) string {
	if len(body) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(body[:4])
	if uint64(n) > uint64(len(body)-4) {
		return string(body[4:])
	}
	return string(body[4 : 4+n])
}

func redactSecrets(text string, secrets ...string) string {
	text = sensitiveJSONField.ReplaceAllString(text, `"$1":"[REDACTED]"`)
	for _, s := range secrets {
		if s != "" {
			text = strings.ReplaceAll(text, s, "[REDACTED]")
		}
	}
	return text
}
