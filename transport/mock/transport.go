package mock

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/campfire-go/protocol"
	"github.com/dan-strohschein/campfire-go/transport"
)

// Handler computes the response for one request.
type Handler func(req *transport.Request) (*transport.Response, error)

// MockTransport implements transport.Transport for testing
type MockTransport struct {
	// Behavior configuration
	target    transport.Target
	handler   Handler
	responses []*transport.Response
	err       error
	healthy   bool
	delay     time.Duration

	// Call tracking
	roundTripCalls atomic.Int32
	closeCalls     atomic.Int32

	// Metrics
	metrics  mockMetrics
	mu       sync.RWMutex
	closed   bool
	poisoned bool
	history  []*transport.Request
}

type mockMetrics struct {
	totalRequests atomic.Int64
	totalErrors   atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	poisoned      atomic.Int64
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		target:  transport.Target{Scheme: "http", Host: "mock", Port: 80, Path: "/"},
		healthy: true,
		history: make([]*transport.Request, 0),
	}
}

// WithTarget sets the target reported by Target
func (m *MockTransport) WithTarget(target transport.Target) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = target
	return m
}

// WithHandler computes every response with fn. Queued responses take precedence.
func (m *MockTransport) WithHandler(fn Handler) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return m
}

// WithResponse queues a response with the given status and body. Content-Length is set
// to the body length.
func (m *MockTransport) WithResponse(status int, body []byte) *MockTransport {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return m.WithRawResponse(&transport.Response{
		StatusCode: status,
		Status:     strconv.Itoa(status) + " " + http.StatusText(status),
		Header:     header,
		Body:       body,
	})
}

// WithRawResponse queues a response exactly as given
func (m *MockTransport) WithRawResponse(resp *transport.Response) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m
}

// WithError configures the transport to fail every RoundTrip
func (m *MockTransport) WithError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithHealthy configures the health status
func (m *MockTransport) WithHealthy(healthy bool) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
	return m
}

// WithDelay adds a delay to RoundTrip. A caller cancelling during the delay poisons the transport.
func (m *MockTransport) WithDelay(delay time.Duration) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
	return m
}

// RoundTrip implements transport.Transport
func (m *MockTransport) RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	m.roundTripCalls.Add(1)
	m.metrics.totalRequests.Add(1)

	m.mu.Lock()
	if m.poisoned {
		m.mu.Unlock()
		m.metrics.totalErrors.Add(1)
		return nil, protocol.PoisonedError(m.target.Host, nil)
	}
	if m.closed {
		m.mu.Unlock()
		m.metrics.totalErrors.Add(1)
		return nil, protocol.ClosedError(m.target.Host)
	}

	delay := m.delay
	rtErr := m.err
	handler := m.handler
	var queued *transport.Response
	if len(m.responses) > 0 {
		queued = m.responses[0]
		m.responses = m.responses[1:]
	}
	m.history = append(m.history, req)
	m.mu.Unlock()

	m.metrics.bytesSent.Add(int64(len(req.Body)))

	if delay > 0 {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.poisoned = true
			m.mu.Unlock()
			m.metrics.poisoned.Add(1)
			m.metrics.totalErrors.Add(1)
			return nil, protocol.TimeoutError("request cancelled mid-exchange, connection poisoned", nil, ctx.Err())
		case <-time.After(delay):
		}
	}

	if rtErr != nil {
		m.metrics.totalErrors.Add(1)
		return nil, rtErr
	}

	var resp *transport.Response
	var err error
	switch {
	case queued != nil:
		resp = queued
	case handler != nil:
		resp, err = handler(req)
	default:
		err = protocol.ReadError(errNoResponse)
	}
	if err != nil {
		m.metrics.totalErrors.Add(1)
		return nil, err
	}

	m.metrics.bytesReceived.Add(int64(len(resp.Body)))
	return resp, nil
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errNoResponse = mockError("mock transport has no response configured")

// Close implements transport.Transport
func (m *MockTransport) Close() error {
	m.closeCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsHealthy implements transport.Transport
func (m *MockTransport) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy && !m.closed && !m.poisoned
}

// Target implements transport.Transport
func (m *MockTransport) Target() transport.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.target
}

// GetMetrics implements transport.Transport
func (m *MockTransport) GetMetrics() transport.TransportMetrics {
	return transport.TransportMetrics{
		TotalRequests:      m.metrics.totalRequests.Load(),
		TotalErrors:        m.metrics.totalErrors.Load(),
		BytesSent:          m.metrics.bytesSent.Load(),
		BytesReceived:      m.metrics.bytesReceived.Load(),
		ConnectionsCreated: 1,
		PoisonedCount:      m.metrics.poisoned.Load(),
	}
}

// GetRoundTripCallCount returns the number of times RoundTrip was called
func (m *MockTransport) GetRoundTripCallCount() int {
	return int(m.roundTripCalls.Load())
}

// GetCloseCallCount returns the number of times Close was called
func (m *MockTransport) GetCloseCallCount() int {
	return int(m.closeCalls.Load())
}

// GetHistory returns all requests sent through this transport
func (m *MockTransport) GetHistory() []*transport.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to prevent external modifications
	history := make([]*transport.Request, len(m.history))
	copy(history, m.history)
	return history
}

// Factory returns a transport.Factory that always hands out m.
func (m *MockTransport) Factory() transport.Factory {
	return func(ctx context.Context) (transport.Transport, error) {
		return m, nil
	}
}

// IsClosed returns whether the transport has been closed
func (m *MockTransport) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
