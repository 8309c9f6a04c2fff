package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dan-strohschein/campfire-go/protocol"
	"github.com/dan-strohschein/campfire-go/transport"
)

// Backend identifies one of the two Campfire servers.
type Backend int

const (
	// BackendRoot is the legacy length-prefixed JSON RPC server.
	BackendRoot Backend = iota
	// BackendMelior is the GraphQL server.
	BackendMelior
)

// String returns the backend name.
func (b Backend) String() string {
	switch b {
	case BackendRoot:
		return "root"
	case BackendMelior:
		return "melior"
	default:
		return "unknown"
	}
}

// backendConn holds the long-lived connection to one backend. With reconnect
// enabled, a connection that became unusable is replaced on the next call.
type backendConn struct {
	backend   Backend
	factory   transport.Factory
	reconnect bool
	logger    Logger

	mu     sync.RWMutex
	tr     transport.Transport
	closed bool

	reconnects atomic.Int64
	// metrics of replaced connections
	retired transport.TransportMetrics
}

func newBackendConn(ctx context.Context, backend Backend, factory transport.Factory, reconnect bool, logger Logger) (*backendConn, error) {
	tr, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debug("backend connected",
		String("backend", backend.String()),
		String("target", tr.Target().String()))

	return &backendConn{
		backend:   backend,
		factory:   factory,
		reconnect: reconnect,
		logger:    logger,
		tr:        tr,
	}, nil
}

// roundTrip sends req on the current connection.
func (b *backendConn) roundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	tr, err := b.transport(ctx)
	if err != nil {
		return nil, err
	}
	return tr.RoundTrip(ctx, req)
}

func (b *backendConn) transport(ctx context.Context) (transport.Transport, error) {
	b.mu.RLock()
	tr, closed := b.tr, b.closed
	b.mu.RUnlock()

	if closed {
		return nil, protocol.ClosedError(tr.Target().Host)
	}
	if tr.IsHealthy() || !b.reconnect {
		// An unhealthy transport reports its own poisoned or closed error.
		return tr, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, protocol.ClosedError(b.tr.Target().Host)
	}
	if b.tr.IsHealthy() {
		return b.tr, nil
	}

	fresh, err := b.factory(ctx)
	if err != nil {
		b.logger.Warn("reconnect failed",
			String("backend", b.backend.String()),
			Error("error", err))
		return nil, err
	}

	old := b.tr
	b.accumulate(old.GetMetrics())
	old.Close()
	b.tr = fresh
	b.reconnects.Add(1)
	b.logger.Info("backend reconnected",
		String("backend", b.backend.String()),
		String("target", fresh.Target().String()))
	return fresh, nil
}

func (b *backendConn) accumulate(m transport.TransportMetrics) {
	b.retired.TotalRequests += m.TotalRequests
	b.retired.TotalErrors += m.TotalErrors
	b.retired.BytesSent += m.BytesSent
	b.retired.BytesReceived += m.BytesReceived
	b.retired.ConnectionsCreated += m.ConnectionsCreated
	b.retired.PoisonedCount += m.PoisonedCount
}

// metrics sums the current connection with every replaced one.
func (b *backendConn) metrics() transport.TransportMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := b.tr.GetMetrics()
	m.TotalRequests += b.retired.TotalRequests
	m.TotalErrors += b.retired.TotalErrors
	m.BytesSent += b.retired.BytesSent
	m.BytesReceived += b.retired.BytesReceived
	m.ConnectionsCreated += b.retired.ConnectionsCreated
	m.PoisonedCount += b.retired.PoisonedCount
	return m
}

func (b *backendConn) healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed && b.tr.IsHealthy()
}

func (b *backendConn) target() transport.Target {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tr.Target()
}

func (b *backendConn) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.tr.Close()
}
