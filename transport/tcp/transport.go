package tcp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/campfire-go/protocol"
	"github.com/dan-strohschein/campfire-go/transport"
)

// ALPN protocol accepted from the server. An empty negotiation is treated as HTTP/1.1.
const http11 = "http/1.1"

// TCPTransportOptions configures the TCP transport
type TCPTransportOptions struct {
	// DialTimeout bounds the TCP connect and TLS handshake when ctx has no deadline
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive period
	KeepAlive time.Duration

	// TLSConfig overrides the default TLS configuration (system roots, ALPN http/1.1)
	TLSConfig *tls.Config
}

// TCPTransport implements transport.Transport over one HTTP/1.1 connection.
// A background goroutine owns the connection and serves requests one at a time.
type TCPTransport struct {
	target  transport.Target
	conn    net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	metrics transportMetrics

	calls   chan *call
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	alive     bool
	poisoned  bool
	cause     error
}

// transportMetrics tracks transport performance
type transportMetrics struct {
	totalRequests atomic.Int64
	totalErrors   atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	poisoned      atomic.Int64
	lastError     error
	lastErrorTime time.Time
	latencySum    atomic.Int64 // nanoseconds
	mu            sync.RWMutex
}

type call struct {
	req    *transport.Request
	result chan result
}

type result struct {
	resp *transport.Response
	err  error
}

// NewFactory returns a transport.Factory that dials target with opts on every call.
func NewFactory(target transport.Target, opts TCPTransportOptions) transport.Factory {
	return func(ctx context.Context) (transport.Transport, error) {
		return Connect(ctx, target, opts)
	}
}

// Connect dials target, performs the TLS handshake for https targets and starts
// the connection's I/O goroutine. It never retries.
func Connect(ctx context.Context, target transport.Target, opts TCPTransportOptions) (*TCPTransport, error) {
	if target.Host == "" || target.Port == 0 {
		return nil, protocol.ConnectionError("target host and port are required", map[string]interface{}{
			"target": target.String(),
		}, nil)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 30 * time.Second
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 30 * time.Second
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{KeepAlive: opts.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		return nil, classifyDialError(target, err)
	}

	if target.TLS() {
		tlsConn := tls.Client(conn, buildTLSConfig(opts.TLSConfig, target.Host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			tlsConn.Close()
			return nil, parseTLSError(err)
		}

		if proto := tlsConn.ConnectionState().NegotiatedProtocol; proto != "" && proto != http11 {
			tlsConn.Close()
			return nil, protocol.HandshakeError("server negotiated an unsupported application protocol", map[string]interface{}{
				"negotiated": proto,
				"expected":   http11,
			})
		}
		conn = tlsConn
	}

	t := &TCPTransport{
		target:  target,
		conn:    conn,
		br:      bufio.NewReader(conn),
		bw:      bufio.NewWriter(conn),
		calls:   make(chan *call),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		alive:   true,
	}
	go t.loop()
	return t, nil
}

// RoundTrip implements transport.Transport
func (t *TCPTransport) RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	start := time.Now()
	t.metrics.totalRequests.Add(1)

	if err := t.unusable(); err != nil {
		t.recordError(err)
		return nil, err
	}

	c := &call{req: req, result: make(chan result, 1)}

	select {
	case t.calls <- c:
	case <-t.done:
		err := t.unusable()
		if err == nil {
			err = protocol.ClosedError(t.target.Host)
		}
		t.recordError(err)
		return nil, err
	case <-ctx.Done():
		// Nothing was written yet, the connection stays usable.
		err := protocol.TimeoutError("request cancelled before it was sent", map[string]interface{}{
			"host": t.target.Host,
		}, ctx.Err())
		t.recordError(err)
		return nil, err
	}

	select {
	case r := <-c.result:
		if r.err != nil {
			t.recordError(r.err)
			return nil, r.err
		}
		t.metrics.latencySum.Add(int64(time.Since(start)))
		return r.resp, nil
	case <-ctx.Done():
		// The exchange may be half-written or half-read; the stream position is unknown.
		t.poison(ctx.Err())
		err := protocol.TimeoutError("request cancelled mid-exchange, connection poisoned", map[string]interface{}{
			"host": t.target.Host,
		}, ctx.Err())
		t.recordError(err)
		return nil, err
	}
}

// Close implements transport.Transport
func (t *TCPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.alive = false
		t.mu.Unlock()

		close(t.closing)
		err = t.conn.Close()
		<-t.done
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// IsHealthy implements transport.Transport
func (t *TCPTransport) IsHealthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive && !t.poisoned
}

// IsPoisoned reports whether a caller abandoned a request mid-exchange.
func (t *TCPTransport) IsPoisoned() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.poisoned
}

// Target implements transport.Transport
func (t *TCPTransport) Target() transport.Target {
	return t.target
}

// GetMetrics implements transport.Transport
func (t *TCPTransport) GetMetrics() transport.TransportMetrics {
	t.metrics.mu.RLock()
	lastErr := t.metrics.lastError
	lastErrTime := t.metrics.lastErrorTime
	t.metrics.mu.RUnlock()

	totalReqs := t.metrics.totalRequests.Load()
	avgLatency := time.Duration(0)
	if ok := totalReqs - t.metrics.totalErrors.Load(); ok > 0 {
		avgLatency = time.Duration(t.metrics.latencySum.Load() / ok)
	}

	return transport.TransportMetrics{
		TotalRequests:      totalReqs,
		TotalErrors:        t.metrics.totalErrors.Load(),
		AverageLatency:     avgLatency,
		LastError:          lastErr,
		LastErrorTime:      lastErrTime,
		BytesSent:          t.metrics.bytesSent.Load(),
		BytesReceived:      t.metrics.bytesReceived.Load(),
		ConnectionsCreated: 1,
		PoisonedCount:      t.metrics.poisoned.Load(),
	}
}

// loop owns the connection and serves calls strictly in order.
func (t *TCPTransport) loop() {
	defer close(t.done)

	for {
		select {
		case <-t.closing:
			return
		case c := <-t.calls:
			resp, keep, err := t.exchange(c.req)
			c.result <- result{resp: resp, err: err}
			if !keep {
				t.markDead(err)
				t.conn.Close()
				return
			}
		}
	}
}

// exchange writes one request and reads one response. keep is false when the
// connection cannot carry another request.
func (t *TCPTransport) exchange(req *transport.Request) (*transport.Response, bool, error) {
	path := req.Path
	if path == "" {
		path = t.target.Path
	}

	u, err := url.ParseRequestURI(path)
	if err != nil {
		return nil, true, protocol.WriteError(fmt.Errorf("invalid request path %q: %w", path, err))
	}

	httpReq := &http.Request{
		Method:        http.MethodPost,
		URL:           u,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Host:          t.target.HostHeader(),
		Header:        req.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(req.Body)),
		ContentLength: int64(len(req.Body)),
	}
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}

	if err := httpReq.Write(t.bw); err != nil {
		return nil, false, t.wrapIOError(protocol.WriteError(err))
	}
	if err := t.bw.Flush(); err != nil {
		return nil, false, t.wrapIOError(protocol.WriteError(err))
	}
	t.metrics.bytesSent.Add(int64(len(req.Body)))

	httpResp, err := http.ReadResponse(t.br, httpReq)
	if err != nil {
		return nil, false, t.wrapIOError(protocol.ReadError(err))
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	keep := !httpResp.Close
	if err != nil {
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false, t.wrapIOError(protocol.ReadError(err))
		}
		// Short body: hand back what arrived, the codec reports the truncation.
		keep = false
	}
	t.metrics.bytesReceived.Add(int64(len(body)))

	return &transport.Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       body,
	}, keep, nil
}

// wrapIOError reports I/O failures caused by poisoning as such.
func (t *TCPTransport) wrapIOError(err *protocol.TransportError) error {
	t.mu.RLock()
	poisoned := t.poisoned
	t.mu.RUnlock()
	if poisoned {
		return protocol.PoisonedError(t.target.Host, err)
	}
	return err
}

// poison closes the socket so the I/O goroutine unblocks; the connection is never reused.
func (t *TCPTransport) poison(cause error) {
	t.mu.Lock()
	already := t.poisoned
	t.poisoned = true
	t.alive = false
	if t.cause == nil {
		t.cause = cause
	}
	t.mu.Unlock()

	if !already {
		t.metrics.poisoned.Add(1)
	}
	t.conn.Close()
}

// markDead marks the connection as dead
func (t *TCPTransport) markDead(cause error) {
	t.mu.Lock()
	t.alive = false
	if t.cause == nil {
		t.cause = cause
	}
	t.mu.Unlock()
}

// unusable returns the error for a request on a dead or poisoned connection.
func (t *TCPTransport) unusable() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch {
	case t.poisoned:
		return protocol.PoisonedError(t.target.Host, t.cause)
	case !t.alive:
		return protocol.ClosedError(t.target.Host)
	default:
		return nil
	}
}

// recordError records an error in metrics
func (t *TCPTransport) recordError(err error) {
	t.metrics.totalErrors.Add(1)
	t.metrics.mu.Lock()
	t.metrics.lastError = err
	t.metrics.lastErrorTime = time.Now()
	t.metrics.mu.Unlock()
}

// classifyDialError maps dial failures onto transport error codes.
func classifyDialError(target transport.Target, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return protocol.DNSError(target.Host, err)
	}

	details := map[string]interface{}{
		"address": target.Address(),
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return protocol.TimeoutError(fmt.Sprintf("connect to %s timed out", target.Address()), details, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return protocol.TimeoutError(fmt.Sprintf("connect to %s timed out", target.Address()), details, err)
	}
	return protocol.ConnectionError(fmt.Sprintf("failed to connect to %s", target.Address()), details, err)
}
