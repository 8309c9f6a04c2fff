// Package transport defines the transport layer abstraction for the Campfire backends
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Transport sends one HTTP/1.1 request and returns one fully-read response.
// Implementations serialize requests on a single connection.
type Transport interface {
	// RoundTrip writes the request and waits for the complete response
	RoundTrip(ctx context.Context, req *Request) (*Response, error)

	// Close closes the transport connection
	Close() error

	// IsHealthy reports whether the connection can accept further requests
	IsHealthy() bool

	// Target returns the endpoint this transport is bound to
	Target() Target

	// GetMetrics returns transport performance metrics
	GetMetrics() TransportMetrics
}

// Request is a single POST against the transport's target.
type Request struct {
	// Path overrides the target path when non-empty
	Path   string
	Header http.Header
	Body   []byte
}

// Response is a fully-read HTTP response. Body may be shorter than the declared
// Content-Length when the peer closed the stream early.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// IsSuccess reports whether the status is in the 2xx class.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// TransportMetrics contains performance and health metrics
type TransportMetrics struct {
	// TotalRequests is the total number of requests sent
	TotalRequests int64

	// TotalErrors is the total number of errors encountered
	TotalErrors int64

	// AverageLatency is the average round-trip latency
	AverageLatency time.Duration

	// LastError is the most recent error encountered
	LastError error

	// LastErrorTime is when the last error occurred
	LastErrorTime time.Time

	// BytesSent is the total bytes sent
	BytesSent int64

	// BytesReceived is the total bytes received
	BytesReceived int64

	// ConnectionsCreated is the total number of connections created
	ConnectionsCreated int64

	// PoisonedCount is the number of connections abandoned mid-request
	PoisonedCount int64
}

// Factory creates new transport instances
type Factory func(ctx context.Context) (Transport, error)

// Target is a resolved scheme, host and port triple plus the request path.
type Target struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// ParseTarget resolves a base URI such as "https://melior.campfire.moe/graphql".
func ParseTarget(uri string) (Target, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Target{}, fmt.Errorf("invalid uri %q: %w", uri, err)
	}

	scheme := strings.ToLower(u.Scheme)
	var defaultPort int
	switch scheme {
	case "https":
		defaultPort = 443
	case "http":
		defaultPort = 80
	default:
		return Target{}, fmt.Errorf("unsupported scheme %q in %q (expected http or https)", u.Scheme, uri)
	}

	host := u.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("uri %q has no host", uri)
	}

	port := defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Target{}, fmt.Errorf("invalid port %q in %q", p, uri)
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	return Target{Scheme: scheme, Host: host, Port: port, Path: path}, nil
}

// TLS reports whether the target requires a TLS handshake.
func (t Target) TLS() bool {
	return t.Scheme == "https"
}

// Address returns host:port for dialing.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// HostHeader returns the Host header value, omitting the scheme's default port.
func (t Target) HostHeader() string {
	if (t.Scheme == "https" && t.Port == 443) || (t.Scheme == "http" && t.Port == 80) {
		if strings.Contains(t.Host, ":") {
			return "[" + t.Host + "]"
		}
		return t.Host
	}
	return t.Address()
}

// String renders the target back as a URI.
func (t Target) String() string {
	return t.Scheme + "://" + t.HostHeader() + t.Path
}
