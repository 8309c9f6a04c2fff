package tcp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dan-strohschein/campfire-go/protocol"
	"github.com/dan-strohschein/campfire-go/transport"
)

func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Host", r.Host)
	w.Header().Set("X-Path", r.URL.Path)
	w.Header().Set("X-User-Agent", r.UserAgent())
	w.Header().Set("Content-Length", fmt.Sprint(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func mustTarget(t *testing.T, uri string) transport.Target {
	t.Helper()
	target, err := transport.ParseTarget(uri)
	require.NoError(t, err)
	return target
}

func transportCode(t *testing.T, err error) protocol.ErrorCode {
	t.Helper()
	var te *protocol.TransportError
	require.True(t, errors.As(err, &te), "expected *protocol.TransportError, got %T: %v", err, err)
	return te.Code
}

func TestConnect_PlainRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	target := mustTarget(t, srv.URL+"/api")
	conn, err := Connect(context.Background(), target, TCPTransportOptions{})
	require.NoError(t, err)
	defer conn.Close()

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("User-Agent", "campfire-go/test")

	resp, err := conn.RoundTrip(context.Background(), &transport.Request{Header: header, Body: []byte(`{"a":1}`)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"a":1}`, string(resp.Body))
	assert.Equal(t, target.HostHeader(), resp.Header.Get("X-Host"))
	assert.Equal(t, "/api", resp.Header.Get("X-Path"))
	assert.Equal(t, "campfire-go/test", resp.Header.Get("X-User-Agent"))
	assert.True(t, conn.IsHealthy())

	m := conn.GetMetrics()
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(7), m.BytesSent)
	assert.Equal(t, int64(7), m.BytesReceived)
}

func TestConnect_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	target := mustTarget(t, srv.URL)

	t.Run("trusted", func(t *testing.T) {
		roots := x509.NewCertPool()
		roots.AddCert(srv.Certificate())

		conn, err := Connect(context.Background(), target, TCPTransportOptions{
			TLSConfig: &tls.Config{RootCAs: roots},
		})
		require.NoError(t, err)
		defer conn.Close()

		resp, err := conn.RoundTrip(context.Background(), &transport.Request{Body: []byte("{}")})
		require.NoError(t, err)
		assert.Equal(t, "{}", string(resp.Body))
	})

	t.Run("untrusted", func(t *testing.T) {
		_, err := Connect(context.Background(), target, TCPTransportOptions{
			TLSConfig: &tls.Config{RootCAs: x509.NewCertPool()},
		})
		require.Error(t, err)
		assert.Equal(t, protocol.ErrorCodeTLSHandshake, transportCode(t, err))
	})
}

func TestConnect_ALPNMismatch(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(echoHandler))
	srv.TLS = &tls.Config{NextProtos: []string{"h2"}}
	srv.StartTLS()
	defer srv.Close()

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())

	_, err := Connect(context.Background(), mustTarget(t, srv.URL), TCPTransportOptions{
		TLSConfig: &tls.Config{RootCAs: roots, NextProtos: []string{"h2", "http/1.1"}},
	})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorCodeHandshakeFailed, transportCode(t, err))
}

func TestConnect_Refused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = Connect(context.Background(), mustTarget(t, "http://"+addr), TCPTransportOptions{DialTimeout: time.Second})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorCodeConnectionRefused, transportCode(t, err))
}

func TestConnect_DNSFailure(t *testing.T) {
	_, err := Connect(context.Background(), mustTarget(t, "http://campfire.invalid"), TCPTransportOptions{DialTimeout: 2 * time.Second})
	require.Error(t, err)

	code := transportCode(t, err)
	assert.Contains(t, []protocol.ErrorCode{protocol.ErrorCodeDNSFailed, protocol.ErrorCodeTimeout}, code)
}

func TestRoundTrip_CancellationPoisons(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Length", "2")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()
	defer close(release)

	conn, err := Connect(context.Background(), mustTarget(t, srv.URL), TCPTransportOptions{})
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = conn.RoundTrip(ctx, &transport.Request{Body: []byte("{}")})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorCodeTimeout, transportCode(t, err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, conn.IsPoisoned())
	assert.False(t, conn.IsHealthy())

	_, err = conn.RoundTrip(context.Background(), &transport.Request{Body: []byte("{}")})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorCodeConnectionPoisoned, transportCode(t, err))
	assert.Equal(t, int64(1), conn.GetMetrics().PoisonedCount)
}

func TestRoundTrip_ConnectionCloseMarksDead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.Header().Set("Content-Length", "2")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	conn, err := Connect(context.Background(), mustTarget(t, srv.URL), TCPTransportOptions{})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.RoundTrip(context.Background(), &transport.Request{Body: []byte("{}")})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !conn.IsHealthy() }, time.Second, 10*time.Millisecond)

	_, err = conn.RoundTrip(context.Background(), &transport.Request{Body: []byte("{}")})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorCodeConnectionClosed, transportCode(t, err))
}

func TestRoundTrip_TruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		c, buf, err := hj.Hijack()
		if err != nil {
			return
		}
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nshort")
		buf.Flush()
		c.Close()
	}))
	defer srv.Close()

	conn, err := Connect(context.Background(), mustTarget(t, srv.URL), TCPTransportOptions{})
	require.NoError(t, err)
	defer conn.Close()

	resp, err := conn.RoundTrip(context.Background(), &transport.Request{Body: []byte("{}")})
	require.NoError(t, err)
	assert.Equal(t, "short", string(resp.Body))
	assert.Equal(t, "100", resp.Header.Get("Content-Length"))

	_, err = protocol.ReadRootBody(resp.Header, resp.Body)
	assert.True(t, errors.Is(err, protocol.ErrBodyTruncated))

	require.Eventually(t, func() bool { return !conn.IsHealthy() }, time.Second, 10*time.Millisecond)
}

func TestRoundTrip_ConcurrentCallsSerialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	conn, err := Connect(context.Background(), mustTarget(t, srv.URL), TCPTransportOptions{})
	require.NoError(t, err)
	defer conn.Close()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		i := i
		g.Go(func() error {
			body := fmt.Sprintf(`{"n":%d}`, i)
			resp, err := conn.RoundTrip(ctx, &transport.Request{Body: []byte(body)})
			if err != nil {
				return err
			}
			if string(resp.Body) != body {
				return fmt.Errorf("response %q does not match request %q", resp.Body, body)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(20), conn.GetMetrics().TotalRequests)
}

func TestClose_RejectsFurtherRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	factory := NewFactory(mustTarget(t, srv.URL), TCPTransportOptions{})
	tr, err := factory(context.Background())
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err = tr.RoundTrip(context.Background(), &transport.Request{Body: []byte("{}")})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorCodeConnectionClosed, transportCode(t, err))
}
