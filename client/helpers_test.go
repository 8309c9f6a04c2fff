package client

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/campfire-go/protocol"
	"github.com/dan-strohschein/campfire-go/transport"
	"github.com/dan-strohschein/campfire-go/transport/mock"
)

const testBotToken = "bot-token-123"

var meliorOperation = regexp.MustCompile(`^\s*(query|mutation)\s+(\w+)`)

// newTestClient builds a client over two mock transports with rate limiting off.
func newTestClient(t *testing.T, configure ...func(*Builder)) (*Client, *mock.MockTransport, *mock.MockTransport) {
	t.Helper()

	root := mock.NewMockTransport().WithTarget(transport.Target{Scheme: "https", Host: "root.test", Port: 443, Path: "/"})
	melior := mock.NewMockTransport().WithTarget(transport.Target{Scheme: "https", Host: "melior.test", Port: 443, Path: "/graphql"})

	opts := DefaultOptions()
	opts.RateLimitCapacity = 0
	opts.Logger = NewNoopLogger()

	b := NewBuilder().
		WithBotToken(testBotToken).
		WithOptions(opts).
		WithTransport(BackendRoot, root.Factory()).
		WithTransport(BackendMelior, melior.Factory())
	for _, fn := range configure {
		fn(b)
	}

	c, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, root, melior
}

func rootOK(t testing.TB, payload interface{}) []byte {
	t.Helper()
	body, err := protocol.EncodeRootResponse(protocol.RootStatusOK, payload)
	require.NoError(t, err)
	return body
}

func rootErr(t testing.TB, raw map[string]interface{}) []byte {
	t.Helper()
	body, err := protocol.EncodeRootResponse(protocol.RootStatusError, raw)
	require.NoError(t, err)
	return body
}

func meliorData(t testing.TB, data interface{}) []byte {
	t.Helper()
	body, err := protocol.EncodeMeliorResponse(data, nil)
	require.NoError(t, err)
	return body
}

func meliorErrors(t testing.TB, messages ...string) []byte {
	t.Helper()
	errs := make([]protocol.GraphQLRawError, len(messages))
	for i, m := range messages {
		errs[i] = protocol.GraphQLRawError{Message: m}
	}
	body, err := protocol.EncodeMeliorResponse(nil, errs)
	require.NoError(t, err)
	return body
}

// jsonResponse builds a 200 response with Content-Length set.
func jsonResponse(body []byte) *transport.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", itoa(len(body)))
	return &transport.Response{StatusCode: http.StatusOK, Status: "200 OK", Header: header, Body: body}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// operationOf returns the operation name of a Melior request body.
func operationOf(t testing.TB, req *transport.Request) string {
	t.Helper()
	mr, err := protocol.DecodeMeliorRequest(req.Body)
	require.NoError(t, err)
	if m := meliorOperation.FindStringSubmatch(mr.Query); m != nil {
		return m[2]
	}
	return ""
}
