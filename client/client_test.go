package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/campfire-go/protocol"
	"github.com/dan-strohschein/campfire-go/testutil"
	"github.com/dan-strohschein/campfire-go/transport"
	"github.com/dan-strohschein/campfire-go/transport/mock"
)

func TestSendRequest_Anonymous(t *testing.T) {
	c, root, _ := newTestClient(t)
	root.WithHandler(func(req *transport.Request) (*transport.Response, error) {
		return jsonResponse(rootOK(t, map[string]interface{}{"fandomId": 12, "title": "Cats"})), nil
	})

	type fandom struct {
		FandomID int64  `json:"fandomId"`
		Title    string `json:"title"`
	}
	resp, err := Request[fandom](context.Background(), c, "RFandomsGet", map[string]interface{}{"fandomId": 12}, nil, NoSpecialization)
	require.NoError(t, err)
	assert.Equal(t, fandom{FandomID: 12, Title: "Cats"}, *resp)

	history := root.GetHistory()
	require.Len(t, history, 1)
	req := history[0]
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, c.UserAgent(), req.Header.Get("User-Agent"))
	assert.Empty(t, req.Header.Get("Authorization"))

	decoded, err := protocol.DecodeRootRequest(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "RFandomsGet", decoded.Name)
	assert.Equal(t, testBotToken, decoded.BotToken)
	assert.Empty(t, decoded.AccessToken)
	assert.Equal(t, protocol.RootAPIVersion, decoded.APIVersion)
	assert.JSONEq(t, "12", string(decoded.Fields["fandomId"]))
	assert.Empty(t, decoded.DataOutput)
}

func TestSendRequest_Attachments(t *testing.T) {
	c, root, _ := newTestClient(t)
	root.WithResponse(http.StatusOK, rootOK(t, nil))

	image := bytes.Repeat([]byte{0xAB}, 10)
	err := c.SendRequest(context.Background(), "RPostPublish", map[string]interface{}{"text": "hi"},
		[]protocol.Attachment{image, nil, {}}, nil, NoSpecialization)
	require.NoError(t, err)

	decoded, err := protocol.DecodeRootRequest(root.GetHistory()[0].Body)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, protocol.NoAttachment, 0}, decoded.DataOutput)
	assert.Equal(t, image, []byte(decoded.Attachments[0]))
	assert.Nil(t, decoded.Attachments[1])
	assert.Empty(t, decoded.Attachments[2])
}

func TestSendRequest_RootError(t *testing.T) {
	c, root, _ := newTestClient(t)
	root.WithResponse(http.StatusOK, rootErr(t, map[string]interface{}{
		"code":   RootCodeUnavailable,
		"params": []string{"REMOVED"},
	}))

	err := c.SendRequest(context.Background(), "RPostGet", nil, nil, nil, NoSpecialization)

	var re *RootError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, RootUnavailable, re.Kind)
	assert.Equal(t, UnavailableRemoved, re.Reason)
	assert.Equal(t, "root", ErrorKind(err))
}

func TestSendRequest_ContentLength(t *testing.T) {
	body := rootOK(t, map[string]interface{}{})

	tests := []struct {
		name   string
		length string
		body   []byte
		code   string
	}{
		{"missing", "", body, CodeContentLengthMissing},
		{"invalid", "lots", body, CodeContentLengthInvalid},
		{"truncated", "9999", body, CodeBodyTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, root, _ := newTestClient(t)
			header := http.Header{}
			if tt.length != "" {
				header.Set("Content-Length", tt.length)
			}
			root.WithRawResponse(&transport.Response{StatusCode: http.StatusOK, Status: "200 OK", Header: header, Body: tt.body})

			err := c.SendRequest(context.Background(), "RAccountsGet", nil, nil, nil, NoSpecialization)

			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.code, pe.Code)
		})
	}
}

func TestSendRequest_ContentLengthTrimsTrailingBytes(t *testing.T) {
	c, root, _ := newTestClient(t)
	body := rootOK(t, map[string]interface{}{"n": 1})
	resp := jsonResponse(append(append([]byte{}, body...), "garbage"...))
	resp.Header.Set("Content-Length", itoa(len(body)))
	root.WithRawResponse(resp)

	var out struct{ N int }
	require.NoError(t, c.SendRequest(context.Background(), "RX", nil, nil, &out, nil))
	assert.Equal(t, 1, out.N)
}

func TestSend_NonSuccessStatus(t *testing.T) {
	c, root, melior := newTestClient(t)
	// A valid envelope does not rescue a non-2xx response.
	root.WithResponse(http.StatusBadGateway, rootOK(t, map[string]interface{}{}))
	melior.WithResponse(http.StatusUnauthorized, meliorData(t, map[string]interface{}{"me": nil}))

	err := c.SendRequest(context.Background(), "RAccountsGet", nil, nil, nil, NoSpecialization)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, BackendRoot, se.Backend)
	assert.Equal(t, "HTTP_502", se.Code)

	err = c.SendQuery(context.Background(), "Me", meQuery, nil, nil, NoSpecialization)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, BackendMelior, se.Backend)
	assert.Equal(t, "status", ErrorKind(err))
}

func TestStatusError_BodyIsCapped(t *testing.T) {
	se := newStatusError(BackendRoot, 500, "500 Internal Server Error", bytes.Repeat([]byte("x"), 2000))
	assert.Len(t, se.Body, maxStatusBody)
}

func TestSendQuery_ErrorsWinOverData(t *testing.T) {
	c, _, melior := newTestClient(t)
	melior.WithHandler(func(req *transport.Request) (*transport.Response, error) {
		body, err := protocol.EncodeMeliorResponse(
			map[string]interface{}{"post": map[string]interface{}{"id": "1"}},
			[]protocol.GraphQLRawError{{Message: "AccessDenied: private post"}},
		)
		require.NoError(t, err)
		return jsonResponse(body), nil
	})

	var out struct{ Post struct{ ID string } }
	err := c.SendQuery(context.Background(), "Post", "query Post { post { id } }", nil, &out, NoSpecialization)

	var ge *GraphQLError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ReasonAccessDenied, ge.Reason)
	assert.Empty(t, out.Post.ID)
}

func TestSendQuery_NeitherDataNorErrors(t *testing.T) {
	c, _, melior := newTestClient(t)
	melior.WithResponse(http.StatusOK, []byte(`{"data":null}`))

	err := c.SendQuery(context.Background(), "Me", meQuery, nil, nil, NoSpecialization)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeDecodeFailed, pe.Code)
}

func TestSendQuery_Headers(t *testing.T) {
	c, _, melior := newTestClient(t)
	melior.WithResponse(http.StatusOK, meliorData(t, map[string]interface{}{"ok": true}))

	vars := map[string]interface{}{"id": "5"}
	require.NoError(t, c.SendQuery(context.Background(), "Post", "query Post($id: ID!) { post(id: $id) { id } }", vars, nil, NoSpecialization))

	req := melior.GetHistory()[0]
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, testBotToken, req.Header.Get("X-Bot-Token"))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.True(t, strings.HasPrefix(req.Header.Get("User-Agent"), "campfire-go/"))

	decoded, err := protocol.DecodeMeliorRequest(req.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"5"}`, string(decoded.Variables))
	assert.Equal(t, "Post", operationOf(t, req))
}

func TestSend_Authenticated(t *testing.T) {
	access, refresh := testutil.TokenPair(t, "7")
	c, root, melior := newTestClient(t, func(b *Builder) { b.WithCredentials(access, refresh) })
	root.WithResponse(http.StatusOK, rootOK(t, nil))
	melior.WithResponse(http.StatusOK, meliorData(t, map[string]interface{}{"ok": true}))

	require.Equal(t, AUTHENTICATED, c.GetState())
	require.NoError(t, c.SendRequest(context.Background(), "RX", nil, nil, nil, nil))
	require.NoError(t, c.SendQuery(context.Background(), "X", "query X { ok }", nil, nil, nil))

	decoded, err := protocol.DecodeRootRequest(root.GetHistory()[0].Body)
	require.NoError(t, err)
	assert.Equal(t, access, decoded.AccessToken)
	assert.Equal(t, "Bearer "+access, melior.GetHistory()[0].Header.Get("Authorization"))
}

func TestSend_RefreshesExpiredToken(t *testing.T) {
	clock := newFakeClock()
	access := testutil.AccessToken(t, "7", clock.Now().Add(time.Minute))
	var refreshed string

	c, root, melior := newTestClient(t, func(b *Builder) {
		b.withClock(clock.Now).WithCredentials(access, "refresh-1")
	})
	melior.WithHandler(func(req *transport.Request) (*transport.Response, error) {
		switch operationOf(t, req) {
		case "RefreshToken":
			assert.Empty(t, req.Header.Get("Authorization"), "refresh must be anonymous")
			var vars struct{ RefreshToken string }
			decoded, _ := protocol.DecodeMeliorRequest(req.Body)
			require.NoError(t, json.Unmarshal(decoded.Variables, &vars))
			assert.Equal(t, "refresh-1", vars.RefreshToken)

			refreshed = testutil.AccessToken(t, "7", clock.Now().Add(time.Hour))
			return jsonResponse(meliorData(t, map[string]interface{}{
				"refreshToken": map[string]string{"accessToken": refreshed, "refreshToken": "refresh-2"},
			})), nil
		default:
			return nil, errors.New("unexpected operation")
		}
	})
	root.WithResponse(http.StatusOK, rootOK(t, nil))

	var refreshes []StateTransition
	c.OnStateChange(func(tr StateTransition) { refreshes = append(refreshes, tr) })

	clock.Advance(5 * time.Minute)
	require.NoError(t, c.SendRequest(context.Background(), "RX", nil, nil, nil, nil))

	decoded, err := protocol.DecodeRootRequest(root.GetHistory()[0].Body)
	require.NoError(t, err)
	assert.Equal(t, refreshed, decoded.AccessToken)
	assert.Equal(t, "refresh-2", c.Credentials().RefreshToken)
	assert.Equal(t, int64(1), c.RefreshCount())
	require.Len(t, refreshes, 2)
	assert.Equal(t, REFRESHING, refreshes[0].To)
	assert.Equal(t, AUTHENTICATED, refreshes[1].To)
}

func TestSend_ClosedClient(t *testing.T) {
	c, root, melior := newTestClient(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.SendRequest(context.Background(), "RX", nil, nil, nil, nil)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "CONNECTION_CLOSED", ce.Code)

	assert.Zero(t, root.GetRoundTripCallCount())
	assert.Equal(t, 1, root.GetCloseCallCount())
	assert.Equal(t, 1, melior.GetCloseCallCount())
}

func TestSend_TransportFailure(t *testing.T) {
	c, root, _ := newTestClient(t)
	root.WithError(protocol.ReadError(errors.New("connection reset by peer")))

	err := c.SendRequest(context.Background(), "RX", nil, nil, nil, nil)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, BackendRoot.String(), ce.Details["backend"])
	assert.Equal(t, "connection", ErrorKind(err))
}

func TestSend_CancelPoisonsAndReconnects(t *testing.T) {
	poisoned := mock.NewMockTransport().WithDelay(time.Second)
	fresh := mock.NewMockTransport().WithResponse(http.StatusOK, rootOK(t, nil))
	transports := []*mock.MockTransport{poisoned, fresh}
	factory := func(ctx context.Context) (transport.Transport, error) {
		tr := transports[0]
		transports = transports[1:]
		return tr, nil
	}

	c, _, _ := newTestClient(t, func(b *Builder) {
		b.opts.ReconnectOnFailure = true
		b.WithTransport(BackendRoot, factory)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.SendRequest(ctx, "RSlow", nil, nil, nil, nil)
	require.Error(t, err)
	assert.False(t, poisoned.IsHealthy())

	require.NoError(t, c.SendRequest(context.Background(), "RX", nil, nil, nil, nil))
	assert.Equal(t, 1, poisoned.GetCloseCallCount())
	assert.Equal(t, 1, fresh.GetRoundTripCallCount())
	assert.Equal(t, int64(1), c.root.reconnects.Load())
}

func TestSend_RequestTimeout(t *testing.T) {
	c, root, _ := newTestClient(t, func(b *Builder) { b.opts.RequestTimeout = 20 * time.Millisecond })
	root.WithDelay(time.Second)

	start := time.Now()
	err := c.SendRequest(context.Background(), "RSlow", nil, nil, nil, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSend_RateLimited(t *testing.T) {
	c, root, _ := newTestClient(t, func(b *Builder) {
		b.opts.RateLimitCapacity = 1
		b.opts.RateLimitPerSecond = 0.001
	})
	root.WithHandler(func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(rootOK(t, nil)), nil
	})

	require.NoError(t, c.SendRequest(context.Background(), "RX", nil, nil, nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.SendRequest(ctx, "RX", nil, nil, nil, nil)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, root.GetRoundTripCallCount())
}

func TestSend_DebugLogRedactsSecrets(t *testing.T) {
	access, refresh := testutil.TokenPair(t, "7")
	var buf bytes.Buffer
	c, root, melior := newTestClient(t, func(b *Builder) {
		b.WithLogger(NewLogger("DEBUG", &buf)).WithCredentials(access, refresh)
	})
	c.EnableDebugMode()
	root.WithResponse(http.StatusOK, rootOK(t, map[string]interface{}{"ok": true}))
	melior.WithResponse(http.StatusOK, meliorData(t, map[string]interface{}{"ok": true}))

	require.NoError(t, c.SendRequest(context.Background(), "RX", map[string]interface{}{"password": "hunter2"}, nil, nil, nil))
	require.NoError(t, c.SendQuery(context.Background(), "X", "query X { ok }", nil, nil, nil))

	logged := buf.String()
	assert.Contains(t, logged, "raw request")
	assert.Contains(t, logged, "raw response")
	assert.Contains(t, logged, "[REDACTED]")
	assert.NotContains(t, logged, access)
	assert.NotContains(t, logged, testBotToken)
	assert.NotContains(t, logged, "hunter2")
}

func TestSend_NoBodyLoggingOutsideDebugMode(t *testing.T) {
	var buf bytes.Buffer
	c, root, _ := newTestClient(t, func(b *Builder) { b.WithLogger(NewLogger("DEBUG", &buf)) })
	root.WithResponse(http.StatusOK, rootOK(t, nil))

	require.NoError(t, c.SendRequest(context.Background(), "RX", nil, nil, nil, nil))
	assert.NotContains(t, buf.String(), "raw request")
}

func TestClient_Metrics(t *testing.T) {
	c, root, _ := newTestClient(t)
	root.WithHandler(func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(rootOK(t, nil)), nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.SendRequest(context.Background(), "RX", nil, nil, nil, nil))
	}

	m := c.Metrics()
	assert.Equal(t, int64(3), m[BackendRoot].TotalRequests)
	assert.Zero(t, m[BackendMelior].TotalRequests)
	assert.Positive(t, m[BackendRoot].BytesSent)
}

func TestClient_QueryCacheReused(t *testing.T) {
	c, _, melior := newTestClient(t)
	melior.WithHandler(func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(meliorData(t, map[string]interface{}{"ok": true})), nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.SendQuery(context.Background(), "X", "query X { ok }", nil, nil, nil))
	}
	hits, misses := c.queries.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}
