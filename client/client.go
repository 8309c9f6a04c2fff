package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dan-strohschein/campfire-go/protocol"
	"github.com/dan-strohschein/campfire-go/transport"
)

// Client talks to both Campfire backends. It holds one connection per backend and
// the current credential pair, and is safe for concurrent use.
type Client struct {
	root      *backendConn
	melior    *backendConn
	rootCodec *protocol.RootEncoder
	queries   *protocol.QueryCache
	tokens    *tokenManager
	stateMgr  *StateManager
	limiter   *RateLimiter
	botToken  string
	userAgent string
	opts      ClientOptions
	logger    Logger
	debugMode atomic.Bool
	closed    atomic.Bool
	hooks     []hookEntry  // Registered hooks in execution order
	hooksMu   sync.RWMutex // Protects hooks slice
}

// call is one outbound request before framing.
type call struct {
	backend Backend
	name    string

	// Root
	payload     interface{}
	attachments []protocol.Attachment

	// Melior
	query     string
	variables interface{}

	out  interface{}
	spec Specializer

	// anonymous calls carry no access token and never trigger a refresh.
	anonymous bool
	// internal calls are made by the client itself, under the credential lock,
	// and skip user hooks.
	internal bool
}

// SendRequest calls the Root operation name with payload flattened into the request
// object and attachments appended in order. The success payload is decoded into out
// unless out is nil. Server errors go through spec first, then the Root taxonomy.
func (c *Client) SendRequest(ctx context.Context, name string, payload interface{}, attachments []protocol.Attachment, out interface{}, spec Specializer) error {
	return c.do(ctx, &call{
		backend:     BackendRoot,
		name:        name,
		payload:     payload,
		attachments: attachments,
		out:         out,
		spec:        spec,
	})
}

// SendQuery runs a Melior query or mutation. name labels the call in hooks and logs.
func (c *Client) SendQuery(ctx context.Context, name, query string, variables interface{}, out interface{}, spec Specializer) error {
	return c.do(ctx, &call{
		backend:   BackendMelior,
		name:      name,
		query:     query,
		variables: variables,
		out:       out,
		spec:      spec,
	})
}

// Request is SendRequest with a typed response.
func Request[Resp any](ctx context.Context, c *Client, name string, payload interface{}, attachments []protocol.Attachment, spec Specializer) (*Resp, error) {
	var resp Resp
	if err := c.SendRequest(ctx, name, payload, attachments, &resp, spec); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Query is SendQuery with a typed response.
func Query[Resp any](ctx context.Context, c *Client, name, query string, variables interface{}, spec Specializer) (*Resp, error) {
	var resp Resp
	if err := c.SendQuery(ctx, name, query, variables, &resp, spec); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, cl *call) (err error) {
	if c.closed.Load() {
		return newConnectionError(cl.backend, protocol.ClosedError(c.conn(cl.backend).target().Host))
	}

	if _, ok := ctx.Deadline(); !ok && c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	traceID := uuid.New().String()
	ctx = withTraceID(ctx, traceID)

	hookCtx := &HookContext{
		Operation: cl.name,
		Backend:   cl.backend,
		StartTime: start,
		Metadata:  make(map[string]interface{}),
		TraceID:   traceID,
	}
	if !cl.internal {
		if err := c.executeBeforeHooks(ctx, hookCtx); err != nil {
			return err
		}
		defer func() {
			hookCtx.Error = err
			hookCtx.Duration = time.Since(start)
			if hookErr := c.executeAfterHooks(ctx, hookCtx); hookErr != nil {
				if err == nil {
					err = hookErr
				} else {
					// The typed error stays reachable through errors.As.
					err = errors.Join(hookErr, err)
				}
			}
		}()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return newConnectionError(cl.backend, protocol.TimeoutError("rate limit wait was cancelled", nil, err))
	}

	var token string
	if !cl.anonymous {
		token, err = c.tokens.ValidToken(ctx)
		if err != nil {
			return err
		}
	}
	hookCtx.Authenticated = token != ""

	req, err := c.encode(cl, token)
	if err != nil {
		return err
	}
	hookCtx.RequestBytes = len(req.Body)
	c.logExchange(ctx, cl, "request", req.Body, token)

	resp, err := c.conn(cl.backend).roundTrip(ctx, req)
	if err != nil {
		c.logger.Error("call failed",
			String("operation", cl.name),
			String("backend", cl.backend.String()),
			TraceIDField(ctx),
			Error("error", err))
		return newConnectionError(cl.backend, err)
	}
	hookCtx.ResponseBytes = len(resp.Body)
	c.logExchange(ctx, cl, "response", resp.Body, token)

	if !resp.IsSuccess() {
		return newStatusError(cl.backend, resp.StatusCode, resp.Status, resp.Body)
	}

	if cl.backend == BackendRoot {
		return c.decodeRoot(cl, resp)
	}
	return c.decodeMelior(cl, resp)
}

func (c *Client) conn(b Backend) *backendConn {
	if b == BackendRoot {
		return c.root
	}
	return c.melior
}

func (c *Client) encode(cl *call, token string) (*transport.Request, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("User-Agent", c.userAgent)

	var body []byte
	var err error
	switch cl.backend {
	case BackendRoot:
		body, err = c.rootCodec.Encode(&protocol.RootRequest{
			Name:        cl.name,
			Payload:     cl.payload,
			Attachments: cl.attachments,
			AccessToken: token,
			BotToken:    c.botToken,
		})
	default:
		body, err = c.queries.Encode(cl.query, cl.variables)
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		if c.botToken != "" {
			header.Set("X-Bot-Token", c.botToken)
		}
	}
	if err != nil {
		return nil, newProtocolError(CodeEncodeFailed, "failed to encode request", map[string]interface{}{
			"operation": cl.name,
			"backend":   cl.backend.String(),
		}, err)
	}

	return &transport.Request{Header: header, Body: body}, nil
}

func (c *Client) decodeRoot(cl *call, resp *transport.Response) error {
	env, err := protocol.DecodeRootResponse(resp.Header, resp.Body)
	if err != nil {
		return decodeError(cl.name, err)
	}

	if !env.OK() {
		raw, err := env.RawError()
		if err != nil {
			return decodeError(cl.name, err)
		}
		return mapServerError(RawError{Source: BackendRoot, Root: raw}, cl.spec)
	}

	if cl.out == nil {
		return nil
	}
	if err := env.Unmarshal(cl.out); err != nil {
		return decodeError(cl.name, err)
	}
	return nil
}

func (c *Client) decodeMelior(cl *call, resp *transport.Response) error {
	env, err := protocol.DecodeMeliorResponse(resp.Body)
	if err != nil {
		return decodeError(cl.name, err)
	}

	if env.HasErrors() {
		return mapServerError(RawError{Source: BackendMelior, GraphQL: env.Errors}, cl.spec)
	}

	if cl.out == nil {
		return nil
	}
	if err := env.Unmarshal(cl.out); err != nil {
		return decodeError(cl.name, err)
	}
	return nil
}

// Close closes both backend connections. Calls made afterwards fail with a
// connection error.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.logger.Info("closing client")

	var g errgroup.Group
	g.Go(c.root.close)
	g.Go(c.melior.close)
	return g.Wait()
}

// IsAuthenticated reports whether credentials are held.
func (c *Client) IsAuthenticated() bool {
	return c.tokens.authenticated()
}

// Credentials returns the held pair, or nil. Callers that persist credentials
// should store both tokens.
func (c *Client) Credentials() *Credentials {
	return c.tokens.current()
}

// GetState returns the current auth state.
func (c *Client) GetState() AuthState {
	return c.stateMgr.GetState()
}

// GetLastTransition returns the most recent auth state transition.
func (c *Client) GetLastTransition() StateTransition {
	return c.stateMgr.GetLastTransition()
}

// OnStateChange registers a handler to be called on auth state transitions.
func (c *Client) OnStateChange(handler StateChangeHandler) {
	c.stateMgr.OnStateChange(handler)
}

// RefreshCount returns how many refresh exchanges were sent.
func (c *Client) RefreshCount() int64 {
	return c.tokens.refreshCount.Load()
}

// Metrics returns transport metrics per backend.
func (c *Client) Metrics() map[Backend]transport.TransportMetrics {
	return map[Backend]transport.TransportMetrics{
		BackendRoot:   c.root.metrics(),
		BackendMelior: c.melior.metrics(),
	}
}

// UserAgent returns the User-Agent header sent with every request.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// GetVersion returns the build version of the client.
func (c *Client) GetVersion() string {
	return Version
}

// SetLogLevel replaces the default logger with one at the given level. Custom
// loggers are left alone.
func (c *Client) SetLogLevel(level string) {
	if c.opts.Logger != nil {
		return
	}
	c.opts.LogLevel = level
	c.logger = NewLogger(level, nil)
}
