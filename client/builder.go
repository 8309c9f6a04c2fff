package client

import (
	"context"
	"crypto/tls"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dan-strohschein/campfire-go/protocol"
	"github.com/dan-strohschein/campfire-go/transport"
	"github.com/dan-strohschein/campfire-go/transport/tcp"
)

// Builder configures and connects a Client.
//
//	c, err := client.NewBuilder().
//	    WithBotToken(botToken).
//	    WithCredentials(access, refresh).
//	    Build(ctx)
type Builder struct {
	rootURI   string
	meliorURI string
	botToken  string
	creds     *Credentials
	opts      ClientOptions
	logger    Logger
	factories map[Backend]transport.Factory
	now       func() time.Time
}

// NewBuilder returns a builder for the production endpoints with DefaultOptions.
func NewBuilder() *Builder {
	return &Builder{
		rootURI:   DefaultRootURI,
		meliorURI: DefaultMeliorURI,
		opts:      DefaultOptions(),
		factories: make(map[Backend]transport.Factory),
		now:       time.Now,
	}
}

// WithRootURI overrides the Root base URI, e.g. for a test server.
func (b *Builder) WithRootURI(uri string) *Builder {
	b.rootURI = uri
	return b
}

// WithMeliorURI overrides the Melior endpoint URI.
func (b *Builder) WithMeliorURI(uri string) *Builder {
	b.meliorURI = uri
	return b
}

// WithBotToken sets the bot identifier sent with every request.
func (b *Builder) WithBotToken(token string) *Builder {
	b.botToken = token
	return b
}

// WithCredentials starts the client authenticated. The access token's claims are
// decoded at Build; the pair is rejected if they are malformed or have the wrong
// audience or issuer. An expired access token is accepted and refreshed on first use.
func (b *Builder) WithCredentials(accessToken, refreshToken string) *Builder {
	b.creds = &Credentials{AccessToken: accessToken, RefreshToken: refreshToken}
	return b
}

// WithOptions replaces the client options.
func (b *Builder) WithOptions(opts ClientOptions) *Builder {
	b.opts = opts
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger Logger) *Builder {
	b.logger = logger
	return b
}

// WithTLSConfig sets the TLS configuration for https backends.
func (b *Builder) WithTLSConfig(cfg *tls.Config) *Builder {
	b.opts.TLSConfig = cfg
	return b
}

// WithTransport replaces the connector for one backend. The factory is also used
// to reconnect.
func (b *Builder) WithTransport(backend Backend, factory transport.Factory) *Builder {
	b.factories[backend] = factory
	return b
}

// withClock sets the clock used for token expiry checks.
func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and connects to both backends.
func (b *Builder) Build(ctx context.Context) (*Client, error) {
	opts := b.opts
	logger := b.logger
	if logger == nil {
		logger = opts.Logger
	}
	if logger == nil {
		logger = NewLogger(opts.LogLevel, nil)
	}

	checker := newClaimsChecker(b.now, opts.RefreshSkew)
	if b.creds != nil {
		if _, _, err := checker.check(b.creds.AccessToken); err != nil {
			return nil, err
		}
		if b.creds.RefreshToken == "" {
			return nil, newTokenError(TokenInvalid, "refresh token is required with preset credentials", nil)
		}
	}

	factories, err := b.resolveFactories(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{
		rootCodec: protocol.NewRootEncoder(),
		queries:   protocol.NewQueryCache(),
		stateMgr:  NewStateManager(),
		botToken:  b.botToken,
		opts:      opts,
		logger:    logger,
	}
	if opts.RateLimitCapacity > 0 {
		c.limiter = NewRateLimiter(opts.RateLimitCapacity, opts.RateLimitPerSecond)
	}
	c.debugMode.Store(opts.DebugMode)
	c.tokens = newTokenManager(checker, c.refreshTokens, c.stateMgr, logger)
	c.wireCallbacks()

	if err := c.connect(ctx, factories); err != nil {
		return nil, err
	}
	c.userAgent = buildUserAgent(ctx)

	if b.creds != nil {
		if err := c.tokens.set(b.creds, "preset"); err != nil {
			c.Close()
			return nil, err
		}
	}

	logger.Info("client ready",
		String("root", c.root.target().String()),
		String("melior", c.melior.target().String()),
		Bool("authenticated", c.IsAuthenticated()))
	return c, nil
}

func (b *Builder) resolveFactories(opts ClientOptions) (map[Backend]transport.Factory, error) {
	factories := map[Backend]transport.Factory{
		BackendRoot:   b.factories[BackendRoot],
		BackendMelior: b.factories[BackendMelior],
	}
	if factories[BackendRoot] != nil && factories[BackendMelior] != nil {
		return factories, nil
	}

	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}
	tcpOpts := tcp.TCPTransportOptions{
		DialTimeout: opts.DialTimeout,
		TLSConfig:   tlsConfig,
	}

	uris := map[Backend]string{BackendRoot: b.rootURI, BackendMelior: b.meliorURI}
	for backend, uri := range uris {
		if factories[backend] != nil {
			continue
		}
		target, err := transport.ParseTarget(uri)
		if err != nil {
			return nil, &ConnectionError{
				Code:    "INVALID_URI",
				Type:    ErrorTypeConnection,
				Message: "invalid " + backend.String() + " uri",
				Details: map[string]interface{}{"uri": uri},
				Cause:   err,
			}
		}
		factories[backend] = tcp.NewFactory(target, tcpOpts)
	}
	return factories, nil
}

// connect opens both connections concurrently. If either fails the other is closed.
func (c *Client) connect(ctx context.Context, factories map[Backend]transport.Factory) error {
	g, gctx := errgroup.WithContext(ctx)
	conns := make([]*backendConn, 2)
	for i, backend := range []Backend{BackendRoot, BackendMelior} {
		i, backend := i, backend
		g.Go(func() error {
			conn, err := newBackendConn(gctx, backend, factories[backend], c.opts.ReconnectOnFailure, c.logger)
			if err != nil {
				return newConnectionError(backend, err)
			}
			conns[i] = conn
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, conn := range conns {
			if conn != nil {
				conn.close()
			}
		}
		return err
	}

	c.root, c.melior = conns[0], conns[1]
	return nil
}

func (c *Client) wireCallbacks() {
	opts := c.opts
	if opts.OnLogin == nil && opts.OnLogout == nil && opts.OnRefresh == nil {
		return
	}
	c.stateMgr.OnStateChange(func(tr StateTransition) {
		switch {
		case tr.From == UNAUTHENTICATED && tr.To == AUTHENTICATED:
			if opts.OnLogin != nil {
				opts.OnLogin(tr)
			}
		case tr.To == UNAUTHENTICATED:
			if opts.OnLogout != nil {
				opts.OnLogout(tr)
			}
		case tr.From == REFRESHING && tr.To == AUTHENTICATED && tr.Error == nil:
			if opts.OnRefresh != nil {
				opts.OnRefresh(tr)
			}
		}
	})
}
