package client

import (
	"crypto/tls"
	"time"
)

// Default backend endpoints.
const (
	DefaultRootURI   = "https://root.campfire.moe"
	DefaultMeliorURI = "https://melior.campfire.moe/graphql"
)

// ClientOptions configures the Campfire client behavior.
type ClientOptions struct {
	// DialTimeout bounds connecting and the TLS handshake for each backend.
	// Default: 10s
	DialTimeout time.Duration

	// RequestTimeout bounds a single call when the caller's context has no deadline.
	// Zero disables it.
	// Default: 30s
	RequestTimeout time.Duration

	// DebugMode logs raw request and response bodies, with tokens redacted.
	// Default: false
	DebugMode bool

	// ReconnectOnFailure replaces a poisoned or closed connection on the next call.
	// The call that hit the failure still fails.
	// Default: false
	ReconnectOnFailure bool

	// RefreshSkew refreshes access tokens this long before they expire.
	// Default: 30s
	RefreshSkew time.Duration

	// RateLimitCapacity is the burst size of the request bucket. Zero disables limiting.
	// Default: 10
	RateLimitCapacity int

	// RateLimitPerSecond is the bucket refill rate.
	// Default: 5
	RateLimitPerSecond float64

	// TLSConfig provides custom TLS configuration for https backends.
	TLSConfig *tls.Config

	// TLSInsecureSkipVerify skips certificate validation (for development only).
	// Default: false
	TLSInsecureSkipVerify bool

	// TLSCAFile is the path to a custom CA certificate file.
	TLSCAFile string

	// TLSCertFile is the path to the client certificate file.
	TLSCertFile string

	// TLSKeyFile is the path to the client private key file.
	TLSKeyFile string

	// Logger is the logger implementation to use.
	// If nil, a default logger is used.
	Logger Logger

	// LogLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR).
	// Default: "INFO"
	LogLevel string

	// OnLogin is called after credentials are installed.
	OnLogin func(StateTransition)

	// OnLogout is called after credentials are cleared, including by a failed refresh.
	OnLogout func(StateTransition)

	// OnRefresh is called after an access token was refreshed.
	OnRefresh func(StateTransition)
}

// DefaultOptions returns ClientOptions with default values.
func DefaultOptions() ClientOptions {
	return ClientOptions{
		DialTimeout:           10 * time.Second,
		RequestTimeout:        30 * time.Second,
		DebugMode:             false,
		ReconnectOnFailure:    false,
		RefreshSkew:           30 * time.Second,
		RateLimitCapacity:     10,
		RateLimitPerSecond:    5,
		TLSInsecureSkipVerify: false,
		LogLevel:              "INFO",
	}
}
