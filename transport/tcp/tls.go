package tcp

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"strings"

	"github.com/dan-strohschein/campfire-go/protocol"
)

// buildTLSConfig returns the client TLS configuration. A nil base verifies the
// peer against the system trust store.
func buildTLSConfig(base *tls.Config, serverName string) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{http11}
	}
	return cfg
}

// parseTLSError provides clear error messages for common TLS failures.
func parseTLSError(err error) error {
	if err == nil {
		return nil
	}

	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	var verify *tls.CertificateVerificationError

	switch {
	case errors.As(err, &invalid) && invalid.Reason == x509.Expired:
		return protocol.TLSError("TLS_CERT_EXPIRED", "server certificate has expired", err)
	case errors.As(err, &unknownAuthority):
		return protocol.TLSError("TLS_UNKNOWN_CA", "server certificate signed by unknown authority (try setting a custom CA)", err)
	case errors.As(err, &hostname):
		return protocol.TLSError("TLS_HOSTNAME_MISMATCH", "server certificate hostname doesn't match connection address", err)
	case errors.As(err, &verify):
		return protocol.TLSError("TLS_CERT_UNTRUSTED", "server certificate is not trusted", err)
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "protocol version"):
		return protocol.TLSError("TLS_PROTOCOL_MISMATCH", "no TLS protocol version in common with the server", err)
	case strings.Contains(errStr, "no application protocol"):
		return protocol.TLSError("TLS_ALPN_MISMATCH", "server does not speak http/1.1", err)
	case strings.Contains(errStr, "first record does not look like a TLS handshake"):
		return protocol.TLSError("TLS_NOT_TLS", "server did not answer with a TLS handshake", err)
	default:
		return protocol.TLSError("TLS_HANDSHAKE_FAILED", "TLS handshake failed", err)
	}
}
