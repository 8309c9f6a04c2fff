package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents standardized error codes across transport layers
type ErrorCode int

const (
	// Connection errors (1000-1099)
	ErrorCodeConnectionRefused  ErrorCode = 1001
	ErrorCodeTimeout            ErrorCode = 1002
	ErrorCodeDNSFailed          ErrorCode = 1003
	ErrorCodeProtocolMismatch   ErrorCode = 1004
	ErrorCodeTLSHandshake       ErrorCode = 1005
	ErrorCodeHandshakeFailed    ErrorCode = 1006
	ErrorCodeConnectionPoisoned ErrorCode = 1007
	ErrorCodeConnectionClosed   ErrorCode = 1008

	// Exchange errors (2000-2099)
	ErrorCodeWriteFailed ErrorCode = 2001
	ErrorCodeReadFailed  ErrorCode = 2002
)

// String returns a short name for the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeConnectionRefused:
		return "CONNECTION_REFUSED"
	case ErrorCodeTimeout:
		return "TIMEOUT"
	case ErrorCodeDNSFailed:
		return "DNS_FAILED"
	case ErrorCodeProtocolMismatch:
		return "PROTOCOL_MISMATCH"
	case ErrorCodeTLSHandshake:
		return "TLS_HANDSHAKE_FAILED"
	case ErrorCodeHandshakeFailed:
		return "HTTP_HANDSHAKE_FAILED"
	case ErrorCodeConnectionPoisoned:
		return "CONNECTION_POISONED"
	case ErrorCodeConnectionClosed:
		return "CONNECTION_CLOSED"
	case ErrorCodeWriteFailed:
		return "WRITE_FAILED"
	case ErrorCodeReadFailed:
		return "READ_FAILED"
	default:
		return "UNKNOWN"
	}
}

// TransportError represents an error with structured error code
type TransportError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	IsRetryable bool                   `json:"isRetryable"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("[%d] %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		detailsJSON, _ := json.Marshal(e.Details)
		msg = fmt.Sprintf("%s (details: %s)", msg, string(detailsJSON))
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying network or TLS error.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a new transport error
func NewTransportError(code ErrorCode, message string, details map[string]interface{}, cause error) *TransportError {
	return &TransportError{
		Code:        code,
		Message:     message,
		Details:     details,
		IsRetryable: isRetryable(code),
		Cause:       cause,
	}
}

// isRetryable reports whether a caller may reasonably retry. The library itself never does.
func isRetryable(code ErrorCode) bool {
	switch code {
	case ErrorCodeTimeout,
		ErrorCodeConnectionPoisoned,
		ErrorCodeConnectionClosed:
		return true
	default:
		return false
	}
}

// ConnectionError creates a connection-related transport error
func ConnectionError(message string, details map[string]interface{}, cause error) *TransportError {
	return NewTransportError(ErrorCodeConnectionRefused, message, details, cause)
}

// DNSError creates a name resolution transport error
func DNSError(host string, cause error) *TransportError {
	return NewTransportError(ErrorCodeDNSFailed, "failed to resolve host", map[string]interface{}{
		"host": host,
	}, cause)
}

// TimeoutError creates a timeout transport error
func TimeoutError(message string, details map[string]interface{}, cause error) *TransportError {
	return NewTransportError(ErrorCodeTimeout, message, details, cause)
}

// TLSError creates a TLS handshake transport error
func TLSError(reason, message string, cause error) *TransportError {
	return NewTransportError(ErrorCodeTLSHandshake, message, map[string]interface{}{
		"reason": reason,
	}, cause)
}

// HandshakeError creates an HTTP connection handshake error
func HandshakeError(message string, details map[string]interface{}) *TransportError {
	return NewTransportError(ErrorCodeHandshakeFailed, message, details, nil)
}

// PoisonedError is returned for any request on a connection abandoned mid-exchange
func PoisonedError(host string, cause error) *TransportError {
	return NewTransportError(ErrorCodeConnectionPoisoned, "connection was abandoned mid-request and cannot be reused", map[string]interface{}{
		"host": host,
	}, cause)
}

// ClosedError is returned for requests on a closed connection
func ClosedError(host string) *TransportError {
	return NewTransportError(ErrorCodeConnectionClosed, "connection is closed", map[string]interface{}{
		"host": host,
	}, nil)
}

// WriteError creates a request write error
func WriteError(cause error) *TransportError {
	return NewTransportError(ErrorCodeWriteFailed, "failed to write request", nil, cause)
}

// ReadError creates a response read error
func ReadError(cause error) *TransportError {
	return NewTransportError(ErrorCodeReadFailed, "failed to read response", nil, cause)
}

// ToJSON serializes the error to JSON for cross-language transmission
func (e *TransportError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
