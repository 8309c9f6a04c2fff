package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dan-strohschein/campfire-go/protocol"
)

// Error type discriminators carried in every error's Type field.
const (
	ErrorTypeConnection = "CONNECTION_ERROR"
	ErrorTypeProtocol   = "PROTOCOL_ERROR"
	ErrorTypeStatus     = "STATUS_ERROR"
	ErrorTypeRoot       = "ROOT_ERROR"
	ErrorTypeGraphQL    = "GRAPHQL_ERROR"
	ErrorTypeToken      = "TOKEN_ERROR"
	ErrorTypeOperation  = "OPERATION_ERROR"
)

// Protocol error codes.
const (
	CodeEncodeFailed         = "ENCODE_FAILED"
	CodeDecodeFailed         = "DECODE_FAILED"
	CodeContentLengthMissing = "CONTENT_LENGTH_MISSING"
	CodeContentLengthInvalid = "CONTENT_LENGTH_INVALID"
	CodeBodyTruncated        = "BODY_TRUNCATED"
)

// FormattableError is implemented by every error this package returns.
type FormattableError interface {
	error
	FormatError(debugMode bool) string
}

// FormatError renders err with FormatError when available.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}
	var fe FormattableError
	if errors.As(err, &fe) {
		return fe.FormatError(debugMode)
	}
	return err.Error()
}

// ConnectionError represents connector failures: DNS, TCP, TLS, HTTP handshake,
// poisoned or closed connections.
type ConnectionError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// newConnectionError wraps a transport failure for the given backend.
func newConnectionError(backend Backend, err error) *ConnectionError {
	ce := &ConnectionError{
		Code:       "CONNECTION_FAILED",
		Type:       ErrorTypeConnection,
		Message:    fmt.Sprintf("%s connection failed", backend),
		Details:    map[string]interface{}{"backend": backend.String()},
		Cause:      err,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}

	var te *protocol.TransportError
	if errors.As(err, &te) {
		ce.Code = te.Code.String()
		ce.Message = te.Message
		ce.Details["retryable"] = te.IsRetryable
		for k, v := range te.Details {
			ce.Details[k] = v
		}
	}
	return ce
}

// Error implements the error interface.
// Returns JSON format for backward compatibility.
// Use FormatError() for flexible formatting based on debug mode.
func (e *ConnectionError) Error() string {
	return errorJSON(e.Code, e.Type, e.Message, e.Details, e.Cause)
}

// FormatError formats the error based on debug mode setting.
// When debugMode=false: returns simple "CODE: message" format.
// When debugMode=true: returns full JSON with stack trace and timestamp.
func (e *ConnectionError) FormatError(debugMode bool) string {
	if !debugMode {
		return simpleFormat(e.Code, e.Message, e.Cause)
	}
	return debugFormat(e.Code, e.Type, e.Message, e.Details, e.Cause, e.StackTrace, e.Timestamp)
}

// Unwrap returns the underlying cause error for errors.Is and errors.As compatibility.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the underlying transport error may succeed on a new connection.
func (e *ConnectionError) IsRetryable() bool {
	var te *protocol.TransportError
	return errors.As(e.Cause, &te) && te.IsRetryable
}

// ProtocolError represents serialization failures in either direction.
type ProtocolError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

func newProtocolError(code, message string, details map[string]interface{}, cause error) *ProtocolError {
	return &ProtocolError{
		Code:       code,
		Type:       ErrorTypeProtocol,
		Message:    message,
		Details:    details,
		Cause:      cause,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// decodeError classifies a response decoding failure.
func decodeError(op string, err error) *ProtocolError {
	details := map[string]interface{}{"operation": op}
	switch {
	case errors.Is(err, protocol.ErrContentLengthMissing):
		return newProtocolError(CodeContentLengthMissing, "response has no Content-Length header", details, err)
	case errors.Is(err, protocol.ErrContentLengthInvalid):
		return newProtocolError(CodeContentLengthInvalid, "response Content-Length is not a valid length", details, err)
	case errors.Is(err, protocol.ErrBodyTruncated):
		return newProtocolError(CodeBodyTruncated, "response body ended early", details, err)
	default:
		return newProtocolError(CodeDecodeFailed, "failed to decode response", details, err)
	}
}

// Error implements the error interface.
// Returns JSON format for backward compatibility.
func (e *ProtocolError) Error() string {
	return errorJSON(e.Code, e.Type, e.Message, e.Details, e.Cause)
}

// FormatError formats the error based on debug mode.
func (e *ProtocolError) FormatError(debugMode bool) string {
	if !debugMode {
		return simpleFormat(e.Code, e.Message, e.Cause)
	}
	return debugFormat(e.Code, e.Type, e.Message, e.Details, e.Cause, e.StackTrace, e.Timestamp)
}

// Unwrap returns the underlying cause error.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// StatusError is returned for any non-2xx HTTP response, whatever its body.
type StatusError struct {
	Code       string `json:"code"`
	Type       string `json:"type"`
	Backend    Backend
	StatusCode int
	Status     string
	// Body holds at most the first 512 bytes of the response body.
	Body []byte
}

const maxStatusBody = 512

func newStatusError(backend Backend, statusCode int, status string, body []byte) *StatusError {
	if len(body) > maxStatusBody {
		body = body[:maxStatusBody]
	}
	return &StatusError{
		Code:       fmt.Sprintf("HTTP_%d", statusCode),
		Type:       ErrorTypeStatus,
		Backend:    backend,
		StatusCode: statusCode,
		Status:     status,
		Body:       append([]byte(nil), body...),
	}
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return errorJSON(e.Code, e.Type, fmt.Sprintf("%s returned HTTP %d", e.Backend, e.StatusCode), map[string]interface{}{
		"status": e.Status,
	}, nil)
}

// FormatError formats the error based on debug mode.
func (e *StatusError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s returned %s", e.Code, e.Backend, e.Status)
	}
	return debugFormat(e.Code, e.Type, fmt.Sprintf("%s returned HTTP %d", e.Backend, e.StatusCode), map[string]interface{}{
		"status": e.Status,
		"body":   string(e.Body),
	}, nil, nil, time.Time{})
}

// TokenErrorKind enumerates token lifecycle failures.
type TokenErrorKind int

const (
	// TokenAlreadyAuthenticated: log out first.
	TokenAlreadyAuthenticated TokenErrorKind = iota
	// TokenUnauthenticated: log in first.
	TokenUnauthenticated
	// TokenTfaRequired: complete the TFA challenge, then finish the login.
	TokenTfaRequired
	// TokenRefreshExpired: the refresh token is no longer accepted; log in again.
	TokenRefreshExpired
	// TokenInvalid: a token could not be decoded or has the wrong audience or issuer.
	TokenInvalid
)

// String returns the error code for the kind.
func (k TokenErrorKind) String() string {
	switch k {
	case TokenAlreadyAuthenticated:
		return "ALREADY_AUTHENTICATED"
	case TokenUnauthenticated:
		return "UNAUTHENTICATED"
	case TokenTfaRequired:
		return "TFA_REQUIRED"
	case TokenRefreshExpired:
		return "REFRESH_TOKEN_EXPIRED"
	case TokenInvalid:
		return "INVALID_TOKEN"
	default:
		return "UNKNOWN"
	}
}

// Remediation names what the caller has to do to recover.
func (k TokenErrorKind) Remediation() string {
	switch k {
	case TokenAlreadyAuthenticated:
		return "log out first"
	case TokenUnauthenticated:
		return "log in first"
	case TokenTfaRequired:
		return "complete the TFA challenge"
	case TokenRefreshExpired:
		return "log in again"
	case TokenInvalid:
		return "supply a valid access token"
	default:
		return ""
	}
}

// TfaKind is the second-factor challenge a login is waiting on.
type TfaKind string

const (
	TfaTOTP      TfaKind = "TOTP"
	TfaEmailLink TfaKind = "EMAIL_LINK"
)

// TokenError represents token lifecycle failures.
type TokenError struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Kind    TokenErrorKind
	Message string
	// WaitToken and Tfa are set for TokenTfaRequired.
	WaitToken string
	Tfa       TfaKind
	Cause     error
}

func newTokenError(kind TokenErrorKind, message string, cause error) *TokenError {
	return &TokenError{
		Code:    kind.String(),
		Type:    ErrorTypeToken,
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// ErrTfaRequired creates the error returned when a login needs a second factor.
func ErrTfaRequired(waitToken string, kind TfaKind) *TokenError {
	e := newTokenError(TokenTfaRequired, fmt.Sprintf("login requires %s confirmation", kind), nil)
	e.WaitToken = waitToken
	e.Tfa = kind
	return e
}

// Error implements the error interface.
func (e *TokenError) Error() string {
	details := map[string]interface{}{"remediation": e.Kind.Remediation()}
	if e.Kind == TokenTfaRequired {
		details["tfa"] = string(e.Tfa)
	}
	return errorJSON(e.Code, e.Type, e.Message, details, e.Cause)
}

// FormatError formats the error based on debug mode.
func (e *TokenError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Kind.Remediation())
	}
	return e.Error()
}

// Unwrap returns the underlying cause error.
func (e *TokenError) Unwrap() error {
	return e.Cause
}

// IsTokenError reports whether err is a TokenError of the given kind.
func IsTokenError(err error, kind TokenErrorKind) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Kind == kind
}

// IsUnauthenticated reports whether err means no credentials are held or the server
// rejected the access token.
func IsUnauthenticated(err error) bool {
	if IsTokenError(err, TokenUnauthenticated) {
		return true
	}
	var ge *GraphQLError
	return errors.As(err, &ge) && ge.Reason == ReasonUnauthenticated
}

// IsBanned reports whether err is a Root ban error and returns its end time.
func IsBanned(err error) (time.Time, bool) {
	var re *RootError
	if errors.As(err, &re) && re.Kind == RootBanned {
		return re.Until, true
	}
	return time.Time{}, false
}

func errorJSON(code, typ, message string, details map[string]interface{}, cause error) string {
	errorData := map[string]interface{}{
		"code":    code,
		"type":    typ,
		"message": message,
	}

	if len(details) > 0 {
		errorData["details"] = details
	}

	if cause != nil {
		if msg := cause.Error(); json.Valid([]byte(msg)) {
			errorData["cause"] = json.RawMessage(msg)
		} else {
			errorData["cause"] = map[string]interface{}{"message": cause.Error()}
		}
	}

	b, err := json.Marshal(errorData)
	if err != nil {
		return fmt.Sprintf("%s: %s", code, message)
	}
	return string(b)
}

func simpleFormat(code, message string, cause error) string {
	if cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", code, message, cause.Error())
	}
	return fmt.Sprintf("%s: %s", code, message)
}

func debugFormat(code, typ, message string, details map[string]interface{}, cause error, stack []string, ts time.Time) string {
	errorData := map[string]interface{}{
		"code":    code,
		"type":    typ,
		"message": message,
	}

	if len(details) > 0 {
		errorData["details"] = details
	}

	if cause != nil {
		errorData["cause"] = map[string]interface{}{"message": cause.Error()}
	}

	if len(stack) > 0 {
		errorData["stack_trace"] = stack
	}

	if !ts.IsZero() {
		errorData["timestamp"] = ts.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}
