package client

import (
	"fmt"

	"github.com/dan-strohschein/campfire-go/protocol"
)

// RawError is an undecoded server error as received by one backend. Exactly one
// of Root and GraphQL is set, matching Source.
type RawError struct {
	Source  Backend
	Root    *protocol.RootRawError
	GraphQL []protocol.GraphQLRawError
}

// MustRoot returns the legacy error. It panics when the error came from Melior,
// which only happens if a specializer is attached to an operation of the wrong backend.
func (r RawError) MustRoot() *protocol.RootRawError {
	if r.Source != BackendRoot || r.Root == nil {
		panic(fmt.Sprintf("client: root specializer received a %s error", r.Source))
	}
	return r.Root
}

// MustGraphQL returns the first Melior error, see MustRoot.
func (r RawError) MustGraphQL() protocol.GraphQLRawError {
	if r.Source != BackendMelior || len(r.GraphQL) == 0 {
		panic(fmt.Sprintf("client: graphql specializer received a %s error", r.Source))
	}
	return r.GraphQL[0]
}

// Specializer gives an operation first refusal on a server error. Source names
// the backend whose raw errors it understands. Specialize returns the operation's
// own error for raw errors it recognizes and nil to let the generic taxonomy error
// through. It must be pure and must not fail.
type Specializer interface {
	Source() Backend
	Specialize(raw RawError) error
}

// SpecializerFunc adapts a function to Specializer for errors from From.
type SpecializerFunc struct {
	From Backend
	Fn   func(raw RawError) error
}

// Source returns f.From.
func (f SpecializerFunc) Source() Backend {
	return f.From
}

// Specialize calls f.Fn.
func (f SpecializerFunc) Specialize(raw RawError) error {
	return f.Fn(raw)
}

// noSpecialization serves both backends; mapServerError never consults its Source.
type noSpecialization struct{}

func (noSpecialization) Source() Backend           { return BackendRoot }
func (noSpecialization) Specialize(RawError) error { return nil }

// NoSpecialization declines every error.
var NoSpecialization Specializer = noSpecialization{}

// mapServerError runs the specializer, then falls back to the generic taxonomy.
// A specializer declared for the other backend is a wiring bug and panics.
func mapServerError(raw RawError, sp Specializer) error {
	if _, none := sp.(noSpecialization); sp != nil && !none {
		if sp.Source() != raw.Source {
			panic(fmt.Sprintf("client: %s specializer attached to a %s operation", sp.Source(), raw.Source))
		}
		if err := sp.Specialize(raw); err != nil {
			return err
		}
	}
	if raw.Source == BackendRoot {
		return mapRootError(raw.Root)
	}
	return mapGraphQLErrors(raw.GraphQL)
}

// LoginErrorKind enumerates login-specific failures.
type LoginErrorKind int

const (
	LoginInvalidEmail LoginErrorKind = iota
	LoginWrongPassword
	LoginHardBanned
	LoginTfaInvalidCode
	LoginTfaExpired
)

// String returns the error code for the kind.
func (k LoginErrorKind) String() string {
	switch k {
	case LoginInvalidEmail:
		return "INVALID_EMAIL"
	case LoginWrongPassword:
		return "WRONG_PASSWORD"
	case LoginHardBanned:
		return "HARD_BANNED"
	case LoginTfaInvalidCode:
		return "TFA_INVALID_CODE"
	case LoginTfaExpired:
		return "TFA_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// LoginError is returned by Login, LoginTfa and CheckTfa.
type LoginError struct {
	Code string `json:"code"`
	Type string `json:"type"`
	Kind LoginErrorKind
	// BanReason is set for LoginHardBanned when the server gave one.
	BanReason *string
	Raw       RawError
}

func newLoginError(kind LoginErrorKind, raw RawError) *LoginError {
	return &LoginError{Code: kind.String(), Type: ErrorTypeOperation, Kind: kind, Raw: raw}
}

// Error implements the error interface.
func (e *LoginError) Error() string {
	details := map[string]interface{}{"operation": "login"}
	if e.BanReason != nil {
		details["banReason"] = *e.BanReason
	}
	return errorJSON(e.Code, e.Type, e.message(), details, nil)
}

// FormatError formats the error based on debug mode.
func (e *LoginError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.message())
	}
	return e.Error()
}

func (e *LoginError) message() string {
	switch e.Kind {
	case LoginInvalidEmail:
		return "no account with this email"
	case LoginWrongPassword:
		return "wrong password"
	case LoginHardBanned:
		if e.BanReason != nil {
			return "account is permanently banned: " + *e.BanReason
		}
		return "account is permanently banned"
	case LoginTfaInvalidCode:
		return "invalid TFA code"
	case LoginTfaExpired:
		return "TFA challenge expired, log in again"
	default:
		return "login failed"
	}
}

// loginSpecializer claims the tagged login failures.
var loginSpecializer = SpecializerFunc{From: BackendMelior, Fn: func(raw RawError) error {
	tag, text, ok := raw.MustGraphQL().Reason()
	if !ok {
		return nil
	}
	switch tag {
	case "InvalidEmail":
		return newLoginError(LoginInvalidEmail, raw)
	case "WrongPassword":
		return newLoginError(LoginWrongPassword, raw)
	case "HardBanned":
		e := newLoginError(LoginHardBanned, raw)
		if text != "" {
			e.BanReason = &text
		}
		return e
	case "TfaInvalidCode":
		return newLoginError(LoginTfaInvalidCode, raw)
	case "TfaExpired":
		return newLoginError(LoginTfaExpired, raw)
	}
	return nil
}}

// refreshSpecializer turns a rejected refresh token into a token lifecycle error.
var refreshSpecializer = SpecializerFunc{From: BackendMelior, Fn: func(raw RawError) error {
	tag, text, ok := raw.MustGraphQL().Reason()
	if !ok {
		return nil
	}
	switch tag {
	case "RefreshTokenExpired", string(ReasonUnauthenticated):
		return newTokenError(TokenRefreshExpired, "refresh token was rejected: "+text, nil)
	case "InvalidToken":
		return newTokenError(TokenInvalid, "refresh token is malformed: "+text, nil)
	}
	return nil
}}

// Legacy codes claimed by ChangeName.
const (
	RootCodeNameLength     = "E_LOGIN_LENGTH"
	RootCodeNameChars      = "E_LOGIN_CHARS"
	RootCodeNameNotEnabled = "E_LOGIN_NOT_ENABLED"
)

// ChangeNameErrorKind enumerates ChangeName failures.
type ChangeNameErrorKind int

const (
	NameTooLong ChangeNameErrorKind = iota
	NameInvalidChars
	NameTaken
	NameNotAllowed
)

// String returns the error code for the kind.
func (k ChangeNameErrorKind) String() string {
	switch k {
	case NameTooLong:
		return "NAME_TOO_LONG"
	case NameInvalidChars:
		return "NAME_INVALID_CHARS"
	case NameTaken:
		return "NAME_TAKEN"
	case NameNotAllowed:
		return "NAME_NOT_ALLOWED"
	default:
		return "UNKNOWN"
	}
}

// ChangeNameError is returned by ChangeName.
type ChangeNameError struct {
	Code string `json:"code"`
	Type string `json:"type"`
	Kind ChangeNameErrorKind
	Raw  RawError
}

// Error implements the error interface.
func (e *ChangeNameError) Error() string {
	return errorJSON(e.Code, e.Type, e.message(), map[string]interface{}{
		"operation": "changeName",
		"rootCode":  e.Raw.Root.Code,
	}, nil)
}

// FormatError formats the error based on debug mode.
func (e *ChangeNameError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.message())
	}
	return e.Error()
}

func (e *ChangeNameError) message() string {
	switch e.Kind {
	case NameTooLong:
		return "name is too long"
	case NameInvalidChars:
		return "name contains characters that are not allowed"
	case NameTaken:
		return "name is already taken"
	default:
		return "name change is not allowed for this account"
	}
}

var changeNameSpecializer = SpecializerFunc{From: BackendRoot, Fn: func(raw RawError) error {
	var kind ChangeNameErrorKind
	switch raw.MustRoot().Code {
	case RootCodeNameLength:
		kind = NameTooLong
	case RootCodeNameChars:
		kind = NameInvalidChars
	case RootCodeAlready:
		kind = NameTaken
	case RootCodeNameNotEnabled:
		kind = NameNotAllowed
	default:
		return nil
	}
	return &ChangeNameError{Code: kind.String(), Type: ErrorTypeOperation, Kind: kind, Raw: raw}
}}
