package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/dan-strohschein/campfire-go/mapper"
	"github.com/dan-strohschein/campfire-go/protocol"
)

// Legacy error codes with a dedicated taxonomy variant.
const (
	RootCodeAccess      = "ERROR_ACCESS"
	RootCodeAlready     = "ERROR_ALREADY"
	RootCodeBadReason   = "ERROR_BAD_REASON"
	RootCodeBanned      = "ERROR_ACCOUNT_IS_BANED"
	RootCodeUnavailable = "ERROR_UNAVAILABLE"
)

// RootErrorKind is the taxonomy variant of a legacy error.
type RootErrorKind int

const (
	RootAccessDenied RootErrorKind = iota
	RootAlreadyExists
	RootBadReason
	RootBanned
	RootUnavailable
	RootOther
)

// String returns the variant name.
func (k RootErrorKind) String() string {
	switch k {
	case RootAccessDenied:
		return "ACCESS_DENIED"
	case RootAlreadyExists:
		return "ALREADY_EXISTS"
	case RootBadReason:
		return "BAD_REASON"
	case RootBanned:
		return "BANNED"
	case RootUnavailable:
		return "UNAVAILABLE"
	default:
		return "OTHER"
	}
}

// UnavailableReason qualifies RootUnavailable.
type UnavailableReason int

const (
	UnavailableBlocked UnavailableReason = iota
	UnavailableNotFound
	UnavailableRemoved
	UnavailableOther
)

// String returns the wire value for the reason.
func (r UnavailableReason) String() string {
	switch r {
	case UnavailableBlocked:
		return "BLOCKED"
	case UnavailableNotFound:
		return "NOT_FOUND"
	case UnavailableRemoved:
		return "REMOVED"
	default:
		return "OTHER"
	}
}

// RootError is a legacy taxonomy error.
type RootError struct {
	Code string `json:"code"`
	Type string `json:"type"`
	Kind RootErrorKind

	// Until is set for RootBanned.
	Until time.Time

	// Reason is set for RootUnavailable; RawReason keeps the unparsed parameter.
	Reason    UnavailableReason
	RawReason string

	// Message and Params are preserved for every kind, RootOther relies on them.
	Message *string
	Params  []string
}

// Error implements the error interface.
func (e *RootError) Error() string {
	return errorJSON(e.Code, e.Type, e.message(), e.details(), nil)
}

// FormatError formats the error based on debug mode.
func (e *RootError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.message())
	}
	return debugFormat(e.Code, e.Type, e.message(), e.details(), nil, nil, time.Time{})
}

func (e *RootError) message() string {
	switch e.Kind {
	case RootAccessDenied:
		return "access denied"
	case RootAlreadyExists:
		return "already exists"
	case RootBadReason:
		return "bad reason"
	case RootBanned:
		return "account is banned until " + e.Until.Format(time.RFC3339)
	case RootUnavailable:
		return "unavailable: " + strings.ToLower(e.Reason.String())
	default:
		if e.Message != nil {
			return *e.Message
		}
		return "server error " + e.Code
	}
}

func (e *RootError) details() map[string]interface{} {
	details := map[string]interface{}{"kind": e.Kind.String()}
	if len(e.Params) > 0 {
		details["params"] = e.Params
	}
	if e.Kind == RootUnavailable && e.Reason == UnavailableOther {
		details["reason"] = e.RawReason
	}
	return details
}

// mapRootError converts a raw legacy error into its taxonomy variant. A ban with a
// missing or unrepresentable timestamp is a decode error.
func mapRootError(raw *protocol.RootRawError) error {
	e := &RootError{
		Code:    raw.Code,
		Type:    ErrorTypeRoot,
		Message: raw.Message,
		Params:  []string(raw.Params),
	}

	switch raw.Code {
	case RootCodeAccess:
		e.Kind = RootAccessDenied
	case RootCodeAlready:
		e.Kind = RootAlreadyExists
	case RootCodeBadReason:
		e.Kind = RootBadReason
	case RootCodeBanned:
		e.Kind = RootBanned
		param, ok := raw.Param(0)
		if !ok {
			return newProtocolError(CodeDecodeFailed, "ban error has no end timestamp", map[string]interface{}{
				"code": raw.Code,
			}, nil)
		}
		until, err := mapper.ParseMillis(param)
		if err != nil {
			return newProtocolError(CodeDecodeFailed, "ban error has an invalid end timestamp", map[string]interface{}{
				"code":  raw.Code,
				"param": param,
			}, err)
		}
		e.Until = until
	case RootCodeUnavailable:
		e.Kind = RootUnavailable
		e.RawReason, _ = raw.Param(0)
		switch e.RawReason {
		case "BLOCKED":
			e.Reason = UnavailableBlocked
		case "NOT_FOUND":
			e.Reason = UnavailableNotFound
		case "REMOVED":
			e.Reason = UnavailableRemoved
		default:
			e.Reason = UnavailableOther
		}
	default:
		e.Kind = RootOther
	}

	return e
}

// GraphQLReason is the tag before the first colon of a Melior error message.
type GraphQLReason string

const (
	ReasonUnauthenticated GraphQLReason = "Unauthenticated"
	ReasonAccessDenied    GraphQLReason = "AccessDenied"
	ReasonNotFound        GraphQLReason = "NotFound"
	ReasonInvalidInput    GraphQLReason = "InvalidInput"
	ReasonInternal        GraphQLReason = "Internal"
	// ReasonOther marks messages without a known tag; Message keeps the full text.
	ReasonOther GraphQLReason = "Other"
)

var knownReasons = map[string]GraphQLReason{
	string(ReasonUnauthenticated): ReasonUnauthenticated,
	string(ReasonAccessDenied):    ReasonAccessDenied,
	string(ReasonNotFound):        ReasonNotFound,
	string(ReasonInvalidInput):    ReasonInvalidInput,
	string(ReasonInternal):        ReasonInternal,
}

// GraphQLError is a Melior taxonomy error built from the first entry of "errors".
type GraphQLError struct {
	Code      string `json:"code"`
	Type      string `json:"type"`
	Reason    GraphQLReason
	Message   string
	Locations []protocol.Location
	Path      []protocol.PathSegment

	// Errors holds every entry the server returned.
	Errors []protocol.GraphQLRawError
}

// Error implements the error interface.
func (e *GraphQLError) Error() string {
	return errorJSON(e.Code, e.Type, e.Message, e.details(), nil)
}

// FormatError formats the error based on debug mode.
func (e *GraphQLError) FormatError(debugMode bool) string {
	if !debugMode {
		if len(e.Path) > 0 {
			return fmt.Sprintf("%s: %s (at %s)", e.Code, e.Message, protocol.JoinPath(e.Path))
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return debugFormat(e.Code, e.Type, e.Message, e.details(), nil, nil, time.Time{})
}

func (e *GraphQLError) details() map[string]interface{} {
	details := map[string]interface{}{"reason": string(e.Reason)}
	if len(e.Path) > 0 {
		details["path"] = protocol.JoinPath(e.Path)
	}
	if len(e.Locations) > 0 {
		details["locations"] = e.Locations
	}
	if len(e.Errors) > 1 {
		details["count"] = len(e.Errors)
	}
	return details
}

// mapGraphQLErrors converts a non-empty Melior error list into a taxonomy error.
func mapGraphQLErrors(errs []protocol.GraphQLRawError) *GraphQLError {
	first := errs[0]
	e := &GraphQLError{
		Type:      ErrorTypeGraphQL,
		Reason:    ReasonOther,
		Message:   first.Message,
		Locations: first.Locations,
		Path:      first.Path,
		Errors:    errs,
	}

	if tag, text, ok := first.Reason(); ok {
		if reason, known := knownReasons[tag]; known {
			e.Reason = reason
			e.Message = text
		}
	}
	e.Code = "GRAPHQL_" + strings.ToUpper(string(e.Reason))
	return e
}
