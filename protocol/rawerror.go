package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RootRawError is the untyped legacy error union, tagged by Code.
type RootRawError struct {
	Code    string     `json:"code"`
	Message *string    `json:"messageError,omitempty"`
	Params  RootParams `json:"params,omitempty"`
}

// Param returns the i-th parameter, if present.
func (e *RootRawError) Param(i int) (string, bool) {
	if i < 0 || i >= len(e.Params) {
		return "", false
	}
	return e.Params[i], true
}

// RootParams holds error parameters. The server mixes strings and bare numbers;
// numbers keep their literal text so no precision is lost.
type RootParams []string

// UnmarshalJSON accepts strings, numbers, booleans and nested values.
func (p *RootParams) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("params must be an array: %w", err)
	}

	out := make(RootParams, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return fmt.Errorf("param %d: %w", i, err)
			}
			out[i] = s
			continue
		}
		out[i] = string(item)
	}
	*p = out
	return nil
}

// GraphQLRawError is one entry of a Melior "errors" list.
type GraphQLRawError struct {
	Message    string                 `json:"message"`
	Locations  []Location             `json:"locations,omitempty"`
	Path       []PathSegment          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Reason splits a "<ReasonTag>:<human text>" message on its first colon.
// ok is false when the message does not follow the convention.
func (e GraphQLRawError) Reason() (tag, text string, ok bool) {
	tag, text, found := strings.Cut(e.Message, ":")
	if !found {
		return "", e.Message, false
	}
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.ContainsAny(tag, " \t\n") {
		return "", e.Message, false
	}
	return tag, strings.TrimSpace(text), true
}

// Location is a position in the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PathSegment is either a field name or a list index.
type PathSegment struct {
	Field   string
	Index   int
	IsIndex bool
}

// String renders the segment as it appears in a dotted path.
func (s PathSegment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Field
}

// UnmarshalJSON decodes a string or integer segment.
func (s *PathSegment) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		s.IsIndex = false
		return json.Unmarshal(data, &s.Field)
	}
	var idx int
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("path segment must be a string or integer: %w", err)
	}
	s.Index = idx
	s.IsIndex = true
	return nil
}

// MarshalJSON encodes the segment back to its original form.
func (s PathSegment) MarshalJSON() ([]byte, error) {
	if s.IsIndex {
		return json.Marshal(s.Index)
	}
	return json.Marshal(s.Field)
}

// JoinPath renders a path as "a.b.0.c".
func JoinPath(path []PathSegment) string {
	parts := make([]string, len(path))
	for i, seg := range path {
		parts[i] = seg.String()
	}
	return strings.Join(parts, ".")
}
