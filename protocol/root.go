// Package protocol provides encoding/decoding for the Root and Melior wire protocols
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

const (
	// Root request fields injected next to the flattened payload
	RootFieldRequestName = "J_REQUEST_NAME"
	RootFieldDataOutput  = "dataOutput"
	RootFieldAccessToken = "J_API_ACCESS_TOKEN"
	RootFieldBotToken    = "J_API_BOT_TOKEN"
	RootFieldAPIVersion  = "requestApiVersion"

	// Root response envelope
	RootFieldStatus   = "J_STATUS"
	RootFieldResponse = "J_RESPONSE"
	RootStatusOK      = "J_STATUS_OK"
	RootStatusError   = "J_STATUS_ERROR"

	// RootAPIVersion is sent with every Root request
	RootAPIVersion = "3"

	// NoAttachment is the dataOutput marker for an empty attachment slot
	NoAttachment int64 = -1

	lengthPrefixSize = 4
)

var reservedRootFields = []string{
	RootFieldRequestName,
	RootFieldDataOutput,
	RootFieldAccessToken,
	RootFieldBotToken,
	RootFieldAPIVersion,
}

// Attachment is a raw binary blob sent after the JSON segment of a Root request.
// A nil Attachment marks an empty slot (dataOutput -1); a non-nil empty one is sent as length 0.
type Attachment []byte

// RootRequest is a single Root RPC call before framing.
type RootRequest struct {
	Name        string
	Payload     interface{}
	Attachments []Attachment
	AccessToken string
	BotToken    string
}

// RootEncoder frames Root requests. It is safe for concurrent use.
type RootEncoder struct {
	bufferPool sync.Pool
}

// NewRootEncoder creates a Root request encoder.
func NewRootEncoder() *RootEncoder {
	return &RootEncoder{
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Encode produces [u32 BE json length][json object][attachments...].
func (e *RootEncoder) Encode(req *RootRequest) ([]byte, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("root request name is required")
	}

	fields, err := flattenPayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten payload of %s: %w", req.Name, err)
	}

	dataOutput := make([]int64, len(req.Attachments))
	var attachmentsLen int
	for i, att := range req.Attachments {
		if att == nil {
			dataOutput[i] = NoAttachment
			continue
		}
		dataOutput[i] = int64(len(att))
		attachmentsLen += len(att)
	}

	if err := setField(fields, RootFieldRequestName, req.Name); err != nil {
		return nil, err
	}
	if err := setField(fields, RootFieldDataOutput, dataOutput); err != nil {
		return nil, err
	}
	if req.AccessToken != "" {
		if err := setField(fields, RootFieldAccessToken, req.AccessToken); err != nil {
			return nil, err
		}
	}
	if err := setField(fields, RootFieldBotToken, req.BotToken); err != nil {
		return nil, err
	}
	if err := setField(fields, RootFieldAPIVersion, RootAPIVersion); err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", req.Name, err)
	}
	if uint64(len(jsonBytes)) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("json segment of %s exceeds 4GiB", req.Name)
	}

	buf := e.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer e.bufferPool.Put(buf)

	buf.Grow(lengthPrefixSize + len(jsonBytes) + attachmentsLen)

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(jsonBytes)))
	buf.Write(prefix[:])
	buf.Write(jsonBytes)
	for _, att := range req.Attachments {
		buf.Write(att)
	}

	// Return a copy since we're reusing the buffer
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// flattenPayload turns the typed payload into the top-level field set of the request object.
func flattenPayload(payload interface{}) (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if payload == nil {
		return fields, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload must encode to a JSON object: %w", err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}

	for _, reserved := range reservedRootFields {
		if _, ok := fields[reserved]; ok {
			return nil, fmt.Errorf("payload field %q collides with a reserved request field", reserved)
		}
	}
	return fields, nil
}

func setField(fields map[string]json.RawMessage, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode field %s: %w", key, err)
	}
	fields[key] = raw
	return nil
}

// DecodedRootRequest is the server-side view of a framed Root request.
type DecodedRootRequest struct {
	Name        string
	AccessToken string
	BotToken    string
	APIVersion  string
	DataOutput  []int64
	Attachments []Attachment

	// Fields holds the flattened payload without the reserved request fields.
	Fields map[string]json.RawMessage
}

// Unmarshal decodes the payload fields into v.
func (r *DecodedRootRequest) Unmarshal(v interface{}) error {
	raw, err := json.Marshal(r.Fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// DecodeRootRequest reverses RootEncoder.Encode. Used by fake servers and tests.
func DecodeRootRequest(data []byte) (*DecodedRootRequest, error) {
	if len(data) < lengthPrefixSize {
		return nil, fmt.Errorf("root request shorter than length prefix: %d bytes", len(data))
	}

	jsonLen := binary.BigEndian.Uint32(data[:lengthPrefixSize])
	rest := data[lengthPrefixSize:]
	if uint64(jsonLen) > uint64(len(rest)) {
		return nil, fmt.Errorf("length prefix %d exceeds remaining %d bytes", jsonLen, len(rest))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rest[:jsonLen], &fields); err != nil {
		return nil, fmt.Errorf("invalid root request json: %w", err)
	}

	req := &DecodedRootRequest{Fields: fields}
	if err := takeField(fields, RootFieldRequestName, &req.Name, true); err != nil {
		return nil, err
	}
	if err := takeField(fields, RootFieldDataOutput, &req.DataOutput, true); err != nil {
		return nil, err
	}
	if err := takeField(fields, RootFieldAccessToken, &req.AccessToken, false); err != nil {
		return nil, err
	}
	if err := takeField(fields, RootFieldBotToken, &req.BotToken, false); err != nil {
		return nil, err
	}
	if err := takeField(fields, RootFieldAPIVersion, &req.APIVersion, false); err != nil {
		return nil, err
	}

	tail := rest[jsonLen:]
	req.Attachments = make([]Attachment, len(req.DataOutput))
	for i, n := range req.DataOutput {
		switch {
		case n == NoAttachment:
			continue
		case n < 0:
			return nil, fmt.Errorf("invalid attachment length %d at position %d", n, i)
		case n > int64(len(tail)):
			return nil, fmt.Errorf("attachment %d declares %d bytes, %d remain", i, n, len(tail))
		}
		att := make(Attachment, n)
		copy(att, tail[:n])
		req.Attachments[i] = att
		tail = tail[n:]
	}
	if len(tail) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after declared attachments", len(tail))
	}

	return req, nil
}

func takeField(fields map[string]json.RawMessage, key string, dst interface{}, required bool) error {
	raw, ok := fields[key]
	if !ok {
		if required {
			return fmt.Errorf("missing field %s", key)
		}
		return nil
	}
	delete(fields, key)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid field %s: %w", key, err)
	}
	return nil
}

// RootEnvelope is the decoded {"J_STATUS", "J_RESPONSE"} response.
type RootEnvelope struct {
	Status   string          `json:"J_STATUS"`
	Response json.RawMessage `json:"J_RESPONSE"`
}

var (
	// ErrContentLengthMissing is returned when a Root response carries no Content-Length
	ErrContentLengthMissing = errors.New("response has no Content-Length header")

	// ErrContentLengthInvalid is returned when the Content-Length header cannot be parsed
	ErrContentLengthInvalid = errors.New("response Content-Length header is not a valid length")

	// ErrBodyTruncated is returned when fewer body bytes arrived than Content-Length declared
	ErrBodyTruncated = errors.New("response body ended before Content-Length bytes")
)

// ReadRootBody validates the declared Content-Length against the received body.
func ReadRootBody(header http.Header, body []byte) ([]byte, error) {
	values := header.Values("Content-Length")
	if len(values) == 0 {
		return nil, ErrContentLengthMissing
	}
	declared, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil || declared < 0 {
		return nil, fmt.Errorf("%w: %q", ErrContentLengthInvalid, values[0])
	}
	if int64(len(body)) < declared {
		return nil, fmt.Errorf("%w: got %d of %d", ErrBodyTruncated, len(body), declared)
	}
	return body[:declared], nil
}

// DecodeRootResponse parses a Root response body into its envelope.
func DecodeRootResponse(header http.Header, body []byte) (*RootEnvelope, error) {
	data, err := ReadRootBody(header, body)
	if err != nil {
		return nil, err
	}

	var env RootEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid root response json: %w", err)
	}

	switch env.Status {
	case RootStatusOK, RootStatusError:
	case "":
		return nil, fmt.Errorf("root response has no %s field", RootFieldStatus)
	default:
		return nil, fmt.Errorf("unknown root response status %q", env.Status)
	}

	return &env, nil
}

// OK reports whether the envelope carries a success payload.
func (e *RootEnvelope) OK() bool {
	return e.Status == RootStatusOK
}

// Unmarshal decodes the success payload into v.
func (e *RootEnvelope) Unmarshal(v interface{}) error {
	if !e.OK() {
		return fmt.Errorf("cannot unmarshal payload of an error envelope")
	}
	if len(e.Response) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Response, v)
}

// RawError decodes the legacy error union from an error envelope.
func (e *RootEnvelope) RawError() (*RootRawError, error) {
	if e.OK() {
		return nil, fmt.Errorf("success envelope carries no error")
	}
	var raw RootRawError
	if err := json.Unmarshal(e.Response, &raw); err != nil {
		return nil, fmt.Errorf("invalid root error payload: %w", err)
	}
	if raw.Code == "" {
		return nil, fmt.Errorf("root error payload has no code")
	}
	return &raw, nil
}

// EncodeRootResponse builds a Root response body. Used by fake servers.
func EncodeRootResponse(status string, response interface{}) ([]byte, error) {
	raw, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	return json.Marshal(RootEnvelope{Status: status, Response: raw})
}
