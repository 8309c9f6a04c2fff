package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash"
)

// MeliorEnvelope is the decoded GraphQL response {data, errors}.
type MeliorEnvelope struct {
	Data   json.RawMessage   `json:"data"`
	Errors []GraphQLRawError `json:"errors"`
}

// HasErrors reports whether the errors list is present and non-empty.
// A non-empty errors list wins over data, even when data is well-formed.
func (e *MeliorEnvelope) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unmarshal decodes the data payload into v.
func (e *MeliorEnvelope) Unmarshal(v interface{}) error {
	if e.HasErrors() {
		return fmt.Errorf("cannot unmarshal data of an error response")
	}
	return json.Unmarshal(e.Data, v)
}

// DecodeMeliorResponse parses a GraphQL response body.
func DecodeMeliorResponse(body []byte) (*MeliorEnvelope, error) {
	var env MeliorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid graphql response json: %w", err)
	}
	if env.HasErrors() {
		return &env, nil
	}
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return nil, fmt.Errorf("graphql response has neither data nor errors")
	}
	return &env, nil
}

// EncodeMeliorResponse builds a GraphQL response body. Used by fake servers.
func EncodeMeliorResponse(data interface{}, errs []GraphQLRawError) ([]byte, error) {
	body := struct {
		Data   interface{}       `json:"data"`
		Errors []GraphQLRawError `json:"errors,omitempty"`
	}{Data: data, Errors: errs}
	return json.Marshal(body)
}

// MeliorRequest is the server-side view of a GraphQL request body.
type MeliorRequest struct {
	Query     string          `json:"query"`
	Variables json.RawMessage `json:"variables"`
}

// DecodeMeliorRequest parses a GraphQL request body. Used by fake servers and tests.
func DecodeMeliorRequest(body []byte) (*MeliorRequest, error) {
	var req MeliorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid graphql request json: %w", err)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("graphql request has no query")
	}
	return &req, nil
}

// QueryCache encodes Melior request bodies, keeping the JSON-escaped form of every
// static query document so it is escaped once per process instead of once per call.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[uint64]*cachedQuery
	hits    int64
	misses  int64
}

type cachedQuery struct {
	query  string
	prefix []byte // {"query":"<escaped>","variables":
}

// NewQueryCache creates an empty query cache.
func NewQueryCache() *QueryCache {
	return &QueryCache{entries: make(map[uint64]*cachedQuery)}
}

// Encode serializes {query, variables} as the full request body.
func (c *QueryCache) Encode(query string, variables interface{}) ([]byte, error) {
	if query == "" {
		return nil, fmt.Errorf("graphql query text is required")
	}

	prefix, err := c.prefix(query)
	if err != nil {
		return nil, err
	}

	vars := []byte("{}")
	if variables != nil {
		vars, err = json.Marshal(variables)
		if err != nil {
			return nil, fmt.Errorf("failed to encode variables: %w", err)
		}
		if bytes.Equal(vars, []byte("null")) {
			vars = []byte("{}")
		}
	}

	body := make([]byte, 0, len(prefix)+len(vars)+1)
	body = append(body, prefix...)
	body = append(body, vars...)
	body = append(body, '}')
	return body, nil
}

// Stats returns cache hits and misses.
func (c *QueryCache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *QueryCache) prefix(query string) ([]byte, error) {
	key := xxhash.Sum64String(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Collisions fall through to a re-encode rather than serving the wrong document.
	if entry, ok := c.entries[key]; ok && entry.query == query {
		c.hits++
		return entry.prefix, nil
	}
	c.misses++

	escaped, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	prefix := make([]byte, 0, len(escaped)+24)
	prefix = append(prefix, `{"query":`...)
	prefix = append(prefix, escaped...)
	prefix = append(prefix, `,"variables":`...)

	c.entries[key] = &cachedQuery{query: query, prefix: prefix}
	return prefix, nil
}
