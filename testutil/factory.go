package testutil

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"
)

// Factory generates server payloads with customizable options.
type Factory interface {
	// Build creates a single payload
	Build(options ...Option) map[string]interface{}

	// BuildList creates multiple payloads
	BuildList(count int, options ...Option) []map[string]interface{}
}

// Option is a function that modifies factory output.
type Option func(map[string]interface{})

// BaseFactory provides common factory functionality. Default values that are
// functions are called on every Build, so sequences stay unique.
type BaseFactory struct {
	defaults map[string]interface{}
}

// NewBaseFactory creates a new base factory with default values.
func NewBaseFactory(defaults map[string]interface{}) *BaseFactory {
	return &BaseFactory{defaults: defaults}
}

// Build creates a single payload with optional overrides.
func (f *BaseFactory) Build(options ...Option) map[string]interface{} {
	data := make(map[string]interface{}, len(f.defaults))
	for k, v := range f.defaults {
		data[k] = resolve(v)
	}

	for _, opt := range options {
		opt(data)
	}
	return data
}

// BuildList creates multiple payloads.
func (f *BaseFactory) BuildList(count int, options ...Option) []map[string]interface{} {
	results := make([]map[string]interface{}, count)
	for i := 0; i < count; i++ {
		results[i] = f.Build(options...)
	}
	return results
}

// resolve calls lazy defaults.
func resolve(v interface{}) interface{} {
	switch fn := v.(type) {
	case func() int64:
		return fn()
	case func() string:
		return fn()
	case func() int:
		return fn()
	default:
		return v
	}
}

// WithField sets a specific field value.
func WithField(name string, value interface{}) Option {
	return func(data map[string]interface{}) {
		data[name] = value
	}
}

// WithFields sets multiple field values.
func WithFields(fields map[string]interface{}) Option {
	return func(data map[string]interface{}) {
		for k, v := range fields {
			data[k] = v
		}
	}
}

// WithoutField removes a field, e.g. to test a missing optional value.
func WithoutField(name string) Option {
	return func(data map[string]interface{}) {
		delete(data, name)
	}
}

// WithMillis sets a field to t in Unix milliseconds, the legacy timestamp encoding.
func WithMillis(name string, t time.Time) Option {
	return WithField(name, t.UnixMilli())
}

var (
	emailSequence uint64
	nameSequence  uint64
	idSequence    uint64
)

// SequenceEmail generates unique email addresses.
func SequenceEmail() string {
	n := atomic.AddUint64(&emailSequence, 1)
	return fmt.Sprintf("user%d@example.com", n)
}

// SequenceName generates unique account names.
func SequenceName() string {
	n := atomic.AddUint64(&nameSequence, 1)
	return fmt.Sprintf("camper%d", n)
}

// SequenceID generates unique IDs.
func SequenceID() int64 {
	return int64(atomic.AddUint64(&idSequence, 1))
}

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// RandomString generates a random string of the specified length.
// Not safe for concurrent use.
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rng.Intn(len(charset))]
	}
	return string(b)
}

// RandomInt generates a random integer between min and max (inclusive).
func RandomInt(min, max int) int {
	return min + rng.Intn(max-min+1)
}

// NewRootAccountFactory builds legacy account objects as RAccountsGet returns them:
// integer booleans, millisecond timestamps, fixed-point karma.
func NewRootAccountFactory() *BaseFactory {
	return NewBaseFactory(map[string]interface{}{
		"J_ID":               SequenceID,
		"J_NAME":             SequenceName,
		"J_IMAGE_ID":         0,
		"J_LVL":              func() int { return RandomInt(100, 5000) },
		"karma30":            func() int { return RandomInt(0, 100000) },
		"sex":                0,
		"sponsor":            0,
		"J_LAST_ONLINE_DATE": func() int64 { return time.Now().Add(-time.Hour).UnixMilli() },
		"banDate":            0,
		"isOnline":           0,
	})
}

// NewMeliorAccountFactory builds Melior account objects as the me query returns them.
func NewMeliorAccountFactory() *BaseFactory {
	return NewBaseFactory(map[string]interface{}{
		"id":        func() string { return fmt.Sprintf("%d", SequenceID()) },
		"username":  SequenceName,
		"email":     SequenceEmail,
		"createdAt": func() string { return time.Now().UTC().Format(time.RFC3339) },
	})
}

var (
	rootAccounts   = NewRootAccountFactory()
	meliorAccounts = NewMeliorAccountFactory()
)

// BuildRootAccount is a shorthand for building a legacy account.
func BuildRootAccount(options ...Option) map[string]interface{} {
	return rootAccounts.Build(options...)
}

// BuildMeliorAccount is a shorthand for building a Melior account.
func BuildMeliorAccount(options ...Option) map[string]interface{} {
	return meliorAccounts.Build(options...)
}
