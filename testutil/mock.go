package testutil

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dan-strohschein/campfire-go/protocol"
)

// Backend names used in Call.Backend.
const (
	BackendRoot   = "root"
	BackendMelior = "melior"
)

var operationName = regexp.MustCompile(`^\s*(query|mutation)\s+(\w+)`)

// MockServer runs fake Root and Melior backends on loopback HTTP servers.
// Responses are scripted with expectations, in the order they were declared.
//
// Example usage:
//
//	srv := testutil.NewMockServer(t)
//	srv.ExpectRequest("RAccountsGet").WillReturn(map[string]interface{}{"account": acc})
//	srv.ExpectQuery("Me").WillReturn(map[string]interface{}{"me": me})
//
//	c, err := client.NewBuilder().
//	    WithRootURI(srv.RootURL()).
//	    WithMeliorURI(srv.MeliorURL()).
//	    Build(ctx)
//	...
//	srv.VerifyExpectations(t)
type MockServer struct {
	root   *httptest.Server
	melior *httptest.Server

	mu           sync.Mutex
	expectations []*Expectation
	calls        []Call
	unexpected   []string
	strict       bool // If true, unexpected calls fail VerifyExpectations
}

// Expectation is a scripted response to a named operation.
type Expectation struct {
	backend string
	name    string

	data        interface{}
	dataFunc    func(call *Call) interface{}
	rootError   map[string]interface{}
	graphQLErrs []protocol.GraphQLRawError
	status      int
	statusBody  string

	delay           time.Duration
	noContentLength bool

	times       int // Expected number of calls (-1 = any)
	actualCalls int
}

// Call is a request as the fake backend received it.
type Call struct {
	Backend string
	Name    string
	Header  http.Header

	// Root is set for Root calls.
	Root *protocol.DecodedRootRequest
	// Melior is set for Melior calls.
	Melior *protocol.MeliorRequest
}

// Token returns the access token the call carried, or "".
func (c *Call) Token() string {
	if c.Root != nil {
		return c.Root.AccessToken
	}
	return strings.TrimPrefix(c.Header.Get("Authorization"), "Bearer ")
}

// BotToken returns the bot token the call carried, or "".
func (c *Call) BotToken() string {
	if c.Root != nil {
		return c.Root.BotToken
	}
	return c.Header.Get("X-Bot-Token")
}

// Variables decodes the Melior variables into v.
func (c *Call) Variables(v interface{}) error {
	if c.Melior == nil || len(c.Melior.Variables) == 0 {
		return fmt.Errorf("call %s has no variables", c.Name)
	}
	return json.Unmarshal(c.Melior.Variables, v)
}

// NewMockServer starts plain HTTP fake backends, closed when the test ends.
func NewMockServer(t testing.TB) *MockServer {
	t.Helper()
	s := &MockServer{}
	s.root = httptest.NewServer(s.handler(BackendRoot))
	s.melior = httptest.NewServer(s.handler(BackendMelior))
	t.Cleanup(s.Close)
	return s
}

// NewMockTLSServer starts HTTPS fake backends. Trust them with CertPool.
func NewMockTLSServer(t testing.TB) *MockServer {
	t.Helper()
	s := &MockServer{}
	s.root = httptest.NewTLSServer(s.handler(BackendRoot))
	s.melior = httptest.NewTLSServer(s.handler(BackendMelior))
	t.Cleanup(s.Close)
	return s
}

// Close shuts both backends down.
func (s *MockServer) Close() {
	s.root.Close()
	s.melior.Close()
}

// RootURL is the base URI of the fake Root backend.
func (s *MockServer) RootURL() string {
	return s.root.URL + "/"
}

// MeliorURL is the GraphQL endpoint of the fake Melior backend.
func (s *MockServer) MeliorURL() string {
	return s.melior.URL + "/graphql"
}

// CertPool trusts the certificates of a TLS mock server.
func (s *MockServer) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, srv := range []*httptest.Server{s.root, s.melior} {
		if cert := srv.Certificate(); cert != nil {
			pool.AddCert(cert)
		}
	}
	return pool
}

// Strict makes unexpected calls fail VerifyExpectations.
func (s *MockServer) Strict() *MockServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strict = true
	return s
}

// ExpectRequest sets up an expectation for a Root request name.
func (s *MockServer) ExpectRequest(name string) *Expectation {
	return s.expect(BackendRoot, name)
}

// ExpectQuery sets up an expectation for a Melior operation, matched by the
// operation name in the query document.
func (s *MockServer) ExpectQuery(operation string) *Expectation {
	return s.expect(BackendMelior, operation)
}

func (s *MockServer) expect(backend, name string) *Expectation {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp := &Expectation{backend: backend, name: name, times: 1}
	s.expectations = append(s.expectations, exp)
	return exp
}

// WillReturn sets the success payload: J_RESPONSE for Root, data for Melior.
func (e *Expectation) WillReturn(data interface{}) *Expectation {
	e.data = data
	return e
}

// WillReturnFunc computes the success payload from the call.
func (e *Expectation) WillReturnFunc(fn func(call *Call) interface{}) *Expectation {
	e.dataFunc = fn
	return e
}

// WillReturnRootError answers with a J_STATUS_ERROR envelope. Params are encoded
// as given, so numbers stay bare numbers on the wire.
func (e *Expectation) WillReturnRootError(code string, message string, params ...interface{}) *Expectation {
	e.rootError = map[string]interface{}{"code": code}
	if message != "" {
		e.rootError["messageError"] = message
	}
	if len(params) > 0 {
		e.rootError["params"] = params
	}
	return e
}

// WillReturnGraphQLError answers with one entry per message in "errors".
func (e *Expectation) WillReturnGraphQLError(messages ...string) *Expectation {
	for _, m := range messages {
		e.graphQLErrs = append(e.graphQLErrs, protocol.GraphQLRawError{Message: m})
	}
	return e
}

// WillReturnGraphQLErrors answers with the given "errors" list.
func (e *Expectation) WillReturnGraphQLErrors(errs ...protocol.GraphQLRawError) *Expectation {
	e.graphQLErrs = append(e.graphQLErrs, errs...)
	return e
}

// WillReturnStatus answers with a bare HTTP status and body.
func (e *Expectation) WillReturnStatus(code int, body string) *Expectation {
	e.status = code
	e.statusBody = body
	return e
}

// WithDelay holds the response back, or until the client gives up.
func (e *Expectation) WithDelay(d time.Duration) *Expectation {
	e.delay = d
	return e
}

// WithoutContentLength streams the response chunked.
func (e *Expectation) WithoutContentLength() *Expectation {
	e.noContentLength = true
	return e
}

// Times sets the expected number of times this call should occur.
// Use -1 for "any number of times".
func (e *Expectation) Times(n int) *Expectation {
	e.times = n
	return e
}

// Once is a shorthand for Times(1).
func (e *Expectation) Once() *Expectation {
	return e.Times(1)
}

// Twice is a shorthand for Times(2).
func (e *Expectation) Twice() *Expectation {
	return e.Times(2)
}

// AnyTimes allows this expectation to match any number of times.
func (e *Expectation) AnyTimes() *Expectation {
	return e.Times(-1)
}

func (s *MockServer) handler(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		call, err := parseCall(backend, r.Header, body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		exp := s.match(call)
		if exp == nil {
			http.Error(w, "unexpected call "+backend+"/"+call.Name, http.StatusInternalServerError)
			return
		}

		if exp.delay > 0 {
			select {
			case <-time.After(exp.delay):
			case <-r.Context().Done():
				return
			}
		}
		exp.respond(w, call)
	}
}

func parseCall(backend string, header http.Header, body []byte) (*Call, error) {
	call := &Call{Backend: backend, Header: header.Clone()}
	if backend == BackendRoot {
		req, err := protocol.DecodeRootRequest(body)
		if err != nil {
			return nil, err
		}
		call.Root = req
		call.Name = req.Name
		return call, nil
	}

	req, err := protocol.DecodeMeliorRequest(body)
	if err != nil {
		return nil, err
	}
	call.Melior = req
	if m := operationName.FindStringSubmatch(req.Query); m != nil {
		call.Name = m[2]
	}
	return call, nil
}

// match records the call and claims the first expectation with calls left.
func (s *MockServer) match(call *Call) *Expectation {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, *call)
	for _, exp := range s.expectations {
		if exp.backend != call.Backend || exp.name != call.Name {
			continue
		}
		if exp.times == -1 || exp.actualCalls < exp.times {
			exp.actualCalls++
			return exp
		}
	}
	s.unexpected = append(s.unexpected, call.Backend+"/"+call.Name)
	return nil
}

func (e *Expectation) respond(w http.ResponseWriter, call *Call) {
	if e.status != 0 {
		w.Header().Set("Content-Length", strconv.Itoa(len(e.statusBody)))
		w.WriteHeader(e.status)
		io.WriteString(w, e.statusBody)
		return
	}

	body, err := e.body(call)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if e.noContentLength {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		w.Write(body)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (e *Expectation) body(call *Call) ([]byte, error) {
	data := e.data
	if e.dataFunc != nil {
		data = e.dataFunc(call)
	}

	if e.backend == BackendRoot {
		if e.rootError != nil {
			return protocol.EncodeRootResponse(protocol.RootStatusError, e.rootError)
		}
		if data == nil {
			data = map[string]interface{}{}
		}
		return protocol.EncodeRootResponse(protocol.RootStatusOK, data)
	}
	if data == nil && len(e.graphQLErrs) == 0 {
		data = map[string]interface{}{}
	}
	return protocol.EncodeMeliorResponse(data, e.graphQLErrs)
}

// VerifyExpectations fails the test for expectations not met, and in strict mode
// for calls nothing expected.
func (s *MockServer) VerifyExpectations(t testing.TB) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, exp := range s.expectations {
		if exp.times != -1 && exp.actualCalls != exp.times {
			t.Errorf("expectation %s/%s: expected %d calls, got %d", exp.backend, exp.name, exp.times, exp.actualCalls)
		}
	}
	if s.strict && len(s.unexpected) > 0 {
		t.Errorf("unexpected calls: %s", strings.Join(s.unexpected, ", "))
	}
}

// GetCalls returns every call received so far.
func (s *MockServer) GetCalls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	calls := make([]Call, len(s.calls))
	copy(calls, s.calls)
	return calls
}

// GetCallCount returns how many calls to name were received.
func (s *MockServer) GetCallCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, call := range s.calls {
		if call.Name == name {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call to name.
func (s *MockServer) LastCall(name string) (*Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].Name == name {
			call := s.calls[i]
			return &call, true
		}
	}
	return nil, false
}

// Reset clears expectations and recorded calls.
func (s *MockServer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expectations = nil
	s.calls = nil
	s.unexpected = nil
}
