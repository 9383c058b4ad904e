// Package testutil provides testing utilities for the FSSP debt checker.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines one scripted response from the mock FSSP endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockFSSP is a configurable mock FSSP API server. Responses are scripted per
// enforcement number as a sequence; the last entry repeats once the script
// runs out, so "fail twice then succeed" scenarios are a three-entry script.
type MockFSSP struct {
	server *httptest.Server

	mu        sync.Mutex
	scripts   map[string][]MockResponse
	served    map[string]int
	fallback  MockResponse
	lastToken string

	// Tracking
	requestCount int
	inFlight     int
	maxInFlight  int
}

// NewMockFSSP creates a new mock FSSP server. By default every number
// resolves to "no debt".
func NewMockFSSP() *MockFSSP {
	mock := &MockFSSP{
		scripts:  make(map[string][]MockResponse),
		served:   make(map[string]int),
		fallback: NoDebtResponse(),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL, usable as the client's BaseURL.
func (m *MockFSSP) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFSSP) Close() {
	m.server.Close()
}

// ScriptNumber sets the response sequence for one number.
func (m *MockFSSP) ScriptNumber(number string, seq ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[number] = seq
}

// SetFallback sets the response used for unscripted numbers.
func (m *MockFSSP) SetFallback(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = resp
}

// RequestCount returns the total number of requests served.
func (m *MockFSSP) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// RequestsFor returns how many requests were served for one number.
func (m *MockFSSP) RequestsFor(number string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served[number]
}

// MaxInFlight returns the highest number of simultaneously open requests
// observed, for asserting concurrency caps.
func (m *MockFSSP) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// LastToken returns the token query parameter of the most recent request.
func (m *MockFSSP) LastToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastToken
}

func (m *MockFSSP) handle(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")

	m.mu.Lock()
	m.requestCount++
	m.lastToken = r.URL.Query().Get("token")
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}

	resp := m.fallback
	if seq, ok := m.scripts[number]; ok && len(seq) > 0 {
		idx := m.served[number]
		if idx >= len(seq) {
			idx = len(seq) - 1
		}
		resp = seq[idx]
	}
	m.served[number]++
	m.mu.Unlock()

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// FoundResponse creates a response reporting a debt with the given amount.
func FoundResponse(amount float64) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"status": 200, "count": 1, "records": [{"sum": "%.2f"}]}`, amount),
	}
}

// NoDebtResponse creates a response reporting no outstanding debt.
func NoDebtResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"status": 200, "count": 0, "records": []}`,
	}
}

// ServerErrorResponse creates an HTTP 500 response.
func ServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal"}`,
	}
}

// RateLimitedResponse creates an HTTP 429 response.
func RateLimitedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
	}
}

// AccessDeniedResponse creates the API body for a rejected token (code 602).
func AccessDeniedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"error": "602", "message": "access denied"}`,
	}
}

// NoBalanceResponse creates the API body for an exhausted balance (code 498).
func NoBalanceResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"error": "498", "message": "insufficient balance"}`,
	}
}

// BadRequestResponse creates an HTTP 400 response for a malformed number.
func BadRequestResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error": "bad request"}`,
	}
}
