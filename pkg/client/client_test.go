package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/svplaksin/fssp-api/internal/testutil"
	"github.com/svplaksin/fssp-api/pkg/fssp"
)

func testClient(t *testing.T, mock *testutil.MockFSSP) *Client {
	t.Helper()

	c, err := New(Config{
		Token:   "test-token",
		BaseURL: mock.URL(),
		Timeout: 2 * time.Second,
		Retry:   fastRetryConfig(3),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("some-token"),
			expectError: false,
		},
		{
			name:        "missing token",
			config:      Config{BaseURL: DefaultBaseURL},
			expectError: true,
			errorMsg:    "api token is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{Token: "t"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.config.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want default", c.config.BaseURL)
	}
	if c.config.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", c.config.Timeout)
	}
	if c.config.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", c.config.Retry.MaxAttempts)
	}
}

func TestLookup_Found(t *testing.T) {
	mock := testutil.NewMockFSSP()
	defer mock.Close()
	mock.ScriptNumber("100/21/77001-ИП", testutil.FoundResponse(1234.56))

	c := testClient(t, mock)

	out, err := c.Lookup(context.Background(), "100/21/77001-ИП")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if out.Status != fssp.StatusFound {
		t.Errorf("Status = %v, want found", out.Status)
	}
	if out.Amount != 1234.56 {
		t.Errorf("Amount = %v, want 1234.56", out.Amount)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
	if mock.LastToken() != "test-token" {
		t.Errorf("token sent = %q, want test-token", mock.LastToken())
	}
}

func TestLookup_NoDebt(t *testing.T) {
	mock := testutil.NewMockFSSP()
	defer mock.Close()

	c := testClient(t, mock)

	out, err := c.Lookup(context.Background(), "200/21/77001-ИП")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if out.Status != fssp.StatusNoDebt {
		t.Errorf("Status = %v, want no_debt", out.Status)
	}
}

// TestLookup_TransientThenFound covers the C-number scenario: two 500s, then a
// successful answer on the third attempt.
func TestLookup_TransientThenFound(t *testing.T) {
	mock := testutil.NewMockFSSP()
	defer mock.Close()
	mock.ScriptNumber("C",
		testutil.ServerErrorResponse(),
		testutil.ServerErrorResponse(),
		testutil.FoundResponse(50),
	)

	c := testClient(t, mock)

	out, err := c.Lookup(context.Background(), "C")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if out.Status != fssp.StatusFound || out.Amount != 50 {
		t.Errorf("outcome = %+v, want Found(50)", out)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
	if mock.RequestsFor("C") != 3 {
		t.Errorf("requests = %d, want 3", mock.RequestsFor("C"))
	}
}

func TestLookup_ExhaustionYieldsFailedOutcome(t *testing.T) {
	mock := testutil.NewMockFSSP()
	defer mock.Close()
	mock.SetFallback(testutil.ServerErrorResponse())

	c := testClient(t, mock)

	out, err := c.Lookup(context.Background(), "300/21/77001-ИП")
	if err != nil {
		t.Fatalf("Lookup() error = %v, exhaustion is per-number, not run-level", err)
	}
	if out.Status != fssp.StatusFailed {
		t.Errorf("Status = %v, want failed", out.Status)
	}
	if out.Reason != fssp.ReasonExhausted {
		t.Errorf("Reason = %q, want exhausted", out.Reason)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
}

func TestLookup_RateLimitedIsRetried(t *testing.T) {
	mock := testutil.NewMockFSSP()
	defer mock.Close()
	mock.ScriptNumber("400/21/77001-ИП",
		testutil.RateLimitedResponse(),
		testutil.FoundResponse(10),
	)

	c := testClient(t, mock)

	out, err := c.Lookup(context.Background(), "400/21/77001-ИП")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if out.Status != fssp.StatusFound {
		t.Errorf("Status = %v, want found", out.Status)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
}

func TestLookup_ClientErrorIsTerminal(t *testing.T) {
	mock := testutil.NewMockFSSP()
	defer mock.Close()
	mock.ScriptNumber("bad-number", testutil.BadRequestResponse())

	c := testClient(t, mock)

	out, err := c.Lookup(context.Background(), "bad-number")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if out.Status != fssp.StatusFailed || out.Reason != fssp.ReasonRejected {
		t.Errorf("outcome = %+v, want Failed(rejected)", out)
	}
	if mock.RequestsFor("bad-number") != 1 {
		t.Errorf("requests = %d, want 1 (4xx must not be retried)", mock.RequestsFor("bad-number"))
	}
}

func TestLookup_AccessDeniedIsFatal(t *testing.T) {
	mock := testutil.NewMockFSSP()
	defer mock.Close()
	mock.SetFallback(testutil.AccessDeniedResponse())

	c := testClient(t, mock)

	_, err := c.Lookup(context.Background(), "500/21/77001-ИП")
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Lookup() error = %v, want ErrAccessDenied", err)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (fatal errors must not be retried)", mock.RequestCount())
	}
}

func TestLookup_TimeoutIsRetried(t *testing.T) {
	mock := testutil.NewMockFSSP()
	defer mock.Close()
	slow := testutil.FoundResponse(1)
	slow.Delay = 200 * time.Millisecond
	mock.ScriptNumber("slow", slow, testutil.FoundResponse(1))

	c, err := New(Config{
		Token:   "test-token",
		BaseURL: mock.URL(),
		Timeout: 50 * time.Millisecond,
		Retry:   fastRetryConfig(3),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := c.Lookup(context.Background(), "slow")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if out.Status != fssp.StatusFound {
		t.Errorf("Status = %v, want found after timeout retry", out.Status)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
}

func TestVerifyToken(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		mock := testutil.NewMockFSSP()
		defer mock.Close()

		c := testClient(t, mock)
		if err := c.VerifyToken(context.Background()); err != nil {
			t.Errorf("VerifyToken() error = %v", err)
		}
	})

	t.Run("rejected token fails fast", func(t *testing.T) {
		mock := testutil.NewMockFSSP()
		defer mock.Close()
		mock.SetFallback(testutil.AccessDeniedResponse())

		c := testClient(t, mock)
		err := c.VerifyToken(context.Background())
		if !errors.Is(err, ErrAccessDenied) {
			t.Errorf("VerifyToken() error = %v, want ErrAccessDenied", err)
		}
	})

	t.Run("empty balance fails fast", func(t *testing.T) {
		mock := testutil.NewMockFSSP()
		defer mock.Close()
		mock.SetFallback(testutil.NoBalanceResponse())

		c := testClient(t, mock)
		err := c.VerifyToken(context.Background())
		if !errors.Is(err, ErrInsufficientBalance) {
			t.Errorf("VerifyToken() error = %v, want ErrInsufficientBalance", err)
		}
	})
}

// TestLookup_Idempotent verifies that re-running a lookup under unchanged
// remote state yields the same amount.
func TestLookup_Idempotent(t *testing.T) {
	mock := testutil.NewMockFSSP()
	defer mock.Close()
	mock.ScriptNumber("A", testutil.FoundResponse(100))

	c := testClient(t, mock)

	first, err := c.Lookup(context.Background(), "A")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	second, err := c.Lookup(context.Background(), "A")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if first.Amount != second.Amount || first.Status != second.Status {
		t.Errorf("outcomes differ: %+v vs %+v", first, second)
	}
}

func TestLookup_NetworkErrorExhausts(t *testing.T) {
	// Server that immediately closes connections.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("server does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		conn.Close()
	}))
	defer srv.Close()

	c, err := New(Config{
		Token:   "t",
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retry:   fastRetryConfig(2),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := c.Lookup(context.Background(), "net")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if out.Status != fssp.StatusFailed || out.Reason != fssp.ReasonExhausted {
		t.Errorf("outcome = %+v, want Failed(exhausted)", out)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
}
