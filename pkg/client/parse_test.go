package client

import (
	"errors"
	"testing"

	"github.com/svplaksin/fssp-api/pkg/fssp"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus fssp.Status
		wantAmount float64
		wantReason string
	}{
		{
			name:       "debt found with string sum",
			body:       `{"status": 200, "count": 1, "records": [{"sum": "1500.50"}]}`,
			wantStatus: fssp.StatusFound,
			wantAmount: 1500.50,
		},
		{
			name:       "debt found with numeric sum",
			body:       `{"status": 200, "count": 1, "records": [{"sum": 100}]}`,
			wantStatus: fssp.StatusFound,
			wantAmount: 100,
		},
		{
			name:       "no debt",
			body:       `{"status": 200, "count": 0, "records": []}`,
			wantStatus: fssp.StatusNoDebt,
		},
		{
			name:       "invalid json",
			body:       `{"status": 200, "count`,
			wantStatus: fssp.StatusFailed,
			wantReason: fssp.ReasonBadResponse,
		},
		{
			name:       "count one without records",
			body:       `{"status": 200, "count": 1, "records": []}`,
			wantStatus: fssp.StatusFailed,
			wantReason: fssp.ReasonBadResponse,
		},
		{
			name:       "unparseable sum",
			body:       `{"status": 200, "count": 1, "records": [{"sum": "abc"}]}`,
			wantStatus: fssp.StatusFailed,
			wantReason: fssp.ReasonBadResponse,
		},
		{
			name:       "unexpected count",
			body:       `{"status": 200, "count": 3, "records": []}`,
			wantStatus: fssp.StatusFailed,
			wantReason: fssp.ReasonBadResponse,
		},
		{
			name:       "unknown api error code",
			body:       `{"error": "400", "message": "bad number"}`,
			wantStatus: fssp.StatusFailed,
			wantReason: fssp.ReasonRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := parseResponse("123/21/77001-ИП", []byte(tt.body))
			if err != nil {
				t.Fatalf("parseResponse() error = %v", err)
			}
			if out.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", out.Status, tt.wantStatus)
			}
			if out.Amount != tt.wantAmount {
				t.Errorf("Amount = %v, want %v", out.Amount, tt.wantAmount)
			}
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
			}
			if out.Status != "" && out.Number != "123/21/77001-ИП" {
				t.Errorf("Number = %q, want input number", out.Number)
			}
		})
	}
}

func TestParseResponse_FatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{
			name:    "access denied",
			body:    `{"error": "602", "message": "access denied"}`,
			wantErr: ErrAccessDenied,
		},
		{
			name:    "insufficient balance",
			body:    `{"error": "498", "message": "no money"}`,
			wantErr: ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseResponse("1/1/1-ИП", []byte(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("parseResponse() error = %v, want %v", err, tt.wantErr)
			}
			if !IsFatal(err) {
				t.Errorf("IsFatal(%v) = false, want true", err)
			}
		})
	}
}

func TestParseResponse_APILevelStatusIsRetryable(t *testing.T) {
	_, err := parseResponse("1/1/1-ИП", []byte(`{"status": 503, "count": 0}`))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("parseResponse() error = %v, want *APIError", err)
	}
	if apiErr.ErrorClass != ErrorClassServer {
		t.Errorf("ErrorClass = %v, want server", apiErr.ErrorClass)
	}
	if !shouldRetry(apiErr.ErrorClass) {
		t.Error("api-level non-200 status must be retryable")
	}
}
