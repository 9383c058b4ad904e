package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/svplaksin/fssp-api/pkg/fssp"
)

// API error codes carried inside an HTTP 200 body.
const (
	apiErrorAccessDenied = "602"
	apiErrorNoBalance    = "498"
)

// apiResponse mirrors the api-cloud.ru FSSP endpoint body.
type apiResponse struct {
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Status  int         `json:"status"`
	Count   int         `json:"count"`
	Records []apiRecord `json:"records"`
}

type apiRecord struct {
	// Sum arrives as either a JSON number or a numeric string.
	Sum json.Number `json:"sum"`
}

// parseResponse turns a 200-level API body into a terminal outcome.
// Token-level error codes surface as fatal errors; an API-internal non-200
// status surfaces as a retryable APIError; everything else terminates the
// number with a Found / NoDebt / Failed outcome.
func parseResponse(number string, body []byte) (fssp.Outcome, error) {
	var data apiResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return fssp.Outcome{
			Number: number,
			Status: fssp.StatusFailed,
			Reason: fssp.ReasonBadResponse,
		}, nil
	}

	if data.Error != "" {
		switch data.Error {
		case apiErrorAccessDenied:
			return fssp.Outcome{}, fmt.Errorf("%w: %s", ErrAccessDenied, data.Message)
		case apiErrorNoBalance:
			return fssp.Outcome{}, fmt.Errorf("%w: %s", ErrInsufficientBalance, data.Message)
		default:
			return fssp.Outcome{
				Number: number,
				Status: fssp.StatusFailed,
				Reason: fssp.ReasonRejected,
			}, nil
		}
	}

	if data.Status != http.StatusOK {
		// The API reports its own upstream trouble this way; worth a retry.
		return fssp.Outcome{}, &APIError{
			StatusCode: data.Status,
			ErrorClass: ErrorClassServer,
			Message:    fmt.Sprintf("api-level status %d", data.Status),
		}
	}

	switch data.Count {
	case 1:
		if len(data.Records) == 0 {
			return fssp.Outcome{
				Number: number,
				Status: fssp.StatusFailed,
				Reason: fssp.ReasonBadResponse,
			}, nil
		}
		amount, err := data.Records[0].Sum.Float64()
		if err != nil {
			return fssp.Outcome{
				Number: number,
				Status: fssp.StatusFailed,
				Reason: fssp.ReasonBadResponse,
			}, nil
		}
		return fssp.Outcome{
			Number: number,
			Status: fssp.StatusFound,
			Amount: amount,
		}, nil
	case 0:
		return fssp.Outcome{
			Number: number,
			Status: fssp.StatusNoDebt,
		}, nil
	default:
		// The ip lookup type is defined to match at most one record.
		return fssp.Outcome{
			Number: number,
			Status: fssp.StatusFailed,
			Reason: fssp.ReasonBadResponse,
		}, nil
	}
}
