package binance

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("binance: http %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("binance: http %d", e.Status)
}

// Transient reports whether the fault is worth retrying: rate limits
// (429 and the exchange's 418 auto-ban warning) and server-side errors.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == 418 || e.Status >= 500
}

func newAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Msg
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
