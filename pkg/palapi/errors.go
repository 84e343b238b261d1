package palapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Code       string // short error name, e.g. "Unauthorized"
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("palapi: HTTP %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("palapi: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsUnauthorized reports whether err is an APIError with status 401.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// errorBody is the backend error envelope. Message is either a string or,
// for validation failures, a list of strings.
type errorBody struct {
	Error   string          `json:"error"`
	Message json.RawMessage `json:"message"`
}

func parseErrorResponse(resp *http.Response, body []byte) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Code:       http.StatusText(resp.StatusCode),
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	if eb.Error != "" {
		apiErr.Code = eb.Error
	}

	var single string
	var many []string
	switch {
	case len(eb.Message) == 0:
	case json.Unmarshal(eb.Message, &single) == nil:
		apiErr.Message = single
	case json.Unmarshal(eb.Message, &many) == nil:
		apiErr.Message = strings.Join(many, "; ")
	}
	return apiErr
}
