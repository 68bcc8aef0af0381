// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Error variables for common provider failures. APIError values match them
// through errors.Is.
var (
	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrLineTooLong indicates a stream line exceeded MaxLineSize.
	ErrLineTooLong = errors.New("stream line too long")

	// ErrNotEventStream indicates a successful response carried no usable
	// data frames, e.g. a JSON error body or a non-streaming completion.
	ErrNotEventStream = errors.New("response was not an event stream")
)

// APIError represents an error response from the completion service.
// Status is zero for errors reported inside an event stream.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status == 0 {
		if e.Code != "" {
			return fmt.Sprintf("provider error [%s] in stream: %s", e.Code, e.Message)
		}
		return "provider error in stream: " + e.Message
	}
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// Is maps status codes onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrModelNotFound:
		return e.Status == http.StatusNotFound
	case ErrInsufficientCredits:
		return e.Status == http.StatusPaymentRequired
	}
	return false
}

// errorBody is the {"error": {...}} envelope OpenAI-compatible servers use.
type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (b *errorBody) code() string {
	switch c := b.Code.(type) {
	case string:
		if c != "" {
			return c
		}
	case float64:
		return fmt.Sprintf("%.0f", c)
	}
	return b.Type
}

// parseErrorResponse converts an HTTP error response into an *APIError.
func parseErrorResponse(statusCode int, body []byte) *APIError {
	var envelope struct {
		Error *errorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return &APIError{
			Code:    envelope.Error.code(),
			Message: envelope.Error.Message,
			Status:  statusCode,
		}
	}

	msg := string(body)
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &APIError{Message: msg, Status: statusCode}
}

// StreamError wraps a read failure in the middle of a stream.
type StreamError struct {
	Err error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// UserMessage turns a request failure into the short text shown in place of
// the reply.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrAuthFailed):
		return "Request failed: the API key was rejected."
	case errors.Is(err, ErrRateLimited):
		return "Request failed: rate limited by the provider, try again shortly."
	case errors.Is(err, ErrModelNotFound):
		return "Request failed: the selected model is not available."
	case errors.Is(err, ErrInsufficientCredits):
		return "Request failed: insufficient credits."
	case errors.As(err, &apiErr) && apiErr.Status == 0:
		return "Request failed: " + apiErr.Message
	case errors.As(err, &apiErr):
		return fmt.Sprintf("Request failed (HTTP %d): %s", apiErr.Status, apiErr.Message)
	case errors.Is(err, context.Canceled):
		return "Request cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out."
	}
	return "Request failed: " + err.Error()
}
