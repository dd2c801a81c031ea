package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// Envelope error codes.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeRateLimit    = "RATE_LIMIT_EXCEEDED"
	CodeScreenshot   = "SCREENSHOT_FAILED"
	CodeInvalidURL   = "INVALID_URL"
	CodeTimeout      = "TIMEOUT_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
)

type successEnvelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type errorBody struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

type errorEnvelope struct {
	Success   bool      `json:"success"`
	Error     errorBody `json:"error"`
	Timestamp string    `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, successEnvelope{Success: true, Data: data, Timestamp: timestamp()})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string, details map[string]any) {
	body := errorBody{Code: code, Message: msg, Details: details}
	if r != nil {
		body.CorrelationID = requestIDFrom(r.Context())
	}
	writeJSON(w, status, errorEnvelope{Error: body, Timestamp: timestamp()})
}

// statusFor maps an error to its HTTP status and envelope code.
func statusFor(err error) (int, string) {
	switch screenshot.KindOf(err) {
	case screenshot.KindUnsafeURL:
		return http.StatusBadRequest, CodeInvalidURL
	case screenshot.KindInvalidRequest:
		return http.StatusBadRequest, CodeValidation
	case screenshot.KindPoolExhausted:
		return http.StatusServiceUnavailable, CodeRateLimit
	case screenshot.KindNavigationTimeout:
		return http.StatusGatewayTimeout, CodeTimeout
	case screenshot.KindCancelled:
		return http.StatusServiceUnavailable, CodeScreenshot
	case screenshot.KindNotFound:
		return http.StatusNotFound, CodeNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, CodeTimeout
	}
	return http.StatusInternalServerError, CodeScreenshot
}

func writeKindError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	details := map[string]any{"kind": string(screenshot.KindOf(err))}
	writeError(w, r, status, code, err.Error(), details)
}
