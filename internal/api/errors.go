package api

import (
	"log/slog"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/LeventeLantos/flight-sms/internal/service"
)

const (
	textCodeBadInput = "BAD_INPUT"
	textCodeInternal = "INTERNAL"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Category  string `json:"category"`
	TextCode  string `json:"textCode,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func badInput(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(textCodeBadInput)
}

func unauthenticated() error {
	return goerrors.New("authentication required", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(service.TextCodeUnauthenticated)
}

// writeError renders err as a JSON envelope. Errors that are not go-errors
// envelopes become opaque 500s.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rid := RequestIDFromContext(r.Context())

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		slog.Error("unhandled request error", "request_id", rid, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Category:  string(goerrors.CategoryInternal),
			TextCode:  textCodeInternal,
			Message:   "internal error",
			RequestID: rid,
		}})
		return
	}

	status := rich.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		slog.Error("request failed", "request_id", rid, "path", r.URL.Path, "error", err)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Category:  string(rich.Category),
		TextCode:  rich.TextCode,
		Message:   rich.Message,
		RequestID: rid,
	}})
}
