package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps an aggregation failure onto its HTTP status and sends
// the one-line human message. Unknown failure kinds fall back to 500.
func writeFailure(w http.ResponseWriter, f *domain.Failure) {
	status := http.StatusInternalServerError
	switch f.Kind {
	case domain.FailureInvalidInput:
		status = http.StatusBadRequest
	case domain.FailureVaultNotFound:
		status = http.StatusNotFound
	case domain.FailureConfigurationMissing:
		status = http.StatusInternalServerError
	case domain.FailureOnchainUnavailable:
		status = http.StatusBadGateway
	}

	payload := map[string]any{
		"error": f.Message,
		"kind":  string(f.Kind),
	}
	if f.RateLimited {
		payload["rateLimited"] = true
	}
	writeJSON(w, status, payload)
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
