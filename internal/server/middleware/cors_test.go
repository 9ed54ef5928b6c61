package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsGet(t *testing.T, allowed []string, origin, method string) *httptest.ResponseRecorder {
	t.Helper()
	handler := CORS(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/api/vaults/1", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	rec := corsGet(t, []string{"http://localhost:3000"}, "http://localhost:3000", http.MethodGet)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	// A read-only API admits only reads.
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSRejectsUnlistedOrigin(t *testing.T) {
	rec := corsGet(t, []string{"http://localhost:3000"}, "http://evil.example", http.MethodGet)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSEmptyAllowlistAdmitsAll(t *testing.T) {
	rec := corsGet(t, nil, "http://anywhere.example", http.MethodGet)
	assert.Equal(t, "http://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec := corsGet(t, nil, "http://localhost:3000", http.MethodOptions)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
