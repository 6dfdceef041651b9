package recovery

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RecoversAndHidesToken(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodPost, "/webhook/900/42:AAH-secret_x", nil)
	req = req.WithContext(l.WithContext(req.Context()))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error","code":500}`, rr.Body.String())
	assert.Contains(t, buf.String(), `"path":"/webhook/900/<token>"`)
	assert.NotContains(t, buf.String(), "AAH-secret_x")
}

func TestMiddleware_PassThrough(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestRedactPath(t *testing.T) {
	assert.Equal(t, "/webhook/900/<token>", RedactPath("/webhook/900/123456:ABC-def_9"))
	assert.Equal(t, "/api/health", RedactPath("/api/health"))
}
