package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmrelay/pmrelay/internal/dispatch"
	"github.com/pmrelay/pmrelay/internal/telegram"
)

type recordingHandler struct {
	mu      sync.Mutex
	updates []int64
	done    chan struct{}
}

func (h *recordingHandler) HandleUpdate(_ context.Context, u *telegram.Update) error {
	h.mu.Lock()
	h.updates = append(h.updates, u.UpdateID)
	h.mu.Unlock()
	if h.done != nil {
		h.done <- struct{}{}
	}
	return nil
}

type fakeBots struct {
	handler UpdateHandler
	err     error
	asked   []string
}

func (f *fakeBots) Lookup(token string, _ int64) (UpdateHandler, error) {
	f.asked = append(f.asked, token)
	return f.handler, f.err
}

// fullQueue rejects every submission.
type fullQueue struct{}

func (fullQueue) Submit(context.Context, string, dispatch.Job) error {
	return &dispatch.QueueFullError{Shard: 0, Length: 1, Capacity: 1}
}

func newTestRouter(t *testing.T, bots Bots, sub Submitter, secret string) http.Handler {
	t.Helper()
	wh := NewWebhookHandler(bots, sub, secret, time.Second)
	return NewRouter(zerolog.Nop(), "webhook", wh, NewHealthHandler(func() bool { return true }))
}

func post(t *testing.T, h http.Handler, path, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// keyRecorder accepts submissions without running them.
type keyRecorder struct{ keys []string }

func (k *keyRecorder) Submit(_ context.Context, key string, _ dispatch.Job) error {
	k.keys = append(k.keys, key)
	return nil
}

const updateBody = `{"update_id":7,"message":{"message_id":1,"chat":{"id":555,"type":"private"},"date":1,"text":"hi"}}`

func TestWebhook_AcceptsAndDispatches(t *testing.T) {
	handler := &recordingHandler{done: make(chan struct{}, 1)}
	bots := &fakeBots{handler: handler}
	ex := dispatch.NewExecutor(dispatch.Config{Shards: 1})
	defer ex.Stop()

	rr := post(t, newTestRouter(t, bots, ex, "s3cret"), "/webhook/900/42:abc", updateBody, "s3cret")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	_, err := uuid.Parse(rr.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
	assert.Equal(t, []string{"42:abc"}, bots.asked)

	select {
	case <-handler.done:
	case <-time.After(time.Second):
		t.Fatal("update was not handled")
	}
	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []int64{7}, handler.updates)
}

func TestWebhook_OneOrderingKeyPerBot(t *testing.T) {
	rec := &keyRecorder{}
	h := newTestRouter(t, &fakeBots{handler: &recordingHandler{}}, rec, "")

	group := `{"update_id":8,"message":{"message_id":2,"chat":{"id":-100123,"type":"supergroup"},"date":1,"text":"yo"}}`
	other := `{"update_id":9,"message":{"message_id":3,"chat":{"id":556,"type":"private"},"date":1,"text":"hey"}}`
	for _, body := range []string{updateBody, group, other} {
		require.Equal(t, http.StatusOK, post(t, h, "/webhook/900/42:abc", body, "").Code)
	}
	require.Equal(t, http.StatusOK, post(t, h, "/webhook/901/43:xyz", updateBody, "").Code)

	assert.Equal(t, []string{"bot:42", "bot:42", "bot:42", "bot:43"}, rec.keys)
}

func TestWebhook_Rejections(t *testing.T) {
	ex := dispatch.NewExecutor(dispatch.Config{Shards: 1})
	defer ex.Stop()
	ok := &fakeBots{handler: &recordingHandler{}}

	cases := []struct {
		name   string
		bots   Bots
		sub    Submitter
		path   string
		body   string
		secret string
		want   int
	}{
		{"bad secret", ok, ex, "/webhook/900/42:abc", updateBody, "wrong", http.StatusUnauthorized},
		{"missing secret", ok, ex, "/webhook/900/42:abc", updateBody, "", http.StatusUnauthorized},
		{"bad owner", ok, ex, "/webhook/owner/42:abc", updateBody, "s3cret", http.StatusBadRequest},
		{"bad token", ok, ex, "/webhook/900/abc", updateBody, "s3cret", http.StatusBadRequest},
		{"bad body", ok, ex, "/webhook/900/42:abc", "{", "s3cret", http.StatusBadRequest},
		{"unknown bot", &fakeBots{err: ErrUnknownBot}, ex, "/webhook/900/42:abc", updateBody, "s3cret", http.StatusUnauthorized},
		{"lookup failure", &fakeBots{err: errors.New("store down")}, ex, "/webhook/900/42:abc", updateBody, "s3cret", http.StatusServiceUnavailable},
		{"queue full", ok, fullQueue{}, "/webhook/900/42:abc", updateBody, "s3cret", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := post(t, newTestRouter(t, tc.bots, tc.sub, "s3cret"), tc.path, tc.body, tc.secret)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}
}

func TestWebhook_NoSecretConfigured(t *testing.T) {
	ex := dispatch.NewExecutor(dispatch.Config{Shards: 1})
	defer ex.Stop()
	rr := post(t, newTestRouter(t, &fakeBots{handler: &recordingHandler{}}, ex, ""), "/webhook/900/42:abc", updateBody, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealth(t *testing.T) {
	healthy := false
	wh := NewWebhookHandler(&fakeBots{}, fullQueue{}, "", time.Second)
	r := NewRouter(zerolog.Nop(), "webhook", wh, NewHealthHandler(func() bool { return healthy }))

	for _, want := range []string{"unhealthy", "healthy"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, want, body["status"])
		healthy = true
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, &fakeBots{}, fullQueue{}, "")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
