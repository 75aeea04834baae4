package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madadi/accounting-bot/internal/engine"
	"github.com/madadi/accounting-bot/internal/panel"
	"github.com/madadi/accounting-bot/internal/storage"
)

type nopDispatcher struct {
	sent int
}

func (n *nopDispatcher) SendNotification(ctx context.Context, dest engine.Destination, note *engine.Notification) error {
	n.sent++
	return nil
}

type nopTopicCreator struct{}

func (nopTopicCreator) CreateTopic(ctx context.Context, chatID int64, name string) (int, error) {
	return 77, nil
}

func newTestServer(t *testing.T, secret string) (*Server, *nopDispatcher, *storage.Storage) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dispatcher := &nopDispatcher{}
	audit := engine.NewAuditRecorder(store, log)
	filter := engine.NewFilter(store, 7, log)
	router := engine.NewRouter(store, nopTopicCreator{}, -100200, -100999, 0, log)
	processor := engine.NewProcessor(filter, router, dispatcher, audit, log)

	return NewServer(store, processor, secret, log), dispatcher, store
}

func postWebhook(t *testing.T, s *Server, secret string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if secret != "" {
		req.Header.Set("x-webhook-secret", secret)
	}
	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)
	return rec
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	s, dispatcher, _ := newTestServer(t, "s3cret")

	rec := postWebhook(t, s, "wrong", []byte(`[]`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postWebhook(t, s, "", []byte(`[]`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, 0, dispatcher.sent)
}

func TestWebhookRejectsNonPost(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookProcessesBatch(t *testing.T) {
	s, dispatcher, store := newTestServer(t, "s3cret")

	events := []panel.WebhookEvent{
		{
			Action:   engine.ActionUserCreated,
			Username: "alpha",
			SendAt:   time.Now().Unix(),
			User:     &panel.User{ID: 1, Username: "alpha", Status: "active"},
			By:       &panel.Admin{ID: 1, Username: "reseller", TelegramID: 5000},
		},
		{
			Action: engine.ActionUserCreated,
			SendAt: time.Now().Unix(),
		},
	}
	body, err := json.Marshal(events)
	require.NoError(t, err)

	rec := postWebhook(t, s, "s3cret", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result engine.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, dispatcher.sent)

	_, err = store.GetSnapshot(context.Background(), "alpha")
	assert.NoError(t, err)
}

func TestWebhookAcceptsSingleObject(t *testing.T) {
	s, dispatcher, _ := newTestServer(t, "")

	body := []byte(`{"action":"user_created","username":"solo","user":{"id":2,"username":"solo","status":"active"},"by":{"id":1,"username":"reseller"}}`)
	rec := postWebhook(t, s, "", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result engine.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, dispatcher.sent)
}

func TestWebhookIsolatesUndecodableItem(t *testing.T) {
	s, dispatcher, store := newTestServer(t, "")

	// Item 2 carries an expire value no decoder accepts; its siblings must
	// still be processed and delivered.
	body := []byte(`[
		{"action":"user_created","username":"first","user":{"id":1,"username":"first","status":"active"},"by":{"id":1,"username":"reseller"}},
		{"action":"user_created","username":"broken","user":{"id":2,"username":"broken","status":"active","expire":"not-a-date"}},
		{"action":"user_created","username":"third","user":{"id":3,"username":"third","status":"active"},"by":{"id":1,"username":"reseller"}}
	]`)

	rec := postWebhook(t, s, "", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result engine.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 1, result.Failed)

	require.Len(t, result.Items, 3)
	assert.Equal(t, 1, result.Items[1].Index)
	assert.Equal(t, engine.OutcomeFailed, result.Items[1].Outcome)
	assert.Equal(t, engine.KindValidation, result.Items[1].Kind)
	assert.Contains(t, result.Items[1].Error, "decode event")

	assert.Equal(t, 2, dispatcher.sent)

	ctx := context.Background()
	_, err := store.GetSnapshot(ctx, "first")
	assert.NoError(t, err)
	_, err = store.GetSnapshot(ctx, "third")
	assert.NoError(t, err)
	_, err = store.GetSnapshot(ctx, "broken")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	rec := postWebhook(t, s, "", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestWebhookTestEndpoint(t *testing.T) {
	s, _, store := newTestServer(t, "")
	ctx := context.Background()

	require.NoError(t, store.SetSyncEnabled(ctx, true))
	topicID := 10
	_, err := store.CreateAdminTopic(ctx, &storage.AdminTopic{AdminID: 5, AdminUsername: "r", ChatID: -100200, TopicID: &topicID})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handleTest(rec, httptest.NewRequest(http.MethodGet, "/webhook/test", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["sync_enabled"])
	assert.Equal(t, float64(1), body["registered_admins"])
}
