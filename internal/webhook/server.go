package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/madadi/accounting-bot/internal/engine"
	"github.com/madadi/accounting-bot/internal/panel"
	"github.com/madadi/accounting-bot/internal/storage"
)

// Server receives event batches from the panel
type Server struct {
	store     *storage.Storage
	processor *engine.Processor
	secret    string
	log       *slog.Logger

	server *http.Server
}

// NewServer creates a new webhook server
func NewServer(store *storage.Storage, processor *engine.Processor, secret string, log *slog.Logger) *Server {
	return &Server{
		store:     store,
		processor: processor,
		secret:    secret,
		log:       log,
	}
}

// Start starts the webhook server
func (s *Server) Start(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/webhook/test", s.handleTest)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("starting webhook server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	enabled, _ := s.store.SyncEnabled(r.Context())
	topics, _ := s.store.ListAdminTopics(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"sync_enabled":      enabled,
		"registered_admins": len(topics),
		"webhook_url":       "/webhook (POST)",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if s.secret != "" && r.Header.Get("x-webhook-secret") != s.secret {
		s.log.Warn("webhook secret mismatch", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	items, err := decodeEvents(r)
	if err != nil {
		s.log.Warn("invalid webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	s.log.Info("webhook received", "events", len(items), "remote", r.RemoteAddr)

	result := s.processBatch(r.Context(), items)

	writeJSON(w, http.StatusOK, result)
}

// batchItem is one payload element: a decoded event, or the decode error
// when the element's JSON does not bind to an event.
type batchItem struct {
	event *panel.WebhookEvent
	err   error
}

// decodeEvents accepts either a JSON array of events or a single event
// object, which the panel sends for one-off actions. An element that fails
// to decode is carried as a per-item error so its siblings still process;
// only an unreadable body fails the request.
func decodeEvents(r *http.Request) ([]batchItem, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		elems = []json.RawMessage{raw}
	}

	items := make([]batchItem, 0, len(elems))
	for _, elem := range elems {
		var ev panel.WebhookEvent
		if err := json.Unmarshal(elem, &ev); err != nil {
			items = append(items, batchItem{err: err})
			continue
		}
		items = append(items, batchItem{event: &ev})
	}
	return items, nil
}

// processBatch runs the decodable events through the processor and splices
// decode failures back in at their payload positions.
func (s *Server) processBatch(ctx context.Context, items []batchItem) *engine.BatchResult {
	events := make([]panel.WebhookEvent, 0, len(items))
	positions := make([]int, 0, len(items))
	var failed []engine.ItemResult

	for i, item := range items {
		if item.err != nil {
			s.log.Warn("undecodable webhook event", "index", i, "error", item.err)
			failed = append(failed, engine.ItemResult{
				Index:   i,
				Outcome: engine.OutcomeFailed,
				Error:   "decode event: " + item.err.Error(),
				Kind:    engine.KindValidation,
			})
			continue
		}
		events = append(events, *item.event)
		positions = append(positions, i)
	}

	result := s.processor.ProcessBatch(ctx, events)
	for i := range result.Items {
		result.Items[i].Index = positions[i]
	}

	result.Total = len(items)
	result.Failed += len(failed)
	result.Items = append(result.Items, failed...)
	sort.Slice(result.Items, func(a, b int) bool {
		return result.Items[a].Index < result.Items[b].Index
	})

	return result
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
