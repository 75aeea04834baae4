package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/madadi/accounting-bot/internal/engine"
	"github.com/madadi/accounting-bot/internal/panel"
	"github.com/madadi/accounting-bot/internal/storage"
)

// PanelAPI is the panel surface the syncer pulls from.
type PanelAPI interface {
	GetAllUsers(ctx context.Context) ([]panel.User, error)
	GetAllAdmins(ctx context.Context) ([]panel.Admin, error)
	GetCurrentAdmin(ctx context.Context) (*panel.Admin, error)
}

// Syncer reconciles local state with the panel: it backfills user snapshots
// on first run and registers topics for panel admins. Both operations are
// idempotent.
type Syncer struct {
	store  *storage.Storage
	panel  PanelAPI
	router *engine.Router
	log    *slog.Logger
}

// New creates a new Syncer
func New(store *storage.Storage, api PanelAPI, router *engine.Router, log *slog.Logger) *Syncer {
	return &Syncer{
		store:  store,
		panel:  api,
		router: router,
		log:    log,
	}
}

// BootstrapSync pulls all current users from the panel and overwrites their
// snapshots, bypassing the event filter, then enables update evaluation.
// Returns the number of users snapshotted.
func (s *Syncer) BootstrapSync(ctx context.Context) (int, error) {
	users, err := s.panel.GetAllUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch users: %w", err)
	}

	for i := range users {
		u := &users[i]
		snap := &storage.UserSnapshot{
			Username:  u.Username,
			Status:    u.Status,
			DataLimit: u.DataLimit,
		}
		if u.Expire != nil {
			t := u.Expire.Time
			snap.Expire = &t
		}

		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			return 0, fmt.Errorf("save snapshot %s: %w", u.Username, err)
		}
	}

	if err := s.store.SetSyncEnabled(ctx, true); err != nil {
		return 0, fmt.Errorf("enable sync: %w", err)
	}
	if err := s.store.SetSyncValue(ctx, "last_sync", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return 0, fmt.Errorf("record sync time: %w", err)
	}

	s.log.Info("bootstrap sync complete", "users", len(users))
	return len(users), nil
}

// SyncAdmins pulls the admin list from the panel and routes every admin
// through topic registration. Admins that already have a mapping are left
// untouched; per-admin failures are logged, not retried.
func (s *Syncer) SyncAdmins(ctx context.Context) (int, error) {
	admins, err := s.panel.GetAllAdmins(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch admins: %w", err)
	}

	routed := 0
	for i := range admins {
		a := &admins[i]
		if engine.AdminKey(a) == 0 {
			s.log.Warn("admin has no routable id", "admin", a.Username)
			continue
		}

		dest, err := s.router.Resolve(ctx, a)
		if err != nil {
			s.log.Error("register admin topic", "admin", a.Username, "error", err)
			continue
		}
		if !dest.Fallback {
			routed++
		}
	}

	s.log.Info("admin sync complete", "admins", len(admins), "routed", routed)
	return routed, nil
}

// SetSyncEnabled persists the flag gating user_updated evaluation
func (s *Syncer) SetSyncEnabled(ctx context.Context, enabled bool) error {
	return s.store.SetSyncEnabled(ctx, enabled)
}

// CurrentAdmin returns the panel identity the bot is authenticated as
func (s *Syncer) CurrentAdmin(ctx context.Context) (*panel.Admin, error) {
	return s.panel.GetCurrentAdmin(ctx)
}
