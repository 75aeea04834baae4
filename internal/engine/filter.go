package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/madadi/accounting-bot/internal/panel"
	"github.com/madadi/accounting-bot/internal/storage"
)

// Panel webhook actions the filter understands.
const (
	ActionUserCreated = "user_created"
	ActionUserUpdated = "user_updated"
)

const StatusOnHold = "on_hold"

// EventKind classifies an accepted event.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// Reason explains a rejected event.
type Reason string

const (
	ReasonBelowThreshold Reason = "below_threshold"
	ReasonSyncDisabled   Reason = "sync_disabled"
)

// Trigger names the condition that made an event notifiable.
type Trigger string

const (
	TriggerCreated        Trigger = "created"
	TriggerNoBaseline     Trigger = "no_baseline"
	TriggerExpireExtended Trigger = "expire_extended"
	TriggerOnHold         Trigger = "status_to_on_hold"
)

// Decision is the outcome of evaluating one webhook event.
type Decision struct {
	Accepted     bool
	Kind         EventKind
	Reason       Reason
	Trigger      Trigger
	ExtendedDays int
	Prev         *storage.UserSnapshot // baseline the diff was computed against, nil for created
}

// Filter decides which webhook events are worth notifying about. Accepting
// an event and persisting its snapshot happen under the same per-user lock,
// so events for one user are always evaluated against the latest accepted
// state even when batches overlap.
type Filter struct {
	store      *storage.Storage
	locks      *keyedMutex
	extendDays int
	log        *slog.Logger
}

// NewFilter creates a new event filter
func NewFilter(store *storage.Storage, extendDays int, log *slog.Logger) *Filter {
	return &Filter{
		store:      store,
		locks:      newKeyedMutex(),
		extendDays: extendDays,
		log:        log,
	}
}

// Evaluate decides whether an event is notifiable and, when it is, persists
// the new snapshot. Rejected events leave the snapshot untouched.
func (f *Filter) Evaluate(ctx context.Context, ev *panel.WebhookEvent) (*Decision, error) {
	unlock := f.locks.Lock("user:" + ev.Username)
	defer unlock()

	switch ev.Action {
	case ActionUserCreated:
		if err := f.store.SaveSnapshot(ctx, snapshotFrom(ev)); err != nil {
			return nil, dependencyErr("save snapshot", err)
		}
		return &Decision{Accepted: true, Kind: EventCreated, Trigger: TriggerCreated}, nil

	case ActionUserUpdated:
		return f.evaluateUpdated(ctx, ev)

	default:
		return nil, validationErr("unsupported action " + ev.Action)
	}
}

func (f *Filter) evaluateUpdated(ctx context.Context, ev *panel.WebhookEvent) (*Decision, error) {
	enabled, err := f.store.SyncEnabled(ctx)
	if err != nil {
		return nil, dependencyErr("read sync flag", err)
	}
	if !enabled {
		return &Decision{Kind: EventUpdated, Reason: ReasonSyncDisabled}, nil
	}

	prev, err := f.store.GetSnapshot(ctx, ev.Username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, dependencyErr("get snapshot", err)
	}

	if prev == nil {
		// No baseline to diff against: notify rather than stay silent.
		if err := f.store.SaveSnapshot(ctx, snapshotFrom(ev)); err != nil {
			return nil, dependencyErr("save snapshot", err)
		}
		return &Decision{Accepted: true, Kind: EventUpdated, Trigger: TriggerNoBaseline}, nil
	}

	var newExpire *time.Time
	if ev.User.Expire != nil {
		newExpire = &ev.User.Expire.Time
	}

	extended, days := expireExtended(prev.Expire, newExpire, f.extendDays)
	onHold := ev.User.Status == StatusOnHold && prev.Status != StatusOnHold

	if !extended && !onHold {
		return &Decision{Kind: EventUpdated, Reason: ReasonBelowThreshold, Prev: prev}, nil
	}

	if err := f.store.SaveSnapshot(ctx, snapshotFrom(ev)); err != nil {
		return nil, dependencyErr("save snapshot", err)
	}

	d := &Decision{Accepted: true, Kind: EventUpdated, Prev: prev}
	if onHold {
		d.Trigger = TriggerOnHold
	}
	if extended {
		// Expiry extension wins as the headline trigger, matching how the
		// notification is rendered.
		d.Trigger = TriggerExpireExtended
		d.ExtendedDays = days
	}

	return d, nil
}

// expireExtended reports whether the expiry moved forward by at least
// minDays. A nil expiry means no deadline, so bounded to unbounded counts
// as an extension and any transition to a bounded expiry from nil does not.
func expireExtended(old, new *time.Time, minDays int) (bool, int) {
	switch {
	case old == nil:
		return false, 0
	case new == nil:
		return true, 0
	default:
		days := int(new.Sub(*old).Hours() / 24)
		return days >= minDays, days
	}
}

func snapshotFrom(ev *panel.WebhookEvent) *storage.UserSnapshot {
	snap := &storage.UserSnapshot{
		Username:  ev.Username,
		Status:    ev.User.Status,
		DataLimit: ev.User.DataLimit,
	}
	if ev.User.Expire != nil {
		t := ev.User.Expire.Time
		snap.Expire = &t
	}
	if ev.By != nil {
		snap.AdminID = AdminKey(ev.By)
		snap.AdminUsername = ev.By.Username
	}
	return snap
}

// AdminKey is the stable identity an admin is routed by: the telegram id
// when the panel knows it, the panel id otherwise.
func AdminKey(a *panel.Admin) int64 {
	if a.TelegramID != 0 {
		return a.TelegramID
	}
	return a.ID
}
