package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/madadi/accounting-bot/internal/storage"
)

// ButtonKind identifies an interactive control on a notification.
type ButtonKind string

const (
	ButtonPaid   ButtonKind = "pay"
	ButtonUnpaid ButtonKind = "unpaid"
	ButtonSettle ButtonKind = "settle"
)

// Press is one button press on a notification message.
type Press struct {
	Kind      ButtonKind
	Username  string
	AdminID   int64
	ChatID    int64 // originating notification
	MessageID int
	ActorID   int64
	ActorName string
}

// RenderRequest tells the transport how to redraw the originating message
// after a press. It is returned for no-op presses too, so the operator
// always sees the current state reflected.
type RenderRequest struct {
	ChatID    int64
	MessageID int
	Username  string
	Kind      ButtonKind
	Status    string // payment status after the transition
	Noop      bool   // state was already as requested
	ActorName string
	At        time.Time
}

// Ledger is the payment/settlement state machine. Presses on the same
// notification are linearized per (username, notification) so concurrent
// presses converge on one final state.
type Ledger struct {
	store *storage.Storage
	audit *AuditRecorder
	locks *keyedMutex
	log   *slog.Logger
}

// NewLedger creates a new payment ledger
func NewLedger(store *storage.Storage, audit *AuditRecorder, log *slog.Logger) *Ledger {
	return &Ledger{
		store: store,
		audit: audit,
		locks: newKeyedMutex(),
		log:   log,
	}
}

// Apply processes one button press and returns the resulting render request.
func (l *Ledger) Apply(ctx context.Context, press Press) (*RenderRequest, error) {
	if press.Username == "" || press.ChatID == 0 || press.MessageID == 0 {
		return nil, validationErr("incomplete press")
	}

	key := fmt.Sprintf("press:%s:%d:%d", press.Username, press.ChatID, press.MessageID)
	unlock := l.locks.Lock(key)
	defer unlock()

	switch press.Kind {
	case ButtonPaid:
		return l.setPaymentStatus(ctx, press, storage.PaymentPaid)
	case ButtonUnpaid:
		return l.setPaymentStatus(ctx, press, storage.PaymentUnpaid)
	case ButtonSettle:
		return l.addToSettlement(ctx, press)
	default:
		return nil, validationErr("unknown button " + string(press.Kind))
	}
}

func (l *Ledger) setPaymentStatus(ctx context.Context, press Press, target string) (*RenderRequest, error) {
	record, err := l.store.GetPayment(ctx, press.Username, press.ChatID, press.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		// First press on this notification: the record starts pending.
		record = &storage.PaymentRecord{
			Username:  press.Username,
			AdminID:   press.AdminID,
			ChatID:    press.ChatID,
			MessageID: press.MessageID,
			Status:    storage.PaymentPending,
		}
	} else if err != nil {
		return nil, dependencyErr("get payment", err)
	}

	render := &RenderRequest{
		ChatID:    press.ChatID,
		MessageID: press.MessageID,
		Username:  press.Username,
		Kind:      press.Kind,
		Status:    target,
		ActorName: press.ActorName,
		At:        time.Now(),
	}

	if record.Status == target {
		render.Noop = true
		return render, nil
	}

	before := record.Status
	record.Status = target
	record.UpdatedBy = press.ActorID

	if err := l.store.SavePayment(ctx, record); err != nil {
		return nil, dependencyErr("save payment", err)
	}

	l.audit.Record(ctx, press.ActorID, "payment_"+target, press.Username, before, target)

	l.log.Info("payment status changed",
		"username", press.Username,
		"status", target,
		"actor_id", press.ActorID,
	)

	return render, nil
}

func (l *Ledger) addToSettlement(ctx context.Context, press Press) (*RenderRequest, error) {
	added, err := l.store.AddSettlement(ctx, press.Username, press.AdminID, press.ActorID)
	if err != nil {
		return nil, dependencyErr("add settlement", err)
	}

	render := &RenderRequest{
		ChatID:    press.ChatID,
		MessageID: press.MessageID,
		Username:  press.Username,
		Kind:      press.Kind,
		Noop:      !added,
		ActorName: press.ActorName,
		At:        time.Now(),
	}

	if status, err := l.store.GetPayment(ctx, press.Username, press.ChatID, press.MessageID); err == nil {
		render.Status = status.Status
	}

	if added {
		l.audit.Record(ctx, press.ActorID, "settlement_added", press.Username, "", "open")
		l.log.Info("added to settlement list",
			"username", press.Username,
			"actor_id", press.ActorID,
		)
	}

	return render, nil
}
