package engine

import (
	"context"
	"log/slog"

	"github.com/madadi/accounting-bot/internal/panel"
)

// Notification is an accepted event ready to be rendered and sent.
type Notification struct {
	Event    *panel.WebhookEvent
	Decision *Decision
}

// Dispatcher delivers rendered notifications. Retries and transport limits
// are its concern, not the processor's.
type Dispatcher interface {
	SendNotification(ctx context.Context, dest Destination, note *Notification) error
}

// ItemOutcome is the per-event result inside a batch.
type ItemOutcome string

const (
	OutcomeAccepted ItemOutcome = "accepted"
	OutcomeRejected ItemOutcome = "rejected"
	OutcomeFailed   ItemOutcome = "failed"
)

// ItemResult reports what happened to one batch item.
type ItemResult struct {
	Index    int         `json:"index"`
	Username string      `json:"username,omitempty"`
	Outcome  ItemOutcome `json:"outcome"`
	Reason   Reason      `json:"reason,omitempty"`
	Error    string      `json:"error,omitempty"`
	Kind     ErrorKind   `json:"error_kind,omitempty"`
}

// BatchResult aggregates the outcomes of one webhook batch.
type BatchResult struct {
	Total    int          `json:"total"`
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Failed   int          `json:"failed"`
	Items    []ItemResult `json:"items"`
}

// Processor drives one webhook batch through filter, router and dispatcher.
// Items fail independently: a malformed or undeliverable event never stops
// its siblings.
type Processor struct {
	filter     *Filter
	router     *Router
	dispatcher Dispatcher
	audit      *AuditRecorder
	log        *slog.Logger
}

// NewProcessor creates a new batch processor
func NewProcessor(filter *Filter, router *Router, dispatcher Dispatcher, audit *AuditRecorder, log *slog.Logger) *Processor {
	return &Processor{
		filter:     filter,
		router:     router,
		dispatcher: dispatcher,
		audit:      audit,
		log:        log,
	}
}

// ProcessBatch processes events in payload order, which preserves the
// panel's per-user ordering.
func (p *Processor) ProcessBatch(ctx context.Context, events []panel.WebhookEvent) *BatchResult {
	result := &BatchResult{Total: len(events)}

	for i := range events {
		item := p.processItem(ctx, &events[i])
		item.Index = i

		switch item.Outcome {
		case OutcomeAccepted:
			result.Accepted++
		case OutcomeRejected:
			result.Rejected++
		case OutcomeFailed:
			result.Failed++
		}

		result.Items = append(result.Items, item)
	}

	p.log.Info("batch processed",
		"total", result.Total,
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"failed", result.Failed,
	)

	return result
}

func (p *Processor) processItem(ctx context.Context, ev *panel.WebhookEvent) ItemResult {
	if err := validateEvent(ev); err != nil {
		p.log.Warn("invalid webhook event", "username", ev.Username, "error", err)
		return ItemResult{
			Username: ev.Username,
			Outcome:  OutcomeFailed,
			Error:    err.Error(),
			Kind:     err.Kind,
		}
	}

	var actorID int64
	if ev.By != nil {
		actorID = AdminKey(ev.By)
	}
	p.audit.Record(ctx, actorID, "webhook_"+ev.Action, ev.Username, "", ev.User.Status)

	decision, err := p.filter.Evaluate(ctx, ev)
	if err != nil {
		return failedItem(ev.Username, err)
	}

	if !decision.Accepted {
		p.log.Debug("event rejected",
			"username", ev.Username,
			"action", ev.Action,
			"reason", decision.Reason,
		)
		return ItemResult{Username: ev.Username, Outcome: OutcomeRejected, Reason: decision.Reason}
	}

	dest := p.router.Fallback()
	if ev.By != nil {
		dest, err = p.router.Resolve(ctx, ev.By)
		if err != nil {
			return failedItem(ev.Username, err)
		}
	}

	note := &Notification{Event: ev, Decision: decision}
	if err := p.dispatcher.SendNotification(ctx, dest, note); err != nil {
		// Snapshot write already committed and stands; only delivery failed.
		p.log.Error("send notification", "username", ev.Username, "error", err)
		return failedItem(ev.Username, dependencyErr("send notification", err))
	}

	return ItemResult{Username: ev.Username, Outcome: OutcomeAccepted}
}

func validateEvent(ev *panel.WebhookEvent) *ItemError {
	if ev.Action != ActionUserCreated && ev.Action != ActionUserUpdated {
		return validationErr("unsupported action " + ev.Action)
	}
	if ev.Username == "" {
		return validationErr("missing username")
	}
	if ev.User == nil {
		return validationErr("missing user payload")
	}
	return nil
}

func failedItem(username string, err error) ItemResult {
	item := ItemResult{Username: username, Outcome: OutcomeFailed, Error: err.Error()}
	if ie, ok := err.(*ItemError); ok {
		item.Kind = ie.Kind
	}
	return item
}
