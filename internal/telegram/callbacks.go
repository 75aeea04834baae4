package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/madadi/accounting-bot/internal/engine"
)

const maxMessageLen = 4000

// Lines appended below a notification body after a press. The markers are
// matched when re-rendering so stale lines get replaced, not stacked.
const (
	markerPaid       = "✅ Paid"
	markerUnpaid     = "❌ Unpaid"
	markerSettlement = "➕ "
)

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	data := cb.Data

	switch {
	case strings.HasPrefix(data, string(engine.ButtonPaid)+":"),
		strings.HasPrefix(data, string(engine.ButtonUnpaid)+":"),
		strings.HasPrefix(data, string(engine.ButtonSettle)+":"):
		b.handlePress(ctx, cb, data)
	case strings.HasPrefix(data, "resolve:"):
		b.handleResolve(ctx, cb, data)
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", cb.From.ID)
		b.answer(ctx, cb.ID, "", false)
	}
}

func (b *Bot) handlePress(ctx context.Context, cb *models.CallbackQuery, data string) {
	press, ok := parsePress(cb, data)
	if !ok {
		// Malformed token: acknowledge without touching any state.
		b.log.Warn("malformed callback token", "data", data, "user_id", cb.From.ID)
		b.answer(ctx, cb.ID, "❌ Invalid button", true)
		return
	}

	render, err := b.ledger.Apply(ctx, press)
	if err != nil {
		b.log.Error("apply press", "data", data, "error", err)
		b.answer(ctx, cb.ID, "❌ Could not save, press again", true)
		return
	}

	// Re-render the originating message even for no-op presses, so the
	// operator always sees the current state.
	msg := cb.Message.Message
	newText := renderPressEdit(msg.Text, render)
	b.editMessage(ctx, msg, newText, AccountingKeyboard(press.Username, press.AdminID))

	b.answer(ctx, cb.ID, pressToast(render), false)
}

// parsePress validates the callback token and binds it to the originating
// message. Token format: <kind>:<username>:<admin id>.
func parsePress(cb *models.CallbackQuery, data string) (engine.Press, bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[1] == "" {
		return engine.Press{}, false
	}

	adminID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return engine.Press{}, false
	}

	if cb.Message.Message == nil {
		return engine.Press{}, false
	}

	actorName := cb.From.FirstName
	if actorName == "" {
		actorName = cb.From.Username
	}
	if actorName == "" {
		actorName = "unknown"
	}

	return engine.Press{
		Kind:      engine.ButtonKind(parts[0]),
		Username:  parts[1],
		AdminID:   adminID,
		ChatID:    cb.Message.Message.Chat.ID,
		MessageID: cb.Message.Message.ID,
		ActorID:   cb.From.ID,
		ActorName: actorName,
	}, true
}

func pressToast(r *engine.RenderRequest) string {
	switch r.Kind {
	case engine.ButtonPaid:
		if r.Noop {
			return "Already marked paid"
		}
		return "Marked paid ✅"
	case engine.ButtonUnpaid:
		if r.Noop {
			return "Already marked unpaid"
		}
		return "Marked unpaid ❌"
	case engine.ButtonSettle:
		if r.Noop {
			return "Already in settlement list"
		}
		return "Added to settlement list ✅"
	}
	return ""
}

// renderPressEdit rebuilds the message body with the press outcome appended,
// replacing any status line from an earlier press.
func renderPressEdit(original string, r *engine.RenderRequest) string {
	var kept []string
	for _, line := range strings.Split(original, "\n") {
		switch r.Kind {
		case engine.ButtonPaid, engine.ButtonUnpaid:
			if strings.Contains(line, markerPaid) || strings.Contains(line, markerUnpaid) {
				continue
			}
		case engine.ButtonSettle:
			if strings.HasPrefix(line, markerSettlement) {
				continue
			}
		}
		kept = append(kept, line)
	}

	var status string
	switch r.Kind {
	case engine.ButtonPaid:
		status = fmt.Sprintf("%s — marked by %s at %s", markerPaid, r.ActorName, formatTime(r.At))
	case engine.ButtonUnpaid:
		status = fmt.Sprintf("%s — marked by %s at %s", markerUnpaid, r.ActorName, formatTime(r.At))
	case engine.ButtonSettle:
		if r.Noop {
			status = fmt.Sprintf("%sAlready in settlement list (checked by %s at %s)", markerSettlement, r.ActorName, formatTime(r.At))
		} else {
			status = fmt.Sprintf("%sIn settlement list — added by %s at %s", markerSettlement, r.ActorName, formatTime(r.At))
		}
	}

	return truncateText(strings.Join(kept, "\n")+"\n"+status, maxMessageLen)
}

func (b *Bot) handleResolve(ctx context.Context, cb *models.CallbackQuery, data string) {
	id, err := strconv.ParseInt(strings.TrimPrefix(data, "resolve:"), 10, 64)
	if err != nil {
		b.answer(ctx, cb.ID, "❌ Invalid button", true)
		return
	}

	if err := b.store.ResolveSettlement(ctx, id); err != nil {
		b.log.Warn("resolve settlement", "id", id, "error", err)
		b.answer(ctx, cb.ID, "Entry already settled", false)
	} else {
		b.audit.Record(ctx, cb.From.ID, "settlement_resolved", strconv.FormatInt(id, 10), "open", "resolved")
		b.answer(ctx, cb.ID, "Settled ✔️", false)
	}

	// Refresh the list in place
	if cb.Message.Message == nil {
		return
	}

	entries, err := b.store.ListOpenSettlements(ctx)
	if err != nil {
		b.log.Error("list settlements", "error", err)
		return
	}

	if len(entries) == 0 {
		b.editMessage(ctx, cb.Message.Message, "📒 Settlement list is empty.", nil)
		return
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("📒 <b>Settlement list</b> (%d open):\n", len(entries)))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("• <code>%s</code> — added %s", e.Username, formatTime(e.AddedAt)))
	}
	lines = append(lines, "\nPress a name to mark it settled:")

	b.editMessage(ctx, cb.Message.Message, strings.Join(lines, "\n"), SettlementsKeyboard(entries))
}

func (b *Bot) answer(ctx context.Context, callbackID, text string, alert bool) {
	_, err := b.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		b.log.Error("answer callback", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg *models.Message, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.EditMessageTextParams{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006/01/02 15:04")
}

func truncateText(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max-3] + "..."
}
