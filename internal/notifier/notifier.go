package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/madadi/accounting-bot/internal/config"
	"github.com/madadi/accounting-bot/internal/engine"
	"github.com/madadi/accounting-bot/internal/telegram"
)

// Notifier renders accepted events and delivers them to admin topics. It is
// the engine's dispatcher and topic creator.
type Notifier struct {
	cfg *config.Config
	bot *telegram.Bot
	log *slog.Logger
}

// New creates a new Notifier
func New(cfg *config.Config, bot *telegram.Bot, log *slog.Logger) *Notifier {
	return &Notifier{
		cfg: cfg,
		bot: bot,
		log: log,
	}
}

// SendNotification renders the event and sends it to the destination with
// the interactive accounting controls attached.
func (n *Notifier) SendNotification(ctx context.Context, dest engine.Destination, note *engine.Notification) error {
	if dest.ChatID == 0 {
		return fmt.Errorf("no destination chat for user %s", note.Event.Username)
	}

	text := formatNotification(note)
	if dest.Fallback && note.Event.By != nil {
		text += fmt.Sprintf("\n\n⚠️ <b>Note:</b> no topic mapping for admin %s", note.Event.By.Username)
	}
	text = truncateText(text, maxMessageLen)

	var adminID int64
	if note.Event.By != nil {
		adminID = engine.AdminKey(note.Event.By)
	}
	keyboard := telegram.AccountingKeyboard(note.Event.Username, adminID)

	msgID, err := n.bot.SendToTopic(ctx, dest.ChatID, dest.TopicID, text, keyboard)
	if err != nil {
		return err
	}

	n.log.Info("notification sent",
		"username", note.Event.Username,
		"kind", note.Decision.Kind,
		"chat_id", dest.ChatID,
		"message_id", msgID,
		"fallback", dest.Fallback,
	)

	return nil
}

// CreateTopic creates a dedicated forum topic for an admin
func (n *Notifier) CreateTopic(ctx context.Context, chatID int64, name string) (int, error) {
	return n.bot.CreateForumTopic(ctx, chatID, name)
}
