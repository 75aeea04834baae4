package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/madadi/accounting-bot/internal/config"
	"github.com/madadi/accounting-bot/internal/engine"
	"github.com/madadi/accounting-bot/internal/panel"
	"github.com/madadi/accounting-bot/internal/storage"
)

// SyncService is the sync orchestration surface the bot commands drive.
type SyncService interface {
	BootstrapSync(ctx context.Context) (int, error)
	SyncAdmins(ctx context.Context) (int, error)
	SetSyncEnabled(ctx context.Context, enabled bool) error
	CurrentAdmin(ctx context.Context) (*panel.Admin, error)
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot    *bot.Bot
	cfg    *config.Config
	store  *storage.Storage
	ledger *engine.Ledger
	audit  *engine.AuditRecorder
	syncer SyncService
	states *StateManager
	log    *slog.Logger
}

// New creates a new telegram bot
func New(cfg *config.Config, store *storage.Storage, ledger *engine.Ledger, audit *engine.AuditRecorder, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		audit:  audit,
		states: NewStateManager(),
		log:    log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, b.helpHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/sync", bot.MatchTypeExact, b.syncHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/sync_off", bot.MatchTypeExact, b.syncOffHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/sync_admins", bot.MatchTypeExact, b.syncAdminsHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/set_admin_topic", bot.MatchTypeExact, b.setAdminTopicHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/list_admins", bot.MatchTypeExact, b.listAdminsHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/settlements", bot.MatchTypeExact, b.settlementsHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypeExact, b.statsHandler)

	return b, nil
}

// AttachSyncer wires in the sync orchestrator. Called once during startup,
// before Start; the orchestrator itself depends on the routing layer that
// is built on top of this bot.
func (b *Bot) AttachSyncer(s SyncService) {
	b.syncer = s
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// GetBot returns the underlying bot instance
func (b *Bot) GetBot() *bot.Bot {
	return b.bot
}

// --- Command handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	text := "🤖 <b>Accounting Bot</b>\n\n" +
		"I turn panel webhook events into per-admin notifications and track " +
		"payment settlement from the buttons below each one.\n\n" +
		"<b>Commands:</b>\n" +
		"/sync — initial user sync from the panel\n" +
		"/sync_admins — register topics for panel admins\n" +
		"/set_admin_topic — manually map an admin to a chat/topic\n" +
		"/list_admins — configured admins and topics\n" +
		"/settlements — open settlement list\n" +
		"/stats — system status\n" +
		"/help — usage guide"

	b.sendMessage(ctx, update.Message.Chat.ID, text, nil)
}

func (b *Bot) helpHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	text := "📖 <b>Usage Guide</b>\n\n" +
		"1. Run /sync once to pull current users from the panel. Until then, " +
		"update events are ignored (there is nothing to diff against).\n" +
		"2. Topics are created automatically per admin in the forum group; use " +
		"/set_admin_topic to override a mapping.\n" +
		"3. Each notification carries Paid / Unpaid / settlement buttons. " +
		"Presses are idempotent and always refresh the message.\n\n" +
		"<b>Notification conditions:</b>\n" +
		"• user_created: always\n" +
		fmt.Sprintf("• user_updated: expiry extended ≥%d days, or status moved to on_hold", b.cfg.ExpireExtendDays)

	b.sendMessage(ctx, update.Message.Chat.ID, text, nil)
}

func (b *Bot) syncHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	if b.syncer == nil {
		b.sendMessage(ctx, chatID, "❌ Panel API is not configured.", nil)
		return
	}

	b.sendMessage(ctx, chatID, "🔄 Starting user sync...", nil)

	count, err := b.syncer.BootstrapSync(ctx)
	if err != nil {
		b.sendMessage(ctx, chatID, fmt.Sprintf("❌ Sync failed: %v", err), nil)
		return
	}

	b.audit.Record(ctx, update.Message.From.ID, "bootstrap_sync", "", "", fmt.Sprintf("%d users", count))
	b.sendMessage(ctx, chatID, fmt.Sprintf(
		"✅ Sync complete: <b>%d</b> users snapshotted.\nupdate events are now being evaluated.", count), nil)
}

func (b *Bot) syncOffHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	if b.syncer == nil {
		b.sendMessage(ctx, chatID, "❌ Panel API is not configured.", nil)
		return
	}

	if err := b.syncer.SetSyncEnabled(ctx, false); err != nil {
		b.sendMessage(ctx, chatID, fmt.Sprintf("❌ Failed to disable sync: %v", err), nil)
		return
	}

	b.audit.Record(ctx, update.Message.From.ID, "sync_disabled", "", "true", "false")
	b.sendMessage(ctx, chatID, "⏸ Sync disabled: user_updated events are now skipped. Run /sync to re-enable.", nil)
}

func (b *Bot) syncAdminsHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	if b.syncer == nil {
		b.sendMessage(ctx, chatID, "❌ Panel API is not configured.", nil)
		return
	}

	count, err := b.syncer.SyncAdmins(ctx)
	if err != nil {
		b.sendMessage(ctx, chatID, fmt.Sprintf("❌ Admin sync failed: %v", err), nil)
		return
	}

	b.sendMessage(ctx, chatID, fmt.Sprintf("✅ Admin sync complete: <b>%d</b> admins routed.", count), nil)
}

func (b *Bot) setAdminTopicHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.states.Set(update.Message.From.ID, StateWaitAdminID, nil)

	text := "⚙️ <b>Admin Topic Setup</b>\n\n" +
		"Send the admin's Telegram ID (numeric, e.g. <code>123456789</code>)."
	b.sendMessage(ctx, update.Message.Chat.ID, text, nil)
}

func (b *Bot) listAdminsHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	topics, err := b.store.ListAdminTopics(ctx)
	if err != nil {
		b.log.Error("list admin topics", "error", err)
		return
	}

	if len(topics) == 0 {
		b.sendMessage(ctx, update.Message.Chat.ID, "📝 No admins configured yet.", nil)
		return
	}

	var lines []string
	lines = append(lines, "👥 <b>Admins and topics:</b>\n")
	for _, t := range topics {
		name := t.AdminUsername
		if name == "" {
			name = "unknown"
		}
		topicLine := "general"
		if t.TopicID != nil {
			topicLine = strconv.Itoa(*t.TopicID)
		}
		lines = append(lines, fmt.Sprintf("👤 <b>%s</b> — id <code>%d</code>, chat <code>%d</code>, topic <code>%s</code>",
			name, t.AdminID, t.ChatID, topicLine))
	}

	b.sendMessage(ctx, update.Message.Chat.ID, strings.Join(lines, "\n"), nil)
}

func (b *Bot) settlementsHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	entries, err := b.store.ListOpenSettlements(ctx)
	if err != nil {
		b.log.Error("list settlements", "error", err)
		return
	}

	if len(entries) == 0 {
		b.sendMessage(ctx, update.Message.Chat.ID, "📒 Settlement list is empty.", nil)
		return
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("📒 <b>Settlement list</b> (%d open):\n", len(entries)))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("• <code>%s</code> — added %s", e.Username, formatTime(e.AddedAt)))
	}
	lines = append(lines, "\nPress a name to mark it settled:")

	b.sendMessage(ctx, update.Message.Chat.ID, strings.Join(lines, "\n"), SettlementsKeyboard(entries))
}

func (b *Bot) statsHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	enabled, _ := b.store.SyncEnabled(ctx)
	lastSync, _ := b.store.GetSyncValue(ctx, "last_sync")
	topics, _ := b.store.ListAdminTopics(ctx)
	users, _ := b.store.CountSnapshots(ctx)

	syncLine := "❌ disabled"
	if enabled {
		syncLine = "✅ enabled"
	}
	if lastSync == "" {
		lastSync = "never"
	}

	text := fmt.Sprintf(
		"📊 <b>System status</b>\n\n"+
			"🔄 Sync: %s\n"+
			"🕐 Last sync: %s\n"+
			"👥 Admins: <b>%d</b>\n"+
			"👤 Users tracked: <b>%d</b>",
		syncLine, lastSync, len(topics), users,
	)

	if b.syncer != nil {
		if admin, err := b.syncer.CurrentAdmin(ctx); err == nil {
			text += fmt.Sprintf("\n🔐 Panel login: <code>%s</code>", admin.Username)
		} else {
			b.log.Warn("get current admin", "error", err)
		}
	}

	b.sendMessage(ctx, update.Message.Chat.ID, text, nil)
}

// --- Conversation FSM (set_admin_topic) ---

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	userID := update.Message.From.ID
	text := strings.TrimSpace(update.Message.Text)

	state := b.states.Get(userID)
	if state == nil {
		return
	}

	switch state.State {
	case StateWaitAdminID:
		b.handleWaitAdminID(ctx, update.Message, text, state)
	case StateWaitChatTopic:
		b.handleWaitChatTopic(ctx, update.Message, text, state)
	}
}

func (b *Bot) handleWaitAdminID(ctx context.Context, msg *models.Message, text string, state *UserState) {
	adminID, err := strconv.ParseInt(text, 10, 64)
	if err != nil || adminID <= 0 {
		b.sendMessage(ctx, msg.Chat.ID, "❌ Please send a valid numeric ID.", nil)
		return
	}

	state.Data["admin_id"] = adminID
	b.states.Set(msg.From.ID, StateWaitChatTopic, state.Data)

	reply := fmt.Sprintf(
		"✅ Admin ID: <code>%d</code>\n\n"+
			"Now send the destination chat ID, optionally followed by a topic ID:\n"+
			"<code>-1001234567890 42</code>", adminID)
	b.sendMessage(ctx, msg.Chat.ID, reply, nil)
}

func (b *Bot) handleWaitChatTopic(ctx context.Context, msg *models.Message, text string, state *UserState) {
	adminID := state.Data["admin_id"].(int64)

	parts := strings.Fields(text)
	if len(parts) == 0 || len(parts) > 2 {
		b.sendMessage(ctx, msg.Chat.ID, "❌ Send a chat ID, optionally followed by a topic ID.", nil)
		return
	}

	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, "❌ Chat ID must be a number.", nil)
		return
	}

	var topicID *int
	if len(parts) == 2 {
		id, err := strconv.Atoi(parts[1])
		if err != nil || id <= 0 {
			b.sendMessage(ctx, msg.Chat.ID, "❌ Topic ID must be a positive number.", nil)
			return
		}
		topicID = &id
	}

	b.states.Clear(msg.From.ID)

	topic := &storage.AdminTopic{
		AdminID: adminID,
		ChatID:  chatID,
		TopicID: topicID,
	}
	if err := b.store.SetAdminTopic(ctx, topic); err != nil {
		b.log.Error("set admin topic", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "❌ Failed to save the mapping.", nil)
		return
	}

	b.audit.Record(ctx, msg.From.ID, "admin_topic_override",
		strconv.FormatInt(adminID, 10), "", fmt.Sprintf("chat %d", chatID))

	reply := fmt.Sprintf("✅ <b>Saved</b>\n\n👤 Admin: <code>%d</code>\n💬 Chat: <code>%d</code>", adminID, chatID)
	if topicID != nil {
		reply += fmt.Sprintf("\n🗂 Topic: <code>%d</code>", *topicID)
	} else {
		reply += "\n🗂 Topic: general"
	}

	b.sendMessage(ctx, msg.Chat.ID, reply, nil)
	b.log.Info("admin topic override", "admin_id", adminID, "chat_id", chatID)
}

// --- Outbound helpers ---

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

// SendToTopic sends a notification into a chat, optionally into a forum topic,
// and returns the sent message id.
func (b *Bot) SendToTopic(ctx context.Context, chatID int64, topicID *int, text string, keyboard *models.InlineKeyboardMarkup) (int, error) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if topicID != nil {
		params.MessageThreadID = *topicID
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	msg, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// CreateForumTopic creates a new topic in a forum chat and returns its
// message thread id.
func (b *Bot) CreateForumTopic(ctx context.Context, chatID int64, name string) (int, error) {
	topic, err := b.bot.CreateForumTopic(ctx, &bot.CreateForumTopicParams{
		ChatID: chatID,
		Name:   name,
	})
	if err != nil {
		return 0, err
	}
	return topic.MessageThreadID, nil
}
