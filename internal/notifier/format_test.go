package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/madadi/accounting-bot/internal/engine"
	"github.com/madadi/accounting-bot/internal/panel"
	"github.com/madadi/accounting-bot/internal/storage"
)

func prevSnapshot(status string, expire *time.Time) *storage.UserSnapshot {
	return &storage.UserSnapshot{Username: "customer1", Status: status, Expire: expire}
}

func sampleNotification(trigger engine.Trigger) *engine.Notification {
	expire := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	return &engine.Notification{
		Event: &panel.WebhookEvent{
			Action:   engine.ActionUserCreated,
			Username: "customer1",
			SendAt:   time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC).Unix(),
			User: &panel.User{
				ID:        7,
				Username:  "customer1",
				Status:    "active",
				DataLimit: 50 << 30,
				Expire:    &panel.ExpireAt{Time: expire},
			},
			By: &panel.Admin{ID: 3, Username: "reseller", TelegramID: 5003},
		},
		Decision: &engine.Decision{Accepted: true, Trigger: trigger},
	}
}

func TestFormatNotificationCreated(t *testing.T) {
	text := formatNotification(sampleNotification(engine.TriggerCreated))

	assert.Contains(t, text, "user_created")
	assert.Contains(t, text, "<code>customer1</code>")
	assert.Contains(t, text, "reseller (id: 5003)")
	assert.Contains(t, text, "✅ active")
	assert.Contains(t, text, "50.0 GB")
	assert.Contains(t, text, "2026/10/01")
	assert.NotContains(t, text, "Expiry change")
}

func TestFormatNotificationExpiryExtended(t *testing.T) {
	note := sampleNotification(engine.TriggerExpireExtended)
	prevExpire := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	note.Decision.Prev = prevSnapshot("active", &prevExpire)
	note.Decision.ExtendedDays = 30

	text := formatNotification(note)
	assert.Contains(t, text, "Expiry change")
	assert.Contains(t, text, "Before: 2026/09/01")
	assert.Contains(t, text, "After: 2026/10/01")
	assert.Contains(t, text, "+30 days")
}

func TestFormatNotificationUnboundedExpiry(t *testing.T) {
	note := sampleNotification(engine.TriggerExpireExtended)
	prevExpire := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	note.Decision.Prev = prevSnapshot("active", &prevExpire)
	note.Event.User.Expire = nil

	text := formatNotification(note)
	assert.Contains(t, text, "After: Unlimited")
}

func TestFormatNotificationOnHold(t *testing.T) {
	note := sampleNotification(engine.TriggerOnHold)
	note.Decision.Prev = prevSnapshot("active", nil)
	note.Event.User.Status = "on_hold"

	text := formatNotification(note)
	assert.Contains(t, text, "Status change")
	assert.Contains(t, text, "Before: ✅ active")
	assert.Contains(t, text, "After: 🕔 on hold")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "Unlimited", formatBytes(0))
	assert.Equal(t, "Unlimited", formatBytes(-1))
	assert.Equal(t, "512.0 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "1.5 GB", formatBytes(3<<29))
	assert.Equal(t, "2.0 TB", formatBytes(2<<40))
}

func TestStatusLabelUnknown(t *testing.T) {
	assert.Equal(t, "❓ weird", statusLabel("weird"))
}

func TestTruncateText(t *testing.T) {
	long := strings.Repeat("x", maxMessageLen+100)
	got := truncateText(long, maxMessageLen)
	assert.Len(t, got, maxMessageLen)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", truncateText("short", maxMessageLen))
}
