package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/madadi/accounting-bot/internal/engine"
)

const maxMessageLen = 4000

var statusLabels = map[string]string{
	"active":   "✅ active",
	"disabled": "🚫 disabled",
	"limited":  "🪫 limited",
	"expired":  "📅 expired",
	"on_hold":  "🕔 on hold",
}

func formatNotification(note *engine.Notification) string {
	ev := note.Event

	adminName := "unknown"
	var adminID int64
	if ev.By != nil {
		adminName = ev.By.Username
		adminID = engine.AdminKey(ev.By)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🧾 <b>Accounting | %s</b>\n\n", ev.Action)
	fmt.Fprintf(&sb, "👤 <b>User:</b> <code>%s</code> (id: %d)\n", ev.Username, ev.User.ID)
	fmt.Fprintf(&sb, "👮 <b>Admin:</b> %s (id: %d)\n\n", adminName, adminID)

	sb.WriteString("<b>Details:</b>\n")
	fmt.Fprintf(&sb, "⚡ Status: %s\n", statusLabel(ev.User.Status))
	fmt.Fprintf(&sb, "📊 Data limit: %s\n", formatBytes(ev.User.DataLimit))

	if ev.User.Expire != nil {
		fmt.Fprintf(&sb, "📅 Expire: %s\n", formatTime(ev.User.Expire.Time))
	} else {
		sb.WriteString("📅 Expire: Unlimited\n")
	}
	fmt.Fprintf(&sb, "🕐 Sent: %s", formatTime(time.Unix(ev.SendAt, 0)))

	switch note.Decision.Trigger {
	case engine.TriggerExpireExtended:
		prev := note.Decision.Prev
		oldExpire := "Unlimited"
		if prev != nil && prev.Expire != nil {
			oldExpire = formatTime(*prev.Expire)
		}
		newExpire := "Unlimited"
		if ev.User.Expire != nil {
			newExpire = formatTime(ev.User.Expire.Time)
		}

		sb.WriteString("\n\n🔄 <b>Expiry change:</b>\n")
		fmt.Fprintf(&sb, "📅 Before: %s\n", oldExpire)
		fmt.Fprintf(&sb, "📅 After: %s", newExpire)
		if note.Decision.ExtendedDays > 0 {
			fmt.Fprintf(&sb, "\n⬆️ Extended: +%d days", note.Decision.ExtendedDays)
		}

	case engine.TriggerOnHold:
		oldStatus := "unknown"
		if note.Decision.Prev != nil {
			oldStatus = note.Decision.Prev.Status
		}

		sb.WriteString("\n\n🔄 <b>Status change:</b>\n")
		fmt.Fprintf(&sb, "⚡ Before: %s\n", statusLabel(oldStatus))
		fmt.Fprintf(&sb, "⚡ After: %s", statusLabel(ev.User.Status))

	case engine.TriggerNoBaseline:
		sb.WriteString("\n\nℹ️ First update seen for this user, no previous state to compare.")
	}

	return sb.String()
}

func statusLabel(status string) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return "❓ " + status
}

func formatBytes(b int64) string {
	if b <= 0 {
		return "Unlimited"
	}

	value := float64(b)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f PB", value)
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
