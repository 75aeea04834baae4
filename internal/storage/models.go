package storage

import "time"

// Payment statuses.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentUnpaid  = "unpaid"
)

// UserSnapshot is the last accepted state of a panel user, used as the
// diff baseline when filtering user_updated events.
type UserSnapshot struct {
	Username      string
	Status        string
	DataLimit     int64 // bytes, 0 = unlimited
	Expire        *time.Time
	AdminID       int64 // owning admin's telegram id
	AdminUsername string
	UpdatedAt     time.Time
}

// AdminTopic maps an admin to their dedicated notification destination.
type AdminTopic struct {
	AdminID       int64
	AdminUsername string
	ChatID        int64
	TopicID       *int // nil = send to the chat's general thread
	CreatedAt     time.Time
	Active        bool
}

// PaymentRecord tracks the paid/unpaid state bound to one notification
// message. At most one record per (username, chat, message).
type PaymentRecord struct {
	Username  string
	AdminID   int64
	ChatID    int64
	MessageID int
	Status    string
	UpdatedBy int64
	UpdatedAt time.Time
}

// SettlementEntry is a user flagged for reconciliation.
type SettlementEntry struct {
	ID       int64
	Username string
	AdminID  int64
	AddedBy  int64
	AddedAt  time.Time
	Resolved bool
}

// AuditEntry is an append-only record of a state transition.
type AuditEntry struct {
	ID        int64
	ActorID   int64
	Action    string
	Subject   string
	Before    string
	After     string
	CreatedAt time.Time
}
