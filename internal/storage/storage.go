package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users_snapshot (
			username TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			data_limit INTEGER NOT NULL DEFAULT 0,
			expire INTEGER,
			admin_id INTEGER NOT NULL DEFAULT 0,
			admin_username TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshot_admin_id ON users_snapshot(admin_id)`,

		`CREATE TABLE IF NOT EXISTS admin_topics (
			admin_id INTEGER PRIMARY KEY,
			admin_username TEXT NOT NULL DEFAULT '',
			chat_id INTEGER NOT NULL,
			topic_id INTEGER,
			created_at INTEGER NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS payments (
			username TEXT NOT NULL,
			admin_id INTEGER NOT NULL DEFAULT 0,
			chat_id INTEGER NOT NULL,
			message_id INTEGER NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('pending', 'paid', 'unpaid')),
			updated_by INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (username, chat_id, message_id)
		)`,

		`CREATE TABLE IF NOT EXISTS settlement_list (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			admin_id INTEGER NOT NULL DEFAULT 0,
			added_by INTEGER NOT NULL,
			added_at INTEGER NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_settlement_open
			ON settlement_list(username) WHERE resolved = 0`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			actor_id INTEGER NOT NULL DEFAULT 0,
			action TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			before TEXT NOT NULL DEFAULT '',
			after TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sync_status (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- User snapshots ---

// GetSnapshot returns the last accepted snapshot for a user
func (s *Storage) GetSnapshot(ctx context.Context, username string) (*UserSnapshot, error) {
	var snap UserSnapshot
	var expire sql.NullInt64
	var updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT username, status, data_limit, expire, admin_id, admin_username, updated_at
		 FROM users_snapshot WHERE username = ?`,
		username,
	).Scan(&snap.Username, &snap.Status, &snap.DataLimit, &expire,
		&snap.AdminID, &snap.AdminUsername, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	snap.UpdatedAt = time.Unix(updatedAt, 0)
	if expire.Valid {
		t := time.Unix(expire.Int64, 0).UTC()
		snap.Expire = &t
	}

	return &snap, nil
}

// SaveSnapshot inserts or overwrites the snapshot for a user
func (s *Storage) SaveSnapshot(ctx context.Context, snap *UserSnapshot) error {
	var expire sql.NullInt64
	if snap.Expire != nil {
		expire = sql.NullInt64{Int64: snap.Expire.Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users_snapshot
		 (username, status, data_limit, expire, admin_id, admin_username, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.Username, snap.Status, snap.DataLimit, expire,
		snap.AdminID, snap.AdminUsername, time.Now().Unix(),
	)
	return err
}

// CountSnapshots returns the number of stored user snapshots
func (s *Storage) CountSnapshots(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users_snapshot").Scan(&count)
	return count, err
}

// --- Admin topics ---

// GetAdminTopic returns the active topic mapping for an admin
func (s *Storage) GetAdminTopic(ctx context.Context, adminID int64) (*AdminTopic, error) {
	var t AdminTopic
	var topicID sql.NullInt64
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT admin_id, admin_username, chat_id, topic_id, created_at, active
		 FROM admin_topics WHERE admin_id = ? AND active = 1`,
		adminID,
	).Scan(&t.AdminID, &t.AdminUsername, &t.ChatID, &topicID, &createdAt, &t.Active)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.CreatedAt = time.Unix(createdAt, 0)
	if topicID.Valid {
		id := int(topicID.Int64)
		t.TopicID = &id
	}

	return &t, nil
}

// CreateAdminTopic inserts a topic mapping if none exists for the admin.
// Returns false when another mapping was already present (the caller should
// re-read and use the existing row).
func (s *Storage) CreateAdminTopic(ctx context.Context, t *AdminTopic) (bool, error) {
	var topicID sql.NullInt64
	if t.TopicID != nil {
		topicID = sql.NullInt64{Int64: int64(*t.TopicID), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_topics (admin_id, admin_username, chat_id, topic_id, created_at, active)
		 VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT(admin_id) DO NOTHING`,
		t.AdminID, t.AdminUsername, t.ChatID, topicID, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// SetAdminTopic replaces the topic mapping for an admin (manual override)
func (s *Storage) SetAdminTopic(ctx context.Context, t *AdminTopic) error {
	var topicID sql.NullInt64
	if t.TopicID != nil {
		topicID = sql.NullInt64{Int64: int64(*t.TopicID), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO admin_topics
		 (admin_id, admin_username, chat_id, topic_id, created_at, active)
		 VALUES (?, ?, ?, ?, ?, 1)`,
		t.AdminID, t.AdminUsername, t.ChatID, topicID, time.Now().Unix(),
	)
	return err
}

// ListAdminTopics returns all active topic mappings
func (s *Storage) ListAdminTopics(ctx context.Context) ([]AdminTopic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT admin_id, admin_username, chat_id, topic_id, created_at, active
		 FROM admin_topics WHERE active = 1 ORDER BY admin_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []AdminTopic
	for rows.Next() {
		var t AdminTopic
		var topicID sql.NullInt64
		var createdAt int64

		err := rows.Scan(&t.AdminID, &t.AdminUsername, &t.ChatID, &topicID, &createdAt, &t.Active)
		if err != nil {
			return nil, err
		}

		t.CreatedAt = time.Unix(createdAt, 0)
		if topicID.Valid {
			id := int(topicID.Int64)
			t.TopicID = &id
		}
		topics = append(topics, t)
	}

	return topics, rows.Err()
}

// --- Payments ---

// GetPayment returns the payment record bound to a notification message
func (s *Storage) GetPayment(ctx context.Context, username string, chatID int64, messageID int) (*PaymentRecord, error) {
	var p PaymentRecord
	var updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT username, admin_id, chat_id, message_id, status, updated_by, updated_at
		 FROM payments WHERE username = ? AND chat_id = ? AND message_id = ?`,
		username, chatID, messageID,
	).Scan(&p.Username, &p.AdminID, &p.ChatID, &p.MessageID, &p.Status, &p.UpdatedBy, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// SavePayment inserts or updates the payment record for a notification
func (s *Storage) SavePayment(ctx context.Context, p *PaymentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (username, admin_id, chat_id, message_id, status, updated_by, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(username, chat_id, message_id) DO UPDATE SET
			status = excluded.status,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`,
		p.Username, p.AdminID, p.ChatID, p.MessageID, p.Status, p.UpdatedBy, time.Now().Unix(),
	)
	return err
}

// --- Settlement list ---

// AddSettlement adds a user to the settlement list. Returns false when an
// unresolved entry for the user already exists (idempotent membership).
func (s *Storage) AddSettlement(ctx context.Context, username string, adminID, addedBy int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settlement_list (username, admin_id, added_by, added_at, resolved)
		 VALUES (?, ?, ?, ?, 0)`,
		username, adminID, addedBy, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ListOpenSettlements returns all unresolved settlement entries
func (s *Storage) ListOpenSettlements(ctx context.Context) ([]SettlementEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, admin_id, added_by, added_at, resolved
		 FROM settlement_list WHERE resolved = 0 ORDER BY added_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SettlementEntry
	for rows.Next() {
		var e SettlementEntry
		var addedAt int64

		err := rows.Scan(&e.ID, &e.Username, &e.AdminID, &e.AddedBy, &addedAt, &e.Resolved)
		if err != nil {
			return nil, err
		}

		e.AddedAt = time.Unix(addedAt, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ResolveSettlement marks a settlement entry as resolved
func (s *Storage) ResolveSettlement(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE settlement_list SET resolved = 1 WHERE id = ? AND resolved = 0",
		id,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit log ---

// AppendAudit appends an entry to the audit log
func (s *Storage) AppendAudit(ctx context.Context, e *AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor_id, action, subject, before, after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ActorID, e.Action, e.Subject, e.Before, e.After, time.Now().Unix(),
	)
	return err
}

// ListAudit returns the most recent audit entries, newest first
func (s *Storage) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_id, action, subject, before, after, created_at
		 FROM audit_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt int64

		err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Subject, &e.Before, &e.After, &createdAt)
		if err != nil {
			return nil, err
		}

		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Sync status ---

// GetSyncValue returns a sync_status value, empty string when unset
func (s *Storage) GetSyncValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM sync_status WHERE key = ?", key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSyncValue sets a sync_status value
func (s *Storage) SetSyncValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_status (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix(),
	)
	return err
}

// SyncEnabled reports whether user_updated events should be evaluated
func (s *Storage) SyncEnabled(ctx context.Context) (bool, error) {
	value, err := s.GetSyncValue(ctx, "sync_enabled")
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

// SetSyncEnabled persists the sync flag
func (s *Storage) SetSyncEnabled(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return s.SetSyncValue(ctx, "sync_enabled", value)
}
