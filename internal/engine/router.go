package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/madadi/accounting-bot/internal/panel"
	"github.com/madadi/accounting-bot/internal/storage"
)

// Destination is where an admin's notifications go.
type Destination struct {
	ChatID   int64
	TopicID  *int
	Fallback bool // true when no mapping could be used
}

// TopicCreator creates a forum topic and returns its thread id.
type TopicCreator interface {
	CreateTopic(ctx context.Context, chatID int64, name string) (int, error)
}

// Router resolves the destination for an admin, auto-registering a dedicated
// forum topic on first sight. Registration is exactly-once per admin: a
// per-admin lock plus an insert-if-absent row guarantee concurrent resolvers
// agree on one mapping.
type Router struct {
	store       *storage.Storage
	creator     TopicCreator
	forumChatID int64
	fallback    Destination
	locks       *keyedMutex
	log         *slog.Logger
}

// NewRouter creates a new router
func NewRouter(store *storage.Storage, creator TopicCreator, forumChatID, fallbackChatID int64, fallbackTopicID int, log *slog.Logger) *Router {
	fallback := Destination{ChatID: fallbackChatID, Fallback: true}
	if fallbackTopicID != 0 {
		id := fallbackTopicID
		fallback.TopicID = &id
	}

	return &Router{
		store:       store,
		creator:     creator,
		forumChatID: forumChatID,
		fallback:    fallback,
		locks:       newKeyedMutex(),
		log:         log,
	}
}

// Fallback returns the default destination for unroutable notifications
func (r *Router) Fallback() Destination {
	return r.fallback
}

// Resolve returns the destination for an admin, creating the mapping when
// none exists yet. Topic-creation failure degrades to the fallback
// destination without persisting anything, so the next event retries.
func (r *Router) Resolve(ctx context.Context, admin *panel.Admin) (Destination, error) {
	key := AdminKey(admin)
	if key == 0 {
		return r.fallback, nil
	}

	unlock := r.locks.Lock(fmt.Sprintf("admin:%d", key))
	defer unlock()

	topic, err := r.store.GetAdminTopic(ctx, key)
	if err == nil {
		return destinationFrom(topic), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Destination{}, dependencyErr("get admin topic", err)
	}

	if r.forumChatID == 0 {
		return r.fallback, nil
	}

	name := admin.Username
	if name == "" {
		name = fmt.Sprintf("admin %d", key)
	}

	topicID, err := r.creator.CreateTopic(ctx, r.forumChatID, name)
	if err != nil {
		r.log.Warn("create forum topic failed, using fallback",
			"admin_id", key,
			"error", err,
		)
		return r.fallback, nil
	}

	newTopic := &storage.AdminTopic{
		AdminID:       key,
		AdminUsername: admin.Username,
		ChatID:        r.forumChatID,
		TopicID:       &topicID,
	}

	created, err := r.store.CreateAdminTopic(ctx, newTopic)
	if err != nil {
		return Destination{}, dependencyErr("create admin topic", err)
	}
	if !created {
		// Lost a registration race: use the winner's row.
		topic, err := r.store.GetAdminTopic(ctx, key)
		if err != nil {
			return Destination{}, dependencyErr("get admin topic", err)
		}
		return destinationFrom(topic), nil
	}

	r.log.Info("admin topic registered",
		"admin_id", key,
		"admin", admin.Username,
		"topic_id", topicID,
	)

	return destinationFrom(newTopic), nil
}

// SetTopic replaces an admin's mapping (manual operator override)
func (r *Router) SetTopic(ctx context.Context, topic *storage.AdminTopic) error {
	unlock := r.locks.Lock(fmt.Sprintf("admin:%d", topic.AdminID))
	defer unlock()

	return r.store.SetAdminTopic(ctx, topic)
}

func destinationFrom(t *storage.AdminTopic) Destination {
	d := Destination{ChatID: t.ChatID}
	if t.TopicID != nil {
		id := *t.TopicID
		d.TopicID = &id
	}
	return d
}
