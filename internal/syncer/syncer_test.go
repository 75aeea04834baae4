package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madadi/accounting-bot/internal/engine"
	"github.com/madadi/accounting-bot/internal/panel"
	"github.com/madadi/accounting-bot/internal/storage"
)

type fakePanel struct {
	users      []panel.User
	admins     []panel.Admin
	self       *panel.Admin
	usersErr   error
	adminsErr  error
	currentErr error
}

func (f *fakePanel) GetAllUsers(ctx context.Context) ([]panel.User, error) {
	return f.users, f.usersErr
}

func (f *fakePanel) GetAllAdmins(ctx context.Context) ([]panel.Admin, error) {
	return f.admins, f.adminsErr
}

func (f *fakePanel) GetCurrentAdmin(ctx context.Context) (*panel.Admin, error) {
	return f.self, f.currentErr
}

type seqTopicCreator struct {
	calls int
	err   error
}

func (f *seqTopicCreator) CreateTopic(ctx context.Context, chatID int64, name string) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return 100 + f.calls, nil
}

func newTestSyncer(t *testing.T, api PanelAPI, creator engine.TopicCreator) (*Syncer, *storage.Storage) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	router := engine.NewRouter(store, creator, -100200, -100999, 0, log)
	return New(store, api, router, log), store
}

func TestBootstrapSyncSnapshotsAndEnables(t *testing.T) {
	expire := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	api := &fakePanel{users: []panel.User{
		{ID: 1, Username: "u1", Status: "active", DataLimit: 1 << 30, Expire: &panel.ExpireAt{Time: expire}},
		{ID: 2, Username: "u2", Status: "on_hold"},
	}}
	s, store := newTestSyncer(t, api, &seqTopicCreator{})
	ctx := context.Background()

	count, err := s.BootstrapSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	enabled, err := store.SyncEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	snap, err := store.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, snap.Expire)
	assert.True(t, snap.Expire.Equal(expire))

	snap, err = store.GetSnapshot(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, snap.Expire)

	last, err := store.GetSyncValue(ctx, "last_sync")
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, last)
	assert.NoError(t, err)
}

func TestBootstrapSyncIdempotent(t *testing.T) {
	api := &fakePanel{users: []panel.User{{ID: 1, Username: "u1", Status: "active"}}}
	s, store := newTestSyncer(t, api, &seqTopicCreator{})
	ctx := context.Background()

	_, err := s.BootstrapSync(ctx)
	require.NoError(t, err)

	// Second run overwrites in place, no duplicates
	api.users[0].Status = "disabled"
	count, err := s.BootstrapSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err := store.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := store.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "disabled", snap.Status)
}

func TestBootstrapSyncPanelFailure(t *testing.T) {
	api := &fakePanel{usersErr: errors.New("panel down")}
	s, store := newTestSyncer(t, api, &seqTopicCreator{})
	ctx := context.Background()

	_, err := s.BootstrapSync(ctx)
	require.Error(t, err)

	enabled, err := store.SyncEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestSyncAdminsRegistersTopics(t *testing.T) {
	api := &fakePanel{admins: []panel.Admin{
		{ID: 1, Username: "alpha", TelegramID: 5001},
		{ID: 2, Username: "beta"},       // routed by panel id
		{ID: 0, Username: "unroutable"}, // skipped
	}}
	creator := &seqTopicCreator{}
	s, store := newTestSyncer(t, api, creator)
	ctx := context.Background()

	routed, err := s.SyncAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, routed)
	assert.Equal(t, 2, creator.calls)

	topics, err := store.ListAdminTopics(ctx)
	require.NoError(t, err)
	assert.Len(t, topics, 2)

	// Re-run: existing mappings are reused, no new topics
	routed, err = s.SyncAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, routed)
	assert.Equal(t, 2, creator.calls)
}

func TestSyncAdminsSurvivesCreateFailure(t *testing.T) {
	api := &fakePanel{admins: []panel.Admin{{ID: 1, Username: "alpha", TelegramID: 5001}}}
	creator := &seqTopicCreator{err: errors.New("forum unavailable")}
	s, store := newTestSyncer(t, api, creator)
	ctx := context.Background()

	routed, err := s.SyncAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, routed)

	topics, err := store.ListAdminTopics(ctx)
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestCurrentAdminPassthrough(t *testing.T) {
	api := &fakePanel{self: &panel.Admin{ID: 9, Username: "operator"}}
	s, _ := newTestSyncer(t, api, &seqTopicCreator{})

	admin, err := s.CurrentAdmin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "operator", admin.Username)

	api.self = nil
	api.currentErr = errors.New("panel down")
	_, err = s.CurrentAdmin(context.Background())
	require.Error(t, err)
}

func TestSetSyncEnabledToggles(t *testing.T) {
	s, store := newTestSyncer(t, &fakePanel{}, &seqTopicCreator{})
	ctx := context.Background()

	require.NoError(t, s.SetSyncEnabled(ctx, true))
	enabled, err := store.SyncEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, s.SetSyncEnabled(ctx, false))
	enabled, err = store.SyncEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}
