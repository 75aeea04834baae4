package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madadi/accounting-bot/internal/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *storage.Storage) {
	t.Helper()

	store := newTestStorage(t)
	audit := NewAuditRecorder(store, testLogger())
	return NewLedger(store, audit, testLogger()), store
}

func press(kind ButtonKind, username string, messageID int) Press {
	return Press{
		Kind:      kind,
		Username:  username,
		AdminID:   5000,
		ChatID:    -1001,
		MessageID: messageID,
		ActorID:   9,
		ActorName: "operator",
	}
}

func TestMarkPaidIdempotent(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	r, err := ledger.Apply(ctx, press(ButtonPaid, "alice", 55))
	require.NoError(t, err)
	assert.False(t, r.Noop)
	assert.Equal(t, storage.PaymentPaid, r.Status)

	// Second press: same state, no second audit entry, still renders
	r, err = ledger.Apply(ctx, press(ButtonPaid, "alice", 55))
	require.NoError(t, err)
	assert.True(t, r.Noop)
	assert.Equal(t, storage.PaymentPaid, r.Status)

	p, err := store.GetPayment(ctx, "alice", -1001, 55)
	require.NoError(t, err)
	assert.Equal(t, storage.PaymentPaid, p.Status)

	entries, err := store.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "payment_paid", entries[0].Action)
	assert.Equal(t, "pending", entries[0].Before)
	assert.Equal(t, "paid", entries[0].After)
}

func TestPaidUnpaidToggle(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, press(ButtonPaid, "bob", 60))
	require.NoError(t, err)

	r, err := ledger.Apply(ctx, press(ButtonUnpaid, "bob", 60))
	require.NoError(t, err)
	assert.False(t, r.Noop)
	assert.Equal(t, storage.PaymentUnpaid, r.Status)

	r, err = ledger.Apply(ctx, press(ButtonPaid, "bob", 60))
	require.NoError(t, err)
	assert.False(t, r.Noop)
	assert.Equal(t, storage.PaymentPaid, r.Status)

	entries, err := store.ListAudit(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecordsIndependentPerNotification(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, press(ButtonPaid, "carol", 70))
	require.NoError(t, err)

	// Same user, different originating message: fresh pending record
	r, err := ledger.Apply(ctx, press(ButtonUnpaid, "carol", 71))
	require.NoError(t, err)
	assert.False(t, r.Noop)

	p, err := store.GetPayment(ctx, "carol", -1001, 70)
	require.NoError(t, err)
	assert.Equal(t, storage.PaymentPaid, p.Status)

	p, err = store.GetPayment(ctx, "carol", -1001, 71)
	require.NoError(t, err)
	assert.Equal(t, storage.PaymentUnpaid, p.Status)
}

func TestAddToSettlementIdempotent(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	r, err := ledger.Apply(ctx, press(ButtonSettle, "dave", 80))
	require.NoError(t, err)
	assert.False(t, r.Noop)

	// Again, even from a different notification: membership is per user
	r, err = ledger.Apply(ctx, press(ButtonSettle, "dave", 81))
	require.NoError(t, err)
	assert.True(t, r.Noop)

	entries, err := store.ListOpenSettlements(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	audits, err := store.ListAudit(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, audits, 1)
}

func TestSettlementIndependentOfPaymentState(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, press(ButtonPaid, "erin", 90))
	require.NoError(t, err)

	r, err := ledger.Apply(ctx, press(ButtonSettle, "erin", 90))
	require.NoError(t, err)
	assert.False(t, r.Noop)
	assert.Equal(t, storage.PaymentPaid, r.Status)

	p, err := store.GetPayment(ctx, "erin", -1001, 90)
	require.NoError(t, err)
	assert.Equal(t, storage.PaymentPaid, p.Status)
}

func TestMalformedPressRejected(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, Press{Kind: ButtonPaid})
	require.Error(t, err)

	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, KindValidation, itemErr.Kind)

	_, err = ledger.Apply(ctx, Press{Kind: "bogus", Username: "x", ChatID: -1, MessageID: 1})
	require.Error(t, err)
}

func TestConcurrentPressesLinearized(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		kind := ButtonPaid
		if i%2 == 1 {
			kind = ButtonUnpaid
		}
		go func(k ButtonKind) {
			defer func() { done <- struct{}{} }()
			_, err := ledger.Apply(ctx, press(k, "frank", 100))
			assert.NoError(t, err)
		}(kind)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	p, err := store.GetPayment(ctx, "frank", -1001, 100)
	require.NoError(t, err)
	assert.Contains(t, []string{storage.PaymentPaid, storage.PaymentUnpaid}, p.Status)
}
