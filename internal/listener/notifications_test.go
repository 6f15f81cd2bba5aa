package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []models.Notification
	fail bool
}

func (s *recordingSender) Send(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("chat unavailable")
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func enqueueCreditNotification(t *testing.T, s store.LedgerStore, userId, message string) {
	t.Helper()
	ctx := context.Background()
	dep, err := s.CreateDeposit(ctx, store.CreateDepositParams{
		UserId:          userId,
		Label:           "note_" + message,
		Asset:           models.AssetUSDTTRC,
		RequestedAmount: decimal.NewFromInt(5),
		Address:         "TNote",
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)
	_, err = s.CreditDeposit(ctx, store.CreditDepositParams{
		DepositId:    dep.Id,
		UserId:       userId,
		Asset:        models.AssetUSDTTRC,
		Amount:       decimal.NewFromInt(5),
		GatewayTxId:  "note-" + dep.Id,
		Notification: message,
		CreditedAt:   time.Now(),
	})
	require.NoError(t, err)
}

func TestNotificationDispatcher_DispatchOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, err := s.CreateUser(ctx, store.CreateUserParams{TelegramId: 7})
	require.NoError(t, err)
	enqueueCreditNotification(t, s, user.Id, "first")
	enqueueCreditNotification(t, s, user.Id, "second")

	sender := &recordingSender{fail: true}
	d := NewNotificationDispatcher(s, sender, time.Hour)

	sent, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	pending, err := s.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "failed sends stay queued")

	sender.fail = false
	sent, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, models.NotificationDepositCredited, sender.sent[0].Kind)

	sent, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestNotificationDispatcher_StartStop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, err := s.CreateUser(ctx, store.CreateUserParams{TelegramId: 8})
	require.NoError(t, err)
	enqueueCreditNotification(t, s, user.Id, "hello")

	sender := &recordingSender{}
	d := NewNotificationDispatcher(s, sender, 20*time.Millisecond)
	d.Start(ctx)
	assert.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	d.Stop()
	d.Stop()
}
