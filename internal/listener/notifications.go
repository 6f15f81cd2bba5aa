package listener

import (
	"context"
	"sync"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"go.uber.org/zap"
)

// NotificationQueue is the persisted outbox of user notifications.
type NotificationQueue interface {
	GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	MarkNotificationSent(ctx context.Context, notificationId string, sentAt time.Time) error
}

// Sender delivers one notification to its user.
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// LogSender writes notifications to the log. Used when no chat delivery is wired.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n models.Notification) error {
	zap.L().Info("Notification",
		zap.String("user_id", n.UserId),
		zap.String("kind", n.Kind),
		zap.String("message", n.Message))
	return nil
}

// NotificationDispatcher drains the notification outbox. A notification is
// marked sent only after the sender accepts it, so delivery is at least once.
type NotificationDispatcher struct {
	queue    NotificationQueue
	sender   Sender
	interval time.Duration
	batch    int

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

func NewNotificationDispatcher(queue NotificationQueue, sender Sender, interval time.Duration) *NotificationDispatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &NotificationDispatcher{
		queue:    queue,
		sender:   sender,
		interval: interval,
		batch:    100,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

func (d *NotificationDispatcher) Start(ctx context.Context) {
	zap.L().Info("Starting notification dispatcher", zap.Duration("interval", d.interval))
	go d.loop(ctx)
}

func (d *NotificationDispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	<-d.doneChan
	zap.L().Info("Notification dispatcher stopped")
}

func (d *NotificationDispatcher) loop(ctx context.Context) {
	defer close(d.doneChan)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil {
			zap.L().Error("Notification dispatch failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// DispatchOnce sends one batch of pending notifications and returns how
// many were delivered. A failed send leaves the row pending for the next pass.
func (d *NotificationDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.queue.GetPendingNotifications(ctx, d.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range pending {
		if err := d.sender.Send(ctx, n); err != nil {
			zap.L().Warn("Notification delivery failed",
				zap.String("notification_id", n.Id),
				zap.String("user_id", n.UserId),
				zap.Error(err))
			continue
		}
		if err := d.queue.MarkNotificationSent(ctx, n.Id, time.Now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
