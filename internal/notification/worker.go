package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"copier-fleet-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// TonerAlert announces that a toner part on a machine has crossed its due threshold.
type TonerAlert struct {
	MachineID      int64
	Branch         string
	PartName       string
	TonerColor     string
	PercentOfYield int
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan TonerAlert
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	logger  *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, logger *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan TonerAlert, size*8),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  logger.Named("notification"),
	}
}

// WithSender replaces the push transport. It must be called before Start.
func (wp *WorkerPool) WithSender(sender NotificationSender) *WorkerPool {
	wp.sender = sender
	return wp
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("worker started", zap.Int("worker", id))
	for {
		select {
		case alert := <-wp.jobs:
			wp.logger.Debug("processing toner alert", zap.Int("worker", id), zap.Int64("machine_id", alert.MachineID))
			wp.sendAlert(ctx, alert)
		case <-ctx.Done():
			wp.logger.Debug("worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues an alert. It never blocks; a full queue drops the alert and returns false.
func (wp *WorkerPool) Dispatch(alert TonerAlert) bool {
	select {
	case wp.jobs <- alert:
		return true
	default:
		wp.logger.Warn("alert queue full, dropping toner alert",
			zap.Int64("machine_id", alert.MachineID), zap.String("part", alert.PartName))
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan TonerAlert {
	return wp.jobs
}

// sendAlert pushes alert to every subscriber of the machine's branch and to subscribers of
// all branches.
func (wp *WorkerPool) sendAlert(ctx context.Context, alert TonerAlert) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("branch = ? OR branch = ?", "", alert.Branch).
		Find(&subscriptions).Error
	if err != nil {
		wp.logger.Error("failed to fetch subscriptions", zap.String("branch", alert.Branch), zap.Error(err))
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	var machine model.Machine
	machineLabel := fmt.Sprintf("%d", alert.MachineID)
	if err := wp.db.WithContext(ctx).
		Select("serial_number").
		First(&machine, alert.MachineID).Error; err != nil {
		wp.logger.Warn("failed to fetch machine", zap.Int64("machine_id", alert.MachineID), zap.Error(err))
	} else if machine.SerialNumber != "" {
		machineLabel = machine.SerialNumber
	}

	wp.logger.Info("sending toner alerts",
		zap.Int("subscribers", len(subscriptions)), zap.Int64("machine_id", alert.MachineID))
	message := []byte(Message(alert, machineLabel))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, message)
	}
}

// Message renders the push text for an alert.
func Message(alert TonerAlert, machineLabel string) string {
	part := alert.PartName
	if alert.TonerColor != "" {
		part = fmt.Sprintf("%s (%s)", alert.PartName, alert.TonerColor)
	}
	return fmt.Sprintf("Machine %s: %s is at %d%% of its rated yield and due for replacement", machineLabel, part, alert.PercentOfYield)
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.logger.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.logger.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
