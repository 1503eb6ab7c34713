package tasks

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/apperror"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opNotificationsList    = "notifications.list"
	opNotificationsRead    = "notifications.mark_read"
	opNotificationsReadAll = "notifications.mark_all_read"

	defaultNotificationLimit = 50
	maxNotificationLimit     = 200

	msgNotificationNotFound = "Notification not found"
)

// Publisher receives every notification after it is stored.
type Publisher interface {
	PublishNotification(notification Notification)
}

type NotificationServiceConfig struct {
	Database   *gorm.DB
	Publisher  Publisher
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// NotificationService stores and reads per-user notifications.
type NotificationService struct {
	db        *gorm.DB
	publisher Publisher
	clock     func() time.Time
	ids       ids.Provider
	logger    *zap.Logger
}

func NewNotificationService(cfg NotificationServiceConfig) (*NotificationService, error) {
	if cfg.Database == nil {
		return nil, apperror.Store("notifications.service.new", "missing_database", msgInternal, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		db:        cfg.Database,
		publisher: cfg.Publisher,
		clock:     clock,
		ids:       idProvider,
		logger:    logger,
	}, nil
}

// Notify stores one notification. Failures are logged and counted but never
// returned: the action that triggered the notification has already succeeded.
func (n *NotificationService) Notify(ctx context.Context, userID, message string, taskID *string) bool {
	notification, err := n.store(context.WithoutCancel(ctx), userID, message, taskID)
	if err != nil {
		metrics.IncNotificationFailed()
		n.logger.Warn("notification write failed",
			zap.String("user_id", userID),
			zap.Stringp("task_id", taskID),
			zap.Error(err),
		)
		return false
	}
	metrics.IncNotificationWritten()
	if n.publisher != nil {
		n.publisher.PublishNotification(notification)
	}
	return true
}

func (n *NotificationService) store(ctx context.Context, userID, message string, taskID *string) (Notification, error) {
	id, err := n.ids.NewID()
	if err != nil {
		return Notification{}, err
	}
	notification := Notification{
		ID:        id,
		UserID:    userID,
		Message:   message,
		TaskID:    taskID,
		CreatedAt: n.clock().UTC(),
	}
	if err := n.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return Notification{}, err
	}
	return notification, nil
}

// List returns the user's newest notifications and the unread count.
func (n *NotificationService) List(ctx context.Context, userID string, limit int) ([]Notification, int64, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	var notifications []Notification
	err := n.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		n.logError(opNotificationsList, "load", err)
		return nil, 0, apperror.Store(opNotificationsList, "load", msgInternal, err)
	}
	unread, err := n.UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return notifications, unread, nil
}

func (n *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := n.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		n.logError(opNotificationsList, "count_unread", err)
		return 0, apperror.Store(opNotificationsList, "count_unread", msgInternal, err)
	}
	return count, nil
}

// MarkRead flags one of the user's notifications as read.
func (n *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	result := n.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("is_read", true)
	if result.Error != nil {
		n.logError(opNotificationsRead, "update", result.Error)
		return apperror.Store(opNotificationsRead, "update", msgInternal, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.NotFound(opNotificationsRead, "not_found", msgNotificationNotFound)
	}
	return nil
}

func (n *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	err := n.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).Error
	if err != nil {
		n.logError(opNotificationsReadAll, "update", err)
		return apperror.Store(opNotificationsReadAll, "update", msgInternal, err)
	}
	return nil
}

func (n *NotificationService) logError(operation, reason string, err error) {
	n.logger.Error("notifications service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
