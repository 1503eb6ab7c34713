package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/tasks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type notificationResponsePayload struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	TaskID    *string   `json:"task_id"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func newNotificationResponse(notification tasks.Notification) notificationResponsePayload {
	return notificationResponsePayload{
		ID:        notification.ID,
		UserID:    notification.UserID,
		Message:   notification.Message,
		TaskID:    notification.TaskID,
		IsRead:    notification.IsRead,
		CreatedAt: notification.CreatedAt,
	}
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	notifications, unread, err := h.notifications.List(c.Request.Context(), c.GetString(userIDContextKey), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := make([]notificationResponsePayload, 0, len(notifications))
	for _, notification := range notifications {
		response = append(response, newNotificationResponse(notification))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": response, "unreadCount": unread})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	err := h.notifications.MarkRead(c.Request.Context(), c.GetString(userIDContextKey), c.Param("notificationId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleMarkAllNotificationsRead(c *gin.Context) {
	if err := h.notifications.MarkAllRead(c.Request.Context(), c.GetString(userIDContextKey)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	h.logger.Debug("notification stream opened", zap.String("user_id", userID))
	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, newNotificationResponse(message.Notification))
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC().Unix()})
			return true
		}
	})
	h.logger.Debug("notification stream closed", zap.String("user_id", userID))
}
