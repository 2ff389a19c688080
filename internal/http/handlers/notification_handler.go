// README: Notification inbox handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"wander/internal/modules/notification"
	"wander/internal/types"
)

type Inbox interface {
	List(ctx context.Context, q notification.ListQuery) (*notification.Page, error)
	UnreadCount(ctx context.Context, userID types.ID) (int, error)
	MarkRead(ctx context.Context, id, userID types.ID) error
	MarkAllRead(ctx context.Context, userID types.ID) (int64, error)
	Delete(ctx context.Context, id, userID types.ID) error
	DeleteAll(ctx context.Context, userID types.ID) (int64, error)
	Create(ctx context.Context, userID types.ID, req notification.CreateRequest) (*notification.Notification, error)
}

type NotificationHandler struct {
	inbox Inbox
}

func NewNotificationHandler(inbox Inbox) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

func (h *NotificationHandler) List(c *gin.Context) {
	page, limit := paging(c)
	p, err := h.inbox.List(c.Request.Context(), notification.ListQuery{
		UserID:     callerID(c),
		UnreadOnly: c.Query("unreadOnly") == "true",
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, p)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	n, err := h.inbox.UnreadCount(c.Request.Context(), callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"unreadCount": n})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.inbox.MarkRead(c.Request.Context(), id, callerID(c)); err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"id": id, "isRead": true})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.inbox.MarkAllRead(c.Request.Context(), callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"updated": n})
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.inbox.Delete(c.Request.Context(), id, callerID(c)); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) DeleteAll(c *gin.Context) {
	n, err := h.inbox.DeleteAll(c.Request.Context(), callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusOK, gin.H{"deleted": n})
}

// Create files a reminder or system notice addressed to the caller.
func (h *NotificationHandler) Create(c *gin.Context) {
	var req notification.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid notification body")
		return
	}
	n, err := h.inbox.Create(c.Request.Context(), callerID(c), req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, n)
}
