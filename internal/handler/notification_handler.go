package handler

import (
	"net/http"
	"strconv"

	"github.com/TheOnlyBaddy/Blocklance/internal/auth"
	"github.com/TheOnlyBaddy/Blocklance/internal/logic"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type NotificationHandler struct {
	notificationLogic *logic.NotificationLogic
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{
		notificationLogic: logic.NewNotificationLogic(db),
	}
}

// GetNotifications 获取当前用户的通知列表
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	callerId, ok := auth.CallerId(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "未登录")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	notifications, total, err := h.notificationLogic.GetUserNotifications(callerId, page, pageSize)
	if err != nil {
		DomainErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取通知列表成功", GetNotificationsResponse{
		Notifications: ToNotificationResponseList(notifications),
		Pagination:    NewPagination(page, pageSize, total),
	})
}

// MarkRead 标记通知为已读
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	callerId, ok := auth.CallerId(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "未登录")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的通知ID")
		return
	}

	if err := h.notificationLogic.MarkRead(id, callerId); err != nil {
		DomainErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "通知已读", nil)
}
