package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/hub"
	"github.com/drewww/unhangout/internal/middleware"
	"github.com/drewww/unhangout/internal/service"
)

// SessionHandler 封装参与链接与 hangout phone-home 的 HTTP 处理逻辑。
type SessionHandler struct {
	hangoutService *service.HangoutService
	hub            *hub.Hub
}

// NewSessionHandler 创建 SessionHandler 实例
func NewSessionHandler(hangoutService *service.HangoutService, h *hub.Hub) *SessionHandler {
	if hangoutService == nil {
		panic("HangoutService cannot be nil for SessionHandler")
	}
	if h == nil {
		panic("Hub cannot be nil for SessionHandler")
	}
	return &SessionHandler{hangoutService: hangoutService, hub: h}
}

// contextUser 取出认证中间件放进 Context 的用户。
func contextUser(c *gin.Context) (*domain.User, bool) {
	v, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := v.(*domain.User)
	return user, ok
}

// Participate 处理参与链接 GET /session/:key。
// 成功时把用户重定向到 hangout；池空且创建中时请求会挂起，
// 直到 URL 就绪或用户关掉页面（请求上下文取消）。
func (h *SessionHandler) Participate(c *gin.Context) {
	user, ok := contextUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	key := c.Param("key")
	logCtx := logrus.WithFields(logrus.Fields{"session_key": key, "user_id": user.ID})

	redirect, err := h.hangoutService.ParticipationURL(c.Request.Context(), key, user)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// 用户在等待期间断开了，没有可回应的对象
			logCtx.Debug("Participation request canceled while waiting")
			return
		}
		logCtx.WithError(err).Warn("Participation request rejected")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("redirect", redirect).Info("Participant redirected to hangout")
	c.Redirect(http.StatusFound, redirect)
}

// PhoneHomeRequest 是 hangout 应用回报的消息体。
type PhoneHomeRequest struct {
	Type         string               `json:"type" binding:"required,oneof=url participants heartbeat"`
	URL          string               `json:"url"`
	Participants []domain.Participant `json:"participants"`
}

// PhoneHome 处理 POST /session/hangout/:key。
// 请求来自 hangout 内运行的应用，会话密钥本身就是凭证，不做 JWT 认证。
func (h *SessionHandler) PhoneHome(c *gin.Context) {
	key := c.Param("key")
	var req PhoneHomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.PhoneHome: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"session_key": key, "type": req.Type})

	switch req.Type {
	case "url":
		if err := h.hangoutService.RegisterHangoutURL(c.Request.Context(), key, req.URL); err != nil {
			logCtx.WithError(err).Warn("Handler.PhoneHome: Failed to register hangout url")
			HandleServiceError(c, err)
			return
		}
	case "participants":
		effects, err := h.hangoutService.UpdateParticipants(c.Request.Context(), key, req.Participants)
		if err != nil {
			logCtx.WithError(err).Warn("Handler.PhoneHome: Failed to update participants")
			HandleServiceError(c, err)
			return
		}
		h.hub.Apply(effects)
	case "heartbeat":
		if err := h.hangoutService.Heartbeat(c.Request.Context(), key); err != nil {
			HandleServiceError(c, err)
			return
		}
	}

	SuccessResponse(c, http.StatusOK, gin.H{"message": "ok"})
}
