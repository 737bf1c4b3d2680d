package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/repository"
	"github.com/drewww/unhangout/internal/service"
)

// AuthHandler 封装登录落地与订阅相关的 HTTP 处理逻辑。
// 身份校验本身在上游（外部身份提供方）完成，这里只负责档案落地、
// 签发 JWT 和派生 socket 密钥。
type AuthHandler struct {
	authService      *service.AuthService
	subscriptionRepo repository.SubscriptionRepository
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(authService *service.AuthService, subscriptionRepo repository.SubscriptionRepository) *AuthHandler {
	if authService == nil {
		panic("AuthService cannot be nil for AuthHandler")
	}
	if subscriptionRepo == nil {
		panic("SubscriptionRepository cannot be nil for AuthHandler")
	}
	return &AuthHandler{authService: authService, subscriptionRepo: subscriptionRepo}
}

// LoginRequest 是上游认证回调送来的用户档案。
type LoginRequest struct {
	ID          string   `json:"id" binding:"required"`
	DisplayName string   `json:"displayName"`
	Emails      []string `json:"emails"`
	Picture     string   `json:"picture"`
	Link        string   `json:"link"`
}

// LoginResponse 返回 JWT（HTTP 接口用）和 sockKey（socket auth 命令用）。
type LoginResponse struct {
	Token   string `json:"token"`
	SockKey string `json:"sockKey"`
	UserID  string `json:"userId"`
}

// Login 处理 POST /api/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Login: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: id is required")
		return
	}

	user, token, err := h.authService.LoginProfile(c.Request.Context(), service.Profile{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Emails:      req.Emails,
		Picture:     req.Picture,
		Link:        req.Link,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, LoginResponse{
		Token:   token,
		SockKey: h.authService.SockKeyFor(user),
		UserID:  user.ID,
	})
}

// PermRequest 是授予/撤销权限的请求体。
type PermRequest struct {
	Perm  string `json:"perm" binding:"required"`
	Value bool   `json:"value"`
}

// SetPerm 处理 POST /api/users/:id/perms。仅超级用户可用。
func (h *AuthHandler) SetPerm(c *gin.Context) {
	actor, ok := contextUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	var req PermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: perm is required")
		return
	}

	if err := h.authService.GrantPerm(c.Request.Context(), actor, c.Param("id"), req.Perm, req.Value); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "ok"})
}

// SubscribeRequest 是上线通知订阅请求体。
type SubscribeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Subscribe 处理 POST /subscribe：记录希望收到上线通知的邮箱。
func (h *AuthHandler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: a valid email is required")
		return
	}

	if err := h.subscriptionRepo.Add(c.Request.Context(), req.Email); err != nil {
		logrus.WithError(err).Error("Handler.Subscribe: Failed to record subscription")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to record subscription")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Subscribed"})
}
