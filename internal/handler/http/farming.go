package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/service"
)

// FarmingHandler 封装 hangout URL 池运维接口。
type FarmingHandler struct {
	hangoutService *service.HangoutService
}

// NewFarmingHandler 创建 FarmingHandler 实例
func NewFarmingHandler(hangoutService *service.HangoutService) *FarmingHandler {
	if hangoutService == nil {
		panic("HangoutService cannot be nil for FarmingHandler")
	}
	return &FarmingHandler{hangoutService: hangoutService}
}

// Count 处理 GET /hangout-farming/count，返回池深。
func (h *FarmingHandler) Count(c *gin.Context) {
	count, err := h.hangoutService.PoolDepth(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"count": count})
}

// FarmRequest 是入池请求体。
type FarmRequest struct {
	URL string `json:"url" binding:"required"`
}

// Farm 处理 POST /hangout-farming：把一个新创建的 hangout URL 加入池子。
// 需要 farmHangouts 权限。
func (h *FarmingHandler) Farm(c *gin.Context) {
	user, ok := contextUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	var req FarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Farm: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: url is required")
		return
	}

	if err := h.hangoutService.FarmURL(c.Request.Context(), user, req.URL); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Hangout url added to pool"})
}
