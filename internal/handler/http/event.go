package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/hub"
	"github.com/drewww/unhangout/internal/service"
)

// EventHandler 封装 Event 管理面的 HTTP 处理逻辑。
// socket 协议承载实时交互，这里是管理员用的带外操作入口。
type EventHandler struct {
	eventService *service.EventService
	hub          *hub.Hub
}

// NewEventHandler 创建 EventHandler 实例
func NewEventHandler(eventService *service.EventService, h *hub.Hub) *EventHandler {
	if eventService == nil {
		panic("EventService cannot be nil for EventHandler")
	}
	if h == nil {
		panic("Hub cannot be nil for EventHandler")
	}
	return &EventHandler{eventService: eventService, hub: h}
}

// EventRequest 是创建/更新 Event 的请求体。
type EventRequest struct {
	Title          string         `json:"title" binding:"required,max=191"`
	Organizer      string         `json:"organizer"`
	Description    string         `json:"description"`
	WelcomeMessage string         `json:"welcomeMessage"`
	ShortName      *string        `json:"shortName"`
	Admins         []domain.Admin `json:"admins"`
}

func (r EventRequest) toInput() service.EventInput {
	return service.EventInput{
		Title:          r.Title,
		Organizer:      r.Organizer,
		Description:    r.Description,
		WelcomeMessage: r.WelcomeMessage,
		ShortName:      r.ShortName,
		Admins:         r.Admins,
	}
}

// Get 处理 GET /api/events/:id，:id 接受数字 id 或 shortName。
func (h *EventHandler) Get(c *gin.Context) {
	event, err := h.eventService.EventByRef(c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, event)
}

// Create 处理 POST /api/events
func (h *EventHandler) Create(c *gin.Context) {
	user, ok := contextUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateEvent: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input")
		return
	}

	event, err := h.eventService.CreateEvent(c.Request.Context(), user, req.toInput())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Event created successfully", "event_id": event.ID})
}

// Update 处理 PUT /api/events/:id
func (h *EventHandler) Update(c *gin.Context) {
	user, ok := contextUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	eventID, err := parseEventID(c)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid event ID format")
		return
	}
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.UpdateEvent: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input")
		return
	}

	event, err := h.eventService.UpdateEvent(c.Request.Context(), user, eventID, req.toInput())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, event)
}

// Start 处理 POST /api/events/:id/start
func (h *EventHandler) Start(c *gin.Context) {
	h.lifecycle(c, true)
}

// Stop 处理 POST /api/events/:id/stop
func (h *EventHandler) Stop(c *gin.Context) {
	h.lifecycle(c, false)
}

func (h *EventHandler) lifecycle(c *gin.Context, start bool) {
	user, ok := contextUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	eventID, err := parseEventID(c)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid event ID format")
		return
	}

	if start {
		err = h.eventService.StartEvent(c.Request.Context(), user, eventID)
	} else {
		err = h.eventService.StopEvent(c.Request.Context(), user, eventID)
	}
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "ok"})
}

func parseEventID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}
