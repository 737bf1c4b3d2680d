package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/hub"
	"github.com/drewww/unhangout/internal/middleware"
	"github.com/drewww/unhangout/internal/repository/mocks"
	"github.com/drewww/unhangout/internal/service"
)

// apiFixture 装配完整的 HTTP 面：真实 service 和 Hub，mock 持久层。
type apiFixture struct {
	router      *gin.Engine
	registry    *domain.Registry
	pool        *mocks.HangoutPool
	subs        *mocks.SubscriptionRepository
	authService *service.AuthService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := domain.NewRegistry()
	userRepo := new(mocks.UserRepository)
	userRepo.On("Save", mock.Anything, mock.Anything).Return(nil).Maybe()
	eventRepo := new(mocks.EventRepository)
	eventRepo.On("Save", mock.Anything, mock.Anything).Return(nil).Maybe()
	sessionRepo := new(mocks.SessionRepository)
	sessionRepo.On("Save", mock.Anything, mock.Anything).Return(nil).Maybe()
	pool := new(mocks.HangoutPool)
	subs := new(mocks.SubscriptionRepository)

	authService, err := service.NewAuthService(registry, userRepo, "salt", "secret", 1, nil)
	require.NoError(t, err)
	eventService := service.NewEventService(registry, eventRepo, sessionRepo, nil)
	hangoutService := service.NewHangoutService(registry, pool, sessionRepo, "test-app", time.Minute, time.Minute)
	hubInstance := hub.NewHub(registry, authService, eventService)

	authHandler := NewAuthHandler(authService, subs)
	eventHandler := NewEventHandler(eventService, hubInstance)
	sessionHandler := NewSessionHandler(hangoutService, hubInstance)
	farmingHandler := NewFarmingHandler(hangoutService)
	authRequired := middleware.Auth(authService)

	router := gin.New()
	router.POST("/api/login", authHandler.Login)
	router.POST("/subscribe", authHandler.Subscribe)
	router.GET("/session/:key", authRequired, sessionHandler.Participate)
	router.POST("/session/hangout/:key", sessionHandler.PhoneHome)
	router.GET("/api/events/:id", eventHandler.Get)
	router.POST("/api/events", authRequired, eventHandler.Create)
	router.POST("/api/events/:id/start", authRequired, eventHandler.Start)
	router.POST("/api/users/:id/perms", authRequired, authHandler.SetPerm)
	router.GET("/hangout-farming/count", authRequired, farmingHandler.Count)
	router.POST("/hangout-farming", authRequired, farmingHandler.Farm)

	return &apiFixture{
		router:      router,
		registry:    registry,
		pool:        pool,
		subs:        subs,
		authService: authService,
	}
}

// login 直接通过 service 落地一个用户，返回其 JWT。
func (f *apiFixture) login(t *testing.T, id string, superuser bool) (*domain.User, string) {
	t.Helper()
	user, token, err := f.authService.LoginProfile(context.Background(), service.Profile{ID: id, DisplayName: id})
	require.NoError(t, err)
	if superuser {
		user.Superuser = true
	}
	return user, token
}

func (f *apiFixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("POST", "/api/login", "", gin.H{"id": "g-1", "displayName": "Alice"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "g-1", resp.UserID)
	assert.NotEmpty(t, resp.Token)
	assert.Len(t, resp.SockKey, 64)

	// id 缺失
	w = f.do("POST", "/api/login", "", gin.H{"displayName": "Nameless"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscribe(t *testing.T) {
	f := newAPIFixture(t)
	f.subs.On("Add", mock.Anything, "fan@example.com").Return(nil).Once()

	w := f.do("POST", "/subscribe", "", gin.H{"email": "fan@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do("POST", "/subscribe", "", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.subs.AssertExpectations(t)
}

func TestAuthMiddleware(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("GET", "/hangout-farming/count", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "缺少 Authorization 头")

	w = f.do("GET", "/hangout-farming/count", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "无效 token")
}

func TestEventCreateAndGet(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.login(t, "u1", true)

	w := f.do("POST", "/api/events", token, gin.H{"title": "Summit", "shortName": "summit"})
	require.Equal(t, http.StatusOK, w.Code)

	// 按 shortName 取回
	w = f.do("GET", "/api/events/summit", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Summit"`)

	// 不存在
	w = f.do("GET", "/api/events/999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventCreate_RequiresPerm(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.login(t, "u1", false)

	w := f.do("POST", "/api/events", token, gin.H{"title": "Nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEventStart(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.login(t, "u1", true)

	w := f.do("POST", "/api/events", token, gin.H{"title": "Summit"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("POST", "/api/events/1/start", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// 重复启动 → 400
	w = f.do("POST", "/api/events/1/start", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetPerm(t *testing.T) {
	f := newAPIFixture(t)
	_, superToken := f.login(t, "boss", true)
	f.login(t, "worker", false)

	w := f.do("POST", "/api/users/worker/perms", superToken, gin.H{"perm": domain.PermFarmHangouts, "value": true})
	assert.Equal(t, http.StatusOK, w.Code)

	// 非超级用户
	_, plainToken := f.login(t, "pleb", false)
	w = f.do("POST", "/api/users/worker/perms", plainToken, gin.H{"perm": domain.PermFarmHangouts, "value": true})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFarming(t *testing.T) {
	f := newAPIFixture(t)
	farmer, token := f.login(t, "farmer", false)
	farmer.SetPerm(domain.PermFarmHangouts, true)

	f.pool.On("AddURL", mock.Anything, "https://example.com/h").Return(nil).Once()
	w := f.do("POST", "/hangout-farming", token, gin.H{"url": "https://example.com/h"})
	assert.Equal(t, http.StatusOK, w.Code)

	f.pool.On("Available", mock.Anything).Return(int64(1), nil).Once()
	w = f.do("GET", "/hangout-farming/count", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	// 无权限
	_, plainToken := f.login(t, "pleb", false)
	w = f.do("POST", "/hangout-farming", plainToken, gin.H{"url": "https://example.com/h"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	f.pool.AssertExpectations(t)
}

// startedSession 装配一个已启动且持有 URL 的 Session。
func (f *apiFixture) startedSession(t *testing.T, hangoutURL string) *domain.Session {
	t.Helper()
	event := &domain.Event{Title: "Summit"}
	session := &domain.Session{Title: "Breakout"}
	f.registry.Lock()
	require.NoError(t, f.registry.AddEvent(event))
	f.registry.AttachSession(event, session)
	f.registry.Unlock()
	_, err := session.Start()
	require.NoError(t, err)
	if hangoutURL != "" {
		require.NoError(t, session.SetHangoutURL(hangoutURL))
	}
	return session
}

func TestParticipate_Redirects(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.login(t, "u1", false)
	session := f.startedSession(t, "https://example.com/h")

	w := f.do("GET", "/session/"+session.Key, token, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/h", w.Header().Get("Location"))
}

func TestParticipate_FullSession(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.login(t, "u1", false)
	session := f.startedSession(t, "https://example.com/h")
	session.JoinCap = 1
	session.AddJoining(&domain.User{ID: "other"})

	w := f.do("GET", "/session/"+session.Key, token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Session full")
}

func TestParticipate_UnknownKey(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.login(t, "u1", false)

	w := f.do("GET", "/session/bogus", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPhoneHome(t *testing.T) {
	f := newAPIFixture(t)
	session := f.startedSession(t, "")

	// url 回报
	w := f.do("POST", "/session/hangout/"+session.Key, "", gin.H{
		"type": "url", "url": "https://example.com/created",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://example.com/created", session.HangoutURL)

	// participants 回报
	w = f.do("POST", "/session/hangout/"+session.Key, "", gin.H{
		"type": "participants",
		"participants": []gin.H{
			{"id": "u1", "displayName": "Alice"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, session.Connected, 1)

	// heartbeat 回报
	w = f.do("POST", "/session/hangout/"+session.Key, "", gin.H{"type": "heartbeat"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, session.LastHeartbeat)

	// 未知类型被 binding 拒绝
	w = f.do("POST", "/session/hangout/"+session.Key, "", gin.H{"type": "selfdestruct"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 未知密钥
	w = f.do("POST", "/session/hangout/bogus", "", gin.H{"type": "heartbeat"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
