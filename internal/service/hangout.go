package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/repository"
)

// hangoutWaiter 是一个在 pending 创建期间到达、等着拿 URL 的用户。
// ch 收到的是最终要重定向到的 URL：要么是别人创建好的 hangout，
// 要么（被提拔为新创建者时）是创建用的 farming URL。
type hangoutWaiter struct {
	userID string
	ch     chan string
}

// HangoutService 实现参与链接背后的 hangout 指派协议。
//
// 三条路径：
//  1. Session 已有 URL：直接重定向。
//  2. URL 池非空：弹出一个 URL 指派给 Session。并发弹出由
//     SetHangoutURL 的先到先得仲裁，落败方把手里的 URL 归还池尾，
//     然后重定向到胜者的 URL——绝不丢弃未使用的池资源。
//  3. 池空：第一个用户被指派去现场创建（拿到 farming URL），
//     后续用户挂起等待。创建者超时未回报 URL 时，第一个等待者
//     被提拔为新创建者。
//
// 所有状态判定都在 Registry 锁内完成。
type HangoutService struct {
	registry    *domain.Registry
	pool        repository.HangoutPool
	sessionRepo repository.SessionRepository

	appID             string
	creationTimeout   time.Duration
	connectionTimeout time.Duration

	mu             sync.Mutex
	waiters        map[uint][]*hangoutWaiter
	creationTimers map[uint]*time.Timer
	connTimers     map[uint]*time.Timer
}

// NewHangoutService 创建 HangoutService 实例。
// appID 是外部视频服务的应用标识，用于拼创建 URL。
func NewHangoutService(registry *domain.Registry, pool repository.HangoutPool,
	sessionRepo repository.SessionRepository, appID string,
	creationTimeout, connectionTimeout time.Duration) *HangoutService {
	if registry == nil {
		panic("Registry cannot be nil for HangoutService")
	}
	if pool == nil {
		panic("HangoutPool cannot be nil for HangoutService")
	}
	if sessionRepo == nil {
		panic("SessionRepository cannot be nil for HangoutService")
	}
	if creationTimeout <= 0 {
		creationTimeout = 30 * time.Second
	}
	if connectionTimeout <= 0 {
		connectionTimeout = 5 * time.Minute
	}
	return &HangoutService{
		registry:          registry,
		pool:              pool,
		sessionRepo:       sessionRepo,
		appID:             appID,
		creationTimeout:   creationTimeout,
		connectionTimeout: connectionTimeout,
		waiters:           make(map[uint][]*hangoutWaiter),
		creationTimers:    make(map[uint]*time.Timer),
		connTimers:        make(map[uint]*time.Timer),
	}
}

// ParticipationURL 解析一次参与请求：按会话密钥找到 Session，
// 返回用户应被重定向到的 URL。池空且已有人在创建时，本调用会
// 阻塞到 URL 就绪、自己被提拔为创建者或 ctx 取消为止。
func (s *HangoutService) ParticipationURL(ctx context.Context, key string, user *domain.User) (string, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_key": key, "user_id": user.ID})

	s.registry.Lock()
	session := s.registry.SessionByKey(key)
	if session == nil {
		s.registry.Unlock()
		return "", ErrSessionNotFound
	}
	if !session.Started || session.Stopped {
		s.registry.Unlock()
		return "", ErrSessionNotFound
	}
	// 名额判定在指派之前：占满的 Session 直接拒绝
	if session.NumFilling() >= session.Cap() {
		s.registry.Unlock()
		return "", ErrSessionFull
	}

	// 路径 1：已有 URL
	if session.HasHangout() {
		session.AddJoining(user)
		hangoutURL := session.HangoutURL
		s.registry.Unlock()
		return hangoutURL, nil
	}

	// 路径 3（后续用户）：创建中，挂起等待
	if session.IsHangoutPending() {
		waiter := &hangoutWaiter{userID: user.ID, ch: make(chan string, 1)}
		sessionID := session.ID
		s.registry.Unlock()

		s.mu.Lock()
		s.waiters[sessionID] = append(s.waiters[sessionID], waiter)
		s.mu.Unlock()

		logCtx.Debug("Waiting for pending hangout creation")
		select {
		case redirect := <-waiter.ch:
			return redirect, nil
		case <-ctx.Done():
			s.removeWaiter(sessionID, waiter)
			return "", ctx.Err()
		}
	}

	// 路径 2：从池里取
	pooled, err := s.pool.NextURL(ctx)
	if err == nil {
		if setErr := session.SetHangoutURL(pooled); setErr != nil {
			// 双重决议：别人抢先指派了 URL。把手里这个还回池尾，
			// 重定向到权威 URL。
			hangoutURL := session.HangoutURL
			session.AddJoining(user)
			s.registry.Unlock()
			if reuseErr := s.pool.ReuseURL(ctx, pooled); reuseErr != nil {
				logCtx.WithError(reuseErr).Error("Failed to return pooled hangout url after lost race")
			}
			return hangoutURL, nil
		}
		session.AddJoining(user)
		s.registry.Unlock()

		s.afterURLAssigned(ctx, session, logCtx)
		return pooled, nil
	}
	if !errors.Is(err, repository.ErrPoolEmpty) {
		s.registry.Unlock()
		logCtx.WithError(err).Error("Failed to draw hangout url from pool")
		return "", ErrInternalServer
	}

	// 路径 3（第一个用户）：池空，指派现场创建
	if err := session.MarkHangoutPending(user); err != nil {
		// 不可达：pending 在上面已检查过，且全程持有 Registry 锁
		s.registry.Unlock()
		return "", ErrInternalServer
	}
	redirect := s.creationURL(session)
	sessionID := session.ID
	s.registry.Unlock()

	s.startCreationTimer(sessionID)
	logCtx.Info("Hangout pool empty, user redirected to create hangout")
	return redirect, nil
}

// RegisterHangoutURL 处理创建者 hangout 应用回报的 URL（phone-home）。
// 挂起的等待者全部被释放到这个 URL。
func (s *HangoutService) RegisterHangoutURL(ctx context.Context, key, hangoutURL string) error {
	if hangoutURL == "" {
		return ErrInvalidInput
	}

	s.registry.Lock()
	session := s.registry.SessionByKey(key)
	if session == nil {
		s.registry.Unlock()
		return ErrSessionNotFound
	}
	if err := session.SetHangoutURL(hangoutURL); err != nil {
		existing := session.HangoutURL
		s.registry.Unlock()
		if existing == hangoutURL {
			// 同一 hangout 的重复回报是无害的
			return nil
		}
		return err
	}
	sessionID := session.ID
	s.registry.Unlock()

	s.stopCreationTimer(sessionID)
	s.releaseWaiters(sessionID, hangoutURL)
	s.afterURLAssigned(ctx, session, logrus.WithField("session_id", sessionID))

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Database error while saving hangout url")
	}
	return nil
}

// UpdateParticipants 处理 hangout 应用上报的在线名单。
// 返回要广播给 Event 房间的参与状态 Effect（名单未变化时为空）。
func (s *HangoutService) UpdateParticipants(ctx context.Context, key string, participants []domain.Participant) ([]domain.Effect, error) {
	s.registry.Lock()
	session := s.registry.SessionByKey(key)
	if session == nil {
		s.registry.Unlock()
		return nil, ErrSessionNotFound
	}
	changed, err := session.SetConnectedParticipants(participants)
	if err != nil {
		s.registry.Unlock()
		return nil, err
	}
	sessionID := session.ID
	var effects []domain.Effect
	if changed {
		effects = append(effects, domain.Broadcast(session.EventRoomID(), "session-participants", map[string]interface{}{
			"id":           sessionID,
			"participants": participants,
		}))
	}
	hasConnected := len(participants) > 0
	s.registry.Unlock()

	// 有人真正进了 hangout，连接超时解除
	if hasConnected {
		s.stopConnTimer(sessionID)
	}
	return effects, nil
}

// Heartbeat 记录 hangout 应用的心跳。
func (s *HangoutService) Heartbeat(ctx context.Context, key string) error {
	s.registry.Lock()
	defer s.registry.Unlock()
	session := s.registry.SessionByKey(key)
	if session == nil {
		return ErrSessionNotFound
	}
	session.RecordHeartbeat(time.Now())
	return nil
}

// FarmURL 把一个新 farm 到的 URL 加入池子。
func (s *HangoutService) FarmURL(ctx context.Context, actor *domain.User, hangoutURL string) error {
	if !actor.HasPerm(domain.PermFarmHangouts) {
		return ErrPermissionDenied
	}
	if _, err := url.ParseRequestURI(hangoutURL); err != nil {
		return ErrInvalidInput
	}
	if err := s.pool.AddURL(ctx, hangoutURL); err != nil {
		logrus.WithError(err).Error("Failed to add farmed hangout url")
		return ErrInternalServer
	}
	logrus.WithField("user_id", actor.ID).Info("Hangout url farmed")
	return nil
}

// PoolDepth 返回池中可用 URL 数量。
func (s *HangoutService) PoolDepth(ctx context.Context) (int64, error) {
	n, err := s.pool.Available(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to read hangout pool depth")
		return 0, ErrInternalServer
	}
	return n, nil
}

// SweepStale 回收失联的 hangout：持有 URL 但长时间无心跳也无人在线的
// Session 被清空，后来者重新走指派流程。由周期任务触发。
func (s *HangoutService) SweepStale(ctx context.Context) int {
	cutoff := time.Now().Add(-2 * s.connectionTimeout)
	swept := 0

	s.registry.Lock()
	var stale []*domain.Session
	for _, event := range s.registry.Events() {
		for _, session := range event.Sessions {
			if !session.HasHangout() || len(session.Connected) > 0 {
				continue
			}
			if session.LastHeartbeat != nil && session.LastHeartbeat.After(cutoff) {
				continue
			}
			if session.UpdatedAt.After(cutoff) {
				continue
			}
			session.ClearHangoutURL()
			stale = append(stale, session)
		}
	}
	s.registry.Unlock()

	for _, session := range stale {
		swept++
		logrus.WithField("session_id", session.ID).Info("Swept stale hangout url")
		if err := s.sessionRepo.Save(ctx, session); err != nil {
			logrus.WithError(err).WithField("session_id", session.ID).Error("Database error while sweeping hangout")
		}
	}
	return swept
}

// --- 内部协调 ---

// creationURL 拼出"去现场创建一个 hangout"的重定向地址。
// gd 参数把会话密钥带进 hangout 应用，创建完成后据此 phone-home。
func (s *HangoutService) creationURL(session *domain.Session) string {
	return fmt.Sprintf("https://plus.google.com/hangouts/_?gid=%s&gd=%s", s.appID, url.QueryEscape(session.Key))
}

// afterURLAssigned 在 URL 刚指派到 Session 后启动连接超时：
// 窗口内无人真正进入 hangout 就清掉 URL。下发过的 URL 不回池。
func (s *HangoutService) afterURLAssigned(ctx context.Context, session *domain.Session, logCtx *logrus.Entry) {
	sessionID := session.ID
	s.mu.Lock()
	if old, ok := s.connTimers[sessionID]; ok {
		old.Stop()
	}
	s.connTimers[sessionID] = time.AfterFunc(s.connectionTimeout, func() {
		s.expireConnection(sessionID)
	})
	s.mu.Unlock()

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		logCtx.WithError(err).Error("Database error while saving assigned hangout url")
	}
}

func (s *HangoutService) expireConnection(sessionID uint) {
	s.registry.Lock()
	session := s.registry.SessionByID(sessionID)
	if session == nil || !session.HasHangout() || len(session.Connected) > 0 {
		s.registry.Unlock()
		return
	}
	session.ClearHangoutURL()
	s.registry.Unlock()

	s.stopConnTimer(sessionID)
	logrus.WithField("session_id", sessionID).Info("Hangout url expired: nobody joined within connection timeout")
	if err := s.sessionRepo.Save(context.Background(), session); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Database error while expiring hangout url")
	}
}

func (s *HangoutService) startCreationTimer(sessionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.creationTimers[sessionID]; ok {
		old.Stop()
	}
	s.creationTimers[sessionID] = time.AfterFunc(s.creationTimeout, func() {
		s.expireCreation(sessionID)
	})
}

func (s *HangoutService) stopCreationTimer(sessionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.creationTimers[sessionID]; ok {
		t.Stop()
		delete(s.creationTimers, sessionID)
	}
}

func (s *HangoutService) stopConnTimer(sessionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.connTimers[sessionID]; ok {
		t.Stop()
		delete(s.connTimers, sessionID)
	}
}

// expireCreation 在创建超时后把创建权转移给第一个等待者。
// 没有等待者时清掉 pending，让下一个到达的用户重新走指派流程。
func (s *HangoutService) expireCreation(sessionID uint) {
	s.registry.Lock()
	session := s.registry.SessionByID(sessionID)
	if session == nil || session.HasHangout() || !session.IsHangoutPending() {
		s.registry.Unlock()
		return
	}

	s.mu.Lock()
	queue := s.waiters[sessionID]
	if len(queue) == 0 {
		s.mu.Unlock()
		session.Pending = nil
		s.registry.Unlock()
		logrus.WithField("session_id", sessionID).Warn("Hangout creation timed out with no waiters")
		return
	}
	next := queue[0]
	s.waiters[sessionID] = queue[1:]
	s.mu.Unlock()

	if user := s.registry.UserByID(next.userID); user != nil {
		session.TransferHangoutPending(user)
	} else {
		session.Pending = nil
	}
	redirect := s.creationURL(session)
	s.registry.Unlock()

	logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": next.userID}).
		Warn("Hangout creation timed out, promoting first waiter to creator")
	next.ch <- redirect
	s.startCreationTimer(sessionID)
}

func (s *HangoutService) releaseWaiters(sessionID uint, hangoutURL string) {
	s.mu.Lock()
	queue := s.waiters[sessionID]
	delete(s.waiters, sessionID)
	s.mu.Unlock()

	s.registry.Lock()
	session := s.registry.SessionByID(sessionID)
	for _, w := range queue {
		if session != nil {
			if u := s.registry.UserByID(w.userID); u != nil {
				session.AddJoining(u)
			}
		}
	}
	s.registry.Unlock()

	for _, w := range queue {
		w.ch <- hangoutURL
	}
}

func (s *HangoutService) removeWaiter(sessionID uint, waiter *hangoutWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.waiters[sessionID]
	for i, w := range queue {
		if w == waiter {
			s.waiters[sessionID] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}
