package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/repository"
	"github.com/drewww/unhangout/internal/repository/mocks"
	"github.com/drewww/unhangout/internal/service"
)

// hangoutFixture 装配一个 HangoutService、mock 池和一个已启动的 Session。
type hangoutFixture struct {
	registry    *domain.Registry
	pool        *mocks.HangoutPool
	sessionRepo *mocks.SessionRepository
	svc         *service.HangoutService
	event       *domain.Event
	session     *domain.Session
}

func newHangoutFixture(t *testing.T, creationTimeout time.Duration) *hangoutFixture {
	t.Helper()
	f := &hangoutFixture{
		registry:    domain.NewRegistry(),
		pool:        new(mocks.HangoutPool),
		sessionRepo: new(mocks.SessionRepository),
	}
	f.svc = service.NewHangoutService(f.registry, f.pool, f.sessionRepo,
		"test-app", creationTimeout, time.Minute)

	f.event = &domain.Event{Title: "Summit"}
	f.session = &domain.Session{Title: "Breakout"}
	f.registry.Lock()
	require.NoError(t, f.registry.AddEvent(f.event))
	f.registry.AttachSession(f.event, f.session)
	f.registry.Unlock()
	_, err := f.session.Start()
	require.NoError(t, err)

	// 落库调用在各路径上都允许发生
	f.sessionRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Session")).Return(nil).Maybe()
	return f
}

func (f *hangoutFixture) putUser(id string) *domain.User {
	u := &domain.User{ID: id, DisplayName: id}
	f.registry.Lock()
	f.registry.PutUser(u)
	f.registry.Unlock()
	return u
}

func TestHangoutService_ExistingURL(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	user := f.putUser("u1")
	require.NoError(t, f.session.SetHangoutURL("https://example.com/h1"))

	got, err := f.svc.ParticipationURL(context.Background(), f.session.Key, user)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/h1", got)
	require.Len(t, f.session.Joining, 1, "被重定向的用户应被记入加入中列表")
	assert.Equal(t, "u1", f.session.Joining[0].ID)
	f.pool.AssertNotCalled(t, "NextURL", mock.Anything)
}

func TestHangoutService_DrawsFromPool(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	user := f.putUser("u1")
	f.pool.On("NextURL", mock.Anything).Return("https://example.com/pooled", nil).Once()

	got, err := f.svc.ParticipationURL(context.Background(), f.session.Key, user)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/pooled", got)
	assert.Equal(t, "https://example.com/pooled", f.session.HangoutURL)
	assert.False(t, f.session.IsHangoutPending())
	f.pool.AssertExpectations(t)
}

// poolCalls 统计 mock 池上某个方法被调用的次数。
func poolCalls(p *mocks.HangoutPool, method string) int {
	n := 0
	for _, c := range p.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func TestHangoutService_ConcurrentRequests_SingleURLConsumed(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	first := f.putUser("u1")
	second := f.putUser("u2")

	// 池里只有一个 URL；若出现第二次弹出，多余的那个必须归还
	f.pool.On("NextURL", mock.Anything).Return("https://example.com/a", nil).Once()
	f.pool.On("NextURL", mock.Anything).Return("https://example.com/b", nil).Maybe()
	f.pool.On("ReuseURL", mock.Anything, "https://example.com/b").Return(nil).Maybe()

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i, user := range []*domain.User{first, second} {
		wg.Add(1)
		go func(i int, u *domain.User) {
			defer wg.Done()
			results[i], errs[i] = f.svc.ParticipationURL(context.Background(), f.session.Key, u)
		}(i, user)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// 恰好一个 URL 成为权威指派，两个请求都拿到它
	assert.Equal(t, results[0], results[1], "并发请求应解析到同一个权威 URL")
	assert.Equal(t, f.session.HangoutURL, results[0])

	// URL 不会丢失：多弹出的每一个都被归还池尾
	draws := poolCalls(f.pool, "NextURL")
	require.GreaterOrEqual(t, draws, 1)
	assert.Equal(t, draws-1, poolCalls(f.pool, "ReuseURL"))
	assert.Len(t, f.session.Joining, 2)
}

func TestHangoutService_LostRace_ReturnsURLToPool(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	user := f.putUser("u1")

	// 在弹出与指派之间，另一端抢先完成了指派（进程外的双重决议）。
	// mock 的钩子在调用方持有 Registry 锁时执行，据此直接写入会话。
	f.pool.On("NextURL", mock.Anything).Return(func(ctx context.Context) (string, error) {
		require.NoError(t, f.session.SetHangoutURL("https://example.com/winner"))
		return "https://example.com/loser", nil
	}).Once()
	f.pool.On("ReuseURL", mock.Anything, "https://example.com/loser").Return(nil).Once()

	got, err := f.svc.ParticipationURL(context.Background(), f.session.Key, user)
	require.NoError(t, err)

	// 落败方把手里的 URL 还回池尾，重定向到权威 URL
	assert.Equal(t, "https://example.com/winner", got)
	assert.Equal(t, "https://example.com/winner", f.session.HangoutURL)
	require.Len(t, f.session.Joining, 1)
	assert.Equal(t, "u1", f.session.Joining[0].ID)
	f.pool.AssertExpectations(t)
}

func TestHangoutService_PoolEmpty_FirstUserCreates(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	user := f.putUser("u1")
	f.pool.On("NextURL", mock.Anything).Return("", repository.ErrPoolEmpty).Once()

	got, err := f.svc.ParticipationURL(context.Background(), f.session.Key, user)
	require.NoError(t, err)
	expected := fmt.Sprintf("https://plus.google.com/hangouts/_?gid=test-app&gd=%s", f.session.Key)
	assert.Equal(t, expected, got, "创建 URL 应携带应用 id 和会话密钥")
	assert.True(t, f.session.IsHangoutPending())
	assert.Equal(t, "u1", f.session.Pending.UserID)
}

func TestHangoutService_PendingWaiterReleasedByPhoneHome(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	creator := f.putUser("u1")
	waiter := f.putUser("u2")
	f.pool.On("NextURL", mock.Anything).Return("", repository.ErrPoolEmpty).Once()

	_, err := f.svc.ParticipationURL(context.Background(), f.session.Key, creator)
	require.NoError(t, err)

	// 第二个用户在 pending 期间到达，阻塞等待
	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		u, e := f.svc.ParticipationURL(context.Background(), f.session.Key, waiter)
		done <- result{u, e}
	}()

	// 等 waiter 挂上去，再回报 URL
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.svc.RegisterHangoutURL(context.Background(), f.session.Key, "https://example.com/created"))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "https://example.com/created", r.url)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released after phone-home")
	}
	assert.Equal(t, "https://example.com/created", f.session.HangoutURL)

	// waiter 也被记入加入中列表
	found := false
	for _, p := range f.session.Joining {
		if p.ID == "u2" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHangoutService_CreationTimeout_PromotesWaiter(t *testing.T) {
	f := newHangoutFixture(t, 80*time.Millisecond)
	creator := f.putUser("u1")
	waiter := f.putUser("u2")
	f.pool.On("NextURL", mock.Anything).Return("", repository.ErrPoolEmpty).Once()

	_, err := f.svc.ParticipationURL(context.Background(), f.session.Key, creator)
	require.NoError(t, err)

	done := make(chan string, 1)
	go func() {
		u, e := f.svc.ParticipationURL(context.Background(), f.session.Key, waiter)
		if e == nil {
			done <- u
		}
	}()

	// 创建者失联，超时后第一个等待者被提拔为新创建者
	select {
	case got := <-done:
		expected := fmt.Sprintf("https://plus.google.com/hangouts/_?gid=test-app&gd=%s", f.session.Key)
		assert.Equal(t, expected, got, "被提拔的等待者应拿到创建 URL")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not promoted after creation timeout")
	}
	assert.Equal(t, "u2", f.session.Pending.UserID, "pending 所有权应已转移")
}

func TestHangoutService_WaiterCancel(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	creator := f.putUser("u1")
	waiter := f.putUser("u2")
	f.pool.On("NextURL", mock.Anything).Return("", repository.ErrPoolEmpty).Once()

	_, err := f.svc.ParticipationURL(context.Background(), f.session.Key, creator)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.svc.ParticipationURL(ctx, f.session.Key, waiter)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "取消的等待者收到 ctx 错误而非 URL")
}

func TestHangoutService_SessionFull(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	f.session.JoinCap = 1
	require.NoError(t, f.session.SetHangoutURL("https://example.com/h"))
	first := f.putUser("u1")
	second := f.putUser("u2")

	_, err := f.svc.ParticipationURL(context.Background(), f.session.Key, first)
	require.NoError(t, err)

	// 名额被加入中的用户占满，后来者直接拒绝
	_, err = f.svc.ParticipationURL(context.Background(), f.session.Key, second)
	assert.ErrorIs(t, err, service.ErrSessionFull)
}

func TestHangoutService_UnknownOrStoppedSession(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	user := f.putUser("u1")

	_, err := f.svc.ParticipationURL(context.Background(), "bogus-key", user)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = f.session.Stop()
	require.NoError(t, err)
	_, err = f.svc.ParticipationURL(context.Background(), f.session.Key, user)
	assert.ErrorIs(t, err, service.ErrSessionNotFound, "已停止的 Session 不再接受参与")
}

func TestHangoutService_RegisterHangoutURL_Idempotent(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, f.svc.RegisterHangoutURL(ctx, f.session.Key, "https://example.com/h"))

	// 同一 URL 的重复回报无害
	require.NoError(t, f.svc.RegisterHangoutURL(ctx, f.session.Key, "https://example.com/h"))

	// 不同 URL 的回报被拒绝
	err := f.svc.RegisterHangoutURL(ctx, f.session.Key, "https://example.com/other")
	assert.ErrorIs(t, err, domain.ErrHangoutAlreadySet)
	assert.Equal(t, "https://example.com/h", f.session.HangoutURL)
}

func TestHangoutService_UpdateParticipants(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	ctx := context.Background()
	alice := domain.Participant{ID: "u1", DisplayName: "Alice"}

	effects, err := f.svc.UpdateParticipants(ctx, f.session.Key, []domain.Participant{alice})
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, "session-participants", effects[0].Type)
	assert.Equal(t, f.session.EventRoomID(), effects[0].Room)

	// 相同名单不再广播
	effects, err = f.svc.UpdateParticipants(ctx, f.session.Key, []domain.Participant{alice})
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestHangoutService_Heartbeat(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)

	require.NoError(t, f.svc.Heartbeat(context.Background(), f.session.Key))
	assert.NotNil(t, f.session.LastHeartbeat)

	assert.ErrorIs(t, f.svc.Heartbeat(context.Background(), "bogus"), service.ErrSessionNotFound)
}

func TestHangoutService_FarmURL(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	ctx := context.Background()
	farmer := &domain.User{ID: "u1", Perms: map[string]bool{domain.PermFarmHangouts: true}}
	nobody := &domain.User{ID: "u2"}

	assert.ErrorIs(t, f.svc.FarmURL(ctx, nobody, "https://example.com/h"), service.ErrPermissionDenied)
	assert.ErrorIs(t, f.svc.FarmURL(ctx, farmer, "not a url"), service.ErrInvalidInput)

	f.pool.On("AddURL", ctx, "https://example.com/h").Return(nil).Once()
	require.NoError(t, f.svc.FarmURL(ctx, farmer, "https://example.com/h"))
	f.pool.AssertExpectations(t)
}

func TestHangoutService_PoolDepth(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	f.pool.On("Available", mock.Anything).Return(int64(3), nil).Once()

	n, err := f.svc.PoolDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestHangoutService_SweepStale(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	require.NoError(t, f.session.SetHangoutURL("https://example.com/h"))
	// UpdatedAt 很久以前、无心跳、无人在线：应被回收
	f.session.UpdatedAt = time.Now().Add(-24 * time.Hour)

	swept := f.svc.SweepStale(context.Background())
	assert.Equal(t, 1, swept)
	assert.False(t, f.session.HasHangout())

	// 再跑一轮没有可回收的
	assert.Zero(t, f.svc.SweepStale(context.Background()))
}

func TestHangoutService_SweepStale_SkipsActive(t *testing.T) {
	f := newHangoutFixture(t, time.Minute)
	require.NoError(t, f.session.SetHangoutURL("https://example.com/h"))
	f.session.UpdatedAt = time.Now().Add(-24 * time.Hour)
	now := time.Now()
	f.session.RecordHeartbeat(now)

	assert.Zero(t, f.svc.SweepStale(context.Background()), "近期有心跳的 hangout 不回收")
}
