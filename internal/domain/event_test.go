package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewww/unhangout/internal/domain"
)

func TestEvent_StartStop(t *testing.T) {
	event := &domain.Event{ID: 1, Title: "Community Call"}
	assert.False(t, event.IsLive(), "新建的 Event 不应处于直播状态")

	// Act: 启动
	err := event.Start()
	require.NoError(t, err)
	assert.True(t, event.IsLive())
	require.NotNil(t, event.StartedAt)
	assert.Nil(t, event.EndedAt)

	// 重复启动应失败
	err = event.Start()
	assert.ErrorIs(t, err, domain.ErrEventAlreadyLive)

	// Act: 停止
	err = event.Stop()
	require.NoError(t, err)
	assert.False(t, event.IsLive())
	require.NotNil(t, event.EndedAt)

	// 重复停止应失败
	err = event.Stop()
	assert.ErrorIs(t, err, domain.ErrEventNotLive)
}

func TestEvent_Restart_ClearsEnd(t *testing.T) {
	started := time.Now().Add(-2 * time.Hour)
	ended := time.Now().Add(-1 * time.Hour)
	event := &domain.Event{ID: 1, StartedAt: &started, EndedAt: &ended}
	assert.False(t, event.IsLive(), "已结束的 Event 不应处于直播状态")

	// 重新启动应清除结束时间
	err := event.Start()
	require.NoError(t, err)
	assert.True(t, event.IsLive())
	assert.Nil(t, event.EndedAt)
}

func TestEvent_AddSession_AssignsNumbers(t *testing.T) {
	event := &domain.Event{ID: 3}

	first := &domain.Session{ID: 10, Title: "Intro"}
	effect := event.AddSession(first)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, uint(3), first.EventID)
	assert.Equal(t, "event/3", effect.Room)
	assert.Equal(t, "create-session", effect.Type)

	second := &domain.Session{ID: 11, Title: "Deep dive"}
	event.AddSession(second)
	assert.Equal(t, 2, second.Number)

	// 编号基于当前最大值，列表中途删除不会导致复用
	event.Sessions = []*domain.Session{second}
	third := &domain.Session{ID: 12}
	event.AddSession(third)
	assert.Equal(t, 3, third.Number)
}

func TestEvent_SetEmbed(t *testing.T) {
	event := &domain.Event{ID: 7}

	effect, changed := event.SetEmbed("dQw4w9WgXcQ")
	require.True(t, changed)
	assert.Equal(t, "embed", effect.Type)
	assert.Equal(t, "event/7", effect.Room)
	assert.Equal(t, "dQw4w9WgXcQ", effect.Args["ytId"])
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, event.PreviousEmbeds)

	// 相同取值是 no-op
	_, changed = event.SetEmbed("dQw4w9WgXcQ")
	assert.False(t, changed)

	// 清空嵌入不产生历史记录
	effect, changed = event.SetEmbed("")
	require.True(t, changed)
	assert.Equal(t, "", effect.Args["ytId"])
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, event.PreviousEmbeds)
}

func TestEvent_ConnectedSet(t *testing.T) {
	event := &domain.Event{ID: 2}
	alice := &domain.User{ID: "u1", DisplayName: "Alice"}

	effect := event.UserConnected(alice)
	assert.Equal(t, "join", effect.Type)
	assert.Equal(t, 1, event.NumConnected())
	assert.True(t, event.IsConnected("u1"))

	// 同一用户重复连接（多标签页）不产生重复集合项
	event.UserConnected(alice)
	assert.Equal(t, 1, event.NumConnected())

	effect, ok := event.UserDisconnected(alice)
	require.True(t, ok)
	assert.Equal(t, "leave", effect.Type)
	assert.False(t, event.IsConnected("u1"))

	// 重复断开是幂等 no-op
	_, ok = event.UserDisconnected(alice)
	assert.False(t, ok)
}

func TestEvent_Admins(t *testing.T) {
	event := &domain.Event{ID: 4}
	user := &domain.User{ID: "u9", Emails: []string{"host@example.com"}}
	assert.False(t, event.UserIsAdmin(user))

	// 按 email 预注册的管理员在登录后也应匹配
	require.True(t, event.AddAdmin(domain.Admin{Email: "host@example.com"}))
	assert.True(t, event.UserIsAdmin(user))

	// 重复添加是 no-op
	assert.False(t, event.AddAdmin(domain.Admin{Email: "host@example.com"}))

	require.True(t, event.AddAdmin(domain.Admin{ID: "u9"}))
	assert.True(t, event.RemoveAdmin(domain.Admin{ID: "u9"}))
	assert.True(t, event.RemoveAdmin(domain.Admin{Email: "host@example.com"}))
	assert.False(t, event.UserIsAdmin(user))
}

func TestUser_IsAdminOf(t *testing.T) {
	event := &domain.Event{ID: 1}
	super := &domain.User{ID: "s1", Superuser: true}
	globalAdmin := &domain.User{ID: "a1", Admin: true}

	assert.True(t, super.IsAdminOf(event), "超级用户可管理任何 Event")
	assert.False(t, globalAdmin.IsAdminOf(event), "全局 admin 标志不授予单个 Event 的管理权")
}
