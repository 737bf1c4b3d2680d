package domain_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewww/unhangout/internal/domain"
)

func TestSession_Start_GeneratesKey(t *testing.T) {
	session := &domain.Session{ID: 5, EventID: 2}

	effect, err := session.Start()
	require.NoError(t, err)
	assert.True(t, session.Started)
	assert.Len(t, session.Key, 32, "会话密钥应为 32 个十六进制字符")
	assert.Equal(t, "event/2", effect.Room)
	assert.Equal(t, "start", effect.Type)
	assert.Equal(t, session.Key, effect.Args["key"], "start 广播应携带新密钥")

	// 重复启动应失败
	_, err = session.Start()
	assert.ErrorIs(t, err, domain.ErrSessionAlreadyStarted)
}

func TestSession_Stop(t *testing.T) {
	session := &domain.Session{ID: 5, EventID: 2}

	// 未启动不能停止
	_, err := session.Stop()
	assert.ErrorIs(t, err, domain.ErrSessionNotStarted)

	_, err = session.Start()
	require.NoError(t, err)

	effect, err := session.Stop()
	require.NoError(t, err)
	assert.True(t, session.Stopped)
	assert.Equal(t, "stop", effect.Type)

	_, err = session.Stop()
	assert.ErrorIs(t, err, domain.ErrSessionAlreadyStopped)
}

func TestSession_Cap(t *testing.T) {
	assert.Equal(t, domain.MaxAttendees, (&domain.Session{}).Cap(), "未设置时取硬上限")
	assert.Equal(t, 4, (&domain.Session{JoinCap: 4}).Cap())
	assert.Equal(t, domain.MaxAttendees, (&domain.Session{JoinCap: 50}).Cap(), "硬上限封顶")
}

func TestSession_Attendees(t *testing.T) {
	session := &domain.Session{ID: 1, EventID: 9, JoinCap: 2}
	alice := &domain.User{ID: "u1", DisplayName: "Alice"}
	bob := &domain.User{ID: "u2", DisplayName: "Bob"}
	carol := &domain.User{ID: "u3", DisplayName: "Carol"}

	effect, err := session.AddAttendee(alice)
	require.NoError(t, err)
	assert.Equal(t, "attend", effect.Type)
	assert.Equal(t, "event/9", effect.Room, "attend 广播发往 Event 房间")

	// 重复加入应失败且不改变列表
	_, err = session.AddAttendee(alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyAttending)
	assert.Len(t, session.Attendees, 1)

	_, err = session.AddAttendee(bob)
	require.NoError(t, err)

	// 超出容量
	_, err = session.AddAttendee(carol)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Len(t, session.Attendees, 2)

	effect, err = session.RemoveAttendee(alice)
	require.NoError(t, err)
	assert.Equal(t, "unattend", effect.Type)
	assert.Len(t, session.Attendees, 1)

	_, err = session.RemoveAttendee(alice)
	assert.ErrorIs(t, err, domain.ErrNotAttending)
}

func TestSession_HangoutURLRace(t *testing.T) {
	session := &domain.Session{ID: 1, EventID: 1}
	winner := "https://plus.google.com/hangouts/abc"
	loser := "https://plus.google.com/hangouts/xyz"

	require.NoError(t, session.SetHangoutURL(winner))
	assert.Equal(t, winner, session.HangoutURL)

	// 竞争中后到的一方必须拿到 ErrHangoutAlreadySet，以便归还手中的 URL
	err := session.SetHangoutURL(loser)
	assert.ErrorIs(t, err, domain.ErrHangoutAlreadySet)
	assert.Equal(t, winner, session.HangoutURL, "已有 URL 不被覆盖")
}

func TestSession_HangoutPending(t *testing.T) {
	session := &domain.Session{ID: 1}
	alice := &domain.User{ID: "u1"}
	bob := &domain.User{ID: "u2"}

	require.NoError(t, session.MarkHangoutPending(alice))
	assert.True(t, session.IsHangoutPending())
	assert.Equal(t, "u1", session.Pending.UserID)

	// pending 期间第二个用户不能抢创建权
	assert.ErrorIs(t, session.MarkHangoutPending(bob), domain.ErrHangoutPending)

	// 超时转移
	session.TransferHangoutPending(bob)
	assert.Equal(t, "u2", session.Pending.UserID)

	// URL 到达后 pending 清除
	require.NoError(t, session.SetHangoutURL("https://example.com/h"))
	assert.False(t, session.IsHangoutPending())
}

func TestSession_SetConnectedParticipants(t *testing.T) {
	session := &domain.Session{ID: 1}
	alice := &domain.User{ID: "u1", DisplayName: "Alice"}
	bob := &domain.User{ID: "u2", DisplayName: "Bob"}
	session.AddJoining(alice)
	session.AddJoining(bob)
	assert.Equal(t, 2, session.NumFilling())

	// Alice 确认连入：从 joining 消去，出现在 connected
	changed, err := session.SetConnectedParticipants([]domain.Participant{alice.AsParticipant()})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, session.Connected, 1)
	assert.Len(t, session.Joining, 1, "Bob 仍在加入中")
	assert.Equal(t, "u2", session.Joining[0].ID)
	assert.Equal(t, 2, session.NumFilling())

	// 相同名单不算变化
	changed, err = session.SetConnectedParticipants([]domain.Participant{alice.AsParticipant()})
	require.NoError(t, err)
	assert.False(t, changed)

	// 超过硬上限的名单被拒绝
	tooMany := make([]domain.Participant, domain.MaxAttendees+1)
	for i := range tooMany {
		tooMany[i] = domain.Participant{ID: fmt.Sprintf("x%d", i)}
	}
	_, err = session.SetConnectedParticipants(tooMany)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestSession_ClearHangoutURL(t *testing.T) {
	session := &domain.Session{ID: 1}
	require.NoError(t, session.SetHangoutURL("https://example.com/h"))
	session.AddJoining(&domain.User{ID: "u1"})

	session.ClearHangoutURL()
	assert.False(t, session.HasHangout())
	assert.Empty(t, session.Joining)
	assert.Empty(t, session.Connected)
}

func TestNewSessionKey_Unique(t *testing.T) {
	a, err := domain.NewSessionKey()
	require.NoError(t, err)
	b, err := domain.NewSessionKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
