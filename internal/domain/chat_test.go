package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewww/unhangout/internal/domain"
)

func TestNewChatMessage_EscapesHTML(t *testing.T) {
	event := &domain.Event{ID: 1}
	user := &domain.User{ID: "u1", DisplayName: "Alice"}

	msg := domain.NewChatMessage(event, user, `<script>alert("hi")</script>`)
	assert.Equal(t, "&lt;script&gt;alert(&#34;hi&#34;)&lt;/script&gt;", msg.Text)
	require.NotNil(t, msg.UserID)
	assert.Equal(t, "u1", *msg.UserID)
	assert.False(t, msg.PostedAsAdmin)
}

func TestNewChatMessage_AdminFlag(t *testing.T) {
	event := &domain.Event{ID: 1, Admins: []domain.Admin{{ID: "u1"}}}
	admin := &domain.User{ID: "u1"}

	msg := domain.NewChatMessage(event, admin, "welcome everyone")
	assert.True(t, msg.PostedAsAdmin)
}

func TestNewChatMessage_SystemMessage(t *testing.T) {
	event := &domain.Event{ID: 1}

	msg := domain.NewChatMessage(event, nil, "event is starting")
	assert.Nil(t, msg.UserID)

	args := msg.BroadcastArgs(nil)
	_, hasUser := args["user"]
	assert.False(t, hasUser, "系统消息不携带 user 字段")
}

func TestChatMessage_BroadcastArgs(t *testing.T) {
	event := &domain.Event{ID: 1}
	user := &domain.User{ID: "u1", DisplayName: "Alice", Picture: "p.png"}
	msg := domain.NewChatMessage(event, user, "hello")

	args := msg.BroadcastArgs(user)
	assert.Equal(t, "hello", args["text"])
	assert.Equal(t, msg.Time.UnixMilli(), args["time"])
	participant, ok := args["user"].(domain.Participant)
	require.True(t, ok)
	assert.Equal(t, "Alice", participant.DisplayName)
}
