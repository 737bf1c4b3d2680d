package hub

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/dto"
	"github.com/drewww/unhangout/internal/service"
)

// parseEventRoom 解析 "event/<id>" 形式的房间 id。
func parseEventRoom(roomID string) (uint, bool) {
	rest, ok := strings.CutPrefix(roomID, "event/")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// parseSessionRoom 解析 "session/<id>" 形式的房间 id。
func parseSessionRoom(roomID string) (uint, bool) {
	rest, ok := strings.CutPrefix(roomID, "session/")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// handleFrame 解析并执行单条 socket 命令。
// 协议约定：每条命令恰好产生一条 "<命令>-ack" 或 "<命令>-err" 回执，
// 任何业务失败都只回 -err，绝不断开连接。
func (h *Hub) handleFrame(client *Client, raw []byte) {
	msg, err := dto.Decode(raw)
	if err != nil || msg.Type == "" {
		h.reply(client, dto.NewErr("message", "could not parse message"))
		return
	}

	logCtx := logrus.WithFields(logrus.Fields{
		"conn_id": client.ID(),
		"command": msg.Type,
	})

	// auth 之前只允许 auth 命令
	if client.user == nil && msg.Type != "auth" {
		h.reply(client, dto.NewErr(msg.Type, "authentication required"))
		return
	}

	switch msg.Type {
	case "auth":
		h.handleAuth(client, msg)
	case "join":
		h.handleJoin(client, msg)
	case "leave":
		h.handleLeave(client, msg)
	case "attend":
		h.handleAttendance(client, msg, true)
	case "unattend":
		h.handleAttendance(client, msg, false)
	case "start":
		h.handleSessionLifecycle(client, msg, true)
	case "stop":
		h.handleSessionLifecycle(client, msg, false)
	case "create-session":
		h.handleCreateSession(client, msg)
	case "embed":
		h.handleEmbed(client, msg)
	case "chat":
		h.handleChat(client, msg)
	case "open-sessions":
		h.handleOpenSessions(client, msg, true)
	case "close-sessions":
		h.handleOpenSessions(client, msg, false)
	default:
		logCtx.Debug("Unknown socket command")
		h.reply(client, dto.NewErr(msg.Type, "unknown command"))
	}
}

// reply 把回执送给单个客户端。
func (h *Hub) reply(client *Client, msg dto.Message) {
	encoded, err := msg.Encode()
	if err != nil {
		logrus.WithError(err).WithField("type", msg.Type).Error("Failed to encode reply")
		return
	}
	client.queue(encoded)
}

// replyErr 把服务层/领域层错误翻译成 -err 回执。
func (h *Hub) replyErr(client *Client, cmd string, err error) {
	h.reply(client, dto.NewErr(cmd, errMessage(err)))
}

// errMessage 决定错误暴露给客户端的文案。
// 领域与服务层的判定错误原样透出，未知错误一律折叠成 internal error。
func errMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrEventNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrPermissionDenied),
		errors.Is(err, service.ErrAuthenticationFailed),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, domain.ErrEventAlreadyLive),
		errors.Is(err, domain.ErrEventNotLive),
		errors.Is(err, domain.ErrSessionAlreadyStarted),
		errors.Is(err, domain.ErrSessionNotStarted),
		errors.Is(err, domain.ErrSessionAlreadyStopped),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrAlreadyAttending),
		errors.Is(err, domain.ErrNotAttending),
		errors.Is(err, domain.ErrShortNameTaken):
		return err.Error()
	default:
		return "internal error"
	}
}

func (h *Hub) handleAuth(client *Client, msg dto.Message) {
	var args dto.AuthArgs
	if err := msg.DecodeArgs(&args); err != nil {
		h.reply(client, dto.NewErr("auth", "could not parse args"))
		return
	}
	user, err := h.authService.ValidateSockKey(args.ID, args.Key)
	if err != nil {
		// 认证失败使连接回到未认证状态。旧身份（重新 auth 的场景）
		// 先退出全部房间，让离场广播和在线名单照常结算。
		for roomID := range client.rooms {
			h.leaveRoom(client, roomID)
		}
		client.user = nil
		h.replyErr(client, "auth", err)
		return
	}
	client.user = user
	h.reply(client, dto.NewAck("auth", map[string]interface{}{
		"user": user.AsParticipant(),
	}))
}

func (h *Hub) handleJoin(client *Client, msg dto.Message) {
	var args dto.JoinArgs
	if err := msg.DecodeArgs(&args); err != nil {
		h.reply(client, dto.NewErr("join", "could not parse args"))
		return
	}

	if eventID, ok := parseEventRoom(args.ID); ok {
		h.registry.Lock()
		event := h.registry.EventByID(eventID)
		var effect domain.Effect
		alreadyIn := false
		if event != nil {
			alreadyIn = event.IsConnected(client.user.ID)
			effect = event.UserConnected(client.user)
		}
		h.registry.Unlock()
		if event == nil {
			h.replyErr(client, "join", service.ErrEventNotFound)
			return
		}

		h.leaveOtherRooms(client, args.ID)
		h.joinRoom(client, args.ID)
		h.reply(client, dto.NewAck("join", h.eventState(event)))
		// 同一用户的第二个连接不再重复广播 join
		if !alreadyIn {
			h.Apply([]domain.Effect{effect})
		}
		return
	}

	if sessionID, ok := parseSessionRoom(args.ID); ok {
		h.registry.Lock()
		session := h.registry.SessionByID(sessionID)
		h.registry.Unlock()
		if session == nil {
			h.replyErr(client, "join", service.ErrSessionNotFound)
			return
		}
		h.leaveOtherRooms(client, args.ID)
		h.joinRoom(client, args.ID)
		h.reply(client, dto.NewAck("join", session.BroadcastArgs()))
		return
	}

	h.reply(client, dto.NewErr("join", "invalid room id"))
}

func (h *Hub) handleLeave(client *Client, msg dto.Message) {
	var args dto.JoinArgs
	if err := msg.DecodeArgs(&args); err != nil {
		h.reply(client, dto.NewErr("leave", "could not parse args"))
		return
	}
	if !client.rooms[args.ID] {
		h.reply(client, dto.NewErr("leave", "not in room"))
		return
	}
	h.leaveRoom(client, args.ID)
	h.reply(client, dto.NewAck("leave", map[string]interface{}{"id": args.ID}))
}

// currentEventID 返回客户端当前加入的事件房间。
// 会话相关命令都以它为准，拒绝跨事件的 session id。
func (h *Hub) currentEventID(client *Client) (uint, bool) {
	for roomID := range client.rooms {
		if id, ok := parseEventRoom(roomID); ok {
			return id, true
		}
	}
	return 0, false
}

func (h *Hub) handleAttendance(client *Client, msg dto.Message, attend bool) {
	cmd := "attend"
	if !attend {
		cmd = "unattend"
	}
	var args dto.SessionArgs
	if err := msg.DecodeArgs(&args); err != nil {
		h.reply(client, dto.NewErr(cmd, "could not parse args"))
		return
	}
	eventID, ok := h.currentEventID(client)
	if !ok {
		h.reply(client, dto.NewErr(cmd, "not in an event"))
		return
	}

	var (
		effects []domain.Effect
		err     error
	)
	if attend {
		effects, err = h.eventService.Attend(context.Background(), client.user, eventID, args.ID)
	} else {
		effects, err = h.eventService.Unattend(context.Background(), client.user, eventID, args.ID)
	}
	if err != nil {
		h.replyErr(client, cmd, err)
		return
	}
	h.reply(client, dto.NewAck(cmd, map[string]interface{}{"id": args.ID}))
	h.Apply(effects)
}

func (h *Hub) handleSessionLifecycle(client *Client, msg dto.Message, start bool) {
	cmd := "start"
	if !start {
		cmd = "stop"
	}
	var args dto.SessionArgs
	if err := msg.DecodeArgs(&args); err != nil {
		h.reply(client, dto.NewErr(cmd, "could not parse args"))
		return
	}
	eventID, ok := h.currentEventID(client)
	if !ok {
		h.reply(client, dto.NewErr(cmd, "not in an event"))
		return
	}

	var (
		effects []domain.Effect
		err     error
	)
	if start {
		effects, err = h.eventService.StartSession(context.Background(), client.user, eventID, args.ID)
	} else {
		effects, err = h.eventService.StopSession(context.Background(), client.user, eventID, args.ID)
	}
	if err != nil {
		h.replyErr(client, cmd, err)
		return
	}
	h.reply(client, dto.NewAck(cmd, map[string]interface{}{"id": args.ID}))
	h.Apply(effects)
}

func (h *Hub) handleCreateSession(client *Client, msg dto.Message) {
	var args dto.CreateSessionArgs
	if err := msg.DecodeArgs(&args); err != nil {
		h.reply(client, dto.NewErr("create-session", "could not parse args"))
		return
	}
	eventID, ok := h.currentEventID(client)
	if !ok {
		h.reply(client, dto.NewErr("create-session", "not in an event"))
		return
	}
	if args.EventID != 0 && args.EventID != eventID {
		h.reply(client, dto.NewErr("create-session", "session must belong to the joined event"))
		return
	}

	session, effects, err := h.eventService.CreateSession(context.Background(), client.user, eventID, args.Title, args.Description, args.JoinCap)
	if err != nil {
		h.replyErr(client, "create-session", err)
		return
	}
	h.reply(client, dto.NewAck("create-session", map[string]interface{}{"id": session.ID}))
	h.Apply(effects)
}

func (h *Hub) handleEmbed(client *Client, msg dto.Message) {
	var args dto.EmbedArgs
	if err := msg.DecodeArgs(&args); err != nil {
		h.reply(client, dto.NewErr("embed", "could not parse args"))
		return
	}
	eventID, ok := h.currentEventID(client)
	if !ok {
		h.reply(client, dto.NewErr("embed", "not in an event"))
		return
	}
	if args.EventID != 0 && args.EventID != eventID {
		h.reply(client, dto.NewErr("embed", "embed must target the joined event"))
		return
	}

	effects, err := h.eventService.SetEmbed(context.Background(), client.user, eventID, args.YtID)
	if err != nil {
		h.replyErr(client, "embed", err)
		return
	}
	h.reply(client, dto.NewAck("embed", map[string]interface{}{"ytId": args.YtID}))
	h.Apply(effects)
}

func (h *Hub) handleChat(client *Client, msg dto.Message) {
	var args dto.ChatArgs
	if err := msg.DecodeArgs(&args); err != nil {
		h.reply(client, dto.NewErr("chat", "could not parse args"))
		return
	}
	eventID, ok := h.currentEventID(client)
	if !ok {
		h.reply(client, dto.NewErr("chat", "not in an event"))
		return
	}

	effects, err := h.eventService.Chat(context.Background(), client.user, eventID, args.Text)
	if err != nil {
		h.replyErr(client, "chat", err)
		return
	}
	h.reply(client, dto.NewAck("chat", nil))
	h.Apply(effects)
}

func (h *Hub) handleOpenSessions(client *Client, msg dto.Message, open bool) {
	cmd := "open-sessions"
	if !open {
		cmd = "close-sessions"
	}
	eventID, ok := h.currentEventID(client)
	if !ok {
		h.reply(client, dto.NewErr(cmd, "not in an event"))
		return
	}

	effects, err := h.eventService.OpenSessions(context.Background(), client.user, eventID, open)
	if err != nil {
		h.replyErr(client, cmd, err)
		return
	}
	h.reply(client, dto.NewAck(cmd, map[string]interface{}{"id": eventID}))
	h.Apply(effects)
}

// eventState 组装 join-ack 携带的事件全量状态。
func (h *Hub) eventState(event *domain.Event) map[string]interface{} {
	h.registry.Lock()
	defer h.registry.Unlock()

	sessions := make([]map[string]interface{}, 0, len(event.Sessions))
	for _, s := range event.Sessions {
		sessions = append(sessions, s.BroadcastArgs())
	}
	connected := make([]domain.Participant, 0, event.NumConnected())
	for _, u := range event.ConnectedUsers() {
		connected = append(connected, u.AsParticipant())
	}
	return map[string]interface{}{
		"id":             event.ID,
		"title":          event.Title,
		"organizer":      event.Organizer,
		"description":    event.Description,
		"welcomeMessage": event.WelcomeMessage,
		"live":           event.IsLive(),
		"sessionsOpen":   event.SessionsOpen,
		"youtubeEmbed":   event.YouTubeEmbed,
		"sessions":       sessions,
		"connected":      connected,
	}
}
