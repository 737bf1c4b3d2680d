package service

import (
	"context"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/repository"
	"github.com/drewww/unhangout/internal/tasks"
)

// EventInput 是创建/更新 Event 的输入。
type EventInput struct {
	Title          string
	Organizer      string
	Description    string
	WelcomeMessage string
	ShortName      *string
	Admins         []domain.Admin
}

// EventService 承载 Event 与 Session 的全部业务变更。
// 所有变更都在 Registry 锁内完成，然后先落库、后返回广播 Effect，
// 调用方（hub 或 HTTP handler）负责把 Effect 交给分发器。
type EventService struct {
	registry    *domain.Registry
	eventRepo   repository.EventRepository
	sessionRepo repository.SessionRepository
	asynqClient *asynq.Client
}

// NewEventService 创建 EventService 实例。
func NewEventService(registry *domain.Registry, eventRepo repository.EventRepository,
	sessionRepo repository.SessionRepository, asynqClient *asynq.Client) *EventService {
	if registry == nil {
		panic("Registry cannot be nil for EventService")
	}
	if eventRepo == nil {
		panic("EventRepository cannot be nil for EventService")
	}
	if sessionRepo == nil {
		panic("SessionRepository cannot be nil for EventService")
	}
	return &EventService{
		registry:    registry,
		eventRepo:   eventRepo,
		sessionRepo: sessionRepo,
		asynqClient: asynqClient,
	}
}

// EventByRef 按数字 id 或 shortName 解析 Event。
func (s *EventService) EventByRef(ref string) (*domain.Event, error) {
	s.registry.Lock()
	event := s.registry.EventByRef(ref)
	s.registry.Unlock()
	if event == nil {
		return nil, ErrEventNotFound
	}
	return event, nil
}

// CreateEvent 创建一个新 Event。需要 createEvents 权限或超级用户。
func (s *EventService) CreateEvent(ctx context.Context, actor *domain.User, in EventInput) (*domain.Event, error) {
	if !actor.HasPerm(domain.PermCreateEvents) {
		return nil, ErrPermissionDenied
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, ErrInvalidInput
	}

	event := &domain.Event{
		Title:          in.Title,
		Organizer:      in.Organizer,
		Description:    in.Description,
		WelcomeMessage: in.WelcomeMessage,
		ShortName:      in.ShortName,
		Admins:         in.Admins,
	}
	// 创建者总是自己活动的管理员
	event.AddAdmin(domain.Admin{ID: actor.ID})

	s.registry.Lock()
	err := s.registry.AddEvent(event)
	s.registry.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.eventRepo.Save(ctx, event); err != nil {
		logrus.WithError(err).WithField("event_id", event.ID).Error("Database error while saving new event")
		return nil, ErrInternalServer
	}
	logrus.WithFields(logrus.Fields{"event_id": event.ID, "user_id": actor.ID}).Info("Event created")
	return event, nil
}

// UpdateEvent 更新 Event 的描述性字段。需要该 Event 的管理员身份。
func (s *EventService) UpdateEvent(ctx context.Context, actor *domain.User, eventID uint, in EventInput) (*domain.Event, error) {
	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return nil, ErrEventNotFound
	}
	if !actor.IsAdminOf(event) {
		s.registry.Unlock()
		return nil, ErrPermissionDenied
	}
	if err := s.registry.RenameEvent(event, in.ShortName); err != nil {
		s.registry.Unlock()
		return nil, err
	}
	event.Title = in.Title
	event.Organizer = in.Organizer
	event.Description = in.Description
	event.WelcomeMessage = in.WelcomeMessage
	if in.Admins != nil {
		event.Admins = in.Admins
	}
	s.registry.Unlock()

	if err := s.eventRepo.Save(ctx, event); err != nil {
		logrus.WithError(err).WithField("event_id", event.ID).Error("Database error while updating event")
		return nil, ErrInternalServer
	}
	return event, nil
}

// StartEvent 把 Event 置为直播状态。
func (s *EventService) StartEvent(ctx context.Context, actor *domain.User, eventID uint) error {
	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return ErrEventNotFound
	}
	if !actor.IsAdminOf(event) {
		s.registry.Unlock()
		return ErrPermissionDenied
	}
	err := event.Start()
	s.registry.Unlock()
	if err != nil {
		return err
	}

	if err := s.eventRepo.Save(ctx, event); err != nil {
		logrus.WithError(err).WithField("event_id", event.ID).Error("Database error while starting event")
		return ErrInternalServer
	}
	logrus.WithFields(logrus.Fields{"event_id": event.ID, "user_id": actor.ID}).Info("Event started")
	return nil
}

// StopEvent 结束 Event 的直播状态。
func (s *EventService) StopEvent(ctx context.Context, actor *domain.User, eventID uint) error {
	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return ErrEventNotFound
	}
	if !actor.IsAdminOf(event) {
		s.registry.Unlock()
		return ErrPermissionDenied
	}
	err := event.Stop()
	s.registry.Unlock()
	if err != nil {
		return err
	}

	if err := s.eventRepo.Save(ctx, event); err != nil {
		logrus.WithError(err).WithField("event_id", event.ID).Error("Database error while stopping event")
		return ErrInternalServer
	}
	logrus.WithFields(logrus.Fields{"event_id": event.ID, "user_id": actor.ID}).Info("Event stopped")
	return nil
}

// SetEmbed 更新 Event 的嵌入视频。值未变化时不广播。
func (s *EventService) SetEmbed(ctx context.Context, actor *domain.User, eventID uint, ytID string) ([]domain.Effect, error) {
	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return nil, ErrEventNotFound
	}
	if !actor.IsAdminOf(event) {
		s.registry.Unlock()
		return nil, ErrPermissionDenied
	}
	effect, changed := event.SetEmbed(ytID)
	s.registry.Unlock()
	if !changed {
		return nil, nil
	}

	if err := s.eventRepo.Save(ctx, event); err != nil {
		logrus.WithError(err).WithField("event_id", event.ID).Error("Database error while saving embed")
		return nil, ErrInternalServer
	}
	return []domain.Effect{effect}, nil
}

// OpenSessions / CloseSessions 切换参加开关。
func (s *EventService) OpenSessions(ctx context.Context, actor *domain.User, eventID uint, open bool) ([]domain.Effect, error) {
	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return nil, ErrEventNotFound
	}
	if !actor.IsAdminOf(event) {
		s.registry.Unlock()
		return nil, ErrPermissionDenied
	}
	var effect domain.Effect
	if open {
		effect = event.OpenSessions()
	} else {
		effect = event.CloseSessions()
	}
	s.registry.Unlock()

	if err := s.eventRepo.Save(ctx, event); err != nil {
		logrus.WithError(err).WithField("event_id", event.ID).Error("Database error while toggling sessions")
		return nil, ErrInternalServer
	}
	return []domain.Effect{effect}, nil
}

// CreateSession 在 Event 下创建一个新 Session。需要管理员身份。
func (s *EventService) CreateSession(ctx context.Context, actor *domain.User, eventID uint,
	title, description string, joinCap int) (*domain.Session, []domain.Effect, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil, ErrInvalidInput
	}

	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return nil, nil, ErrEventNotFound
	}
	if !actor.IsAdminOf(event) {
		s.registry.Unlock()
		return nil, nil, ErrPermissionDenied
	}
	session := &domain.Session{
		Title:       title,
		Description: description,
		JoinCap:     joinCap,
	}
	effect := s.registry.AttachSession(event, session)
	s.registry.Unlock()

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Error("Database error while saving new session")
		return nil, nil, ErrInternalServer
	}
	logrus.WithFields(logrus.Fields{"session_id": session.ID, "event_id": eventID}).Info("Session created")
	return session, []domain.Effect{effect}, nil
}

// StartSession 启动 Session 并生成一次性会话密钥。需要管理员身份。
func (s *EventService) StartSession(ctx context.Context, actor *domain.User, eventID, sessionID uint) ([]domain.Effect, error) {
	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return nil, ErrEventNotFound
	}
	if !actor.IsAdminOf(event) {
		s.registry.Unlock()
		return nil, ErrPermissionDenied
	}
	session := event.SessionByID(sessionID)
	if session == nil {
		s.registry.Unlock()
		return nil, ErrSessionNotFound
	}
	effect, err := session.Start()
	s.registry.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Error("Database error while starting session")
		return nil, ErrInternalServer
	}
	return []domain.Effect{effect}, nil
}

// StopSession 停止一个已启动的 Session。需要管理员身份。
func (s *EventService) StopSession(ctx context.Context, actor *domain.User, eventID, sessionID uint) ([]domain.Effect, error) {
	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return nil, ErrEventNotFound
	}
	if !actor.IsAdminOf(event) {
		s.registry.Unlock()
		return nil, ErrPermissionDenied
	}
	session := event.SessionByID(sessionID)
	if session == nil {
		s.registry.Unlock()
		return nil, ErrSessionNotFound
	}
	effect, err := session.Stop()
	s.registry.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Error("Database error while stopping session")
		return nil, ErrInternalServer
	}
	return []domain.Effect{effect}, nil
}

// Attend 把用户加入 Session 的参加者列表。跨活动的 sessionID 被拒绝。
func (s *EventService) Attend(ctx context.Context, user *domain.User, eventID, sessionID uint) ([]domain.Effect, error) {
	return s.changeAttendance(ctx, user, eventID, sessionID, true)
}

// Unattend 把用户从 Session 的参加者列表移除。
func (s *EventService) Unattend(ctx context.Context, user *domain.User, eventID, sessionID uint) ([]domain.Effect, error) {
	return s.changeAttendance(ctx, user, eventID, sessionID, false)
}

func (s *EventService) changeAttendance(ctx context.Context, user *domain.User, eventID, sessionID uint, attend bool) ([]domain.Effect, error) {
	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return nil, ErrEventNotFound
	}
	// Session 必须属于当前 Event，全局 id 不能跨活动使用
	session := event.SessionByID(sessionID)
	if session == nil {
		s.registry.Unlock()
		return nil, ErrSessionNotFound
	}
	var (
		effect domain.Effect
		err    error
	)
	if attend {
		effect, err = session.AddAttendee(user)
	} else {
		effect, err = session.RemoveAttendee(user)
	}
	s.registry.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Error("Database error while saving attendance")
		return nil, ErrInternalServer
	}
	return []domain.Effect{effect}, nil
}

// Chat 在 Event 房间发一条聊天消息。发送者必须连在该房间。
// 广播立即返回，落库走异步任务。
func (s *EventService) Chat(ctx context.Context, user *domain.User, eventID uint, text string) ([]domain.Effect, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	s.registry.Lock()
	event := s.registry.EventByID(eventID)
	if event == nil {
		s.registry.Unlock()
		return nil, ErrEventNotFound
	}
	if !event.IsConnected(user.ID) {
		s.registry.Unlock()
		return nil, ErrPermissionDenied
	}
	msg := domain.NewChatMessage(event, user, text)
	effect := domain.Broadcast(event.RoomID(), "chat", msg.BroadcastArgs(user))
	s.registry.Unlock()

	if s.asynqClient != nil {
		task, err := tasks.NewChatPersistTask(msg)
		if err != nil {
			logrus.WithError(err).Warn("Failed to build chat persist task payload")
		} else if _, err := s.asynqClient.EnqueueContext(ctx, task); err != nil {
			// 落库失败不阻断广播，聊天记录允许有损
			logrus.WithError(err).Warn("Failed to enqueue chat persist task")
		}
	}
	return []domain.Effect{effect}, nil
}
