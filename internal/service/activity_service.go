package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reflex-hall/rooms-service/internal/domain"
	"github.com/reflex-hall/rooms-service/internal/store"
)

const maxMessageLen = 4000

// ActivityService — реестр активностей комнаты для одной клиентской
// сессии: членство, чат-лог и время жизни подписок. Все подписки на
// поддеревья активности живут ровно до выхода из неё.
type ActivityService struct {
	sess *store.Session
	user domain.UserInfo
	room *RoomService

	mu             sync.Mutex
	current        string // id активности
	roomCode       string // комната на момент входа; не дёргаем room под его мьютексом
	cancelPresence func()
	scoped         []func() // подписки текущей активности
	onLeave        []func() // внешние хуки (остановка координатора игры)
}

func NewActivityService(sess *store.Session, user domain.UserInfo, room *RoomService) *ActivityService {
	a := &ActivityService{sess: sess, user: user, room: room}
	// выход из комнаты каскадно выводит и из активности
	room.registerCascade(a.LeaveActivity)
	return a
}

// CreateActivity заводит активность в текущей комнате.
// Игра на реакцию сеется стартовым gameState (раунд 1, waiting).
func (s *ActivityService) CreateActivity(ctx context.Context, typ domain.ActivityType) (string, error) {
	code := s.room.CurrentRoom()
	if code == "" {
		return "", domain.ErrNotInRoom
	}

	id := uuid.NewString()
	act := domain.Activity{
		Type:      typ,
		CreatedAt: time.Now().UnixMilli(),
		CreatedBy: s.user.ID,
	}
	if err := s.sess.Set(ctx, activityPath(code, id), act); err != nil {
		return "", fmt.Errorf("create activity: %w", err)
	}
	if typ == domain.ActivityReactionGame {
		if err := s.sess.Set(ctx, gameStatePath(code, id), domain.NewGameState()); err != nil {
			return "", fmt.Errorf("seed game state: %w", err)
		}
	}
	return id, nil
}

// JoinActivity пишет членство и регистрирует его снятие на разрыв,
// зеркально присутствию в комнате.
func (s *ActivityService) JoinActivity(ctx context.Context, id string) error {
	code := s.room.CurrentRoom()
	if code == "" {
		return domain.ErrNotInRoom
	}
	// имя берём до захвата мьютекса: room.mu всегда берётся раньше s.mu
	name := s.room.DisplayName()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == id && s.roomCode == code {
		return nil
	}
	if s.current != "" {
		s.leaveLocked(ctx)
	}

	v, _, err := s.sess.Get(ctx, activityPath(code, id))
	if err != nil {
		return fmt.Errorf("join activity: %w", err)
	}
	if v == nil {
		return domain.ErrActivityNotFound
	}

	m := domain.ActivityMember{Name: name, JoinedAt: time.Now().UnixMilli()}
	if err := s.sess.Set(ctx, activeUserPath(code, id, s.user.ID), m); err != nil {
		return fmt.Errorf("join activity: %w", err)
	}
	cancel, err := s.sess.OnDisconnect(ctx, store.DisconnectOp{
		Kind: store.OpDelete,
		Path: activeUserPath(code, id, s.user.ID),
	})
	if err != nil {
		return fmt.Errorf("join activity: %w", err)
	}

	s.current = id
	s.roomCode = code
	s.cancelPresence = cancel
	return nil
}

// LeaveActivity останавливает координатора, снимает все подписки
// на поддеревья активности и убирает членство. Best-effort.
func (s *ActivityService) LeaveActivity(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(ctx)
}

func (s *ActivityService) leaveLocked(ctx context.Context) {
	if s.current == "" {
		return
	}
	for _, f := range s.onLeave {
		f()
	}
	s.onLeave = nil
	for _, c := range s.scoped {
		c()
	}
	s.scoped = nil

	if err := s.sess.Delete(ctx, activeUserPath(s.roomCode, s.current, s.user.ID)); err != nil {
		slog.Debug("leave activity: membership delete failed",
			"room", s.roomCode, "activity", s.current, "user", s.user.ID, "err", err)
	}
	if s.cancelPresence != nil {
		s.cancelPresence()
		s.cancelPresence = nil
	}
	s.current = ""
	s.roomCode = ""
}

// Current возвращает (roomCode, activityID) текущего членства.
func (s *ActivityService) Current() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode, s.current
}

// OnLeave регистрирует хук, выполняемый при выходе из текущей
// активности (и значит при каскадном выходе из комнаты).
func (s *ActivityService) OnLeave(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLeave = append(s.onLeave, f)
}

// WatchActivities — live-список активностей комнаты (полный снимок
// на каждое изменение). Подписка уровня комнаты, не активности.
func (s *ActivityService) WatchActivities(ctx context.Context) (<-chan []domain.ActivityListing, func(), error) {
	code := s.room.CurrentRoom()
	if code == "" {
		return nil, nil, domain.ErrNotInRoom
	}
	snaps, cancel, err := s.sess.Watch(ctx, activitiesPath(code))
	if err != nil {
		return nil, nil, fmt.Errorf("watch activities: %w", err)
	}

	out := make(chan []domain.ActivityListing, 1)
	go func() {
		defer close(out)
		for snap := range snaps {
			sendLatest(out, activityListings(snap.Value))
		}
	}()
	return out, cancel, nil
}

func activityListings(v any) []domain.ActivityListing {
	reg, _ := v.(map[string]any)
	out := make([]domain.ActivityListing, 0, len(reg))
	for id, av := range reg {
		var l domain.ActivityListing
		l.ID = id
		if am, ok := av.(map[string]any); ok {
			if t, ok := am["type"].(string); ok {
				l.Type = domain.ActivityType(t)
			}
			if users, ok := am["activeUsers"].(map[string]any); ok {
				l.Members = len(users)
			}
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SendMessage дописывает сообщение в упорядоченный лог чата.
func (s *ActivityService) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	code, id := s.roomCode, s.current
	s.mu.Unlock()
	if id == "" {
		return domain.ErrNotInActivity
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty message")
	}
	if len(text) > maxMessageLen {
		return errors.New("message too long")
	}

	msg := domain.ChatMessage{
		UserID:    s.user.ID,
		Name:      s.room.DisplayName(),
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	if _, err := s.sess.Push(ctx, messagesPath(code, id), msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// WatchMessages — поток «on child added»: сначала существующая история
// в порядке вставки, затем новые сообщения. Подписка снимается при
// выходе из активности.
func (s *ActivityService) WatchMessages(ctx context.Context) (<-chan domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return nil, domain.ErrNotInActivity
	}

	events, cancel, err := s.sess.WatchChildren(ctx, messagesPath(s.roomCode, s.current))
	if err != nil {
		return nil, fmt.Errorf("watch messages: %w", err)
	}
	s.scoped = append(s.scoped, cancel)

	out := make(chan domain.ChatMessage, 16)
	go func() {
		defer close(out)
		for e := range events {
			var msg domain.ChatMessage
			if err := store.Decode(e.Value, &msg); err != nil {
				slog.Warn("chat message decode failed", "key", e.Key, "err", err)
				continue
			}
			msg.ID = e.Key
			out <- msg
		}
	}()
	return out, nil
}
