package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/reflex-hall/rooms-service/internal/domain"
	"github.com/reflex-hall/rooms-service/internal/store"
)

// Directory — внешний каталог пользователей; nil для гостевых сессий.
type Directory interface {
	Lookup(ctx context.Context, id string) (*domain.User, error)
}

// RoomService — присутствие и справочник комнат для ОДНОЙ клиентской
// сессии: кто мы, в какой комнате состоим, как снимается присутствие
// при разрыве. Комнаты живут в общем дереве под rooms/{code}.
type RoomService struct {
	sess *store.Session
	user domain.UserInfo
	dir  Directory

	mu             sync.Mutex
	current        string
	resolvedName   string
	resolvedKey    string
	cancelPresence func()
	cascades       []func(context.Context)
}

func NewRoomService(sess *store.Session, user domain.UserInfo, dir Directory) *RoomService {
	return &RoomService{sess: sess, user: user, dir: dir}
}

// CreateRoom генерирует 4-символьный код и заводит запись комнаты.
// Коллизии кода сознательно не проверяются: совпавшие коды молча делят
// одну комнату, поэтому пишем Update, а не Set — чтобы не затирать
// уже сидящих там игроков.
func (s *RoomService) CreateRoom(ctx context.Context) (string, error) {
	code, err := generateRoomCode()
	if err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	err = s.sess.Update(ctx, roomPath(code), map[string]any{
		"createdAt": time.Now().UnixMilli(),
		"createdBy": s.user.ID,
	})
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	return code, nil
}

// JoinRoom идемпотентен для текущей комнаты; вход в другую комнату
// сначала выполняет выход из старой. Вместе с записью присутствия
// регистрируется её удаление на разрыв соединения.
func (s *RoomService) JoinRoom(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == code {
		return nil
	}
	if s.current != "" {
		s.leaveLocked(ctx)
	}

	v, _, err := s.sess.Get(ctx, roomPath(code))
	if err != nil {
		return fmt.Errorf("join room %s: %w", code, err)
	}
	if v == nil {
		return domain.ErrRoomNotFound
	}

	name, key := s.resolveUser(ctx)
	p := domain.Player{Name: name, Key: key, JoinedAt: time.Now().UnixMilli()}
	if err := s.sess.Set(ctx, playerPath(code, s.user.ID), p); err != nil {
		return fmt.Errorf("join room %s: %w", code, err)
	}
	cancel, err := s.sess.OnDisconnect(ctx, store.DisconnectOp{
		Kind: store.OpDelete,
		Path: playerPath(code, s.user.ID),
	})
	if err != nil {
		return fmt.Errorf("join room %s: %w", code, err)
	}

	s.current = code
	s.cancelPresence = cancel
	return nil
}

// LeaveRoom — каскадный выход: сперва из активности, затем снимается
// присутствие. Записи best-effort: сбои логируются, но не всплывают.
func (s *RoomService) LeaveRoom(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(ctx)
}

func (s *RoomService) leaveLocked(ctx context.Context) {
	if s.current == "" {
		return
	}
	for _, f := range s.cascades {
		f(ctx)
	}
	if err := s.sess.Delete(ctx, playerPath(s.current, s.user.ID)); err != nil {
		slog.Debug("leave room: presence delete failed", "room", s.current, "user", s.user.ID, "err", err)
	}
	if s.cancelPresence != nil {
		s.cancelPresence()
		s.cancelPresence = nil
	}
	s.current = ""
}

func (s *RoomService) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// DisplayName — имя после сверки с каталогом (если он был доступен).
func (s *RoomService) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolvedName != "" {
		return s.resolvedName
	}
	return s.user.Name
}

// resolveUser сверяет имя с каталогом; гость остаётся с именем,
// которое назвал сам.
func (s *RoomService) resolveUser(ctx context.Context) (name, key string) {
	if s.resolvedName != "" {
		return s.resolvedName, s.resolvedKey
	}
	name, key = s.user.Name, s.user.Key
	if s.dir != nil {
		if u, err := s.dir.Lookup(ctx, s.user.ID); err == nil {
			if u.Name != "" {
				name = u.Name
			}
			if u.Key != "" {
				key = u.Key
			}
		}
	}
	s.resolvedName, s.resolvedKey = name, key
	return name, key
}

// WatchRooms — live-подписка на справочник: каждое изменение приносит
// ПОЛНЫЙ текущий список, а не дифф; отстающий подписчик получает
// только самое свежее состояние.
func (s *RoomService) WatchRooms(ctx context.Context) (<-chan []domain.RoomListing, func(), error) {
	snaps, cancel, err := s.sess.Watch(ctx, "rooms")
	if err != nil {
		return nil, nil, fmt.Errorf("watch rooms: %w", err)
	}

	out := make(chan []domain.RoomListing, 1)
	go func() {
		defer close(out)
		for snap := range snaps {
			sendLatest(out, roomListings(snap.Value))
		}
	}()
	return out, cancel, nil
}

func roomListings(v any) []domain.RoomListing {
	dir, _ := v.(map[string]any)
	out := make([]domain.RoomListing, 0, len(dir))
	for code, rv := range dir {
		occupants := 0
		if rm, ok := rv.(map[string]any); ok {
			if players, ok := rm["players"].(map[string]any); ok {
				occupants = len(players)
			}
		}
		out = append(out, domain.RoomListing{Code: code, Occupants: occupants})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// registerCascade — хук «покинуть активность перед выходом из комнаты».
func (s *RoomService) registerCascade(f func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cascades = append(s.cascades, f)
}

// sendLatest — неблокирующая доставка: устаревший снапшот вытесняется.
func sendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
