package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

type OpKind int

const (
	OpDelete OpKind = iota
	OpSet
)

// DisconnectOp — compensating-мутация, привязанная к времени жизни
// сессии. Выполняется самим store при Close/обрыве, а не кодом клиента:
// так присутствие снимается даже при жёстком разрыве соединения.
type DisconnectOp struct {
	Kind  OpKind
	Path  string
	Value any
}

type disconnectEntry struct {
	id uint64
	op DisconnectOp
}

// Session — клиентская ручка store. Все подписки и disconnect-операции
// сессии живут ровно до её Close.
type Session struct {
	ID string

	st *Store

	mu          sync.Mutex
	closed      bool
	watchIDs    map[uint64]struct{}
	opSeq       uint64
	disconnects []disconnectEntry
}

func (s *Store) NewSession() *Session {
	return &Session{
		ID:       uuid.NewString(),
		st:       s,
		watchIDs: make(map[uint64]struct{}),
	}
}

func (s *Session) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) Get(ctx context.Context, path string) (any, uint64, error) {
	if err := s.guard(ctx); err != nil {
		return nil, 0, err
	}
	return s.st.get(path)
}

func (s *Session) Set(ctx context.Context, path string, v any) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	return s.st.set(path, v)
}

// Update — частичная запись: меняет только перечисленные поля узла.
func (s *Session) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	return s.st.update(path, fields)
}

func (s *Session) Delete(ctx context.Context, path string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	return s.st.deletePath(path)
}

// Push — добавление в упорядоченный лог; id лексикографически растут.
func (s *Session) Push(ctx context.Context, path string, v any) (string, error) {
	if err := s.guard(ctx); err != nil {
		return "", err
	}
	return s.st.push(path, v)
}

// CAS — оптимистичная запись: проходит, только если версия пути
// не изменилась с момента чтения.
func (s *Session) CAS(ctx context.Context, path string, expected uint64, v any) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	return s.st.cas(path, expected, v)
}

// Tx — read-modify-write с повтором при конфликте версий.
// fn получает свежее значение на каждой попытке; возврат ErrTxAbort
// завершает транзакцию без записи (committed=false, err=nil).
func (s *Session) Tx(ctx context.Context, path string, fn func(cur any) (any, error)) (bool, error) {
	for {
		cur, ver, err := s.Get(ctx, path)
		if err != nil {
			return false, err
		}
		next, err := fn(cur)
		if errors.Is(err, ErrTxAbort) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		err = s.CAS(ctx, path, ver, next)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return false, err
		}
		// проигрыш гонки: перечитываем и решаем заново
	}
}

// Watch — «on value changed»: текущее значение сразу и после каждого
// изменения. Отмена закрывает канал.
func (s *Session) Watch(ctx context.Context, path string) (<-chan Snapshot, func(), error) {
	if err := s.guard(ctx); err != nil {
		return nil, nil, err
	}
	w, err := s.st.watchValueAt(path)
	if err != nil {
		return nil, nil, err
	}
	s.trackWatch(w.id)
	return w.valCh, s.cancelWatchFn(w.id), nil
}

// WatchChildren — «on child added»; существующие потомки доставляются сразу.
func (s *Session) WatchChildren(ctx context.Context, path string) (<-chan ChildEvent, func(), error) {
	if err := s.guard(ctx); err != nil {
		return nil, nil, err
	}
	w, err := s.st.watchChildrenAt(path)
	if err != nil {
		return nil, nil, err
	}
	s.trackWatch(w.id)
	return w.kidCh, s.cancelWatchFn(w.id), nil
}

func (s *Session) trackWatch(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// сессия закрылась между guard и регистрацией
		go s.st.unwatch(id)
		return
	}
	s.watchIDs[id] = struct{}{}
}

func (s *Session) cancelWatchFn(id uint64) func() {
	return func() {
		s.mu.Lock()
		delete(s.watchIDs, id)
		s.mu.Unlock()
		s.st.unwatch(id)
	}
}

// OnDisconnect регистрирует операцию, выполняемую при закрытии сессии.
// Возвращает cancel для снятия регистрации (например, после явного leave).
func (s *Session) OnDisconnect(ctx context.Context, op DisconnectOp) (func(), error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opSeq++
	id := s.opSeq
	s.disconnects = append(s.disconnects, disconnectEntry{id: id, op: op})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.disconnects {
			if e.id == id {
				s.disconnects = append(s.disconnects[:i], s.disconnects[i+1:]...)
				return
			}
		}
	}, nil
}

// Close снимает подписки и выполняет disconnect-операции в порядке
// регистрации. Идемпотентен.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	watches := make([]uint64, 0, len(s.watchIDs))
	for id := range s.watchIDs {
		watches = append(watches, id)
	}
	s.watchIDs = map[uint64]struct{}{}
	ops := s.disconnects
	s.disconnects = nil
	s.mu.Unlock()

	for _, id := range watches {
		s.st.unwatch(id)
	}
	for _, e := range ops {
		switch e.op.Kind {
		case OpDelete:
			_ = s.st.deletePath(e.op.Path)
		case OpSet:
			_ = s.st.set(e.op.Path, e.op.Value)
		}
	}
}
