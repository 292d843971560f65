package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reflex-hall/rooms-service/internal/store"
)

// Server поднимает ws-соединение до сессии общего дерева. Время жизни
// сессии равно времени жизни соединения: обрыв канала (а не код
// приложения) выполняет зарегистрированные disconnect-операции —
// так снимается присутствие при жёстком разрыве.
type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	st       *store.Store

	pingEvery time.Duration
}

func NewServer(hub *Hub, st *store.Store) *Server {
	return &Server{
		hub: hub,
		st:  st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// SetPingInterval переопределяет интервал пингов (из конфига).
func (s *Server) SetPingInterval(d time.Duration) {
	if d > 0 {
		s.pingEvery = d
	}
}

// WS endpoint: GET /ws?user_id=...&name=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}

	sess := s.st.NewSession()
	c := newWsConn(conn, userID)
	s.hub.Add(c)
	slog.Debug("ws session opened", "user", userID, "session", sess.ID)

	go s.writeLoop(r.Context(), c)
	s.readLoop(r.Context(), c, sess)

	s.hub.Remove(c)
	// закрытие сессии выполняет disconnect-операции и снимает подписки
	sess.Close()
	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "user", userID, "err", err)
	}
	slog.Debug("ws session closed", "user", userID, "session", sess.ID)
}

func (s *Server) readLoop(ctx context.Context, c *wsConn, sess *store.Session) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		var op OpPayload
		if decode(msg.Payload, &op) != nil {
			continue
		}
		s.dispatch(ctx, c, sess, msg.Type, op)
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, sess *store.Session, typ string, op OpPayload) {
	fail := func(err error) {
		_ = c.Send(Message{Type: TypeError, Payload: ErrorPayload{ID: op.ID, Message: err.Error()}})
	}
	ok := func(p ResultPayload) {
		p.ID = op.ID
		_ = c.Send(Message{Type: TypeResult, Payload: p})
	}

	switch typ {
	case TypeGet:
		v, ver, err := sess.Get(ctx, op.Path)
		if err != nil {
			fail(err)
			return
		}
		ok(ResultPayload{Value: v, Version: ver})

	case TypeSet:
		if err := sess.Set(ctx, op.Path, op.Value); err != nil {
			fail(err)
			return
		}
		ok(ResultPayload{})

	case TypeUpdate:
		if err := sess.Update(ctx, op.Path, op.Fields); err != nil {
			fail(err)
			return
		}
		ok(ResultPayload{})

	case TypeDelete:
		if err := sess.Delete(ctx, op.Path); err != nil {
			fail(err)
			return
		}
		ok(ResultPayload{})

	case TypePush:
		id, err := sess.Push(ctx, op.Path, op.Value)
		if err != nil {
			fail(err)
			return
		}
		ok(ResultPayload{PushID: id})

	case TypeCAS:
		if err := sess.CAS(ctx, op.Path, op.Version, op.Value); err != nil {
			fail(err)
			return
		}
		ok(ResultPayload{})

	case TypeWatch:
		snaps, cancel, err := sess.Watch(ctx, op.Path)
		if err != nil {
			fail(err)
			return
		}
		wid := c.trackWatch(cancel)
		go func() {
			for snap := range snaps {
				_ = c.Send(Message{Type: TypeValue, Payload: ValuePayload{
					WatchID: wid, Path: snap.Path, Value: snap.Value, Version: snap.Version,
				}})
			}
		}()
		ok(ResultPayload{WatchID: wid})

	case TypeWatchChildren:
		events, cancel, err := sess.WatchChildren(ctx, op.Path)
		if err != nil {
			fail(err)
			return
		}
		wid := c.trackWatch(cancel)
		go func() {
			for e := range events {
				_ = c.Send(Message{Type: TypeChildAdded, Payload: ChildAddedPayload{
					WatchID: wid, Path: e.Path, Key: e.Key, Value: e.Value,
				}})
			}
		}()
		ok(ResultPayload{WatchID: wid})

	case TypeUnwatch:
		c.cancelWatch(op.WatchID)
		ok(ResultPayload{})

	case TypeOnDisconnect:
		kind := store.OpDelete
		if op.Op == "set" {
			kind = store.OpSet
		}
		if _, err := sess.OnDisconnect(ctx, store.DisconnectOp{Kind: kind, Path: op.Path, Value: op.Value}); err != nil {
			fail(err)
			return
		}
		ok(ResultPayload{})

	default:
		// ignore
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// --- helpers ---

func decode(payload interface{}, dst interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}

type wsConn struct {
	conn   *websocket.Conn
	userID string
	sendMu chan struct{}
	closed chan struct{}

	watchMu  chan struct{}
	watchSeq int
	watches  map[string]func()
}

func newWsConn(c *websocket.Conn, userID string) *wsConn {
	return &wsConn{
		conn:    c,
		userID:  userID,
		sendMu:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
		watchMu: make(chan struct{}, 1),
		watches: make(map[string]func()),
	}
}

func (c *wsConn) trackWatch(cancel func()) string {
	c.watchMu <- struct{}{}
	defer func() { <-c.watchMu }()
	c.watchSeq++
	wid := "w" + strconv.Itoa(c.watchSeq)
	c.watches[wid] = cancel
	return wid
}

func (c *wsConn) cancelWatch(wid string) {
	c.watchMu <- struct{}{}
	cancel := c.watches[wid]
	delete(c.watches, wid)
	<-c.watchMu
	if cancel != nil {
		cancel()
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	return c.conn.Close()
}

func (c *wsConn) UserID() string { return c.userID }
