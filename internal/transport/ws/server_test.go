package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reflex-hall/rooms-service/internal/store"
)

type testEnv struct {
	st     *store.Store
	hub    *Hub
	srv    *httptest.Server
	wsBase string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.New()
	hub := NewHub()
	server := NewServer(hub, st)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{
		st:     st,
		hub:    hub,
		srv:    srv,
		wsBase: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsBase+"?user_id="+userID, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, op OpPayload) {
	t.Helper()
	if err := conn.WriteJSON(Message{Type: typ, Payload: op}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func recvFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// recvType пропускает кадры других типов (watch-события и ответы
// перемешиваются произвольно).
func recvType(t *testing.T, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := recvFrame(t, conn)
		if f.Type == typ {
			return f.Payload
		}
	}
	t.Fatalf("frame of type %q never arrived", typ)
	return nil
}

func TestHandleWS_RequiresUserID(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestOps_SetGetRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "u1")

	send(t, conn, TypeSet, OpPayload{ID: "1", Path: "rooms/ABCD/meta", Value: map[string]any{"x": 1}})
	var res ResultPayload
	if err := json.Unmarshal(recvType(t, conn, TypeResult), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.ID != "1" {
		t.Fatalf("correlation id = %q", res.ID)
	}

	send(t, conn, TypeGet, OpPayload{ID: "2", Path: "rooms/ABCD/meta"})
	if err := json.Unmarshal(recvType(t, conn, TypeResult), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	m, ok := res.Value.(map[string]any)
	if !ok || m["x"] != float64(1) {
		t.Fatalf("value = %v", res.Value)
	}
	if res.Version == 0 {
		t.Fatalf("version missing")
	}
}

func TestOps_CASConflictReportsError(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "u1")

	send(t, conn, TypeSet, OpPayload{ID: "1", Path: "slot", Value: "a"})
	recvType(t, conn, TypeResult)

	// версия 0 устарела после записи
	send(t, conn, TypeCAS, OpPayload{ID: "2", Path: "slot", Version: 0, Value: "b"})
	var errPayload ErrorPayload
	if err := json.Unmarshal(recvType(t, conn, TypeError), &errPayload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errPayload.ID != "2" || errPayload.Message == "" {
		t.Fatalf("error payload = %+v", errPayload)
	}
}

func TestWatch_DeliversInitialAndUpdates(t *testing.T) {
	e := newTestEnv(t)
	writer := e.dial(t, "w")
	watcher := e.dial(t, "r")

	send(t, watcher, TypeWatch, OpPayload{ID: "1", Path: "game/state"})
	var res ResultPayload
	if err := json.Unmarshal(recvType(t, watcher, TypeResult), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.WatchID == "" {
		t.Fatalf("watch id missing")
	}

	// начальный снимок (nil — узла ещё нет)
	var val ValuePayload
	if err := json.Unmarshal(recvType(t, watcher, TypeValue), &val); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if val.Value != nil {
		t.Fatalf("initial value = %v", val.Value)
	}

	send(t, writer, TypeSet, OpPayload{ID: "1", Path: "game/state", Value: "ready"})
	recvType(t, writer, TypeResult)

	if err := json.Unmarshal(recvType(t, watcher, TypeValue), &val); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if val.Value != "ready" || val.WatchID != res.WatchID {
		t.Fatalf("update frame = %+v", val)
	}
}

func TestWatchChildren_ReplayAndLive(t *testing.T) {
	e := newTestEnv(t)
	writer := e.dial(t, "w")
	watcher := e.dial(t, "r")

	send(t, writer, TypePush, OpPayload{ID: "1", Path: "chat", Value: "hello"})
	recvType(t, writer, TypeResult)

	send(t, watcher, TypeWatchChildren, OpPayload{ID: "1", Path: "chat"})
	recvType(t, watcher, TypeResult)

	var child ChildAddedPayload
	if err := json.Unmarshal(recvType(t, watcher, TypeChildAdded), &child); err != nil {
		t.Fatalf("decode child: %v", err)
	}
	if child.Value != "hello" || child.Key == "" {
		t.Fatalf("replay frame = %+v", child)
	}

	send(t, writer, TypePush, OpPayload{ID: "2", Path: "chat", Value: "again"})
	recvType(t, writer, TypeResult)

	if err := json.Unmarshal(recvType(t, watcher, TypeChildAdded), &child); err != nil {
		t.Fatalf("decode child: %v", err)
	}
	if child.Value != "again" {
		t.Fatalf("live frame = %+v", child)
	}
}

func TestUnwatch_StopsEvents(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "u1")

	send(t, conn, TypeWatch, OpPayload{ID: "1", Path: "x"})
	var res ResultPayload
	if err := json.Unmarshal(recvType(t, conn, TypeResult), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	recvType(t, conn, TypeValue) // начальный снимок

	send(t, conn, TypeUnwatch, OpPayload{ID: "2", WatchID: res.WatchID})
	recvType(t, conn, TypeResult)

	send(t, conn, TypeSet, OpPayload{ID: "3", Path: "x", Value: 1})
	f := recvFrame(t, conn)
	// единственный ожидаемый кадр — ответ на set, не value
	if f.Type != TypeResult {
		t.Fatalf("unexpected frame after unwatch: %s", f.Type)
	}
}

// Разрыв соединения выполняет on_disconnect-операции сессии: присутствие
// снимается транспортом, без какого-либо кода клиента.
func TestDisconnect_RunsCompensatingOps(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "u1")

	send(t, conn, TypeSet, OpPayload{ID: "1", Path: "rooms/ABCD/players/u1", Value: map[string]any{"name": "a"}})
	recvType(t, conn, TypeResult)
	send(t, conn, TypeOnDisconnect, OpPayload{ID: "2", Path: "rooms/ABCD/players/u1", Op: "delete"})
	recvType(t, conn, TypeResult)

	_ = conn.Close()

	observer := e.st.NewSession()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v, _, err := observer.Get(context.Background(), "rooms/ABCD/players/u1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if v == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("presence survived ws disconnect")
}

func TestHub_CloseAllDisconnectsClients(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "u1")

	send(t, conn, TypeSet, OpPayload{ID: "1", Path: "p/u1", Value: true})
	recvType(t, conn, TypeResult)
	send(t, conn, TypeOnDisconnect, OpPayload{ID: "2", Path: "p/u1", Op: "delete"})
	recvType(t, conn, TypeResult)

	e.hub.CloseAll()

	observer := e.st.NewSession()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _, _ := observer.Get(context.Background(), "p/u1"); v == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("CloseAll did not trigger disconnect cleanup")
}
