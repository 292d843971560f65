package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reflex-hall/rooms-service/internal/domain"
	"github.com/reflex-hall/rooms-service/internal/store"
)

func newActivityClient(t *testing.T, st *store.Store, id, name string) (*store.Session, *RoomService, *ActivityService, string) {
	t.Helper()
	sess, room := newClient(st, id, name)
	act := NewActivityService(sess, domain.UserInfo{ID: id, Name: name}, room)

	code, err := room.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := room.JoinRoom(context.Background(), code); err != nil {
		t.Fatalf("join room: %v", err)
	}
	return sess, room, act, code
}

func TestCreateActivity_RequiresRoom(t *testing.T) {
	st := store.New()
	sess, room := newClient(st, "u1", "alice")
	defer sess.Close()
	act := NewActivityService(sess, domain.UserInfo{ID: "u1", Name: "alice"}, room)

	_, err := act.CreateActivity(context.Background(), domain.ActivityChat)
	if !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}
}

func TestCreateActivity_ReactionGameSeedsState(t *testing.T) {
	st := store.New()
	sess, _, act, code := newActivityClient(t, st, "u1", "alice")
	defer sess.Close()
	ctx := context.Background()

	id, err := act.CreateActivity(ctx, domain.ActivityReactionGame)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v, _, _ := sess.Get(ctx, "rooms/"+code+"/activities/"+id+"/gameState")
	var gs domain.GameState
	if err := store.Decode(v, &gs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gs.Round != 1 || gs.State != domain.RoundWaiting || gs.Active {
		t.Fatalf("seed state = %+v", gs)
	}
	if gs.Scores == nil {
		t.Fatalf("scores map not seeded")
	}
}

func TestCreateActivity_ChatHasNoGameState(t *testing.T) {
	st := store.New()
	sess, _, act, code := newActivityClient(t, st, "u1", "alice")
	defer sess.Close()
	ctx := context.Background()

	id, err := act.CreateActivity(ctx, domain.ActivityChat)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v, _, _ := sess.Get(ctx, "rooms/"+code+"/activities/"+id+"/gameState"); v != nil {
		t.Fatalf("chat activity got game state: %v", v)
	}
}

func TestJoinActivity_UnknownID(t *testing.T) {
	st := store.New()
	sess, _, act, _ := newActivityClient(t, st, "u1", "alice")
	defer sess.Close()

	err := act.JoinActivity(context.Background(), "missing")
	if !errors.Is(err, domain.ErrActivityNotFound) {
		t.Fatalf("expected ErrActivityNotFound, got %v", err)
	}
}

func TestJoinActivity_WritesMembership(t *testing.T) {
	st := store.New()
	sess, _, act, code := newActivityClient(t, st, "u1", "alice")
	defer sess.Close()
	ctx := context.Background()

	id, _ := act.CreateActivity(ctx, domain.ActivityChat)
	if err := act.JoinActivity(ctx, id); err != nil {
		t.Fatalf("join: %v", err)
	}

	v, _, _ := sess.Get(ctx, "rooms/"+code+"/activities/"+id+"/activeUsers/u1")
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("membership missing: %v", v)
	}
	if m["name"] != "alice" {
		t.Fatalf("member name = %v", m["name"])
	}

	gotRoom, gotAct := act.Current()
	if gotRoom != code || gotAct != id {
		t.Fatalf("current = %q/%q", gotRoom, gotAct)
	}
}

func TestLeaveRoom_CascadesOutOfActivity(t *testing.T) {
	st := store.New()
	observer := st.NewSession()
	sess, room, act, code := newActivityClient(t, st, "u1", "alice")
	defer sess.Close()
	ctx := context.Background()

	id, _ := act.CreateActivity(ctx, domain.ActivityChat)
	if err := act.JoinActivity(ctx, id); err != nil {
		t.Fatalf("join: %v", err)
	}

	room.LeaveRoom(ctx)

	if v, _, _ := observer.Get(ctx, "rooms/"+code+"/activities/"+id+"/activeUsers/u1"); v != nil {
		t.Fatalf("activity membership survived room leave: %v", v)
	}
	if _, cur := act.Current(); cur != "" {
		t.Fatalf("still in activity: %q", cur)
	}
}

func TestDisconnect_RemovesActivityMembership(t *testing.T) {
	st := store.New()
	observer := st.NewSession()
	sess, _, act, code := newActivityClient(t, st, "u1", "alice")
	ctx := context.Background()

	id, _ := act.CreateActivity(ctx, domain.ActivityChat)
	if err := act.JoinActivity(ctx, id); err != nil {
		t.Fatalf("join: %v", err)
	}

	sess.Close()

	if v, _, _ := observer.Get(ctx, "rooms/"+code+"/activities/"+id+"/activeUsers/u1"); v != nil {
		t.Fatalf("membership survived disconnect: %v", v)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	st := store.New()
	sess, _, act, _ := newActivityClient(t, st, "u1", "alice")
	defer sess.Close()
	ctx := context.Background()

	if err := act.SendMessage(ctx, "hi"); !errors.Is(err, domain.ErrNotInActivity) {
		t.Fatalf("expected ErrNotInActivity, got %v", err)
	}

	id, _ := act.CreateActivity(ctx, domain.ActivityChat)
	if err := act.JoinActivity(ctx, id); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := act.SendMessage(ctx, "   "); err == nil {
		t.Fatalf("blank message accepted")
	}
	long := make([]byte, maxMessageLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := act.SendMessage(ctx, string(long)); err == nil {
		t.Fatalf("oversized message accepted")
	}
}

func TestChat_HistoryReplayThenLive(t *testing.T) {
	st := store.New()
	sessA, _, actA, code := newActivityClient(t, st, "a", "alice")
	defer sessA.Close()
	ctx := context.Background()

	id, _ := actA.CreateActivity(ctx, domain.ActivityChat)
	if err := actA.JoinActivity(ctx, id); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if err := actA.SendMessage(ctx, "first"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := actA.SendMessage(ctx, "second"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// опоздавший участник получает историю в порядке отправки
	sessB, roomB := newClient(st, "b", "bob")
	defer sessB.Close()
	actB := NewActivityService(sessB, domain.UserInfo{ID: "b", Name: "bob"}, roomB)
	if err := roomB.JoinRoom(ctx, code); err != nil {
		t.Fatalf("join room b: %v", err)
	}
	if err := actB.JoinActivity(ctx, id); err != nil {
		t.Fatalf("join b: %v", err)
	}

	msgs, err := actB.WatchMessages(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if m := recvMsg(t, msgs); m.Text != "first" || m.UserID != "a" {
		t.Fatalf("replay[0] = %+v", m)
	}
	if m := recvMsg(t, msgs); m.Text != "second" {
		t.Fatalf("replay[1] = %+v", m)
	}

	if err := actA.SendMessage(ctx, "third"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if m := recvMsg(t, msgs); m.Text != "third" || m.Name != "alice" {
		t.Fatalf("live message = %+v", m)
	}
}

func TestWatchMessages_StopsOnLeave(t *testing.T) {
	st := store.New()
	sess, _, act, _ := newActivityClient(t, st, "u1", "alice")
	defer sess.Close()
	ctx := context.Background()

	id, _ := act.CreateActivity(ctx, domain.ActivityChat)
	if err := act.JoinActivity(ctx, id); err != nil {
		t.Fatalf("join: %v", err)
	}
	msgs, err := act.WatchMessages(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	act.LeaveActivity(ctx)

	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatalf("expected closed message stream")
		}
	case <-time.After(time.Second):
		t.Fatalf("message stream not closed on leave")
	}
}

func TestWatchActivities_ListsTypesAndMembers(t *testing.T) {
	st := store.New()
	sess, _, act, _ := newActivityClient(t, st, "u1", "alice")
	defer sess.Close()
	ctx := context.Background()

	chatID, _ := act.CreateActivity(ctx, domain.ActivityChat)
	gameID, _ := act.CreateActivity(ctx, domain.ActivityReactionGame)
	if err := act.JoinActivity(ctx, gameID); err != nil {
		t.Fatalf("join: %v", err)
	}

	ch, cancel, err := act.WatchActivities(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	listings := recvActivities(t, ch)
	if len(listings) != 2 {
		t.Fatalf("listings = %+v", listings)
	}
	byID := map[string]domain.ActivityListing{}
	for _, l := range listings {
		byID[l.ID] = l
	}
	if byID[chatID].Type != domain.ActivityChat || byID[chatID].Members != 0 {
		t.Fatalf("chat listing = %+v", byID[chatID])
	}
	if byID[gameID].Type != domain.ActivityReactionGame || byID[gameID].Members != 1 {
		t.Fatalf("game listing = %+v", byID[gameID])
	}
}

func recvMsg(t *testing.T, ch <-chan domain.ChatMessage) domain.ChatMessage {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatalf("message channel closed")
		}
		return m
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for message")
		return domain.ChatMessage{}
	}
}

func recvActivities(t *testing.T, ch <-chan []domain.ActivityListing) []domain.ActivityListing {
	t.Helper()
	select {
	case l, ok := <-ch:
		if !ok {
			t.Fatalf("activities channel closed")
		}
		return l
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for activities")
		return nil
	}
}
