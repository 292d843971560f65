package service

import (
	"context"
	"fmt"

	"github.com/reflex-hall/rooms-service/internal/domain"
	"github.com/reflex-hall/rooms-service/internal/store"
)

// SnapshotRooms — разовый снимок справочника комнат (для REST-выдачи;
// live-клиенты используют WatchRooms).
func SnapshotRooms(ctx context.Context, sess *store.Session) ([]domain.RoomListing, error) {
	v, _, err := sess.Get(ctx, "rooms")
	if err != nil {
		return nil, fmt.Errorf("snapshot rooms: %w", err)
	}
	return roomListings(v), nil
}

// SnapshotRoom — комната по коду, nil если записи нет.
func SnapshotRoom(ctx context.Context, sess *store.Session, code string) (*domain.Room, error) {
	v, _, err := sess.Get(ctx, roomPath(code))
	if err != nil {
		return nil, fmt.Errorf("snapshot room: %w", err)
	}
	if v == nil {
		return nil, domain.ErrRoomNotFound
	}
	var rm domain.Room
	if err := store.Decode(v, &rm); err != nil {
		return nil, fmt.Errorf("snapshot room: %w", err)
	}
	rm.Code = code
	return &rm, nil
}
