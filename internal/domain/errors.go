package domain

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrActivityNotFound = errors.New("activity not found")
	ErrNotInRoom        = errors.New("user not in a room")
	ErrNotInActivity    = errors.New("user not in an activity")
	ErrUserNotFound     = errors.New("user not found")
)
