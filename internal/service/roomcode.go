package service

import (
	"crypto/rand"
	"io"
)

// 32 символа без визуально похожих I, O, 0, 1.
// 256 % 32 == 0, так что выборка по модулю равномерна.
const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 4
)

func generateRoomCode() (string, error) {
	b := make([]byte, roomCodeLength)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = roomCodeAlphabet[int(b[i])%len(roomCodeAlphabet)]
	}
	return string(b), nil
}
