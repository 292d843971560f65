package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reflex-hall/rooms-service/internal/domain"
	"github.com/reflex-hall/rooms-service/internal/postgres"
)

// DirectoryService — тонкая обёртка над каталогом пользователей.
// Ядро берёт отсюда display name и key для присутствия и счёта.
type DirectoryService struct {
	repo *postgres.UserRepository
}

func NewDirectoryService(repo *postgres.UserRepository) *DirectoryService {
	return &DirectoryService{repo: repo}
}

func (s *DirectoryService) Lookup(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// Register создаёт запись каталога с новым id и случайным ключом.
func (s *DirectoryService) Register(ctx context.Context, name string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("empty name")
	}

	key, err := randomKey(16)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	u := &domain.User{
		ID:        uuid.NewString(),
		Name:      name,
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("userRepo.Create: %w", err)
	}
	return u, nil
}

// randomKey — криптостойкий base64url.
func randomKey(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
