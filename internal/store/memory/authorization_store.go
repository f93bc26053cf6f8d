package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/signoff/internal/models"
	"github.com/wolfeidau/signoff/internal/store"
)

// AuthorizationStore keeps authorizations in memory. A single mutex
// serializes updates, which is all a development server needs.
type AuthorizationStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.Authorization
	now   func() time.Time
}

func NewAuthorizationStore() *AuthorizationStore {
	return &AuthorizationStore{
		items: make(map[uuid.UUID]*models.Authorization),
		now:   time.Now,
	}
}

func (s *AuthorizationStore) Create(ctx context.Context, a *models.Authorization) error {
	if !a.Consistent() {
		return store.ErrInconsistentAuthorization
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[a.ID]; exists {
		return store.ErrAuthorizationAlreadyExists
	}
	s.items[a.ID] = a.Clone()
	return nil
}

func (s *AuthorizationStore) Get(ctx context.Context, id uuid.UUID) (*models.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.items[id]
	if !exists {
		return nil, store.ErrAuthorizationNotFound
	}
	return a.Clone(), nil
}

func (s *AuthorizationStore) Update(ctx context.Context, id uuid.UUID, fn store.UpdateFunc) (*models.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[id]
	if !exists {
		return nil, store.ErrAuthorizationNotFound
	}

	// fn works on a copy so a failed update leaves nothing behind
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if !working.Consistent() {
		return nil, store.ErrInconsistentAuthorization
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	working.ID = id
	working.Version = current.Version + 1
	working.UpdatedAt = s.now().UTC()
	s.items[id] = working
	return working.Clone(), nil
}

func (s *AuthorizationStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return store.ErrAuthorizationNotFound
	}
	delete(s.items, id)
	return nil
}
