package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/signoff/internal/models"
)

var (
	ErrAuthorizationNotFound      = errors.New("authorization not found")
	ErrAuthorizationAlreadyExists = errors.New("authorization already exists")
	ErrInconsistentAuthorization  = errors.New("authorization signature fields disagree with state")
)

// UpdateFunc mutates an authorization inside a store transaction. Returning
// an error aborts the update and nothing is written.
type UpdateFunc func(a *models.Authorization) error

// AuthorizationStore persists authorizations and their signatures.
type AuthorizationStore interface {
	Create(ctx context.Context, a *models.Authorization) error
	Get(ctx context.Context, id uuid.UUID) (*models.Authorization, error)

	// Update loads the authorization, applies fn and saves the result
	// atomically. Concurrent updates of the same authorization are
	// serialized so the state machine always sees the latest state.
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*models.Authorization, error)

	Delete(ctx context.Context, id uuid.UUID) error
}
