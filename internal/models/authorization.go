package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/signoff/internal/signature"
)

const MaxContentSize = 1 << 20

var ErrInvalidAuthorization = errors.New("invalid authorization")

// Authorization is a document awaiting, or carrying, a signature.
// At most one of Signature and ElectronicSignature is set, and either one
// being set implies SignatureState is not UNSIGNED.
type Authorization struct {
	ID      uuid.UUID // UUIDv7
	Title   string
	Content []byte // The text being authorized, bound by digest at signing

	SignatureState      signature.State
	Signature           *signature.Record           // Certificate-backed signature
	ElectronicSignature *signature.ElectronicRecord // Typed name and image

	Version   int64 // Incremented on every update
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAuthorization returns an unsigned authorization with a fresh ID.
func NewAuthorization(title string, content []byte, now time.Time) (*Authorization, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.Join(ErrInvalidAuthorization, errors.New("title is required"))
	}
	if len(content) > MaxContentSize {
		return nil, errors.Join(ErrInvalidAuthorization, errors.New("content is too large"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	return &Authorization{
		ID:             id,
		Title:          title,
		Content:        append([]byte(nil), content...),
		SignatureState: signature.StateUnsigned,
		Version:        1,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}, nil
}

// Signed returns true when any kind of signature is attached.
func (a *Authorization) Signed() bool {
	return a.Signature != nil || a.ElectronicSignature != nil
}

// Consistent checks the signature fields agree with the state.
func (a *Authorization) Consistent() bool {
	if a.Signature != nil && a.ElectronicSignature != nil {
		return false
	}
	return a.Signed() == a.SignatureState.Signed()
}

// Clone returns a deep copy so stores never share memory with callers.
func (a *Authorization) Clone() *Authorization {
	c := *a
	c.Content = append([]byte(nil), a.Content...)
	c.Signature = a.Signature.Clone()
	c.ElectronicSignature = a.ElectronicSignature.Clone()
	return &c
}
