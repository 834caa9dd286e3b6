package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/miciudad/miciudad/internal/securestore"
)

// ErrCorruptRecord indicates a stored user that cannot be decoded or is incomplete.
var ErrCorruptRecord = errors.New("users: corrupt stored record")

// Repository persists the signed-in user as a single JSON record in secure storage.
type Repository struct {
	kv securestore.KV
}

// NewRepository constructs a repository over kv.
func NewRepository(kv securestore.KV) *Repository {
	return &Repository{kv: kv}
}

// SaveUser validates and stores u.
func (r *Repository) SaveUser(ctx context.Context, u *User) error {
	if err := Validate(u); err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("users: encode: %w", err)
	}
	if err := r.kv.Set(ctx, securestore.KeyUser, string(data)); err != nil {
		return fmt.Errorf("users: save: %w", err)
	}
	return nil
}

// LoadUser returns the stored user, or nil when none is stored.
func (r *Repository) LoadUser(ctx context.Context) (*User, error) {
	raw, err := r.kv.Get(ctx, securestore.KeyUser)
	if err != nil {
		if errors.Is(err, securestore.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, securestore.ErrCorrupt) {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		return nil, fmt.Errorf("users: load: %w", err)
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := Validate(&u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &u, nil
}

// DeleteUser removes the stored user.
func (r *Repository) DeleteUser(ctx context.Context) error {
	if err := r.kv.Delete(ctx, securestore.KeyUser); err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	return nil
}
