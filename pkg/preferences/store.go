package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrymomot/notifykit/pkg/store"
)

const keyPfx = "prefs:"

// Store loads a user's preferences. Unknown users get Default.
type Store interface {
	GetPreferences(ctx context.Context, userID string) (Preferences, error)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, userID string) (Preferences, error)

func (f StoreFunc) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	return f(ctx, userID)
}

// KVStore keeps preferences as JSON documents in a key-value store.
type KVStore struct {
	kv store.KV
}

func NewKVStore(kv store.KV) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	if userID == "" {
		return Preferences{}, ErrUserIDRequired
	}
	data, err := s.kv.Get(ctx, keyPfx+userID)
	if errors.Is(err, store.ErrNotFound) {
		return Default(userID), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("preferences: load %s: %w", userID, err)
	}
	var p Preferences
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Preferences{}, fmt.Errorf("preferences: decode %s: %w", userID, err)
	}
	return p, nil
}

// SetPreferences validates and stores p.
func (s *KVStore) SetPreferences(ctx context.Context, p Preferences) error {
	if p.DigestMode == "" {
		p.DigestMode = DigestImmediate
	}
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("preferences: encode: %w", err)
	}
	return s.kv.Set(ctx, keyPfx+p.UserID, string(data), 0)
}

// DeletePreferences resets a user to Default.
func (s *KVStore) DeletePreferences(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, keyPfx+userID)
}
