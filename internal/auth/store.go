package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/types"
)

// KeyStore looks up API key metadata by hash.
type KeyStore interface {
	Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error)
}

// ConfigKeyStore serves keys declared under auth.keys in hearth.yaml.
type ConfigKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*KeyMetadata
	now  func() time.Time
}

func NewConfigKeyStore(keys []config.APIKeyConfig) (*ConfigKeyStore, error) {
	s := &ConfigKeyStore{now: time.Now}
	if err := s.Update(keys); err != nil {
		return nil, err
	}
	return s, nil
}

// Update replaces the key set. On error the previous set is kept.
func (s *ConfigKeyStore) Update(keys []config.APIKeyConfig) error {
	next := make(map[string]*KeyMetadata, len(keys))
	for _, k := range keys {
		if k.Hash == "" {
			return fmt.Errorf("api key %q: missing hash", k.ID)
		}
		mode := types.ModeOwner
		if k.MaxMode != "" {
			m, ok := types.ParseMode(k.MaxMode)
			if !ok {
				return fmt.Errorf("api key %q: unknown max_mode %q", k.ID, k.MaxMode)
			}
			mode = m
		}
		next[k.Hash] = &KeyMetadata{
			ID:        k.ID,
			Name:      k.Name,
			MaxMode:   mode,
			ExpiresAt: k.ExpiresAt,
		}
	}

	s.mu.Lock()
	s.keys = next
	s.mu.Unlock()
	return nil
}

// Len returns the number of configured keys.
func (s *ConfigKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *ConfigKeyStore) Lookup(_ context.Context, keyHash string) (*KeyMetadata, error) {
	s.mu.RLock()
	meta, ok := s.keys[keyHash]
	s.mu.RUnlock()
	if !ok || meta.Expired(s.now()) {
		return nil, nil
	}
	return meta, nil
}
