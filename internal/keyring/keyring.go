package keyring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/webclinic017/trading-tools-2/internal/auth"
	"github.com/webclinic017/trading-tools-2/pkg/core"
)

type KeyRing struct {
	mu       sync.RWMutex
	keys     []*APIKey
	current  int
	strategy RotationStrategy
	logger   zerolog.Logger
}

// APIKey wraps a signer with rotation bookkeeping. The secret stays inside Signer.
type APIKey struct {
	ID         string
	Signer     *auth.Signer
	Disabled   bool
	LastUsed   time.Time
	ErrorCount int
}

type RotationStrategy int

const (
	RotationRoundRobin RotationStrategy = iota
	RotationOnError
	RotationOnRateLimit
)

// FromCredentials builds one APIKey per credential set, using the API key as ID.
func FromCredentials(creds []core.Credentials, opts ...auth.Option) ([]*APIKey, error) {
	keys := make([]*APIKey, 0, len(creds))
	for i, c := range creds {
		signer, err := auth.NewSigner(c, opts...)
		if err != nil {
			return nil, fmt.Errorf("credentials %d: %w", i, err)
		}
		keys = append(keys, &APIKey{ID: c.APIKey, Signer: signer})
	}
	return keys, nil
}

func NewKeyRing(keys []*APIKey, strategy RotationStrategy) *KeyRing {
	keysCopy := make([]*APIKey, 0, len(keys))
	for _, k := range keys {
		keysCopy = append(keysCopy, &APIKey{
			ID:         k.ID,
			Signer:     k.Signer,
			Disabled:   k.Disabled,
			LastUsed:   k.LastUsed,
			ErrorCount: k.ErrorCount,
		})
	}

	return &KeyRing{
		keys:     keysCopy,
		strategy: strategy,
		logger:   zerolog.Nop(),
	}
}

func (k *KeyRing) SetLogger(logger zerolog.Logger) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.logger = logger
}

// Current returns the first enabled key at or after the cursor, or nil.
func (k *KeyRing) Current() *APIKey {
	k.mu.RLock()
	defer k.mu.RUnlock()

	for i := 0; i < len(k.keys); i++ {
		idx := (k.current + i) % len(k.keys)
		if !k.keys[idx].Disabled {
			return k.keys[idx]
		}
	}

	return nil
}

// Next returns the key to sign the next call with. Round robin advances the cursor
// on every call; the other strategies stay put until an error rotates them.
func (k *KeyRing) Next() (*APIKey, error) {
	key := k.Current()
	if key == nil {
		return nil, core.NewExchangeError(core.ErrorTypeAuthentication, 0, core.ErrNoAPIKey.Error()).
			WithCode(core.ErrCodeNoAPIKey).
			WithRaw(core.ErrNoAPIKey)
	}

	k.mu.Lock()
	key.LastUsed = time.Now()
	if k.strategy == RotationRoundRobin {
		k.rotateLocked()
	}
	k.mu.Unlock()

	return key, nil
}

func (k *KeyRing) Rotate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rotateLocked()
}

func (k *KeyRing) rotateLocked() {
	if len(k.keys) == 0 {
		return
	}

	start := k.current
	for {
		k.current = (k.current + 1) % len(k.keys)
		if !k.keys[k.current].Disabled {
			return
		}
		if k.current == start {
			return
		}
	}
}

// OnError records a failed call made with the key identified by id.
func (k *KeyRing) OnError(id string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.ID != id {
			continue
		}
		key.ErrorCount++

		rotate := k.strategy == RotationOnError ||
			(k.strategy == RotationOnRateLimit && core.IsRateLimitError(err))
		if rotate && k.keys[k.current].ID == id {
			k.rotateLocked()
			k.logger.Warn().
				Str("key", auth.MaskKey(id)).
				Int("errors", key.ErrorCount).
				Err(err).
				Msg("rotated API key")
		}
		return
	}
}

func (k *KeyRing) Disable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.ID == id {
			key.Disabled = true
			return
		}
	}
}

func (k *KeyRing) Enable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.ID == id {
			key.Disabled = false
			key.ErrorCount = 0
			return
		}
	}
}

func (k *KeyRing) Add(key *APIKey) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, existing := range k.keys {
		if existing.ID == key.ID {
			return
		}
	}

	k.keys = append(k.keys, &APIKey{
		ID:     key.ID,
		Signer: key.Signer,
	})
}

func (k *KeyRing) Remove(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for i, key := range k.keys {
		if key.ID == id {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			if k.current >= len(k.keys) {
				k.current = 0
			}
			return
		}
	}
}

func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

func (k *APIKey) String() string {
	return fmt.Sprintf("APIKey{ID:%s, Errors:%d}", auth.MaskKey(k.ID), k.ErrorCount)
}
