// Package session pairs a core.Protocol with the signing transport. A Session
// builds the request for an operation, serves cacheable public reads from memory,
// executes the call and parses the body.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/webclinic017/trading-tools-2/internal/auth"
	"github.com/webclinic017/trading-tools-2/internal/keyring"
	"github.com/webclinic017/trading-tools-2/internal/transport"
	"github.com/webclinic017/trading-tools-2/pkg/core"
)

// State represents the lifecycle state of a Session.
type State int

const (
	// StateNew indicates a session without a protocol.
	StateNew State = iota
	// StateActive indicates a session that is ready to process requests.
	StateActive
	// StateClosed indicates a session that has been shut down and can no longer be used.
	StateClosed
)

// String returns the string representation of the State.
func (s State) String() string {
	return [...]string{"NEW", "ACTIVE", "CLOSED"}[s]
}

// Session is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	config    *core.Config
	protocol  core.Protocol
	transport *transport.Transport
	cache     *Cache
	logger    zerolog.Logger
	state     State
	createdAt time.Time
	lastUsed  time.Time
}

// Cache provides a simple in-memory cache with TTL support.
// It is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
	ttl   time.Duration
	now   func() time.Time
}

type cacheItem struct {
	value     any
	expiresAt time.Time
}

// NewCache creates a Cache whose entries default to ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		items: make(map[string]*cacheItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns the value stored under key unless it has expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || !c.now().Before(item.expiresAt) {
		return nil, false
	}
	return item.value, true
}

// Set stores value under key. A zero ttl uses the cache default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.ttl
	}
	c.items[key] = &cacheItem{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Delete removes an item from the cache by key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all items from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*cacheItem)
}

// Len counts entries, expired ones included until they are overwritten.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

type Option func(*options)

type options struct {
	logger    zerolog.Logger
	transport []transport.Option
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
		o.transport = append(o.transport, transport.WithLogger(logger))
	}
}

// WithSigner signs private calls with s instead of config.Credentials.
func WithSigner(s *auth.Signer) Option {
	return func(o *options) {
		o.transport = append(o.transport, transport.WithSigner(s))
	}
}

// WithKeyRing rotates private calls across several keys.
func WithKeyRing(k *keyring.KeyRing) Option {
	return func(o *options) {
		o.transport = append(o.transport, transport.WithKeyRing(k))
	}
}

// New validates config and builds the transport. The session becomes active once
// a protocol is set.
func New(config *core.Config, opts ...Option) (*Session, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}

	t, err := transport.New(config, o.transport...)
	if err != nil {
		return nil, err
	}

	var cache *Cache
	if config.CacheEnabled {
		cache = NewCache(config.CacheTTL)
	}

	now := time.Now()
	return &Session{
		config:    config,
		transport: t,
		cache:     cache,
		logger:    o.logger,
		state:     StateNew,
		createdAt: now,
		lastUsed:  now,
	}, nil
}

// SetProtocol assigns the exchange protocol to the session.
// The session state transitions to Active if currently in New state.
func (s *Session) SetProtocol(protocol core.Protocol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if protocol == nil {
		return fmt.Errorf("protocol is required")
	}
	if s.state == StateClosed {
		return closedError()
	}

	s.protocol = protocol
	if s.state == StateNew {
		s.state = StateActive
	}
	s.lastUsed = time.Now()
	return nil
}

// Do executes op. Private operations are signed POSTs; public ones are GETs and
// may be answered from the cache.
func (s *Session) Do(ctx context.Context, op core.Operation, params core.Params) (any, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, closedError()
	}
	if s.protocol == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("protocol not set")
	}
	protocol := s.protocol
	s.lastUsed = time.Now()
	s.mu.Unlock()

	req, err := protocol.BuildRequest(ctx, op, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	cacheable := !req.RequireAuth && req.CacheKey != "" && s.cache != nil
	if cacheable {
		if cached, ok := s.cache.Get(req.CacheKey); ok {
			s.logger.Debug().Str("cache_key", req.CacheKey).Msg("cache hit")
			return cached, nil
		}
	}

	var resp *transport.Response
	switch {
	case req.RequireAuth && req.Method == http.MethodPost:
		resp, err = s.transport.CallPrivate(ctx, req.Path, req.FormValues())
	case !req.RequireAuth && req.Method == http.MethodGet:
		resp, err = s.transport.GetPublic(ctx, req.PathWithQuery())
	default:
		return nil, core.NewExchangeError(core.ErrorTypeBadRequest, 0,
			fmt.Sprintf("unsupported method %s for %s", req.Method, op)).
			WithCode(core.ErrCodeUnsupported)
	}
	if err != nil {
		return nil, err
	}

	result, err := protocol.ParseResponse(op, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s response: %w", op, err)
	}

	if cacheable && result != nil {
		ttl := req.CacheTTL
		if ttl == 0 {
			ttl = s.config.CacheTTL
		}
		s.cache.Set(req.CacheKey, result, ttl)
	}

	return result, nil
}

// Close releases the transport and clears the cache. Later calls fail with a
// CLIENT_CLOSED error.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	s.state = StateClosed
	return s.transport.Close()
}

// State returns the current lifecycle state of the session.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Protocol returns the exchange protocol assigned to the session.
func (s *Session) Protocol() core.Protocol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocol
}

// Config returns the configuration used to create the session.
func (s *Session) Config() *core.Config {
	return s.config
}

// HasCredentials reports whether private operations can be signed.
func (s *Session) HasCredentials() bool {
	return s.transport.HasCredentials()
}

// CreatedAt returns the timestamp when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastUsed returns the timestamp of the last request executed by the session.
func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

func closedError() error {
	return core.NewExchangeError(core.ErrorTypeUnknown, 0, core.ErrClientClosed.Error()).
		WithCode(core.ErrCodeClientClosed).
		WithRaw(core.ErrClientClosed)
}
