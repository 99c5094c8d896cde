// Package visitors derives the anonymous visitor and session identifiers
// attached to every tracked event.
package visitors

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

// Storage keys under which the identifiers are persisted.
const (
	VisitorKey = "bf_visitor_id"
	SessionKey = "bf_session_id"
)

const (
	visitorPrefix = "v_"
	sessionPrefix = "s_"
)

// IdentityStore is a key-value capability backing one identifier.
// The visitor id lives in a durable store, the session id in a
// session-scoped one.
type IdentityStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Identity is the pair of identifiers presented with an event.
type Identity struct {
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
}

// Resolver lazily creates and returns the identifiers held by its stores.
// A resolver without stores (no client context) yields empty identifiers.
type Resolver struct {
	durable IdentityStore
	session IdentityStore
	now     func() time.Time
	mu      sync.Mutex
}

// NewResolver returns a resolver over the given stores. Either may be nil.
func NewResolver(durable, session IdentityStore) *Resolver {
	return &Resolver{durable: durable, session: session, now: time.Now}
}

// WithClock overrides the clock used for the token timestamp suffix.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// VisitorID returns the long-lived visitor token, creating it on first use.
func (r *Resolver) VisitorID() string {
	return r.getOrCreate(r.durable, VisitorKey, visitorPrefix)
}

// SessionID returns the session token, creating it on first use.
func (r *Resolver) SessionID() string {
	return r.getOrCreate(r.session, SessionKey, sessionPrefix)
}

// Resolve returns both identifiers.
func (r *Resolver) Resolve() Identity {
	if r == nil {
		return Identity{}
	}
	return Identity{VisitorID: r.VisitorID(), SessionID: r.SessionID()}
}

func (r *Resolver) getOrCreate(store IdentityStore, key, prefix string) string {
	if r == nil || store == nil {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := store.Get(key); ok && existing != "" {
		return existing
	}

	token := NewToken(prefix, r.now())
	store.Set(key, token)
	return token
}

// NewToken builds "<prefix><base36 random><base36 unix millis>".
func NewToken(prefix string, at time.Time) string {
	random := strconv.FormatUint(rand.Uint64(), 36)
	stamp := strconv.FormatInt(at.UnixMilli(), 36)
	return prefix + random + stamp
}

// MemoryStore is an in-process IdentityStore.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}
