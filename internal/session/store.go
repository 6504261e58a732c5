package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound means the session id is unknown or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrTurnInFlight means another turn for the same session is being processed.
	ErrTurnInFlight = errors.New("turn already in flight for session")
)

// Store keeps per-conversation dialogue state. Implementations hand out deep
// copies; callers persist changes with Put.
type Store interface {
	Create(ctx context.Context) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	End(ctx context.Context, id string) error
	Close() error
}

// NewStore selects the redis backing when configured, otherwise in-memory.
func NewStore(ctx context.Context, redisURL string, ttl time.Duration) (Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewMemoryStore(ttl), nil
	}
	return NewRedisStore(ctx, redisURL, ttl)
}

// Gate serializes turns per session id. State transitions are not commutative,
// so a second concurrent turn for the same session is rejected rather than
// interleaved. Sessions with different ids proceed independently.
type Gate struct {
	mu   sync.Mutex
	busy map[string]bool
}

func NewGate() *Gate {
	return &Gate{busy: make(map[string]bool)}
}

func (g *Gate) Acquire(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[id] {
		return ErrTurnInFlight
	}
	g.busy[id] = true
	return nil
}

func (g *Gate) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, id)
}
