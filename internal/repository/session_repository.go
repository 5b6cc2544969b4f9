package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/roster-import-api/internal/models"
	appErrors "github.com/noah-isme/roster-import-api/pkg/errors"
)

const sessionKeyPrefix = "roster:import:session:"

// ErrSessionNotFound is returned for unknown or expired import sessions.
var ErrSessionNotFound = appErrors.Clone(appErrors.ErrNotFound, "import session not found")

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// RedisSessionRepository stores import sessions as JSON snapshots. Every
// save refreshes the TTL, so an idle session expires on its own.
type RedisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSessionRepository constructs a Redis backed session store.
func NewRedisSessionRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSessionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSessionRepository{client: client, ttl: ttl, logger: logger}
}

// Get loads a session snapshot.
func (r *RedisSessionRepository) Get(ctx context.Context, id string) (*models.ImportSession, error) {
	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get session %s: %w", id, err)
	}

	var session models.ImportSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

// Save writes the snapshot and resets its expiry.
func (r *RedisSessionRepository) Save(ctx context.Context, session *models.ImportSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	if err := r.client.Set(ctx, sessionKey(session.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", session.ID, err)
	}
	r.logger.Debug("import session saved", zap.String("session_id", session.ID), zap.Int("bytes", len(payload)))
	return nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete session %s: %w", id, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (r *RedisSessionRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemorySessionRepository keeps sessions in process memory. It serves
// single-instance deployments running without Redis.
type MemorySessionRepository struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemorySessionRepository constructs an in-memory session store.
func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a deep copy of the stored session.
func (r *MemorySessionRepository) Get(_ context.Context, id string) (*models.ImportSession, error) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok && r.expired(entry) {
		delete(r.entries, id)
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	var session models.ImportSession
	if err := json.Unmarshal(entry.payload, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

// Save stores a copy of the session.
func (r *MemorySessionRepository) Save(_ context.Context, session *models.ImportSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	entry := memoryEntry{payload: payload}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	r.mu.Lock()
	r.entries[session.ID] = entry
	r.mu.Unlock()
	return nil
}

// Delete removes a session.
func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (r *MemorySessionRepository) Ping(context.Context) error {
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (r *MemorySessionRepository) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, entry := range r.entries {
		if r.expired(entry) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

func (r *MemorySessionRepository) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt)
}
