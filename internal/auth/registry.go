package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenRevoked is returned when a bearer token has been revoked.
var ErrTokenRevoked = errors.New("token revoked")

// Token identifies a validated bearer token.
type Token struct {
	ID        string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenRegistry tracks revoked bearer tokens. Implementations are created at
// startup, injected where tokens are checked and closed at shutdown.
type TokenRegistry interface {
	// Revoke invalidates a single token until it would have expired anyway.
	Revoke(ctx context.Context, token Token) error
	// RevokeUser invalidates every token of username issued at or before at.
	RevokeUser(ctx context.Context, username string, at time.Time) error
	// Check returns ErrTokenRevoked when the token may no longer be used.
	Check(ctx context.Context, token Token) error
	Close() error
}

// NewRegistry returns a Redis backed registry when a client is provided and an
// in-memory one otherwise. maxTTL bounds how long user-wide revocations are kept.
func NewRegistry(client *redis.Client, maxTTL time.Duration) TokenRegistry {
	if client != nil {
		return NewRedisRegistry(client, "auth", maxTTL)
	}
	return NewMemoryRegistry(maxTTL, time.Minute)
}

func remaining(expiresAt, now time.Time, fallback time.Duration) time.Duration {
	if expiresAt.IsZero() {
		return fallback
	}
	return expiresAt.Sub(now)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

type memoryRegistry struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	users   map[string]userCutoff
	maxTTL  time.Duration
	now     func() time.Time
	done    chan struct{}
	closeMu sync.Once
}

type userCutoff struct {
	at      time.Time
	expires time.Time
}

// NewMemoryRegistry builds a process local registry. A janitor drops expired
// entries every sweep interval until Close is called.
func NewMemoryRegistry(maxTTL, sweep time.Duration) TokenRegistry {
	if maxTTL <= 0 {
		maxTTL = 12 * time.Hour
	}
	r := &memoryRegistry{
		tokens: make(map[string]time.Time),
		users:  make(map[string]userCutoff),
		maxTTL: maxTTL,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	if sweep > 0 {
		go r.janitor(sweep)
	}
	return r
}

func (r *memoryRegistry) Revoke(_ context.Context, token Token) error {
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("revoke token: missing token id")
	}
	now := r.now()
	ttl := remaining(token.ExpiresAt, now, r.maxTTL)
	if ttl <= 0 {
		return nil
	}

	r.mu.Lock()
	r.tokens[token.ID] = now.Add(ttl)
	r.mu.Unlock()
	return nil
}

func (r *memoryRegistry) RevokeUser(_ context.Context, username string, at time.Time) error {
	key := normalizeUsername(username)
	if key == "" {
		return fmt.Errorf("revoke user: missing username")
	}

	r.mu.Lock()
	r.users[key] = userCutoff{at: at, expires: r.now().Add(r.maxTTL)}
	r.mu.Unlock()
	return nil
}

func (r *memoryRegistry) Check(_ context.Context, token Token) error {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if token.ID != "" {
		if until, ok := r.tokens[token.ID]; ok {
			if now.Before(until) {
				return ErrTokenRevoked
			}
			delete(r.tokens, token.ID)
		}
	}

	key := normalizeUsername(token.Username)
	if cutoff, ok := r.users[key]; ok && key != "" {
		if !now.Before(cutoff.expires) {
			delete(r.users, key)
			return nil
		}
		if token.IssuedAt.IsZero() || token.IssuedAt.Unix() <= cutoff.at.Unix() {
			return ErrTokenRevoked
		}
	}
	return nil
}

func (r *memoryRegistry) Close() error {
	r.closeMu.Do(func() { close(r.done) })
	return nil
}

func (r *memoryRegistry) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.purge()
		}
	}
}

func (r *memoryRegistry) purge() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, until := range r.tokens {
		if !now.Before(until) {
			delete(r.tokens, id)
		}
	}
	for name, cutoff := range r.users {
		if !now.Before(cutoff.expires) {
			delete(r.users, name)
		}
	}
}

type redisRegistry struct {
	client *redis.Client
	prefix string
	maxTTL time.Duration
	now    func() time.Time
}

// NewRedisRegistry stores revocations as expiring keys so every API instance sees them.
// The client is owned by the caller; Close does not close it.
func NewRedisRegistry(client *redis.Client, prefix string, maxTTL time.Duration) TokenRegistry {
	if maxTTL <= 0 {
		maxTTL = 12 * time.Hour
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "auth"
	}
	return &redisRegistry{client: client, prefix: prefix, maxTTL: maxTTL, now: time.Now}
}

func (r *redisRegistry) tokenKey(id string) string {
	return fmt.Sprintf("%s:revoked:token:%s", r.prefix, id)
}

func (r *redisRegistry) userKey(username string) string {
	return fmt.Sprintf("%s:revoked:user:%s", r.prefix, normalizeUsername(username))
}

func (r *redisRegistry) Revoke(ctx context.Context, token Token) error {
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("revoke token: missing token id")
	}
	ttl := remaining(token.ExpiresAt, r.now(), r.maxTTL)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.tokenKey(token.ID), normalizeUsername(token.Username), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *redisRegistry) RevokeUser(ctx context.Context, username string, at time.Time) error {
	if normalizeUsername(username) == "" {
		return fmt.Errorf("revoke user: missing username")
	}
	value := strconv.FormatInt(at.Unix(), 10)
	if err := r.client.Set(ctx, r.userKey(username), value, r.maxTTL).Err(); err != nil {
		return fmt.Errorf("revoke user: %w", err)
	}
	return nil
}

func (r *redisRegistry) Check(ctx context.Context, token Token) error {
	pipe := r.client.Pipeline()
	var tokenCmd *redis.IntCmd
	if token.ID != "" {
		tokenCmd = pipe.Exists(ctx, r.tokenKey(token.ID))
	}
	var userCmd *redis.StringCmd
	if normalizeUsername(token.Username) != "" {
		userCmd = pipe.Get(ctx, r.userKey(token.Username))
	}
	if tokenCmd == nil && userCmd == nil {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("check token: %w", err)
	}

	if tokenCmd != nil && tokenCmd.Val() > 0 {
		return ErrTokenRevoked
	}
	if userCmd != nil && userCmd.Err() == nil {
		cutoff, err := strconv.ParseInt(userCmd.Val(), 10, 64)
		if err != nil {
			return fmt.Errorf("check token: corrupt revocation for %s", token.Username)
		}
		if token.IssuedAt.IsZero() || token.IssuedAt.Unix() <= cutoff {
			return ErrTokenRevoked
		}
	}
	return nil
}

func (r *redisRegistry) Close() error {
	return nil
}
