package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPollCacheTTL = 30 * time.Second
	localPollPruneAt    = 4096
)

// raiseScript stores ARGV[1] only when it is greater than the current value, so late writers never move the id backwards.
var raiseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0') or 0
local incoming = tonumber(ARGV[1])
if incoming > current then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 0
`)

// interventionCache remembers the newest intervention event id per attempt so idle polls skip the database.
// A node-local tier sits in front of Redis. It answers polls on its own when Redis is absent or once
// intervention notices from other instances keep it current (see followNotices).
type interventionCache struct {
	client  *redis.Client
	ttl     time.Duration
	local   *localPollCache
	trusted atomic.Bool
	now     func() time.Time
}

func newInterventionCache(client *redis.Client, ttl time.Duration) *interventionCache {
	if ttl <= 0 {
		ttl = defaultPollCacheTTL
	}
	return &interventionCache{
		client: client,
		ttl:    ttl,
		local:  &localPollCache{entries: make(map[uint]localPollEntry)},
		now:    time.Now,
	}
}

func (c *interventionCache) key(attemptID uint) string {
	return fmt.Sprintf("proctor:poll:%d", attemptID)
}

// followNotices marks whether remote intervention notices keep the local tier current.
func (c *interventionCache) followNotices(enabled bool) {
	c.trusted.Store(enabled)
}

func (c *interventionCache) localFirst() bool {
	return c.client == nil || c.trusted.Load()
}

// latest reports the cached newest intervention id. ok is false on a miss.
func (c *interventionCache) latest(ctx context.Context, attemptID uint) (uint, bool, error) {
	if c == nil {
		return 0, false, nil
	}
	if c.localFirst() {
		if id, ok := c.local.get(attemptID, c.now()); ok {
			return id, true, nil
		}
	}
	if c.client == nil {
		return 0, false, nil
	}
	value, err := c.client.Get(ctx, c.key(attemptID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	c.local.raise(attemptID, uint(parsed), c.now(), c.ttl)
	return uint(parsed), true, nil
}

// prime stores a value read from the database; it never overwrites a newer write from an intervention.
func (c *interventionCache) prime(ctx context.Context, attemptID, eventID uint) error {
	if c == nil {
		return nil
	}
	c.local.raise(attemptID, eventID, c.now(), c.ttl)
	if c.client == nil {
		return nil
	}
	return c.client.SetNX(ctx, c.key(attemptID), eventID, c.ttl).Err()
}

// raise records a freshly written intervention id.
func (c *interventionCache) raise(ctx context.Context, attemptID, eventID uint) error {
	if c == nil {
		return nil
	}
	c.local.raise(attemptID, eventID, c.now(), c.ttl)
	if c.client == nil {
		return nil
	}
	return raiseScript.Run(ctx, c.client, []string{c.key(attemptID)}, eventID, c.ttl.Milliseconds()).Err()
}

type localPollEntry struct {
	eventID   uint
	expiresAt time.Time
}

type localPollCache struct {
	mu      sync.Mutex
	entries map[uint]localPollEntry
}

func (l *localPollCache) get(attemptID uint, now time.Time) (uint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[attemptID]
	if !ok {
		return 0, false
	}
	if !now.Before(entry.expiresAt) {
		delete(l.entries, attemptID)
		return 0, false
	}
	return entry.eventID, true
}

// raise keeps the larger live id and extends the expiry. Expired entries are pruned once the map grows.
func (l *localPollCache) raise(attemptID, eventID uint, now time.Time, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= localPollPruneAt {
		for id, entry := range l.entries {
			if !now.Before(entry.expiresAt) {
				delete(l.entries, id)
			}
		}
	}

	entry, ok := l.entries[attemptID]
	if ok && now.Before(entry.expiresAt) && entry.eventID > eventID {
		eventID = entry.eventID
	}
	l.entries[attemptID] = localPollEntry{eventID: eventID, expiresAt: now.Add(ttl)}
}
