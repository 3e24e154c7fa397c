package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a pending code for one phone number.
type Entry struct {
	Hash     string
	Attempts int
}

// CodeStore keeps at most one pending code per phone; entries expire after
// the TTL given to Save.
type CodeStore interface {
	Save(ctx context.Context, phone, hash string, ttl time.Duration) error
	// Claim counts one verification attempt and returns the entry with the
	// updated count, in a single atomic step.
	Claim(ctx context.Context, phone string) (Entry, error)
	// Consume deletes the entry only if it still holds hash and reports
	// whether it did.
	Consume(ctx context.Context, phone, hash string) (bool, error)
	Delete(ctx context.Context, phone string) error
}

type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(phone string) string { return s.prefix + ":" + phone }

func (s *RedisStore) Save(ctx context.Context, phone, hash string, ttl time.Duration) error {
	key := s.key(phone)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "hash", hash, "attempts", 0)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	return err
}

// Only touches live keys so an expired code does not come back without a TTL.
var claimScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
local n = redis.call("HINCRBY", KEYS[1], "attempts", 1)
return {n, redis.call("HGET", KEYS[1], "hash")}
`)

var consumeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "hash") == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisStore) Claim(ctx context.Context, phone string) (Entry, error) {
	res, err := claimScript.Run(ctx, s.rdb, []string{s.key(phone)}).Slice()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrCodeNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if len(res) != 2 {
		return Entry{}, fmt.Errorf("otp claim: unexpected reply %v", res)
	}
	n, _ := res[0].(int64)
	hash, _ := res[1].(string)
	if hash == "" {
		return Entry{}, ErrCodeNotFound
	}
	return Entry{Hash: hash, Attempts: int(n)}, nil
}

func (s *RedisStore) Consume(ctx context.Context, phone, hash string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.rdb, []string{s.key(phone)}, hash).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, phone string) error {
	return s.rdb.Del(ctx, s.key(phone)).Err()
}

// MemoryStore is used when no Redis address is configured.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	Entry
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: map[string]memoryEntry{}}
}

func (s *MemoryStore) Save(_ context.Context, phone, hash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[phone] = memoryEntry{Entry: Entry{Hash: hash}, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, phone string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(phone)
	if !ok {
		return Entry{}, ErrCodeNotFound
	}
	e.Attempts++
	s.entries[phone] = e
	return e.Entry, nil
}

func (s *MemoryStore) Consume(_ context.Context, phone, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(phone)
	if !ok || e.Hash != hash {
		return false, nil
	}
	delete(s.entries, phone)
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	delete(s.entries, phone)
	s.mu.Unlock()
	return nil
}

// live must be called with mu held.
func (s *MemoryStore) live(phone string) (memoryEntry, bool) {
	e, ok := s.entries[phone]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, phone)
		return memoryEntry{}, false
	}
	return e, true
}
