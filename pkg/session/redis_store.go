package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tkf27/gdbot-admin/pkg/auth"
)

const (
	// DefaultRedisPrefix is prepended to the id to form a session key
	DefaultRedisPrefix = "gd_admin_session:"

	lockSuffix   = ":lock"
	lockTTL      = 5 * time.Second
	lockInterval = 10 * time.Millisecond
)

// unlockScript deletes the lock only if this writer still owns it
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisStore keeps sessions as JSON values with a TTL
type RedisStore struct {
	client *redis.Client
	ids    *auth.SessionIDGenerator
	opts   Options
	now    func() time.Time
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Set connection timeouts
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{
		client: client,
		ids:    auth.NewSessionIDGenerator(),
		opts:   opts.withDefaults(DefaultRedisPrefix),
		now:    time.Now,
	}
}

func (s *RedisStore) key(id string) string {
	return s.opts.Prefix + id
}

// Create persists a new logged-in session
func (s *RedisStore) Create(ctx context.Context, principal auth.Principal) (string, error) {
	id, err := s.ids.GenerateID()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	raw, err := json.Marshal(newData(principal, s.now().UTC()))
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(id), raw, s.opts.MaxLifetime).Result()
	if err != nil {
		return "", unavailable("create session", err)
	}
	if !ok {
		return "", fmt.Errorf("session id collision")
	}
	return id, nil
}

// Read loads the session value. Unknown, malformed and expired sessions read as nil.
func (s *RedisStore) Read(ctx context.Context, id string) (*Data, error) {
	if s.ids.ValidateIDFormat(id) != nil {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, unavailable("read session", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		// Corrupt values are left for GC and the key's TTL
		return nil, nil
	}

	if expired(&data, s.now(), s.opts.MaxLifetime) {
		return nil, nil
	}

	data.ID = id
	return &data, nil
}

// Write replaces the session value while holding the per-session lock key
func (s *RedisStore) Write(ctx context.Context, id string, data *Data) error {
	if err := s.ids.ValidateIDFormat(id); err != nil {
		return fmt.Errorf("refusing to write session: %w", err)
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	stored := *data
	stored.LastWriteAt = s.now().UTC()

	raw, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(id), raw, s.opts.MaxLifetime).Err(); err != nil {
		return unavailable("write session", err)
	}

	data.LastWriteAt = stored.LastWriteAt
	return nil
}

// Touch refreshes the last write time of a live session. SET XX keeps a
// key deleted behind the lock from being recreated.
func (s *RedisStore) Touch(ctx context.Context, id string) (bool, error) {
	if s.ids.ValidateIDFormat(id) != nil {
		return false, nil
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, unavailable("read session", err)
	}

	var data Data
	now := s.now()
	if err := json.Unmarshal(raw, &data); err != nil || !touchable(&data, now, s.opts.MaxLifetime) {
		return false, nil
	}

	data.LastWriteAt = now.UTC()
	raw, err = json.Marshal(&data)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.key(id), raw, s.opts.MaxLifetime).Result()
	if err != nil {
		return false, unavailable("touch session", err)
	}
	return ok, nil
}

// lock takes the lock key with SETNX, retrying until ctx ends
func (s *RedisStore) lock(ctx context.Context, id string) (func(), error) {
	lockKey := s.key(id) + lockSuffix
	token, err := s.ids.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to create lock token: %w", err)
	}

	for {
		ok, err := s.client.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return nil, unavailable("lock session", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, unavailable("lock session", ctx.Err())
		case <-time.After(lockInterval):
		}
	}

	return func() {
		// The lock expires on its own if this fails
		unlockScript.Run(context.Background(), s.client, []string{lockKey}, token)
	}, nil
}

// Destroy removes the session value while holding the per-session lock key
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if s.ids.ValidateIDFormat(id) != nil {
		return nil
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return unavailable("destroy session", err)
	}
	return nil
}

// GC removes sessions not written for maxAge. Redis TTLs also evict passively.
func (s *RedisStore) GC(ctx context.Context, maxAge time.Duration) (int, error) {
	now := s.now()
	evicted := 0

	iter := s.client.Scan(ctx, 0, s.opts.Prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, lockSuffix) {
			continue
		}

		raw, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return evicted, unavailable("read session", err)
		}

		var data Data
		if err := json.Unmarshal(raw, &data); err == nil && !expired(&data, now, maxAge) {
			continue
		}

		if err := s.client.Del(ctx, key).Err(); err != nil {
			return evicted, unavailable("delete session", err)
		}
		evicted++
	}
	if err := iter.Err(); err != nil {
		return evicted, unavailable("scan sessions", err)
	}
	return evicted, nil
}
