package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the presence Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration

	// KeyPrefix namespaces presence keys. Default "presence".
	KeyPrefix string
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	if out.KeyPrefix == "" {
		out.KeyPrefix = "presence"
	}
	return out
}

// OpenRedis connects to Redis and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisStore keeps each user's registrations in a sorted set scored by
// expiry (unix milliseconds) with record bodies in a companion hash.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps an open client.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "presence"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) indexKey(user string) string { return s.prefix + ":" + user + ":expiry" }
func (s *RedisStore) bodyKey(user string) string  { return s.prefix + ":" + user + ":records" }

func (s *RedisStore) Register(ctx context.Context, r Record) (Record, error) {
	if err := r.Validate(s.now()); err != nil {
		return Record{}, err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("encode record: %w", err)
	}

	idx, bodies := s.indexKey(r.User), s.bodyKey(r.User)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, idx, redis.Z{Score: float64(r.ExpiresAt.UnixMilli()), Member: r.ID})
		p.HSet(ctx, bodies, r.ID, body)
		// Keys outlive their newest record by a minute, then Redis drops them.
		p.PExpireAt(ctx, idx, r.ExpiresAt.Add(time.Minute))
		p.PExpireAt(ctx, bodies, r.ExpiresAt.Add(time.Minute))
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("register %s: %w", r.User, err)
	}

	slog.Info("[Presence] Registered",
		"user", r.User,
		"contact", r.ContactURI,
		"expires_at", r.ExpiresAt,
		"backend", "redis",
	)
	return r, nil
}

func (s *RedisStore) Unregister(ctx context.Context, user, contactURI string) error {
	id := RecordID(user, contactURI)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.indexKey(user), id)
		p.HDel(ctx, s.bodyKey(user), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("unregister %s: %w", user, err)
	}
	return nil
}

func (s *RedisStore) RecordsByUser(ctx context.Context, user string) ([]Record, error) {
	now := s.now()
	idx, bodies := s.indexKey(user), s.bodyKey(user)
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)

	expired, err := s.rdb.ZRangeByScore(ctx, idx, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return nil, fmt.Errorf("records of %s: %w", user, err)
	}
	if len(expired) > 0 {
		members := make([]any, len(expired))
		for i, id := range expired {
			members[i] = id
		}
		_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZRem(ctx, idx, members...)
			p.HDel(ctx, bodies, expired...)
			return nil
		})
		if err != nil {
			slog.Warn("[Presence] Failed to prune expired registrations", "user", user, "error", err)
		}
	}

	ids, err := s.rdb.ZRangeByScore(ctx, idx, &redis.ZRangeBy{Min: "(" + cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("records of %s: %w", user, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raw, err := s.rdb.HMGet(ctx, bodies, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("records of %s: %w", user, err)
	}
	return decodeRecords(raw, now), nil
}

// decodeRecords turns HMGET results into live records, skipping holes.
func decodeRecords(raw []any, now time.Time) []Record {
	out := make([]Record, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			slog.Warn("[Presence] Skipping undecodable registration", "error", err)
			continue
		}
		if r.Live(now) {
			out = append(out, r)
		}
	}
	return out
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ Store = (*RedisStore)(nil)
