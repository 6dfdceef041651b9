// Package redis keeps documents as Redis hashes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pmrelay/pmrelay/internal/store"
)

const (
	fieldText    = "text"
	fieldVersion = "version"
	fieldUpdated = "updated_at"
)

// Store implements store.Documents on Redis.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// New connects to redisURL and checks the connection.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: "pmrelay:doc:", now: time.Now}
}

func (s *Store) key(k store.Key) string { return s.prefix + k.String() }

func (s *Store) Load(ctx context.Context, key store.Key) (*store.Blob, error) {
	vals, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("load %s: %w", key, store.ErrNotFound)
	}
	return decode(vals)
}

func (s *Store) Create(ctx context.Context, key store.Key, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	return s.write(ctx, key, text)
}

func (s *Store) Save(ctx context.Context, key store.Key, _ *store.Blob, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	var out *store.Blob
	rk := s.key(key)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, rk).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		out, err = s.writeTx(ctx, tx, rk, text)
		return err
	}, rk)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	return out, nil
}

func (s *Store) Reset(ctx context.Context, key store.Key) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, key store.Key, text string) (*store.Blob, error) {
	rk := s.key(key)
	var out *store.Blob
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var err error
		out, err = s.writeTx(ctx, tx, rk, text)
		return err
	}, rk)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", key, err)
	}
	return out, nil
}

func (s *Store) writeTx(ctx context.Context, tx *redis.Tx, rk, text string) (*store.Blob, error) {
	now := s.now().UTC()
	var incr *redis.IntCmd
	_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, rk, fieldVersion, 1)
		p.HSet(ctx, rk, fieldText, text, fieldUpdated, now.UnixNano())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &store.Blob{Text: text, Version: incr.Val(), UpdatedAt: time.Unix(0, now.UnixNano())}, nil
}

func decode(vals map[string]string) (*store.Blob, error) {
	b := &store.Blob{Text: vals[fieldText]}
	var err error
	if b.Version, err = strconv.ParseInt(vals[fieldVersion], 10, 64); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	nanos, err := strconv.ParseInt(vals[fieldUpdated], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	b.UpdatedAt = time.Unix(0, nanos)
	return b, nil
}

// HealthPing implements health.HealthPinger.
func (s *Store) HealthPing(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Close closes the Redis connection.
func (s *Store) Close() error { return s.client.Close() }

var _ store.Documents = (*Store)(nil)

// IsNotFound reports whether err came from a missing document.
func IsNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
