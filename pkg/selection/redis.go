package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

// RedisStore keeps each session under <prefix><list message id>.
type RedisStore struct {
	cli    *redis.Client
	prefix string
}

// NewRedisStore connects lazily; the first command dials.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis: missing addr")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "docrelay:session:"
	}
	cli := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})
	return newRedisStore(cli, opts.Prefix), nil
}

func newRedisStore(cli *redis.Client, prefix string) *RedisStore {
	return &RedisStore{cli: cli, prefix: prefix}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	if err := validateSession(s); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return r.cli.Set(ctx, r.key(s.ListMessageID), data, 0).Err()
}

func decodeRedis(val string, err error) (*Session, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	return decodeRedis(r.cli.Get(ctx, r.key(id)).Result())
}

// Take uses GETDEL, which is atomic on the server.
func (r *RedisStore) Take(ctx context.Context, id string) (*Session, error) {
	return decodeRedis(r.cli.GetDel(ctx, r.key(id)).Result())
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.cli.Del(ctx, r.key(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context) ([]*Session, error) {
	out := []*Session{}
	iter := r.cli.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), r.prefix)
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sortSessions(out)
	return out, nil
}

func (r *RedisStore) Close() error { return r.cli.Close() }
