package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rcliao/comic-survey/internal/model"
)

// RedisStore implements Backend on Redis. Conditional writes use WATCH on the
// version key followed by a MULTI/EXEC pipeline.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisStore connects to addr and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreFromClient(rdb, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *goredis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) countsKey(ns string) string  { return r.prefix + "counts:" + ns }
func (r *RedisStore) versionKey(ns string) string { return r.prefix + "counts:" + ns + ":version" }
func (r *RedisStore) objectKey(key string) string { return r.prefix + "obj:" + key }

func (r *RedisStore) LoadCounts(ctx context.Context, ns string) (Counts, int64, error) {
	var verCmd *goredis.StringCmd
	var hashCmd *goredis.MapStringStringCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		verCmd = pipe.Get(ctx, r.versionKey(ns))
		hashCmd = pipe.HGetAll(ctx, r.countsKey(ns))
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, 0, fmt.Errorf("load counts: %w", err)
	}

	version, err := verCmd.Int64()
	if errors.Is(err, goredis.Nil) {
		return Counts{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("parse counter version: %w", err)
	}

	counts := Counts{}
	for g, raw := range hashCmd.Val() {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("parse count %s=%q: %w", g, raw, err)
		}
		counts[model.Group(g)] = n
	}
	return counts, version, nil
}

func (r *RedisStore) SaveCounts(ctx context.Context, ns string, counts Counts, version int64) error {
	verKey, hashKey := r.versionKey(ns), r.countsKey(ns)

	err := r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if cur != version {
			return ErrVersionConflict
		}

		fields := make([]interface{}, 0, 2*len(counts))
		for g, n := range counts {
			fields = append(fields, string(g), n)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, verKey, version+1, 0)
			pipe.Del(ctx, hashKey)
			if len(fields) > 0 {
				pipe.HSet(ctx, hashKey, fields...)
			}
			return nil
		})
		return err
	}, verKey)

	if errors.Is(err, goredis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

func (r *RedisStore) Fetch(ctx context.Context, key string) (*Object, error) {
	vals, err := r.rdb.HGetAll(ctx, r.objectKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	version, err := strconv.ParseInt(vals["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse version of %s: %w", key, err)
	}
	return &Object{Key: key, Content: []byte(vals["content"]), Version: version}, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, content []byte, version int64) (int64, error) {
	objKey := r.objectKey(key)
	next := version + 1

	err := r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.HGet(ctx, objKey, "version").Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if cur != version {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, objKey, "content", content, "version", next)
			return nil
		})
		return err
	}, objKey)

	if errors.Is(err, goredis.TxFailedErr) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
