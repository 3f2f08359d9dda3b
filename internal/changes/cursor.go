package changes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Cursor is a per-collection counter. Next must be atomic across every
// caller sharing the backend.
type Cursor interface {
	Current(ctx context.Context, collection string) (uint64, error)
	Next(ctx context.Context, collection string) (uint64, error)
}

// MemoryCursor keeps counters in process.
type MemoryCursor struct {
	mu  sync.Mutex
	seq map[string]uint64
}

func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{seq: make(map[string]uint64)}
}

func (c *MemoryCursor) Current(_ context.Context, collection string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq[collection], nil
}

func (c *MemoryCursor) Next(_ context.Context, collection string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq[collection]++
	return c.seq[collection], nil
}

// PGCursor stores counters in the changes_since_cursors table.
type PGCursor struct {
	db *sql.DB
}

func NewPGCursor(db *sql.DB) *PGCursor { return &PGCursor{db: db} }

func (c *PGCursor) Current(ctx context.Context, collection string) (uint64, error) {
	var v int64
	err := c.db.QueryRowContext(ctx, `select value from changes_since_cursors where collection = $1`, collection).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("changes: read cursor %s: %w", collection, err)
	}
	return uint64(v), nil
}

func (c *PGCursor) Next(ctx context.Context, collection string) (uint64, error) {
	var v int64
	err := c.db.QueryRowContext(ctx, `
		insert into changes_since_cursors (collection, value) values ($1, 1)
		on conflict (collection) do update set value = changes_since_cursors.value + 1
		returning value`, collection).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("changes: advance cursor %s: %w", collection, err)
	}
	return uint64(v), nil
}

// RedisCounter is the subset of the go-redis client used by RedisCursor.
type RedisCounter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RedisCursor keeps counters in redis, one INCR key per collection.
type RedisCursor struct {
	client RedisCounter
	prefix string
}

func NewRedisCursor(client RedisCounter, prefix string) *RedisCursor {
	if prefix == "" {
		prefix = "sif3:changes:"
	}
	return &RedisCursor{client: client, prefix: prefix}
}

func (c *RedisCursor) Current(ctx context.Context, collection string) (uint64, error) {
	raw, err := c.client.Get(ctx, c.prefix+collection).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("changes: read cursor %s: %w", collection, err)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("changes: cursor %s holds %q: %w", collection, raw, err)
	}
	return v, nil
}

func (c *RedisCursor) Next(ctx context.Context, collection string) (uint64, error) {
	v, err := c.client.Incr(ctx, c.prefix+collection).Result()
	if err != nil {
		return 0, fmt.Errorf("changes: advance cursor %s: %w", collection, err)
	}
	return uint64(v), nil
}

var (
	_ Cursor       = (*MemoryCursor)(nil)
	_ Cursor       = (*PGCursor)(nil)
	_ Cursor       = (*RedisCursor)(nil)
	_ RedisCounter = (*redis.Client)(nil)
)
