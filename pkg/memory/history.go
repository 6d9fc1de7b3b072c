// Package memory keeps the rolling chat transcript between a user and a
// companion in Redis sorted sets.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "companion:history:"

// Config configures the Redis-backed history.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires idle transcripts; zero keeps them forever.
	TTL time.Duration
}

// History stores ordered transcript lines per key. Each line is scored by a
// per-key sequence so lines written in the same instant keep their order.
type History struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis.
func New(cfg Config) (*History, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *History {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultPrefix
	}
	return &History{client: client, prefix: prefix, ttl: ttl}
}

// Key builds the transcript key for one user talking to one companion.
func Key(companionID, userID string) string {
	return companionID + ":" + userID
}

// Ping checks connectivity.
func (h *History) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// Close releases the client.
func (h *History) Close() error {
	return h.client.Close()
}

// SeedHistory writes the seed conversation when key has no transcript yet.
// The seed is split on delimiter and blank lines are dropped. It reports
// whether anything was written.
func (h *History) SeedHistory(ctx context.Context, key, seed, delimiter string) (bool, error) {
	n, err := h.client.Exists(ctx, h.listKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if delimiter == "" {
		delimiter = "\n"
	}
	written := false
	for _, line := range strings.Split(seed, delimiter) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := h.WriteHistory(ctx, key, line); err != nil {
			return written, err
		}
		written = true
	}
	return written, nil
}

// WriteHistory appends one line to the transcript.
func (h *History) WriteHistory(ctx context.Context, key, line string) error {
	seq, err := h.client.Incr(ctx, h.seqKey(key)).Result()
	if err != nil {
		return fmt.Errorf("next history seq: %w", err)
	}
	pipe := h.client.TxPipeline()
	pipe.ZAdd(ctx, h.listKey(key), redis.Z{
		Score:  float64(seq),
		Member: strconv.FormatInt(seq, 10) + ":" + line,
	})
	if h.ttl > 0 {
		pipe.Expire(ctx, h.listKey(key), h.ttl)
		pipe.Expire(ctx, h.seqKey(key), h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// ReadLatest returns up to n most recent lines in chronological order.
func (h *History) ReadLatest(ctx context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	members, err := h.client.ZRange(ctx, h.listKey(key), int64(-n), -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	lines := make([]string, 0, len(members))
	for _, m := range members {
		_, line, found := strings.Cut(m, ":")
		if !found {
			line = m
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Delete drops the transcript.
func (h *History) Delete(ctx context.Context, key string) error {
	if err := h.client.Del(ctx, h.listKey(key), h.seqKey(key)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (h *History) listKey(key string) string {
	return h.prefix + key
}

func (h *History) seqKey(key string) string {
	return h.prefix + key + ":seq"
}
