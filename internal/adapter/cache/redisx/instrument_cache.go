// Package redisx provides a read-through Redis cache in front of the
// Postgres instrument reference set. The cache is advisory: any Redis
// failure falls through to the backing repository.
package redisx

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

const keyPrefix = "instrument:"

// InstrumentCache caches known instrument symbols. A cached key means the
// symbol is present in the reference set; absence means nothing.
type InstrumentCache struct {
	rdb   *redis.Client
	inner domain.InstrumentRepository
	ttl   time.Duration
}

// NewInstrumentCache wraps inner with a Redis read-through cache.
func NewInstrumentCache(rdb *redis.Client, inner domain.InstrumentRepository, ttl time.Duration) *InstrumentCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &InstrumentCache{rdb: rdb, inner: inner, ttl: ttl}
}

// FilterUnknown returns the symbols not present in the reference set,
// consulting the cache first. Symbols the backing store knows are cached;
// unknown symbols are never cached, so a classifier run is observed as
// soon as the store has the row.
func (c *InstrumentCache) FilterUnknown(ctx context.Context, symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	misses := symbols
	if cached, err := c.lookup(ctx, symbols); err != nil {
		slog.Warn("instrument cache lookup failed, falling through", slog.Any("error", err))
	} else {
		misses = make([]string, 0, len(symbols))
		for _, s := range symbols {
			if _, hit := cached[s]; !hit {
				misses = append(misses, s)
			}
		}
	}
	if len(misses) == 0 {
		return nil, nil
	}

	unknown, err := c.inner.FilterUnknown(ctx, misses)
	if err != nil {
		return nil, err
	}

	unknownSet := make(map[string]struct{}, len(unknown))
	for _, s := range unknown {
		unknownSet[s] = struct{}{}
	}
	var known []string
	for _, s := range misses {
		if _, ok := unknownSet[s]; !ok {
			known = append(known, s)
		}
	}
	if len(known) > 0 {
		if err := c.store(ctx, known); err != nil {
			slog.Warn("instrument cache store failed", slog.Any("error", err))
		}
	}
	return unknown, nil
}

func (c *InstrumentCache) lookup(ctx context.Context, symbols []string) (map[string]struct{}, error) {
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(symbols))
	for i, s := range symbols {
		cmds[i] = pipe.Get(ctx, keyPrefix+s)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	hits := map[string]struct{}{}
	for i, cmd := range cmds {
		if cmd.Err() == nil {
			hits[symbols[i]] = struct{}{}
		}
	}
	return hits, nil
}

func (c *InstrumentCache) store(ctx context.Context, symbols []string) error {
	pipe := c.rdb.Pipeline()
	for _, s := range symbols {
		pipe.Set(ctx, keyPrefix+s, "1", c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
