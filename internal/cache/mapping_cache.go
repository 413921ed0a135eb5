package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/commissions/internal/commission/domain"
)

const defaultMappingTTL = 10 * time.Minute

// MappingCache stores reference snapshots read by the resolution engine.
// Snapshots are keyed by mapping kind; the branch registry uses MappingKindBranch.
type MappingCache interface {
	GetLabels(ctx context.Context, kind domain.MappingKind) ([]domain.MappingEntry, bool, error)
	SetLabels(ctx context.Context, kind domain.MappingKind, entries []domain.MappingEntry) error
	GetBranches(ctx context.Context) ([]domain.BranchEntry, bool, error)
	SetBranches(ctx context.Context, entries []domain.BranchEntry) error
	Invalidate(ctx context.Context, kind domain.MappingKind) error
}

type memoryMappingCache struct {
	labels   Cache[domain.MappingKind, []domain.MappingEntry]
	branches Cache[domain.MappingKind, []domain.BranchEntry]
	ttl      time.Duration
}

// NewMemoryMappingCache returns a process-local snapshot cache.
func NewMemoryMappingCache(ttl time.Duration) MappingCache {
	if ttl <= 0 {
		ttl = defaultMappingTTL
	}
	return &memoryMappingCache{
		labels:   NewTTLCache[domain.MappingKind, []domain.MappingEntry](),
		branches: NewTTLCache[domain.MappingKind, []domain.BranchEntry](),
		ttl:      ttl,
	}
}

func (c *memoryMappingCache) GetLabels(_ context.Context, kind domain.MappingKind) ([]domain.MappingEntry, bool, error) {
	entries, ok := c.labels.Get(kind)
	return entries, ok, nil
}

func (c *memoryMappingCache) SetLabels(_ context.Context, kind domain.MappingKind, entries []domain.MappingEntry) error {
	c.labels.Set(kind, append([]domain.MappingEntry(nil), entries...), c.ttl)
	return nil
}

func (c *memoryMappingCache) GetBranches(_ context.Context) ([]domain.BranchEntry, bool, error) {
	entries, ok := c.branches.Get(domain.MappingKindBranch)
	return entries, ok, nil
}

func (c *memoryMappingCache) SetBranches(_ context.Context, entries []domain.BranchEntry) error {
	c.branches.Set(domain.MappingKindBranch, append([]domain.BranchEntry(nil), entries...), c.ttl)
	return nil
}

func (c *memoryMappingCache) Invalidate(_ context.Context, kind domain.MappingKind) error {
	if kind == domain.MappingKindBranch {
		c.branches.Delete(kind)
		return nil
	}
	c.labels.Delete(kind)
	return nil
}

type redisMappingCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMappingCache shares snapshots across worker processes.
func NewRedisMappingCache(client *redis.Client, prefix string, ttl time.Duration) (MappingCache, error) {
	if client == nil {
		return nil, errors.New("redis mapping cache requires a client")
	}
	if ttl <= 0 {
		ttl = defaultMappingTTL
	}
	return &redisMappingCache{
		client: client,
		prefix: strings.TrimSpace(prefix),
		ttl:    ttl,
	}, nil
}

func (c *redisMappingCache) key(kind domain.MappingKind) string {
	return cacheKey(c.prefix, "mappings", string(kind))
}

func (c *redisMappingCache) GetLabels(ctx context.Context, kind domain.MappingKind) ([]domain.MappingEntry, bool, error) {
	var entries []domain.MappingEntry
	ok, err := c.get(ctx, c.key(kind), &entries)
	return entries, ok, err
}

func (c *redisMappingCache) SetLabels(ctx context.Context, kind domain.MappingKind, entries []domain.MappingEntry) error {
	return c.set(ctx, c.key(kind), entries)
}

func (c *redisMappingCache) GetBranches(ctx context.Context) ([]domain.BranchEntry, bool, error) {
	var entries []domain.BranchEntry
	ok, err := c.get(ctx, c.key(domain.MappingKindBranch), &entries)
	return entries, ok, err
}

func (c *redisMappingCache) SetBranches(ctx context.Context, entries []domain.BranchEntry) error {
	return c.set(ctx, c.key(domain.MappingKindBranch), entries)
}

func (c *redisMappingCache) Invalidate(ctx context.Context, kind domain.MappingKind) error {
	return c.client.Del(ctx, c.key(kind)).Err()
}

func (c *redisMappingCache) get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// A snapshot written by an incompatible build is treated as a miss.
		_ = c.client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (c *redisMappingCache) set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, ":")
}
