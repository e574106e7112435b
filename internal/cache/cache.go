// Package cache provides a Redis-backed snapshot cache for the read-mostly
// reference data (organizations, workflow nodes) that visibility filters
// are compiled from. The cache is an optimization only: every accessor
// degrades to a miss on any Redis failure.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pims/api/internal/store"
)

const (
	orgsKey      = "pims:orgs"
	workflowsKey = "pims:workflows"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) GetOrganizations(ctx context.Context) ([]store.Organization, bool) {
	var out []store.Organization
	return out, c.getJSON(ctx, orgsKey, &out)
}

func (c *Cache) SetOrganizations(ctx context.Context, orgs []store.Organization) {
	c.setJSON(ctx, orgsKey, orgs)
}

func (c *Cache) GetWorkflows(ctx context.Context) ([]store.Workflow, bool) {
	var out []store.Workflow
	return out, c.getJSON(ctx, workflowsKey, &out)
}

func (c *Cache) SetWorkflows(ctx context.Context, workflows []store.Workflow) {
	c.setJSON(ctx, workflowsKey, workflows)
}

// Invalidate drops both snapshots, forcing the next read through to the
// database.
func (c *Cache) Invalidate(ctx context.Context) {
	_ = c.client.Del(ctx, orgsKey, workflowsKey).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest any) bool {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false
	}
	return true
}

func (c *Cache) setJSON(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, raw, c.ttl).Err()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
