package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaydesk/relay/types"
)

// ErrContextMiss marks a lookup for a context that was never stored or has
// already expired.
var ErrContextMiss = errors.New("handoff context not cached")

// IsContextMiss reports whether err is a cache miss.
func IsContextMiss(err error) bool {
	return errors.Is(err, ErrContextMiss)
}

// HitRecorder receives cache lookup outcomes. monitor.MetricsCollector
// satisfies it.
type HitRecorder interface {
	RecordContextCache(hit bool)
}

// Config configures the context cache.
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// TTL is how long a stored context stays retrievable.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// KeyPrefix namespaces all cache keys.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// HealthCheckInterval drives the background ping loop; zero disables it.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig returns the default context cache configuration.
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DB:                  0,
		PoolSize:            10,
		MinIdleConns:        2,
		TTL:                 2 * time.Hour,
		KeyPrefix:           "relay:handoff:ctx",
		HealthCheckInterval: 30 * time.Second,
	}
}

// ContextCache is the Redis-backed store for enriched handoff contexts. It
// implements handoff.ContextCache.
type ContextCache struct {
	redis    *redis.Client
	config   Config
	recorder HitRecorder
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// New connects to Redis and returns a context cache.
func New(config Config, logger *zap.Logger) (*ContextCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TTL <= 0 {
		config.TTL = 2 * time.Hour
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "relay:handoff:ctx"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := &ContextCache{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "context_cache")),
	}

	if config.HealthCheckInterval > 0 {
		go c.healthCheckLoop()
	}

	c.logger.Info("context cache initialized",
		zap.String("addr", config.Addr),
		zap.Duration("ttl", config.TTL),
	)
	return c, nil
}

// WithHitRecorder installs a lookup-outcome recorder.
func (c *ContextCache) WithHitRecorder(r HitRecorder) *ContextCache {
	c.recorder = r
	return c
}

func (c *ContextCache) key(conversationID, targetAgent string) string {
	return fmt.Sprintf("%s:%s:%s", c.config.KeyPrefix, conversationID, targetAgent)
}

// StoreContext caches the context under (conversation, target agent) for the
// configured TTL.
func (c *ContextCache) StoreContext(ctx context.Context, hctx *types.EnrichedHandoffContext) error {
	if hctx == nil || hctx.ConversationID == "" || hctx.TargetAgent == "" {
		return errors.New("context missing conversation id or target agent")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("context cache is closed")
	}

	data, err := json.Marshal(hctx)
	if err != nil {
		return fmt.Errorf("failed to encode handoff context: %w", err)
	}

	key := c.key(hctx.ConversationID, hctx.TargetAgent)
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		c.logger.Error("context store failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("context store failed: %w", err)
	}

	c.logger.Debug("handoff context cached",
		zap.String("conversation_id", hctx.ConversationID),
		zap.String("target_agent", hctx.TargetAgent),
	)
	return nil
}

// LoadContext fetches a cached context. Misses return ErrContextMiss.
func (c *ContextCache) LoadContext(ctx context.Context, conversationID, targetAgent string) (*types.EnrichedHandoffContext, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, errors.New("context cache is closed")
	}

	key := c.key(conversationID, targetAgent)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.recordLookup(false)
		return nil, ErrContextMiss
	}
	if err != nil {
		c.logger.Error("context load failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("context load failed: %w", err)
	}

	var hctx types.EnrichedHandoffContext
	if err := json.Unmarshal(data, &hctx); err != nil {
		return nil, fmt.Errorf("failed to decode handoff context: %w", err)
	}
	c.recordLookup(true)
	return &hctx, nil
}

// Invalidate drops every cached context for a conversation.
func (c *ContextCache) Invalidate(ctx context.Context, conversationID string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("context cache is closed")
	}

	pattern := fmt.Sprintf("%s:%s:*", c.config.KeyPrefix, conversationID)
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("context scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

func (c *ContextCache) recordLookup(hit bool) {
	if c.recorder != nil {
		c.recorder.RecordContextCache(hit)
	}
}

// Ping checks the Redis connection.
func (c *ContextCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("context cache is closed")
	}
	return c.redis.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *ContextCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("closing context cache")
	return c.redis.Close()
}

func (c *ContextCache) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return
		}
		c.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Ping(ctx); err != nil {
			c.logger.Error("context cache health check failed", zap.Error(err))
		}
		cancel()
	}
}
