package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/moechat/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("audio cache is closed")

const keyPrefix = "moechat:tts:"

// =============================================================================
// 💾 音频缓存
// =============================================================================

// AudioCache stores synthesized audio in Redis.
type AudioCache struct {
	redis   *redis.Client
	config  Config
	metrics *metrics.Collector
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
}

// Config 缓存配置
type Config struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	PoolSize int           `yaml:"pool_size" json:"pool_size"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	// 单条音频超过该大小不缓存
	MaxEntryBytes int `yaml:"max_entry_bytes" json:"max_entry_bytes"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:          "localhost:6379",
		PoolSize:      10,
		TTL:           24 * time.Hour,
		MaxEntryBytes: 2 << 20,
	}
}

// NewAudioCache 创建音频缓存并测试连接
func NewAudioCache(config Config, collector *metrics.Collector, logger *zap.Logger) (*AudioCache, error) {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.MaxEntryBytes <= 0 {
		config.MaxEntryBytes = DefaultConfig().MaxEntryBytes
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("audio cache initialized",
		zap.String("addr", config.Addr),
		zap.Duration("ttl", config.TTL))

	return &AudioCache{
		redis:   client,
		config:  config,
		metrics: collector,
		logger:  logger.With(zap.String("component", "audio_cache")),
	}, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Key derives the cache key from every input that affects the synthesized audio.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns cached audio. Any Redis failure is reported as a miss.
func (c *AudioCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false
	}

	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("audio cache get failed", zap.String("key", key), zap.Error(err))
		}
		c.metrics.RecordCacheMiss("tts_audio")
		return nil, false
	}
	c.metrics.RecordCacheHit("tts_audio")
	return val, true
}

// Set stores audio under key with the configured TTL.
func (c *AudioCache) Set(ctx context.Context, key string, audio []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if len(audio) == 0 || len(audio) > c.config.MaxEntryBytes {
		return nil
	}

	if err := c.redis.Set(ctx, key, audio, c.config.TTL).Err(); err != nil {
		c.logger.Warn("audio cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("audio cache set failed: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *AudioCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return c.redis.Ping(ctx).Err()
}

// Close 关闭连接
func (c *AudioCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("audio cache closed")
	return c.redis.Close()
}
