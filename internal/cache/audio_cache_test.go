package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 AudioCache 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *AudioCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := NewAudioCache(Config{Addr: mr.Addr(), TTL: time.Minute}, nil, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		mr.Close()
	})
	return mr, c
}

func TestAudioCache_SetAndGet(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	key := Key("你好。", "ref.wav", "参考文本", "zh")
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	audio := []byte{'R', 'I', 'F', 'F', 0, 1, 2, 3}
	require.NoError(t, c.Set(ctx, key, audio))

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, audio, got)

	// TTL 过期
	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
}

func TestAudioCache_SkipsOversizedAndEmpty(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := NewAudioCache(Config{Addr: mr.Addr(), MaxEntryBytes: 4}, nil, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "big", []byte("12345")))
	require.NoError(t, c.Set(ctx, "empty", nil))

	assert.False(t, mr.Exists("big"))
	assert.False(t, mr.Exists("empty"))
}

func TestAudioCache_RedisDownIsMiss(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c, err := NewAudioCache(Config{Addr: mr.Addr()}, nil, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	mr.Close()

	_, ok := c.Get(context.Background(), Key("x"))
	assert.False(t, ok)
}

func TestAudioCache_Closed(t *testing.T) {
	_, c := setupTestRedis(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Set(context.Background(), "k", []byte("v")), ErrClosed)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrClosed)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestKey_DistinguishesParts(t *testing.T) {
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.Contains(t, Key("a"), keyPrefix)
}

func TestNewAudioCache_ConnectFailure(t *testing.T) {
	_, err := NewAudioCache(Config{Addr: "127.0.0.1:1"}, nil, zap.NewNop())
	assert.Error(t, err)
}
