package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/BaSui01/moechat/types"
	"go.uber.org/zap"
)

// Policy 后端调用的重试策略。一轮对话的延迟预算很紧，默认只重试一次瞬时错误。
type Policy struct {
	// Backend 日志里的后端名：llm、embedding、stt、tts
	Backend      string
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter 在 ±25% 内随机，避免并发合成的句子同时重试
	Jitter bool
	// RetryIf 为空时只重试 types.IsRetryable 的错误（429、5xx、连接失败）
	RetryIf func(err error) bool
}

// DefaultPolicy 瞬时错误重试一次，200ms 起步
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   1,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Retryer 按策略重复执行
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
}

type backoff struct {
	policy Policy
	logger *zap.Logger
}

// For 指定后端的默认重试器，maxRetries 覆盖默认次数
func For(backend string, maxRetries int, logger *zap.Logger) Retryer {
	p := DefaultPolicy()
	p.Backend = backend
	p.MaxRetries = maxRetries
	return New(p, logger)
}

// New 指数退避重试器，非法参数回落到默认值
func New(p Policy, logger *zap.Logger) Retryer {
	def := DefaultPolicy()
	p.MaxRetries = max(p.MaxRetries, 0)
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.RetryIf == nil {
		p.RetryIf = types.IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoff{policy: p, logger: logger.With(zap.String("backend", p.Backend))}
}

// Do 执行 fn，可重试的错误按退避重来。返回最后一次的原始错误，
// 等待期间 ctx 结束则返回 ctx 的错误。
func (b *backoff) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 0 {
				b.logger.Info("backend recovered after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if attempt >= b.policy.MaxRetries || !b.policy.RetryIf(err) || ctx.Err() != nil {
			break
		}

		delay := b.delay(attempt + 1)
		b.logger.Debug("retrying backend call",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry %s: %w", b.policy.Backend, ctx.Err())
		case <-timer.C:
		}
	}
	if b.policy.MaxRetries > 0 && b.policy.RetryIf(err) {
		b.logger.Warn("backend retries exhausted", zap.Int("attempts", b.policy.MaxRetries+1), zap.Error(err))
	}
	return err
}

// delay 第 n 次重试前的等待：initial * multiplier^(n-1)，不超过 MaxDelay
func (b *backoff) delay(n int) time.Duration {
	d := float64(b.policy.InitialDelay) * math.Pow(b.policy.Multiplier, float64(n-1))
	d = math.Min(d, float64(b.policy.MaxDelay))
	if b.policy.Jitter {
		d += d * 0.25 * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, float64(b.policy.InitialDelay)))
}
