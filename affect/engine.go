package affect

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/metrics"
	"go.uber.org/zap"
)

// Option 引擎选项
type Option func(*Engine)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCollector 设置指标收集器
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// Engine 情绪引擎，进程级单例，持有唯一可变的情绪状态
type Engine struct {
	cfg       config.AffectConfig
	path      string
	analyzer  Analyzer
	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	state State
}

// NewEngine 创建引擎并加载状态文件。文件缺失或损坏时使用默认状态。
func NewEngine(cfg config.AffectConfig, path string, analyzer Analyzer, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		path:     path,
		analyzer: analyzer,
		logger:   logger.With(zap.String("component", "affect")),
		now:      time.Now,
		state:    DefaultState(),
	}
	for _, opt := range opts {
		opt(e)
	}

	switch s, err := LoadState(path); {
	case err == nil:
		e.state = s
		e.logger.Info("成功加载过往情绪状态",
			zap.Float64("valence", s.Valence),
			zap.Float64("arousal", s.Arousal),
			zap.String("mode", s.Mode.Label()))
	case errors.Is(err, os.ErrNotExist):
		e.logger.Info("情绪状态文件不存在，使用默认值初始化")
	default:
		e.logger.Warn("加载情绪状态失败，使用默认值", zap.Error(err))
	}
	return e
}

// Snapshot 返回当前状态副本
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() State {
	s := e.state
	if s.MeltdownStartTime != nil {
		t := *s.MeltdownStartTime
		s.MeltdownStartTime = &t
	}
	return s
}

// Directive 当前状态对应的情绪指令
func (e *Engine) Directive() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Directive(e.state.Valence, e.state.Arousal)
}

// Process 处理一条用户输入并返回情绪指令。
//
// 爆发与恢复期只推进时间，不调用分析器。分析失败时本轮 V/A 不变，
// 烦躁值按中性输入更新。
func (e *Engine) Process(ctx context.Context, text string) string {
	e.mu.Lock()
	e.advanceLocked(e.now())
	if e.state.Mode != ModeNormal {
		e.persistLocked()
		d := Directive(e.state.Valence, e.state.Arousal)
		e.mu.Unlock()
		return d
	}
	e.mu.Unlock()

	analysis := Neutral()
	failed := false
	if e.analyzer != nil {
		a, err := e.analyzer.Analyze(ctx, text)
		if err != nil {
			e.logger.Warn("情绪分析失败，本轮 V/A 不更新", zap.Error(err))
			failed = true
		} else {
			analysis = a
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Mode == ModeNormal {
		if failed {
			e.settleLocked(SentimentNeutral, 0, e.state.Valence, e.now())
		} else {
			e.applyLocked(analysis, e.now())
		}
	}
	e.persistLocked()
	return Directive(e.state.Valence, e.state.Arousal)
}

// Apply 直接应用一次分析结果（不调用分析器）
func (e *Engine) Apply(a Analysis) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.advanceLocked(now)
	if e.state.Mode == ModeNormal {
		e.applyLocked(a, now)
	}
	e.persistLocked()
	return e.snapshotLocked()
}

// Tick 在没有输入时推进爆发/恢复期，供定时任务调用
func (e *Engine) Tick(now time.Time) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Mode == ModeNormal {
		return e.snapshotLocked()
	}
	e.advanceLocked(now)
	e.persistLocked()
	return e.snapshotLocked()
}

// applyLocked Normal 模式下的一次更新
func (e *Engine) applyLocked(a Analysis, now time.Time) {
	s := &e.state
	vPrev := s.Valence

	impact := 0.0
	newV := s.Valence
	if a.Sentiment != SentimentNeutral {
		impact = Impact(a.Intensity)
		delta := impact
		if a.Sentiment == SentimentNegative {
			delta = -impact
		}
		newV = s.Valence + delta*Acceptance(s.Valence, impact)
	}

	newA := s.Arousal + a.ArousalImpact/10*Permission(s.Arousal) + Pull(e.cfg.EmotionProfileMatrix, newV, a.ArousalImpact)

	s.Valence = clamp(newV, -1, 1)
	s.Arousal = clamp(newA, 0, 1)
	e.settleLocked(a.Sentiment, impact, vPrev, now)

	e.logger.Debug("情绪状态更新",
		zap.String("sentiment", string(a.Sentiment)),
		zap.String("intention", a.Intention),
		zap.Float64("valence", s.Valence),
		zap.Float64("arousal", s.Arousal),
		zap.Float64("frustration", s.Latent.Frustration))
}

// settleLocked 更新潜在烦躁值，超过阈值时进入爆发期。vPrev 为本轮更新前的效价。
func (e *Engine) settleLocked(sentiment Sentiment, impact, vPrev float64, now time.Time) {
	s := &e.state
	f := e.cfg.FrustrationDecay * s.Latent.Frustration
	if sentiment == SentimentNegative {
		bonus := e.cfg.MaxMoodAmplification * math.Expm1(negValence(vPrev)) / (math.E - 1)
		f += gamma * impact * (1 + bonus)
	}
	f += eta * negValence(vPrev)
	s.Latent.Frustration = max(f, 0)

	if s.Latent.Frustration > e.cfg.FrustrationThreshold {
		e.logger.Warn("烦躁值超出阈值，触发情绪熔断", zap.Float64("frustration", s.Latent.Frustration))
		e.transitionLocked(ModeMeltdown)
		s.Valence, s.Arousal, s.Latent.Frustration = -1, 1, 0
		t := now
		s.MeltdownStartTime = &t
	}
}

// advanceLocked 按时间推进爆发/恢复期。爆发期在其结束时刻切换到恢复期，
// 恢复期从该时刻开始计时，因此单次调用可以跨越多个阶段。
func (e *Engine) advanceLocked(now time.Time) {
	s := &e.state
	for {
		switch s.Mode {
		case ModeMeltdown:
			start := *s.MeltdownStartTime
			limit := min(e.cfg.MeltdownDurationMinutes, meltdownCrossMinutes(e.cfg.TimeScale))
			end := start.Add(minutes(limit))
			if !now.Before(end) {
				e.transitionLocked(ModeRecovering)
				s.MeltdownStartTime = &end
				continue
			}
			d := meltdownDecay(now.Sub(start).Minutes(), e.cfg.TimeScale)
			s.Arousal, s.Valence = d, -d

		case ModeRecovering:
			elapsed := now.Sub(*s.MeltdownStartTime)
			if e.cfg.RecoveryDurationMinutes <= 0 || elapsed >= minutes(e.cfg.RecoveryDurationMinutes) {
				e.transitionLocked(ModeNormal)
				s.Valence, s.Arousal = 0, 0
				s.MeltdownStartTime = nil
			} else {
				progress := max(elapsed.Minutes(), 0) / e.cfg.RecoveryDurationMinutes
				s.Valence = recoverValence * (1 - progress)
				s.Arousal = recoverArousal * (1 - progress)
			}
		}
		return
	}
}

func (e *Engine) transitionLocked(to Mode) {
	from := e.state.Mode
	e.state.Mode = to
	e.collector.RecordAffectTransition(from.Label(), to.Label())
	e.logger.Info("情绪模式切换", zap.String("from", from.Label()), zap.String("to", to.Label()))
}

func (e *Engine) persistLocked() {
	s := e.state
	e.collector.RecordAffectState(s.Valence, s.Arousal, s.Latent.Frustration)
	if e.path == "" {
		return
	}
	if err := SaveState(e.path, s); err != nil {
		e.logger.Error("保存情绪状态失败", zap.Error(err))
	}
}

func minutes(m float64) time.Duration {
	if m <= 0 {
		return 0
	}
	if m > 1e8 {
		m = 1e8
	}
	return time.Duration(m * float64(time.Minute))
}
