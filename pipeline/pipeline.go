package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/egress"
	"github.com/BaSui01/moechat/internal/cache"
	"github.com/BaSui01/moechat/internal/metrics"
	"github.com/BaSui01/moechat/internal/pool"
	"github.com/BaSui01/moechat/internal/telemetry"
	"github.com/BaSui01/moechat/llm"
	"github.com/BaSui01/moechat/llm/speech"
	"github.com/BaSui01/moechat/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AudioCache 合成结果缓存
type AudioCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, audio []byte) error
}

// Emitter 向客户端发送一帧，返回错误表示客户端已不可达
type Emitter func(ctx context.Context, f egress.Frame) error

// Result 一轮生成的结果
type Result struct {
	// Text 全部句子按序拼接，也是终止帧的 message
	Text      string
	Sentences int
	// Truncated 模型流中途出错，Text 不完整
	Truncated bool
}

// =============================================================================
// ⚙️ 选项
// =============================================================================

// Option 配置 Pipeline
type Option func(*Pipeline)

// WithPool 使用进程级 worker 池执行合成任务；未设置时每句一个 goroutine
func WithPool(p *pool.WorkerPool) Option {
	return func(pl *Pipeline) { pl.pool = p }
}

// WithCache 启用音频缓存。voice 标识默认音色配置，参与缓存键计算。
func WithCache(c AudioCache, voice string) Option {
	return func(pl *Pipeline) {
		pl.cache = c
		pl.voice = voice
	}
}

// WithRefAudio 设置情绪标签到参考音频的映射
func WithRefAudio(refs map[string]config.RefAudio) Option {
	return func(pl *Pipeline) { pl.refs = refs }
}

// WithTTSTimeout 单句合成超时
func WithTTSTimeout(d time.Duration) Option {
	return func(pl *Pipeline) { pl.ttsTimeout = d }
}

// WithCollector 设置指标收集器
func WithCollector(c *metrics.Collector) Option {
	return func(pl *Pipeline) { pl.metrics = c }
}

// =============================================================================
// 🎬 Pipeline
// =============================================================================

// Pipeline 大模型流 → 分句 → 并行合成 → 有序输出。可被多个会话共用。
type Pipeline struct {
	llm        llm.ChatClient
	tts        speech.Synthesizer
	pool       *pool.WorkerPool
	cache      AudioCache
	voice      string
	refs       map[string]config.RefAudio
	ttsTimeout time.Duration
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// New 创建生成管线
func New(client llm.ChatClient, tts speech.Synthesizer, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		llm:        client,
		tts:        tts,
		ttsTimeout: 30 * time.Second,
		logger:     logger.With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// refFor 标签对应的参考音频，未配置时返回 nil（使用默认参考）
func (p *Pipeline) refFor(tag string) *config.RefAudio {
	if tag == "" {
		return nil
	}
	if ref, ok := p.refs[tag]; ok {
		return &ref
	}
	return nil
}

// Run 执行一轮生成，按句子顺序调用 emit，最后发送终止帧。
//
// 模型流中途出错时仍会发送终止帧，返回的 Result.Truncated 为 true，错误码为 ErrFatalTurn；
// ctx 取消或 emit 失败时不再发送任何帧，错误码为 ErrCancelled。
func (p *Pipeline) Run(ctx context.Context, messages []llm.Message, emit Emitter) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run", attribute.Int("messages", len(messages)))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &turn{
		p:       p,
		ctx:     ctx,
		emit:    emit,
		results: make(chan slotResult, 16),
		start:   time.Now(),
	}
	res, err := t.run(messages)
	telemetry.EndSpan(span, err)
	return res, err
}

// turn 单轮生成的状态，只在 Run 的 goroutine 内修改
type turn struct {
	p       *Pipeline
	ctx     context.Context
	emit    Emitter
	results chan slotResult
	start   time.Time

	slots   int
	texts   []string
	order   reorder
	emitted int
}

func (t *turn) run(messages []llm.Message) (Result, error) {
	log := t.p.logger
	stream, err := t.p.llm.Stream(t.ctx, messages)
	if err != nil {
		if t.ctx.Err() != nil {
			return t.result(false), t.cancelled(t.ctx.Err())
		}
		log.Error("failed to open llm stream", zap.Error(err))
		if ferr := t.terminal(); ferr != nil {
			return t.result(true), ferr
		}
		return t.result(true), types.NewError(types.ErrFatalTurn, "llm stream failed").WithCause(err)
	}

	seg := NewSegmenter()
	var streamErr error
	for stream != nil {
		select {
		case <-t.ctx.Done():
			return t.result(false), t.cancelled(t.ctx.Err())
		case chunk, ok := <-stream:
			if !ok {
				stream = nil
				continue
			}
			if chunk.Err != nil {
				streamErr = chunk.Err
				stream = nil
				continue
			}
			for _, s := range seg.Push(chunk.Delta) {
				if err := t.dispatch(s); err != nil {
					return t.result(false), err
				}
			}
		case r := <-t.results:
			if err := t.accept(r); err != nil {
				return t.result(false), err
			}
		}
	}
	if t.ctx.Err() != nil {
		return t.result(false), t.cancelled(t.ctx.Err())
	}
	if streamErr != nil {
		log.Warn("llm stream broken, truncating turn",
			zap.Int("sentences", t.slots), zap.Error(streamErr))
	}

	for _, s := range seg.Flush() {
		if err := t.dispatch(s); err != nil {
			return t.result(false), err
		}
	}
	for t.order.next < t.slots {
		select {
		case <-t.ctx.Done():
			return t.result(false), t.cancelled(t.ctx.Err())
		case r := <-t.results:
			if err := t.accept(r); err != nil {
				return t.result(false), err
			}
		}
	}

	truncated := streamErr != nil
	if err := t.terminal(); err != nil {
		return t.result(truncated), err
	}
	if truncated {
		return t.result(true), types.NewError(types.ErrFatalTurn, "llm stream broken mid-turn").WithCause(streamErr)
	}
	log.Debug("turn generated", zap.Int("sentences", t.slots), zap.Duration("elapsed", time.Since(t.start)))
	return t.result(false), nil
}

func (t *turn) result(truncated bool) Result {
	return Result{
		Text:      strings.Join(t.texts, ""),
		Sentences: t.slots,
		Truncated: truncated,
	}
}

func (t *turn) cancelled(cause error) error {
	return types.NewError(types.ErrCancelled, "turn cancelled").WithCause(cause)
}

// dispatch 为句子分配槽位并安排合成
func (t *turn) dispatch(s Sentence) error {
	slot := t.slots
	t.slots++
	t.texts = append(t.texts, s.Sep+s.Text)
	p := t.p

	text := CleanForTTS(s.Text)
	if text == "" {
		return t.accept(slotResult{slot: slot, sentence: s, outcome: outcomeSkipped})
	}
	ref := p.refFor(s.Tag)

	var key string
	if p.cache != nil {
		key = p.cacheKey(text, ref)
		if audio, ok := p.cache.Get(t.ctx, key); ok {
			return t.accept(slotResult{slot: slot, sentence: s, audio: audio, outcome: outcomeCached})
		}
	}

	task := func(ctx context.Context) error {
		r, err := t.synthesize(ctx, slot, s, text, ref, key)
		select {
		case t.results <- r:
		case <-ctx.Done():
		}
		return err
	}
	if p.pool == nil {
		go task(t.ctx)
		return nil
	}
	if err := p.pool.Submit(t.ctx, task); err != nil {
		p.logger.Warn("tts queue rejected sentence", zap.Int("slot", slot), zap.Error(err))
		return t.accept(slotResult{slot: slot, sentence: s, outcome: outcomeRejected})
	}
	return nil
}

// synthesize 在 worker 中执行，只读 turn 的不可变字段
func (t *turn) synthesize(ctx context.Context, slot int, s Sentence, text string, ref *config.RefAudio, key string) (slotResult, error) {
	p := t.p
	ctx, span := telemetry.StartSpan(ctx, "pipeline.tts", attribute.Int("slot", slot))
	callCtx := ctx
	if p.ttsTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.ttsTimeout)
		defer cancel()
	}

	audio, err := p.tts.Synthesize(callCtx, text, ref)
	telemetry.EndSpan(span, err)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("sentence synthesis failed", zap.Int("slot", slot), zap.String("text", text), zap.Error(err))
		}
		return slotResult{slot: slot, sentence: s, outcome: outcomeFailed}, err
	}
	if p.cache != nil && key != "" {
		_ = p.cache.Set(ctx, key, audio)
	}
	return slotResult{slot: slot, sentence: s, audio: audio, outcome: outcomeOK}, nil
}

func (p *Pipeline) cacheKey(text string, ref *config.RefAudio) string {
	if ref == nil {
		return cache.Key(p.voice, text)
	}
	return cache.Key(p.voice, ref.Audio, ref.Text, text)
}

// accept 收下一个结果并放行所有已就绪的帧
func (t *turn) accept(r slotResult) error {
	t.order.add(r)
	for {
		next, ok := t.order.ready()
		if !ok {
			return nil
		}
		if err := t.send(egress.Frame{
			Message: next.sentence.Text,
			Audio:   next.audio,
			Tag:     next.sentence.Tag,
		}); err != nil {
			return err
		}
		t.p.metrics.RecordSentence(next.outcome)
	}
}

func (t *turn) terminal() error {
	return t.send(egress.Frame{Done: true, Message: strings.Join(t.texts, "")})
}

func (t *turn) send(f egress.Frame) error {
	if err := t.ctx.Err(); err != nil {
		return t.cancelled(err)
	}
	if err := t.emit(t.ctx, f); err != nil {
		return types.NewError(types.ErrCancelled, "client unreachable").WithCause(err)
	}
	if t.emitted == 0 {
		t.p.metrics.RecordFirstFrame(time.Since(t.start))
	}
	t.emitted++
	return nil
}
