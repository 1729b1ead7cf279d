package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/metrics"
	"github.com/BaSui01/moechat/internal/telemetry"
	"github.com/BaSui01/moechat/llm"
	"github.com/BaSui01/moechat/memory/episodic"
	"github.com/BaSui01/moechat/pipeline"
	"github.com/BaSui01/moechat/prompt"
	"github.com/BaSui01/moechat/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSessionID 请求未携带会话标识时使用
const DefaultSessionID = "default"

// 轮次状态
const (
	StatusOK        = "ok"
	StatusTruncated = "truncated"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

const writebackTimeout = 2 * time.Minute

// =============================================================================
// 🔌 依赖接口
// =============================================================================

// EpisodicStore 日记存储
type EpisodicStore interface {
	Query(ctx context.Context, userText string, now time.Time) (string, error)
	Append(ctx context.Context, e episodic.Entry) (int64, error)
}

// FactStore 核心记忆存储
type FactStore interface {
	Query(ctx context.Context, userText string) (string, error)
	Add(ctx context.Context, facts []string) error
	Facts() []string
}

// KnowledgeStore 世界书
type KnowledgeStore interface {
	Query(ctx context.Context, userText string) (string, error)
}

// AffectEngine 情绪引擎，返回本轮的情绪指令
type AffectEngine interface {
	Process(ctx context.Context, text string) string
}

// Generator 流式生成一轮回复
type Generator interface {
	Run(ctx context.Context, messages []llm.Message, emit pipeline.Emitter) (pipeline.Result, error)
}

// Deps 编排器依赖。存储与情绪引擎可为 nil，表示对应功能关闭。
type Deps struct {
	Composer  *prompt.Composer
	Generator Generator
	// Aux 用于主题标签与核心记忆提取的非流式调用
	Aux       llm.ChatClient
	Episodic  EpisodicStore
	Facts     FactStore
	Knowledge KnowledgeStore
	Affect    AffectEngine
}

// Option 配置 Orchestrator
type Option func(*Orchestrator)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithCollector 设置指标采集器
func WithCollector(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithHistoryPath 设置历史文件路径；为空时仅保存在内存中
func WithHistoryPath(path string) Option {
	return func(o *Orchestrator) { o.historyPath = path }
}

// =============================================================================
// 🎬 Orchestrator
// =============================================================================

// Orchestrator 按会话编排对话轮次
type Orchestrator struct {
	deps      Deps
	composer  atomic.Pointer[prompt.Composer]
	cfg       config.AgentConfig
	logger    *zap.Logger
	collector *metrics.Collector
	otlp      *telemetry.TurnInstruments
	now       func() time.Time

	historyPath string
	mu          sync.Mutex
	sessions    map[string]*session
	dirty       bool
	saveMu      sync.Mutex

	// inflight 在途轮次与后台回写；Add 与 closed 检查在 mu 下进行
	inflight sync.WaitGroup
	closed   bool
}

type session struct {
	// turnMu 串行化同一会话的轮次
	turnMu sync.Mutex
	// wbMu 串行化同一会话的记忆回写
	wbMu sync.Mutex

	history []types.Message
	turns   int
	// started 历史是否已建立（来自文件、客户端或开场白）
	started bool
}

// New 创建编排器并加载历史文件
func New(cfg config.AgentConfig, deps Deps, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FactEveryNTurns <= 0 {
		cfg.FactEveryNTurns = 5
	}
	if cfg.FactMinChars <= 0 {
		cfg.FactMinChars = 60
	}
	o := &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "orchestrator")),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.composer.Store(deps.Composer)

	inst, err := telemetry.NewTurnInstruments()
	if err != nil {
		o.logger.Warn("otel turn instruments unavailable", zap.Error(err))
	}
	o.otlp = inst

	if o.historyPath != "" {
		all, err := loadHistory(o.historyPath)
		if err != nil {
			return nil, types.NewError(types.ErrPersistence, "load history").WithCause(err)
		}
		for id, msgs := range all {
			o.sessions[id] = &session{history: trimHistory(msgs, cfg.ContextLength), started: true}
		}
		o.logger.Info("history loaded", zap.Int("sessions", len(all)), zap.String("path", o.historyPath))
	}
	return o, nil
}

// SetComposer 热更新人设（配置重载时调用）
func (o *Orchestrator) SetComposer(c *prompt.Composer) {
	if c != nil {
		o.composer.Store(c)
	}
}

func (o *Orchestrator) session(id string) *session {
	if id == "" {
		id = DefaultSessionID
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		s = &session{}
		o.sessions[id] = s
	}
	return s
}

// Chat 执行一轮对话。msgs 的最后一条必须是本轮用户输入，
// 之前的消息仅在会话尚无历史时用于建立历史。
func (o *Orchestrator) Chat(ctx context.Context, sessionID string, msgs []types.Message, emit pipeline.Emitter) (pipeline.Result, error) {
	if !o.begin() {
		return pipeline.Result{}, types.NewError(types.ErrServiceUnavailable, "orchestrator is shutting down")
	}
	defer o.inflight.Done()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != types.RoleUser {
		return pipeline.Result{}, types.NewInvalidRequestError("last message must be a user turn")
	}
	userText := strings.TrimSpace(msgs[len(msgs)-1].Content)
	if userText == "" {
		return pipeline.Result{}, types.NewInvalidRequestError("user message is empty")
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	s := o.session(sessionID)
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	start := o.now()
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.chat", attribute.String("session", sessionID))

	o.mu.Lock()
	if !s.started {
		s.history = o.bootstrap(msgs[:len(msgs)-1])
		s.started = true
	}
	history := append([]types.Message(nil), s.history...)
	o.mu.Unlock()

	var directive string
	if o.deps.Affect != nil {
		directive = o.deps.Affect.Process(ctx, userText)
	}
	sections := o.retrieve(ctx, userText, start)
	sections.Affect = directive

	messages := o.composer.Load().Compose(start, history, userText, sections)
	result, err := o.deps.Generator.Run(ctx, messages, emit)

	status := StatusOK
	switch {
	case err == nil:
	case types.IsErrorCode(err, types.ErrCancelled):
		status = StatusCancelled
	case result.Truncated || types.IsErrorCode(err, types.ErrFatalTurn):
		status = StatusTruncated
	default:
		status = StatusError
	}
	elapsed := o.now().Sub(start)
	if o.collector != nil {
		o.collector.RecordTurn(status, elapsed)
	}
	o.otlp.RecordTurn(ctx, status, elapsed)
	telemetry.EndSpan(span, err)
	if err != nil {
		o.logger.Warn("turn not committed",
			zap.String("session", sessionID),
			zap.String("status", status),
			zap.Error(err))
		return result, err
	}

	prevAssistant := lastAssistant(history)
	assistant := stripMarkup(result.Text)
	o.commit(sessionID, s, userText, assistant)
	o.writeback(s, start, prevAssistant, userText, assistant)
	return result, nil
}

// bootstrap 从客户端历史或开场白建立会话历史
func (o *Orchestrator) bootstrap(prior []types.Message) []types.Message {
	var hist []types.Message
	for _, m := range prior {
		if m.Role == types.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		hist = append(hist, m)
	}
	if err := types.ValidateHistory(hist); err != nil {
		o.logger.Warn("client history ignored", zap.Error(err))
		hist = nil
	}
	if len(hist) == 0 {
		for i, text := range o.cfg.StartWith {
			if i%2 == 0 {
				hist = append(hist, types.NewUserMessage(text))
			} else {
				hist = append(hist, types.NewAssistantMessage(text))
			}
		}
	}
	return trimHistory(hist, o.cfg.ContextLength)
}

// =============================================================================
// 🔍 并行检索
// =============================================================================

// retrieve 并行查询三个存储；单个存储失败只记录日志，对应段落为空
func (o *Orchestrator) retrieve(ctx context.Context, userText string, now time.Time) prompt.Sections {
	var (
		sections prompt.Sections
		g        errgroup.Group
	)
	query := func(name string, dst *string, fn func(context.Context) (string, error)) {
		g.Go(func() error {
			ctx, span := telemetry.StartSpan(ctx, "orchestrator.retrieve", attribute.String("store", name))
			begin := time.Now()
			out, err := fn(ctx)
			telemetry.EndSpan(span, err)
			took := time.Since(begin)
			if o.collector != nil {
				o.collector.RecordRetrieval(name, err, took)
			}
			o.otlp.RecordRetrieval(ctx, name, err, took)
			if err != nil {
				o.logger.Warn("retrieval failed", zap.String("store", name), zap.Error(err))
				return nil
			}
			*dst = out
			return nil
		})
	}

	if o.deps.Facts != nil {
		query("core_facts", &sections.CoreFacts, func(ctx context.Context) (string, error) {
			return o.deps.Facts.Query(ctx, userText)
		})
	}
	if o.deps.Episodic != nil {
		query("episodic", &sections.Episodic, func(ctx context.Context) (string, error) {
			return o.deps.Episodic.Query(ctx, userText, now)
		})
	}
	if o.deps.Knowledge != nil {
		query("knowledge", &sections.Knowledge, func(ctx context.Context) (string, error) {
			return o.deps.Knowledge.Query(ctx, userText)
		})
	}
	_ = g.Wait()
	return sections
}

// =============================================================================
// 💾 历史
// =============================================================================

var markupRe = regexp.MustCompile(`<.*?>`)

// stripMarkup 去除回复中的 <...> 标记后写入历史
func stripMarkup(text string) string {
	return strings.TrimSpace(markupRe.ReplaceAllString(text, ""))
}

func lastAssistant(history []types.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == types.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

func (o *Orchestrator) commit(id string, s *session, userText, assistant string) {
	o.mu.Lock()
	s.history = append(s.history, types.NewUserMessage(userText), types.NewAssistantMessage(assistant))
	s.history = trimHistory(s.history, o.cfg.ContextLength)
	s.turns++
	o.dirty = true
	o.mu.Unlock()

	if err := o.Flush(); err != nil {
		o.logger.Warn("history not persisted, will retry on next flush",
			zap.String("session", id), zap.Error(err))
	}
}

// History 返回会话当前历史的副本
func (o *Orchestrator) History(sessionID string) []types.Message {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]types.Message(nil), s.history...)
}

// Flush 将有变更的历史写入文件
func (o *Orchestrator) Flush() error {
	if o.historyPath == "" {
		return nil
	}
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	o.mu.Lock()
	if !o.dirty {
		o.mu.Unlock()
		return nil
	}
	snapshot := make(map[string][]types.Message, len(o.sessions))
	for id, s := range o.sessions {
		if len(s.history) > 0 {
			snapshot[id] = append([]types.Message(nil), s.history...)
		}
	}
	o.dirty = false
	o.mu.Unlock()

	if err := saveHistory(o.historyPath, snapshot); err != nil {
		o.mu.Lock()
		o.dirty = true
		o.mu.Unlock()
		return types.NewError(types.ErrPersistence, "save history").WithCause(err)
	}
	return nil
}

// =============================================================================
// 📝 记忆回写
// =============================================================================

// writeback 在后台生成主题标签写入日记，并按规则提取核心记忆
func (o *Orchestrator) writeback(s *session, at time.Time, prevAssistant, userText, assistant string) {
	o.mu.Lock()
	turn := s.turns
	o.mu.Unlock()

	// 调用方是在途轮次，计数不为零，这里的 Add 不会与 Shutdown 的 Wait 竞争
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		s.wbMu.Lock()
		defer s.wbMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), writebackTimeout)
		defer cancel()

		if o.deps.Episodic != nil {
			tag := o.tag(ctx, userText)
			entry := episodic.Entry{Time: at, Tag: tag, User: userText, Assistant: assistant}
			if _, err := o.deps.Episodic.Append(ctx, entry); err != nil {
				o.logger.Warn("episodic append failed", zap.Error(err))
			}
		}
		if o.deps.Facts != nil && o.cfg.CoreMemory && o.shouldExtractFacts(turn, userText, assistant) {
			o.extractFacts(ctx, prevAssistant, userText, assistant)
		}
	}()
}

func (o *Orchestrator) tag(ctx context.Context, userText string) string {
	if o.deps.Aux == nil {
		return prompt.DefaultTag
	}
	reply, err := o.deps.Aux.Complete(ctx, []llm.Message{
		types.NewSystemMessage(prompt.TagPrompt),
		types.NewUserMessage(userText),
	}, llm.WithTemperature(0))
	if err != nil {
		o.logger.Warn("tag extraction failed, using default", zap.Error(err))
		return prompt.DefaultTag
	}
	return prompt.CleanTag(reply)
}

// factMarkers 用户显式要求记住时立即提取
var factMarkers = []string{"记住", "remember"}

// shouldExtractFacts 提取触发规则只取决于输入：显式标记、对话长度或轮次
func (o *Orchestrator) shouldExtractFacts(turn int, userText, assistant string) bool {
	lower := strings.ToLower(userText)
	for _, m := range factMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	if utf8.RuneCountInString(userText)+utf8.RuneCountInString(assistant) >= o.cfg.FactMinChars {
		return true
	}
	return turn > 0 && turn%o.cfg.FactEveryNTurns == 0
}

func (o *Orchestrator) extractFacts(ctx context.Context, prevAssistant, userText, assistant string) {
	if o.deps.Aux == nil {
		return
	}
	reply, err := o.deps.Aux.Complete(ctx, []llm.Message{
		types.NewSystemMessage(prompt.FactPrompt(o.deps.Facts.Facts())),
		types.NewUserMessage(prompt.FactDialogue(prevAssistant, userText, assistant)),
	}, llm.WithTemperature(0))
	if err != nil {
		o.logger.Warn("fact extraction failed", zap.Error(err))
		return
	}
	facts, err := prompt.ParseFactList(reply)
	if err != nil {
		o.logger.Warn("fact list unparsable", zap.Error(err))
		return
	}
	if len(facts) == 0 {
		return
	}
	if err := o.deps.Facts.Add(ctx, facts); err != nil {
		o.logger.Warn("core facts add failed", zap.Error(err))
		return
	}
	o.logger.Info("core facts added", zap.Int("count", len(facts)))
}

// begin 登记一个在途轮次；已关闭时返回 false
func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.inflight.Add(1)
	return true
}

// Wait 等待所有在途轮次与回写完成
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// Shutdown 拒绝新轮次，等待在途轮次与回写完成并保存历史
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("shutdown before in-flight turns finished")
		_ = o.Flush()
		return ctx.Err()
	}
	return o.Flush()
}
