package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/egress"
	"github.com/BaSui01/moechat/llm"
	"github.com/BaSui01/moechat/memory/episodic"
	"github.com/BaSui01/moechat/pipeline"
	"github.com/BaSui01/moechat/prompt"
	"github.com/BaSui01/moechat/testutil"
	"github.com/BaSui01/moechat/testutil/fixtures"
	"github.com/BaSui01/moechat/testutil/mocks"
	"github.com/BaSui01/moechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试替身
// =============================================================================

type fakeEpisodic struct {
	mu      sync.Mutex
	entries []episodic.Entry
	result  string
	err     error
}

func (f *fakeEpisodic) Query(_ context.Context, _ string, _ time.Time) (string, error) {
	return f.result, f.err
}

func (f *fakeEpisodic) Append(_ context.Context, e episodic.Entry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return e.Time.Unix(), nil
}

func (f *fakeEpisodic) Entries() []episodic.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]episodic.Entry(nil), f.entries...)
}

type fakeFacts struct {
	mu     sync.Mutex
	facts  []string
	result string
}

func (f *fakeFacts) Query(context.Context, string) (string, error) { return f.result, nil }

func (f *fakeFacts) Add(_ context.Context, facts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts = append(f.facts, facts...)
	return nil
}

func (f *fakeFacts) Facts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.facts...)
}

type staticKnowledge string

func (k staticKnowledge) Query(context.Context, string) (string, error) { return string(k), nil }

type staticAffect string

func (a staticAffect) Process(context.Context, string) string { return string(a) }

// slowGenerator 记录同时运行的轮次数
type slowGenerator struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
}

func (g *slowGenerator) Run(ctx context.Context, _ []llm.Message, emit pipeline.Emitter) (pipeline.Result, error) {
	n := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(g.delay)
	if err := emit(ctx, egress.Frame{Done: true, Message: "好"}); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{Text: "好", Sentences: 1}, nil
}

// gatedGenerator 在 release 关闭前阻塞
type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedGenerator) Run(ctx context.Context, _ []llm.Message, emit pipeline.Emitter) (pipeline.Result, error) {
	close(g.started)
	<-g.release
	if err := emit(ctx, egress.Frame{Done: true, Message: "好"}); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{Text: "好", Sentences: 1}, nil
}

type sink struct {
	mu     sync.Mutex
	frames []egress.Frame
}

func (s *sink) emit(_ context.Context, f egress.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *sink) all() []egress.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]egress.Frame(nil), s.frames...)
}

const factSystemPrefix = "你是一个记忆整理助手"

// auxClient 主题提取返回 tag，核心记忆提取返回 facts
func auxClient(tag, facts string) *mocks.MockChatClient {
	return mocks.NewMockChatClient().WithCompleteFunc(func(_ context.Context, msgs []llm.Message) (string, error) {
		if strings.HasPrefix(msgs[0].Content, factSystemPrefix) {
			return facts, nil
		}
		return tag, nil
	})
}

type harness struct {
	orch     *Orchestrator
	chat     *mocks.MockChatClient
	aux      *mocks.MockChatClient
	episodic *fakeEpisodic
	facts    *fakeFacts
	path     string
}

func newHarness(t *testing.T, chat, aux *mocks.MockChatClient, mutate func(*Deps)) *harness {
	t.Helper()
	cfg := fixtures.AgentConfig()
	return newHarnessWithConfig(t, cfg, chat, aux, mutate)
}

func newHarnessWithConfig(t *testing.T, cfg config.AgentConfig, chat, aux *mocks.MockChatClient, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		chat:     chat,
		aux:      aux,
		episodic: &fakeEpisodic{},
		facts:    &fakeFacts{},
		path:     filepath.Join(t.TempDir(), HistoryFile),
	}
	deps := Deps{
		Composer:  prompt.NewComposer(cfg, nil),
		Generator: pipeline.New(chat, mocks.NewMockSynthesizer(), zap.NewNop()),
		Aux:       aux,
		Episodic:  h.episodic,
		Facts:     h.facts,
	}
	if mutate != nil {
		mutate(&deps)
	}
	orch, err := New(cfg, deps, zap.NewNop(),
		WithHistoryPath(h.path),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 20, 0, 0, 0, time.Local) }))
	require.NoError(t, err)
	h.orch = orch
	return h
}

func userTurn(text string) []types.Message {
	return []types.Message{types.NewUserMessage(text)}
}

// =============================================================================
// 🎬 场景
// =============================================================================

func TestChat_StreamsAndCommits(t *testing.T) {
	ctx := testutil.TestContext(t)
	h := newHarness(t,
		mocks.NewMockChatClient().WithStreamChunks("今天", "天气很好。"),
		auxClient("主题：天气", "[]"), nil)

	out := &sink{}
	res, err := h.orch.Chat(ctx, "s1", userTurn("今天天气怎么样"), out.emit)
	require.NoError(t, err)
	assert.Equal(t, "今天天气很好。", res.Text)

	frames := out.all()
	require.Len(t, frames, 2)
	assert.Equal(t, "今天天气很好。", frames[0].Message)
	assert.True(t, frames[1].Done)

	assert.Equal(t, []types.Message{
		types.NewUserMessage("今天天气怎么样"),
		types.NewAssistantMessage("今天天气很好。"),
	}, h.orch.History("s1"))

	h.orch.Wait()
	entries := h.episodic.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "天气", entries[0].Tag)
	assert.Equal(t, "今天天气怎么样", entries[0].User)
	assert.Equal(t, "今天天气很好。", entries[0].Assistant)

	// 重新加载历史文件
	reloaded, err := New(fixtures.AgentConfig(), Deps{Composer: prompt.NewComposer(fixtures.AgentConfig(), nil)},
		zap.NewNop(), WithHistoryPath(h.path))
	require.NoError(t, err)
	assert.Equal(t, h.orch.History("s1"), reloaded.History("s1"))
}

func TestChat_TagFallback(t *testing.T) {
	ctx := testutil.TestContext(t)
	h := newHarness(t,
		mocks.NewMockChatClient().WithStreamChunks("嗯。"),
		mocks.NewMockChatClient().WithCompleteError(errors.New("llm down")), nil)

	_, err := h.orch.Chat(ctx, "", userTurn("随便聊聊"), (&sink{}).emit)
	require.NoError(t, err)
	h.orch.Wait()

	entries := h.episodic.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, prompt.DefaultTag, entries[0].Tag)
	assert.NotEmpty(t, h.orch.History(DefaultSessionID))
}

func TestChat_TruncatedTurnNotCommitted(t *testing.T) {
	ctx := testutil.TestContext(t)
	h := newHarness(t,
		mocks.NewMockChatClient().WithStreamChunks("说到一半。", "然后").WithMidStreamError(errors.New("reset")),
		auxClient("主题", "[]"), nil)

	out := &sink{}
	res, err := h.orch.Chat(ctx, "s1", userTurn("讲个故事"), out.emit)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrFatalTurn))
	assert.True(t, res.Truncated)

	frames := out.all()
	require.NotEmpty(t, frames)
	assert.True(t, frames[len(frames)-1].Done)

	h.orch.Wait()
	assert.Empty(t, h.orch.History("s1"))
	assert.Empty(t, h.episodic.Entries())
	assert.Empty(t, h.aux.CompleteCalls())
}

func TestChat_CancelledTurnNotCommitted(t *testing.T) {
	h := newHarness(t,
		mocks.NewMockChatClient().WithStreamChunks("一。", "二。").WithChunkDelay(50*time.Millisecond),
		auxClient("主题", "[]"), nil)

	_, err := h.orch.Chat(testutil.CancelledContext(), "s1", userTurn("你好"), (&sink{}).emit)
	require.Error(t, err)
	h.orch.Wait()
	assert.Empty(t, h.orch.History("s1"))
	assert.Empty(t, h.episodic.Entries())
}

func TestChat_InvalidRequest(t *testing.T) {
	ctx := testutil.TestContext(t)
	h := newHarness(t, mocks.NewMockChatClient(), auxClient("", "[]"), nil)

	tests := []struct {
		name string
		msgs []types.Message
	}{
		{"empty", nil},
		{"last is assistant", []types.Message{types.NewUserMessage("a"), types.NewAssistantMessage("b")}},
		{"blank user", userTurn("  ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Chat(ctx, "s1", tt.msgs, (&sink{}).emit)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
		})
	}
	assert.Empty(t, h.chat.StreamCalls())
}

func TestChat_PromptCarriesSectionsAndHistory(t *testing.T) {
	ctx := testutil.TestContext(t)
	chat := mocks.NewMockChatClient().WithStreamChunks("好。")
	h := newHarness(t, chat, auxClient("主题", "[]"), func(d *Deps) {
		d.Knowledge = staticKnowledge("猫喜欢晒太阳。")
		d.Affect = staticAffect("你现在很开心")
	})
	h.facts.result = "主人喜欢草莓"
	h.episodic.err = errors.New("index corrupted")

	prior := []types.Message{
		types.NewSystemMessage("client system prompt"),
		types.NewUserMessage("早"),
		types.NewAssistantMessage("早上好"),
		types.NewUserMessage("猫在干嘛"),
	}
	_, err := h.orch.Chat(ctx, "s1", prior, (&sink{}).emit)
	require.NoError(t, err)

	calls := chat.StreamCalls()
	require.Len(t, calls, 1)
	msgs := calls[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "主人喜欢草莓")
	assert.Contains(t, msgs[0].Content, "猫喜欢晒太阳。")
	assert.Contains(t, msgs[0].Content, "你现在很开心")
	assert.NotContains(t, msgs[0].Content, "client system prompt")
	assert.Equal(t, types.NewUserMessage("早"), msgs[1])
	assert.Equal(t, types.NewAssistantMessage("早上好"), msgs[2])
	assert.Equal(t, types.NewUserMessage("猫在干嘛"), msgs[3])

	// 已有历史后，客户端携带的旧消息不再覆盖服务端历史
	_, err = h.orch.Chat(ctx, "s1", []types.Message{types.NewUserMessage("伪造"), types.NewUserMessage("再见")}, (&sink{}).emit)
	require.NoError(t, err)
	second := chat.StreamCalls()[1]
	for _, m := range second {
		assert.NotEqual(t, "伪造", m.Content)
	}
	h.orch.Wait()
}

func TestChat_StartWithSeedsFreshSession(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := fixtures.AgentConfig()
	cfg.StartWith = []string{"你好", "欢迎回来，{{user}}"}
	chat := mocks.NewMockChatClient().WithStreamChunks("嗯。")
	h := newHarnessWithConfig(t, cfg, chat, auxClient("主题", "[]"), nil)

	_, err := h.orch.Chat(ctx, "fresh", userTurn("在吗"), (&sink{}).emit)
	require.NoError(t, err)
	h.orch.Wait()

	msgs := chat.StreamCalls()[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, types.NewUserMessage("你好"), msgs[1])
	assert.Equal(t, types.RoleAssistant, msgs[2].Role)
	assert.Len(t, h.orch.History("fresh"), 4)
}

func TestChat_HistoryTrimmedToContextLength(t *testing.T) {
	ctx := testutil.TestContext(t)
	h := newHarness(t, mocks.NewMockChatClient().WithStreamChunks("好。"), auxClient("主题", "[]"), nil)

	for i := 0; i < 5; i++ {
		_, err := h.orch.Chat(ctx, "s1", userTurn("第"+string(rune('一'+i))+"句"), (&sink{}).emit)
		require.NoError(t, err)
	}
	h.orch.Wait()

	hist := h.orch.History("s1")
	require.Len(t, hist, fixtures.AgentConfig().ContextLength)
	assert.Equal(t, types.RoleUser, hist[0].Role)
	assert.Equal(t, "好。", hist[len(hist)-1].Content)
}

func TestChat_StripsMarkupFromHistory(t *testing.T) {
	ctx := testutil.TestContext(t)
	h := newHarness(t, mocks.NewMockChatClient().WithStreamChunks("<think>嗯</think>你好。"), auxClient("主题", "[]"), nil)

	_, err := h.orch.Chat(ctx, "s1", userTurn("hi"), (&sink{}).emit)
	require.NoError(t, err)
	h.orch.Wait()

	hist := h.orch.History("s1")
	require.Len(t, hist, 2)
	assert.NotContains(t, hist[1].Content, "<think>")
}

func TestChat_ExtractsFactsOnMarker(t *testing.T) {
	ctx := testutil.TestContext(t)
	aux := auxClient("约定", `好的：["主人喜欢草莓", " "]`)
	h := newHarness(t, mocks.NewMockChatClient().WithStreamChunks("记下了。"), aux, nil)

	_, err := h.orch.Chat(ctx, "s1", userTurn("记住我喜欢草莓"), (&sink{}).emit)
	require.NoError(t, err)
	h.orch.Wait()

	assert.Equal(t, []string{"主人喜欢草莓"}, h.facts.Facts())
	calls := aux.CompleteCalls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1][1].Content, "用户：记住我喜欢草莓")
}

func TestChat_NoFactsWhenCoreMemoryOff(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := fixtures.AgentConfig()
	cfg.CoreMemory = false
	aux := auxClient("约定", `["x"]`)
	h := newHarnessWithConfig(t, cfg, mocks.NewMockChatClient().WithStreamChunks("好。"), aux, nil)

	_, err := h.orch.Chat(ctx, "s1", userTurn("记住这个"), (&sink{}).emit)
	require.NoError(t, err)
	h.orch.Wait()

	assert.Empty(t, h.facts.Facts())
	assert.Len(t, aux.CompleteCalls(), 1)
}

func TestShouldExtractFacts(t *testing.T) {
	h := newHarness(t, mocks.NewMockChatClient(), auxClient("", "[]"), nil)
	long := strings.Repeat("长", 60)

	tests := []struct {
		name      string
		turn      int
		user      string
		assistant string
		want      bool
	}{
		{"chinese marker", 1, "请记住我的生日", "好", true},
		{"english marker", 1, "Please REMEMBER this", "ok", true},
		{"long exchange", 1, "嗯", long, true},
		{"every fifth turn", 5, "嗯", "好", true},
		{"tenth turn", 10, "嗯", "好", true},
		{"short ordinary turn", 3, "嗯", "好", false},
		{"turn zero", 0, "嗯", "好", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.orch.shouldExtractFacts(tt.turn, tt.user, tt.assistant))
		})
	}
}

func TestChat_SerializesTurnsPerSession(t *testing.T) {
	ctx := testutil.TestContext(t)
	gen := &slowGenerator{delay: 50 * time.Millisecond}
	h := newHarness(t, mocks.NewMockChatClient(), auxClient("主题", "[]"), func(d *Deps) {
		d.Generator = gen
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.orch.Chat(ctx, "same", userTurn("hi"), (&sink{}).emit)
		}()
	}
	wg.Wait()
	h.orch.Wait()

	assert.Equal(t, int32(1), gen.peak.Load())
	assert.Len(t, h.orch.History("same"), fixtures.AgentConfig().ContextLength)
}

func TestShutdown_WaitsForWriteback(t *testing.T) {
	ctx := testutil.TestContext(t)
	release := make(chan struct{})
	aux := mocks.NewMockChatClient().WithCompleteFunc(func(ctx context.Context, _ []llm.Message) (string, error) {
		select {
		case <-release:
			return "主题", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	h := newHarness(t, mocks.NewMockChatClient().WithStreamChunks("好。"), aux, nil)

	_, err := h.orch.Chat(ctx, "s1", userTurn("hi"), (&sink{}).emit)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.orch.Shutdown(short), context.DeadlineExceeded)

	_, err = h.orch.Chat(ctx, "s1", userTurn("again"), (&sink{}).emit)
	assert.True(t, types.IsErrorCode(err, types.ErrServiceUnavailable))

	close(release)
	require.NoError(t, h.orch.Shutdown(ctx))
	assert.Len(t, h.episodic.Entries(), 1)
}

// 关闭时正在进行的轮次仍会完成并写入日记
func TestShutdown_WaitsForInFlightTurn(t *testing.T) {
	ctx := testutil.TestContext(t)
	gen := &gatedGenerator{started: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, mocks.NewMockChatClient(), auxClient("主题", "[]"), func(d *Deps) {
		d.Generator = gen
	})

	turnErr := make(chan error, 1)
	go func() {
		_, err := h.orch.Chat(ctx, "s1", userTurn("hi"), (&sink{}).emit)
		turnErr <- err
	}()
	<-gen.started

	shutErr := make(chan error, 1)
	go func() { shutErr <- h.orch.Shutdown(ctx) }()
	select {
	case <-shutErr:
		t.Fatal("shutdown returned while a turn was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(gen.release)
	require.NoError(t, <-turnErr)
	require.NoError(t, <-shutErr)
	assert.Len(t, h.episodic.Entries(), 1)
}

// 与 Shutdown 并发的轮次要么被拒绝，要么其回写在 Shutdown 返回前完成
func TestShutdown_ConcurrentTurns(t *testing.T) {
	ctx := testutil.TestContext(t)
	h := newHarness(t, mocks.NewMockChatClient(), auxClient("主题", "[]"), func(d *Deps) {
		d.Generator = &slowGenerator{}
	})

	const turns = 16
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.orch.Chat(ctx, fmt.Sprintf("s%d", i), userTurn("hi"), (&sink{}).emit)
			switch {
			case err == nil:
				accepted.Add(1)
			case !types.IsErrorCode(err, types.ErrServiceUnavailable):
				t.Errorf("turn %d: unexpected error %v", i, err)
			}
		}(i)
	}
	require.NoError(t, h.orch.Shutdown(ctx))
	entries := len(h.episodic.Entries())
	wg.Wait()

	assert.Equal(t, int(accepted.Load()), entries)
}

func TestNew_CorruptHistoryFile(t *testing.T) {
	dir := t.TempDir()
	path := fixtures.WriteFile(t, dir, HistoryFile, "s1: [unterminated")
	_, err := New(fixtures.AgentConfig(), Deps{}, zap.NewNop(), WithHistoryPath(path))
	assert.True(t, types.IsErrorCode(err, types.ErrPersistence))
}
