package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/metrics"
	"github.com/BaSui01/moechat/internal/tlsutil"
	"github.com/BaSui01/moechat/llm/retry"
	"github.com/BaSui01/moechat/types"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Message 对话消息
type Message = types.Message

// StreamChunk 流式增量。Err 非空时为最后一个元素。
type StreamChunk struct {
	Delta string
	Err   error
}

// ChatClient 对话模型客户端
type ChatClient interface {
	// Stream 打开流式对话，通道在流结束或出错后关闭
	Stream(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
	// Complete 非流式对话
	Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
}

// CallOption 单次调用选项
type CallOption func(*callOptions)

type callOptions struct {
	timeout     time.Duration
	temperature *float32
}

// WithTimeout 覆盖本次调用超时（情绪分析使用 10s）
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithTemperature 覆盖本次调用温度
func WithTemperature(t float32) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}

// =============================================================================
// 🤖 OpenAI 兼容实现
// =============================================================================

// OpenAIClient 基于 go-openai 的客户端
type OpenAIClient struct {
	client       *openai.Client
	model        string
	extra        config.LLMExtraConfig
	timeout      time.Duration
	chunkTimeout time.Duration
	streamUsage  bool
	retryer      retry.Retryer
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// NewOpenAIClient 创建客户端。cfg.API 可以是 base url，也可以是完整的
// .../chat/completions 地址。
func NewOpenAIClient(cfg config.LLMConfig, collector *metrics.Collector, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.Key)
	if cfg.API != "" {
		clientCfg.BaseURL = BaseURL(cfg.API)
	}
	// 整体超时由 context 控制，流式响应不能设置 http.Client.Timeout
	clientCfg.HTTPClient = tlsutil.BackendClient(0)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		extra:        cfg.Extra,
		timeout:      timeout,
		chunkTimeout: cfg.ChunkTimeout,
		streamUsage:  cfg.StreamUsage,
		retryer:      retry.For("llm", cfg.MaxRetries, logger),
		metrics:      collector,
		logger:       logger.With(zap.String("component", "llm")),
	}
}

// BaseURL 去掉 /chat/completions 后缀，go-openai 会自行拼接路径
func BaseURL(api string) string {
	api = strings.TrimRight(api, "/")
	return strings.TrimSuffix(api, "/chat/completions")
}

func (c *OpenAIClient) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	req := openai.ChatCompletionRequest{
		Model:            c.model,
		Messages:         msgs,
		Stream:           stream,
		FrequencyPenalty: float32(c.extra.FrequencyPenalty),
		PresencePenalty:  float32(c.extra.PresencePenalty),
		TopP:             float32(c.extra.TopP),
		N:                c.extra.N,
	}
	if c.extra.Temperature != nil {
		req.Temperature = float32(*c.extra.Temperature)
	}
	if stream && c.streamUsage {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

// Complete 实现 ChatClient.Complete
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	o := callOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req := c.request(messages, false)
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}

	start := time.Now()
	resp, err := retry.DoWithResult(ctx, c.retryer, func() (openai.ChatCompletionResponse, error) {
		r, err := c.client.CreateChatCompletion(ctx, req)
		return r, mapError(ctx, err)
	})
	c.metrics.RecordBackendCall("llm", err, time.Since(start))
	if err != nil {
		c.logger.Warn("chat completion failed", zap.Error(err))
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", types.NewError(types.ErrUpstreamError, "empty response from LLM").WithBackend("llm")
	}
	c.metrics.RecordLLMTokens(c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

// Stream 实现 ChatClient.Stream。建立连接失败时直接返回错误；
// 之后的传输错误以最后一个 StreamChunk.Err 的形式送出。
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	streamCtx, cancel := context.WithTimeout(ctx, c.timeout)

	start := time.Now()
	stream, err := retry.DoWithResult(streamCtx, c.retryer, func() (*openai.ChatCompletionStream, error) {
		s, err := c.client.CreateChatCompletionStream(streamCtx, c.request(messages, true))
		return s, mapError(streamCtx, err)
	})
	if err != nil {
		cancel()
		c.metrics.RecordBackendCall("llm", err, time.Since(start))
		c.logger.Error("failed to open chat stream", zap.Error(err))
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		// 单块超时：超过 chunkTimeout 没有新数据则取消整个流
		var stalled atomic.Bool
		var watchdog *time.Timer
		if c.chunkTimeout > 0 {
			watchdog = time.AfterFunc(c.chunkTimeout, func() {
				stalled.Store(true)
				cancel()
			})
			defer watchdog.Stop()
		}

		// 发送只受调用方 ctx 约束，超时错误仍需送达
		send := func(ch StreamChunk) bool {
			select {
			case out <- ch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					c.metrics.RecordBackendCall("llm", nil, time.Since(start))
					return
				}
				mapped := mapError(streamCtx, err)
				if stalled.Load() {
					mapped = timeoutError(err)
				}
				c.metrics.RecordBackendCall("llm", mapped, time.Since(start))
				if ctx.Err() == nil {
					c.logger.Warn("chat stream broken", zap.Error(mapped))
				}
				send(StreamChunk{Err: mapped})
				return
			}
			if watchdog != nil {
				watchdog.Reset(c.chunkTimeout)
			}
			if resp.Usage != nil {
				c.metrics.RecordLLMTokens(c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(StreamChunk{Delta: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}
