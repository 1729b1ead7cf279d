package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/metrics"
	"github.com/BaSui01/moechat/internal/tlsutil"
	"github.com/BaSui01/moechat/llm"
	"github.com/BaSui01/moechat/llm/retry"
	"github.com/BaSui01/moechat/types"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrEmbeddingUnavailable 重试后仍无法获得向量。对当前轮次的检索是致命的，
// 对进程不是。
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// DefaultMaxBatch 单次请求最多携带的文本数
const DefaultMaxBatch = 64

// Embedder 文本向量化接口，返回的向量维度一致、顺序与输入一致
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedOne 向量化单条文本
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, types.NewError(types.ErrUpstreamError, "embedding count mismatch").WithBackend("embedding")
	}
	return vecs[0], nil
}

// Gateway OpenAI 兼容 /v1/embeddings 客户端
type Gateway struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	maxBatch   int
	retryer    retry.Retryer
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewGateway 创建向量网关
func NewGateway(cfg config.EmbeddingConfig, collector *metrics.Collector, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.Key)
	if cfg.API != "" {
		clientCfg.BaseURL = llm.BaseURL(trimEmbeddingsPath(cfg.API))
	}
	clientCfg.HTTPClient = tlsutil.BackendClient(0)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Gateway{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    timeout,
		maxBatch:   DefaultMaxBatch,
		retryer:    retry.For("embedding", cfg.MaxRetries, logger),
		metrics:    collector,
		logger:     logger.With(zap.String("component", "embedding")),
	}
}

func trimEmbeddingsPath(api string) string {
	const suffix = "/embeddings"
	for len(api) > 0 && api[len(api)-1] == '/' {
		api = api[:len(api)-1]
	}
	if len(api) > len(suffix) && api[len(api)-len(suffix):] == suffix {
		return api[:len(api)-len(suffix)]
	}
	return api
}

// Embed 实现 Embedder。空输入不发请求。
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.maxBatch {
		end := min(start+g.maxBatch, len(texts))
		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}

	dim := len(out[0])
	for _, v := range out {
		if len(v) != dim {
			return nil, types.NewError(types.ErrUpstreamError,
				fmt.Sprintf("inconsistent embedding dimensions: %d vs %d", len(v), dim)).WithBackend("embedding")
		}
	}
	return out, nil
}

func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := retry.DoWithResult(ctx, g.retryer, func() ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.call(callCtx, texts)
	})
	g.metrics.RecordBackendCall("embedding", err, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrCancelled, "embedding cancelled").WithCause(ctx.Err())
		}
		g.logger.Warn("embedding unavailable", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "embedding unavailable").
			WithBackend("embedding").
			WithHTTPStatus(503).
			WithCause(errors.Join(ErrEmbeddingUnavailable, err))
	}
	return vecs, nil
}

func (g *Gateway) call(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(g.model),
		Dimensions: g.dimensions,
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data))).WithBackend("embedding")
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vecs := make([][]float32, len(data))
	for i, d := range data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func mapError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return types.FromHTTPStatus("embedding", apiErr.HTTPStatusCode, apiErr.Message).WithCause(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return types.FromHTTPStatus("embedding", reqErr.HTTPStatusCode, reqErr.Error()).WithCause(err)
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	// 网络错误与单次超时都视为瞬时错误
	return types.NewTransientError("embedding", "embedding request failed", err)
}
