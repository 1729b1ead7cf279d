package speech

import (
	"bytes"
	"context"
	"errors"
	"strings"
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

// Transcriber 语音识别
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// STTClient OpenAI 兼容的 /audio/transcriptions 客户端
type STTClient struct {
	client   *openai.Client
	model    string
	language string
	timeout  time.Duration
	retryer  retry.Retryer
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewSTTClient 创建识别客户端
func NewSTTClient(cfg config.ASRConfig, collector *metrics.Collector, logger *zap.Logger) *STTClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.Key)
	if cfg.API != "" {
		api := strings.TrimSuffix(strings.TrimRight(cfg.API, "/"), "/audio/transcriptions")
		clientCfg.BaseURL = llm.BaseURL(api)
	}
	clientCfg.HTTPClient = tlsutil.BackendClient(0)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &STTClient{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		language: cfg.Language,
		timeout:  timeout,
		retryer:  retry.For("stt", 1, logger),
		metrics:  collector,
		logger:   logger.With(zap.String("component", "stt")),
	}
}

// Transcribe 识别一段 WAV。中文结果去掉空格。
func (c *STTClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	start := time.Now()
	text, err := retry.DoWithResult(ctx, c.retryer, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		resp, err := c.client.CreateTranscription(callCtx, openai.AudioRequest{
			Model:    c.model,
			FilePath: "utterance.wav",
			Reader:   bytes.NewReader(wav),
			Language: c.language,
			Format:   openai.AudioResponseFormatJSON,
		})
		if err != nil {
			return "", mapSTTError(ctx, err)
		}
		return resp.Text, nil
	})
	c.metrics.RecordBackendCall("asr", err, time.Since(start))
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if c.language == "" || strings.HasPrefix(c.language, "zh") {
		text = strings.ReplaceAll(text, " ", "")
	}
	return text, nil
}

func mapSTTError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return types.NewError(types.ErrCancelled, "asr cancelled").WithCause(err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return types.FromHTTPStatus("asr", apiErr.HTTPStatusCode, apiErr.Message).WithCause(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return types.FromHTTPStatus("asr", reqErr.HTTPStatusCode, reqErr.Error()).WithCause(err)
	}
	return types.NewTransientError("asr", "asr request failed", err)
}
