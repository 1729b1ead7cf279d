package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/metrics"
	"github.com/BaSui01/moechat/internal/tlsutil"
	"github.com/BaSui01/moechat/llm/retry"
	"github.com/BaSui01/moechat/types"
	"go.uber.org/zap"
)

// maxAudioBytes 单句合成音频上限
const maxAudioBytes = 32 << 20

// Synthesizer 单句语音合成
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, ref *config.RefAudio) ([]byte, error)
}

// ttsRequest GPT-SoVITS /tts 请求体
type ttsRequest struct {
	Text             string   `json:"text"`
	TextLang         string   `json:"text_lang"`
	RefAudioPath     string   `json:"ref_audio_path"`
	PromptText       string   `json:"prompt_text"`
	PromptLang       string   `json:"prompt_lang"`
	AuxRefAudioPaths []string `json:"aux_ref_audio_paths,omitempty"`
	Seed             int      `json:"seed"`
	TopK             int      `json:"top_k"`
	BatchSize        int      `json:"batch_size"`
	TextSplitMethod  string   `json:"text_split_method,omitempty"`
	MediaType        string   `json:"media_type"`
	StreamingMode    bool     `json:"streaming_mode"`
}

// TTSClient GPT-SoVITS HTTP 客户端
type TTSClient struct {
	cfg     config.TTSConfig
	client  *http.Client
	retryer retry.Retryer
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewTTSClient 创建合成客户端。cfg.API 为完整的 .../tts 地址。
func NewTTSClient(cfg config.TTSConfig, collector *metrics.Collector, logger *zap.Logger) *TTSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TTSClient{
		cfg:     cfg,
		client:  tlsutil.BackendClient(timeout),
		retryer: retry.For("tts", 1, logger),
		metrics: collector,
		logger:  logger.With(zap.String("component", "tts")),
	}
}

// Synthesize 合成一句话。ref 为空时使用默认参考音频。
func (c *TTSClient) Synthesize(ctx context.Context, text string, ref *config.RefAudio) ([]byte, error) {
	body := ttsRequest{
		Text:             text,
		TextLang:         c.cfg.TextLang,
		RefAudioPath:     c.cfg.RefAudioPath,
		PromptText:       c.cfg.PromptText,
		PromptLang:       c.cfg.PromptLang,
		AuxRefAudioPaths: c.cfg.AuxRefAudioPaths,
		Seed:             c.cfg.Seed,
		TopK:             c.cfg.TopK,
		BatchSize:        c.cfg.BatchSize,
		TextSplitMethod:  c.cfg.TextSplitMethod,
		MediaType:        "wav",
	}
	if ref != nil && ref.Audio != "" {
		body.RefAudioPath = ref.Audio
		body.PromptText = ref.Text
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	audio, err := retry.DoWithResult(ctx, c.retryer, func() ([]byte, error) {
		return c.post(ctx, payload)
	})
	c.metrics.RecordBackendCall("tts", err, time.Since(start))
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("语音合成失败", zap.String("text", text), zap.Error(err))
		}
		return nil, err
	}
	return audio, nil
}

func (c *TTSClient) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.API, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrCancelled, "tts cancelled").WithCause(err)
		}
		return nil, types.NewTransientError("tts", "tts request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, types.NewTransientError("tts", "tts read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.FromHTTPStatus("tts", resp.StatusCode, string(data))
	}
	if len(data) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "tts returned empty audio").WithBackend("tts")
	}
	return data, nil
}

// LoadWeights 启动时切换模型权重（配置了才调用）
func (c *TTSClient) LoadWeights(ctx context.Context) error {
	if c.cfg.GPTWeights != "" {
		if err := c.setWeights(ctx, "/set_gpt_weights", c.cfg.GPTWeights); err != nil {
			return err
		}
	}
	if c.cfg.SoVITSWeights != "" {
		if err := c.setWeights(ctx, "/set_sovits_weights", c.cfg.SoVITSWeights); err != nil {
			return err
		}
	}
	return nil
}

func (c *TTSClient) setWeights(ctx context.Context, endpoint, path string) error {
	u := weightsURL(c.cfg.API, endpoint) + "?" + url.Values{"weights_path": {path}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return types.NewTransientError("tts", "set weights failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return types.FromHTTPStatus("tts", resp.StatusCode, string(body))
	}
	c.logger.Info("TTS 权重已加载", zap.String("endpoint", endpoint), zap.String("path", path))
	return nil
}

// weightsURL .../tts -> .../set_gpt_weights
func weightsURL(api, endpoint string) string {
	api = strings.TrimRight(api, "/")
	if strings.HasSuffix(api, "/tts") {
		return strings.TrimSuffix(api, "/tts") + endpoint
	}
	u, err := url.Parse(api)
	if err != nil {
		return api + endpoint
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, endpoint)
}
