package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/metrics"
	"github.com/BaSui01/moechat/internal/tlsutil"
	"github.com/BaSui01/moechat/types"
	"go.uber.org/zap"
)

// Verifier 声纹校验：判断一段语音是否来自主人
type Verifier interface {
	Verify(ctx context.Context, wav []byte) (bool, error)
}

// HTTPVerifier 调用外部声纹服务。请求为 multipart（audio、master 两个 wav），
// 响应 {"score": float}。
type HTTPVerifier struct {
	api       string
	master    []byte
	threshold float64
	client    *http.Client
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewHTTPVerifier 读取主人音频样本并创建校验器
func NewHTTPVerifier(cfg config.SpeakerVerificationConfig, collector *metrics.Collector, logger *zap.Logger) (*HTTPVerifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	master, err := os.ReadFile(cfg.MasterAudioPath)
	if err != nil {
		return nil, fmt.Errorf("read master audio: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVerifier{
		api:       cfg.API,
		master:    master,
		threshold: cfg.Threshold,
		client:    tlsutil.BackendClient(timeout),
		metrics:   collector,
		logger:    logger.With(zap.String("component", "speaker_verifier")),
	}, nil
}

type verifyResponse struct {
	Score float64 `json:"score"`
}

// Verify 实现 Verifier
func (v *HTTPVerifier) Verify(ctx context.Context, wav []byte) (bool, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, data := range map[string][]byte{"audio": wav, "master": v.master} {
		part, err := w.CreateFormFile(name, name+".wav")
		if err != nil {
			return false, err
		}
		if _, err := part.Write(data); err != nil {
			return false, err
		}
	}
	if err := w.Close(); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.api, &buf)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	start := time.Now()
	ok, score, err := v.do(req)
	v.metrics.RecordBackendCall("speaker", err, time.Since(start))
	if err != nil {
		return false, err
	}
	v.logger.Debug("声纹识别结果", zap.Float64("score", score), zap.Float64("threshold", v.threshold))
	return ok, nil
}

func (v *HTTPVerifier) do(req *http.Request) (bool, float64, error) {
	resp, err := v.client.Do(req)
	if err != nil {
		return false, 0, types.NewTransientError("speaker", "speaker verification failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return false, 0, types.FromHTTPStatus("speaker", resp.StatusCode, string(body))
	}
	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, 0, types.NewError(types.ErrParse, "invalid speaker verification response").WithCause(err)
	}
	return out.Score >= v.threshold, out.Score, nil
}
