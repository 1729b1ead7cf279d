package asr

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/BaSui01/moechat/audio"
	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/metrics"
	"github.com/BaSui01/moechat/llm/speech"
	"github.com/BaSui01/moechat/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 语音段处理结果（指标标签）
const (
	resultTranscribed = "transcribed"
	resultEmpty       = "empty"
	resultRejected    = "rejected"
	resultError       = "error"
)

// Payload 客户端上行消息
type Payload struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Sender 回传一条转写文本
type Sender func(ctx context.Context, text string) error

// =============================================================================
// 🎧 Recognizer
// =============================================================================

// Recognizer 持有进程级的识别依赖，为每个连接创建 Session
type Recognizer struct {
	transcriber speech.Transcriber
	verifier    speech.Verifier
	vad         audio.VADConfig
	batch       int
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewRecognizer 创建识别器。verifier 为 nil 时不做声纹校验。
func NewRecognizer(cfg config.VADConfig, transcriber speech.Transcriber, verifier speech.Verifier, collector *metrics.Collector, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := cfg.ChunksPerBatch
	if batch <= 0 {
		batch = 4
	}
	return &Recognizer{
		transcriber: transcriber,
		verifier:    verifier,
		vad: audio.VADConfig{
			Threshold:    cfg.Threshold,
			SampleRate:   cfg.SampleRate,
			MinSilenceMS: cfg.MinSilenceMS,
			SpeechPadMS:  cfg.SpeechPadMS,
		},
		batch:   batch,
		metrics: collector,
		logger:  logger.With(zap.String("component", "asr")),
	}
}

// sampleRate 会话使用的采样率
func (r *Recognizer) sampleRate() int {
	if r.vad.SampleRate > 0 {
		return r.vad.SampleRate
	}
	return audio.SampleRate
}

// Recognize 识别一段完整的 WAV（/api/asr）。无语音或声纹不匹配时返回空串。
func (r *Recognizer) Recognize(ctx context.Context, wav []byte) (string, error) {
	info, err := audio.DecodeWAV(wav)
	if err != nil {
		return "", types.NewInvalidRequestError("invalid wav audio").WithCause(err)
	}
	samples, err := audio.PCM16ToFloat32(info.PCM)
	if err != nil {
		return "", types.NewInvalidRequestError("invalid pcm data").WithCause(err)
	}
	vad := r.vad
	vad.SampleRate = info.SampleRate
	if !audio.ContainsSpeech(samples, vad) {
		r.metrics.RecordUtterance(resultEmpty)
		return "", nil
	}
	mono := audio.EncodeWAV(info.PCM, info.SampleRate)
	ok, err := r.verify(ctx, mono)
	if err != nil {
		r.metrics.RecordUtterance(resultError)
		return "", err
	}
	if !ok {
		r.metrics.RecordUtterance(resultRejected)
		return "", nil
	}
	text, err := r.transcriber.Transcribe(ctx, mono)
	if err != nil {
		r.metrics.RecordUtterance(resultError)
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		r.metrics.RecordUtterance(resultEmpty)
	} else {
		r.metrics.RecordUtterance(resultTranscribed)
	}
	return text, nil
}

func (r *Recognizer) verify(ctx context.Context, wav []byte) (bool, error) {
	if r.verifier == nil {
		return true, nil
	}
	return r.verifier.Verify(ctx, wav)
}

// NewSession 为一个连接创建会话
func (r *Recognizer) NewSession(send Sender) *Session {
	return &Session{
		id:     uuid.NewString(),
		rec:    r,
		vad:    audio.NewVAD(r.vad),
		send:   send,
		logger: r.logger,
	}
}

// =============================================================================
// 🔊 Session
// =============================================================================

// Session 单个连接的识别状态，不可并发使用
type Session struct {
	id     string
	rec    *Recognizer
	vad    *audio.VAD
	send   Sender
	logger *zap.Logger

	chunks    [][]byte
	utterance []float32
	startedAt time.Time
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// HandlePayload 处理一条 JSON 上行消息。返回错误时连接应被关闭。
func (s *Session) HandlePayload(ctx context.Context, raw []byte) error {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return types.NewError(types.ErrProtocol, "invalid asr payload").WithCause(err)
	}
	if p.Type != "asr" {
		s.logger.Debug("ignoring payload", zap.String("session", s.id), zap.String("type", p.Type))
		return nil
	}
	pcm, err := audio.DecodeBase64(p.Data)
	if err != nil {
		return types.NewError(types.ErrProtocol, "invalid base64 audio").WithCause(err)
	}
	return s.Feed(ctx, pcm)
}

// Feed 缓存一个 PCM 小块，攒够一批后送入 VAD
func (s *Session) Feed(ctx context.Context, pcm []byte) error {
	s.chunks = append(s.chunks, pcm)
	if len(s.chunks) < s.rec.batch {
		return nil
	}
	var size int
	for _, c := range s.chunks {
		size += len(c)
	}
	joined := make([]byte, 0, size)
	for _, c := range s.chunks {
		joined = append(joined, c...)
	}
	s.chunks = s.chunks[:0]

	samples, err := audio.PCM16ToFloat32(joined)
	if err != nil {
		return types.NewError(types.ErrProtocol, "invalid pcm chunk").WithCause(err)
	}
	for _, ev := range s.vad.Feed(samples) {
		switch ev.Kind {
		case audio.EventStart:
			s.utterance = append(s.utterance[:0], ev.Samples...)
			s.startedAt = time.Now()
		case audio.EventContinue:
			s.utterance = append(s.utterance, ev.Samples...)
		case audio.EventEnd:
			s.utterance = append(s.utterance, ev.Samples...)
			if err := s.finish(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// finish 识别当前语音段。后端错误只记录日志并丢弃该段，仅回传失败会中断会话。
func (s *Session) finish(ctx context.Context) error {
	wav := audio.EncodeSamplesWAV(s.utterance, s.rec.sampleRate())
	s.utterance = s.utterance[:0]
	log := s.logger.With(zap.String("session", s.id), zap.Duration("speech", time.Since(s.startedAt)))

	ok, err := s.rec.verify(ctx, wav)
	if err != nil {
		s.rec.metrics.RecordUtterance(resultError)
		log.Warn("speaker verification failed, dropping utterance", zap.Error(err))
		return nil
	}
	if !ok {
		s.rec.metrics.RecordUtterance(resultRejected)
		log.Debug("speaker rejected")
		return nil
	}

	text, err := s.rec.transcriber.Transcribe(ctx, wav)
	if err != nil {
		s.rec.metrics.RecordUtterance(resultError)
		log.Warn("transcription failed, dropping utterance", zap.Error(err))
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.rec.metrics.RecordUtterance(resultEmpty)
		return nil
	}
	s.rec.metrics.RecordUtterance(resultTranscribed)
	log.Info("utterance transcribed", zap.Int("chars", len([]rune(text))))
	return s.send(ctx, text)
}

// Close 释放会话状态
func (s *Session) Close() {
	s.chunks = nil
	s.utterance = nil
	s.vad.Reset()
}
