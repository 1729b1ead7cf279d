// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 后端调用指标
	backendRequestsTotal   *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec
	llmTokensUsed          *prometheus.CounterVec

	// 对话轮次指标
	turnsTotal        *prometheus.CounterVec
	turnDuration      prometheus.Histogram
	turnFirstFrame    prometheus.Histogram
	sentencesTotal    *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec

	// 情绪指标
	affectTransitions *prometheus.CounterVec
	affectGauge       *prometheus.GaugeVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// ASR 指标
	asrSessionsActive *prometheus.GaugeVec
	utterancesTotal   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 后端调用指标
	c.backendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of remote backend calls",
		},
		[]string{"backend", "status"},
	)

	c.backendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Remote backend call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens reported by the chat model",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	// 对话轮次指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"status"},
	)

	c.turnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from request to terminal frame",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
	)

	c.turnFirstFrame = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_first_frame_seconds",
			Help:      "Time from request to the first sentence frame",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)

	c.sentencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_sentences_total",
			Help:      "Sentences emitted, by synthesis outcome",
		},
		[]string{"result"}, // ok, failed, skipped, rejected, cached
	)

	c.retrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Memory and knowledge lookup duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"store", "status"},
	)

	// 情绪指标
	c.affectTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "affect_transitions_total",
			Help:      "Affect engine mode transitions",
		},
		[]string{"from", "to"},
	)

	c.affectGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "affect_state",
			Help:      "Current affect dimensions",
		},
		[]string{"dimension"}, // valence, arousal, frustration
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// ASR 指标
	c.asrSessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "asr_sessions_active",
			Help:      "Number of connected ASR sessions",
		},
		[]string{"transport"}, // tcp, websocket
	)

	c.utterancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asr_utterances_total",
			Help:      "Utterances detected by VAD, by outcome",
		},
		[]string{"result"}, // transcribed, empty, rejected, failed
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 后端调用指标记录
// =============================================================================

// RecordBackendCall 记录一次远端调用（llm / tts / asr / embedding / speaker）
func (c *Collector) RecordBackendCall(backend string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.backendRequestsTotal.WithLabelValues(backend, status).Inc()
	c.backendRequestDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordLLMTokens 记录模型返回的 token 用量
func (c *Collector) RecordLLMTokens(model string, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// =============================================================================
// 💬 对话轮次指标记录
// =============================================================================

// RecordTurn 记录一轮对话（status: ok, truncated, cancelled, error）
func (c *Collector) RecordTurn(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(status).Inc()
	c.turnDuration.Observe(duration.Seconds())
}

// RecordFirstFrame 记录首帧延迟
func (c *Collector) RecordFirstFrame(latency time.Duration) {
	if c == nil {
		return
	}
	c.turnFirstFrame.Observe(latency.Seconds())
}

// RecordSentence 记录逐句合成结果
func (c *Collector) RecordSentence(result string) {
	if c == nil {
		return
	}
	c.sentencesTotal.WithLabelValues(result).Inc()
}

// RecordRetrieval 记录检索耗时
func (c *Collector) RecordRetrieval(store string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.retrievalDuration.WithLabelValues(store, status).Observe(duration.Seconds())
}

// =============================================================================
// 🎭 情绪指标记录
// =============================================================================

// RecordAffectTransition 记录情绪状态转换
func (c *Collector) RecordAffectTransition(from, to string) {
	if c == nil {
		return
	}
	c.affectTransitions.WithLabelValues(from, to).Inc()
}

// RecordAffectState 更新情绪维度当前值
func (c *Collector) RecordAffectState(valence, arousal, frustration float64) {
	if c == nil {
		return
	}
	c.affectGauge.WithLabelValues("valence").Set(valence)
	c.affectGauge.WithLabelValues("arousal").Set(arousal)
	c.affectGauge.WithLabelValues("frustration").Set(frustration)
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🎙️ ASR 指标记录
// =============================================================================

// ASRSessionOpened 活跃会话数 +1
func (c *Collector) ASRSessionOpened(transport string) {
	if c == nil {
		return
	}
	c.asrSessionsActive.WithLabelValues(transport).Inc()
}

// ASRSessionClosed 活跃会话数 -1
func (c *Collector) ASRSessionClosed(transport string) {
	if c == nil {
		return
	}
	c.asrSessionsActive.WithLabelValues(transport).Dec()
}

// RecordUtterance 记录语音段处理结果
func (c *Collector) RecordUtterance(result string) {
	if c == nil {
		return
	}
	c.utterancesTotal.WithLabelValues(result).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
