package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/moechat/affect"
	"github.com/BaSui01/moechat/api/handlers"
	"github.com/BaSui01/moechat/asr"
	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/internal/cache"
	"github.com/BaSui01/moechat/internal/metrics"
	"github.com/BaSui01/moechat/internal/pool"
	"github.com/BaSui01/moechat/internal/server"
	"github.com/BaSui01/moechat/internal/telemetry"
	"github.com/BaSui01/moechat/llm"
	"github.com/BaSui01/moechat/llm/embedding"
	"github.com/BaSui01/moechat/llm/speech"
	"github.com/BaSui01/moechat/memory/corefacts"
	"github.com/BaSui01/moechat/memory/episodic"
	"github.com/BaSui01/moechat/memory/knowledge"
	"github.com/BaSui01/moechat/orchestrator"
	"github.com/BaSui01/moechat/pipeline"
	"github.com/BaSui01/moechat/prompt"
	"github.com/BaSui01/moechat/scheduler"
)

// 角色目录下的数据文件
const (
	episodicDir   = "memorys"
	coreFactsFile = "core_mem.yml"
	knowledgeDir  = "data_base"
	historyFile   = "history.yaml"
)

// skipAuthPaths 不需要认证与限流的路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 MoeChat 的主服务器
type Server struct {
	cfg        atomic.Pointer[config.Config]
	configPath string
	logger     *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager
	asrManager     *server.TCPManager

	// 组件
	metricsCollector *metrics.Collector
	telemetry        *telemetry.Providers
	ttsPool          *pool.WorkerPool
	audioCache       *cache.AudioCache
	orchestrator     *orchestrator.Orchestrator
	recognizer       *asr.Recognizer
	affectEngine     *affect.Engine
	scheduler        *scheduler.Scheduler
	watcher          *config.Watcher

	// Handlers
	healthHandler *handlers.HealthHandler
	chatHandler   *handlers.ChatHandler
	asrHandler    *handlers.ASRHandler
	configHandler *handlers.ConfigHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	shutdownOnce sync.Once
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	s := &Server{
		configPath: configPath,
		logger:     logger,
	}
	s.cfg.Store(cfg)
	return s
}

// current 返回当前生效的配置
func (s *Server) current() *config.Config {
	return s.cfg.Load()
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	ctx := context.Background()

	// 1. 指标与遥测
	s.metricsCollector = metrics.NewCollector("moechat", s.logger)
	providers, err := telemetry.Init(s.current().Telemetry, s.current().Agent.Char, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	// 2. 对话组件
	if err := s.initComponents(ctx); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 3. Handlers
	s.initHandlers()

	// 4. 定时任务
	if err := s.initScheduler(); err != nil {
		return fmt.Errorf("failed to init scheduler: %w", err)
	}

	// 5. 配置热更新
	if err := s.initWatcher(ctx); err != nil {
		return fmt.Errorf("failed to init config watcher: %w", err)
	}

	// 6. 网络入口
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startASRServer(); err != nil {
		return fmt.Errorf("failed to start ASR server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	cfg := s.current()
	s.logger.Info("All servers started",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("asr_port", cfg.Server.ASRPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initComponents 按依赖顺序装配对话组件
func (s *Server) initComponents(ctx context.Context) error {
	cfg := s.current()
	agentDir := cfg.AgentDir()
	collector := s.metricsCollector
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}

	chat := llm.NewOpenAIClient(cfg.LLM, collector, s.logger)
	embedder := embedding.NewGateway(cfg.Embedding, collector, s.logger)

	deps := orchestrator.Deps{
		Composer: prompt.NewComposer(cfg.Agent, cfg.ExtraRefAudio),
		Aux:      chat,
	}

	// 记忆存储：关闭的功能保持 nil
	if cfg.Agent.LongMemory {
		store := episodic.NewStore(episodic.Config{
			Dir:           filepath.Join(agentDir, episodicDir),
			Char:          cfg.Agent.Char,
			User:          cfg.Agent.User,
			DeepRetrieval: cfg.Agent.CheckMemories,
			Threshold:     float32(cfg.Agent.MemThreshold),
		}, embedder, s.logger)
		if err := store.Load(ctx); err != nil {
			s.logger.Error("长期记忆加载失败，本次运行不启用", zap.Error(err))
		} else {
			deps.Episodic = store
		}
	}
	if cfg.Agent.CoreMemory {
		store := corefacts.NewStore(corefacts.Config{
			Path:      filepath.Join(agentDir, coreFactsFile),
			Char:      cfg.Agent.Char,
			User:      cfg.Agent.User,
			Threshold: float32(cfg.Agent.CoreMemThreshold),
		}, embedder, s.logger)
		if err := store.Load(ctx); err != nil {
			s.logger.Error("核心记忆加载失败，本次运行不启用", zap.Error(err))
		} else {
			deps.Facts = store
		}
	}
	if cfg.Agent.Knowledge {
		store := knowledge.NewStore(knowledge.Config{
			Dir:       filepath.Join(agentDir, knowledgeDir),
			Threshold: float32(cfg.Agent.KnowledgeThreshold),
			TopK:      cfg.Agent.ScanDepth,
		}, embedder, s.logger)
		if err := store.Load(ctx); err != nil {
			s.logger.Error("世界书加载失败，本次运行不启用", zap.Error(err))
		} else {
			deps.Knowledge = store
		}
	}

	// 情绪引擎
	var engine *affect.Engine
	if cfg.Agent.Affect.Enabled {
		statePath := cfg.Agent.Affect.StateFile
		if !filepath.IsAbs(statePath) {
			statePath = filepath.Join(agentDir, statePath)
		}
		engine = affect.NewEngine(cfg.Agent.Affect, statePath,
			affect.NewLLMAnalyzer(chat, cfg.LLM.SentimentTimeout), s.logger,
			affect.WithCollector(collector))
		deps.Affect = engine
	}

	// 语音合成：并发池 + 可选缓存
	tts := speech.NewTTSClient(cfg.TTS, collector, s.logger)
	if err := tts.LoadWeights(ctx); err != nil {
		s.logger.Warn("failed to load TTS weights", zap.Error(err))
	}
	s.ttsPool = pool.NewWorkerPool(pool.Config{
		MaxWorkers:   cfg.TTS.Workers,
		QueueSize:    cfg.TTS.QueueSize,
		IdleTimeout:  time.Minute,
		PanicHandler: func(r any) {
			s.logger.Error("tts worker panic", zap.Any("panic", r))
		},
	})
	pipeOpts := []pipeline.Option{
		pipeline.WithPool(s.ttsPool),
		pipeline.WithRefAudio(cfg.ExtraRefAudio),
		pipeline.WithTTSTimeout(cfg.TTS.Timeout),
		pipeline.WithCollector(collector),
	}
	if cfg.Cache.Enabled {
		ac, err := cache.NewAudioCache(cache.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			PoolSize: cfg.Cache.PoolSize,
			TTL:      cfg.Cache.TTL,
		}, collector, s.logger)
		if err != nil {
			s.logger.Warn("audio cache unavailable, synthesizing without cache", zap.Error(err))
		} else {
			s.audioCache = ac
			pipeOpts = append(pipeOpts, pipeline.WithCache(ac, cfg.TTS.RefAudioPath))
		}
	}
	deps.Generator = pipeline.New(chat, tts, s.logger, pipeOpts...)

	orch, err := orchestrator.New(cfg.Agent, deps, s.logger,
		orchestrator.WithCollector(collector),
		orchestrator.WithHistoryPath(filepath.Join(agentDir, historyFile)))
	if err != nil {
		return err
	}
	s.orchestrator = orch

	// 语音识别：声纹验证可选
	var verifier speech.Verifier
	if sv := cfg.Core.SpeakerVerification; sv.Enabled {
		v, err := speech.NewHTTPVerifier(sv, collector, s.logger)
		if err != nil {
			s.logger.Warn("speaker verification disabled", zap.Error(err))
		} else {
			verifier = v
		}
	}
	s.recognizer = asr.NewRecognizer(cfg.Core.VAD,
		speech.NewSTTClient(cfg.Core.ASR, collector, s.logger),
		verifier, collector, s.logger)

	s.affectEngine = engine
	s.logger.Info("Components initialized",
		zap.String("agent_dir", agentDir),
		zap.Bool("long_memory", deps.Episodic != nil),
		zap.Bool("core_memory", deps.Facts != nil),
		zap.Bool("knowledge", deps.Knowledge != nil),
		zap.Bool("affect", engine != nil),
		zap.Bool("audio_cache", s.audioCache != nil),
		zap.Bool("speaker_verification", verifier != nil),
	)
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewDirCheck("agent_dir", s.current().AgentDir()))
	if s.audioCache != nil {
		s.healthHandler.RegisterCheck(handlers.NewOptionalPingCheck("redis", s.audioCache.Ping))
	}
	s.chatHandler = handlers.NewChatHandler(s.orchestrator, s.logger)
	s.asrHandler = handlers.NewASRHandler(s.recognizer, s.logger)
	s.configHandler = handlers.NewConfigHandler(s.current, s.logger)
}

// initScheduler 注册情绪推进与历史落盘任务
func (s *Server) initScheduler() error {
	s.scheduler = scheduler.New(s.logger)

	if s.affectEngine != nil {
		interval := s.current().Agent.Affect.TickInterval
		if interval <= 0 {
			interval = time.Minute
		}
		if err := s.scheduler.Add(scheduler.JobAffectTick, scheduler.Every(interval),
			scheduler.AffectTickJob(s.affectEngine, nil)); err != nil {
			return err
		}
	}
	if err := s.scheduler.Add(scheduler.JobHistoryFlush, scheduler.Every(30*time.Second),
		scheduler.FlushJob(s.orchestrator)); err != nil {
		return err
	}

	s.scheduler.Start()
	return nil
}

// initWatcher 监听配置文件，人设变更后替换提示词组装器
func (s *Server) initWatcher(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}
	s.watcher = config.NewWatcher(s.configPath, config.WithWatcherLogger(s.logger))
	s.watcher.OnReload(func(next *config.Config) {
		s.cfg.Store(next)
		s.orchestrator.SetComposer(prompt.NewComposer(next.Agent, next.ExtraRefAudio))
		s.logger.Info("Configuration reloaded, persona updated")
	})
	return s.watcher.Start(ctx)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册所有路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 对话与语音
	mux.HandleFunc("/api/chat", s.chatHandler.HandleChat)
	mux.HandleFunc("/api/get_context", s.chatHandler.HandleContext)
	mux.HandleFunc("/api/asr", s.asrHandler.HandleASR)
	mux.HandleFunc("/api/asr_ws", s.asrHandler.HandleWebSocket)
	mux.HandleFunc("/api/get_config", s.configHandler.HandleGetConfig)

	return mux
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	cfg := s.current().Server

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		CORS(cfg.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, cfg.RateLimitRPS, cfg.RateLimitBurst, skipAuthPaths),
		APIKeyAuth(cfg.APIKeys, skipAuthPaths),
		JWTAuth(cfg.JWT, skipAuthPaths, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            hostPort(cfg.Host, cfg.HTTPPort),
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     2 * cfg.ReadTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

// startASRServer 启动长度前缀帧的 TCP 语音入口，端口为 0 时不启用
func (s *Server) startASRServer() error {
	cfg := s.current().Server
	if cfg.ASRPort <= 0 {
		return nil
	}
	s.asrManager = server.NewTCPManager(hostPort(cfg.Host, cfg.ASRPort), s.recognizer.ServeConn, s.logger)
	return s.asrManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	cfg := s.current().Server
	if cfg.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            hostPort(cfg.Host, cfg.MetricsPort),
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.ReadTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞直到收到信号或任一服务器异常退出，然后优雅关闭
func (s *Server) WaitForShutdown() {
	var errChs []<-chan error
	if s.httpManager != nil {
		errChs = append(errChs, s.httpManager.Errors())
	}
	if s.asrManager != nil {
		errChs = append(errChs, s.asrManager.Errors())
	}
	if s.metricsManager != nil {
		errChs = append(errChs, s.metricsManager.Errors())
	}
	_ = server.WaitForSignal(context.Background(), s.logger, errChs...)

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务，可重复调用
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.current().Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 0. 停止 rate limiter 清理 goroutine 与配置监听
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}

	// 1. 关闭网络入口
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.asrManager != nil {
		if err := s.asrManager.Shutdown(ctx); err != nil {
			s.logger.Error("ASR server shutdown error", zap.Error(err))
		}
	}

	// 2. 停止定时任务
	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			s.logger.Error("Scheduler shutdown error", zap.Error(err))
		}
	}

	// 3. 等待记忆回写并落盘历史
	if s.orchestrator != nil {
		if err := s.orchestrator.Shutdown(ctx); err != nil {
			s.logger.Error("Orchestrator shutdown error", zap.Error(err))
		}
	}

	// 4. 释放合成池、缓存与遥测
	if s.ttsPool != nil {
		s.ttsPool.Close()
	}
	if s.audioCache != nil {
		if err := s.audioCache.Close(); err != nil {
			s.logger.Error("Audio cache close error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
