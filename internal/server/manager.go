package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务
// =============================================================================

// ErrServerClosed 已关闭的服务不能再启动
var ErrServerClosed = errors.New("server is closed")

const maxHeaderBytes = 1 << 20

// Config HTTP 服务配置。WriteTimeout 为 0 表示不设写超时，
// 一轮 SSE 推流可能持续到 LLM 的整轮超时。
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig 对话接口的默认配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8001",
		ReadTimeout:     30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Manager 管理一个 HTTP 服务的启动与关闭。
// 关闭时先等在途请求结束；宽限期过后取消所有请求上下文，
// 正在推流的轮次随之停止。
type Manager struct {
	server *http.Server
	cfg    Config
	logger *zap.Logger
	errCh  chan error

	// cancelRequests 取消所有请求上下文
	cancelRequests context.CancelFunc

	mu       sync.RWMutex
	listener net.Listener
	closed   bool
}

// NewManager 创建管理器，需调用 Start
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		server: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: maxHeaderBytes,
			BaseContext:    func(net.Listener) context.Context { return base },
		},
		cfg:            cfg,
		logger:         logger.With(zap.String("component", "http_server"), zap.String("addr", cfg.Addr)),
		errCh:          make(chan error, 1),
		cancelRequests: cancel,
	}
}

// Start 监听并在后台服务，不阻塞
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrServerClosed
	case m.listener != nil:
		return fmt.Errorf("server already started on %s", m.listener.Addr())
	}
	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", m.cfg.Addr, err)
	}
	m.listener = ln
	m.logger.Info("HTTP server listening", zap.String("listen", ln.Addr().String()))

	go func() {
		err := m.server.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.logger.Error("HTTP server exited", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}()
	return nil
}

// Shutdown 停止接收新请求并等待在途请求，可重复调用。
// 超过 ShutdownTimeout 仍未结束的请求被取消并强制断开，此时返回超时错误。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	defer m.cancelRequests()

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}
	err := m.server.Shutdown(ctx)
	if err == nil {
		m.logger.Info("HTTP server stopped")
		return nil
	}
	m.logger.Warn("grace period elapsed, cancelling in-flight streams", zap.Error(err))
	m.cancelRequests()
	_ = m.server.Close()
	return err
}

// Errors 服务异常退出时收到一个错误
func (m *Manager) Errors() <-chan error { return m.errCh }

// Addr 实际监听地址，未启动时为配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.cfg.Addr
}
