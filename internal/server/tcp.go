package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// 🎙️ TCP 语音端口
// =============================================================================

// ConnHandler 处理单个 TCP 连接，返回时连接被关闭
type ConnHandler func(ctx context.Context, conn net.Conn)

// TCPManager 接受语音流连接，每个连接一个 goroutine
type TCPManager struct {
	addr     string
	handler  ConnHandler
	logger   *zap.Logger
	listener net.Listener
	errCh    chan error

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTCPManager 创建 TCP 管理器
func NewTCPManager(addr string, handler ConnHandler, logger *zap.Logger) *TCPManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPManager{
		addr:    addr,
		handler: handler,
		logger:  logger.With(zap.String("component", "tcp_server")),
		errCh:   make(chan error, 1),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start 开始监听（非阻塞）
func (t *TCPManager) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrServerClosed
	}
	if t.listener != nil {
		return fmt.Errorf("tcp server already started")
	}
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.addr, err)
	}
	t.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.logger.Info("starting TCP server", zap.String("addr", ln.Addr().String()))

	t.wg.Add(1)
	go t.acceptLoop(ctx, ln)
	return nil
}

func (t *TCPManager) acceptLoop(ctx context.Context, ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			t.logger.Error("accept failed", zap.Error(err))
			select {
			case t.errCh <- err:
			default:
			}
			return
		}

		if !t.track(conn) {
			conn.Close()
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer t.untrack(conn)
			defer conn.Close()
			t.logger.Debug("connection accepted", zap.String("remote", conn.RemoteAddr().String()))
			t.handler(ctx, conn)
		}()
	}
}

func (t *TCPManager) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

func (t *TCPManager) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// Shutdown 停止接受新连接，关闭现有连接并等待处理器退出
func (t *TCPManager) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	if t.listener != nil {
		t.listener.Close()
	}
	for c := range t.conns {
		c.Close()
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.logger.Info("TCP server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors 返回异步错误
func (t *TCPManager) Errors() <-chan error { return t.errCh }

// Addr 返回实际监听地址
func (t *TCPManager) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}
