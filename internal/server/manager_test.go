package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- DefaultConfig ---

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8001", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Zero(t, cfg.WriteTimeout, "SSE streams must not hit a write deadline")
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

// --- HTTP Manager lifecycle ---

func newTestManager(t *testing.T, h http.Handler) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(h, cfg, zap.NewNop())
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	require.NoError(t, m.Start())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	_, err = http.Get("http://" + m.Addr() + "/")
	assert.Error(t, err)
}

// 宽限期内没结束的流被取消，handler 通过请求上下文感知
func TestManager_ShutdownCancelsLingeringStream(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 50 * time.Millisecond
	m := NewManager(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
		close(cancelled)
	}), cfg, zap.NewNop())
	require.NoError(t, m.Start())

	go func() {
		resp, err := http.Get("http://" + m.Addr() + "/api/chat")
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()
	<-started

	assert.ErrorIs(t, m.Shutdown(context.Background()), context.DeadlineExceeded)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("stream handler was not cancelled")
	}
}

func TestManager_DoubleStart(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())
	require.NoError(t, m.Start())
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorIs(t, m.Start(), ErrServerClosed)
}

func TestManager_AddrBeforeStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":9999"
	m := NewManager(http.NewServeMux(), cfg, nil)
	assert.Equal(t, ":9999", m.Addr())
}

// --- TCPManager ---

func TestTCPManager_EchoAndShutdown(t *testing.T) {
	handlerDone := make(chan struct{})
	tm := NewTCPManager("127.0.0.1:0", func(ctx context.Context, conn net.Conn) {
		defer close(handlerDone)
		r := bufio.NewReader(conn)
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		conn.Write([]byte(line))
		<-ctx.Done()
	}, zap.NewNop())
	require.NoError(t, tm.Start())

	conn, err := net.Dial("tcp", tm.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tm.Shutdown(ctx))

	select {
	case <-handlerDone:
	case <-time.After(time.Second):
		t.Fatal("handler did not observe shutdown")
	}
	assert.ErrorIs(t, tm.Start(), ErrServerClosed)
}

func TestTCPManager_ShutdownWithoutStart(t *testing.T) {
	tm := NewTCPManager("127.0.0.1:0", func(context.Context, net.Conn) {}, nil)
	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestWaitForSignal_ReturnsServerError(t *testing.T) {
	errCh := make(chan error, 1)
	errCh <- io.ErrUnexpectedEOF
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := WaitForSignal(ctx, zap.NewNop(), errCh)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
