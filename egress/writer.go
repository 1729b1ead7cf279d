package egress

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/BaSui01/moechat/internal/pool"
)

// Writer 把帧写成 SSE 事件，可被多个 goroutine 共用
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	flush  func()
	frames int
}

// NewWriter 包装任意 io.Writer；若实现了 http.Flusher 则每帧刷新
func NewWriter(w io.Writer) *Writer {
	ew := &Writer{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		ew.flush = f.Flush
	}
	return ew
}

// NewSSEWriter 设置 SSE 响应头并返回 Writer
func NewSSEWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	return NewWriter(w)
}

// WriteFrame 写出一帧并刷新
func (w *Writer) WriteFrame(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	buf := pool.FrameBuffers.Get()
	defer pool.FrameBuffers.Put(buf)
	buf.Grow(len(payload) + 8)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.flush()
	w.frames++
	return nil
}

// Emit 适配 pipeline 的发送回调
func (w *Writer) Emit(_ context.Context, f Frame) error {
	return w.WriteFrame(f)
}

// Drain 依次写出 frames 直到通道关闭或 ctx 取消
func (w *Writer) Drain(ctx context.Context, frames <-chan Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := w.WriteFrame(f); err != nil {
				return err
			}
		}
	}
}

// Frames 已写出的帧数
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// ReadFrames 解析 SSE 流中的全部帧，忽略非 data 行
func ReadFrames(r io.Reader) ([]Frame, error) {
	var frames []Frame
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return frames, fmt.Errorf("decode frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, sc.Err()
}
