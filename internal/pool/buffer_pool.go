package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// BufferPool 复用编码缓冲。超过 maxCap 的缓冲不回收，
// 一段长语音不应让常驻内存永久变大。
type BufferPool struct {
	pool   sync.Pool
	maxCap int

	gets   atomic.Int64
	misses atomic.Int64
}

// NewBufferPool 新缓冲预分配 size 字节
func NewBufferPool(size, maxCap int) *BufferPool {
	p := &BufferPool{maxCap: maxCap}
	p.pool.New = func() any {
		p.misses.Add(1)
		return bytes.NewBuffer(make([]byte, 0, size))
	}
	return p
}

// Get 取出一个空缓冲
func (p *BufferPool) Get() *bytes.Buffer {
	p.gets.Add(1)
	return p.pool.Get().(*bytes.Buffer)
}

// Put 归还缓冲
func (p *BufferPool) Put(b *bytes.Buffer) {
	if b == nil || b.Cap() > p.maxCap {
		return
	}
	b.Reset()
	p.pool.Put(b)
}

// HitRate 无需新分配的 Get 占比
func (p *BufferPool) HitRate() float64 {
	gets := p.gets.Load()
	if gets == 0 {
		return 0
	}
	return float64(gets-p.misses.Load()) / float64(gets)
}

// FrameBuffers SSE 帧缓冲，一帧带一整句的 base64 音频
var FrameBuffers = NewBufferPool(64<<10, 4<<20)
