// Package mocks 提供后端依赖的测试模拟实现。
//
// 所有 Mock 都支持 Builder 方式配置固定响应、延迟与错误注入，并记录调用。
package mocks

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// --- MockEmbedder ---

// MockEmbedder 是 embedding.Embedder 的确定性模拟实现。
//
// 未显式登记的文本按字符哈希分桶后归一化，同一文本总是得到同一单位向量。
type MockEmbedder struct {
	mu sync.Mutex

	dim       int
	vectors   map[string][]float32
	err       error
	failAfter int // >0 时第 N 次之后的调用失败

	calls int
	texts []string
}

// NewMockEmbedder 创建指定维度的 MockEmbedder
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{dim: dim, vectors: make(map[string][]float32)}
}

// WithVector 为指定文本登记固定向量
func (m *MockEmbedder) WithVector(text string, vec []float32) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vec
	return m
}

// WithError 设置返回错误
func (m *MockEmbedder) WithError(err error) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailAfter 前 n 次调用成功，之后返回 WithError 设置的错误
func (m *MockEmbedder) WithFailAfter(n int) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// Embed 实现 embedding.Embedder
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil && (m.failAfter == 0 || m.calls > m.failAfter) {
		return nil, m.err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	m.texts = append(m.texts, texts...)

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.vectors[t]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = m.hashVector(t)
	}
	return out, nil
}

func (m *MockEmbedder) hashVector(text string) []float32 {
	v := make([]float32, m.dim)
	for _, r := range text {
		h := fnv.New32a()
		_, _ = h.Write([]byte(string(r)))
		v[int(h.Sum32())%m.dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// Calls 返回 Embed 调用次数（包括失败的调用）
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Texts 返回成功向量化过的全部文本
func (m *MockEmbedder) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// Reset 清空调用记录
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = 0
	m.texts = nil
}
