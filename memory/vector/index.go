// Package vector 提供内积相似度的扁平索引以及向量分片文件的读写。
package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Hit 一次检索命中，Pos 为向量在索引中的插入位置
type Hit struct {
	Pos   int
	Score float32
}

// FlatIP 暴力内积索引。位置即 id，与调用方的文本数组一一对应。
type FlatIP struct {
	mu   sync.RWMutex
	dim  int
	vecs [][]float32
}

// NewFlatIP 创建索引。dim 为 0 时由第一条向量决定。
func NewFlatIP(dim int) *FlatIP {
	return &FlatIP{dim: dim}
}

// Add 追加向量
func (x *FlatIP) Add(vecs ...[]float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("empty vector")
		}
		if x.dim == 0 {
			x.dim = len(v)
		}
		if len(v) != x.dim {
			return fmt.Errorf("vector dimension mismatch: got %d want %d", len(v), x.dim)
		}
	}
	x.vecs = append(x.vecs, vecs...)
	return nil
}

// Len 向量数量
func (x *FlatIP) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vecs)
}

// Dim 当前维度
func (x *FlatIP) Dim() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}

// Search 返回内积最高的 k 个位置，分数降序，同分按位置升序
func (x *FlatIP) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.vecs) == 0 {
		return []Hit{}, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d want %d", len(query), x.dim)
	}

	hits := make([]Hit, len(x.vecs))
	for i, v := range x.vecs {
		hits[i] = Hit{Pos: i, Score: Dot(query, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// ScoreRange 计算 query 与 [lo, hi] 闭区间内每个向量的内积
func (x *FlatIP) ScoreRange(query []float32, lo, hi int) ([]float32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if lo < 0 || hi >= len(x.vecs) || lo > hi {
		return nil, fmt.Errorf("range [%d, %d] out of bounds (len %d)", lo, hi, len(x.vecs))
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d want %d", len(query), x.dim)
	}
	out := make([]float32, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, Dot(query, x.vecs[i]))
	}
	return out, nil
}

// Dot 内积。长度不同时返回 0。
func Dot(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
