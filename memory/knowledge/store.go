// Package knowledge 实现世界书检索。
//
// 每本书是 data_base 目录下的一个 YAML 文件（触发词 -> 正文）。启动时按文件
// 内容的 sha256 与 tmp/label.yaml 比对，未变化的书直接复用 tmp/labels 下的
// 向量缓存包，变化的书重新向量化。
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/BaSui01/moechat/internal/fsutil"
	"github.com/BaSui01/moechat/llm/embedding"
	"github.com/BaSui01/moechat/memory/vector"
	"github.com/BaSui01/moechat/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConcurrency 同时向量化的书数量
	DefaultConcurrency = 3
	// maxClauses 查询拆分出的子句上限
	maxClauses = 8

	tmpDir    = "tmp"
	labelFile = "label.yaml"
	labelsDir = "labels"
	bundleExt = ".bundle"
)

// Config 存储配置
type Config struct {
	Dir         string // data/agents/<char>/data_base
	Threshold   float32
	TopK        int // scan_depth
	Concurrency int64
}

// Store 世界书存储
type Store struct {
	cfg      Config
	embedder embedding.Embedder
	logger   *zap.Logger

	mu     sync.RWMutex
	bodies []string
	index  *vector.FlatIP
}

// NewStore 创建存储，需调用 Load
func NewStore(cfg Config, embedder embedding.Embedder, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Store{
		cfg:      cfg,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "knowledge")),
		index:    vector.NewFlatIP(0),
	}
}

type book struct {
	name string
	path string
	hash string

	bundle vector.Bundle
	err    error
}

func (s *Store) bundlePath(name string) string {
	return filepath.Join(s.cfg.Dir, tmpDir, labelsDir, name+bundleExt)
}

func (s *Store) labelPath() string {
	return filepath.Join(s.cfg.Dir, tmpDir, labelFile)
}

// Load 扫描世界书目录并建立索引。单本书失败只记录日志，该书的哈希不会
// 写入总表，下次启动时重试。
func (s *Store) Load(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.cfg.Dir, tmpDir, labelsDir), 0o755); err != nil {
		return types.NewError(types.ErrPersistence, "create knowledge dir").WithCause(err)
	}

	labels := s.readLabels()
	books, err := s.scan()
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(s.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, b := range books {
		if labels[b.name] == b.hash {
			cached, err := vector.LoadBundle(s.bundlePath(b.name))
			if err == nil {
				b.bundle = cached
				continue
			}
			s.logger.Warn("世界书缓存损坏，重新向量化", zap.String("book", b.name), zap.Error(err))
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(b *book) {
			defer wg.Done()
			defer sem.Release(1)
			b.bundle, b.err = s.embedBook(ctx, b)
		}(b)
	}
	wg.Wait()

	next := make(map[string]string, len(books))
	index := vector.NewFlatIP(0)
	var bodies []string
	for _, b := range books {
		if b.err != nil {
			s.logger.Error("世界书加载错误", zap.String("book", b.name), zap.Error(b.err))
			continue
		}
		if err := index.Add(b.bundle.Vectors...); err != nil {
			s.logger.Error("世界书向量维度不一致", zap.String("book", b.name), zap.Error(err))
			continue
		}
		bodies = append(bodies, b.bundle.Texts...)
		next[b.name] = b.hash
		s.logger.Info("成功加载世界书", zap.String("book", b.name), zap.Int("entries", len(b.bundle.Texts)))
	}
	if err := s.writeLabels(next); err != nil {
		s.logger.Error("世界书总表写入失败", zap.Error(err))
	}

	s.mu.Lock()
	s.bodies = bodies
	s.index = index
	s.mu.Unlock()
	return ctx.Err()
}

// scan 列出目录下的 yaml 书并计算哈希
func (s *Store) scan() ([]*book, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "read knowledge dir").WithCause(err)
	}
	var books []*book
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(s.cfg.Dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error("读取世界书失败", zap.String("book", e.Name()), zap.Error(err))
			continue
		}
		sum := sha256.Sum256(data)
		books = append(books, &book{name: e.Name(), path: path, hash: hex.EncodeToString(sum[:])})
	}
	sort.Slice(books, func(i, j int) bool { return books[i].name < books[j].name })
	return books, nil
}

func (s *Store) embedBook(ctx context.Context, b *book) (vector.Bundle, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return vector.Bundle{}, err
	}
	triggers, bodies, err := ParseBook(data)
	if err != nil {
		return vector.Bundle{}, types.NewError(types.ErrParse, "parse book "+b.name).WithCause(err)
	}
	var vecs [][]float32
	if len(triggers) > 0 {
		vecs, err = s.embedder.Embed(ctx, triggers)
		if err != nil {
			return vector.Bundle{}, err
		}
	}
	bundle := vector.Bundle{Texts: bodies, Vectors: vecs}
	if err := vector.SaveBundle(s.bundlePath(b.name), bundle); err != nil {
		return vector.Bundle{}, types.NewError(types.ErrPersistence, "write bundle").WithCause(err)
	}
	s.logger.Info("成功向量化世界书", zap.String("book", b.name), zap.Int("entries", len(triggers)))
	return bundle, nil
}

func (s *Store) readLabels() map[string]string {
	labels := make(map[string]string)
	data, err := os.ReadFile(s.labelPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("读取世界书总表失败", zap.Error(err))
		}
		return labels
	}
	if err := yaml.Unmarshal(data, &labels); err != nil {
		s.logger.Warn("世界书总表损坏，全部重建", zap.Error(err))
		return make(map[string]string)
	}
	if labels == nil {
		labels = make(map[string]string)
	}
	return labels
}

func (s *Store) writeLabels(labels map[string]string) error {
	data, err := yaml.Marshal(labels)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.labelPath(), data, 0o644)
}

// ParseBook 按文档顺序解析世界书。值为列表时每一项都是同一触发词下的独立词条。
func ParseBook(data []byte) (triggers, bodies []string, err error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil, nil
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("book must be a mapping")
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, val := m.Content[i].Value, m.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			triggers = append(triggers, key)
			bodies = append(bodies, val.Value)
		case yaml.SequenceNode:
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, nil, fmt.Errorf("entry %q: nested values are not supported", key)
				}
				triggers = append(triggers, key)
				bodies = append(bodies, item.Value)
			}
		default:
			return nil, nil, fmt.Errorf("entry %q: unsupported value", key)
		}
	}
	return triggers, bodies, nil
}

// =============================================================================
// 🔍 检索
// =============================================================================

// Query 用整句及其子句检索，按最高得分合并去重，返回得分不低于阈值的前 TopK 条正文。
func (s *Store) Query(ctx context.Context, userText string) (string, error) {
	s.mu.RLock()
	empty := s.index.Len() == 0
	s.mu.RUnlock()
	if empty || strings.TrimSpace(userText) == "" {
		return "", nil
	}

	queries := append([]string{userText}, Clauses(userText)...)
	vecs, err := s.embedder.Embed(ctx, queries)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	best := make(map[int]float32)
	for _, q := range vecs {
		hits, err := s.index.Search(ctx, q, s.cfg.TopK)
		if err != nil {
			return "", err
		}
		for _, h := range hits {
			if h.Score < s.cfg.Threshold {
				continue
			}
			if cur, ok := best[h.Pos]; !ok || h.Score > cur {
				best[h.Pos] = h.Score
			}
		}
	}
	if len(best) == 0 {
		return "", nil
	}

	merged := make([]vector.Hit, 0, len(best))
	for pos, score := range best {
		merged = append(merged, vector.Hit{Pos: pos, Score: score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Pos < merged[j].Pos
	})
	if len(merged) > s.cfg.TopK {
		merged = merged[:s.cfg.TopK]
	}

	parts := make([]string, len(merged))
	for i, h := range merged {
		parts[i] = s.bodies[h.Pos]
	}
	return strings.Join(parts, "\n\n"), nil
}

// Clauses 在句读处拆分文本，返回不同于原文、至少两个字符的子句
func Clauses(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return strings.ContainsRune("，。！？；、,.!?;\n", r)
	})
	if len(fields) < 2 {
		return nil
	}
	seen := map[string]bool{strings.TrimSpace(text): true}
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if utf8.RuneCountInString(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == maxClauses {
			break
		}
	}
	return out
}

// Len 词条总数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bodies)
}
