// Package episodic 实现按天分片的对话记忆。
//
// 磁盘布局（每个角色）：
//
//	memorys/2025-3-12.yaml  ts -> {text_tag, msg}
//	memorys/2025-3-12.vec   当天全部条目的 tag 向量（gob），与 yaml 条目一一对应
package episodic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/moechat/llm/embedding"
	"github.com/BaSui01/moechat/memory/timeexpr"
	"github.com/BaSui01/moechat/memory/vector"
	"github.com/BaSui01/moechat/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const timeLayout = "2006-01-02 15:04:05"

// Config 存储配置
type Config struct {
	Dir  string // data/agents/<char>/memorys
	Char string
	User string
	// DeepRetrieval 为 true 时，范围内的条目还需与查询向量内积 ≥ Threshold
	DeepRetrieval bool
	Threshold     float32
	// Location 决定"当天"的边界，默认 time.Local
	Location *time.Location
}

// Entry 一次完整对话轮次
type Entry struct {
	Time      time.Time
	Tag       string
	User      string
	Assistant string
}

type shardEntry struct {
	TextTag string `yaml:"text_tag"`
	Msg     string `yaml:"msg"`
}

// Store 对话记忆存储
type Store struct {
	cfg      Config
	embedder embedding.Embedder
	logger   *zap.Logger

	mu     sync.RWMutex
	keys   []int64     // 严格递增
	bodies []string    // 已替换 {{user}}/{{char}}
	vecs   [][]float32 // 与 keys 对齐
}

// NewStore 创建存储，需调用 Load 加载磁盘数据
func NewStore(cfg Config, embedder embedding.Embedder, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Store{
		cfg:      cfg,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "episodic")),
	}
}

// ShardName 分片文件名（不补零的日期）
func ShardName(t time.Time) string {
	y, m, d := t.Date()
	return fmt.Sprintf("%d-%d-%d", y, int(m), d)
}

// FormatBody 生成带时间前缀的条目文本（保留占位符）
func FormatBody(t time.Time, user, assistant string) string {
	return fmt.Sprintf("时间：%s\n{{user}}：%s\n{{char}}：%s", t.Format(timeLayout), user, assistant)
}

func (s *Store) substitute(text string) string {
	return strings.NewReplacer("{{user}}", s.cfg.User, "{{char}}", s.cfg.Char).Replace(text)
}

// =============================================================================
// 📂 加载
// =============================================================================

type loaded struct {
	key  int64
	body string
	vec  []float32
}

// Load 扫描分片目录。单个分片损坏时跳过并记录日志；缺失或条数不符的
// 向量分片由 tag 重新向量化并写回。
func (s *Store) Load(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return types.NewError(types.ErrPersistence, "create memory dir").WithCause(err)
	}
	files, err := filepath.Glob(filepath.Join(s.cfg.Dir, "*.yaml"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	var all []loaded
	for _, file := range files {
		items, err := s.loadShard(ctx, file)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("记忆分片加载失败", zap.String("file", file), zap.Error(err))
			continue
		}
		all = append(all, items...)
	}

	// 不补零的文件名按字典序并非时间序
	sort.SliceStable(all, func(i, j int) bool { return all[i].key < all[j].key })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = s.keys[:0]
	s.bodies = s.bodies[:0]
	s.vecs = s.vecs[:0]
	for _, it := range all {
		if n := len(s.keys); n > 0 && it.key == s.keys[n-1] {
			s.logger.Warn("重复的记忆时间戳，已跳过", zap.Int64("ts", it.key))
			continue
		}
		s.keys = append(s.keys, it.key)
		s.bodies = append(s.bodies, it.body)
		s.vecs = append(s.vecs, it.vec)
	}
	s.logger.Info("记忆加载完成", zap.Int("entries", len(s.keys)), zap.Int("shards", len(files)))
	return nil
}

func (s *Store) loadShard(ctx context.Context, file string) ([]loaded, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var shard map[int64]shardEntry
	if err := yaml.Unmarshal(data, &shard); err != nil {
		return nil, fmt.Errorf("parse shard: %w", err)
	}
	if len(shard) == 0 {
		return nil, nil
	}

	keys := make([]int64, 0, len(shard))
	for k := range shard {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	vecPath := strings.TrimSuffix(file, ".yaml") + ".vec"
	vecs, err := vector.LoadVectors(vecPath)
	if err != nil || len(vecs) != len(keys) {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("向量分片损坏，重新生成", zap.String("file", vecPath), zap.Error(err))
		}
		tags := make([]string, len(keys))
		for i, k := range keys {
			tags[i] = shard[k].TextTag
		}
		s.logger.Info("向量化记忆", zap.String("file", filepath.Base(file)), zap.Int("entries", len(tags)))
		vecs, err = s.embedder.Embed(ctx, tags)
		if err != nil {
			return nil, err
		}
		if err := vector.SaveVectors(vecPath, vecs); err != nil {
			s.logger.Error("向量分片写入失败", zap.String("file", vecPath), zap.Error(err))
		}
	}

	out := make([]loaded, len(keys))
	for i, k := range keys {
		out[i] = loaded{key: k, body: s.substitute(shard[k].Msg), vec: vecs[i]}
	}
	return out, nil
}

// =============================================================================
// 🔍 检索
// =============================================================================

// Query 抽取文本中的时间范围并返回范围内的记忆；没有时间表达或没有命中时返回空串。
func (s *Store) Query(ctx context.Context, userText string, now time.Time) (string, error) {
	rng, ok := timeexpr.Extract(userText, now.In(s.cfg.Location))
	if !ok {
		return "", nil
	}
	lo, hi := rng.Unix()

	s.mu.RLock()
	loIdx, hiIdx, found := s.rangeIndices(lo, hi)
	s.mu.RUnlock()
	if !found {
		return "", nil
	}

	if !s.cfg.DeepRetrieval {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return strings.Join(s.bodies[loIdx:hiIdx+1], "\n"), nil
	}

	q, err := embedding.EmbedOne(ctx, s.embedder, userText)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var picked []string
	for i := loIdx; i <= hiIdx; i++ {
		if vector.Dot(q, s.vecs[i]) >= s.cfg.Threshold {
			picked = append(picked, s.bodies[i])
		}
	}
	return strings.Join(picked, "\n"), nil
}

// rangeIndices 闭区间 [lo, hi] 对应的下标闭区间，调用方持有读锁
func (s *Store) rangeIndices(lo, hi int64) (int, int, bool) {
	start := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= lo })
	end := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] > hi }) - 1
	if start >= len(s.keys) || end < start {
		return 0, 0, false
	}
	return start, end, true
}

// =============================================================================
// ✍️ 写入
// =============================================================================

// Append 追加一条记忆。时间戳不大于当前最大值时顺延为最大值 +1，
// 保证键严格递增。返回最终使用的时间戳。
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	vec, err := embedding.EmbedOne(ctx, s.embedder, e.Tag)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := e.Time.Unix()
	if n := len(s.keys); n > 0 && ts <= s.keys[n-1] {
		ts = s.keys[n-1] + 1
	}
	at := time.Unix(ts, 0).In(s.cfg.Location)
	raw := FormatBody(at, e.User, e.Assistant)

	base := filepath.Join(s.cfg.Dir, ShardName(at))
	if err := appendShard(base+".yaml", ts, shardEntry{TextTag: e.Tag, Msg: raw}); err != nil {
		s.logger.Error("记忆写入失败", zap.Error(err))
		return 0, types.NewError(types.ErrPersistence, "append memory shard").WithCause(err)
	}

	// 条目已落盘才更新内存；向量分片写失败时下次 Load 由 tag 重建
	s.keys = append(s.keys, ts)
	s.bodies = append(s.bodies, s.substitute(raw))
	s.vecs = append(s.vecs, vec)

	// 当天全部向量整体重写
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, s.cfg.Location).Unix()
	from := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= dayStart })
	if err := vector.SaveVectors(base+".vec", s.vecs[from:]); err != nil {
		s.logger.Error("向量分片写入失败", zap.Error(err))
		return ts, types.NewError(types.ErrPersistence, "write vector shard").WithCause(err)
	}
	s.logger.Debug("记忆已写入", zap.Int64("ts", ts), zap.String("tag", e.Tag))
	return ts, nil
}

func appendShard(path string, ts int64, entry shardEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(map[int64]shardEntry{ts: entry})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Len 当前条目数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
