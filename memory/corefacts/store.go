// Package corefacts 维护角色的核心记忆：关于用户的长期事实。
//
// 文件 core_mem.yml 为 uid -> {time, text} 的映射，只追加；
// 向量索引在启动时由全部事实重建。向量服务不可用时以未建索引状态启动，
// 下一次 Query 或 Add 时重试。
package corefacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/moechat/llm/embedding"
	"github.com/BaSui01/moechat/memory/vector"
	"github.com/BaSui01/moechat/types"
	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTopK 每次检索的候选数量
	DefaultTopK = 5
	uidLength   = 10
	timeLayout  = "2006-01-02 15:04:05"
	fileHeader  = "\n\n# 核心记忆文件，请勿自行修改！否侧会丢失索引！\n\n"
	seedText    = "{{user}}和{{char}}第一次相遇。"
)

// Config 存储配置
type Config struct {
	Path      string // data/agents/<char>/core_mem.yml
	Char      string
	User      string
	Threshold float32
	TopK      int
	// Now 时钟，默认 time.Now
	Now func() time.Time
}

// Fact 一条核心记忆
type Fact struct {
	Time string `yaml:"time"`
	Text string `yaml:"text"`
}

// Store 核心记忆存储
type Store struct {
	cfg      Config
	embedder embedding.Embedder
	logger   *zap.Logger

	mu     sync.RWMutex
	uids   []string
	facts  []Fact
	uidSet map[string]struct{}
	index  *vector.FlatIP
	// stale 为 true 时 index 尚未覆盖 facts
	stale bool
}

// NewStore 创建存储，需调用 Load
func NewStore(cfg Config, embedder embedding.Embedder, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		cfg:      cfg,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "core_facts")),
		uidSet:   make(map[string]struct{}),
		index:    vector.NewFlatIP(0),
	}
}

func (s *Store) substitute(text string) string {
	return strings.NewReplacer("{{user}}", s.cfg.User, "{{char}}", s.cfg.Char).Replace(text)
}

// newUID 生成与现有集合不冲突的 10 位 uid，调用方持有写锁
func (s *Store) newUID() string {
	for {
		uid := shortuuid.New()[:uidLength]
		if _, dup := s.uidSet[uid]; !dup {
			s.uidSet[uid] = struct{}{}
			return uid
		}
	}
}

// Load 读取核心记忆文件并重建索引；文件不存在时写入首次相遇的种子记忆。
// 只有文件读写失败才返回错误：解析失败以空记忆启动，向量化失败推迟到下次使用。
func (s *Store) Load(ctx context.Context) error {
	if _, err := os.Stat(s.cfg.Path); errors.Is(err, os.ErrNotExist) {
		if err := s.seed(); err != nil {
			return types.NewError(types.ErrPersistence, "seed core memory").WithCause(err)
		}
	}

	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return types.NewError(types.ErrPersistence, "read core memory").WithCause(err)
	}
	uids, facts, err := parseFacts(data)
	if err != nil {
		s.logger.Warn("核心记忆解析失败，以空记忆启动",
			zap.String("path", s.cfg.Path), zap.Error(err))
		uids, facts = nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uids = uids
	s.facts = facts
	s.index = vector.NewFlatIP(0)
	s.stale = len(facts) > 0
	s.uidSet = make(map[string]struct{}, len(uids))
	for _, u := range uids {
		s.uidSet[u] = struct{}{}
	}
	if err := s.reindexLocked(ctx); err != nil {
		s.logger.Warn("核心记忆向量化失败，检索暂不可用",
			zap.Int("facts", len(facts)), zap.Error(err))
		return nil
	}
	s.logger.Info("核心记忆加载完成", zap.Int("facts", len(facts)))
	return nil
}

// reindexLocked 在索引落后时用全部事实重建，调用方持有写锁
func (s *Store) reindexLocked(ctx context.Context) error {
	if !s.stale {
		return nil
	}
	texts := make([]string, len(s.facts))
	for i, f := range s.facts {
		texts[i] = s.substitute(f.Text)
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	index := vector.NewFlatIP(0)
	if err := index.Add(vecs...); err != nil {
		return err
	}
	s.index = index
	s.stale = false
	return nil
}

func (s *Store) ensureIndex(ctx context.Context) error {
	s.mu.RLock()
	stale := s.stale
	s.mu.RUnlock()
	if !stale {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reindexLocked(ctx); err != nil {
		return err
	}
	s.logger.Info("核心记忆索引已重建", zap.Int("facts", len(s.facts)))
	return nil
}

func (s *Store) seed() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return err
	}
	s.mu.Lock()
	uid := s.newUID()
	s.mu.Unlock()
	body, err := yaml.Marshal(map[string]Fact{uid: {Time: s.cfg.Now().Format(timeLayout), Text: seedText}})
	if err != nil {
		return err
	}
	return appendFile(s.cfg.Path, append([]byte(fileHeader), body...))
}

// parseFacts 按文档顺序解析 uid -> Fact 映射
func parseFacts(data []byte) ([]string, []Fact, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil, nil
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("expected mapping, got kind %d", m.Kind)
	}
	var (
		uids  []string
		facts []Fact
	)
	for i := 0; i+1 < len(m.Content); i += 2 {
		var f Fact
		if err := m.Content[i+1].Decode(&f); err != nil {
			return nil, nil, fmt.Errorf("fact %q: %w", m.Content[i].Value, err)
		}
		uids = append(uids, m.Content[i].Value)
		facts = append(facts, f)
	}
	return uids, facts, nil
}

// Query 返回与用户输入最相近且得分不低于阈值的核心记忆
func (s *Store) Query(ctx context.Context, userText string) (string, error) {
	s.mu.RLock()
	empty := len(s.facts) == 0
	s.mu.RUnlock()
	if empty {
		return "", nil
	}
	if err := s.ensureIndex(ctx); err != nil {
		return "", err
	}

	q, err := embedding.EmbedOne(ctx, s.embedder, userText)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.index.Search(ctx, q, s.cfg.TopK)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, h := range hits {
		if h.Score < s.cfg.Threshold {
			continue
		}
		f := s.facts[h.Pos]
		parts = append(parts, fmt.Sprintf("记忆获取时间：%s\n%s", f.Time, s.substitute(f.Text)))
	}
	return strings.Join(parts, "\n\n"), nil
}

// Add 追加核心记忆：分配新 uid、追加写文件并更新索引。空文本会被忽略。
func (s *Store) Add(ctx context.Context, facts []string) error {
	var texts []string
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			texts = append(texts, f)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	if err := s.ensureIndex(ctx); err != nil {
		return err
	}
	subs := make([]string, len(texts))
	for i, t := range texts {
		subs[i] = s.substitute(t)
	}
	vecs, err := s.embedder.Embed(ctx, subs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now().Format(timeLayout)
	batch := make(map[string]Fact, len(texts))
	uids := make([]string, len(texts))
	added := make([]Fact, len(texts))
	for i, t := range texts {
		uids[i] = s.newUID()
		added[i] = Fact{Time: now, Text: t}
		batch[uids[i]] = added[i]
	}

	body, err := yaml.Marshal(batch)
	if err != nil {
		return err
	}
	if err := appendFile(s.cfg.Path, body); err != nil {
		for _, u := range uids {
			delete(s.uidSet, u)
		}
		return types.NewError(types.ErrPersistence, "append core memory").WithCause(err)
	}
	s.uids = append(s.uids, uids...)
	s.facts = append(s.facts, added...)
	if s.stale {
		// 下次重建时一并向量化
		return nil
	}
	if err := s.index.Add(vecs...); err != nil {
		s.stale = true
		return err
	}
	s.logger.Info("添加核心记忆", zap.Strings("facts", texts))
	return nil
}

// Facts 返回全部记忆文本（已替换占位符），按加载顺序
func (s *Store) Facts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.facts))
	for i, f := range s.facts {
		out[i] = s.substitute(f.Text)
	}
	return out
}

func appendFile(path string, data []byte) error {
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
