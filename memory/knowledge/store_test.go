package knowledge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/moechat/testutil"
	"github.com/BaSui01/moechat/testutil/fixtures"
	"github.com/BaSui01/moechat/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func load(t *testing.T, dir string, emb *mocks.MockEmbedder, threshold float32) *Store {
	t.Helper()
	s := NewStore(Config{Dir: dir, Threshold: threshold, TopK: 4}, emb, zap.NewNop())
	require.NoError(t, s.Load(testutil.TestContext(t)))
	return s
}

func TestStore_HashCache(t *testing.T) {
	dir := t.TempDir()
	fixtures.WriteFile(t, dir, "pets.yaml", fixtures.WorldBook)

	emb := mocks.NewMockEmbedder(8)
	s := load(t, dir, emb, 0.5)
	assert.Len(t, emb.Texts(), 3, "first boot embeds every entry")
	assert.Equal(t, 3, s.Len())
	assert.FileExists(t, filepath.Join(dir, "tmp", "labels", "pets.yaml.bundle"))

	emb = mocks.NewMockEmbedder(8)
	s = load(t, dir, emb, 0.5)
	assert.Empty(t, emb.Texts(), "unchanged book reuses its bundle")
	assert.Equal(t, 3, s.Len())

	fixtures.WriteFile(t, dir, "pets.yaml", fixtures.WorldBook+"鱼: 鱼生活在水里。\n")
	emb = mocks.NewMockEmbedder(8)
	s = load(t, dir, emb, 0.5)
	assert.Len(t, emb.Texts(), 4, "changed book is re-embedded in full")
	assert.Equal(t, 4, s.Len())
}

func TestStore_OnlyChangedBookReembedded(t *testing.T) {
	dir := t.TempDir()
	fixtures.WriteFile(t, dir, "pets.yaml", fixtures.WorldBook)
	fixtures.WriteFile(t, dir, "food.yml", fixtures.SecondBook)
	fixtures.WriteFile(t, dir, "notes.txt", "ignored")

	emb := mocks.NewMockEmbedder(8)
	s := load(t, dir, emb, 0.5)
	assert.Len(t, emb.Texts(), 7)
	assert.Equal(t, 7, s.Len())

	fixtures.WriteFile(t, dir, "food.yml", fixtures.SecondBook+"米饭: 米饭是主食。\n")
	emb = mocks.NewMockEmbedder(8)
	s = load(t, dir, emb, 0.5)
	assert.Len(t, emb.Texts(), 5)
	assert.Equal(t, 8, s.Len())
}

func TestStore_FailedBookRetriedNextBoot(t *testing.T) {
	dir := t.TempDir()
	fixtures.WriteFile(t, dir, "pets.yaml", fixtures.WorldBook)

	broken := mocks.NewMockEmbedder(8).WithError(errors.New("embedding down"))
	s := load(t, dir, broken, 0.5)
	assert.Zero(t, s.Len())

	data, err := os.ReadFile(filepath.Join(dir, "tmp", "label.yaml"))
	require.NoError(t, err)
	var labels map[string]string
	require.NoError(t, yaml.Unmarshal(data, &labels))
	assert.NotContains(t, labels, "pets.yaml")

	emb := mocks.NewMockEmbedder(8)
	s = load(t, dir, emb, 0.5)
	assert.Len(t, emb.Texts(), 3)
	assert.Equal(t, 3, s.Len())
}

func TestStore_QueryMergesClauses(t *testing.T) {
	dir := t.TempDir()
	fixtures.WriteFile(t, dir, "food.yml", fixtures.SecondBook)

	emb := mocks.NewMockEmbedder(4).
		WithVector("苹果", []float32{1, 0, 0, 0}).
		WithVector("香蕉", []float32{0, 1, 0, 0}).
		WithVector("咖啡", []float32{0, 0, 1, 0}).
		WithVector("茶", []float32{0, 0, 0, 1}).
		WithVector("我想吃苹果，再来杯咖啡", []float32{0.5, 0, 0.5, 0}).
		WithVector("我想吃苹果", []float32{1, 0, 0, 0}).
		WithVector("再来杯咖啡", []float32{0, 0, 0.9, 0.1})
	s := load(t, dir, emb, 0.8)

	got, err := s.Query(testutil.TestContext(t), "我想吃苹果，再来杯咖啡")
	require.NoError(t, err)
	assert.Equal(t, "苹果是一种水果。\n\n咖啡含有咖啡因。", got)
}

func TestStore_QueryBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	fixtures.WriteFile(t, dir, "food.yml", fixtures.SecondBook)
	emb := mocks.NewMockEmbedder(4).
		WithVector("苹果", []float32{1, 0, 0, 0}).
		WithVector("香蕉", []float32{0, 1, 0, 0}).
		WithVector("咖啡", []float32{0, 0, 1, 0}).
		WithVector("茶", []float32{0, 0, 0, 1}).
		WithVector("天气", []float32{0.5, 0.5, 0.5, 0.5})
	s := load(t, dir, emb, 0.9)

	got, err := s.Query(testutil.TestContext(t), "天气")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_EmptyDirectory(t *testing.T) {
	emb := mocks.NewMockEmbedder(4)
	s := load(t, t.TempDir(), emb, 0.5)
	got, err := s.Query(testutil.TestContext(t), "随便")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, emb.Calls())
}

func TestParseBook(t *testing.T) {
	triggers, bodies, err := ParseBook([]byte(fixtures.WorldBook))
	require.NoError(t, err)
	assert.Equal(t, []string{"猫", "猫", "狗"}, triggers)
	assert.Equal(t, []string{"猫是一种常见的宠物。", "猫喜欢晒太阳。", "狗是人类忠实的朋友。"}, bodies)

	_, _, err = ParseBook([]byte("- a\n"))
	assert.Error(t, err)
	_, _, err = ParseBook([]byte("k:\n  nested: x\n"))
	assert.Error(t, err)

	triggers, _, err = ParseBook(nil)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestClauses(t *testing.T) {
	assert.Nil(t, Clauses("你好"))
	assert.Equal(t, []string{"我想吃苹果", "再来杯咖啡"}, Clauses("我想吃苹果，再来杯咖啡"))
	assert.Equal(t, []string{"hello there", "how are you"}, Clauses("hello there, how are you?"))
	assert.Equal(t, []string{"好的呀"}, Clauses("嗯。好的呀！"))
}
