package vector

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/BaSui01/moechat/internal/fsutil"
)

// Bundle 向量与文本的缓存包（知识库使用），Texts 与 Vectors 一一对应
type Bundle struct {
	Texts   []string
	Vectors [][]float32
}

// SaveVectors 以 gob 整体写入向量分片（临时文件 + rename）
func SaveVectors(path string, vecs [][]float32) error {
	return saveGob(path, vecs)
}

// LoadVectors 读取向量分片
func LoadVectors(path string) ([][]float32, error) {
	var vecs [][]float32
	if err := loadGob(path, &vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

// SaveBundle 写入缓存包
func SaveBundle(path string, b Bundle) error {
	if len(b.Texts) != len(b.Vectors) {
		return fmt.Errorf("bundle has %d texts but %d vectors", len(b.Texts), len(b.Vectors))
	}
	return saveGob(path, b)
}

// LoadBundle 读取缓存包
func LoadBundle(path string) (Bundle, error) {
	var b Bundle
	if err := loadGob(path, &b); err != nil {
		return Bundle{}, err
	}
	if len(b.Texts) != len(b.Vectors) {
		return Bundle{}, fmt.Errorf("corrupt bundle %s: %d texts, %d vectors", path, len(b.Texts), len(b.Vectors))
	}
	return b, nil
}

func saveGob(path string, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

func loadGob(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
