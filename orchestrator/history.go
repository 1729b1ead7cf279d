package orchestrator

import (
	"errors"
	"fmt"
	"os"

	"github.com/BaSui01/moechat/internal/fsutil"
	"github.com/BaSui01/moechat/types"
	"gopkg.in/yaml.v3"
)

// HistoryFile 历史文件名
const HistoryFile = "history.yaml"

// loadHistory 读取全部会话的历史；文件不存在时返回空表
func loadHistory(path string) (map[string][]types.Message, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]types.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string][]types.Message{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if out == nil {
		out = map[string][]types.Message{}
	}
	return out, nil
}

func saveHistory(path string, all map[string][]types.Message) error {
	data, err := yaml.Marshal(all)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

// trimHistory 保留最近 limit 条消息，并保证以用户消息开头
func trimHistory(msgs []types.Message, limit int) []types.Message {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for len(msgs) > 0 && msgs[0].Role != types.RoleUser {
		msgs = msgs[1:]
	}
	return msgs
}
