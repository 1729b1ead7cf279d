// Package fixtures 提供测试数据工厂：角色配置、世界书与记忆分片样例。
package fixtures

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/moechat/config"
)

// AgentConfig 返回测试用角色配置：关闭情绪引擎，阈值为 0 的检索
func AgentConfig() config.AgentConfig {
	cfg := config.DefaultAgentConfig()
	cfg.Char = "小白"
	cfg.User = "主人"
	cfg.ContextLength = 6
	cfg.CharSettings = "{{char}}是{{user}}的猫娘助手。"
	cfg.CharPersonality = "活泼"
	cfg.Mask = ""
	cfg.MessageExample = ""
	cfg.Prompt = "说话简短。"
	cfg.Affect.Enabled = false
	return cfg
}

// Config 返回以 dir 为数据目录的完整测试配置
func Config(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = dir
	cfg.Agent = AgentConfig()
	return cfg
}

// WorldBook 一本两条词条的世界书
const WorldBook = `猫:
  - 猫是一种常见的宠物。
  - 猫喜欢晒太阳。
狗: 狗是人类忠实的朋友。
`

// SecondBook 另一本四条词条的世界书
const SecondBook = `苹果: 苹果是一种水果。
香蕉: 香蕉是黄色的。
咖啡: 咖啡含有咖啡因。
茶: 茶起源于中国。
`

// WriteFile 在 dir 下写入文件并返回完整路径
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
