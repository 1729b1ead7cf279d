// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8001, cfg.Server.HTTPPort)
	assert.Equal(t, 8002, cfg.Server.ASRPort)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)

	// 检索阈值
	assert.Equal(t, 0.38, cfg.Agent.MemThreshold)
	assert.Equal(t, 0.5, cfg.Agent.CoreMemThreshold)
	assert.Equal(t, 0.5, cfg.Agent.KnowledgeThreshold)
	assert.Equal(t, 4, cfg.Agent.ScanDepth)

	// 情绪引擎
	assert.Equal(t, 10.0, cfg.Agent.Affect.FrustrationThreshold)
	assert.Equal(t, 0.95, cfg.Agent.Affect.FrustrationDecay)
	assert.Equal(t, 0.75, cfg.Agent.Affect.MaxMoodAmplification)
	assert.Equal(t, 90.0, cfg.Agent.Affect.MeltdownDurationMinutes)
	assert.Equal(t, 10.0, cfg.Agent.Affect.RecoveryDurationMinutes)
	assert.Equal(t, 5.0, cfg.Agent.Affect.TimeScale)

	// TTS
	assert.Equal(t, 15, cfg.TTS.TopK)
	assert.Equal(t, 20, cfg.TTS.BatchSize)
	assert.Equal(t, -1, cfg.TTS.Seed)
	assert.Equal(t, "cut0", cfg.TTS.TextSplitMethod)

	// LLM 额外参数
	assert.Equal(t, 1.0, cfg.LLM.Extra.TopP)
	assert.Equal(t, 1, cfg.LLM.Extra.N)
	assert.Nil(t, cfg.LLM.Extra.Temperature)
	assert.Equal(t, 10*time.Second, cfg.LLM.SentimentTimeout)
	assert.Equal(t, 15*time.Second, cfg.Embedding.Timeout)

	assert.Equal(t, 300, cfg.Core.VAD.SpeechPadMS)
	assert.Equal(t, 4, cfg.Core.VAD.ChunksPerBatch)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8001, cfg.Server.HTTPPort)
	assert.Equal(t, "Chat酱", cfg.Agent.Char)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
llm:
  api: "https://llm.example.com/v1"
  model: "qwen"
  extra:
    top_p: 0.8
    temperature: 0.7
tts:
  api: "http://127.0.0.1:9880/tts"
  aux_ref_audio_paths:
    - "a.wav"
    - "b.wav"
extra_ref_audio:
  开心:
    audio: "happy.wav"
    text: "今天好开心"
agent:
  char: "小雪"
  user: "主人"
  scan_depth: 6
  frustration_threshold: 3
  emotion_profile_matrix:
    - [-1.0, -0.5, -0.02]
    - [-0.5, 1.0, 0.01]
log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "qwen", cfg.LLM.Model)
	assert.Equal(t, 0.8, cfg.LLM.Extra.TopP)
	require.NotNil(t, cfg.LLM.Extra.Temperature)
	assert.Equal(t, 0.7, *cfg.LLM.Extra.Temperature)
	assert.Equal(t, []string{"a.wav", "b.wav"}, cfg.TTS.AuxRefAudioPaths)
	assert.Equal(t, RefAudio{Audio: "happy.wav", Text: "今天好开心"}, cfg.ExtraRefAudio["开心"])
	assert.Equal(t, "小雪", cfg.Agent.Char)
	assert.Equal(t, 6, cfg.Agent.ScanDepth)
	assert.Equal(t, 3.0, cfg.Agent.Affect.FrustrationThreshold)
	// 未出现的字段保持默认值
	assert.Equal(t, 0.95, cfg.Agent.Affect.FrustrationDecay)
	require.Len(t, cfg.Agent.Affect.EmotionProfileMatrix, 2)
	assert.Equal(t, [3]float64{-1.0, -0.5, -0.02}, cfg.Agent.Affect.EmotionProfileMatrix[0])
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.Equal(t, filepath.Join("data", "agents", "小雪"), cfg.AgentDir())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("MOECHAT_SERVER_HTTP_PORT", "7777")
	t.Setenv("MOECHAT_LLM_MODEL", "env-model")
	t.Setenv("MOECHAT_LLM_EXTRA_TOP_P", "0.5")
	t.Setenv("MOECHAT_TTS_TIMEOUT", "45s")
	t.Setenv("MOECHAT_AGENT_CHAR", "环境酱")
	t.Setenv("MOECHAT_AGENT_AFFECT_FRUSTRATION_THRESHOLD", "4.5")
	t.Setenv("MOECHAT_SERVER_API_KEYS", "k1, k2")
	t.Setenv("MOECHAT_CORE_SV_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, 0.5, cfg.LLM.Extra.TopP)
	assert.Equal(t, 45*time.Second, cfg.TTS.Timeout)
	assert.Equal(t, "环境酱", cfg.Agent.Char)
	assert.Equal(t, 4.5, cfg.Agent.Affect.FrustrationThreshold)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.True(t, cfg.Core.SpeakerVerification.Enabled)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  model: yaml-model\n  key: yaml-key\n"), 0o644))

	t.Setenv("MOECHAT_LLM_MODEL", "env-model")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "yaml-key", cfg.LLM.Key)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("MOECHAT_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.NoError(t, err)

	t.Setenv("MOECHAT_AGENT_SCAN_DEPTH", "0")
	_, err = NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan_depth")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "HTTP port"},
		{"empty char", func(c *Config) { c.Agent.Char = " " }, "agent.char"},
		{"decay out of range", func(c *Config) { c.Agent.Affect.FrustrationDecay = 1.5 }, "frustration_decay"},
		{"matrix inverted", func(c *Config) {
			c.Agent.Affect.EmotionProfileMatrix = [][3]float64{{0.5, -0.5, 0.1}}
		}, "emotion_profile_matrix"},
		{"temperature", func(c *Config) {
			tt := 3.0
			c.LLM.Extra.Temperature = &tt
		}, "temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Key = "sk-secret"
	cfg.Server.APIKeys = []string{"a", "b"}
	cfg.ExtraRefAudio["哭"] = RefAudio{Audio: "cry.wav"}

	out := cfg.Redacted()

	assert.Equal(t, "******", out.LLM.Key)
	assert.Equal(t, "", out.Embedding.Key)
	assert.Equal(t, []string{"******", "******"}, out.Server.APIKeys)
	assert.Equal(t, "cry.wav", out.ExtraRefAudio["哭"].Audio)
	// 原配置不受影响
	assert.Equal(t, "sk-secret", cfg.LLM.Key)
	assert.Equal(t, []string{"a", "b"}, cfg.Server.APIKeys)
}
