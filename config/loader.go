// =============================================================================
// 📦 MoeChat 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MOECHAT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MoeChat 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Core 音频入口配置（ASR / VAD / 声纹）
	Core CoreConfig `yaml:"core" env:"CORE"`

	// LLM 对话模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Embedding 向量模型配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// TTS 语音合成配置
	TTS TTSConfig `yaml:"tts" env:"TTS"`

	// ExtraRefAudio 情绪标签 → 参考音频
	ExtraRefAudio map[string]RefAudio `yaml:"extra_ref_audio" env:"-"`

	// Agent 角色配置
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Cache TTS 音频缓存（Redis）
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// 监听地址
	Host string `yaml:"host" env:"HOST"`
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// ASR TCP 端口（长度前缀帧）
	ASRPort int `yaml:"asr_port" env:"ASR_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（SSE 需要为 0）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// API Key 列表（为空时不校验）
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// JWT 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
	// 数据根目录
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	// HMAC 密钥，为空时不启用
	Secret string `yaml:"secret" env:"SECRET"`
	// 签发者
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 受众
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// CoreConfig 音频入口配置
type CoreConfig struct {
	// 声纹验证
	SpeakerVerification SpeakerVerificationConfig `yaml:"speaker_verification" env:"SV"`
	// ASR 后端
	ASR ASRConfig `yaml:"asr" env:"ASR"`
	// VAD 参数
	VAD VADConfig `yaml:"vad" env:"VAD"`
}

// SpeakerVerificationConfig 声纹验证配置
type SpeakerVerificationConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 声纹服务地址
	API string `yaml:"api" env:"API"`
	// 主人的声音样本（3-5 秒 wav）
	MasterAudioPath string `yaml:"master_audio_path" env:"MASTER_AUDIO_PATH"`
	// 相似度阈值
	Threshold float64       `yaml:"threshold" env:"THRESHOLD"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ASRConfig ASR 后端配置（OpenAI 兼容的 transcriptions 接口）
type ASRConfig struct {
	API      string        `yaml:"api" env:"API"`
	Key      string        `yaml:"key" env:"KEY"`
	Model    string        `yaml:"model" env:"MODEL"`
	Language string        `yaml:"language" env:"LANGUAGE"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// VADConfig 语音活动检测配置
type VADConfig struct {
	// 能量阈值（0-1 的 RMS）
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`
	// 语音前后补偿
	SpeechPadMS int `yaml:"speech_pad_ms" env:"SPEECH_PAD_MS"`
	// 判定结束所需的静音时长
	MinSilenceMS int `yaml:"min_silence_ms" env:"MIN_SILENCE_MS"`
	// 每批送入 VAD 的小块数量
	ChunksPerBatch int `yaml:"chunks_per_batch" env:"CHUNKS_PER_BATCH"`
	// 采样率
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// LLMConfig 对话模型配置
type LLMConfig struct {
	// OpenAI 兼容接口地址（base url）
	API string `yaml:"api" env:"API"`
	// API Key
	Key string `yaml:"key" env:"KEY"`
	// 模型名
	Model string `yaml:"model" env:"MODEL"`
	// 整轮超时上限
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 流式读取单块超时
	ChunkTimeout time.Duration `yaml:"chunk_timeout" env:"CHUNK_TIMEOUT"`
	// 情绪分析超时
	SentimentTimeout time.Duration `yaml:"sentiment_timeout" env:"SENTIMENT_TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 流式请求携带 stream_options.include_usage，部分兼容接口不支持
	StreamUsage bool `yaml:"stream_usage" env:"STREAM_USAGE"`
	// 额外请求参数
	Extra LLMExtraConfig `yaml:"extra" env:"EXTRA"`
}

// LLMExtraConfig 合并到请求体里的额外参数
type LLMExtraConfig struct {
	FrequencyPenalty float64  `yaml:"frequency_penalty" env:"FREQUENCY_PENALTY"`
	PresencePenalty  float64  `yaml:"presence_penalty" env:"PRESENCE_PENALTY"`
	TopP             float64  `yaml:"top_p" env:"TOP_P"`
	N                int      `yaml:"n" env:"N"`
	Temperature      *float64 `yaml:"temperature,omitempty" env:"-"`
}

// EmbeddingConfig 向量模型配置
type EmbeddingConfig struct {
	API        string        `yaml:"api" env:"API"`
	Key        string        `yaml:"key" env:"KEY"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// TTSConfig GPT-SoVITS 语音合成配置
type TTSConfig struct {
	API              string        `yaml:"api" env:"API"`
	TextLang         string        `yaml:"text_lang" env:"TEXT_LANG"`
	GPTWeights       string        `yaml:"gpt_weights" env:"GPT_WEIGHTS"`
	SoVITSWeights    string        `yaml:"sovits_weights" env:"SOVITS_WEIGHTS"`
	RefAudioPath     string        `yaml:"ref_audio_path" env:"REF_AUDIO_PATH"`
	PromptText       string        `yaml:"prompt_text" env:"PROMPT_TEXT"`
	PromptLang       string        `yaml:"prompt_lang" env:"PROMPT_LANG"`
	AuxRefAudioPaths []string      `yaml:"aux_ref_audio_paths" env:"AUX_REF_AUDIO_PATHS"`
	Seed             int           `yaml:"seed" env:"SEED"`
	TopK             int           `yaml:"top_k" env:"TOP_K"`
	BatchSize        int           `yaml:"batch_size" env:"BATCH_SIZE"`
	TextSplitMethod  string        `yaml:"text_split_method" env:"TEXT_SPLIT_METHOD"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 合成并发上限（0 表示使用默认值）
	Workers int `yaml:"workers" env:"WORKERS"`
	// 任务队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// RefAudio 一组参考音频
type RefAudio struct {
	Audio string `yaml:"audio" json:"audio"`
	Text  string `yaml:"text" json:"text"`
}

// AgentConfig 角色与记忆配置
type AgentConfig struct {
	// 角色名
	Char string `yaml:"char" env:"CHAR"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 保留的上下文消息数
	ContextLength int `yaml:"context_length" env:"CONTEXT_LENGTH"`
	// 新会话的开场对话（user / assistant 交替）
	StartWith []string `yaml:"start_with" env:"START_WITH"`

	// 日记（情景记忆）
	LongMemory bool `yaml:"long_memory" env:"LONG_MEMORY"`
	// 日记检索加强
	CheckMemories bool    `yaml:"check_memories" env:"CHECK_MEMORIES"`
	MemThreshold  float64 `yaml:"mem_threshold" env:"MEM_THRESHOLD"`
	// 核心记忆
	CoreMemory        bool    `yaml:"core_memory" env:"CORE_MEMORY"`
	CoreMemThreshold  float64 `yaml:"core_mem_threshold" env:"CORE_MEM_THRESHOLD"`
	FactEveryNTurns   int     `yaml:"fact_every_n_turns" env:"FACT_EVERY_N_TURNS"`
	FactMinChars      int     `yaml:"fact_min_chars" env:"FACT_MIN_CHARS"`
	// 世界书
	Knowledge          bool    `yaml:"knowledge" env:"KNOWLEDGE"`
	KnowledgeThreshold float64 `yaml:"knowledge_threshold" env:"KNOWLEDGE_THRESHOLD"`
	ScanDepth          int     `yaml:"scan_depth" env:"SCAN_DEPTH"`

	// 人设
	CharSettings    string `yaml:"char_settings" env:"CHAR_SETTINGS"`
	CharPersonality string `yaml:"char_personality" env:"CHAR_PERSONALITY"`
	Mask            string `yaml:"mask" env:"MASK"`
	MessageExample  string `yaml:"message_example" env:"MESSAGE_EXAMPLE"`
	Prompt          string `yaml:"prompt" env:"PROMPT"`

	// 情绪引擎
	Affect AffectConfig `yaml:",inline" env:"AFFECT"`
}

// AffectConfig 情绪引擎参数
type AffectConfig struct {
	Enabled                 bool          `yaml:"affect_enabled" env:"ENABLED"`
	StateFile               string        `yaml:"affect_state_file" env:"STATE_FILE"`
	TickInterval            time.Duration `yaml:"affect_tick_interval" env:"TICK_INTERVAL"`
	FrustrationThreshold    float64       `yaml:"frustration_threshold" env:"FRUSTRATION_THRESHOLD"`
	FrustrationDecay        float64       `yaml:"frustration_decay" env:"FRUSTRATION_DECAY"`
	MaxMoodAmplification    float64       `yaml:"max_mood_amplification" env:"MAX_MOOD_AMPLIFICATION"`
	MeltdownDurationMinutes float64       `yaml:"meltdown_duration_minutes" env:"MELTDOWN_DURATION_MINUTES"`
	RecoveryDurationMinutes float64       `yaml:"recovery_duration_minutes" env:"RECOVERY_DURATION_MINUTES"`
	TimeScale               float64       `yaml:"time_scale" env:"TIME_SCALE"`
	// (lower, upper, pull)
	EmotionProfileMatrix [][3]float64 `yaml:"emotion_profile_matrix" env:"-"`
}

// CacheConfig Redis 音频缓存配置
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	PoolSize int           `yaml:"pool_size" env:"POOL_SIZE"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// AgentDir 返回角色数据目录 data/agents/<char>
func (c *Config) AgentDir() string {
	return filepath.Join(c.Server.DataDir, "agents", c.Agent.Char)
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MOECHAT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// time.Duration 以外的结构体递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.ASRPort < 0 || c.Server.ASRPort > 65535 {
		errs = append(errs, "invalid ASR port")
	}
	if strings.TrimSpace(c.Agent.Char) == "" {
		errs = append(errs, "agent.char is required")
	}
	if c.Agent.ContextLength <= 0 {
		errs = append(errs, "agent.context_length must be positive")
	}
	if c.Agent.ScanDepth <= 0 {
		errs = append(errs, "agent.scan_depth must be positive")
	}
	if c.Agent.Affect.FrustrationThreshold <= 0 {
		errs = append(errs, "agent.frustration_threshold must be positive")
	}
	if c.Agent.Affect.FrustrationDecay < 0 || c.Agent.Affect.FrustrationDecay > 1 {
		errs = append(errs, "agent.frustration_decay must be between 0 and 1")
	}
	if c.Agent.Affect.RecoveryDurationMinutes <= 0 {
		errs = append(errs, "agent.recovery_duration_minutes must be positive")
	}
	for i, row := range c.Agent.Affect.EmotionProfileMatrix {
		if row[0] > row[1] {
			errs = append(errs, fmt.Sprintf("agent.emotion_profile_matrix[%d]: lower > upper", i))
		}
	}
	if t := c.LLM.Extra.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, "llm.extra.temperature must be between 0 and 2")
	}
	if c.Core.VAD.ChunksPerBatch <= 0 {
		errs = append(errs, "core.vad.chunks_per_batch must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
