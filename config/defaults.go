// =============================================================================
// 📦 MoeChat 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:        DefaultServerConfig(),
		Core:          DefaultCoreConfig(),
		LLM:           DefaultLLMConfig(),
		Embedding:     DefaultEmbeddingConfig(),
		TTS:           DefaultTTSConfig(),
		ExtraRefAudio: map[string]RefAudio{},
		Agent:         DefaultAgentConfig(),
		Cache:         DefaultCacheConfig(),
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:               "0.0.0.0",
		HTTPPort:           8001,
		ASRPort:            8002,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       0,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       50,
		RateLimitBurst:     100,
		CORSAllowedOrigins: []string{"*"},
		DataDir:            "data",
	}
}

// DefaultCoreConfig 返回默认音频入口配置
func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		SpeakerVerification: SpeakerVerificationConfig{
			Enabled:         false,
			MasterAudioPath: "test.wav",
			Threshold:       0.6,
			Timeout:         10 * time.Second,
		},
		ASR: ASRConfig{
			Model:    "sensevoice",
			Language: "zh",
			Timeout:  30 * time.Second,
		},
		VAD: VADConfig{
			Threshold:      0.02,
			SpeechPadMS:    300,
			MinSilenceMS:   100,
			ChunksPerBatch: 4,
			SampleRate:     16000,
		},
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Timeout:          120 * time.Second,
		ChunkTimeout:     15 * time.Second,
		SentimentTimeout: 10 * time.Second,
		MaxRetries:       1,
		Extra: LLMExtraConfig{
			FrequencyPenalty: 0,
			PresencePenalty:  0,
			TopP:             1,
			N:                1,
		},
	}
}

// DefaultEmbeddingConfig 返回默认向量模型配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:      "text-embedding-3-small",
		Timeout:    15 * time.Second,
		MaxRetries: 1,
	}
}

// DefaultTTSConfig 返回默认 GPT-SoVITS 配置
func DefaultTTSConfig() TTSConfig {
	return TTSConfig{
		TextLang:        "zh",
		PromptLang:      "zh",
		Seed:            -1,
		TopK:            15,
		BatchSize:       20,
		TextSplitMethod: "cut0",
		Timeout:         30 * time.Second,
		Workers:         8,
		QueueSize:       256,
	}
}

// DefaultAgentConfig 返回默认角色配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Char:               "Chat酱",
		User:               "芙兰蠢兔",
		ContextLength:      40,
		LongMemory:         true,
		CheckMemories:      true,
		MemThreshold:       0.38,
		CoreMemory:         true,
		CoreMemThreshold:   0.5,
		FactEveryNTurns:    5,
		FactMinChars:       60,
		Knowledge:          true,
		KnowledgeThreshold: 0.5,
		ScanDepth:          4,
		CharPersonality:    "表面清纯可爱，实则腹黑毒舌，内心聪明机智，对很多事情有自己独特的看法。",
		Prompt:             "使用口语的文字风格进行对话，不要太啰嗦。",
		Affect:             DefaultAffectConfig(),
	}
}

// DefaultAffectConfig 返回默认情绪引擎参数
func DefaultAffectConfig() AffectConfig {
	return AffectConfig{
		Enabled:                 true,
		StateFile:               "emotion_state.json",
		TickInterval:            time.Minute,
		FrustrationThreshold:    10.0,
		FrustrationDecay:        0.95,
		MaxMoodAmplification:    0.75,
		MeltdownDurationMinutes: 90.0,
		RecoveryDurationMinutes: 10.0,
		TimeScale:               5.0,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
		TTL:      24 * time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "moechat",
		SampleRate:   0.1,
	}
}
