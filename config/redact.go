package config

const redacted = "******"

// Redacted returns a copy of the config with secrets masked, suitable for
// returning to clients.
func (c *Config) Redacted() *Config {
	out := *c

	out.LLM.Key = mask(c.LLM.Key)
	out.Embedding.Key = mask(c.Embedding.Key)
	out.Core.ASR.Key = mask(c.Core.ASR.Key)
	out.Cache.Password = mask(c.Cache.Password)
	out.Server.JWT.Secret = mask(c.Server.JWT.Secret)

	if len(c.Server.APIKeys) > 0 {
		out.Server.APIKeys = make([]string, len(c.Server.APIKeys))
		for i := range c.Server.APIKeys {
			out.Server.APIKeys[i] = redacted
		}
	}

	out.ExtraRefAudio = make(map[string]RefAudio, len(c.ExtraRefAudio))
	for k, v := range c.ExtraRefAudio {
		out.ExtraRefAudio[k] = v
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}
