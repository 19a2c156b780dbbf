package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("STT_PROVIDER", "")
	t.Setenv("TTS_PROVIDER", "")
	t.Setenv("TRANSCODER", "")
	t.Setenv("CONVERSATION_HISTORY_LIMIT", "")
	t.Setenv("DEBOUNCE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddress)
	assert.Equal(t, "nova-2", cfg.STT.Model)
	assert.Equal(t, 300, cfg.STT.EndpointingMs)
	assert.Equal(t, 4, cfg.Session.HistoryLimit)
	assert.Equal(t, 800*time.Millisecond, cfg.Session.Debounce)
	assert.Equal(t, 4000, cfg.Audio.ChunkSize)
	assert.Equal(t, 60, cfg.Session.SentenceMinChars)
	assert.InDelta(t, 0.85, cfg.LLM.TopP, 1e-6)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SERVER", "https://abc.ngrok.io/")
	t.Setenv("DEBOUNCE", "50ms")
	t.Setenv("CONVERSATION_HISTORY_LIMIT", "6")
	t.Setenv("PACE_OUTBOUND", "true")
	t.Setenv("TRANSCODER", "native")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddress)
	assert.Equal(t, "abc.ngrok.io", cfg.PublicHostname())
	assert.Equal(t, 50*time.Millisecond, cfg.Session.Debounce)
	assert.Equal(t, 6, cfg.Session.HistoryLimit)
	assert.True(t, cfg.Audio.PaceOutbound)
	assert.Equal(t, "native", cfg.Audio.Transcoder)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	t.Setenv("STT_LANGUAGE", "")
	t.Setenv("TTS_PROVIDER", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("DEBOUNCE", "")
	t.Setenv("LLM_MODEL", "override-model")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
stt:
  language: en-US
tts:
  provider: elevenlabs
audio:
  chunk_size: 800
session:
  debounce: 1s
llm:
  model: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "en-US", cfg.STT.Language)
	assert.Equal(t, "elevenlabs", cfg.TTS.Provider)
	assert.Equal(t, 800, cfg.Audio.ChunkSize)
	assert.Equal(t, time.Second, cfg.Session.Debounce)
	assert.Equal(t, "override-model", cfg.LLM.Model)
	// untouched keys keep their defaults
	assert.Equal(t, "nova-2", cfg.STT.Model)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("DEBOUNCE", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEBOUNCE")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"stt_provider", func(c *Config) { c.STT.Provider = "whisper" }},
		{"tts_provider", func(c *Config) { c.TTS.Provider = "polly" }},
		{"transcoder", func(c *Config) { c.Audio.Transcoder = "sox" }},
		{"chunk_size", func(c *Config) { c.Audio.ChunkSize = 10 }},
		{"history_limit", func(c *Config) { c.Session.HistoryLimit = 2 }},
		{"debounce", func(c *Config) { c.Session.Debounce = 0 }},
		{"thinking_range", func(c *Config) { c.Session.ThinkingDelayMax = time.Millisecond }},
		{"top_p", func(c *Config) { c.LLM.TopP = 0 }},
		{"terminators", func(c *Config) { c.Session.SentenceTerminators = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
