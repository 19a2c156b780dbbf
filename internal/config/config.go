package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default prompts, carried over from the French call-center deployment.
const (
	DefaultSystemPrompt = "Tu es Pam, un agent de call center intelligent et accessible, doté d’une large palette de compétences : gestion des appels, support client, assistance technique et aide à la vente. Ta manière de communiquer doit rester conviviale et naturelle, sans répéter mécaniquement tes fonctionnalités."
	DefaultGreeting     = "Bonjour, ici Pam. Merci d’avoir pris contact. Comment puis-je vous aider aujourd’hui ?"
	DefaultApology      = "Je rencontre une difficulté technique, veuillez réessayer."
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string        `yaml:"http_address"`
	PublicHost  string        `yaml:"public_host"`
	Twilio      TwilioConfig  `yaml:"twilio"`
	STT         STTConfig     `yaml:"stt"`
	LLM         LLMConfig     `yaml:"llm"`
	TTS         TTSConfig     `yaml:"tts"`
	Audio       AudioConfig   `yaml:"audio"`
	Session     SessionConfig `yaml:"session"`
	Logging     LoggingConfig `yaml:"logging"`
}

// TwilioConfig configures the call-initiation surface.
type TwilioConfig struct {
	AccountSID        string `yaml:"account_sid"`
	AuthToken         string `yaml:"auth_token"`
	PhoneNumber       string `yaml:"phone_number"`
	ValidateSignature bool   `yaml:"validate_signature"`
	TemplatePath      string `yaml:"template_path"`
}

// STTConfig configures the speech recognition connection.
type STTConfig struct {
	Provider      string `yaml:"provider"`
	DeepgramKey   string `yaml:"deepgram_key"`
	AssemblyAIKey string `yaml:"assemblyai_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	EndpointingMs int    `yaml:"endpointing_ms"`
}

// LLMConfig configures text generation.
type LLMConfig struct {
	BaseURL          string  `yaml:"base_url"`
	APIKey           string  `yaml:"api_key"`
	Model            string  `yaml:"model"`
	Temperature      float32 `yaml:"temperature"`
	TopP             float32 `yaml:"top_p"`
	FrequencyPenalty float32 `yaml:"frequency_penalty"`
	PresencePenalty  float32 `yaml:"presence_penalty"`
	MaxTokens        int     `yaml:"max_tokens"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	Provider          string `yaml:"provider"`
	OpenAIKey         string `yaml:"openai_key"`
	Model             string `yaml:"model"`
	Voice             string `yaml:"voice"`
	DeepgramKey       string `yaml:"deepgram_key"`
	ElevenLabsKey     string `yaml:"elevenlabs_key"`
	ElevenLabsVoiceID string `yaml:"elevenlabs_voice_id"`
}

// AudioConfig configures transcoding and the outbound sender.
type AudioConfig struct {
	Transcoder   string `yaml:"transcoder"`
	FFmpegPath   string `yaml:"ffmpeg_path"`
	ChunkSize    int    `yaml:"chunk_size"`
	PaceOutbound bool   `yaml:"pace_outbound"`
}

// SessionConfig holds the per-call turn-taking policy.
type SessionConfig struct {
	HistoryLimit        int           `yaml:"history_limit"`
	Debounce            time.Duration `yaml:"debounce"`
	BargeInGrace        time.Duration `yaml:"barge_in_grace"`
	GreetingDelay       time.Duration `yaml:"greeting_delay"`
	ThinkingDelayMin    time.Duration `yaml:"thinking_delay_min"`
	ThinkingDelayMax    time.Duration `yaml:"thinking_delay_max"`
	FragmentDelay       time.Duration `yaml:"fragment_delay"`
	MinTranscriptChars  int           `yaml:"min_transcript_chars"`
	SentenceMinChars    int           `yaml:"sentence_min_chars"`
	SentenceTerminators string        `yaml:"sentence_terminators"`
	ClearOnBargeIn      bool          `yaml:"clear_on_barge_in"`
	SystemPrompt        string        `yaml:"system_prompt"`
	Greeting            string        `yaml:"greeting"`
	Apology             string        `yaml:"apology"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTPAddress: ":8080",
		PublicHost:  "localhost",
		Twilio: TwilioConfig{
			PhoneNumber: "+15017122661",
		},
		STT: STTConfig{
			Provider:      "deepgram",
			Model:         "nova-2",
			Language:      "fr-FR",
			EndpointingMs: 300,
		},
		LLM: LLMConfig{
			Model:            "gpt-4o",
			Temperature:      0.7,
			TopP:             0.85,
			FrequencyPenalty: 0.2,
			PresencePenalty:  0.4,
			MaxTokens:        200,
		},
		TTS: TTSConfig{
			Provider: "openai",
			Model:    "tts-1-hd",
			Voice:    "alloy",
		},
		Audio: AudioConfig{
			Transcoder: "ffmpeg",
			FFmpegPath: "ffmpeg",
			ChunkSize:  4000,
		},
		Session: SessionConfig{
			HistoryLimit:        4,
			Debounce:            800 * time.Millisecond,
			BargeInGrace:        200 * time.Millisecond,
			GreetingDelay:       time.Second,
			ThinkingDelayMin:    300 * time.Millisecond,
			ThinkingDelayMax:    700 * time.Millisecond,
			FragmentDelay:       150 * time.Millisecond,
			MinTranscriptChars:  2,
			SentenceMinChars:    60,
			SentenceTerminators: ".!?",
			ClearOnBargeIn:      true,
			SystemPrompt:        DefaultSystemPrompt,
			Greeting:            DefaultGreeting,
			Apology:             DefaultApology,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment (a .env file is loaded first when present), then validates it.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: error loading .env file: %v", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.warnMissingKeys()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		c.HTTPAddress = ":" + port
	}
	setString(&c.HTTPAddress, "HTTP_ADDRESS")
	setString(&c.PublicHost, "SERVER")

	setString(&c.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&c.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&c.Twilio.PhoneNumber, "TWILIO_PHONE_NUMBER")
	setString(&c.Twilio.TemplatePath, "TWIML_TEMPLATE")

	setString(&c.STT.Provider, "STT_PROVIDER")
	setString(&c.STT.DeepgramKey, "DEEPGRAM_API_KEY")
	setString(&c.STT.AssemblyAIKey, "ASSEMBLYAI_API_KEY")
	setString(&c.STT.Model, "STT_MODEL")
	setString(&c.STT.Language, "STT_LANGUAGE")

	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.Model, "LLM_MODEL")

	setString(&c.TTS.Provider, "TTS_PROVIDER")
	setString(&c.TTS.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.TTS.Model, "TTS_MODEL")
	setString(&c.TTS.Voice, "TTS_VOICE")
	setString(&c.TTS.DeepgramKey, "DEEPGRAM_API_KEY")
	setString(&c.TTS.ElevenLabsKey, "ELEVENLABS_API_KEY")
	setString(&c.TTS.ElevenLabsVoiceID, "ELEVENLABS_VOICE_ID")

	setString(&c.Audio.Transcoder, "TRANSCODER")
	setString(&c.Audio.FFmpegPath, "FFMPEG_PATH")

	setString(&c.Session.SentenceTerminators, "SENTENCE_TERMINATORS")
	setString(&c.Session.SystemPrompt, "SYSTEM_PROMPT")
	setString(&c.Session.Greeting, "GREETING")
	setString(&c.Session.Apology, "APOLOGY")

	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")

	ints := []struct {
		dst *int
		key string
	}{
		{&c.STT.EndpointingMs, "STT_ENDPOINTING_MS"},
		{&c.LLM.MaxTokens, "LLM_MAX_TOKENS"},
		{&c.Audio.ChunkSize, "CHUNK_SIZE"},
		{&c.Session.HistoryLimit, "CONVERSATION_HISTORY_LIMIT"},
		{&c.Session.MinTranscriptChars, "MIN_TRANSCRIPT_CHARS"},
		{&c.Session.SentenceMinChars, "SENTENCE_MIN_CHARS"},
	}
	for _, e := range ints {
		if err := setInt(e.dst, e.key); err != nil {
			return err
		}
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.Session.Debounce, "DEBOUNCE"},
		{&c.Session.BargeInGrace, "BARGE_IN_GRACE"},
		{&c.Session.GreetingDelay, "GREETING_DELAY"},
		{&c.Session.ThinkingDelayMin, "THINKING_DELAY_MIN"},
		{&c.Session.ThinkingDelayMax, "THINKING_DELAY_MAX"},
		{&c.Session.FragmentDelay, "FRAGMENT_DELAY"},
	}
	for _, e := range durations {
		if err := setDuration(e.dst, e.key); err != nil {
			return err
		}
	}

	bools := []struct {
		dst *bool
		key string
	}{
		{&c.Twilio.ValidateSignature, "TWILIO_VALIDATE_SIGNATURE"},
		{&c.Audio.PaceOutbound, "PACE_OUTBOUND"},
		{&c.Session.ClearOnBargeIn, "CLEAR_ON_BARGE_IN"},
	}
	for _, e := range bools {
		if err := setBool(e.dst, e.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate performs validation of every section.
func (c *Config) Validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http_address cannot be empty")
	}
	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	return nil
}

// Validate validates recognition settings.
func (s *STTConfig) Validate() error {
	switch s.Provider {
	case "deepgram", "assemblyai":
	default:
		return fmt.Errorf("provider must be 'deepgram' or 'assemblyai', got '%s'", s.Provider)
	}
	if s.EndpointingMs < 10 {
		return fmt.Errorf("endpointing_ms must be at least 10, got %d", s.EndpointingMs)
	}
	if s.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}
	return nil
}

// Validate validates generation settings.
func (l *LLMConfig) Validate() error {
	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", l.Temperature)
	}
	if l.TopP <= 0 || l.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %v", l.TopP)
	}
	if l.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", l.MaxTokens)
	}
	return nil
}

// Validate validates synthesis settings.
func (t *TTSConfig) Validate() error {
	switch t.Provider {
	case "openai", "deepgram", "elevenlabs":
	default:
		return fmt.Errorf("provider must be one of [openai, deepgram, elevenlabs], got '%s'", t.Provider)
	}
	return nil
}

// Validate validates transcoding and chunking settings.
func (a *AudioConfig) Validate() error {
	switch a.Transcoder {
	case "ffmpeg", "native":
	default:
		return fmt.Errorf("transcoder must be 'ffmpeg' or 'native', got '%s'", a.Transcoder)
	}
	if a.Transcoder == "ffmpeg" && a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}
	if a.ChunkSize < 160 {
		return fmt.Errorf("chunk_size must be at least 160 bytes, got %d", a.ChunkSize)
	}
	return nil
}

// Validate validates turn-taking policy.
func (s *SessionConfig) Validate() error {
	if s.HistoryLimit < 3 {
		return fmt.Errorf("history_limit must be at least 3, got %d", s.HistoryLimit)
	}
	if s.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", s.Debounce)
	}
	if s.BargeInGrace < 0 || s.GreetingDelay < 0 || s.FragmentDelay < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if s.ThinkingDelayMin < 0 || s.ThinkingDelayMax < s.ThinkingDelayMin {
		return fmt.Errorf("thinking delay range [%s, %s] is invalid", s.ThinkingDelayMin, s.ThinkingDelayMax)
	}
	if s.MinTranscriptChars < 1 {
		return fmt.Errorf("min_transcript_chars must be at least 1, got %d", s.MinTranscriptChars)
	}
	if s.SentenceTerminators == "" {
		return fmt.Errorf("sentence_terminators cannot be empty")
	}
	if s.Greeting == "" || s.SystemPrompt == "" || s.Apology == "" {
		return fmt.Errorf("system_prompt, greeting and apology are required")
	}
	return nil
}

func (c *Config) warnMissingKeys() {
	if c.STT.Provider == "deepgram" && c.STT.DeepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - transcription will not work")
	}
	if c.STT.Provider == "assemblyai" && c.STT.AssemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}
	if c.LLM.APIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - generation will not work")
	}
	if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
		log.Println("Warning: Twilio credentials missing - no outbound calls")
	}
}

// PublicHostname returns the public host without scheme or surrounding slashes.
func (c Config) PublicHostname() string {
	h := strings.TrimPrefix(strings.TrimPrefix(c.PublicHost, "https://"), "http://")
	return strings.Trim(h, "/")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q: %w", key, v, err)
	}
	*dst = b
	return nil
}
