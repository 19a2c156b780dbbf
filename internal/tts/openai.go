package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/chadiek/voice-bridge/internal/audio"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAISynthesizer calls the OpenAI speech endpoint and returns MP3.
type OpenAISynthesizer struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
	Voice      string
}

func NewOpenAISynthesizer(apiKey, model, voice string) *OpenAISynthesizer {
	if model == "" {
		model = string(openai.TTSModel1HD)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAISynthesizer{APIKey: apiKey, Model: model, Voice: voice}
}

func (o *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	if o.APIKey == "" {
		return audio.Clip{}, fmt.Errorf("openai tts: api key missing")
	}
	if text == "" {
		return audio.Clip{}, fmt.Errorf("openai tts: empty text")
	}

	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.HTTPClient != nil {
		cfg.HTTPClient = o.HTTPClient
	}
	resp, err := openai.NewClientWithConfig(cfg).CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(data) == 0 {
		return audio.Clip{}, fmt.Errorf("openai tts: empty audio")
	}
	return audio.Clip{Data: data, Format: audio.FormatMP3}, nil
}
