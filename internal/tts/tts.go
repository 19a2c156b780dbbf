// Package tts turns reply text into audio clips. Each synthesizer returns the
// whole utterance; providers that can emit telephony audio directly do so and
// skip transcoding.
package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/chadiek/voice-bridge/internal/audio"
	"github.com/chadiek/voice-bridge/internal/config"
)

// New builds the synthesizer selected by cfg.Provider.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAISynthesizer(cfg.OpenAIKey, cfg.Model, cfg.Voice), nil
	case "deepgram":
		// the shared model key defaults to an OpenAI voice model
		model := cfg.Model
		if !strings.HasPrefix(model, "aura") {
			model = ""
		}
		return NewDeepgramClient(cfg.DeepgramKey, model), nil
	case "elevenlabs":
		return NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID), nil
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", cfg.Provider)
	}
}

// Synthesizer is implemented by every provider in this package.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}
