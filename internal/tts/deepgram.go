package tts

import (
	"context"
	"fmt"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/chadiek/voice-bridge/internal/audio"
)

// DeepgramClient synthesizes with Deepgram Aura over the speak WebSocket,
// requesting 8 kHz mu-law directly.
type DeepgramClient struct {
	apiKey string
	model  string

	// idleWindow ends collection once audio has started and then paused.
	idleWindow time.Duration
	deadline   time.Duration
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{apiKey: apiKey, model: model, idleWindow: 400 * time.Millisecond, deadline: 12 * time.Second}
}

func (d *DeepgramClient) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	if d.apiKey == "" {
		return audio.Clip{}, fmt.Errorf("deepgram: API key missing")
	}
	if text == "" {
		return audio.Clip{}, fmt.Errorf("deepgram: empty text")
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "mulaw",
		SampleRate: audio.TelephonySampleRate,
	}

	cb := &speakCallback{}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return audio.Clip{}, fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return audio.Clip{}, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		return audio.Clip{}, fmt.Errorf("deepgram: flush: %w", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(d.deadline)
	for {
		select {
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		case <-ticker.C:
			if data, done := cb.result(d.idleWindow); done {
				return audio.Clip{Data: data, Format: audio.FormatMulaw, SampleRate: audio.TelephonySampleRate}, nil
			}
			if err := cb.failure(); err != nil {
				return audio.Clip{}, err
			}
			if time.Now().After(deadline) {
				if data, _ := cb.result(0); len(data) > 0 {
					return audio.Clip{Data: data, Format: audio.FormatMulaw, SampleRate: audio.TelephonySampleRate}, nil
				}
				return audio.Clip{}, fmt.Errorf("deepgram: no audio before deadline")
			}
		}
	}
}

// speakCallback accumulates binary frames until the server flushes or the
// stream goes quiet.
type speakCallback struct {
	mu      sync.Mutex
	buf     []byte
	last    time.Time
	flushed bool
	err     error
}

// result returns the audio once the server has flushed, or once it has been
// idle for longer than idle after producing audio.
func (s *speakCallback) result(idle time.Duration) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil, false
	}
	if s.flushed || time.Since(s.last) > idle {
		return append([]byte(nil), s.buf...), true
	}
	return nil, false
}

func (s *speakCallback) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error {
	s.mu.Lock()
	s.flushed = true
	s.mu.Unlock()
	return nil
}
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error   { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error     { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error { return nil }
func (s *speakCallback) Error(er *msginterfaces.ErrorResponse) error {
	s.mu.Lock()
	s.err = fmt.Errorf("deepgram: %+v", er)
	s.mu.Unlock()
	return nil
}
func (s *speakCallback) UnhandledEvent([]byte) error { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if len(byMsg) == 0 {
		return nil
	}
	s.mu.Lock()
	s.buf = append(s.buf, byMsg...)
	s.last = time.Now()
	s.mu.Unlock()
	return nil
}
