// Package transcript adapts streaming speech recognition services to a
// single contract: push raw telephony frames in, read endpointed utterances
// out.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chadiek/voice-bridge/internal/config"
	"github.com/chadiek/voice-bridge/internal/logging"
)

var (
	// ErrNotConnected is returned by Send after the stream has ended.
	ErrNotConnected = errors.New("transcript: not connected")
	// ErrConnectionClosed reports that the provider hung up on its own.
	ErrConnectionClosed = errors.New("transcript: connection closed by provider")
)

// Event is one transcript update. Adapters only emit events that are both
// final and speech-final, i.e. a complete endpointed utterance.
type Event struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool
}

// Options are the fixed recognition parameters of a call.
type Options struct {
	Model         string
	Language      string
	EndpointingMs int
	Encoding      string
	SampleRate    int
}

// OptionsFromConfig fills Options for Twilio's 8 kHz mu-law stream.
func OptionsFromConfig(cfg config.STTConfig) Options {
	return Options{
		Model:         cfg.Model,
		Language:      cfg.Language,
		EndpointingMs: cfg.EndpointingMs,
		Encoding:      "mulaw",
		SampleRate:    8000,
	}
}

// Recognizer is one live recognition connection.
type Recognizer interface {
	Send(frame []byte) error
	Events() <-chan Event
	// Done is closed when the connection ends, normally or not.
	Done() <-chan struct{}
	// Err reports why Done was closed; nil after Finish.
	Err() error
	Finish() error
}

// Dial opens a recognizer for the configured provider.
func Dial(ctx context.Context, cfg config.STTConfig, log *logging.Logger) (Recognizer, error) {
	opts := OptionsFromConfig(cfg)
	switch cfg.Provider {
	case "", "deepgram":
		return DialDeepgram(ctx, cfg.DeepgramKey, opts, log)
	case "assemblyai":
		a := NewAssemblyAIService(cfg.AssemblyAIKey, opts, log)
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("transcript: unknown provider %q", cfg.Provider)
	}
}

// stream is the event side shared by the adapters. Events is never closed;
// readers select on Done as well.
type stream struct {
	events chan Event
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newStream() *stream {
	return &stream{events: make(chan Event, 32), done: make(chan struct{})}
}

func (s *stream) Events() <-chan Event  { return s.events }
func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// emit delivers a final utterance; it gives up once the stream has ended.
func (s *stream) emit(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// end marks the stream finished. Only the first call has an effect.
func (s *stream) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *stream) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
