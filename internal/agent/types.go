package agent

import (
	"context"

	"github.com/chadiek/voice-bridge/internal/audio"
	"github.com/chadiek/voice-bridge/internal/llm"
	"github.com/chadiek/voice-bridge/internal/transcript"
)

// Recognizer is one live speech recognition connection. Events carries
// endpointed utterances; Done closes when the connection ends.
type Recognizer interface {
	Send(frame []byte) error
	Events() <-chan transcript.Event
	Done() <-chan struct{}
	Err() error
	Finish() error
}

// Generator streams a reply for the conversation so far. Cancelling ctx
// ends the stream without an error event.
type Generator interface {
	Stream(ctx context.Context, messages []llm.Message) (<-chan llm.StreamEvent, error)
}

// Synthesizer returns the complete audio for one utterance.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// Transcoder converts a clip to 8 kHz mu-law.
type Transcoder interface {
	Transcode(ctx context.Context, clip audio.Clip) ([]byte, error)
}

// Output is the outbound side of the call. Play must check abort before
// every frame and return mediastream.ErrInterrupted when it stops early.
type Output interface {
	Play(ctx context.Context, streamSid string, mulaw []byte, abort func() bool) (int, error)
	Clear(streamSid string) error
	Mark(streamSid, name string) error
}
