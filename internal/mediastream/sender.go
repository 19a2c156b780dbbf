package mediastream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chadiek/voice-bridge/internal/audio"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrInterrupted is returned when playback stopped at a checkpoint.
var ErrInterrupted = errors.New("mediastream: playback interrupted")

// DefaultChunkSize is the outbound frame size in bytes (half a second of audio).
const DefaultChunkSize = 4000

// JSONWriter is the write side of the call's WebSocket. *websocket.Conn
// satisfies it.
type JSONWriter interface {
	WriteJSON(v any) error
}

// SenderOptions tunes outbound framing.
type SenderOptions struct {
	ChunkSize int
	// Pace waits each frame's playback duration before sending the next.
	Pace bool
	// Frames, if set, is incremented for every frame written.
	Frames prometheus.Counter
}

// Sender writes outbound frames to one call. Writes are serialized so that
// playback, clear and mark frames never interleave on the socket.
type Sender struct {
	mu   sync.Mutex
	w    JSONWriter
	opts SenderOptions
}

func NewSender(w JSONWriter, opts SenderOptions) *Sender {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Sender{w: w, opts: opts}
}

// Play slices mulaw into frames and sends them in order. abort is consulted
// before every frame; when it reports true, or ctx is done, Play stops and
// returns ErrInterrupted along with the number of frames already sent.
func (s *Sender) Play(ctx context.Context, streamSid string, mulaw []byte, abort func() bool) (int, error) {
	if streamSid == "" {
		return 0, fmt.Errorf("mediastream: play: stream sid not known yet")
	}
	sent := 0
	for _, frame := range audio.Chunk(mulaw, s.opts.ChunkSize) {
		if ctx.Err() != nil || (abort != nil && abort()) {
			return sent, ErrInterrupted
		}
		msg := outboundMedia{
			Event:     EventMedia,
			StreamSid: streamSid,
			Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
		}
		if err := s.write(msg); err != nil {
			return sent, fmt.Errorf("mediastream: send frame %d: %w", sent, err)
		}
		sent++
		if s.opts.Frames != nil {
			s.opts.Frames.Inc()
		}
		if s.opts.Pace {
			t := time.NewTimer(audio.PlaybackDuration(len(frame)))
			select {
			case <-ctx.Done():
				t.Stop()
				return sent, ErrInterrupted
			case <-t.C:
			}
		}
	}
	return sent, nil
}

// Clear asks Twilio to drop audio it has buffered but not yet played.
func (s *Sender) Clear(streamSid string) error {
	if streamSid == "" {
		return nil
	}
	if err := s.write(outboundClear{Event: "clear", StreamSid: streamSid}); err != nil {
		return fmt.Errorf("mediastream: clear: %w", err)
	}
	return nil
}

// Mark queues a named marker after the audio sent so far; Twilio echoes it
// back once playback reaches it.
func (s *Sender) Mark(streamSid, name string) error {
	if streamSid == "" {
		return nil
	}
	if err := s.write(outboundMark{Event: EventMark, StreamSid: streamSid, Mark: Mark{Name: name}}); err != nil {
		return fmt.Errorf("mediastream: mark: %w", err)
	}
	return nil
}

func (s *Sender) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.WriteJSON(v)
}
