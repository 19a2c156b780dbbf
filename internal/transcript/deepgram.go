package transcript

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"

	"github.com/chadiek/voice-bridge/internal/logging"
)

// liveClient is the part of the SDK's live client the adapter drives.
type liveClient interface {
	Connect() bool
	Write(p []byte) (int, error)
	Stop()
}

// Deepgram is a live transcription connection to Deepgram.
type Deepgram struct {
	*stream
	client liveClient
	log    *logging.Logger

	stopOnce sync.Once
}

// DialDeepgram opens the live WebSocket with interim results off, so every
// message is final and only endpointing decides when an utterance is over.
func DialDeepgram(ctx context.Context, apiKey string, opts Options, log *logging.Logger) (*Deepgram, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key missing")
	}
	d := &Deepgram{stream: newStream(), log: log}

	tOptions := &clientinterfaces.LiveTranscriptionOptions{
		Model:          opts.Model,
		Language:       opts.Language,
		Endpointing:    strconv.Itoa(opts.EndpointingMs),
		InterimResults: false,
		Encoding:       opts.Encoding,
		SampleRate:     opts.SampleRate,
		Channels:       1,
		Punctuate:      true,
		SmartFormat:    true,
	}
	c, err := listen.NewWSUsingCallback(ctx, apiKey, &clientinterfaces.ClientOptions{}, tOptions, &liveCallback{d: d})
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	if ok := c.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	d.client = c
	return d, nil
}

// Send forwards one raw audio frame.
func (d *Deepgram) Send(frame []byte) error {
	if d.ended() {
		return ErrNotConnected
	}
	if _, err := d.client.Write(frame); err != nil {
		return fmt.Errorf("deepgram: write: %w", err)
	}
	return nil
}

// Finish closes the upstream connection, also when the provider already
// ended the stream. It is safe to call more than once.
func (d *Deepgram) Finish() error {
	d.end(nil)
	d.stopOnce.Do(func() {
		if d.client != nil {
			d.client.Stop()
		}
	})
	return nil
}

func (d *Deepgram) handle(isFinal, speechFinal bool, text string) {
	text = strings.TrimSpace(text)
	if !isFinal || !speechFinal || text == "" {
		return
	}
	d.log.Debug().Str("text", text).Msg("final transcript")
	d.emit(Event{Text: text, IsFinal: true, SpeechFinal: true})
}

type liveCallback struct{ d *Deepgram }

func (c *liveCallback) Open(*msginterfaces.OpenResponse) error {
	c.d.log.Debug().Msg("deepgram connection open")
	return nil
}

func (c *liveCallback) Message(mr *msginterfaces.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	c.d.handle(mr.IsFinal, mr.SpeechFinal, mr.Channel.Alternatives[0].Transcript)
	return nil
}

func (c *liveCallback) Metadata(*msginterfaces.MetadataResponse) error           { return nil }
func (c *liveCallback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error { return nil }
func (c *liveCallback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error   { return nil }

func (c *liveCallback) Close(*msginterfaces.CloseResponse) error {
	c.d.end(ErrConnectionClosed)
	return nil
}

func (c *liveCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.d.log.Error().Msgf("deepgram error: %+v", er)
	c.d.end(fmt.Errorf("deepgram: %+v", er))
	return nil
}

func (c *liveCallback) UnhandledEvent(b []byte) error {
	c.d.log.Trace().Bytes("raw", b).Msg("deepgram unhandled event")
	return nil
}
