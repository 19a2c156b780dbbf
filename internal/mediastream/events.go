// Package mediastream speaks the Twilio Media Streams WebSocket protocol:
// it parses inbound events and sends transcoded audio back as ordered
// base64 media frames.
package mediastream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned for frames that are not valid protocol events.
var ErrMalformedEvent = errors.New("mediastream: malformed event")

// Inbound event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

// TrackInbound is the caller's side of the call.
const TrackInbound = "inbound"

// Event is one inbound protocol frame. Only the payload matching Event is set.
type Event struct {
	Event          string `json:"event"`
	StreamSid      string `json:"streamSid,omitempty"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	Start          *Start `json:"start,omitempty"`
	Media          *Media `json:"media,omitempty"`
	Stop           *Stop  `json:"stop,omitempty"`
	Mark           *Mark  `json:"mark,omitempty"`
}

// Start announces the stream and its media format.
type Start struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Media carries one base64 audio payload.
type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type Stop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type Mark struct {
	Name string `json:"name"`
}

// ParseEvent decodes one inbound frame. Frames without an event name, or
// whose event-specific payload is missing, are malformed.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch ev.Event {
	case "":
		return Event{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	case EventStart:
		if ev.Start == nil {
			return Event{}, fmt.Errorf("%w: start without payload", ErrMalformedEvent)
		}
	case EventMedia:
		if ev.Media == nil {
			return Event{}, fmt.Errorf("%w: media without payload", ErrMalformedEvent)
		}
	}
	return ev, nil
}

// SID returns the stream identifier declared by the frame, if any.
func (e Event) SID() string {
	if e.StreamSid != "" {
		return e.StreamSid
	}
	if e.Start != nil {
		return e.Start.StreamSid
	}
	return ""
}

// IsInbound reports whether a media frame belongs to the caller's track.
// Unlabelled frames are not.
func (m *Media) IsInbound() bool {
	return m.Track == TrackInbound
}

// Audio decodes the payload.
func (m *Media) Audio() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedEvent, err)
	}
	return b, nil
}

// Outbound frames.

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

type outboundMark struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Mark      Mark   `json:"mark"`
}
