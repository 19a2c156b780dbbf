package twilio

import (
	"fmt"
	"os"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// Placeholder is replaced by the public host in TwiML templates.
const Placeholder = "<YOUR NGROK URL>"

// StreamPath is where Twilio opens the media stream WebSocket.
const StreamPath = "/streams"

// TwiML renders the document returned to Twilio when a call connects.
type TwiML struct {
	// Template, when set, is used verbatim with Placeholder replaced by
	// the host. Otherwise a <Connect><Stream> document is generated.
	Template string
	// Host is the public host without scheme.
	Host string
}

// LoadTwiML reads a template file. An empty path yields a generated document.
func LoadTwiML(path, host string) (*TwiML, error) {
	t := &TwiML{Host: host}
	if path == "" {
		return t, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("twilio: read twiml template: %w", err)
	}
	t.Template = string(b)
	return t, nil
}

func (t *TwiML) Render() (string, error) {
	if t.Template != "" {
		return strings.Replace(t.Template, Placeholder, t.Host, 1), nil
	}
	stream := &twiml.VoiceStream{Url: "wss://" + t.Host + StreamPath}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return "", fmt.Errorf("twilio: build twiml: %w", err)
	}
	return doc, nil
}
