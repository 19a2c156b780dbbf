// Package twilio is the call-control side of the bridge: it places outbound
// calls through the Twilio REST API, renders the TwiML that points a call at
// the media stream endpoint and validates webhook signatures.
package twilio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/chadiek/voice-bridge/internal/config"
	"github.com/chadiek/voice-bridge/internal/logging"
)

// ErrNotConfigured is returned when account credentials are missing.
var ErrNotConfigured = errors.New("twilio: not configured")

// DefaultFromNumber is used when no caller number is configured.
const DefaultFromNumber = "+15017122661"

// RingTimeout is how long Twilio lets an outbound call ring, in seconds.
const RingTimeout = 15

// Caller places outbound calls and returns the call SID.
type Caller interface {
	Call(to string) (string, error)
}

// Client places calls that fetch their TwiML from this server.
type Client struct {
	rest     *twilio.RestClient
	from     string
	twimlURL string
	log      *logging.Logger
}

// NewClient builds a REST client. publicHost is the externally reachable
// host (with or without scheme) Twilio will call back.
func NewClient(cfg config.TwilioConfig, publicHost string, log *logging.Logger) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrNotConfigured
	}
	if log == nil {
		log = logging.Nop()
	}
	from := cfg.PhoneNumber
	if from == "" {
		from = DefaultFromNumber
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		rest:     rest,
		from:     from,
		twimlURL: PublicURL(publicHost, "/twiml"),
		log:      log,
	}, nil
}

// TwiMLURL is the callback URL handed to Twilio for new calls.
func (c *Client) TwiMLURL() string { return c.twimlURL }

func (c *Client) Call(to string) (string, error) {
	if to == "" {
		return "", errors.New("twilio: missing destination number")
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetUrl(c.twimlURL)
	params.SetMethod("POST")
	params.SetTimeout(RingTimeout)

	c.log.Info().Str("to", to).Str("twiml_url", c.twimlURL).Msg("placing outbound call")
	resp, err := c.rest.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio: create call: %w", err)
	}
	if resp == nil || resp.Sid == nil {
		return "", errors.New("twilio: create call returned no sid")
	}
	return *resp.Sid, nil
}

// PublicURL joins host and path. A host without scheme is assumed to be
// served over https.
func PublicURL(host, path string) string {
	base := strings.Trim(host, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
