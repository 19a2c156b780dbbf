package mediastream

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_Start(t *testing.T) {
	raw := `{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ123","accountSid":"AC1","callSid":"CA1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}},"streamSid":"MZ123"}`
	ev, err := ParseEvent([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStart, ev.Event)
	assert.Equal(t, "MZ123", ev.SID())
	require.NotNil(t, ev.Start)
	assert.Equal(t, "CA1", ev.Start.CallSid)
	assert.Equal(t, 8000, ev.Start.MediaFormat.SampleRate)
}

func TestParseEvent_SIDFromStartPayload(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"start","start":{"streamSid":"MZ9"}}`))
	require.NoError(t, err)
	assert.Equal(t, "MZ9", ev.SID())
}

func TestParseEvent_Media(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F})
	ev, err := ParseEvent([]byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"2","timestamp":"5","payload":"` + payload + `"}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Media)
	assert.True(t, ev.Media.IsInbound())

	b, err := ev.Media.Audio()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x7F}, b)

	out := Media{Track: "outbound"}
	assert.False(t, out.IsInbound())
	unlabelled := Media{Payload: payload}
	assert.False(t, unlabelled.IsInbound())
}

func TestParseEvent_Malformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":        `{"event":`,
		"no event":        `{"streamSid":"MZ1"}`,
		"media no body":   `{"event":"media","streamSid":"MZ1"}`,
		"start no body":   `{"event":"start"}`,
		"wrong json type": `["media"]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}

	m := Media{Payload: "%%%"}
	_, err := m.Audio()
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestParseEvent_UnknownEventPassesThrough(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`))
	require.NoError(t, err)
	assert.Equal(t, EventConnected, ev.Event)
	assert.Empty(t, ev.SID())
}
