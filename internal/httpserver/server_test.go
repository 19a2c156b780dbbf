package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voice-bridge/internal/config"
	"github.com/chadiek/voice-bridge/internal/metrics"
	"github.com/chadiek/voice-bridge/internal/twilio"
)

type fakeCaller struct {
	to  string
	sid string
	err error
}

func (f *fakeCaller) Call(to string) (string, error) {
	f.to = to
	return f.sid, f.err
}

// echoStreams answers every text frame with the same frame.
type echoStreams struct{}

func (echoStreams) Serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		if err := conn.WriteMessage(kind, msg); err != nil {
			return err
		}
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PublicHost = "https://abc.ngrok.io"
	return cfg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestServer_Healthz(t *testing.T) {
	srv := New(Deps{Config: testConfig()})
	w := do(t, srv.Router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_RootAndPing(t *testing.T) {
	srv := New(Deps{Config: testConfig()})

	w := do(t, srv.Router, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello, your server is running.", w.Body.String())

	w = do(t, srv.Router, http.MethodPost, "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestServer_UnknownRoute(t *testing.T) {
	srv := New(Deps{Config: testConfig()})
	w := do(t, srv.Router, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServer_TwiMLGenerated(t *testing.T) {
	srv := New(Deps{Config: testConfig()})
	w := do(t, srv.Router, http.MethodPost, "/twiml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/xml")
	assert.Contains(t, w.Body.String(), "wss://abc.ngrok.io/streams")
}

func TestServer_TwiMLTemplate(t *testing.T) {
	tmpl := &twilio.TwiML{Template: `<Response><Stream url="wss://<YOUR NGROK URL>/streams"/></Response>`, Host: "abc.ngrok.io"}
	srv := New(Deps{Config: testConfig(), TwiML: tmpl})
	w := do(t, srv.Router, http.MethodPost, "/twiml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `<Response><Stream url="wss://abc.ngrok.io/streams"/></Response>`, w.Body.String())
}

func TestServer_TwiMLRequiresSignatureWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Twilio.ValidateSignature = true
	cfg.Twilio.AuthToken = "secret"
	srv := New(Deps{Config: cfg})

	w := do(t, srv.Router, http.MethodPost, "/twiml", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestServer_Outbound(t *testing.T) {
	caller := &fakeCaller{sid: "CA42"}
	srv := New(Deps{Config: testConfig(), Caller: caller})

	w := do(t, srv.Router, http.MethodPost, "/outbound", `{"to":"+33612345678"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"callSid":"CA42"}`, w.Body.String())
	assert.Equal(t, "+33612345678", caller.to)
}

func TestServer_OutboundErrors(t *testing.T) {
	cases := []struct {
		name   string
		caller twilio.Caller
		body   string
		status int
	}{
		{"missing_to", &fakeCaller{}, `{}`, http.StatusBadRequest},
		{"bad_json", &fakeCaller{}, `not-json`, http.StatusBadRequest},
		{"not_configured", nil, `{"to":"+33612345678"}`, http.StatusServiceUnavailable},
		{"twilio_failure", &fakeCaller{err: errors.New("21211 invalid number")}, `{"to":"+1"}`, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(Deps{Config: testConfig(), Caller: tc.caller})
			w := do(t, srv.Router, http.MethodPost, "/outbound", tc.body)
			assert.Equal(t, tc.status, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.SessionsStarted.Inc()
	srv := New(Deps{Config: testConfig(), Metrics: m})

	w := do(t, srv.Router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voicebridge_sessions_started_total 1")
}

func TestServer_Streams(t *testing.T) {
	srv := New(Deps{Config: testConfig(), Streams: echoStreams{}})
	ts := httptest.NewServer(srv.Router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/streams", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"event":"connected"}`, string(msg))
}

func TestServer_StreamsWithoutUpgrade(t *testing.T) {
	srv := New(Deps{Config: testConfig(), Streams: echoStreams{}})
	w := do(t, srv.Router, http.MethodGet, "/streams", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
