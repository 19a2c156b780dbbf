package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.Turns.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Turns))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Turns))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.ActiveSessions.Set(3)
	m.FramesSent.Add(5)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voicebridge_active_sessions 3")
	assert.Contains(t, w.Body.String(), "voicebridge_frames_sent_total 5")
}
