package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the voice bridge.
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionDuration prometheus.Histogram

	// Turn metrics
	Turns             prometheus.Counter
	BargeIns          prometheus.Counter
	IgnoredTranscript prometheus.Counter

	// Generation metrics
	GenerationFailures prometheus.Counter
	FirstTokenLatency  prometheus.Histogram

	// Speech output metrics
	UtterancesSpoken    prometheus.Counter
	UtterancesAbandoned prometheus.Counter
	SynthesisFailures   prometheus.Counter
	TranscodeFailures   prometheus.Counter
	SynthesisDuration   prometheus.Histogram
	FramesSent          prometheus.Counter
}

// New creates all metrics on a private registry so multiple instances can coexist.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_sessions",
			Help: "Current number of active call sessions",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_sessions_started_total",
			Help: "Total number of call sessions accepted",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_session_duration_seconds",
			Help:    "Duration of call sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		Turns: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_turns_total",
			Help: "Total number of generation runs started",
		}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_barge_ins_total",
			Help: "Total number of accepted caller utterances that interrupted output",
		}),
		IgnoredTranscript: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_ignored_transcripts_total",
			Help: "Total number of final transcripts dropped by the length filter",
		}),

		GenerationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_generation_failures_total",
			Help: "Total number of failed generation streams",
		}),
		FirstTokenLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_generation_first_token_seconds",
			Help:    "Time from generation request to first token",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		UtterancesSpoken: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_utterances_spoken_total",
			Help: "Total number of utterances fully sent to the call",
		}),
		UtterancesAbandoned: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_utterances_abandoned_total",
			Help: "Total number of utterances abandoned at an interrupt checkpoint",
		}),
		SynthesisFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_synthesis_failures_total",
			Help: "Total number of failed synthesis requests",
		}),
		TranscodeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_transcode_failures_total",
			Help: "Total number of failed transcodes",
		}),
		SynthesisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_synthesis_duration_seconds",
			Help:    "Time spent synthesizing one utterance",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_frames_sent_total",
			Help: "Total number of outbound media frames",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
