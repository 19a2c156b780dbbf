// Package calls owns the live calls: every media stream WebSocket becomes
// an agent.Session registered under a fresh call id.
package calls

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chadiek/voice-bridge/internal/agent"
	"github.com/chadiek/voice-bridge/internal/logging"
	"github.com/chadiek/voice-bridge/internal/mediastream"
	"github.com/chadiek/voice-bridge/internal/metrics"
)

// RecognizerFactory opens one recognizer connection per call.
type RecognizerFactory func(ctx context.Context, log *logging.Logger) (agent.Recognizer, error)

// Providers are shared by every call. Generator, Synthesizer and Transcoder
// must be safe for concurrent use.
type Providers struct {
	Recognizer  RecognizerFactory
	Generator   agent.Generator
	Synthesizer agent.Synthesizer
	Transcoder  agent.Transcoder
}

// Registry tracks active sessions by call id.
type Registry struct {
	providers Providers
	opts      agent.Options
	sendOpts  mediastream.SenderOptions
	metrics   *metrics.Metrics
	log       *logging.Logger

	mu       sync.Mutex
	sessions map[string]*agent.Session
}

func NewRegistry(p Providers, opts agent.Options, sendOpts mediastream.SenderOptions, m *metrics.Metrics, log *logging.Logger) *Registry {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logging.Nop()
	}
	if sendOpts.Frames == nil {
		sendOpts.Frames = m.FramesSent
	}
	return &Registry{
		providers: p,
		opts:      opts,
		sendOpts:  sendOpts,
		metrics:   m,
		log:       log.Sub("calls"),
		sessions:  make(map[string]*agent.Session),
	}
}

// Serve runs one call over conn until either side ends it. The connection
// is closed on return.
func (r *Registry) Serve(ctx context.Context, conn *websocket.Conn) error {
	id := uuid.NewString()
	log := r.log.With("call_id", id)
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("media stream connected")

	rec, err := r.providers.Recognizer(ctx, log)
	if err != nil {
		log.Error().Err(err).Msg("recognizer unavailable, closing stream")
		_ = conn.Close()
		return fmt.Errorf("calls: open recognizer: %w", err)
	}

	sess := agent.NewSession(id, agent.Deps{
		Recognizer:  rec,
		Generator:   r.providers.Generator,
		Synthesizer: r.providers.Synthesizer,
		Transcoder:  r.providers.Transcoder,
		Output:      mediastream.NewSender(conn, r.sendOpts),
		Metrics:     r.metrics,
		Log:         log,
	}, r.opts)
	r.add(sess)
	defer r.remove(id)

	// A session that ends on its own (recognizer failure, stop event)
	// unblocks the read loop below.
	go func() {
		<-sess.Done()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("media stream read failed")
			}
			break
		}
		sess.HandleMessage(msg)
	}
	sess.Close()
	return nil
}

func (r *Registry) add(s *agent.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session for a call id.
func (r *Registry) Get(id string) (*agent.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live calls.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll ends every live call and waits for their in-flight work.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*agent.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *agent.Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
	if len(sessions) > 0 {
		r.log.Info().Int("calls", len(sessions)).Msg("closed live calls")
	}
}
