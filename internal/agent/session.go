package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chadiek/voice-bridge/internal/config"
	"github.com/chadiek/voice-bridge/internal/llm"
	"github.com/chadiek/voice-bridge/internal/logging"
	"github.com/chadiek/voice-bridge/internal/mediastream"
	"github.com/chadiek/voice-bridge/internal/metrics"
	"github.com/chadiek/voice-bridge/internal/transcript"
)

// Options is the turn-taking policy of a session.
type Options struct {
	SystemPrompt string
	Greeting     string
	Apology      string

	HistoryPolicy HistoryPolicy

	Debounce         time.Duration
	BargeInGrace     time.Duration
	GreetingDelay    time.Duration
	ThinkingDelayMin time.Duration
	ThinkingDelayMax time.Duration
	FragmentDelay    time.Duration

	MinTranscriptChars  int
	SentenceMinChars    int
	SentenceTerminators string
	ClearOnBargeIn      bool
}

func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		SystemPrompt:        cfg.SystemPrompt,
		Greeting:            cfg.Greeting,
		Apology:             cfg.Apology,
		HistoryPolicy:       WindowPolicy{Limit: cfg.HistoryLimit},
		Debounce:            cfg.Debounce,
		BargeInGrace:        cfg.BargeInGrace,
		GreetingDelay:       cfg.GreetingDelay,
		ThinkingDelayMin:    cfg.ThinkingDelayMin,
		ThinkingDelayMax:    cfg.ThinkingDelayMax,
		FragmentDelay:       cfg.FragmentDelay,
		MinTranscriptChars:  cfg.MinTranscriptChars,
		SentenceMinChars:    cfg.SentenceMinChars,
		SentenceTerminators: cfg.SentenceTerminators,
		ClearOnBargeIn:      cfg.ClearOnBargeIn,
	}
}

// Deps are the collaborators of one session.
type Deps struct {
	Recognizer  Recognizer
	Generator   Generator
	Synthesizer Synthesizer
	Transcoder  Transcoder
	Output      Output
	Metrics     *metrics.Metrics
	Log         *logging.Logger
}

// errSynthesis marks a failed synthesis request; the caller decides whether
// to apologise.
var errSynthesis = errors.New("synthesis failed")

// Session runs the conversation of one call: it feeds inbound audio to the
// recognizer, turns endpointed utterances into generation runs and speaks
// the reply fragment by fragment.
//
// Every accepted utterance starts a new epoch. Work started for an earlier
// epoch stops emitting audio at its next checkpoint, so a barge-in never
// leaks into the following turn or into another session.
type Session struct {
	id   string
	opts Options
	deps Deps
	log  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	once   sync.Once
	start  time.Time

	mu          sync.Mutex
	streamSid   string
	active      bool
	started     bool
	state       TurnState
	interrupted bool
	epoch       uint64
	speaking    int
	debounce    *time.Timer
	genCancel   context.CancelFunc
	history     *History
}

// NewSession builds a session and starts consuming recognizer events.
func NewSession(id string, deps Deps, opts Options) *Session {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		opts:    opts,
		deps:    deps,
		log:     deps.Log.With("call_id", id),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		start:   time.Now(),
		active:  true,
		state:   StateIdle,
		history: NewHistory(opts.SystemPrompt, opts.Greeting, opts.HistoryPolicy),
	}
	deps.Metrics.SessionsStarted.Inc()
	deps.Metrics.ActiveSessions.Inc()
	go s.listen()
	return s
}

// ID returns the call identifier assigned by the registry.
func (s *Session) ID() string { return s.id }

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// History returns the messages the next generation would be sent.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Messages()
}

// HandleMessage processes one inbound protocol frame. Malformed frames are
// ignored.
func (s *Session) HandleMessage(raw []byte) {
	ev, err := mediastream.ParseEvent(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("ignoring inbound frame")
		return
	}
	if sid := ev.SID(); sid != "" {
		s.mu.Lock()
		if s.streamSid == "" {
			s.streamSid = sid
			s.log.Info().Str("stream_sid", sid).Msg("stream bound")
		}
		s.mu.Unlock()
	}

	switch ev.Event {
	case mediastream.EventStart:
		s.begin()
	case mediastream.EventMedia:
		if !ev.Media.IsInbound() || !s.Active() {
			return
		}
		frame, err := ev.Media.Audio()
		if err != nil {
			s.log.Debug().Err(err).Msg("ignoring media frame")
			return
		}
		if err := s.deps.Recognizer.Send(frame); err != nil && !errors.Is(err, transcript.ErrNotConnected) {
			s.log.Warn().Err(err).Msg("recognizer send failed")
		}
	case mediastream.EventMark:
		if ev.Mark != nil {
			s.log.Debug().Str("mark", ev.Mark.Name).Msg("playback reached mark")
		}
	case mediastream.EventStop:
		s.log.Info().Msg("stream stopped by provider")
		s.Close()
	}
}

// begin moves Idle to Listening and schedules the greeting.
func (s *Session) begin() {
	s.mu.Lock()
	if !s.active || s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.state = StateListening
	epoch := s.epoch
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info().Msg("call started")
	go func() {
		defer s.wg.Done()
		if !sleep(s.ctx, s.opts.GreetingDelay) {
			return
		}
		if err := s.speak(s.ctx, epoch, s.opts.Greeting); err != nil {
			s.log.Error().Err(err).Msg("greeting failed")
		}
	}()
}

// listen delivers recognizer events in arrival order and terminates the
// session if the recognizer fails.
func (s *Session) listen() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.deps.Recognizer.Events():
			if ev.IsFinal {
				s.handleUserInput(ev.Text)
			}
		case <-s.deps.Recognizer.Done():
			if err := s.deps.Recognizer.Err(); err != nil {
				s.log.Error().Err(err).Msg("recognizer failed, ending session")
			}
			s.shutdown()
			return
		}
	}
}

// handleUserInput accepts a final transcript: it interrupts any output,
// waits the grace window, records the utterance and (re)arms the debounce
// timer.
func (s *Session) handleUserInput(text string) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < s.opts.MinTranscriptChars {
		s.deps.Metrics.IgnoredTranscript.Inc()
		s.log.Debug().Str("text", text).Msg("ignoring short transcript")
		return
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	busy := s.speaking > 0 || s.state == StateGenerating || s.state == StateSpeaking
	s.epoch++
	s.interrupted = true
	s.state = StateDebouncing
	if s.genCancel != nil {
		s.genCancel()
		s.genCancel = nil
	}
	sid := s.streamSid
	s.mu.Unlock()

	s.log.Info().Str("text", text).Msg("user input received")
	if busy {
		s.deps.Metrics.BargeIns.Inc()
		s.log.Info().Msg("barge-in")
		if s.opts.ClearOnBargeIn {
			if err := s.deps.Output.Clear(sid); err != nil {
				s.log.Warn().Err(err).Msg("clear failed")
			}
		}
	}

	if !sleep(s.ctx, s.opts.BargeInGrace) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.history.AddUser(text)
	if s.debounce != nil {
		s.debounce.Stop()
	}
	epoch := s.epoch
	s.debounce = time.AfterFunc(s.opts.Debounce, func() { s.commitTurn(epoch) })
}

// commitTurn runs when the debounce window closes without new input. A
// timer that fired just as a newer utterance arrived is stale and does
// nothing.
func (s *Session) commitTurn(epoch uint64) {
	s.mu.Lock()
	if !s.active || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.debounce = nil
	s.interrupted = false
	s.state = StateGenerating
	ctx, cancel := context.WithCancel(s.ctx)
	s.genCancel = cancel
	messages := s.history.Messages()
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer cancel()
	s.generate(ctx, epoch, messages)
}

// generate streams one reply, dispatching fragments to a playback worker as
// soon as the segmenter cuts them.
func (s *Session) generate(ctx context.Context, epoch uint64, messages []llm.Message) {
	s.deps.Metrics.Turns.Inc()
	log := s.log.With("epoch", fmt.Sprint(epoch))
	requested := time.Now()

	events, err := s.deps.Generator.Stream(ctx, messages)
	if err != nil {
		if ctx.Err() == nil {
			s.deps.Metrics.GenerationFailures.Inc()
			log.Error().Err(err).Msg("generation failed")
			if err := s.speak(ctx, epoch, s.opts.Apology); err != nil {
				log.Error().Err(err).Msg("apology failed")
			}
		}
		s.finishTurn(epoch)
		return
	}

	if !sleep(ctx, s.thinkingDelay()) {
		s.finishTurn(epoch)
		return
	}

	player := s.startPlayback(ctx, epoch)
	seg := NewSegmenter(s.opts.SentenceTerminators, s.opts.SentenceMinChars)
	var (
		full      strings.Builder
		completed bool
		failure   error
		first     = true
	)
stream:
	for {
		select {
		case <-ctx.Done():
			break stream
		case ev, ok := <-events:
			if !ok {
				break stream
			}
			if !s.current(epoch) {
				break stream
			}
			switch ev.Type {
			case llm.EventDelta:
				if first {
					s.deps.Metrics.FirstTokenLatency.Observe(time.Since(requested).Seconds())
					first = false
				}
				full.WriteString(ev.Content)
				if fragment, ok := seg.Push(ev.Content); ok {
					s.setState(epoch, StateSpeaking)
					player.enqueue(fragment, s.opts.FragmentDelay)
				}
			case llm.EventDone:
				completed = true
				break stream
			case llm.EventError:
				failure = ev.Err
				break stream
			}
		}
	}

	switch {
	case failure != nil:
		s.deps.Metrics.GenerationFailures.Inc()
		log.Error().Err(failure).Msg("generation stream failed")
		player.enqueue(s.opts.Apology, 0)
	case s.current(epoch):
		if tail := seg.Flush(); tail != "" {
			s.setState(epoch, StateSpeaking)
			player.enqueue(tail, 0)
		}
	}
	player.finish()

	reply := strings.TrimSpace(full.String())
	if completed && reply != "" && s.current(epoch) {
		s.mu.Lock()
		s.history.AddReply(reply)
		s.mu.Unlock()
		log.Info().Str("reply", reply).Msg("assistant response generated")
	}
	s.finishTurn(epoch)
}

// finishTurn returns to Listening unless a newer turn has taken over.
func (s *Session) finishTurn(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || !s.active {
		return
	}
	s.state = StateListening
	s.genCancel = nil
}

func (s *Session) setState(epoch uint64, st TurnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch && s.active {
		s.state = st
	}
}

// current reports whether work started in epoch may still emit audio.
func (s *Session) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.interrupted && s.epoch == epoch
}

func (s *Session) thinkingDelay() time.Duration {
	lo, hi := s.opts.ThinkingDelayMin, s.opts.ThinkingDelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// speak synthesizes, transcodes and plays one utterance, checking for
// interruption after each slow step. Interrupted and untranscodable
// utterances are dropped silently; only synthesis failures are returned.
func (s *Session) speak(ctx context.Context, epoch uint64, text string) error {
	if !s.current(epoch) {
		return nil
	}
	log := s.log.With("epoch", fmt.Sprint(epoch))

	started := time.Now()
	clip, err := s.deps.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil || !s.current(epoch) {
			s.deps.Metrics.UtterancesAbandoned.Inc()
			return nil
		}
		s.deps.Metrics.SynthesisFailures.Inc()
		return fmt.Errorf("%w: %v", errSynthesis, err)
	}
	s.deps.Metrics.SynthesisDuration.Observe(time.Since(started).Seconds())
	if !s.current(epoch) {
		s.deps.Metrics.UtterancesAbandoned.Inc()
		log.Debug().Msg("interrupted after synthesis, skipping audio send")
		return nil
	}

	mulaw, err := s.deps.Transcoder.Transcode(ctx, clip)
	if err != nil {
		s.deps.Metrics.TranscodeFailures.Inc()
		log.Error().Err(err).Str("text", text).Msg("transcode failed, utterance dropped")
		return nil
	}
	if !s.current(epoch) {
		s.deps.Metrics.UtterancesAbandoned.Inc()
		log.Debug().Msg("interrupted after transcoding, skipping audio send")
		return nil
	}

	s.mu.Lock()
	sid := s.streamSid
	s.speaking++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.speaking--
		s.mu.Unlock()
	}()

	frames, err := s.deps.Output.Play(ctx, sid, mulaw, func() bool { return !s.current(epoch) })
	switch {
	case errors.Is(err, mediastream.ErrInterrupted):
		s.deps.Metrics.UtterancesAbandoned.Inc()
		log.Debug().Int("frames", frames).Msg("playback interrupted")
		return nil
	case err != nil:
		log.Warn().Err(err).Int("frames", frames).Msg("playback failed")
		return nil
	}
	s.deps.Metrics.UtterancesSpoken.Inc()
	log.Info().Str("text", text).Int("frames", frames).Msg("spoken")
	if err := s.deps.Output.Mark(sid, fmt.Sprintf("epoch-%d", epoch)); err != nil {
		log.Debug().Err(err).Msg("mark failed")
	}
	return nil
}

type fragment struct {
	text  string
	delay time.Duration
}

// playback speaks the fragments of one turn strictly in order while
// generation continues.
type playback struct {
	s     *Session
	ctx   context.Context
	epoch uint64
	queue chan fragment
	done  chan struct{}
}

func (s *Session) startPlayback(ctx context.Context, epoch uint64) *playback {
	p := &playback{s: s, ctx: ctx, epoch: epoch, queue: make(chan fragment, 32), done: make(chan struct{})}
	go p.run()
	return p
}

func (p *playback) enqueue(text string, delay time.Duration) {
	select {
	case p.queue <- fragment{text: text, delay: delay}:
	case <-p.ctx.Done():
	}
}

// finish closes the queue and waits for the worker to drain it.
func (p *playback) finish() {
	close(p.queue)
	<-p.done
}

func (p *playback) run() {
	defer close(p.done)
	apologised := false
	for f := range p.queue {
		if !p.s.current(p.epoch) {
			continue
		}
		if !sleep(p.ctx, f.delay) {
			continue
		}
		err := p.s.speak(p.ctx, p.epoch, f.text)
		if err == nil {
			continue
		}
		p.s.log.Error().Err(err).Msg("tts error")
		if errors.Is(err, errSynthesis) && !apologised && f.text != p.s.opts.Apology {
			apologised = true
			if err := p.s.speak(p.ctx, p.epoch, p.s.opts.Apology); err != nil {
				p.s.log.Error().Err(err).Msg("apology failed")
			}
		}
	}
}

// Close terminates the session: no further audio is emitted, the
// recognizer is finished and in-flight work is awaited. Safe to call more
// than once.
func (s *Session) Close() {
	s.shutdown()
	s.wg.Wait()
}

func (s *Session) shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.active = false
		s.state = StateIdle
		if s.debounce != nil {
			s.debounce.Stop()
			s.debounce = nil
		}
		if s.genCancel != nil {
			s.genCancel()
			s.genCancel = nil
		}
		s.mu.Unlock()

		s.cancel()
		if err := s.deps.Recognizer.Finish(); err != nil {
			s.log.Warn().Err(err).Msg("recognizer finish failed")
		}
		s.deps.Metrics.ActiveSessions.Dec()
		s.deps.Metrics.SessionDuration.Observe(time.Since(s.start).Seconds())
		s.log.Info().Msg("connection closed")
		close(s.done)
	})
}

// sleep waits d or until ctx is done; it reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
