package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/voice-bridge/internal/logging"
)

// DefaultAssemblyAIURL is the v3 universal streaming endpoint.
const DefaultAssemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

// minBatchBytes is 100ms of 8 kHz mu-law; the service rejects chunks under 50ms.
const minBatchBytes = 800

// AssemblyAIService streams mu-law audio to AssemblyAI and emits formatted
// end-of-turn transcripts.
type AssemblyAIService struct {
	*stream

	URL    string
	apiKey string
	opts   Options
	log    *logging.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	audioData chan []byte
	writeMu   sync.Mutex
	wg        sync.WaitGroup
}

// AssemblyAI message types
type BeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type TurnMessage struct {
	Type          string `json:"type"`
	TurnOrder     int    `json:"turn_order"`
	Transcript    string `json:"transcript"`
	EndOfTurn     bool   `json:"end_of_turn"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAIService(apiKey string, opts Options, log *logging.Logger) *AssemblyAIService {
	return &AssemblyAIService{
		stream:    newStream(),
		URL:       DefaultAssemblyAIURL,
		apiKey:    apiKey,
		opts:      opts,
		log:       log,
		audioData: make(chan []byte, 1000),
	}
}

// Connect establishes the WebSocket connection and starts the reader and
// writer goroutines.
func (s *AssemblyAIService) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("AssemblyAI API key is empty")
	}

	encoding := "pcm_mulaw"
	if s.opts.Encoding == "linear16" {
		encoding = "pcm_s16le"
	}
	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(s.opts.SampleRate))
	params.Set("encoding", encoding)
	params.Set("format_turns", "true")
	if s.opts.EndpointingMs > 0 {
		params.Set("min_end_of_turn_silence_when_confident", strconv.Itoa(s.opts.EndpointingMs))
	}
	wsURL := s.URL + "?" + params.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{"Authorization": {s.apiKey}})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to AssemblyAI (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}
	s.conn = conn

	go s.handleMessages(conn)
	s.wg.Add(1)
	go s.sendAudioData(conn)

	s.log.Debug().Str("url", s.URL).Msg("connected to AssemblyAI streaming service")
	return nil
}

// Send queues one audio frame; frames are batched before being written.
func (s *AssemblyAIService) Send(frame []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil || s.ended() {
		return ErrNotConnected
	}
	select {
	case s.audioData <- frame:
	default:
		s.log.Warn().Msg("audio buffer full, dropping packet")
	}
	return nil
}

// Finish sends Terminate and closes the connection. It also releases the
// socket when the provider already ended the stream.
func (s *AssemblyAIService) Finish() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	s.end(nil)

	// the writer flushes its batch and exits before Terminate goes out
	s.wg.Wait()
	s.writeMu.Lock()
	_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
	s.writeMu.Unlock()
	return conn.Close()
}

func (s *AssemblyAIService) handleMessages(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !s.ended() {
				s.log.Error().Err(err).Msg("AssemblyAI read failed")
				s.end(fmt.Errorf("assemblyai: read: %w", err))
			}
			return
		}
		s.processMessage(message)
		if s.ended() {
			return
		}
	}
}

func (s *AssemblyAIService) processMessage(message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		s.log.Warn().Err(err).Msg("error unmarshaling AssemblyAI message")
		return
	}
	switch base.Type {
	case "Begin":
		var msg BeginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.log.Debug().Str("session", msg.ID).Time("expires_at", time.Unix(msg.ExpiresAt, 0)).Msg("AssemblyAI session began")
	case "Turn":
		var msg TurnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn().Err(err).Msg("error unmarshaling Turn message")
			return
		}
		// with format_turns every turn ends twice; only the formatted copy counts
		text := strings.TrimSpace(msg.Transcript)
		if msg.EndOfTurn && msg.TurnFormatted && text != "" {
			s.emit(Event{Text: text, IsFinal: true, SpeechFinal: true})
		}
	case "Termination":
		var msg TerminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.log.Debug().Float64("audio_s", msg.AudioDurationSeconds).Float64("session_s", msg.SessionDurationSeconds).Msg("AssemblyAI session terminated")
		s.end(ErrConnectionClosed)
	case "Error":
		var msg ErrorMessage
		_ = json.Unmarshal(message, &msg)
		s.log.Error().Str("error", msg.Error).Msg("AssemblyAI error")
		s.end(fmt.Errorf("assemblyai: %s", msg.Error))
	default:
		s.log.Debug().Str("type", base.Type).Msg("unknown AssemblyAI message type")
	}
}

// sendAudioData batches queued frames to at least minBatchBytes per write.
func (s *AssemblyAIService) sendAudioData(conn *websocket.Conn) {
	defer s.wg.Done()
	var batch []byte
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		s.writeMu.Lock()
		err := conn.WriteMessage(websocket.BinaryMessage, batch)
		s.writeMu.Unlock()
		batch = batch[:0]
		if err != nil {
			s.log.Error().Err(err).Msg("error sending audio data")
			s.end(fmt.Errorf("assemblyai: write: %w", err))
			return false
		}
		return true
	}
	for {
		select {
		case <-s.done:
			for {
				select {
				case frame := <-s.audioData:
					batch = append(batch, frame...)
					continue
				default:
				}
				break
			}
			flush()
			return
		case frame := <-s.audioData:
			batch = append(batch, frame...)
			if len(batch) >= minBatchBytes && !flush() {
				return
			}
		}
	}
}
