package mediastream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames []map[string]any
	err    error
}

func (w *recordingWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	w.frames = append(w.frames, m)
	return nil
}

func (w *recordingWriter) payloads(t *testing.T) [][]byte {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	var out [][]byte
	for _, f := range w.frames {
		if f["event"] != "media" {
			continue
		}
		media := f["media"].(map[string]any)
		b, err := base64.StdEncoding.DecodeString(media["payload"].(string))
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestSender_PlayFramesReassemble(t *testing.T) {
	w := &recordingWriter{}
	frames := prometheus.NewCounter(prometheus.CounterOpts{Name: "frames"})
	s := NewSender(w, SenderOptions{ChunkSize: 4000, Frames: frames})

	buf := make([]byte, 9001)
	for i := range buf {
		buf[i] = byte(i)
	}
	n, err := s.Play(context.Background(), "MZ1", buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3.0, testutil.ToFloat64(frames))

	payloads := w.payloads(t)
	require.Len(t, payloads, 3)
	assert.Len(t, payloads[0], 4000)
	assert.Len(t, payloads[2], 1001)
	assert.Equal(t, buf, bytes.Join(payloads, nil))
	for _, f := range w.frames {
		assert.Equal(t, "MZ1", f["streamSid"])
	}
}

func TestSender_AbortBetweenFrames(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(w, SenderOptions{ChunkSize: 10})

	calls := 0
	abort := func() bool {
		calls++
		return calls > 2
	}
	n, err := s.Play(context.Background(), "MZ1", make([]byte, 100), abort)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 2, n)
	assert.Len(t, w.payloads(t), 2)
}

func TestSender_CancelledContext(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(w, SenderOptions{ChunkSize: 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := s.Play(ctx, "MZ1", make([]byte, 30), nil)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Zero(t, n)
	assert.Empty(t, w.frames)
}

func TestSender_PacedPlaybackStopsOnCancel(t *testing.T) {
	w := &recordingWriter{}
	// 4000 bytes = 500ms per frame
	s := NewSender(w, SenderOptions{ChunkSize: 4000, Pace: true})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	n, err := s.Play(ctx, "MZ1", make([]byte, 12000), nil)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestSender_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broken pipe")}
	s := NewSender(w, SenderOptions{})
	n, err := s.Play(context.Background(), "MZ1", []byte{1, 2, 3}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInterrupted)
	assert.Zero(t, n)
}

func TestSender_RequiresStreamSid(t *testing.T) {
	s := NewSender(&recordingWriter{}, SenderOptions{})
	_, err := s.Play(context.Background(), "", []byte{1}, nil)
	assert.Error(t, err)
}

func TestSender_ClearAndMark(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(w, SenderOptions{})
	require.NoError(t, s.Clear("MZ1"))
	require.NoError(t, s.Mark("MZ1", "utterance-1"))
	require.NoError(t, s.Clear(""))

	require.Len(t, w.frames, 2)
	assert.Equal(t, map[string]any{"event": "clear", "streamSid": "MZ1"}, w.frames[0])
	assert.Equal(t, "mark", w.frames[1]["event"])
	assert.Equal(t, map[string]any{"name": "utterance-1"}, w.frames[1]["mark"])
}
