package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

var (
	// ErrUnsupportedFormat is returned for clip formats a transcoder cannot read.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
	// ErrTranscode wraps every conversion failure.
	ErrTranscode = errors.New("audio: transcode failed")
)

// Format names the encoding of a synthesized clip.
type Format string

const (
	FormatMP3   Format = "mp3"
	FormatWAV   Format = "wav"
	FormatPCM16 Format = "pcm16"
	FormatMulaw Format = "mulaw"
)

// Clip is a synthesized audio buffer as returned by a speech provider.
// SampleRate is only meaningful for headerless formats (pcm16, mulaw).
type Clip struct {
	Data       []byte
	Format     Format
	SampleRate int
}

// isTelephony reports whether the clip is already 8 kHz mu-law.
func (c Clip) isTelephony() bool {
	return c.Format == FormatMulaw && (c.SampleRate == 0 || c.SampleRate == TelephonySampleRate)
}

// Transcoder converts a clip into 8 kHz mono mu-law.
type Transcoder interface {
	Transcode(ctx context.Context, clip Clip) ([]byte, error)
}

// FFmpeg transcodes through an external ffmpeg process.
type FFmpeg struct {
	// Path to the binary; "ffmpeg" is looked up on PATH when empty.
	Path string
}

func (f FFmpeg) Transcode(ctx context.Context, clip Clip) ([]byte, error) {
	if len(clip.Data) == 0 {
		return nil, fmt.Errorf("%w: empty clip", ErrTranscode)
	}
	if clip.isTelephony() {
		return append([]byte(nil), clip.Data...), nil
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	switch clip.Format {
	case FormatMP3, FormatWAV:
	case FormatPCM16:
		args = append(args, "-f", "s16le", "-ar", strconv.Itoa(clip.SampleRate), "-ac", "1")
	case FormatMulaw:
		args = append(args, "-f", "mulaw", "-ar", strconv.Itoa(clip.SampleRate), "-ac", "1")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, clip.Format)
	}
	if (clip.Format == FormatPCM16 || clip.Format == FormatMulaw) && clip.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %s clip without sample rate", ErrTranscode, clip.Format)
	}
	args = append(args, "-i", "pipe:0", "-ar", strconv.Itoa(TelephonySampleRate), "-ac", "1", "-f", "mulaw", "pipe:1")

	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(clip.Data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrTranscode, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no audio", ErrTranscode)
	}
	return stdout.Bytes(), nil
}

// Native transcodes in process. It reads MP3, WAV (PCM16 or mu-law) and raw
// PCM16/mu-law clips.
type Native struct{}

func (Native) Transcode(ctx context.Context, clip Clip) ([]byte, error) {
	if len(clip.Data) == 0 {
		return nil, fmt.Errorf("%w: empty clip", ErrTranscode)
	}
	if clip.isTelephony() {
		return append([]byte(nil), clip.Data...), nil
	}

	var (
		samples []int16
		rate    int
	)
	switch clip.Format {
	case FormatMP3:
		dec, err := mp3.NewDecoder(bytes.NewReader(clip.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: mp3: %v", ErrTranscode, err)
		}
		raw, err := io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: mp3: %v", ErrTranscode, err)
		}
		// go-mp3 always yields interleaved 16-bit stereo.
		samples = DownmixInterleaved(PCM16FromBytes(raw), 2)
		rate = dec.SampleRate()
	case FormatWAV:
		w, err := readWAV(clip.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: wav: %v", ErrTranscode, err)
		}
		switch {
		case w.format == wavFormatPCM && w.bits == 16:
			samples = DownmixInterleaved(PCM16FromBytes(w.data), w.channels)
		case w.format == wavFormatMulaw && w.bits == 8:
			samples = DownmixInterleaved(DecodeMulaw(w.data), w.channels)
		default:
			return nil, fmt.Errorf("%w: wav format %d with %d bits", ErrUnsupportedFormat, w.format, w.bits)
		}
		rate = w.sampleRate
	case FormatPCM16:
		samples, rate = PCM16FromBytes(clip.Data), clip.SampleRate
	case FormatMulaw:
		samples, rate = DecodeMulaw(clip.Data), clip.SampleRate
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, clip.Format)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: %s clip without sample rate", ErrTranscode, clip.Format)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := EncodeMulaw(ResampleLinear(samples, rate, TelephonySampleRate))
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: clip decoded to no samples", ErrTranscode)
	}
	return out, nil
}

// NewTranscoder returns the transcoder named by kind ("ffmpeg" or "native").
func NewTranscoder(kind, ffmpegPath string) (Transcoder, error) {
	switch kind {
	case "", "ffmpeg":
		return FFmpeg{Path: ffmpegPath}, nil
	case "native":
		return Native{}, nil
	default:
		return nil, fmt.Errorf("unknown transcoder %q", kind)
	}
}
