package audio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((i % 40) * 500)
	}
	return out
}

func TestNative_TelephonyClipPassesThrough(t *testing.T) {
	in := []byte{0xFF, 0x00, 0x7F, 0x80}
	out, err := Native{}.Transcode(context.Background(), Clip{Data: in, Format: FormatMulaw, SampleRate: 8000})
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// returned buffer is a copy
	out[0] = 0x01
	assert.Equal(t, byte(0xFF), in[0])

	again, err := Native{}.Transcode(context.Background(), Clip{Data: in, Format: FormatMulaw})
	require.NoError(t, err)
	assert.Equal(t, in, again)
}

func TestNative_WAVIsDownsampled(t *testing.T) {
	wav, err := EncodeWAV(tone(1600), 16000)
	require.NoError(t, err)

	out, err := Native{}.Transcode(context.Background(), Clip{Data: wav, Format: FormatWAV})
	require.NoError(t, err)
	assert.Len(t, out, 800)
}

func TestNative_RepeatedConversionIsIdentical(t *testing.T) {
	wav, err := EncodeWAV(tone(1600), 16000)
	require.NoError(t, err)
	clip := Clip{Data: wav, Format: FormatWAV}

	first, err := Native{}.Transcode(context.Background(), clip)
	require.NoError(t, err)
	second, err := Native{}.Transcode(context.Background(), clip)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	pcm := Clip{Data: PCM16ToBytes(tone(2400)), Format: FormatPCM16, SampleRate: 24000}
	first, err = Native{}.Transcode(context.Background(), pcm)
	require.NoError(t, err)
	second, err = Native{}.Transcode(context.Background(), pcm)
	require.NoError(t, err)
	if string(first) != string(second) {
		t.Fatalf("pcm16 transcodes differ")
	}
}

func TestNative_PCM16(t *testing.T) {
	pcm := PCM16ToBytes(tone(2400))
	out, err := Native{}.Transcode(context.Background(), Clip{Data: pcm, Format: FormatPCM16, SampleRate: 24000})
	require.NoError(t, err)
	assert.Len(t, out, 800)

	_, err = Native{}.Transcode(context.Background(), Clip{Data: pcm, Format: FormatPCM16})
	assert.ErrorIs(t, err, ErrTranscode)
}

func TestNative_Failures(t *testing.T) {
	_, err := Native{}.Transcode(context.Background(), Clip{Data: []byte("garbage that is not an mp3"), Format: FormatMP3})
	assert.ErrorIs(t, err, ErrTranscode)

	_, err = Native{}.Transcode(context.Background(), Clip{Data: []byte{1}, Format: "ogg"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Native{}.Transcode(context.Background(), Clip{Format: FormatMP3})
	assert.ErrorIs(t, err, ErrTranscode)
}

func TestFFmpeg_MissingBinary(t *testing.T) {
	f := FFmpeg{Path: "/nonexistent/ffmpeg-binary"}
	_, err := f.Transcode(context.Background(), Clip{Data: []byte{1, 2, 3}, Format: FormatMP3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTranscode)
}

func TestFFmpeg_TelephonyClipSkipsProcess(t *testing.T) {
	f := FFmpeg{Path: "/nonexistent/ffmpeg-binary"}
	in := []byte{0x10, 0x20}
	out, err := f.Transcode(context.Background(), Clip{Data: in, Format: FormatMulaw, SampleRate: 8000})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNewTranscoder(t *testing.T) {
	tr, err := NewTranscoder("native", "")
	require.NoError(t, err)
	assert.IsType(t, Native{}, tr)

	tr, err = NewTranscoder("", "/usr/bin/ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, FFmpeg{Path: "/usr/bin/ffmpeg"}, tr)

	_, err = NewTranscoder("sox", "")
	assert.Error(t, err)
}
