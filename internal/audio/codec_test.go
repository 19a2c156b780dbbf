package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulaw_KnownValues(t *testing.T) {
	assert.Equal(t, byte(0xFF), MulawEncode(0))
	assert.Equal(t, int16(0), MulawDecode(0xFF))
	assert.Equal(t, int16(0), MulawDecode(0x7F))
	assert.Equal(t, int16(32124), MulawDecode(0x80))
	assert.Equal(t, int16(-32124), MulawDecode(0x00))
}

func TestMulaw_RoundTripWithinQuantization(t *testing.T) {
	for _, x := range []int16{1, 5, 100, -100, 1000, -1000, 8000, -8000, 20000, -20000, math.MaxInt16, math.MinInt16 + 1} {
		got := MulawDecode(MulawEncode(x))
		diff := math.Abs(float64(got) - float64(x))
		tolerance := math.Abs(float64(x))/16 + 16
		assert.LessOrEqualf(t, diff, tolerance, "sample %d decoded to %d", x, got)
		if x != 0 {
			assert.Equalf(t, x > 0, got >= 0, "sign of %d", x)
		}
	}
}

func TestMulaw_EncodeIsStableAfterOneRoundTrip(t *testing.T) {
	for b := 0; b < 256; b++ {
		u := byte(b)
		if u == 0x7F {
			// negative zero collapses onto positive zero
			continue
		}
		assert.Equalf(t, u, MulawEncode(MulawDecode(u)), "byte %#x", u)
	}
}

func TestPCM16_BytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 12345, -32768, 32767}
	assert.Equal(t, in, PCM16FromBytes(PCM16ToBytes(in)))
	assert.Len(t, PCM16FromBytes([]byte{1, 2, 3}), 1)
}

func TestDownmixInterleaved(t *testing.T) {
	assert.Equal(t, []int16{15, -5}, DownmixInterleaved([]int16{10, 20, -10, 0}, 2))
	mono := []int16{1, 2, 3}
	assert.Equal(t, mono, DownmixInterleaved(mono, 1))
}

func TestResampleLinear(t *testing.T) {
	in := make([]int16, 320)
	for i := range in {
		in[i] = int16(i)
	}
	out := ResampleLinear(in, 16000, 8000)
	require.Len(t, out, 160)
	assert.Equal(t, int16(0), out[0])
	assert.Equal(t, int16(2), out[1])

	up := ResampleLinear([]int16{0, 100}, 8000, 16000)
	require.Len(t, up, 4)
	assert.Equal(t, int16(50), up[1])

	same := ResampleLinear(in, 8000, 8000)
	assert.Equal(t, in, same)
	assert.Empty(t, ResampleLinear(nil, 16000, 8000))
}

func TestReadWAV(t *testing.T) {
	wav, err := EncodeWAV([]int16{1, 2, 3, 4}, 16000)
	require.NoError(t, err)
	require.Len(t, wav, 44+8)

	w, err := readWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, wavFormatPCM, w.format)
	assert.Equal(t, 1, w.channels)
	assert.Equal(t, 16000, w.sampleRate)
	assert.Equal(t, 16, w.bits)
	assert.Equal(t, []int16{1, 2, 3, 4}, PCM16FromBytes(w.data))

	_, err = readWAV([]byte("RIFF0000WAVE"))
	assert.Error(t, err)
	_, err = readWAV([]byte("not audio"))
	assert.Error(t, err)
	_, err = EncodeWAV(nil, 0)
	assert.Error(t, err)
}
