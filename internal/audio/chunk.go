package audio

import "time"

// Chunk splits buf into consecutive slices of at most size bytes. The slices
// share buf's backing array; concatenating them yields buf.
func Chunk(buf []byte, size int) [][]byte {
	if size <= 0 || len(buf) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(buf)+size-1)/size)
	for start := 0; start < len(buf); start += size {
		end := start + size
		if end > len(buf) {
			end = len(buf)
		}
		frames = append(frames, buf[start:end:end])
	}
	return frames
}

// PlaybackDuration is how long n bytes of 8 kHz mu-law take to play.
func PlaybackDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / TelephonySampleRate
}
