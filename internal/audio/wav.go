package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	wavFormatPCM   = 1
	wavFormatMulaw = 7
)

// wavData is the decoded content of a RIFF/WAVE buffer.
type wavData struct {
	format     int
	channels   int
	sampleRate int
	bits       int
	data       []byte
}

// readWAV walks the RIFF chunks and returns the fmt and data contents.
func readWAV(b []byte) (wavData, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return wavData{}, fmt.Errorf("not a WAV buffer")
	}
	var w wavData
	var haveFmt bool
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		pos += 8
		end := pos + size
		if end > len(b) {
			// Streaming encoders write a placeholder size on the data chunk.
			end = len(b)
		}
		switch id {
		case "fmt ":
			if end-pos < 16 {
				return wavData{}, fmt.Errorf("fmt chunk too small")
			}
			w.format = int(binary.LittleEndian.Uint16(b[pos : pos+2]))
			w.channels = int(binary.LittleEndian.Uint16(b[pos+2 : pos+4]))
			w.sampleRate = int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
			w.bits = int(binary.LittleEndian.Uint16(b[pos+14 : pos+16]))
			haveFmt = true
		case "data":
			w.data = b[pos:end]
		}
		pos = end + size%2
	}
	if !haveFmt || w.data == nil {
		return wavData{}, fmt.Errorf("missing fmt or data chunk")
	}
	if w.channels < 1 || w.sampleRate < 1 {
		return wavData{}, fmt.Errorf("invalid WAV header: channels=%d sample_rate=%d", w.channels, w.sampleRate)
	}
	return w, nil
}

// EncodeWAV wraps mono PCM16 samples in a canonical 44-byte-header WAV.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	buf.Write(PCM16ToBytes(samples))
	return buf.Bytes(), nil
}
