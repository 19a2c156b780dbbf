// Package audio converts synthesized speech into the telephony codec
// (8 kHz, mono, 8-bit mu-law) and slices it into outbound frames.
//
// Two transcoders are provided: FFmpeg shells out to an ffmpeg binary and
// accepts anything ffmpeg can read; Native decodes MP3, WAV and raw PCM16 in
// process. Both are stateless and safe for concurrent use.
package audio
