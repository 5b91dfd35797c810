// Package audio holds the PCM primitives shared by the capture and playback
// sides of a duplex session.
//
// Outbound audio leaves the microphone as float32 samples in [-1, 1] and is
// packed into little-endian signed 16-bit PCM, then base64 encoded for the
// JSON transport. Inbound audio takes the reverse path: base64 text is decoded
// to raw PCM bytes ([DecodeInbound]) and reinterpreted as a per-channel float
// [Buffer] ([ToPlayableBuffer]) that a playback device can start.
//
// All functions in this file are pure and safe for concurrent use.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// pcmScale is the float ↔ int16 scale factor.
const pcmScale = 32768

var (
	// ErrMalformedPayload is returned by [DecodeInbound] when the inbound text is
	// not valid base64.
	ErrMalformedPayload = errors.New("audio: malformed payload")

	// ErrTruncatedFrame is returned by [ToPlayableBuffer] when the byte length is
	// not a whole number of interleaved 16-bit frames.
	ErrTruncatedFrame = errors.New("audio: truncated frame")

	// ErrInvalidFormat is returned when a sample rate or channel count is not
	// positive.
	ErrInvalidFormat = errors.New("audio: invalid format")
)

// EncodeOutbound converts float samples to little-endian int16 PCM and wraps
// the result in standard base64. Samples are scaled by 32768, truncated toward
// zero and clamped to the int16 range.
func EncodeOutbound(samples []float32) string {
	return base64.StdEncoding.EncodeToString(FloatToPCM16(samples))
}

// DecodeInbound reverses the transport encoding of an inbound audio payload.
func DecodeInbound(encoded string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return b, nil
}

// ToPlayableBuffer reinterprets b as interleaved int16 samples, de-interleaves
// them across channels and normalises each sample to [-1, 1).
func ToPlayableBuffer(b []byte, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Buffer{}, fmt.Errorf("%w: rate=%d channels=%d", ErrInvalidFormat, sampleRate, channels)
	}
	if len(b)%(2*channels) != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes for %d channel(s)", ErrTruncatedFrame, len(b), channels)
	}

	frames := len(b) / 2 / channels
	buf := Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := range channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(b[off:]))
			buf.Channels[ch][i] = float32(s) / pcmScale
		}
	}
	return buf, nil
}

// FloatToPCM16 packs float samples as little-endian int16 PCM.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := int32(float64(s) * pcmScale)
	return clamp16(v)
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// ParseRate extracts the rate parameter from a PCM MIME type such as
// "audio/pcm;rate=24000". It returns fallback when the parameter is missing or
// not a positive integer.
func ParseRate(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rate") {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || rate <= 0 {
			return fallback
		}
		return rate
	}
	return fallback
}
