package audio

import (
	"encoding/binary"
	"time"
)

// AudioFrame is a chunk of interleaved little-endian int16 PCM together with
// its format. Playback devices convert frames to their own output format with
// a [FormatConverter].
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for model speech).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks the frame's start relative to the stream it belongs to.
	Timestamp time.Duration
}

// Buffer is decoded audio ready to be started on a playback device. Each entry
// of Channels holds the samples of one channel, normalised to [-1, 1]. All
// channels have the same length.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// NumChannels returns the channel count.
func (b Buffer) NumChannels() int { return len(b.Channels) }

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration is the playback length of the buffer at its sample rate.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}

// Frame re-interleaves the buffer into int16 PCM.
func (b Buffer) Frame() AudioFrame {
	channels := b.NumChannels()
	frames := b.Frames()
	data := make([]byte, frames*channels*2)
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			binary.LittleEndian.PutUint16(data[off:], uint16(floatToInt16(b.Channels[ch][i])))
		}
	}
	return AudioFrame{Data: data, SampleRate: b.SampleRate, Channels: channels}
}
