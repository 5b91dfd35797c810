// Package live defines the Provider interface for real-time voice backends.
//
// A live provider wraps a hosted speech model reached over a long-lived
// bidirectional connection: the client streams microphone audio up and the
// model streams synthesised speech, transcripts and turn signals back. The
// Gemini Live API and the OpenAI Realtime API are the two implementations in
// this module.
//
// Everything the model sends is delivered on a single ordered channel
// ([Session.Messages]) so that a consumer can process it with one goroutine,
// in arrival order. Audio payloads are passed through still base64 encoded;
// decoding them is the consumer's job and a bad payload only affects that one
// message.
package live

import "context"

// DefaultInputSampleRate is the sample rate of outbound microphone audio.
const DefaultInputSampleRate = 16000

// DefaultOutputSampleRate is the sample rate assumed for inbound audio that
// carries no rate in its MIME type.
const DefaultOutputSampleRate = 24000

// Config is the initial configuration of a live session.
type Config struct {
	// Instructions is the system prompt that sets the model's persona.
	Instructions string

	// Voice is the provider-specific prebuilt voice name (for example "Zephyr"
	// for Gemini or "alloy" for OpenAI). Empty selects the provider default.
	Voice string

	// OutputTranscription asks the provider to send text transcripts of the
	// model's spoken output.
	OutputTranscription bool

	// InputSampleRate is the rate of the PCM passed to SendRealtimeInput.
	// Zero means DefaultInputSampleRate.
	InputSampleRate int
}

// InlineAudio is one chunk of model speech as received from the wire.
type InlineAudio struct {
	// Data is base64-encoded little-endian int16 PCM.
	Data string

	// MIMEType describes Data, e.g. "audio/pcm;rate=24000".
	MIMEType string
}

// Message is one inbound event. Any combination of fields may be set; a
// message with every field empty carries nothing of interest.
type Message struct {
	// Transcript is a fragment of the model's output transcription.
	Transcript string

	// Audio holds the speech chunks carried by this message, in order.
	Audio []InlineAudio

	// Interrupted reports that the user started speaking over the model and
	// any queued playback should be discarded.
	Interrupted bool

	// TurnComplete marks the end of a model turn.
	TurnComplete bool
}

// Empty reports whether m carries no transcript, audio or signal.
func (m Message) Empty() bool {
	return m.Transcript == "" && len(m.Audio) == 0 && !m.Interrupted && !m.TurnComplete
}

// Session is an open live connection.
//
// Implementations must be safe for concurrent use. Callers must call Close
// when the session is no longer needed.
type Session interface {
	// SendRealtimeInput streams one frame of microphone audio. data is base64
	// encoded int16 PCM at the session's input sample rate. Fire-and-forget:
	// an error only reports that the frame could not be written.
	SendRealtimeInput(data string) error

	// Messages returns the ordered inbound stream. The channel is closed when
	// the connection ends for any reason; call Err afterwards to tell a clean
	// close from a failure.
	Messages() <-chan Message

	// Err returns the error that ended the session, or nil if it closed
	// cleanly or is still open.
	Err() error

	// Close terminates the session and closes the Messages channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect dials the backend, sends the session configuration and waits
	// until the backend acknowledges it. The returned Session is open.
	Connect(ctx context.Context, cfg Config) (Session, error)
}
