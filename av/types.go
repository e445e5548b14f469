package av

import (
	"context"
	"time"

	"github.com/opd-ai/voicepipe/av/packet"
)

const (
	// SampleRate is the pipeline's internal PCM rate.
	SampleRate = 48000
	// FrameSize is the number of mono samples in one 10ms frame.
	FrameSize = 480
	// FrameDuration is the fixed frame cadence.
	FrameDuration = 10 * time.Millisecond
	// MaxBufferSize is the largest PCM buffer handed to a sink in one write.
	MaxBufferSize = 960
)

// TalkState classifies what a user is doing with their microphone.
type TalkState uint32

const (
	// TalkPassive means the user is silent
	TalkPassive TalkState = iota
	// TalkTalking means normal speech to the current channel
	TalkTalking
	// TalkShouting means speech to a channel voice target
	TalkShouting
	// TalkWhispering means speech to a user voice target
	TalkWhispering
)

// String returns a human-readable talk state.
func (s TalkState) String() string {
	switch s {
	case TalkPassive:
		return "passive"
	case TalkTalking:
		return "talking"
	case TalkShouting:
		return "shouting"
	case TalkWhispering:
		return "whispering"
	default:
		return "unknown"
	}
}

// Active reports whether the state means audio is being produced.
func (s TalkState) Active() bool {
	return s != TalkPassive
}

// TalkStateForTarget maps an inbound voice target to a talk state:
// 0 is normal talk, 1 a shout to a channel target, anything higher a whisper.
func TalkStateForTarget(target uint8) TalkState {
	switch target {
	case 0:
		return TalkTalking
	case 1:
		return TalkShouting
	default:
		return TalkWhispering
	}
}

// TalkEvent reports a talk state change. Local is set for the user running
// this pipeline; Session is zero in that case.
type TalkEvent struct {
	Session uint32
	State   TalkState
	Local   bool
}

// TalkListener receives talk events on the event goroutine.
type TalkListener func(TalkEvent)

// Decoder turns codec frames into 48kHz mono PCM for one speaker.
type Decoder interface {
	// Decode decodes one codec frame. The returned slice is valid until the
	// next call.
	Decode(frame []byte) ([]int16, error)
	// Conceal synthesizes samples for a lost frame.
	Conceal(samples int) ([]int16, error)
	Close() error
}

// DecoderFactory creates a decoder for a codec. It returns an error for
// codecs that cannot be decoded.
type DecoderFactory func(codec packet.Codec) (Decoder, error)

// EncoderParams configures a new encoder.
type EncoderParams struct {
	SampleRate      int
	Bitrate         int
	FramesPerPacket int
}

// Encoder buffers 10ms PCM frames and produces one compressed packet payload
// once FramesPerPacket frames are buffered or Terminate is called.
type Encoder interface {
	// Encode adds one frame; length is the number of real samples in
	// frame, the rest being padding.
	Encode(frame []int16, length int) error
	// IsReady reports whether a payload is waiting in EncodedData.
	IsReady() bool
	// BufferedFrameCount returns the frames buffered for the next payload,
	// or the frames the pending payload spans once it is ready.
	BufferedFrameCount() int
	// Terminate finishes the current payload early and marks it as the end
	// of the transmission. The payload may be padded with silence frames.
	Terminate() error
	// EncodedData returns the pending payload, framed for the wire, and
	// clears the ready state.
	EncodedData() ([]byte, error)
	Close() error
}

// EncoderFactory creates an encoder for a codec.
type EncoderFactory func(codec packet.Codec, params EncoderParams) (Encoder, error)

// AudioSink plays PCM.
type AudioSink interface {
	Play() error
	// Write blocks until the samples are queued for playback. A Write
	// blocked on a device that stopped pulling must return once Release is
	// called.
	Write(samples []int16) error
	Pause() error
	// Flush drops queued audio that has not been played yet.
	Flush() error
	Release() error
}

// SinkOpener opens the playback device.
type SinkOpener interface {
	OpenSink(sampleRate, bufferSize int) (AudioSink, error)
}

// SinkOpenerFunc adapts a function to SinkOpener.
type SinkOpenerFunc func(sampleRate, bufferSize int) (AudioSink, error)

// OpenSink calls f.
func (f SinkOpenerFunc) OpenSink(sampleRate, bufferSize int) (AudioSink, error) {
	return f(sampleRate, bufferSize)
}

// FrameHandler receives microphone PCM. Buffers may have any length.
type FrameHandler func(samples []int16) error

// AudioSource produces microphone PCM at a fixed cadence until stopped.
type AudioSource interface {
	Start(handler FrameHandler) error
	Stop() error
	SampleRate() int
}

// SpeakerFilter decides whether voice from a session is accepted. It is
// how the owner applies local mutes and ignores unknown users.
type SpeakerFilter func(session uint32) bool

// TimeProvider abstracts time for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	// Sleep pauses for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

// Now returns the current system time.
func (DefaultTimeProvider) Now() time.Time {
	return time.Now()
}

// Sleep waits for d or until ctx is done.
func (DefaultTimeProvider) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
