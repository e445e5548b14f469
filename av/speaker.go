package av

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicepipe/av/packet"
)

// SpeakerConfig controls per-speaker buffering. Counts are in 10ms frames.
type SpeakerConfig struct {
	// JitterDepth is how many packets are buffered, or ticks waited, before
	// playback of a burst starts.
	JitterDepth int
	// ExhaustionFrames is how many consecutive empty ticks a speaker
	// survives before it is retired.
	ExhaustionFrames int
	// Jitter sizes the reordering buffer.
	Jitter packet.JitterConfig
}

// DefaultSpeakerConfig returns 30ms of jitter depth and a 200ms exhaustion
// window.
func DefaultSpeakerConfig() SpeakerConfig {
	return SpeakerConfig{
		JitterDepth:      3,
		ExhaustionFrames: 20,
		Jitter:           packet.DefaultJitterConfig(),
	}
}

// SpeakerChannel buffers, decodes and tracks the talk state of one remote
// user. Buffer and Fetch are not safe for concurrent use with each other;
// the registry lock serializes them.
type SpeakerChannel struct {
	session uint32
	codec   packet.Codec
	decoder Decoder
	jitter  *packet.JitterBuffer
	config  SpeakerConfig

	pcm       []int16 // decoded, not yet played
	out       []int16
	primed    bool
	waited    int
	misses    int
	ending    bool // terminator decoded, go passive once drained
	state     TalkState
	reported  TalkState
	concealed int
}

func newSpeakerChannel(session uint32, codec packet.Codec, decoder Decoder, config SpeakerConfig) *SpeakerChannel {
	return &SpeakerChannel{
		session: session,
		codec:   codec,
		decoder: decoder,
		jitter:  packet.NewJitterBuffer(config.Jitter),
		config:  config,
	}
}

// Session returns the speaker's session id.
func (s *SpeakerChannel) Session() uint32 { return s.session }

// Codec returns the codec the channel decodes.
func (s *SpeakerChannel) Codec() packet.Codec { return s.codec }

// Buffer queues a packet's frames. It returns false if the jitter buffer
// rejected the packet as late or duplicate.
func (s *SpeakerChannel) Buffer(e packet.Entry) bool {
	return s.jitter.Push(e)
}

// Fetch produces the next samples of output. While alive it always returns
// exactly samples values, silence included; alive turns false once the
// channel has been starved for ExhaustionFrames consecutive ticks.
func (s *SpeakerChannel) Fetch(samples int) ([]int16, bool) {
	if cap(s.out) < samples {
		s.out = make([]int16, samples)
	}
	out := s.out[:samples]

	if !s.primed {
		if s.jitter.Len() == 0 {
			return s.starve(out)
		}
		if s.jitter.Len() >= s.config.JitterDepth || s.waited >= s.config.JitterDepth {
			s.primed = true
			s.waited = 0
		} else {
			s.waited++
			clear(out)
			return out, true
		}
	}

	s.fill(samples)

	if len(s.pcm) == 0 {
		return s.starve(out)
	}

	n := copy(out, s.pcm)
	clear(out[n:])
	rest := copy(s.pcm, s.pcm[n:])
	s.pcm = s.pcm[:rest]
	s.misses = 0

	if s.ending && len(s.pcm) == 0 && s.jitter.Len() == 0 {
		s.state = TalkPassive
		s.ending = false
	}
	return out, true
}

// starve handles a tick with nothing to play: silence, passive state and
// re-priming for the next burst.
func (s *SpeakerChannel) starve(out []int16) ([]int16, bool) {
	s.misses++
	s.primed = false
	s.waited = 0
	s.ending = false
	s.state = TalkPassive
	clear(out)
	return out, s.misses < s.config.ExhaustionFrames
}

// fill decodes from the jitter buffer until samples are available or the
// buffer runs dry.
func (s *SpeakerChannel) fill(samples int) {
	for len(s.pcm) < samples {
		e, res := s.jitter.Pop()
		switch res {
		case packet.PopReady, packet.PopResync:
			if res == packet.PopResync {
				logrus.WithFields(logrus.Fields{
					"function": "SpeakerChannel.fill",
					"session":  s.session,
					"sequence": e.Sequence,
				}).Debug("Jitter buffer resynchronized")
			}
			s.decodeEntry(e)
		case packet.PopLost:
			s.appendConcealed(FrameSize)
		default:
			return
		}
	}
}

func (s *SpeakerChannel) decodeEntry(e packet.Entry) {
	decoded := 0
	for _, frame := range e.Frames {
		pcm, err := s.decoder.Decode(frame)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SpeakerChannel.decodeEntry",
				"session":  s.session,
				"codec":    s.codec.String(),
				"error":    err.Error(),
			}).Warn("Decode failed, concealing frame")
			s.appendConcealed(FrameSize)
			decoded += FrameSize
			continue
		}
		s.pcm = append(s.pcm, pcm...)
		decoded += len(pcm)
	}

	// keep the queue frame aligned so sequence accounting stays exact
	frames := (decoded + FrameSize - 1) / FrameSize
	if pad := frames*FrameSize - decoded; pad > 0 {
		s.pcm = append(s.pcm, make([]int16, pad)...)
	}
	if frames > 1 {
		s.jitter.Advance(int64(frames - 1))
	}

	if decoded > 0 {
		s.state = TalkStateForTarget(e.Target)
	}
	if e.Terminator {
		s.ending = true
	}
}

func (s *SpeakerChannel) appendConcealed(samples int) {
	s.concealed++
	pcm, err := s.decoder.Conceal(samples)
	if err != nil || len(pcm) != samples {
		s.pcm = append(s.pcm, make([]int16, samples)...)
		return
	}
	s.pcm = append(s.pcm, pcm...)
}

// TalkState returns the speaker's current talk state.
func (s *SpeakerChannel) TalkState() TalkState {
	return s.state
}

// takeTransition reports a talk state change since the last call.
func (s *SpeakerChannel) takeTransition() (TalkState, bool) {
	if s.state == s.reported {
		return s.state, false
	}
	s.reported = s.state
	return s.state, true
}

// takeConcealed returns and resets the count of concealed frames.
func (s *SpeakerChannel) takeConcealed() int {
	n := s.concealed
	s.concealed = 0
	return n
}

// Close releases the decoder and drops buffered audio.
func (s *SpeakerChannel) Close() error {
	s.jitter.Reset()
	s.pcm = nil
	return s.decoder.Close()
}
