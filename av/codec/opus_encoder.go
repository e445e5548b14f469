package codec

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/opd-ai/voicepipe/av"
	"github.com/opd-ai/voicepipe/av/packet"
	"github.com/opd-ai/voicepipe/limits"
)

const (
	sampleRate = 48000
	channels   = 1
	frameSize  = 480

	// maxEncodedFrame bounds one libopus output frame.
	maxEncodedFrame = 4000
)

// pcmEncoder is the part of the libopus encoder OpusEncoder drives.
type pcmEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// OpusEncoder buffers 10ms frames and encodes FramesPerPacket of them as a
// single Opus frame of 10, 20, 40 or 60ms.
type OpusEncoder struct {
	encoder         pcmEncoder
	framesPerPacket int
	pcm             []int16
	buffered        int
	encoded         []byte
	payload         []byte
	ready           bool
	readyFrames     int
}

// NewOpusEncoder creates a libopus VoIP encoder for params.
func NewOpusEncoder(params av.EncoderParams) (*OpusEncoder, error) {
	if params.SampleRate != 0 && params.SampleRate != sampleRate {
		return nil, fmt.Errorf("unsupported encoder sample rate %d", params.SampleRate)
	}
	if !av.ValidFramesPerPacket(params.FramesPerPacket) {
		return nil, fmt.Errorf("%w: %d", av.ErrInvalidFramesPerPacket, params.FramesPerPacket)
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(params.Bitrate); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate %d: %w", params.Bitrate, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":          "NewOpusEncoder",
		"bitrate":           params.Bitrate,
		"frames_per_packet": params.FramesPerPacket,
	}).Info("Created Opus encoder")

	return newOpusEncoder(enc, params.FramesPerPacket), nil
}

func newOpusEncoder(enc pcmEncoder, framesPerPacket int) *OpusEncoder {
	return &OpusEncoder{
		encoder:         enc,
		framesPerPacket: framesPerPacket,
		pcm:             make([]int16, 0, frameSize*framesPerPacket),
		encoded:         make([]byte, maxEncodedFrame),
	}
}

// Encode buffers one frame and encodes the packet once FramesPerPacket
// frames are buffered. Samples past length are replaced with silence.
func (e *OpusEncoder) Encode(frame []int16, length int) error {
	if e.encoder == nil {
		return fmt.Errorf("encoder closed")
	}
	if e.ready {
		return fmt.Errorf("previous packet not collected")
	}
	if len(frame) != frameSize {
		return fmt.Errorf("frame has %d samples, want %d", len(frame), frameSize)
	}
	if length < 0 || length > frameSize {
		length = frameSize
	}

	e.pcm = append(e.pcm, frame[:length]...)
	for i := length; i < frameSize; i++ {
		e.pcm = append(e.pcm, 0)
	}
	e.buffered++

	if e.buffered < e.framesPerPacket {
		return nil
	}
	return e.encode(false)
}

// IsReady reports whether a packet payload is waiting.
func (e *OpusEncoder) IsReady() bool {
	return e.ready
}

// BufferedFrameCount returns the frames buffered for the next packet or,
// once a packet is ready, the frames its payload spans. A terminated packet
// spans its silence padding too.
func (e *OpusEncoder) BufferedFrameCount() int {
	if e.ready {
		return e.readyFrames
	}
	return e.buffered
}

// Terminate encodes a partial packet and marks it as the end of the
// transmission. The buffered frames are padded with silence to the shortest
// Opus frame duration that holds them. It does nothing when no frames are
// buffered.
func (e *OpusEncoder) Terminate() error {
	if e.encoder == nil {
		return fmt.Errorf("encoder closed")
	}
	if e.ready || e.buffered == 0 {
		return nil
	}
	e.buffered = terminatedFrames(e.buffered)
	for len(e.pcm) < frameSize*e.buffered {
		e.pcm = append(e.pcm, 0)
	}
	return e.encode(true)
}

// terminatedFrames rounds a partial packet up to 10, 20, 40 or 60ms.
func terminatedFrames(buffered int) int {
	for _, n := range []int{1, 2, 4, 6} {
		if buffered <= n {
			return n
		}
	}
	return buffered
}

// EncodedData returns the framed payload and clears the ready state.
func (e *OpusEncoder) EncodedData() ([]byte, error) {
	if !e.ready {
		return nil, fmt.Errorf("no encoded packet ready")
	}
	e.ready = false
	e.readyFrames = 0
	return e.payload, nil
}

// Close releases the encoder.
func (e *OpusEncoder) Close() error {
	e.encoder = nil
	e.pcm = nil
	e.ready = false
	return nil
}

func (e *OpusEncoder) encode(terminator bool) error {
	frames := e.buffered
	e.buffered = 0
	pcm := e.pcm
	e.pcm = e.pcm[:0]

	n, err := e.encoder.Encode(pcm, e.encoded)
	if err != nil {
		return fmt.Errorf("opus encode error: %w", err)
	}
	if n > limits.MaxOpusFrame {
		return fmt.Errorf("%w: opus frame size %d exceeds limit %d", limits.ErrPacketTooLarge, n, limits.MaxOpusFrame)
	}

	e.payload, err = packet.AppendOpusFrame(e.payload[:0], e.encoded[:n], terminator)
	if err != nil {
		return err
	}
	e.ready = true
	e.readyFrames = frames

	logrus.WithFields(logrus.Fields{
		"function":   "OpusEncoder.encode",
		"frames":     frames,
		"bytes":      n,
		"terminator": terminator,
	}).Debug("Encoded Opus packet")
	return nil
}
