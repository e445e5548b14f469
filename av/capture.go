package av

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicepipe/av/audio"
	"github.com/opd-ai/voicepipe/av/packet"
	"github.com/opd-ai/voicepipe/interfaces"
	"github.com/opd-ai/voicepipe/limits"
)

// Frame sources recorded on FramesEncoded.
const (
	sourceMicrophone = "microphone"
	sourceInjected   = "injected"
)

// noiseSuppressionWindow is the FFT size of the capture noise suppressor.
const noiseSuppressionWindow = 512

// CaptureConfig configures the send side of the pipeline.
type CaptureConfig struct {
	// Bitrate is the target encoder bitrate before bandwidth limits apply.
	Bitrate int
	// FramesPerPacket is the target number of 10ms frames per packet.
	FramesPerPacket int
	// AmplitudeBoost scales microphone audio after the input gain.
	AmplitudeBoost float64
	// InputGain is the initial input gain, clamped to [0.1, 5.0].
	InputGain float64
	// HalfDuplex mutes playback while the local user transmits.
	HalfDuplex bool
	// Preprocess enables noise suppression and automatic gain control.
	Preprocess bool
	// NoiseSuppression is the suppression level used when Preprocess is set.
	NoiseSuppression float64
	// Target is the initial voice target; 0 is normal talk.
	Target uint8
	// InputMode decides when microphone audio is transmitted. Nil means
	// continuous transmission.
	InputMode InputMode
}

// DefaultCaptureConfig returns 40kbps, 20ms packets, unity gain and
// preprocessing on.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Bitrate:          40000,
		FramesPerPacket:  2,
		AmplitudeBoost:   1.0,
		InputGain:        1.0,
		Preprocess:       true,
		NoiseSuppression: 0.5,
		InputMode:        ContinuousMode{},
	}
}

// ValidFramesPerPacket reports whether n is a supported packing.
func ValidFramesPerPacket(n int) bool {
	switch n {
	case 1, 2, 4, 6:
		return true
	default:
		return false
	}
}

// CaptureEncoder turns microphone frames into outbound voice packets.
//
// Live capture and injection share one encoder lock and never interleave:
// while an injection runs, microphone frames are discarded.
type CaptureEncoder struct {
	config     CaptureConfig
	newEncoder EncoderFactory
	sender     interfaces.IVoicePacketSender
	events     *EventQueue
	metrics    *Metrics

	// mu is the encoder lock.
	mu           sync.Mutex
	encoder      Encoder
	codec        packet.Codec
	hasCodec     bool
	bandwidth    *BandwidthController
	frameCounter int64
	talking      bool
	mode         InputMode
	preprocess   *audio.EffectChain
	halfDuplex   *audio.Mixer
	timeProvider TimeProvider

	inputGain   *audio.AtomicGain
	injecting   atomic.Bool
	bypass      atomic.Bool
	serverMuted atomic.Bool
	target      atomic.Uint32

	// input re-framing, touched only by the source callback
	inputMu   sync.Mutex
	resampler *audio.Resampler
	reframe   *audio.FrameBuffer
	frame     []int16

	sourceMu sync.Mutex
	source   AudioSource
}

// NewCaptureEncoder creates a capture encoder. No codec is selected until
// SetCodec is called. events and metrics may be nil.
func NewCaptureEncoder(config CaptureConfig, newEncoder EncoderFactory, sender interfaces.IVoicePacketSender, events *EventQueue, metrics *Metrics) (*CaptureEncoder, error) {
	if !ValidFramesPerPacket(config.FramesPerPacket) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFramesPerPacket, config.FramesPerPacket)
	}
	if config.Bitrate < MinBitrate {
		return nil, fmt.Errorf("bitrate %d below minimum %d", config.Bitrate, MinBitrate)
	}
	if newEncoder == nil || sender == nil {
		return nil, errors.New("capture encoder requires an encoder factory and a packet sender")
	}
	if config.InputMode == nil {
		config.InputMode = ContinuousMode{}
	}
	if config.AmplitudeBoost <= 0 {
		config.AmplitudeBoost = 1.0
	}
	if metrics == nil {
		metrics = DefaultMetrics()
	}

	c := &CaptureEncoder{
		config:       config,
		newEncoder:   newEncoder,
		sender:       sender,
		events:       events,
		metrics:      metrics,
		bandwidth:    NewBandwidthController(config.Bitrate, config.FramesPerPacket),
		mode:         config.InputMode,
		timeProvider: DefaultTimeProvider{},
		inputGain:    audio.NewAtomicGain(config.InputGain),
		reframe:      audio.NewFrameBuffer(FrameSize),
		frame:        make([]int16, FrameSize),
	}
	c.target.Store(uint32(config.Target & packet.MaxTarget))

	if config.Preprocess {
		chain, err := newPreprocessChain(config.NoiseSuppression)
		if err != nil {
			return nil, err
		}
		c.preprocess = chain
	}
	return c, nil
}

func newPreprocessChain(level float64) (*audio.EffectChain, error) {
	ns, err := audio.NewNoiseSuppressionEffect(level, noiseSuppressionWindow)
	if err != nil {
		return nil, fmt.Errorf("noise suppression: %w", err)
	}
	agc, err := audio.NewAutoGainEffect(audio.DefaultAutoGainConfig())
	if err != nil {
		return nil, fmt.Errorf("auto gain: %w", err)
	}
	return audio.NewEffectChain(ns, agc), nil
}

// SetTimeProvider sets the clock used to pace injected audio.
func (c *CaptureEncoder) SetTimeProvider(tp TimeProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeProvider = tp
}

// SetHalfDuplexMixer sets the mixer muted while the local user talks. It
// has no effect unless HalfDuplex is configured.
func (c *CaptureEncoder) SetHalfDuplexMixer(m *audio.Mixer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halfDuplex = m
}

// SetInputMode replaces the transmit predicate.
func (c *CaptureEncoder) SetInputMode(mode InputMode) {
	if mode == nil {
		mode = ContinuousMode{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// SetCodec selects the outbound codec and recreates the encoder with the
// current bandwidth budget.
func (c *CaptureEncoder) SetCodec(codec packet.Codec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setCodecLocked(codec)
}

func (c *CaptureEncoder) setCodecLocked(codec packet.Codec) error {
	if c.encoder != nil {
		if err := c.encoder.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CaptureEncoder.setCodec",
				"codec":    c.codec.String(),
				"error":    err.Error(),
			}).Warn("Failed to close previous encoder")
		}
		c.encoder = nil
	}
	c.codec = codec
	c.hasCodec = true

	budget := c.bandwidth.Budget()
	enc, err := c.newEncoder(codec, EncoderParams{
		SampleRate:      SampleRate,
		Bitrate:         budget.Bitrate,
		FramesPerPacket: budget.FramesPerPacket,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CaptureEncoder.setCodec",
			"codec":    codec.String(),
			"error":    err.Error(),
		}).Warn("Unsupported codec, input disabled")
		return newError(KindResourceInit, "create encoder", err)
	}
	c.encoder = enc

	logrus.WithFields(logrus.Fields{
		"function":          "CaptureEncoder.setCodec",
		"codec":             codec.String(),
		"bitrate":           budget.Bitrate,
		"frames_per_packet": budget.FramesPerPacket,
	}).Info("Encoder configured")
	return nil
}

// Codec returns the selected codec and whether one is set.
func (c *CaptureEncoder) Codec() (packet.Codec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec, c.hasCodec
}

// SetMaxBandwidth applies a server bandwidth ceiling. The encoder is
// recreated when the derived bitrate or packing changes.
func (c *CaptureEncoder) SetMaxBandwidth(maxBandwidth int) (BandwidthBudget, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	budget, changed := c.bandwidth.SetMaxBandwidth(maxBandwidth)
	if !changed {
		return budget, nil
	}
	c.metrics.BandwidthAdjustments.Add(context.Background(), 1)
	if !c.hasCodec {
		return budget, nil
	}
	return budget, c.setCodecLocked(c.codec)
}

// Budget returns the current encoder budget.
func (c *CaptureEncoder) Budget() BandwidthBudget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bandwidth.Budget()
}

// CurrentBandwidth returns the wire bandwidth of the current budget.
func (c *CaptureEncoder) CurrentBandwidth() int {
	return c.Budget().Bandwidth()
}

// SetServerMuted applies the server-side mute, suppress or self-mute.
func (c *CaptureEncoder) SetServerMuted(muted bool) {
	c.serverMuted.Store(muted)
}

// ServerMuted reports whether the server has muted the local user.
func (c *CaptureEncoder) ServerMuted() bool {
	return c.serverMuted.Load()
}

// SetVoiceTarget selects the voice target for outgoing packets.
func (c *CaptureEncoder) SetVoiceTarget(target uint8) {
	c.target.Store(uint32(target & packet.MaxTarget))
}

// ClearVoiceTarget returns to normal talk.
func (c *CaptureEncoder) ClearVoiceTarget() {
	c.target.Store(0)
}

// VoiceTarget returns the current voice target.
func (c *CaptureEncoder) VoiceTarget() uint8 {
	return uint8(c.target.Load())
}

// SetInputGain sets the input gain and returns the clamped value.
func (c *CaptureEncoder) SetInputGain(gain float64) float64 {
	return c.inputGain.Set(gain)
}

// InputGain returns the current input gain.
func (c *CaptureEncoder) InputGain() float64 {
	return c.inputGain.Get()
}

// IsTalking reports the local talk state.
func (c *CaptureEncoder) IsTalking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.talking
}

// IsInjecting reports whether an injection is running.
func (c *CaptureEncoder) IsInjecting() bool {
	return c.injecting.Load()
}

// PreprocessBypassed reports whether preprocessing is currently skipped.
func (c *CaptureEncoder) PreprocessBypassed() bool {
	return c.bypass.Load()
}

// StartCapture opens the audio source and feeds its frames into the
// encoder.
func (c *CaptureEncoder) StartCapture(source AudioSource) error {
	c.sourceMu.Lock()
	defer c.sourceMu.Unlock()

	if c.source != nil {
		return ErrAlreadyCapturing
	}

	c.inputMu.Lock()
	c.reframe.Reset()
	c.resampler = nil
	if rate := source.SampleRate(); rate != SampleRate {
		r, err := audio.NewResampler(audio.ResamplerConfig{
			InputRate:  uint32(rate),
			OutputRate: SampleRate,
			Channels:   1,
		})
		if err != nil {
			c.inputMu.Unlock()
			return newError(KindResourceInit, "create input resampler", err)
		}
		c.resampler = r
	}
	c.inputMu.Unlock()

	if err := source.Start(c.HandleInput); err != nil {
		return newError(KindResourceInit, "start audio source", err)
	}
	c.source = source

	logrus.WithFields(logrus.Fields{
		"function":    "CaptureEncoder.StartCapture",
		"sample_rate": source.SampleRate(),
	}).Info("Audio capture started")
	return nil
}

// StopCapture stops the audio source. Stopping an idle encoder is a no-op.
func (c *CaptureEncoder) StopCapture() error {
	c.sourceMu.Lock()
	source := c.source
	c.source = nil
	c.sourceMu.Unlock()

	if source == nil {
		return nil
	}
	if err := source.Stop(); err != nil {
		return fmt.Errorf("stop audio source: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CaptureEncoder.StopCapture",
	}).Info("Audio capture stopped")
	return nil
}

// IsCapturing reports whether an audio source is attached.
func (c *CaptureEncoder) IsCapturing() bool {
	c.sourceMu.Lock()
	defer c.sourceMu.Unlock()
	return c.source != nil
}

// HandleInput accepts microphone PCM of any length at the source rate,
// re-frames it to 10ms at 48kHz and processes each frame.
func (c *CaptureEncoder) HandleInput(samples []int16) error {
	c.inputMu.Lock()
	defer c.inputMu.Unlock()

	if c.resampler != nil {
		out, err := c.resampler.Resample(samples)
		if err != nil {
			return fmt.Errorf("resample input: %w", err)
		}
		samples = out
	}
	c.reframe.Write(samples)

	var firstErr error
	for c.reframe.Next(c.frame) {
		if err := c.ProcessFrame(c.frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ProcessFrame runs one 10ms microphone frame through talk detection, gain
// staging, preprocessing and encoding. frame may be modified.
func (c *CaptureEncoder) ProcessFrame(frame []int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.injecting.Load() {
		return nil
	}

	talking := c.mode.ShouldTransmit(frame) && !c.serverMuted.Load()
	if talking != c.talking {
		c.setTalkingLocked(talking)
	}

	var encodeErr error
	if talking && c.encoder != nil {
		audio.ApplyGain(frame, c.inputGain.Get())
		if c.config.AmplitudeBoost != 1.0 {
			audio.ApplyGain(frame, c.config.AmplitudeBoost)
		}
		frame = c.preprocessLocked(frame)

		if err := c.encoder.Encode(frame, len(frame)); err != nil {
			encodeErr = newError(KindEncode, "encode microphone frame", err)
		} else {
			c.frameCounter++
			c.metrics.recordEncoded(context.Background(), sourceMicrophone)
		}
	}

	if err := c.sendIfReadyLocked(); err != nil && encodeErr == nil {
		encodeErr = err
	}
	return encodeErr
}

// setTalkingLocked records a talk state change, notifies listeners and
// ends the transmission when talking stops.
func (c *CaptureEncoder) setTalkingLocked(talking bool) {
	c.talking = talking

	state := TalkPassive
	if talking {
		state = TalkStateForTarget(uint8(c.target.Load()))
	}
	if c.events != nil {
		c.events.Emit(TalkEvent{State: state, Local: true})
	}
	if c.config.HalfDuplex && c.halfDuplex != nil {
		c.halfDuplex.SetMuted(talking)
	}

	if !talking && c.encoder != nil && c.encoder.BufferedFrameCount() > 0 {
		if err := c.terminateLocked(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CaptureEncoder.setTalking",
				"error":    err.Error(),
			}).Warn("Failed to terminate encoder")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "CaptureEncoder.setTalking",
		"talking":  talking,
	}).Debug("Local talk state changed")
}

func (c *CaptureEncoder) preprocessLocked(frame []int16) []int16 {
	if c.preprocess == nil || c.bypass.Load() {
		return frame
	}
	out, err := c.preprocess.Process(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CaptureEncoder.preprocess",
			"error":    err.Error(),
		}).Warn("Preprocessing failed, sending unprocessed frame")
		return frame
	}
	return out
}

// terminateLocked ends the pending packet early. Silence the encoder pads
// it with counts as sent frames, keeping sequence numbers in step with the
// audio duration receivers decode.
func (c *CaptureEncoder) terminateLocked() error {
	buffered := c.encoder.BufferedFrameCount()
	if err := c.encoder.Terminate(); err != nil {
		return err
	}
	if !c.encoder.IsReady() {
		return nil
	}
	if padding := c.encoder.BufferedFrameCount() - buffered; padding > 0 {
		c.frameCounter += int64(padding)
	}
	return nil
}

// sendIfReadyLocked sends the encoder's pending payload if there is one.
// The sequence number is the frame counter at the packet's first frame.
func (c *CaptureEncoder) sendIfReadyLocked() error {
	if c.encoder == nil || !c.encoder.IsReady() {
		return nil
	}

	frames := c.encoder.BufferedFrameCount()
	payload, err := c.encoder.EncodedData()
	if err != nil {
		return newError(KindEncode, "read encoded data", err)
	}
	data, err := packet.MarshalOutbound(c.codec, uint8(c.target.Load()), c.frameCounter-int64(frames), payload)
	if err != nil {
		return newError(KindEncode, "build voice packet", err)
	}
	if err := c.sender.SendVoicePacket(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CaptureEncoder.send",
			"size":     len(data),
			"error":    err.Error(),
		}).Warn("Failed to send voice packet")
		return fmt.Errorf("send voice packet: %w", err)
	}
	c.metrics.PacketsSent.Add(context.Background(), 1)
	return nil
}

// Inject transmits synthetic 48kHz mono PCM, such as a roger beep, in place
// of the microphone. Frames are paced at the 10ms frame cadence. Talk state
// and preprocessing bypass are restored when it returns, whether it
// succeeds, fails or is cancelled through ctx.
func (c *CaptureEncoder) Inject(ctx context.Context, samples []int16) error {
	if len(samples) == 0 {
		return errors.New("no audio to inject")
	}
	if len(samples) > limits.MaxInjectSamples {
		return fmt.Errorf("injected audio too long: %d samples (max %d)", len(samples), limits.MaxInjectSamples)
	}
	if !c.injecting.CompareAndSwap(false, true) {
		return ErrInjecting
	}

	c.mu.Lock()
	if c.encoder == nil {
		c.mu.Unlock()
		c.injecting.Store(false)
		return ErrNoEncoder
	}
	wasTalking := c.talking
	wasBypassed := c.bypass.Load()
	clock := c.timeProvider
	if !c.talking {
		c.setTalkingLocked(true)
	}
	c.bypass.Store(true)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "CaptureEncoder.Inject",
		"samples":  len(samples),
		"ms":       len(samples) / (SampleRate / 1000),
	}).Info("Starting audio injection")

	defer func() {
		c.mu.Lock()
		c.flushLocked()
		c.bypass.Store(wasBypassed)
		if c.talking != wasTalking {
			c.setTalkingLocked(wasTalking)
		}
		c.injecting.Store(false)
		c.mu.Unlock()
	}()

	frame := make([]int16, FrameSize)
	frames := 0
	for offset := 0; offset < len(samples); offset += FrameSize {
		start := clock.Now()

		n := copy(frame, samples[offset:])
		clear(frame[n:])
		if err := c.injectFrame(frame, n); err != nil {
			return err
		}
		frames++

		if offset+FrameSize >= len(samples) {
			break
		}
		if err := clock.Sleep(ctx, FrameDuration-clock.Now().Sub(start)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CaptureEncoder.Inject",
				"frames":   frames,
			}).Info("Audio injection cancelled")
			return newError(KindInterrupted, "inject audio", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "CaptureEncoder.Inject",
		"frames":   frames,
	}).Info("Audio injection complete")
	return nil
}

func (c *CaptureEncoder) injectFrame(frame []int16, length int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.encoder == nil {
		return ErrNoEncoder
	}
	audio.ApplyGain(frame[:length], c.inputGain.Get())
	frame = c.preprocessLocked(frame)
	if err := c.encoder.Encode(frame, length); err != nil {
		return newError(KindEncode, "encode injected frame", err)
	}
	c.frameCounter++
	c.metrics.recordEncoded(context.Background(), sourceInjected)
	return c.sendIfReadyLocked()
}

// flushLocked terminates and sends any frames still buffered in the
// encoder.
func (c *CaptureEncoder) flushLocked() {
	if c.encoder == nil || c.encoder.BufferedFrameCount() == 0 {
		return
	}
	if err := c.terminateLocked(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CaptureEncoder.flush",
			"error":    err.Error(),
		}).Warn("Failed to terminate encoder")
		return
	}
	if err := c.sendIfReadyLocked(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CaptureEncoder.flush",
			"error":    err.Error(),
		}).Warn("Failed to send final buffered audio")
	}
}

// Shutdown stops capture, releases the encoder and reports the local user
// as passive. The encoder can be started again after SetCodec.
func (c *CaptureEncoder) Shutdown() error {
	stopErr := c.StopCapture()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.encoder != nil {
		if err := c.encoder.Close(); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("close encoder: %w", err)
		}
		c.encoder = nil
	}
	c.hasCodec = false
	c.talking = false
	if c.events != nil {
		c.events.Emit(TalkEvent{State: TalkPassive, Local: true})
	}
	if c.config.HalfDuplex && c.halfDuplex != nil {
		c.halfDuplex.SetMuted(false)
	}
	return stopErr
}

// Close shuts the encoder down for good, releasing the preprocessing chain.
func (c *CaptureEncoder) Close() error {
	err := c.Shutdown()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preprocess != nil {
		if cerr := c.preprocess.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close preprocessing: %w", cerr)
		}
		c.preprocess = nil
	}
	return err
}
