package voicepipe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/opd-ai/voicepipe/av"
	"github.com/opd-ai/voicepipe/av/audio"
	"github.com/opd-ai/voicepipe/av/packet"
	"github.com/opd-ai/voicepipe/interfaces"
)

var (
	// ErrNotInitialized is returned by operations that need a running
	// pipeline.
	ErrNotInitialized = errors.New("audio handler not initialized")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("audio handler closed")
)

// Options is the immutable pipeline configuration.
type Options struct {
	Capture  av.CaptureConfig
	Playback av.PlaybackConfig
}

// DefaultOptions returns the default capture and playback settings.
func DefaultOptions() Options {
	return Options{
		Capture:  av.DefaultCaptureConfig(),
		Playback: av.DefaultPlaybackConfig(),
	}
}

// Dependencies are the collaborators the handler drives. Decoders,
// Encoders, Sink, Source and Sender are required.
type Dependencies struct {
	Decoders av.DecoderFactory
	Encoders av.EncoderFactory
	Sink     av.SinkOpener
	Source   av.AudioSource
	Sender   interfaces.IVoicePacketSender

	// Listener receives talk state changes for every speaker and for the
	// local user.
	Listener av.TalkListener
	// Filter decides whose voice is played. Nil accepts everyone.
	Filter av.SpeakerFilter
	// MeterProvider defaults to the global OpenTelemetry provider.
	MeterProvider metric.MeterProvider
	TimeProvider  av.TimeProvider
}

func (d Dependencies) validate() error {
	var missing []string
	if d.Decoders == nil {
		missing = append(missing, "decoder factory")
	}
	if d.Encoders == nil {
		missing = append(missing, "encoder factory")
	}
	if d.Sink == nil {
		missing = append(missing, "audio sink")
	}
	if d.Source == nil {
		missing = append(missing, "audio source")
	}
	if d.Sender == nil {
		missing = append(missing, "packet sender")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing dependencies: %v", missing)
	}
	return nil
}

// Self is the local user's server state at connect time.
type Self struct {
	Session    uint32
	Muted      bool
	SelfMuted  bool
	Suppressed bool
}

// UserState is a user state update from the server. Nil flags were not
// part of the message.
type UserState struct {
	Session    uint32
	Muted      *bool
	SelfMuted  *bool
	Suppressed *bool
}

func (u UserState) hasMuteFlags() bool {
	return u.Muted != nil || u.SelfMuted != nil || u.Suppressed != nil
}

func (u UserState) muted() bool {
	flag := func(b *bool) bool { return b != nil && *b }
	return flag(u.Muted) || flag(u.SelfMuted) || flag(u.Suppressed)
}

// CodecVersion is the server's codec announcement.
type CodecVersion struct {
	Opus        bool
	HasBeta     bool
	PreferAlpha bool
}

// NegotiateCodec picks the outbound codec for a server announcement: Opus
// when the server allows it, otherwise the preferred CELT bitstream.
func NegotiateCodec(v CodecVersion) packet.Codec {
	switch {
	case v.Opus:
		return packet.CodecOpus
	case v.HasBeta && !v.PreferAlpha:
		return packet.CodecCELTBeta
	default:
		return packet.CodecCELTAlpha
	}
}

// AudioHandler owns the capture and playback pipelines for one server
// connection and applies server messages to them.
type AudioHandler struct {
	opts   Options
	source av.AudioSource

	events    *av.EventQueue
	registry  *av.Registry
	mixer     *audio.Mixer
	scheduler *av.OutputScheduler
	capture   *av.CaptureEncoder

	mu          sync.Mutex
	initialized bool
	closed      bool
	session     uint32
}

// NewAudioHandler builds a stopped pipeline. Nothing is opened until
// Initialize.
func NewAudioHandler(opts Options, deps Dependencies) (*AudioHandler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	metrics := av.DefaultMetrics()
	if deps.MeterProvider != nil {
		m, err := av.NewMetrics(deps.MeterProvider)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		metrics = m
	}

	events := av.NewEventQueue(deps.Listener)
	registry := av.NewRegistry(opts.Playback.Registry, deps.Decoders, events, metrics)
	if deps.Filter != nil {
		registry.SetFilter(deps.Filter)
	}
	mixer := audio.NewMixer(opts.Playback.OutputGain)
	scheduler := av.NewOutputScheduler(registry, mixer, deps.Sink, opts.Playback.BufferSize, metrics)

	capture, err := av.NewCaptureEncoder(opts.Capture, deps.Encoders, deps.Sender, events, metrics)
	if err != nil {
		events.Close()
		return nil, fmt.Errorf("create capture encoder: %w", err)
	}
	capture.SetHalfDuplexMixer(mixer)
	if deps.TimeProvider != nil {
		capture.SetTimeProvider(deps.TimeProvider)
	}

	logrus.WithFields(logrus.Fields{
		"function":          "NewAudioHandler",
		"bitrate":           opts.Capture.Bitrate,
		"frames_per_packet": opts.Capture.FramesPerPacket,
		"buffer_size":       opts.Playback.BufferSize,
		"half_duplex":       opts.Capture.HalfDuplex,
	}).Info("Created audio handler")

	return &AudioHandler{
		opts:      opts,
		source:    deps.Source,
		events:    events,
		registry:  registry,
		mixer:     mixer,
		scheduler: scheduler,
		capture:   capture,
	}, nil
}

// Initialize starts capture and playback for the local session. It
// applies the bandwidth limit (non-positive means none), selects the codec,
// applies the server mute and then opens the source and the sink. A codec
// without an encoder leaves input disabled but playback running. If a
// device cannot be opened nothing is left running. Calling Initialize
// again is a no-op.
func (h *AudioHandler) Initialize(self Self, maxBandwidth int, codec packet.Codec) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if h.initialized {
		return nil
	}
	h.session = self.Session

	if _, err := h.capture.SetMaxBandwidth(bandwidthLimit(maxBandwidth)); err != nil {
		return fmt.Errorf("apply bandwidth limit: %w", err)
	}
	if err := h.setCodecLocked(codec); err != nil {
		_ = h.capture.Shutdown()
		return err
	}
	h.capture.SetServerMuted(self.Muted || self.SelfMuted || self.Suppressed)

	if err := h.capture.StartCapture(h.source); err != nil {
		_ = h.capture.Shutdown()
		return fmt.Errorf("start capture: %w", err)
	}
	if err := h.scheduler.Start(); err != nil {
		_ = h.capture.Shutdown()
		return fmt.Errorf("start playback: %w", err)
	}
	h.initialized = true

	logrus.WithFields(logrus.Fields{
		"function":      "AudioHandler.Initialize",
		"session":       self.Session,
		"codec":         codec.String(),
		"max_bandwidth": maxBandwidth,
	}).Info("Audio handler initialized")
	return nil
}

func bandwidthLimit(maxBandwidth int) int {
	if maxBandwidth <= 0 {
		return av.Unconstrained
	}
	return maxBandwidth
}

// setCodecLocked tolerates codecs that have no encoder, which disables
// input without failing the pipeline.
func (h *AudioHandler) setCodecLocked(codec packet.Codec) error {
	err := h.capture.SetCodec(codec)
	if errors.Is(err, av.ErrUnsupportedCodec) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select codec %s: %w", codec, err)
	}
	return nil
}

// Shutdown stops capture and playback and releases the encoder. The local
// user is reported as passive. The handler can be initialized again.
func (h *AudioHandler) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shutdownLocked()
}

func (h *AudioHandler) shutdownLocked() error {
	if !h.initialized {
		return nil
	}
	h.initialized = false

	captureErr := h.capture.Shutdown()
	playbackErr := h.scheduler.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "AudioHandler.Shutdown",
		"session":  h.session,
	}).Info("Audio handler shut down")
	return errors.Join(captureErr, playbackErr)
}

// Close shuts the pipeline down for good and stops event delivery.
func (h *AudioHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	err := h.shutdownLocked()
	if cerr := h.capture.Close(); cerr != nil && err == nil {
		err = cerr
	}
	h.events.Close()
	return err
}

// IsInitialized reports whether Initialize has succeeded and Shutdown has
// not been called since.
func (h *AudioHandler) IsInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

// HandleVoiceData accepts one inbound voice packet. It implements
// interfaces.IVoicePacketReceiver.
func (h *AudioHandler) HandleVoiceData(data []byte) error {
	if !h.IsInitialized() {
		return ErrNotInitialized
	}
	return h.registry.HandleVoiceData(data)
}

// HandleCodecVersion renegotiates the outbound codec. The encoder is only
// recreated when the negotiated codec differs from the current one.
func (h *AudioHandler) HandleCodecVersion(v CodecVersion) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return nil
	}
	codec := NegotiateCodec(v)
	if current, ok := h.capture.Codec(); ok && current == codec {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "AudioHandler.HandleCodecVersion",
		"codec":    codec.String(),
	}).Info("Switching outbound codec")
	return h.setCodecLocked(codec)
}

// HandleServerSync applies the server's bandwidth ceiling. A non-positive
// value removes the limit.
func (h *AudioHandler) HandleServerSync(maxBandwidth int) error {
	maxBandwidth = bandwidthLimit(maxBandwidth)
	budget, err := h.capture.SetMaxBandwidth(maxBandwidth)
	if err != nil && !errors.Is(err, av.ErrUnsupportedCodec) {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":          "AudioHandler.HandleServerSync",
		"max_bandwidth":     maxBandwidth,
		"bitrate":           budget.Bitrate,
		"frames_per_packet": budget.FramesPerPacket,
	}).Debug("Applied server bandwidth limit")
	return nil
}

// HandleUserState updates the server mute when the message is about the
// local user and carries mute flags.
func (h *AudioHandler) HandleUserState(u UserState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized || u.Session != h.session || !u.hasMuteFlags() {
		return
	}
	h.capture.SetServerMuted(u.muted())
}

// Inject transmits synthetic audio in place of the microphone. It blocks
// for the duration of the audio or until ctx is cancelled.
func (h *AudioHandler) Inject(ctx context.Context, samples []int16) error {
	if !h.IsInitialized() {
		return ErrNotInitialized
	}
	if len(samples) == 0 {
		return errors.New("no audio to inject")
	}
	return h.capture.Inject(ctx, samples)
}

// PlayTone renders a named tone style at volume and injects it.
func (h *AudioHandler) PlayTone(ctx context.Context, style string, volume float64) error {
	seq, err := audio.ToneStyle(style)
	if err != nil {
		return err
	}
	return h.Inject(ctx, seq.Render(volume))
}

// SetInputGain sets the microphone gain and returns the clamped value.
func (h *AudioHandler) SetInputGain(gain float64) float64 {
	return h.capture.SetInputGain(gain)
}

// InputGain returns the microphone gain.
func (h *AudioHandler) InputGain() float64 {
	return h.capture.InputGain()
}

// SetOutputGain sets the playback gain and returns the clamped value.
func (h *AudioHandler) SetOutputGain(gain float64) float64 {
	return h.mixer.SetGain(gain)
}

// OutputGain returns the playback gain.
func (h *AudioHandler) OutputGain() float64 {
	return h.mixer.Gain()
}

// SetVoiceTarget directs outbound voice at a whisper or shout target.
func (h *AudioHandler) SetVoiceTarget(target uint8) {
	h.capture.SetVoiceTarget(target)
}

// ClearVoiceTarget returns to normal talk.
func (h *AudioHandler) ClearVoiceTarget() {
	h.capture.ClearVoiceTarget()
}

// SetInputMode replaces the transmit predicate.
func (h *AudioHandler) SetInputMode(mode av.InputMode) {
	h.capture.SetInputMode(mode)
}

// CurrentBandwidth returns the outbound bandwidth in bits per second,
// including packet overhead.
func (h *AudioHandler) CurrentBandwidth() int {
	return h.capture.CurrentBandwidth()
}

// Codec returns the selected outbound codec.
func (h *AudioHandler) Codec() (packet.Codec, bool) {
	return h.capture.Codec()
}

// IsPlaying reports whether the playback loop is running.
func (h *AudioHandler) IsPlaying() bool {
	return h.scheduler.IsPlaying()
}

// IsTalking reports whether the local user is transmitting.
func (h *AudioHandler) IsTalking() bool {
	return h.capture.IsTalking()
}

// ServerMuted reports whether the server has muted the local user.
func (h *AudioHandler) ServerMuted() bool {
	return h.capture.ServerMuted()
}

// Speakers returns the sessions that currently have a speaker channel.
func (h *AudioHandler) Speakers() []uint32 {
	return h.registry.Sessions()
}
