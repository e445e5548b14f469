// Package config loads voicepipe settings from a YAML file, an optional
// .env file and VOICEPIPE_ prefixed environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/voicepipe"
	"github.com/opd-ai/voicepipe/av"
	"github.com/opd-ai/voicepipe/av/codec"
	"github.com/opd-ai/voicepipe/av/packet"
	"github.com/opd-ai/voicepipe/interfaces"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "VOICEPIPE_"

// Input modes accepted by capture.input_mode.
const (
	InputContinuous    = "continuous"
	InputPushToTalk    = "push_to_talk"
	InputVoiceActivity = "voice_activity"
)

// Sources accepted by device.source.
const (
	SourceMicrophone = "microphone"
	SourceTone       = "tone"
)

// Config is the complete voicepipe configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" env:", prefix=LOG_"`
	Capture   CaptureConfig   `yaml:"capture" env:", prefix=CAPTURE_"`
	Playback  PlaybackConfig  `yaml:"playback" env:", prefix=PLAYBACK_"`
	Codec     CodecConfig     `yaml:"codec" env:", prefix=CODEC_"`
	Device    DeviceConfig    `yaml:"device" env:", prefix=DEVICE_"`
	Transport TransportConfig `yaml:"transport" env:", prefix=TRANSPORT_"`
}

// LogConfig configures logrus.
type LogConfig struct {
	// Level is a logrus level name: trace, debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL, overwrite"`
	// Format is "text" or "json".
	Format string `yaml:"format" env:"FORMAT, overwrite"`
}

// CaptureConfig configures the send side.
type CaptureConfig struct {
	Bitrate          int           `yaml:"bitrate" env:"BITRATE, overwrite"`
	FramesPerPacket  int           `yaml:"frames_per_packet" env:"FRAMES_PER_PACKET, overwrite"`
	InputGain        float64       `yaml:"input_gain" env:"INPUT_GAIN, overwrite"`
	AmplitudeBoost   float64       `yaml:"amplitude_boost" env:"AMPLITUDE_BOOST, overwrite"`
	HalfDuplex       bool          `yaml:"half_duplex" env:"HALF_DUPLEX, overwrite"`
	Preprocess       bool          `yaml:"preprocess" env:"PREPROCESS, overwrite"`
	NoiseSuppression float64       `yaml:"noise_suppression" env:"NOISE_SUPPRESSION, overwrite"`
	InputMode        string        `yaml:"input_mode" env:"INPUT_MODE, overwrite"`
	VADThreshold     float64       `yaml:"vad_threshold" env:"VAD_THRESHOLD, overwrite"`
	VADHold          time.Duration `yaml:"vad_hold" env:"VAD_HOLD, overwrite"`
}

// PlaybackConfig configures the receive side.
type PlaybackConfig struct {
	BufferSize       int     `yaml:"buffer_size" env:"BUFFER_SIZE, overwrite"`
	OutputGain       float64 `yaml:"output_gain" env:"OUTPUT_GAIN, overwrite"`
	JitterDepth      int     `yaml:"jitter_depth" env:"JITTER_DEPTH, overwrite"`
	ExhaustionFrames int     `yaml:"exhaustion_frames" env:"EXHAUSTION_FRAMES, overwrite"`
	// Workers bounds parallel decoding; zero means one per CPU.
	Workers int `yaml:"workers" env:"WORKERS, overwrite"`
}

// CodecConfig selects codec implementations.
type CodecConfig struct {
	// Backend is the Opus decoder: "libopus" or "pure".
	Backend string `yaml:"backend" env:"BACKEND, overwrite"`
	// Preferred is the codec used before the server announces one.
	Preferred string `yaml:"preferred" env:"PREFERRED, overwrite"`
}

// DeviceConfig selects the audio source.
type DeviceConfig struct {
	Source           string `yaml:"source" env:"SOURCE, overwrite"`
	SourceSampleRate int    `yaml:"source_sample_rate" env:"SOURCE_SAMPLE_RATE, overwrite"`
}

// TransportConfig configures the voice packet transport.
type TransportConfig struct {
	Simulate        bool    `yaml:"simulate" env:"SIMULATE, overwrite"`
	LoopbackSession uint32  `yaml:"loopback_session" env:"LOOPBACK_SESSION, overwrite"`
	DropRate        float64 `yaml:"drop_rate" env:"DROP_RATE, overwrite"`
	ReorderRate     float64 `yaml:"reorder_rate" env:"REORDER_RATE, overwrite"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	capture := av.DefaultCaptureConfig()
	playback := av.DefaultPlaybackConfig()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Capture: CaptureConfig{
			Bitrate:          capture.Bitrate,
			FramesPerPacket:  capture.FramesPerPacket,
			InputGain:        capture.InputGain,
			AmplitudeBoost:   capture.AmplitudeBoost,
			Preprocess:       capture.Preprocess,
			NoiseSuppression: capture.NoiseSuppression,
			InputMode:        InputContinuous,
			VADThreshold:     0.5,
			VADHold:          500 * time.Millisecond,
		},
		Playback: PlaybackConfig{
			BufferSize:       playback.BufferSize,
			OutputGain:       playback.OutputGain,
			JitterDepth:      playback.Registry.Speaker.JitterDepth,
			ExhaustionFrames: playback.Registry.Speaker.ExhaustionFrames,
		},
		Codec:  CodecConfig{Backend: string(codec.BackendLibopus), Preferred: packet.CodecOpus.String()},
		Device: DeviceConfig{Source: SourceMicrophone, SourceSampleRate: av.SampleRate},
		Transport: TransportConfig{
			LoopbackSession: 1,
		},
	}
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	c := cfg.Capture
	if c.Bitrate < av.MinBitrate {
		errs = append(errs, fmt.Errorf("capture.bitrate %d is below the %d floor", c.Bitrate, av.MinBitrate))
	}
	if !av.ValidFramesPerPacket(c.FramesPerPacket) {
		errs = append(errs, fmt.Errorf("capture.frames_per_packet %d is invalid; valid values: 1, 2, 4, 6", c.FramesPerPacket))
	}
	if c.InputGain <= 0 {
		errs = append(errs, fmt.Errorf("capture.input_gain %.2f must be positive", c.InputGain))
	}
	if c.AmplitudeBoost <= 0 {
		errs = append(errs, fmt.Errorf("capture.amplitude_boost %.2f must be positive", c.AmplitudeBoost))
	}
	if c.NoiseSuppression < 0 || c.NoiseSuppression > 1 {
		errs = append(errs, fmt.Errorf("capture.noise_suppression %.2f is out of range [0, 1]", c.NoiseSuppression))
	}
	switch c.InputMode {
	case InputContinuous, InputPushToTalk:
	case InputVoiceActivity:
		if c.VADThreshold < 0 || c.VADThreshold > 1 {
			errs = append(errs, fmt.Errorf("capture.vad_threshold %.2f is out of range [0, 1]", c.VADThreshold))
		}
		if c.VADHold < 0 {
			errs = append(errs, fmt.Errorf("capture.vad_hold %s must not be negative", c.VADHold))
		}
	default:
		errs = append(errs, fmt.Errorf("capture.input_mode %q is invalid; valid values: %s, %s, %s",
			c.InputMode, InputContinuous, InputPushToTalk, InputVoiceActivity))
	}

	p := cfg.Playback
	if p.BufferSize < av.FrameSize || p.BufferSize > av.MaxBufferSize || p.BufferSize%av.FrameSize != 0 {
		errs = append(errs, fmt.Errorf("playback.buffer_size %d must be a multiple of %d up to %d", p.BufferSize, av.FrameSize, av.MaxBufferSize))
	}
	if p.OutputGain <= 0 {
		errs = append(errs, fmt.Errorf("playback.output_gain %.2f must be positive", p.OutputGain))
	}
	if p.JitterDepth < 1 {
		errs = append(errs, fmt.Errorf("playback.jitter_depth %d must be at least 1", p.JitterDepth))
	}
	if p.ExhaustionFrames < 1 {
		errs = append(errs, fmt.Errorf("playback.exhaustion_frames %d must be at least 1", p.ExhaustionFrames))
	}
	if p.Workers < 0 {
		errs = append(errs, fmt.Errorf("playback.workers %d must not be negative", p.Workers))
	}

	if _, err := codec.ParseBackend(cfg.Codec.Backend); err != nil {
		errs = append(errs, fmt.Errorf("codec.backend: %w", err))
	}
	if preferred, err := packet.ParseCodec(cfg.Codec.Preferred); err != nil {
		errs = append(errs, fmt.Errorf("codec.preferred: %w", err))
	} else if preferred != packet.CodecOpus {
		errs = append(errs, fmt.Errorf("codec.preferred %q has no encoder; only opus is supported", cfg.Codec.Preferred))
	}

	switch cfg.Device.Source {
	case SourceMicrophone, SourceTone:
	default:
		errs = append(errs, fmt.Errorf("device.source %q is invalid; valid values: %s, %s", cfg.Device.Source, SourceMicrophone, SourceTone))
	}
	if cfg.Device.SourceSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("device.source_sample_rate %d must be positive", cfg.Device.SourceSampleRate))
	}

	t := cfg.Transport
	if t.DropRate < 0 || t.DropRate > 1 {
		errs = append(errs, fmt.Errorf("transport.drop_rate %.2f is out of range [0, 1]", t.DropRate))
	}
	if t.ReorderRate < 0 || t.ReorderRate > 1 {
		errs = append(errs, fmt.Errorf("transport.reorder_rate %.2f is out of range [0, 1]", t.ReorderRate))
	}

	return errors.Join(errs...)
}

// InputMode builds the transmit predicate named by capture.input_mode.
func (c *Config) InputMode() (av.InputMode, error) {
	switch c.Capture.InputMode {
	case InputContinuous:
		return av.ContinuousMode{}, nil
	case InputPushToTalk:
		return av.NewPushToTalkMode(), nil
	case InputVoiceActivity:
		return av.NewVoiceActivityMode(c.Capture.VADThreshold, c.Capture.VADHold)
	}
	return nil, fmt.Errorf("unknown input mode %q", c.Capture.InputMode)
}

// CaptureConfig converts the capture section to the engine's settings.
func (c *Config) CaptureConfig() (av.CaptureConfig, error) {
	mode, err := c.InputMode()
	if err != nil {
		return av.CaptureConfig{}, err
	}
	return av.CaptureConfig{
		Bitrate:          c.Capture.Bitrate,
		FramesPerPacket:  c.Capture.FramesPerPacket,
		AmplitudeBoost:   c.Capture.AmplitudeBoost,
		InputGain:        c.Capture.InputGain,
		HalfDuplex:       c.Capture.HalfDuplex,
		Preprocess:       c.Capture.Preprocess,
		NoiseSuppression: c.Capture.NoiseSuppression,
		InputMode:        mode,
	}, nil
}

// PlaybackConfig converts the playback section to the engine's settings.
func (c *Config) PlaybackConfig() av.PlaybackConfig {
	pc := av.DefaultPlaybackConfig()
	pc.BufferSize = c.Playback.BufferSize
	pc.OutputGain = c.Playback.OutputGain
	pc.Registry.Speaker.JitterDepth = c.Playback.JitterDepth
	pc.Registry.Speaker.ExhaustionFrames = c.Playback.ExhaustionFrames
	if c.Playback.Workers > 0 {
		pc.Registry.Workers = c.Playback.Workers
	}
	return pc
}

// Options returns the handler options for this configuration.
func (c *Config) Options() (voicepipe.Options, error) {
	capture, err := c.CaptureConfig()
	if err != nil {
		return voicepipe.Options{}, err
	}
	return voicepipe.Options{Capture: capture, Playback: c.PlaybackConfig()}, nil
}

// CodecFactory returns the codec factory for codec.backend.
func (c *Config) CodecFactory() (codec.Factory, error) {
	backend, err := codec.ParseBackend(c.Codec.Backend)
	if err != nil {
		return codec.Factory{}, err
	}
	return codec.Factory{Backend: backend}, nil
}

// PreferredCodec returns the codec named by codec.preferred.
func (c *Config) PreferredCodec() (packet.Codec, error) {
	return packet.ParseCodec(c.Codec.Preferred)
}

// VoiceTransport converts the transport section.
func (c *Config) VoiceTransport() interfaces.VoiceTransportConfig {
	return interfaces.VoiceTransportConfig{
		UseSimulation:   c.Transport.Simulate,
		LoopbackSession: c.Transport.LoopbackSession,
		DropRate:        c.Transport.DropRate,
		ReorderRate:     c.Transport.ReorderRate,
	}
}
