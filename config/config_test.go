package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/voicepipe/av"
	"github.com/opd-ai/voicepipe/av/codec"
	"github.com/opd-ai/voicepipe/av/packet"
)

const sampleYAML = `
log:
  level: debug
  format: json
capture:
  bitrate: 24000
  frames_per_packet: 4
  input_mode: voice_activity
  vad_threshold: 0.4
  vad_hold: 250ms
  half_duplex: true
playback:
  jitter_depth: 5
  workers: 2
codec:
  backend: pure
transport:
  simulate: true
  drop_rate: 0.1
`

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 24000, cfg.Capture.Bitrate)
	assert.Equal(t, 4, cfg.Capture.FramesPerPacket)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.VADHold)
	assert.True(t, cfg.Capture.HalfDuplex)
	assert.Equal(t, 5, cfg.Playback.JitterDepth)
	assert.True(t, cfg.Transport.Simulate)

	// untouched keys keep their defaults
	assert.Equal(t, 1.0, cfg.Capture.InputGain)
	assert.True(t, cfg.Capture.Preprocess)
	assert.Equal(t, av.FrameSize, cfg.Playback.BufferSize)
	assert.Equal(t, "opus", cfg.Codec.Preferred)
}

func TestLoadFromReaderEmpty(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("capture:\n  bitrat: 100\n"))
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "xml"
	cfg.Capture.Bitrate = 100
	cfg.Capture.FramesPerPacket = 3
	cfg.Capture.InputMode = "telepathy"
	cfg.Playback.BufferSize = 500
	cfg.Codec.Backend = "mystery"
	cfg.Codec.Preferred = "speex"
	cfg.Device.Source = "radio"
	cfg.Transport.DropRate = 2

	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{
		"log.format", "capture.bitrate", "capture.frames_per_packet", "capture.input_mode",
		"playback.buffer_size", "codec.backend", "codec.preferred", "device.source", "transport.drop_rate",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadSourcesPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "voicepipe.yaml")
	require.NoError(t, os.WriteFile(file, []byte(sampleYAML), 0o600))
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte(
		"VOICEPIPE_CAPTURE_BITRATE=32000\nVOICEPIPE_PLAYBACK_JITTER_DEPTH=7\n"), 0o600))

	env := envconfig.MapLookuper(map[string]string{
		"VOICEPIPE_CAPTURE_BITRATE":    "16000",
		"VOICEPIPE_CAPTURE_PREPROCESS": "false",
		"VOICEPIPE_CAPTURE_VAD_HOLD":   "1s",
		"VOICEPIPE_LOG_LEVEL":          "warn",
	})

	cfg, err := LoadSources(context.Background(), Sources{File: file, DotEnv: dotenv, Lookuper: env})
	require.NoError(t, err)

	assert.Equal(t, 16000, cfg.Capture.Bitrate, "environment beats .env and yaml")
	assert.Equal(t, 7, cfg.Playback.JitterDepth, ".env beats yaml")
	assert.False(t, cfg.Capture.Preprocess)
	assert.Equal(t, time.Second, cfg.Capture.VADHold)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Capture.FramesPerPacket, "yaml beats defaults")
}

func TestLoadSourcesMissingDotEnv(t *testing.T) {
	cfg, err := LoadSources(context.Background(), Sources{
		DotEnv:   filepath.Join(t.TempDir(), "missing.env"),
		Lookuper: envconfig.MapLookuper(nil),
	})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadSourcesErrors(t *testing.T) {
	_, err := LoadSources(context.Background(), Sources{File: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)

	_, err = LoadSources(context.Background(), Sources{
		Lookuper: envconfig.MapLookuper(map[string]string{"VOICEPIPE_CAPTURE_BITRATE": "loud"}),
	})
	assert.Error(t, err)

	_, err = LoadSources(context.Background(), Sources{
		Lookuper: envconfig.MapLookuper(map[string]string{"VOICEPIPE_CAPTURE_FRAMES_PER_PACKET": "5"}),
	})
	assert.Error(t, err, "environment values are validated")
}

func TestConversions(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	capture, err := cfg.CaptureConfig()
	require.NoError(t, err)
	assert.Equal(t, 24000, capture.Bitrate)
	assert.True(t, capture.HalfDuplex)
	assert.IsType(t, &av.VoiceActivityMode{}, capture.InputMode)

	playback := cfg.PlaybackConfig()
	assert.Equal(t, 5, playback.Registry.Speaker.JitterDepth)
	assert.Equal(t, 2, playback.Registry.Workers)
	assert.Equal(t, av.DefaultSpeakerConfig().Jitter, playback.Registry.Speaker.Jitter)

	factory, err := cfg.CodecFactory()
	require.NoError(t, err)
	assert.Equal(t, codec.BackendPure, factory.Backend)

	preferred, err := cfg.PreferredCodec()
	require.NoError(t, err)
	assert.Equal(t, packet.CodecOpus, preferred)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, capture.Bitrate, opts.Capture.Bitrate)
	assert.Equal(t, playback, opts.Playback)

	transport := cfg.VoiceTransport()
	assert.True(t, transport.UseSimulation)
	assert.Equal(t, uint32(1), transport.LoopbackSession)
	assert.Equal(t, 0.1, transport.DropRate)
}

func TestInputModes(t *testing.T) {
	cfg := Default()

	mode, err := cfg.InputMode()
	require.NoError(t, err)
	assert.Equal(t, av.ContinuousMode{}, mode)

	cfg.Capture.InputMode = InputPushToTalk
	mode, err = cfg.InputMode()
	require.NoError(t, err)
	assert.IsType(t, &av.PushToTalkMode{}, mode)

	cfg.Capture.InputMode = "bogus"
	_, err = cfg.InputMode()
	assert.Error(t, err)
	_, err = cfg.CaptureConfig()
	assert.Error(t, err)
}

func TestConfigureLogging(t *testing.T) {
	logger := logrus.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	require.NoError(t, ConfigureLogging(LogConfig{Level: "debug", Format: "json"}, logger))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	assert.Contains(t, buf.String(), `"function":"ConfigureLogging"`)

	require.NoError(t, ConfigureLogging(LogConfig{}, logger))
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	assert.Error(t, ConfigureLogging(LogConfig{Level: "loud"}, logger))
	assert.Error(t, ConfigureLogging(LogConfig{Format: "xml"}, logger))
}
