package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicepipe/av"
)

// MalgoSource captures mono 16-bit PCM from the default input device
// through miniaudio.
type MalgoSource struct {
	rate   int
	period uint32

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	samples []int16
}

// NewMalgoSource creates a capture source. A zero rate selects 48kHz.
func NewMalgoSource(sampleRate int) *MalgoSource {
	if sampleRate <= 0 {
		sampleRate = av.SampleRate
	}
	return &MalgoSource{rate: sampleRate, period: uint32(av.FrameDuration.Milliseconds())}
}

// SampleRate returns the capture rate.
func (m *MalgoSource) SampleRate() int {
	return m.rate
}

// Start opens the capture device and delivers every callback buffer to
// handler on the device thread.
func (m *MalgoSource) Start(handler av.FrameHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return av.ErrAlreadyCapturing
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.rate)
	cfg.PeriodSizeInMilliseconds = m.period

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.samples = decodeS16(m.samples[:0], input)
			if err := handler(m.samples); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "MalgoSource.Data",
					"error":    err.Error(),
				}).Debug("Capture handler rejected frame")
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(ctx)
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	m.ctx = ctx
	m.device = device

	logrus.WithFields(logrus.Fields{
		"function":    "MalgoSource.Start",
		"sample_rate": m.rate,
	}).Info("Started microphone capture")
	return nil
}

// Stop closes the device. It is safe to call when not started.
func (m *MalgoSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return nil
	}
	m.device.Uninit()
	m.device = nil
	freeContext(m.ctx)
	m.ctx = nil

	logrus.WithFields(logrus.Fields{
		"function": "MalgoSource.Stop",
	}).Info("Stopped microphone capture")
	return nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	if err := ctx.Uninit(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "freeContext",
			"error":    err.Error(),
		}).Warn("Failed to uninitialize malgo context")
	}
	ctx.Free()
}

// decodeS16 appends little-endian 16-bit samples from raw to dst.
func decodeS16(dst []int16, raw []byte) []int16 {
	for i := 0; i+1 < len(raw); i += 2 {
		dst = append(dst, int16(uint16(raw[i])|uint16(raw[i+1])<<8))
	}
	return dst
}
