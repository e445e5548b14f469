package device

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicepipe/av"
)

// oto allows a single context per process.
var (
	otoOnce       sync.Once
	otoContext    *oto.Context
	otoRate       int
	otoContextErr error
)

func sharedOtoContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoContextErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		otoContext = ctx
		otoRate = sampleRate
	})
	if otoContextErr != nil {
		return nil, otoContextErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("oto context already running at %dHz, cannot open %dHz", otoRate, sampleRate)
	}
	return otoContext, nil
}

// queueDepth is how many device buffers Write may run ahead of playback.
const queueDepth = 4

// OtoOpener opens speaker output through ebitengine/oto.
type OtoOpener struct{}

// OpenSink implements av.SinkOpener.
func (OtoOpener) OpenSink(sampleRate, bufferSize int) (av.AudioSink, error) {
	ctx, err := sharedOtoContext(sampleRate)
	if err != nil {
		return nil, err
	}

	queue := newPCMQueue(bufferSize * queueDepth)
	player := ctx.NewPlayer(queue)
	player.SetBufferSize(bufferSize * 2)

	logrus.WithFields(logrus.Fields{
		"function":    "OtoOpener.OpenSink",
		"sample_rate": sampleRate,
		"buffer_size": bufferSize,
	}).Info("Opened oto audio sink")

	return &OtoSink{player: player, queue: queue}, nil
}

// OtoSink plays mono 16-bit PCM through an oto player fed from a bounded
// queue.
type OtoSink struct {
	player *oto.Player
	queue  *pcmQueue
	mu     sync.Mutex
	closed bool
}

// Play starts or resumes playback.
func (s *OtoSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.player.Play()
	return nil
}

// Write queues samples, blocking while the queue is full.
func (s *OtoSink) Write(samples []int16) error {
	return s.queue.Write(samples)
}

// Pause stops pulling samples. Queued audio is kept.
func (s *OtoSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.player.Pause()
	return nil
}

// Flush drops queued audio that has not reached the device.
func (s *OtoSink) Flush() error {
	s.queue.Flush()
	return nil
}

// Release closes the player. Blocked writers return ErrClosed.
func (s *OtoSink) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.queue.Close()

	logrus.WithFields(logrus.Fields{
		"function":  "OtoSink.Release",
		"underruns": s.queue.underrunCount(),
	}).Info("Released oto audio sink")

	return s.player.Close()
}
