package av

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicepipe/av/audio"
)

// SchedulerState is the playback loop state.
type SchedulerState int32

const (
	// SchedulerStopped means no playback loop is running
	SchedulerStopped SchedulerState = iota
	// SchedulerActive means the loop is writing mixed audio
	SchedulerActive
	// SchedulerPaused means the sink is paused until voice arrives
	SchedulerPaused
)

// String returns a human-readable scheduler state.
func (s SchedulerState) String() string {
	switch s {
	case SchedulerStopped:
		return "stopped"
	case SchedulerActive:
		return "active"
	case SchedulerPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// PlaybackConfig configures the playback side.
type PlaybackConfig struct {
	// BufferSize is the number of samples mixed and written per tick.
	BufferSize int
	// OutputGain scales the mix, clamped to [0.1, 5.0].
	OutputGain float64
	Registry   RegistryConfig
}

// DefaultPlaybackConfig returns 10ms ticks at unity gain.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		BufferSize: FrameSize,
		OutputGain: 1.0,
		Registry:   DefaultRegistryConfig(),
	}
}

// OutputScheduler runs the playback loop: each tick it mixes every live
// speaker and writes the result to the sink, and when nobody is speaking it
// flushes and pauses the sink until the registry signals new voice.
type OutputScheduler struct {
	registry *Registry
	mixer    *audio.Mixer
	opener   SinkOpener
	size     int
	metrics  *Metrics

	mu     sync.Mutex // serializes Start and Stop
	state  atomic.Int32
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	sink   AudioSink
}

// NewOutputScheduler creates a stopped scheduler and registers itself as
// the registry's waker.
func NewOutputScheduler(registry *Registry, mixer *audio.Mixer, opener SinkOpener, bufferSize int, metrics *Metrics) *OutputScheduler {
	if bufferSize <= 0 {
		bufferSize = FrameSize
	}
	if bufferSize > MaxBufferSize {
		bufferSize = MaxBufferSize
	}
	if metrics == nil {
		metrics = DefaultMetrics()
	}
	s := &OutputScheduler{
		registry: registry,
		mixer:    mixer,
		opener:   opener,
		size:     bufferSize,
		metrics:  metrics,
		wake:     make(chan struct{}, 1),
	}
	registry.SetWaker(s.Wake)
	return s
}

// Start opens the sink and launches the playback loop. It returns
// ErrAlreadyPlaying if the loop is running, and a KindResourceInit error if
// the sink cannot be opened or started.
func (s *OutputScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyPlaying
	}

	sink, err := s.opener.OpenSink(SampleRate, s.size)
	if err != nil {
		return newError(KindResourceInit, "open audio sink", err)
	}
	if err := sink.Play(); err != nil {
		_ = sink.Release()
		return newError(KindResourceInit, "start audio sink", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.sink = sink
	s.state.Store(int32(SchedulerActive))

	logrus.WithFields(logrus.Fields{
		"function":    "OutputScheduler.Start",
		"buffer_size": s.size,
	}).Info("Started playback")

	go s.run(ctx, sink, s.done)
	return nil
}

// Stop ends the playback loop, destroys every speaker channel and releases
// the sink. It is safe to call while the loop is paused or mid-tick, and on
// a stopped scheduler.
func (s *OutputScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	// Release unblocks a Write on a device that stopped pulling
	err := s.sink.Release()
	<-s.done
	s.cancel = nil
	s.sink = nil

	s.registry.DestroyAll()
	s.state.Store(int32(SchedulerStopped))

	logrus.WithFields(logrus.Fields{
		"function": "OutputScheduler.Stop",
	}).Info("Stopped playback")
	return err
}

// Wake signals that voice is available. Extra signals are coalesced.
func (s *OutputScheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// State returns the current loop state.
func (s *OutputScheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// IsPlaying reports whether the loop is running.
func (s *OutputScheduler) IsPlaying() bool {
	return s.State() != SchedulerStopped
}

func (s *OutputScheduler) run(ctx context.Context, sink AudioSink, done chan struct{}) {
	defer close(done)
	buf := make([]int16, s.size)

	for ctx.Err() == nil {
		produced := false
		s.registry.Tick(ctx, s.size, func(outputs [][]int16) {
			produced = s.mixer.Mix(buf, outputs)
		})

		if produced {
			if err := sink.Write(buf); err != nil {
				if ctx.Err() != nil {
					return
				}
				logrus.WithFields(logrus.Fields{
					"function": "OutputScheduler.run",
					"error":    err.Error(),
				}).Error("Failed to write audio to sink")
			}
			s.metrics.MixTicks.Add(ctx, 1)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		if err := errors.Join(sink.Flush(), sink.Pause()); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OutputScheduler.run",
				"error":    err.Error(),
			}).Warn("Failed to pause sink")
		}
		s.state.Store(int32(SchedulerPaused))
		s.metrics.SchedulerPauses.Add(ctx, 1)
		logrus.WithFields(logrus.Fields{
			"function": "OutputScheduler.run",
		}).Debug("No speakers, playback paused")

		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}

		s.state.Store(int32(SchedulerActive))
		if err := sink.Play(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OutputScheduler.run",
				"error":    err.Error(),
			}).Warn("Failed to resume sink")
		}
	}
}
