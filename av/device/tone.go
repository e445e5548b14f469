package device

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicepipe/av"
)

// ToneSource is a synthetic microphone that plays a fixed PCM buffer at
// the real-time frame cadence, then silence, or the buffer again when
// looping.
type ToneSource struct {
	pcm      []int16
	loop     bool
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewToneSource creates a source for 48kHz mono pcm.
func NewToneSource(pcm []int16, loop bool) *ToneSource {
	return &ToneSource{
		pcm:      append([]int16(nil), pcm...),
		loop:     loop,
		interval: av.FrameDuration,
	}
}

// SampleRate returns 48kHz.
func (t *ToneSource) SampleRate() int {
	return av.SampleRate
}

// Start begins delivering one frame per tick to handler.
func (t *ToneSource) Start(handler av.FrameHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		return av.ErrAlreadyCapturing
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(handler, t.stop, t.done)

	logrus.WithFields(logrus.Fields{
		"function": "ToneSource.Start",
		"samples":  len(t.pcm),
		"loop":     t.loop,
	}).Info("Started tone source")
	return nil
}

// Stop halts delivery and waits for the delivery goroutine to exit.
func (t *ToneSource) Stop() error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (t *ToneSource) run(handler av.FrameHandler, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	frame := make([]int16, av.FrameSize)
	pos := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		pos = t.fill(frame, pos)
		if err := handler(frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ToneSource.run",
				"error":    err.Error(),
			}).Debug("Capture handler rejected frame")
		}
	}
}

// fill copies the next frame of the buffer into frame and returns the new
// read position.
func (t *ToneSource) fill(frame []int16, pos int) int {
	for i := range frame {
		if pos >= len(t.pcm) {
			if !t.loop || len(t.pcm) == 0 {
				frame[i] = 0
				continue
			}
			pos = 0
		}
		frame[i] = t.pcm[pos]
		pos++
	}
	return pos
}
