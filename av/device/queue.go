package device

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by writes to a released device.
var ErrClosed = errors.New("audio device closed")

// pcmQueue hands 16-bit little-endian PCM from the playback loop to the
// device's pull reader. Write blocks while more than limit bytes are
// queued; Read never blocks and fills gaps with silence.
type pcmQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	limit  int
	closed bool
	// underruns counts reads that had to be padded with silence
	underruns int
}

func newPCMQueue(limitSamples int) *pcmQueue {
	q := &pcmQueue{limit: limitSamples * 2}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *pcmQueue) Write(samples []int16) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && len(q.buf) >= q.limit {
		q.cond.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	for _, s := range samples {
		q.buf = binary.LittleEndian.AppendUint16(q.buf, uint16(s))
	}
	return nil
}

// Read implements io.Reader for the device player.
func (q *pcmQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, io.EOF
	}
	n := copy(p, q.buf)
	q.buf = q.buf[:copy(q.buf, q.buf[n:])]
	if n < len(p) {
		clear(p[n:])
		q.underruns++
	}
	q.cond.Broadcast()
	return len(p), nil
}

func (q *pcmQueue) Flush() {
	q.mu.Lock()
	q.buf = q.buf[:0]
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *pcmQueue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) / 2
}

func (q *pcmQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.buf = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *pcmQueue) underrunCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.underruns
}
