package packet

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Entry is one buffered voice packet for a single speaker.
type Entry struct {
	Sequence   int64
	Target     uint8
	Frames     [][]byte
	Terminator bool
}

// PopResult describes what the jitter buffer produced for the current cursor.
type PopResult int

const (
	// PopEmpty means nothing is buffered.
	PopEmpty PopResult = iota
	// PopReady means the entry at the cursor was returned.
	PopReady
	// PopLost means the frame at the cursor is missing but later packets
	// exist; the cursor moved forward by one frame.
	PopLost
	// PopResync means the gap to the next packet was too large to conceal;
	// the cursor jumped to that packet and it was returned.
	PopResync
)

func (r PopResult) String() string {
	switch r {
	case PopReady:
		return "ready"
	case PopLost:
		return "lost"
	case PopResync:
		return "resync"
	default:
		return "empty"
	}
}

// JitterConfig controls buffer sizing, all values in 10ms frames.
type JitterConfig struct {
	// Capacity is the most packets held before the oldest is dropped.
	Capacity int
	// MaxGap is the largest run of missing frames concealed one by one
	// before the cursor jumps ahead.
	MaxGap int64
	// RestartWindow is how far behind the cursor a packet may be before it
	// is treated as a restarted stream instead of a late packet.
	RestartWindow int64
}

// DefaultJitterConfig returns sizing suited to 10ms frames.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		Capacity:      64,
		MaxGap:        8,
		RestartWindow: 500,
	}
}

// JitterBuffer orders a speaker's packets by sequence number and releases
// them frame by frame.
type JitterBuffer struct {
	mu      sync.Mutex
	config  JitterConfig
	entries []Entry // sorted by Sequence
	next    int64
	started bool
	late    uint64
}

// NewJitterBuffer creates an empty jitter buffer.
func NewJitterBuffer(config JitterConfig) *JitterBuffer {
	def := DefaultJitterConfig()
	if config.Capacity <= 0 {
		config.Capacity = def.Capacity
	}
	if config.MaxGap <= 0 {
		config.MaxGap = def.MaxGap
	}
	if config.RestartWindow <= 0 {
		config.RestartWindow = def.RestartWindow
	}
	return &JitterBuffer{config: config}
}

// Push inserts a packet. It returns false when the packet was dropped as a
// duplicate or as arriving after its frames were already played out.
func (jb *JitterBuffer) Push(e Entry) bool {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if !jb.started {
		jb.started = true
		jb.next = e.Sequence
	}

	if e.Sequence < jb.next {
		if jb.next-e.Sequence <= jb.config.RestartWindow {
			jb.late++
			logrus.WithFields(logrus.Fields{
				"function": "JitterBuffer.Push",
				"sequence": e.Sequence,
				"cursor":   jb.next,
			}).Debug("Dropping late packet")
			return false
		}
		logrus.WithFields(logrus.Fields{
			"function": "JitterBuffer.Push",
			"sequence": e.Sequence,
			"cursor":   jb.next,
		}).Debug("Sequence restarted, resetting buffer")
		jb.entries = jb.entries[:0]
		jb.next = e.Sequence
	}

	i := sort.Search(len(jb.entries), func(i int) bool { return jb.entries[i].Sequence >= e.Sequence })
	if i < len(jb.entries) && jb.entries[i].Sequence == e.Sequence {
		return false
	}
	jb.entries = append(jb.entries, Entry{})
	copy(jb.entries[i+1:], jb.entries[i:])
	jb.entries[i] = e

	for len(jb.entries) > jb.config.Capacity {
		jb.entries = jb.entries[1:]
		if jb.entries[0].Sequence > jb.next {
			jb.next = jb.entries[0].Sequence
		}
	}
	return true
}

// Pop returns the packet at the cursor, a loss marker, or nothing. A
// returned entry is removed and the cursor moves past its first frame; call
// Advance for any additional frames the packet covered.
func (jb *JitterBuffer) Pop() (Entry, PopResult) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	// entries overlapped by an earlier multi-frame packet
	for len(jb.entries) > 0 && jb.entries[0].Sequence < jb.next {
		jb.entries = jb.entries[1:]
		jb.late++
	}
	if len(jb.entries) == 0 {
		return Entry{}, PopEmpty
	}

	head := jb.entries[0]
	switch {
	case head.Sequence == jb.next:
		jb.entries = jb.entries[1:]
		jb.next++
		return head, PopReady
	case head.Sequence-jb.next <= jb.config.MaxGap:
		jb.next++
		return Entry{}, PopLost
	default:
		jb.entries = jb.entries[1:]
		jb.next = head.Sequence + 1
		return head, PopResync
	}
}

// Advance moves the cursor forward by n frames.
func (jb *JitterBuffer) Advance(n int64) {
	if n <= 0 {
		return
	}
	jb.mu.Lock()
	jb.next += n
	jb.mu.Unlock()
}

// Len returns the number of buffered packets.
func (jb *JitterBuffer) Len() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return len(jb.entries)
}

// Cursor returns the next expected sequence number and whether any packet
// has been seen.
func (jb *JitterBuffer) Cursor() (int64, bool) {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.next, jb.started
}

// LateDrops returns how many packets were dropped for arriving too late.
func (jb *JitterBuffer) LateDrops() uint64 {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.late
}

// Reset clears the buffer; the next Push sets a new cursor.
func (jb *JitterBuffer) Reset() {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	jb.entries = nil
	jb.next = 0
	jb.started = false
}
