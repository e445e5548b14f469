package audio

// FrameBuffer re-cuts a stream of arbitrarily sized sample buffers into
// fixed-size frames.
type FrameBuffer struct {
	size    int
	pending []int16
}

// NewFrameBuffer creates a FrameBuffer emitting frames of size samples.
func NewFrameBuffer(size int) *FrameBuffer {
	return &FrameBuffer{size: size, pending: make([]int16, 0, 4*size)}
}

// Write appends samples to the buffer.
func (f *FrameBuffer) Write(samples []int16) {
	f.pending = append(f.pending, samples...)
}

// Next copies the oldest complete frame into dst and reports whether one was
// available. dst must hold at least one frame.
func (f *FrameBuffer) Next(dst []int16) bool {
	if len(f.pending) < f.size {
		return false
	}
	copy(dst, f.pending[:f.size])
	n := copy(f.pending, f.pending[f.size:])
	f.pending = f.pending[:n]
	return true
}

// Buffered returns the number of samples waiting for a complete frame.
func (f *FrameBuffer) Buffered() int {
	return len(f.pending)
}

// Reset drops buffered samples.
func (f *FrameBuffer) Reset() {
	f.pending = f.pending[:0]
}
