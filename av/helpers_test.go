package av

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/opd-ai/voicepipe/av/packet"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterValue sums every data point of an int64 sum metric, optionally
// restricted to one attribute value.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, not an int64 sum", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				if key != "" {
					if v, ok := dp.Attributes.Value(attribute.Key(key)); !ok || v.AsString() != value {
						continue
					}
				}
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

// fakeDecoder turns frame byte b into FrameSize samples of b*100. A first
// byte of 0xff fails and 0xfe panics.
type fakeDecoder struct {
	closed atomic.Bool
	pcm    []int16
}

func (d *fakeDecoder) Decode(frame []byte) ([]int16, error) {
	if len(frame) == 0 {
		return nil, errors.New("empty frame")
	}
	switch frame[0] {
	case 0xff:
		return nil, errors.New("corrupt frame")
	case 0xfe:
		panic("decoder exploded")
	}
	n := FrameSize
	if len(frame) > 1 {
		n = FrameSize * int(frame[1])
	}
	if cap(d.pcm) < n {
		d.pcm = make([]int16, n)
	}
	pcm := d.pcm[:n]
	for i := range pcm {
		pcm[i] = int16(frame[0]) * 100
	}
	return pcm, nil
}

func (d *fakeDecoder) Conceal(samples int) ([]int16, error) {
	return make([]int16, samples), nil
}

func (d *fakeDecoder) Close() error {
	d.closed.Store(true)
	return nil
}

// decoderFactory builds fake decoders for every codec except those listed
// as unsupported, and remembers what it built.
type decoderFactory struct {
	mu          sync.Mutex
	unsupported map[packet.Codec]bool
	built       []*fakeDecoder
}

func (f *decoderFactory) New(codec packet.Codec) (Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsupported[codec] {
		return nil, ErrUnsupportedCodec
	}
	d := &fakeDecoder{}
	f.built = append(f.built, d)
	return d, nil
}

func (f *decoderFactory) Built() []*fakeDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeDecoder(nil), f.built...)
}

// fakeEncoder packs FramesPerPacket frames per payload. Terminate pads a
// partial packet to 10, 20, 40 or 60ms. Payload frames decode with
// fakeDecoder to the packet's duration.
type fakeEncoder struct {
	mu         sync.Mutex
	params     EncoderParams
	buffered   int
	ready      bool
	terminated bool
	encodes    int
	terminates int
	lengths    []int
	lastFrame  []int16
	failOn     int // fail the nth Encode call, 1-based
	closed     bool
}

func (e *fakeEncoder) Encode(frame []int16, length int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.encodes++
	if e.failOn > 0 && e.encodes == e.failOn {
		return errors.New("encoder failure")
	}
	e.lengths = append(e.lengths, length)
	e.lastFrame = append(e.lastFrame[:0], frame...)
	e.buffered++
	if e.buffered >= e.params.FramesPerPacket {
		e.ready = true
	}
	return nil
}

func (e *fakeEncoder) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *fakeEncoder) BufferedFrameCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffered
}

func (e *fakeEncoder) Terminate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminates++
	if e.ready || e.buffered == 0 {
		return nil
	}
	e.terminated = true
	e.ready = true
	for _, n := range []int{1, 2, 4, 6} {
		if e.buffered <= n {
			e.buffered = n
			break
		}
	}
	return nil
}

func (e *fakeEncoder) EncodedData() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	frame := []byte{1}
	if e.buffered > 1 {
		frame = append(frame, byte(e.buffered))
	}
	out, err := packet.AppendOpusFrame(nil, frame, e.terminated)
	e.buffered = 0
	e.ready = false
	e.terminated = false
	return out, err
}

func (e *fakeEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEncoder) snapshot() (encodes, terminates int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodes, e.terminates
}

// encoderFactory records every encoder it creates.
type encoderFactory struct {
	mu          sync.Mutex
	unsupported map[packet.Codec]bool
	failOn      int
	built       []*fakeEncoder
}

func (f *encoderFactory) New(codec packet.Codec, params EncoderParams) (Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsupported[codec] {
		return nil, ErrUnsupportedCodec
	}
	e := &fakeEncoder{params: params, failOn: f.failOn}
	f.built = append(f.built, e)
	return e, nil
}

func (f *encoderFactory) Last() *fakeEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

func (f *encoderFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

// packetRecorder collects outbound packets.
type packetRecorder struct {
	mu      sync.Mutex
	packets [][]byte
	err     error
}

func (r *packetRecorder) SendVoicePacket(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.packets = append(r.packets, append([]byte(nil), data...))
	return nil
}

func (r *packetRecorder) Parsed(t *testing.T) []packet.VoicePacket {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]packet.VoicePacket, 0, len(r.packets))
	for _, data := range r.packets {
		p, err := packet.ParseOutbound(data)
		if err != nil {
			t.Fatalf("ParseOutbound: %v", err)
		}
		out = append(out, p)
	}
	return out
}

// eventRecorder is a TalkListener that stores events.
type eventRecorder struct {
	mu     sync.Mutex
	events []TalkEvent
}

func (r *eventRecorder) Listen(ev TalkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) Events() []TalkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TalkEvent(nil), r.events...)
}

// fakeSink counts calls. Write sleeps briefly so the playback loop does not
// spin.
type fakeSink struct {
	writes   atomic.Int64
	pauses   atomic.Int64
	flushes  atomic.Int64
	plays    atomic.Int64
	released atomic.Bool
	playErr  error
}

func (s *fakeSink) Play() error {
	s.plays.Add(1)
	return s.playErr
}

func (s *fakeSink) Write([]int16) error {
	s.writes.Add(1)
	time.Sleep(time.Millisecond)
	return nil
}

func (s *fakeSink) Pause() error {
	s.pauses.Add(1)
	return nil
}

func (s *fakeSink) Flush() error {
	s.flushes.Add(1)
	return nil
}

func (s *fakeSink) Release() error {
	s.released.Store(true)
	return nil
}

// fakeClock never sleeps; it records requested durations and honours
// cancellation. A non-nil gate blocks Sleep until it is closed.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	gate   chan struct{}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeSource hands its handler to the test.
type fakeSource struct {
	mu       sync.Mutex
	rate     int
	handler  FrameHandler
	startErr error
	stopped  bool
}

func (s *fakeSource) Start(handler FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.handler = handler
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSource) SampleRate() int { return s.rate }

func (s *fakeSource) Feed(samples []int16) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	return h(samples)
}

// opusEntry builds a jitter entry carrying one fake frame of value b.
func opusEntry(seq int64, b byte) packet.Entry {
	return packet.Entry{Sequence: seq, Frames: [][]byte{{b}}}
}

func constantFrame(v int16) []int16 {
	f := make([]int16, FrameSize)
	for i := range f {
		f[i] = v
	}
	return f
}
