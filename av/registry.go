package av

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/voicepipe/av/packet"
)

// Retire reasons recorded on ChannelsRetired.
const (
	retireExhausted   = "exhausted"
	retireCodecChange = "codec_change"
	retirePanic       = "panic"
	retireRemoved     = "removed"
	retireShutdown    = "shutdown"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Speaker SpeakerConfig
	// Workers bounds parallel decoding; zero means runtime.NumCPU().
	Workers int
}

// DefaultRegistryConfig returns the default speaker settings with one decode
// worker per CPU.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{Speaker: DefaultSpeakerConfig(), Workers: runtime.NumCPU()}
}

// Registry owns every SpeakerChannel. One mutex covers channel creation,
// replacement and removal, packet buffering and the parallel decode phase,
// so a channel is never destroyed while a decode worker is using it.
type Registry struct {
	mu         sync.Mutex
	channels   map[uint32]*SpeakerChannel
	config     RegistryConfig
	newDecoder DecoderFactory
	filter     SpeakerFilter
	wake       func()
	events     *EventQueue
	metrics    *Metrics

	order   []*SpeakerChannel
	results []fetchResult
	outputs [][]int16
}

type fetchResult struct {
	out      []int16
	alive    bool
	panicked bool
}

// NewRegistry creates an empty registry. events and metrics may be nil.
func NewRegistry(config RegistryConfig, newDecoder DecoderFactory, events *EventQueue, metrics *Metrics) *Registry {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.Speaker.ExhaustionFrames <= 0 {
		config.Speaker.ExhaustionFrames = DefaultSpeakerConfig().ExhaustionFrames
	}
	if metrics == nil {
		metrics = DefaultMetrics()
	}
	return &Registry{
		channels:   make(map[uint32]*SpeakerChannel),
		config:     config,
		newDecoder: newDecoder,
		events:     events,
		metrics:    metrics,
	}
}

// SetFilter installs the predicate deciding whose voice is accepted.
func (r *Registry) SetFilter(filter SpeakerFilter) {
	r.mu.Lock()
	r.filter = filter
	r.mu.Unlock()
}

// SetWaker installs the function called after every accepted packet.
func (r *Registry) SetWaker(wake func()) {
	r.mu.Lock()
	r.wake = wake
	r.mu.Unlock()
}

// HandleVoiceData parses one inbound wire packet and dispatches it.
// Malformed packets and packets from filtered sessions are dropped.
func (r *Registry) HandleVoiceData(data []byte) error {
	ctx := context.Background()
	p, err := packet.ParseInbound(data)
	if err != nil {
		r.metrics.recordDrop(ctx, DropMalformed)
		return &Error{Kind: KindTransientSpeaker, Op: "parse voice packet", Err: err}
	}
	frames, terminator, err := packet.SplitFrames(p.Codec, p.Payload)
	if err != nil {
		r.metrics.recordDrop(ctx, DropMalformed)
		return &Error{Kind: KindTransientSpeaker, Op: "split frames", Session: p.Session, Err: err}
	}

	r.mu.Lock()
	filter := r.filter
	r.mu.Unlock()
	if filter != nil && !filter(p.Session) {
		r.metrics.recordDrop(ctx, DropFiltered)
		return nil
	}

	return r.Dispatch(p.Session, p.Codec, packet.Entry{
		Sequence:   p.Sequence,
		Target:     p.Target,
		Frames:     frames,
		Terminator: terminator,
	})
}

// Dispatch routes one packet to its speaker's channel, creating the channel
// or replacing it on a codec change. A decoder construction failure drops
// the packet and creates no channel.
func (r *Registry) Dispatch(session uint32, codec packet.Codec, e packet.Entry) error {
	ctx := context.Background()

	r.mu.Lock()
	ch := r.channels[session]
	if ch != nil && ch.Codec() != codec {
		logrus.WithFields(logrus.Fields{
			"function":  "Registry.Dispatch",
			"session":   session,
			"old_codec": ch.Codec().String(),
			"new_codec": codec.String(),
		}).Info("Speaker changed codec, recreating channel")
		r.retireLocked(ctx, session, retireCodecChange)
		ch = nil
	}

	if ch == nil {
		dec, err := r.newDecoder(codec)
		if err != nil {
			r.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "Registry.Dispatch",
				"session":  session,
				"codec":    codec.String(),
				"error":    err.Error(),
			}).Warn("Failed to create decoder, dropping packet")
			r.metrics.recordDrop(ctx, DropDecoderInit)
			return &Error{Kind: KindTransientSpeaker, Op: "create decoder", Session: session, Err: err}
		}
		ch = newSpeakerChannel(session, codec, dec, r.config.Speaker)
		r.channels[session] = ch
		r.metrics.ChannelsCreated.Add(ctx, 1)
		r.metrics.ActiveSpeakers.Add(ctx, 1)
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Dispatch",
			"session":  session,
			"codec":    codec.String(),
		}).Info("Created speaker channel")
	}

	accepted := ch.Buffer(e)
	wake := r.wake
	r.mu.Unlock()

	if !accepted {
		r.metrics.recordDrop(ctx, DropLate)
		return nil
	}
	r.metrics.PacketsDispatched.Add(ctx, 1)
	if wake != nil {
		wake()
	}
	return nil
}

// Tick decodes one tick of audio from every channel in parallel, retires
// exhausted channels and passes the live outputs to mix. mix runs with the
// registry locked and must not retain the slices. Tick returns the number of
// live outputs.
func (r *Registry) Tick(ctx context.Context, samples int, mix func(outputs [][]int16)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.channels) == 0 {
		if mix != nil {
			mix(nil)
		}
		return 0
	}

	r.order = r.order[:0]
	for _, ch := range r.channels {
		r.order = append(r.order, ch)
	}
	if cap(r.results) < len(r.order) {
		r.results = make([]fetchResult, len(r.order))
	}
	results := r.results[:len(r.order)]

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(r.config.Workers)
	for i, ch := range r.order {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Registry.Tick",
						"session":  ch.Session(),
						"panic":    fmt.Sprint(p),
					}).Error("Speaker decode panicked")
					results[i] = fetchResult{panicked: true}
				}
			}()
			out, alive := ch.Fetch(samples)
			results[i] = fetchResult{out: out, alive: alive}
			return nil
		})
	}
	_ = g.Wait()
	r.metrics.DecodeDuration.Record(ctx, time.Since(start).Seconds())

	r.outputs = r.outputs[:0]
	for i, ch := range r.order {
		res := results[i]
		if n := ch.takeConcealed(); n > 0 {
			r.metrics.ConcealedFrames.Add(ctx, int64(n))
		}
		switch {
		case res.panicked:
			r.retireLocked(ctx, ch.Session(), retirePanic)
		case !res.alive:
			r.retireLocked(ctx, ch.Session(), retireExhausted)
		default:
			if state, changed := ch.takeTransition(); changed {
				r.emit(TalkEvent{Session: ch.Session(), State: state})
			}
			r.outputs = append(r.outputs, res.out)
		}
		results[i] = fetchResult{}
	}

	if mix != nil {
		mix(r.outputs)
	}
	return len(r.outputs)
}

// Retire destroys the channel for session. It returns false if none existed.
func (r *Registry) Retire(session uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retireLocked(context.Background(), session, retireRemoved)
}

// retireLocked removes and closes a channel, reporting a final passive
// state if the speaker was last reported active.
func (r *Registry) retireLocked(ctx context.Context, session uint32, reason string) bool {
	ch, ok := r.channels[session]
	if !ok {
		return false
	}
	delete(r.channels, session)

	if ch.reported.Active() {
		ch.reported = TalkPassive
		r.emit(TalkEvent{Session: session, State: TalkPassive})
	}
	if err := ch.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.retireLocked",
			"session":  session,
			"error":    err.Error(),
		}).Warn("Failed to close speaker decoder")
	}
	r.metrics.recordRetire(ctx, reason)

	logrus.WithFields(logrus.Fields{
		"function": "Registry.retireLocked",
		"session":  session,
		"reason":   reason,
	}).Debug("Retired speaker channel")
	return true
}

// DestroyAll retires every channel.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := context.Background()
	for session := range r.channels {
		r.retireLocked(ctx, session, retireShutdown)
	}
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Sessions returns the sessions with live channels, sorted.
func (r *Registry) Sessions() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint32, 0, len(r.channels))
	for s := range r.channels {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TalkState returns the current talk state of a session.
func (r *Registry) TalkState(session uint32) (TalkState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[session]
	if !ok {
		return TalkPassive, false
	}
	return ch.reported, true
}

func (r *Registry) emit(ev TalkEvent) {
	if r.events != nil {
		r.events.Emit(ev)
	}
}
