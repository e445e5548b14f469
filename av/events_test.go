package av

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventQueuePreservesOrder(t *testing.T) {
	rec := &eventRecorder{}
	q := NewEventQueue(rec.Listen)

	var want []TalkEvent
	for i := uint32(0); i < 200; i++ {
		ev := TalkEvent{Session: i, State: TalkState(i % 4)}
		want = append(want, ev)
		q.Emit(ev)
	}
	q.Close()

	assert.Equal(t, want, rec.Events())
}

func TestEventQueueEmitDoesNotBlockOnSlowListener(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	q := NewEventQueue(func(TalkEvent) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	for i := 0; i < 100; i++ {
		q.Emit(TalkEvent{Session: uint32(i)})
	}
	close(release)
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 100, delivered)
}

func TestEventQueueSurvivesPanickingListener(t *testing.T) {
	rec := &eventRecorder{}
	q := NewEventQueue(func(ev TalkEvent) {
		if ev.Session == 1 {
			panic("listener bug")
		}
		rec.Listen(ev)
	})

	q.Emit(TalkEvent{Session: 1})
	q.Emit(TalkEvent{Session: 2, State: TalkTalking})
	q.Close()

	assert.Equal(t, []TalkEvent{{Session: 2, State: TalkTalking}}, rec.Events())
}

func TestEventQueueDropsAfterClose(t *testing.T) {
	rec := &eventRecorder{}
	q := NewEventQueue(rec.Listen)
	q.Emit(TalkEvent{Local: true, State: TalkTalking})
	q.Close()
	q.Emit(TalkEvent{Local: true, State: TalkPassive})
	q.Close()

	assert.Equal(t, []TalkEvent{{Local: true, State: TalkTalking}}, rec.Events())
}

func TestEventQueueNilListener(t *testing.T) {
	q := NewEventQueue(nil)
	q.Emit(TalkEvent{Session: 3})
	q.Close()
}
