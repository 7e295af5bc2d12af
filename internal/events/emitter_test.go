package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	name  string
	count atomic.Int32
	full  bool
}

func (s *countingSink) Name() string { return s.name }
func (s *countingSink) TryPush(e Event) PushResult {
	s.count.Add(1)
	if s.full {
		return Full
	}
	return Accepted
}

func TestEmitFansOutToAllSinks(t *testing.T) {
	e := NewEmitter(2, 8)
	a := &countingSink{name: "a"}
	b := &countingSink{name: "b"}
	e.Register(a)
	e.Register(b)

	e.Emit(Event{Kind: KindHeartbeat, Summary: "test"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.Close(ctx)

	if a.count.Load() != 1 {
		t.Fatalf("sink a got %d deliveries, want 1", a.count.Load())
	}
	if b.count.Load() != 1 {
		t.Fatalf("sink b got %d deliveries, want 1", b.count.Load())
	}
}

// blockingSink stalls every TryPush until release is closed.
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Name() string { return "slow" }
func (s *blockingSink) TryPush(e Event) PushResult {
	<-s.release
	return Accepted
}

func TestEmitDoesNotBlockOnSlowSink(t *testing.T) {
	e := NewEmitter(1, 1)
	slow := &blockingSink{release: make(chan struct{})}
	e.Register(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			e.Emit(Event{Kind: KindHeartbeat})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked the caller")
	}
	close(slow.release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.Close(ctx)
}

type recordingSink struct {
	name string
	mu   chan struct{}
	got  []Event
}

func newRecordingSink(name string) *recordingSink {
	return &recordingSink{name: name, mu: make(chan struct{}, 1)}
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) TryPush(e Event) PushResult {
	s.got = append(s.got, e)
	return Accepted
}

func TestEmitPreservesSubmissionOrderPerSink(t *testing.T) {
	e := NewEmitter(4, 64)
	sink := newRecordingSink("ordered")
	e.Register(sink)

	want := []Kind{KindExit, KindEnter, KindCount, KindMove, KindDescribe, KindHeartbeat}
	for i, k := range want {
		e.Emit(Event{Kind: k, FrameSeq: uint64(i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.Close(ctx)

	if len(sink.got) != len(want) {
		t.Fatalf("got %d events, want %d", len(sink.got), len(want))
	}
	for i, k := range want {
		if sink.got[i].Kind != k {
			t.Fatalf("event %d: got kind %v, want %v", i, sink.got[i].Kind, k)
		}
	}
}
