package videosource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/videocore/pipeline/internal/frame"
)

type fakeSource struct {
	opens     int
	failReads int
	reads     int
	closed    bool
}

func (f *fakeSource) Open(ctx context.Context) error {
	f.opens++
	return nil
}

func (f *fakeSource) Read(ctx context.Context) (frame.Frame, error) {
	f.reads++
	if f.reads <= f.failReads {
		return frame.Frame{}, errors.New("transient read error")
	}
	return frame.Frame{Seq: uint64(f.reads)}, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSource) IsLive() bool { return true }

func TestReconnectingRetriesOnTransientFailure(t *testing.T) {
	src := &fakeSource{failReads: 2}
	r := NewReconnecting(func() (Source, error) { return src, nil }, ReconnectConfig{
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
		JitterFrac:    0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	f, err := r.Read(ctx)
	if err != nil {
		t.Fatalf("Read after retries: %v", err)
	}
	if f.Seq == 0 {
		t.Fatal("expected a valid frame after reconnect retries")
	}
	if src.opens < 2 {
		t.Fatalf("expected at least one reconnect-triggered Open, got %d opens", src.opens)
	}
}

func TestReconnectingPropagatesEndOfStream(t *testing.T) {
	src := &fakeSource{failReads: 0}
	r := NewReconnecting(func() (Source, error) { return src, nil }, DefaultReconnectConfig())

	ctx := context.Background()
	if err := r.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Force EOF by swapping in a source that always returns ErrEndOfStream.
	r.cur = eofSource{}
	_, err := r.Read(ctx)
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

type eofSource struct{}

func (eofSource) Open(ctx context.Context) error                  { return nil }
func (eofSource) Read(ctx context.Context) (frame.Frame, error)   { return frame.Frame{}, ErrEndOfStream }
func (eofSource) Close() error                                    { return nil }
func (eofSource) IsLive() bool                                    { return false }
