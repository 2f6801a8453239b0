package opctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCountersSnapshotConcurrentIncrements(t *testing.T) {
	c := &Counters{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncFilesListed()
			c.AddBytesCopied(10)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.FilesListed != 100 {
		t.Errorf("FilesListed = %d, want 100", snap.FilesListed)
	}
	if snap.TotalBytesCopied != 1000 {
		t.Errorf("TotalBytesCopied = %d, want 1000", snap.TotalBytesCopied)
	}
}

func TestContextCancel(t *testing.T) {
	octx := New(context.Background(), zerolog.Nop())
	if octx.Cancelled() {
		t.Fatal("expected not cancelled initially")
	}

	octx.Go(func() error { return nil })
	octx.Cancel(errors.New("boom"))

	if !octx.Cancelled() {
		t.Error("expected Cancelled() to report true after Cancel")
	}
	if octx.Err() == nil {
		t.Error("expected the embedded context to be done after Cancel")
	}
}

func TestContextGoWaitPropagatesError(t *testing.T) {
	octx := New(context.Background(), zerolog.Nop())
	want := errors.New("worker failed")
	octx.Go(func() error { return want })

	err := octx.Wait()
	if err != want {
		t.Errorf("Wait() = %v, want %v", err, want)
	}
}

func TestContextElapsed(t *testing.T) {
	orig := nowFunc
	defer func() { nowFunc = orig }()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return start }
	octx := New(context.Background(), zerolog.Nop())

	nowFunc = func() time.Time { return start.Add(5 * time.Second) }
	if got := octx.Elapsed(); got != 5*time.Second {
		t.Errorf("Elapsed() = %v, want 5s", got)
	}
}

func TestBackgroundNeverCancelledByParent(t *testing.T) {
	octx := Background(zerolog.Nop())
	if octx.Cancelled() {
		t.Fatal("expected a fresh Background context to not be cancelled")
	}
}
