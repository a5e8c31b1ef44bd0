package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("boom", func(ctx context.Context) error { return errors.New("bad") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || err.Error() != "boom: bad" {
		t.Fatalf("err = %v", err)
	}
	if s.Context().Err() == nil {
		t.Fatal("context should be canceled on error")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go0("panicky", func(ctx context.Context) { panic("oops") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	snap := s.Snapshot()
	if len(snap.Tasks) != 1 || snap.Tasks[0].Panics != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Wait(ctx)
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	if s.Context().Err() != nil {
		t.Fatal("restart failures must not cancel the supervisor")
	}
}

func TestStopCancelsLoops(t *testing.T) {
	s := New(context.Background())
	s.Go0("loop", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.Snapshot().Active != 0 {
		t.Fatal("goroutine still active after stop")
	}
}
