package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdd_InvalidSpec(t *testing.T) {
	s := New(nil)
	if err := s.Add("bad", "not a cron", func(context.Context) error { return nil }); err == nil {
		t.Error("Add() with invalid spec should fail")
	}
}

func TestEntries(t *testing.T) {
	s := New(nil)
	if err := s.Add("evaluate", "@daily", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop(context.Background())

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("len(Entries()) = %d, want 1", len(entries))
	}
	if entries[0].Name != "evaluate" || entries[0].Spec != "@daily" {
		t.Errorf("entry = %+v", entries[0])
	}
	if entries[0].Next.IsZero() {
		t.Error("Next should be set once started")
	}
}

func TestRunsJobs(t *testing.T) {
	s := New(nil)
	var runs int32
	s.Add("tick", "@every 1s", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("logged, not fatal")
	})
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&runs) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if atomic.LoadInt32(&runs) == 0 {
		t.Error("job never ran")
	}
}

func TestStop_CancelsJobContext(t *testing.T) {
	s := New(nil)
	started := make(chan struct{}, 1)
	var cancelled int32
	s.Add("long", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
		return ctx.Err()
	})
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if atomic.LoadInt32(&cancelled) != 1 {
		t.Error("running job did not observe cancellation")
	}
}
