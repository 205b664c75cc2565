package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdd_ValidatesSpec(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }
	if err := s.Add(Job{Name: "bad", Spec: "not a cron", Run: noop}); err == nil {
		t.Fatalf("bad spec accepted")
	}
	if err := s.Add(Job{Name: "off", Spec: "", Run: noop}); err != nil {
		t.Fatalf("disabled job: %v", err)
	}
	if err := s.Add(Job{Name: "train", Spec: "0 3 * * *", Run: noop}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(s.Jobs()) != 1 {
		t.Fatalf("jobs: %v", s.Jobs())
	}
	s.Start()
	if !s.IsRunning() {
		t.Fatalf("scheduler should be running")
	}
	s.Stop()
	if s.IsRunning() {
		t.Fatalf("scheduler should be stopped")
	}
}

func TestRunNow_SerializesJobs(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var active, peak int32
	job := Job{Name: "slow", Run: func(context.Context) error {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunNow(job)
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("jobs overlapped: peak=%d", peak)
	}
}

func TestRunNow_AfterStop(t *testing.T) {
	s := New(nil)
	s.Stop()
	err := s.RunNow(Job{Name: "late", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
