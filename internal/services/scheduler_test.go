package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"conti/internal/log"
	"conti/internal/storage"
	"conti/internal/storage/memory"
)

func TestScheduler_Lifecycle(t *testing.T) {
	store := memory.New(nil)
	seedRecurring(t, store, rent())
	p := NewRecurringProcessor(store, nil, nil, fixedClock(2024, 2, 1), testProcessorConfig(), log.Discard())
	s := NewScheduler(p, nil, SchedulerConfig{Interval: time.Hour}, log.Discard())

	ctx := context.Background()
	if s.IsRunning() {
		t.Fatal("scheduler should not be running before Start")
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running after Start")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler should not be running after Stop")
	}

	// The first tick runs immediately and Stop waits for it.
	txs, _ := store.ListTransactions(ctx, "u1", storage.TransactionFilter{})
	if len(txs) != 2 {
		t.Errorf("got %d materialized transactions, want 2", len(txs))
	}
}

func TestScheduler_StopWhenNotRunning(t *testing.T) {
	s := NewScheduler(nil, nil, DefaultSchedulerConfig(), log.Discard())
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() on idle scheduler = %v", err)
	}
}

func TestScheduler_ConcurrentStop(t *testing.T) {
	s := NewScheduler(nil, nil, SchedulerConfig{Interval: time.Hour}, log.Discard())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Stop(ctx); err != nil {
				t.Errorf("Stop() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if s.IsRunning() {
		t.Error("scheduler should not be running after Stop")
	}
}

func TestScheduler_ContextCancelEndsLoop(t *testing.T) {
	s := NewScheduler(nil, nil, SchedulerConfig{Interval: time.Hour}, log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler still reports running after its context was cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
