package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docfill/internal/logger"
)

func TestRunSerializesPerDocument(t *testing.T) {
	m := NewManager(Config{QueueSize: 64}, logger.Nop())
	defer m.Stop()

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Run(context.Background(), "doc", func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxInFlight)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			if err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxInFlight != 1 {
		t.Fatalf("expected serialized execution, saw %d concurrent tasks", maxInFlight)
	}
}

func TestRunKeepsOrder(t *testing.T) {
	m := NewManager(Config{}, logger.Nop())
	defer m.Stop()

	var order []string
	for _, label := range []string{"first", "second", "third"} {
		label := label
		if err := m.Run(context.Background(), "doc", func() error {
			order = append(order, label)
			return nil
		}); err != nil {
			t.Fatalf("run %s: %v", label, err)
		}
	}
	if len(order) != 3 || order[0] != "first" || order[2] != "third" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestRunDocumentsInParallel(t *testing.T) {
	m := NewManager(Config{}, logger.Nop())
	defer m.Stop()

	release := make(chan struct{})
	blocked := make(chan error, 1)
	go func() {
		blocked <- m.Run(context.Background(), "slow", func() error {
			<-release
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Run(ctx, "fast", func() error { return nil }); err != nil {
		t.Fatalf("independent document blocked: %v", err)
	}
	close(release)
	if err := <-blocked; err != nil {
		t.Fatalf("slow run: %v", err)
	}
}

func TestRunPropagatesErrorsAndPanics(t *testing.T) {
	m := NewManager(Config{}, logger.Nop())
	defer m.Stop()

	want := errors.New("boom")
	if err := m.Run(context.Background(), "doc", func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected task error, got %v", err)
	}
	if err := m.Run(context.Background(), "doc", func() error { panic("bad") }); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	if err := m.Run(context.Background(), "doc", func() error { return nil }); err != nil {
		t.Fatalf("worker should survive a panic: %v", err)
	}
}

func TestRunQueueFull(t *testing.T) {
	m := NewManager(Config{QueueSize: 1}, logger.Nop())
	defer m.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	go m.Run(context.Background(), "doc", func() error {
		close(started)
		<-release
		return nil
	})
	<-started
	go m.Run(context.Background(), "doc", func() error { return nil })

	deadline := time.Now().Add(time.Second)
	for {
		m.mu.Lock()
		queued := len(m.workers["doc"].tasks)
		m.mu.Unlock()
		if queued == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("filler task never queued")
		}
		time.Sleep(time.Millisecond)
	}
	err := m.Run(context.Background(), "doc", func() error { return nil })
	close(release)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
}

func TestRunSkipsCancelledTask(t *testing.T) {
	m := NewManager(Config{}, logger.Nop())
	defer m.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := m.Run(ctx, "doc", func() error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if err := m.Run(context.Background(), "doc", func() error { return nil }); err != nil {
		t.Fatalf("follow-up run: %v", err)
	}
	if ran {
		t.Fatalf("cancelled task must not run")
	}
}

func TestIdleWorkerRetires(t *testing.T) {
	m := NewManager(Config{IdleTimeout: 20 * time.Millisecond}, logger.Nop())
	defer m.Stop()

	if err := m.Run(context.Background(), "doc", func() error { return nil }); err != nil {
		t.Fatalf("run: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for m.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle worker not retired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := m.Run(context.Background(), "doc", func() error { return nil }); err != nil {
		t.Fatalf("run after retire: %v", err)
	}
}

func TestRetireNotifiesHook(t *testing.T) {
	m := NewManager(Config{IdleTimeout: 20 * time.Millisecond}, logger.Nop())
	defer m.Stop()
	retired := make(chan string, 1)
	m.OnRetire(func(documentID string) { retired <- documentID })

	if err := m.Run(context.Background(), "doc", func() error { return nil }); err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case id := <-retired:
		if id != "doc" {
			t.Fatalf("retire hook got %q", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("retire hook not called")
	}
}

func TestStopRejectsNewWork(t *testing.T) {
	m := NewManager(Config{}, logger.Nop())
	if err := m.Run(context.Background(), "doc", func() error { return nil }); err != nil {
		t.Fatalf("run: %v", err)
	}
	m.Stop()
	if err := m.Run(context.Background(), "doc", func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected stopped, got %v", err)
	}
	m.Stop()
}
