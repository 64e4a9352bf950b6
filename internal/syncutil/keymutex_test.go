package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyMutex()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "order-1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected at most 1 holder of the same key, saw %d", maxActive)
	}
}

func TestKeyMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewKeyMutex()

	unlock1, err := m.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := m.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock b blocked by a: %v", err)
	}
	unlock2()
}

func TestKeyMutex_CancelWhileWaiting(t *testing.T) {
	m := NewKeyMutex()

	unlock, err := m.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := m.Lock(ctx, "k"); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestKeyMutex_Reusable(t *testing.T) {
	m := NewKeyMutex()
	for i := 0; i < 100; i++ {
		unlock, err := m.Lock(context.Background(), "k")
		if err != nil {
			t.Fatalf("Lock iteration %d: %v", i, err)
		}
		unlock()
	}
}
