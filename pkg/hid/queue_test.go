package hid_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emubridge/hidhost/pkg/hid"
)

func TestGoroutineQueueRunsPostedFunctions(t *testing.T) {
	var q hid.GoroutineQueue
	done := make(chan struct{})
	q.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("posted function never ran")
	}
}

func TestEventLoopDeliversInOrder(t *testing.T) {
	loop := hid.NewEventLoop(0)
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 9 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop never delivered all callbacks")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)

	cancel()
	wg.Wait()
}

func TestEventLoopCloseDrainsPending(t *testing.T) {
	loop := hid.NewEventLoop(16)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 8; i++ {
		loop.Post(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	loop.Close()

	// Run returns once the closed channel is drained.
	loop.Run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 8, ran)
}

func TestEventLoopPostAfterCloseIsDropped(t *testing.T) {
	loop := hid.NewEventLoop(4)
	loop.Close()
	loop.Close() // idempotent

	require.NotPanics(t, func() {
		loop.Post(func() { t.Error("callback ran after close") })
	})
	loop.Run(context.Background())
}

func TestEventLoopRunStopsOnContextCancel(t *testing.T) {
	loop := hid.NewEventLoop(4)
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
