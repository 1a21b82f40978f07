package utils

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoffWith(100*time.Millisecond, time.Second)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.NextDelay(); got != w {
			t.Fatalf("delay %d = %v, want %v", i, got, w)
		}
	}

	b.Reset()
	if got := b.NextDelay(); got != 100*time.Millisecond {
		t.Fatalf("delay after Reset = %v, want 100ms", got)
	}
}

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(2, 10, testLogger())

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		if !p.Submit(func() { n.Add(1) }) {
			t.Fatalf("task %d rejected", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := n.Load(); got != 10 {
		t.Fatalf("ran %d tasks, want 10", got)
	}
	if p.Submit(func() {}) {
		t.Fatal("Submit accepted a task after Shutdown")
	}
}

func TestPoolRejectsWhenFull(t *testing.T) {
	p := NewPool(1, 1, testLogger())
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	block := func() {
		once.Do(func() { close(started) })
		<-release
	}

	if !p.Submit(block) {
		t.Fatal("first task rejected")
	}
	<-started
	// worker 被占用，队列还能放一个
	if !p.Submit(func() {}) {
		t.Fatal("queued task rejected")
	}
	if p.Submit(func() {}) {
		t.Fatal("Submit accepted a task with a full queue")
	}
	close(release)
}

func TestPoolSurvivesPanic(t *testing.T) {
	p := NewPool(1, 4, testLogger())

	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not recover from panic")
	}
	p.Shutdown(context.Background())
}

func TestShutdownWaitsForWorkers(t *testing.T) {
	p := NewPool(3, 4, testLogger())
	p.Submit(func() { time.Sleep(5 * time.Millisecond) })
	p.Shutdown(context.Background())

	if got := p.running.Load(); got != 0 {
		t.Fatalf("running workers after Shutdown = %d, want 0", got)
	}
	// 重复 Shutdown 不会 panic
	p.Shutdown(context.Background())
}
