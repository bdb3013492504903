package eventloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoRunsInOrder(t *testing.T) {
	l := New(8)
	defer l.Close()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
}

func TestAfterFuncFires(t *testing.T) {
	l := New(8)
	defer l.Close()

	fired := make(chan struct{})
	l.AfterFunc(5*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestAfterFuncStopPreventsRun(t *testing.T) {
	l := New(8)
	defer l.Close()

	var ran atomic.Bool
	stop := l.AfterFunc(20*time.Millisecond, func() { ran.Store(true) })
	if !stop() {
		t.Fatal("first stop should report it prevented the call")
	}
	if stop() {
		t.Fatal("second stop should be a no-op")
	}
	time.Sleep(60 * time.Millisecond)
	_ = l.Do(context.Background(), func() {})
	if ran.Load() {
		t.Fatal("stopped timer ran")
	}
}

func TestStopAfterPostBeforeRun(t *testing.T) {
	l := New(8)
	defer l.Close()

	// Hold the loop so the timer callback queues behind this task.
	release := make(chan struct{})
	l.Post(func() { <-release })

	var ran atomic.Bool
	stop := l.AfterFunc(time.Millisecond, func() { ran.Store(true) })
	time.Sleep(20 * time.Millisecond)
	stop()
	close(release)
	_ = l.Do(context.Background(), func() {})
	if ran.Load() {
		t.Fatal("callback ran after stop")
	}
}

func TestClosedLoop(t *testing.T) {
	l := New(1)
	l.Close()
	l.Close()
	if l.Post(func() {}) {
		t.Fatal("Post on closed loop should fail")
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Do err = %v, want ErrClosed", err)
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := New(4)
	defer l.Close()
	l.Post(func() { panic("boom") })
	ok := false
	if err := l.Do(context.Background(), func() { ok = true }); err != nil || !ok {
		t.Fatalf("loop did not survive panic: err=%v ok=%v", err, ok)
	}
}
