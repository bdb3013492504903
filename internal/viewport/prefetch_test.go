package viewport

import (
	"reflect"
	"testing"
)

func TestWindow(t *testing.T) {
	tests := []struct {
		page, count int
		want        []int
	}{
		{0, 10, []int{0, 1, 2, 3}},
		{5, 10, []int{3, 4, 5, 6, 7, 8}},
		{9, 10, []int{7, 8, 9}},
		{1, 2, []int{0, 1}},
		{0, 0, nil},
	}
	for _, tt := range tests {
		got := Window(tt.page, tt.count, DefaultPrefetchBehind, DefaultPrefetchAhead)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Window(%d,%d) = %v, want %v", tt.page, tt.count, got, tt.want)
		}
	}
}

func TestPrefetcherDebounces(t *testing.T) {
	s := &manualSched{}
	p := NewPrefetcher(s, 0)
	runs := 0
	for i := 0; i < 5; i++ {
		p.Arm(func() { runs++ })
	}
	if s.pending() != 1 {
		t.Fatalf("pending = %d, want 1", s.pending())
	}
	if s.timers[0].d != DefaultPrefetchDelay {
		t.Fatalf("delay = %v", s.timers[0].d)
	}
	s.fire()
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if p.Pending() {
		t.Fatal("fired prefetcher still pending")
	}
}

func TestPrefetcherStop(t *testing.T) {
	s := &manualSched{}
	p := NewPrefetcher(s, 0)

	p.Stop() // nothing pending
	p.Stop()

	runs := 0
	p.Arm(func() { runs++ })
	if s.pending() != 0 {
		t.Fatal("stopped prefetcher armed a timer")
	}

	q := NewPrefetcher(s, 0)
	q.Arm(func() { runs++ })
	q.Stop()
	q.Stop()
	s.fire()
	if runs != 0 {
		t.Fatalf("stopped prefetcher fired %d times", runs)
	}
}

func TestPrefetcherNilScheduler(t *testing.T) {
	p := NewPrefetcher(nil, 0)
	p.Arm(func() { t.Fatal("should not run") })
	p.Stop()
}
