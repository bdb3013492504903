package viewport

import "time"

const (
	DefaultPrefetchDelay  = 200 * time.Millisecond
	DefaultPrefetchBehind = 2
	DefaultPrefetchAhead  = 4
)

// Scheduler runs f on the engine's execution context after d. The returned
// stop function cancels a pending call; once it returns, f does not run.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// Prefetcher is a single-shot debounced timer. Arming cancels the pending
// arm. A stopped prefetcher never fires again.
type Prefetcher struct {
	sched   Scheduler
	delay   time.Duration
	cancel  func() bool
	stopped bool
}

func NewPrefetcher(sched Scheduler, delay time.Duration) *Prefetcher {
	if delay <= 0 {
		delay = DefaultPrefetchDelay
	}
	return &Prefetcher{sched: sched, delay: delay}
}

// Arm schedules fire after the debounce delay.
func (p *Prefetcher) Arm(fire func()) {
	if p.stopped || p.sched == nil {
		return
	}
	p.disarm()
	p.cancel = p.sched.AfterFunc(p.delay, func() {
		if p.stopped {
			return
		}
		p.cancel = nil
		fire()
	})
}

// Pending reports whether an arm is waiting to fire.
func (p *Prefetcher) Pending() bool { return p.cancel != nil }

func (p *Prefetcher) disarm() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Stop cancels any pending arm and disables the prefetcher. Safe to call
// repeatedly and with nothing pending.
func (p *Prefetcher) Stop() {
	p.disarm()
	p.stopped = true
}

// Window returns the pages in [page-behind, page+ahead) ∩ [0, count).
func Window(page, count, behind, ahead int) []int {
	lo := page - behind
	if lo < 0 {
		lo = 0
	}
	hi := page + ahead
	if hi > count {
		hi = count
	}
	if lo >= hi {
		return nil
	}
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}
