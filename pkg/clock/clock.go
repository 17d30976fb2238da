// Package clock is the port every higher layer depends on instead of the
// host OS directly: a monotonic millisecond clock, a cooperative sleep,
// and a bounded frame queue. Swapping SystemClock for a fake lets the
// ISO-TP and UDS state machines be tested without real time passing.
package clock

import "time"

// Clock exposes the monotonic time source the protocol timers are built
// on. now_ms() is required to be strictly non-decreasing; deltas must be
// computed with modular (wraparound-tolerant) subtraction, which is why
// every timer in this stack stores uint32 deadlines rather than signed
// durations.
type Clock interface {
	NowMs() uint32
	SleepMs(ms uint32)
}

// SystemClock is the real clock, backed by the Go runtime's monotonic
// timer. The epoch is the clock's own construction time so NowMs stays
// well clear of uint32 wraparound for any realistic process lifetime.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) NowMs() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

func (c *SystemClock) SleepMs(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Elapsed returns now-then using modular arithmetic, tolerating the
// uint32 wraparound spec.md requires every deadline comparison to honor.
func Elapsed(then, now uint32) uint32 {
	return now - then
}

// Before reports whether deadline has not yet been reached at now,
// wraparound-safe the same way Elapsed is.
func Before(now, deadline uint32) bool {
	return int32(deadline-now) > 0
}
