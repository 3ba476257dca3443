// Package eventloop drives a tcpengine.Connection cooperatively, the way
// §5 of the design this engine follows requires: a single-threaded,
// non-blocking dispatcher multiplexing adapter-readable, adapter-writable,
// app-readable and app-writable conditions, calling Tick with monotonic
// deltas between passes.
package eventloop

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// Rule is one fd this loop polls: Interest decides whether it is
// currently worth watching, and Callback runs when it becomes ready.
// Modeled on the source event loop's registration-with-interest-predicate
// design, translated from a selectors.DefaultSelector to unix.Poll.
type Rule struct {
	FD        int
	Events    int16 // unix.POLLIN and/or unix.POLLOUT
	Interest  func() bool
	Callback  func() error
	Cancel    func()
	cancelled bool
}

// Loop is a cooperative, single-threaded poll loop over a small, static
// set of rules plus a per-pass tick callback.
type Loop struct {
	rules []*Rule
	tick  func(time.Duration)
	log   *slog.Logger
	last  time.Time
}

// New creates an empty Loop. tick is invoked once per RunOnce pass with
// the wall-clock delta since the previous pass (zero on the first call).
func New(tick func(time.Duration), logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{tick: tick, log: logger}
}

// AddRule registers a new rule. Rules are never removed individually;
// Cancel is invoked and the rule dropped once its fd reports POLLHUP.
func (l *Loop) AddRule(r *Rule) {
	l.rules = append(l.rules, r)
}

// RunOnce waits up to timeout for any interested rule's fd to become
// ready, dispatches the matching callbacks, and runs the tick callback.
// It returns false if nothing was interested (callers should typically
// stop looping at that point) or true otherwise.
func (l *Loop) RunOnce(timeout time.Duration) (bool, error) {
	now := time.Now()
	var elapsed time.Duration
	if !l.last.IsZero() {
		elapsed = now.Sub(l.last)
	}
	l.last = now

	active := l.rules[:0]
	for _, r := range l.rules {
		if r.cancelled {
			continue
		}
		active = append(active, r)
	}
	l.rules = active

	var pending []*Rule
	fds := make([]unix.PollFd, 0, len(l.rules))
	for _, r := range l.rules {
		if r.Interest != nil && !r.Interest() {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(r.FD), Events: r.Events})
		pending = append(pending, r)
	}

	if l.tick != nil {
		l.tick(elapsed)
	}

	if len(pending) == 0 {
		return false, nil
	}

	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return true, nil
		}
		return true, fmt.Errorf("eventloop: poll: %w", err)
	}
	if n == 0 {
		return true, nil
	}

	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		r := pending[i]
		if pfd.Revents&unix.POLLHUP != 0 || pfd.Revents&unix.POLLERR != 0 {
			if r.Cancel != nil {
				r.Cancel()
			}
			r.cancelled = true
			continue
		}
		if pfd.Revents&(unix.POLLIN|unix.POLLOUT) == 0 {
			continue
		}
		if err := r.Callback(); err != nil {
			l.log.Warn("eventloop: rule callback failed", "fd", r.FD, "error", err)
		}
	}
	return true, nil
}

// Run calls RunOnce until it returns false (no rule interested) or an
// error occurs.
func (l *Loop) Run(pollTimeout time.Duration) error {
	for {
		active, err := l.RunOnce(pollTimeout)
		if err != nil {
			return err
		}
		if !active {
			return nil
		}
	}
}
