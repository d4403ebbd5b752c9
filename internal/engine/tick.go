// Package engine drives the economy: Economy coordinates the ledger and
// the event, conversion, puzzle and market engines each tick, and Engine
// is the fixed-timestep loop that calls it.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Default cadence: one tick per second, a round every five minutes, and
// an auto-save every minute.
const (
	DefaultTicksPerRound = 300
	DefaultTicksPerSave  = 60
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("engine stopped")

// Engine drives a session forward on a fixed timestep.
type Engine struct {
	Tick     uint64        // Current tick counter (monotonic, never resets)
	Speed    float64       // Multiplier: 1.0 = real-time, 0 = paused
	Interval time.Duration // Base tick interval (default 1 second)

	TicksPerRound uint64
	TicksPerSave  uint64

	// Callbacks for each tick layer, populated during setup.
	OnTick  func(tick uint64, now time.Time) // Every tick
	OnRound func(tick uint64)                // Every TicksPerRound ticks
	OnSave  func(tick uint64)                // Every TicksPerSave ticks

	// Clock returns the logical time of a tick. Defaults to time.Now.
	Clock func() time.Time

	// mu orders inline actions against the loop starting and stopping.
	mu      sync.Mutex
	running atomic.Bool
	stopped bool
	actions chan func()
	started chan struct{}
	done    chan struct{}
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Speed:         1.0,
		Interval:      time.Second,
		TicksPerRound: DefaultTicksPerRound,
		TicksPerSave:  DefaultTicksPerSave,
		Clock:         time.Now,
		actions:       make(chan func(), 64),
		started:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Started is closed once Run owns the economy.
func (e *Engine) Started() <-chan struct{} {
	return e.started
}

// Run drives the loop until ctx is cancelled. Queued actions run
// between ticks on the same goroutine as the tick callbacks. An action
// already running inline holds Run back until it returns.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running.Store(true)
	close(e.started)
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.stopped = true
		close(e.done)
		e.running.Store(false)
		e.mu.Unlock()
	}()
	slog.Info("economy engine started", "tick", e.Tick, "speed", e.Speed, "interval", e.Interval)

	next := time.Now()
	for {
		if e.Speed <= 0 {
			// Paused: keep serving actions.
			if !e.wait(ctx, 100*time.Millisecond) {
				break
			}
			next = time.Now()
			continue
		}

		e.Step()

		next = next.Add(time.Duration(float64(e.Interval) / e.Speed))
		if d := time.Until(next); d > 0 {
			if !e.wait(ctx, d) {
				break
			}
		} else {
			// Fell behind; don't try to catch up with a burst.
			next = time.Now()
			if ctx.Err() != nil {
				break
			}
		}
	}

	slog.Info("economy engine stopped", "tick", e.Tick)
}

// wait serves queued actions for up to d. It returns false once ctx is
// done.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case fn := <-e.actions:
			fn()
		case <-timer.C:
			return true
		}
	}
}

// Do runs fn on the loop goroutine and waits for it. Before the loop
// starts fn runs on the caller's goroutine, one action at a time.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	e.mu.Lock()
	switch {
	case e.stopped:
		e.mu.Unlock()
		return ErrStopped
	case !e.running.Load():
		defer e.mu.Unlock()
		fn()
		return nil
	}
	e.mu.Unlock()

	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.actions <- wrapped:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step advances the session by one tick.
func (e *Engine) Step() {
	e.Tick++

	now := time.Now()
	if e.Clock != nil {
		now = e.Clock()
	}

	// Every tick: events, generation, decay, timers.
	if e.OnTick != nil {
		e.OnTick(e.Tick, now)
	}

	// Every round: route recovery.
	if e.TicksPerRound > 0 && e.Tick%e.TicksPerRound == 0 && e.OnRound != nil {
		e.OnRound(e.Tick)
	}

	// Periodic persistence.
	if e.TicksPerSave > 0 && e.Tick%e.TicksPerSave == 0 && e.OnSave != nil {
		e.OnSave(e.Tick)
	}
}
