package narrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lucylow/quaternion/internal/economy"
)

// Result is a finished enhancement ready to apply.
type Result struct {
	Kind     SubjectKind
	ID       string
	Key      string
	Override Override
}

type outcome struct {
	Result
	err error
}

// Dispatcher runs enhancements off the tick path. Submit never blocks;
// Drain hands back results whose inputs have not changed since they
// were requested. Late, failed, or superseded results are dropped.
//
// A nil *Dispatcher is valid and does nothing.
type Dispatcher struct {
	n       Narrator
	timeout time.Duration
	log     *slog.Logger

	done chan outcome

	mu       sync.Mutex
	pending  map[string]string // subject ID -> key awaited
	cache    map[string]Override
	maxCache int
}

// NewDispatcher wraps n. A nil n yields a nil dispatcher.
func NewDispatcher(n Narrator, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if n == nil {
		return nil
	}
	if c, ok := n.(*Client); ok && !c.Enabled() {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		n:        n,
		timeout:  timeout,
		log:      log,
		done:     make(chan outcome, 64),
		pending:  make(map[string]string),
		cache:    make(map[string]Override),
		maxCache: 256,
	}
}

// Submit requests an enhancement for s. A cached override for the same
// inputs is returned immediately instead.
func (d *Dispatcher) Submit(s Subject) (Override, bool) {
	if d == nil {
		return Override{}, false
	}
	key := s.Key()

	d.mu.Lock()
	if o, ok := d.cache[key]; ok {
		delete(d.pending, s.ID)
		d.mu.Unlock()
		return o, true
	}
	d.pending[s.ID] = key
	d.mu.Unlock()

	go d.run(s, key)
	return Override{}, false
}

func (d *Dispatcher) run(s Subject, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	o, err := d.n.Enhance(ctx, s)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	res := outcome{Result: Result{Kind: s.Kind, ID: s.ID, Key: key, Override: o}, err: err}
	select {
	case d.done <- res:
	default:
		d.log.Debug("narrator result dropped, queue full", "id", s.ID)
	}
}

// Forget abandons any outstanding request for id.
func (d *Dispatcher) Forget(id string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// Drain returns every finished result that is still wanted. It never
// blocks.
func (d *Dispatcher) Drain() []Result {
	if d == nil {
		return nil
	}
	var out []Result
	for {
		select {
		case res := <-d.done:
			if r, ok := d.accept(res); ok {
				out = append(out, r)
			}
		default:
			return out
		}
	}
}

func (d *Dispatcher) accept(res outcome) (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	want, ok := d.pending[res.ID]
	if !ok || want != res.Key {
		return Result{}, false
	}
	delete(d.pending, res.ID)

	if res.err != nil {
		err := economy.Wrap(economy.CodeNarratorUnavailable, "enhance "+string(res.Kind), res.err)
		d.log.Debug("narrator fallback", "id", res.ID, "error", err)
		return Result{}, false
	}
	if res.Override.Empty() {
		return Result{}, false
	}
	if len(d.cache) >= d.maxCache {
		clear(d.cache)
	}
	d.cache[res.Key] = res.Override
	return res.Result, true
}

// Pending returns the number of outstanding requests.
func (d *Dispatcher) Pending() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
