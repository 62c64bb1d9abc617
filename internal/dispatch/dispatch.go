package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"eamscan/internal/store"
)

// Evaluator is the detection entry point the dispatcher drives. One call per
// arriving fragment.
type Evaluator interface {
	Evaluate(ctx context.Context, frag store.Fragment) error
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, frag store.Fragment) error

func (f EvaluatorFunc) Evaluate(ctx context.Context, frag store.Fragment) error {
	return f(ctx, frag)
}

// Stats exposes current dispatcher metrics.
type Stats struct {
	Channels  int    `json:"channels"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// lane is the serialized mailbox for a single channel.
type lane struct {
	mailbox chan store.Fragment
}

// Dispatcher routes fragments to one worker goroutine per channel, created
// lazily on first use. Fragments for the same channel are evaluated strictly
// in arrival order; distinct channels run concurrently.
type Dispatcher struct {
	eval     Evaluator
	capacity int
	timeout  time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	lanes   map[string]*lane
	started bool
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	processed uint64
	failed    uint64
	dropped   uint64
}

// New creates a Dispatcher with the given per-channel mailbox capacity and
// per-evaluation timeout.
func New(eval Evaluator, capacity int, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		eval:     eval,
		capacity: capacity,
		timeout:  timeout,
		log:      log,
		lanes:    make(map[string]*lane),
	}
}

// Start makes the dispatcher accept fragments. Worker goroutines are spawned
// on demand as channels first appear.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.ctx, d.cancel = context.WithCancel(ctx)
}

// Submit queues a fragment on its channel lane without blocking. Returns false
// when the dispatcher is not running or the lane mailbox is full.
func (d *Dispatcher) Submit(frag store.Fragment) bool {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		d.log.Warn().Str("fragment", frag.ID).Msg("dispatcher not running, dropping")
		return false
	}
	ln, ok := d.lanes[frag.ChannelID]
	if !ok {
		ln = &lane{mailbox: make(chan store.Fragment, d.capacity)}
		d.lanes[frag.ChannelID] = ln
		d.wg.Add(1)
		go d.worker(frag.ChannelID, ln)
	}
	// Send while still holding the lock: the send cannot block (default arm)
	// and Stop closes mailboxes under the same lock, so a send can never race
	// a close.
	defer d.mu.Unlock()
	select {
	case ln.mailbox <- frag:
		return true
	default:
		atomic.AddUint64(&d.dropped, 1)
		d.log.Warn().Str("channel", frag.ChannelID).Str("fragment", frag.ID).Msg("channel mailbox full, dropping fragment")
		return false
	}
}

// Stop closes all lanes and waits for in-flight evaluations to drain until
// the context is done.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, ln := range d.lanes {
		close(ln.mailbox)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	if d.cancel != nil {
		d.cancel()
	}
}

// Stats returns current dispatcher metrics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	queued := 0
	for _, ln := range d.lanes {
		queued += len(ln.mailbox)
	}
	return Stats{
		Channels:  len(d.lanes),
		Queued:    queued,
		Capacity:  d.capacity,
		Processed: atomic.LoadUint64(&d.processed),
		Failed:    atomic.LoadUint64(&d.failed),
		Dropped:   atomic.LoadUint64(&d.dropped),
	}
}

// Healthy reports whether the dispatcher is accepting fragments.
func (d *Dispatcher) Healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started && !d.stopped
}

func (d *Dispatcher) worker(channelID string, ln *lane) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case frag, ok := <-ln.mailbox:
			if !ok {
				return
			}
			d.handle(channelID, frag)
		}
	}
}

func (d *Dispatcher) handle(channelID string, frag store.Fragment) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&d.failed, 1)
			d.log.Error().Str("channel", channelID).Str("fragment", frag.ID).Interface("panic", r).Msg("evaluation panic recovered")
		}
	}()

	evalCtx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	err := d.eval.Evaluate(evalCtx, frag)

	atomic.AddUint64(&d.processed, 1)
	if err != nil {
		atomic.AddUint64(&d.failed, 1)
		d.log.Warn().Err(err).Str("channel", channelID).Str("fragment", frag.ID).Int64("duration_ms", time.Since(start).Milliseconds()).Msg("evaluation failed")
		return
	}
	d.log.Debug().Str("channel", channelID).Str("fragment", frag.ID).Int64("duration_ms", time.Since(start).Milliseconds()).Msg("evaluation complete")
}
