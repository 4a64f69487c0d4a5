package snapshot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trade-core/src/engine"
	"trade-core/src/pnl"
	"trade-core/src/position"
)

type Reason string

const (
	ReasonOrder Reason = "ORDER"
	ReasonMark  Reason = "MARK"
)

// Batch is the state touched by one processed order or price update.
type Batch struct {
	Symbol    string
	Reason    Reason
	Fills     []engine.Fill
	Positions []position.Position
	PnL       []pnl.Record
	CreatedAt time.Time
}

func (b Batch) Empty() bool {
	return len(b.Fills) == 0 && len(b.Positions) == 0 && len(b.PnL) == 0
}

type Sink interface {
	Name() string
	Persist(ctx context.Context, batch Batch) error
}

// Dispatcher hands batches to sinks on a background goroutine. Offer never
// blocks the caller; a full queue drops the batch.
type Dispatcher struct {
	queue   chan Batch
	sinks   []Sink
	log     zerolog.Logger
	timeout time.Duration

	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

func NewDispatcher(queueSize int, log zerolog.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{
		queue:   make(chan Batch, queueSize),
		sinks:   sinks,
		log:     log,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Offer(batch Batch) bool {
	if batch.Empty() {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.queue <- batch:
		return true
	default:
		n := d.dropped.Add(1)
		d.log.Warn().
			Str("symbol", batch.Symbol).
			Str("reason", string(batch.Reason)).
			Int("fills", len(batch.Fills)).
			Int64("dropped_total", n).
			Msg("Snapshot queue full, batch dropped")
		return false
	}
}

// Start runs the delivery loop until Close is called. Batches still queued
// at that point are delivered before the loop exits.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go func() {
		defer close(d.done)
		for batch := range d.queue {
			d.deliver(ctx, batch)
		}
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, batch Batch) {
	for _, sink := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		err := sink.Persist(sinkCtx, batch)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.log.Error().
				Err(err).
				Str("sink", sink.Name()).
				Str("symbol", batch.Symbol).
				Int("fills", len(batch.Fills)).
				Msg("Snapshot sink failed")
			continue
		}
		d.delivered.Add(1)
	}
}

// Close stops accepting batches and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		<-d.done
	}
}

type Stats struct {
	Queued    int   `json:"queued"`
	Dropped   int64 `json:"dropped"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    len(d.queue),
		Dropped:   d.dropped.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
	}
}
