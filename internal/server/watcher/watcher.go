// Package watcher follows the ledger event log from a persisted cursor and
// dispatches decoded events. Defaults are published on a channel for the
// reveal coordinator.
package watcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/ledger"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/cursors"
)

const CursorName = "ledger-watcher"

type EventSource interface {
	Head(ctx context.Context) (uint64, error)
	Events(ctx context.Context, from, to uint64) ([]*models.Event, error)
}

// DefaultEvent is published once per defaulted application the watcher
// reads. Delivery is at least once.
type DefaultEvent struct {
	Seq                uint64
	LoanID             uint64
	ActivityCommitment string
	Lender             string
	DefaultedAt        int64
}

type Handler func(ctx context.Context, ev ledger.TypedEvent) error

type Options struct {
	Interval  time.Duration
	BatchSize uint64
	Buffer    int
	// GapGrace is how long a missing seq holds the cursor back before it is
	// treated as a rolled-back append and skipped.
	GapGrace time.Duration
}

func DefaultOptions() Options {
	return Options{Interval: 15 * time.Second, BatchSize: 500, Buffer: 64, GapGrace: 30 * time.Second}
}

type Watcher struct {
	source   EventSource
	cursors  cursors.Repository
	opts     Options
	handlers map[models.EventType][]Handler
	defaults chan DefaultEvent
	running  atomic.Bool
	// gaps maps the first missing seq of a hole to when it was first seen.
	gaps   map[uint64]time.Time
	now    func() time.Time
	logger logging.Logger
}

func New(source EventSource, cur cursors.Repository, opts Options, logger logging.Logger) *Watcher {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.GapGrace == 0 {
		opts.GapGrace = DefaultOptions().GapGrace
	}
	w := &Watcher{
		source:   source,
		cursors:  cur,
		opts:     opts,
		handlers: make(map[models.EventType][]Handler),
		defaults: make(chan DefaultEvent, opts.Buffer),
		gaps:     make(map[uint64]time.Time),
		now:      time.Now,
		logger:   logger.With("module", "watcher"),
	}
	w.On(models.EventLoanDefaulted, w.publishDefault)
	return w
}

// On registers h for events of type typ. Must be called before Run.
func (w *Watcher) On(typ models.EventType, h Handler) {
	w.handlers[typ] = append(w.handlers[typ], h)
}

// Defaults is closed when Run returns.
func (w *Watcher) Defaults() <-chan DefaultEvent {
	return w.defaults
}

func (w *Watcher) publishDefault(ctx context.Context, ev ledger.TypedEvent) error {
	d, ok := ev.(*ledger.LoanDefaulted)
	if !ok {
		return nil
	}
	msg := DefaultEvent{
		Seq:                d.Seq,
		LoanID:             d.LoanID,
		ActivityCommitment: d.ActivityCommitment,
		Lender:             d.Lender,
		DefaultedAt:        int64(d.DefaultedAt),
	}
	select {
	case w.defaults <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) Run(ctx context.Context) {
	defer close(w.defaults)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.logger.Info(ctx, "Starting ledger watcher", "interval", w.opts.Interval.String())
	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error(ctx, "watcher round failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info(context.Background(), "Stopping ledger watcher...")
			return
		case <-ticker.C:
		}
	}
}

// Poll runs one round and reports how many events it dispatched. A round
// already in progress makes Poll return immediately.
//
// The cursor only advances over a contiguous run of seqs. A missing seq may
// belong to a transaction that has not committed yet, so the round stops in
// front of it until GapGrace has passed.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	if !w.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer w.running.Store(false)

	head, err := w.source.Head(ctx)
	if err != nil {
		return 0, err
	}
	from, err := w.cursors.Load(ctx, CursorName)
	if err != nil {
		return 0, err
	}
	if head <= from {
		return 0, nil
	}
	to := head
	if to-from > w.opts.BatchSize {
		to = from + w.opts.BatchSize
	}

	events, err := w.source.Events(ctx, from, to)
	if err != nil {
		return 0, err
	}

	n := 0
	done := from
	for _, raw := range events {
		if raw.Seq <= done {
			continue
		}
		if raw.Seq > done+1 && !w.gapExpired(ctx, done+1, raw.Seq-1) {
			return n, w.save(ctx, from, done)
		}
		ev, err := ledger.Decode(raw)
		if err != nil {
			w.logger.Error(ctx, "skipping undecodable event", "seq", raw.Seq, "error", err)
		} else {
			if err := w.dispatch(ctx, ev); err != nil {
				return n, err
			}
			n++
		}
		done = raw.Seq
	}

	if done < to && !w.gapExpired(ctx, done+1, to) {
		return n, w.save(ctx, from, done)
	}
	return n, w.save(ctx, from, to)
}

// save persists the cursor at seq when it moved past from.
func (w *Watcher) save(ctx context.Context, from, seq uint64) error {
	if seq <= from {
		return nil
	}
	if err := w.cursors.Save(ctx, CursorName, seq); err != nil {
		return err
	}
	for missing := range w.gaps {
		if missing <= seq {
			delete(w.gaps, missing)
		}
	}
	return nil
}

// gapExpired reports whether the hole [first, last] has been open for longer
// than GapGrace.
func (w *Watcher) gapExpired(ctx context.Context, first, last uint64) bool {
	seen, ok := w.gaps[first]
	if !ok {
		w.gaps[first] = w.now()
		w.logger.Info(ctx, "waiting for uncommitted events", "from_seq", first, "to_seq", last)
		return false
	}
	if w.now().Sub(seen) < w.opts.GapGrace {
		return false
	}
	delete(w.gaps, first)
	w.logger.Warn(ctx, "skipping missing events", "from_seq", first, "to_seq", last)
	return true
}

func (w *Watcher) dispatch(ctx context.Context, ev ledger.TypedEvent) error {
	h := ev.Header()
	w.logger.Info(ctx, "ledger event", "seq", h.Seq, "type", h.Type, "loan_id", h.LoanID, "activity", h.ActivityCommitment)

	for _, handler := range w.handlers[h.Type] {
		if err := handler(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
