// Package engine is the decision core of the copier: it orders and
// deduplicates master execution events, classifies them against the
// position ledger, sizes the slave volume, and hands the resulting
// decisions to the dispatcher.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trade_copier/internal/domain"
	"trade_copier/internal/sizing"
)

const (
	defaultWorkers = 4
	inboxSize      = 1024
	workerQueue    = 256

	// dispatchGrace bounds how long a dispatch that already started may
	// keep running after shutdown begins. Long enough for a full retry
	// cycle (backoffs 1s+2s+4s plus the venue calls), short enough that
	// a stop never hangs on a dead gateway.
	dispatchGrace = 30 * time.Second
)

// unpairedSeqBit marks synthetic fills generated for master positions
// the reconnect rebuild could not pair, keeping their sequence numbers
// clear of the venue's dealId space.
const unpairedSeqBit = uint64(1) << 62

// Dispatcher executes a copy decision against the slave account.
type Dispatcher interface {
	Dispatch(ctx context.Context, d domain.CopyDecision) error
}

// SymbolResolver maps master symbol ids to the slave catalog and to
// display names.
type SymbolResolver interface {
	ToSlave(masterSymbolID int64) (int64, error)
	Name(masterSymbolID int64) string
}

// SpecSource supplies instrument specs for sizing. Implementations may
// return nil when a spec has not loaded yet; sizing degrades to its
// fallback path.
type SpecSource interface {
	MasterSpec(symbolID int64) *domain.SymbolSpec
	SlaveSpec(symbolID int64) *domain.SymbolSpec
}

// AccountSource supplies the latest slave account snapshot, or nil
// when none has been received.
type AccountSource interface {
	Snapshot() *domain.AccountSnapshot
}

// Copier fans master execution events out to a fixed pool of workers.
// Events for one symbol always land on the same worker, so per-symbol
// ordering holds without any cross-worker coordination.
type Copier struct {
	log        *slog.Logger
	resolver   SymbolResolver
	specs      SpecSource
	account    AccountSource
	calc       *sizing.Calculator
	ledger     LedgerView
	dispatcher Dispatcher

	workers int
	inbox   chan domain.ExecutionEvent
	queues  []chan domain.ExecutionEvent
	wg      sync.WaitGroup
}

// NewCopier wires the decision pipeline. workers <= 0 selects the
// default pool size.
func NewCopier(log *slog.Logger, resolver SymbolResolver, specs SpecSource, account AccountSource, calc *sizing.Calculator, ledger LedgerView, dispatcher Dispatcher, workers int) *Copier {
	if workers <= 0 {
		workers = defaultWorkers
	}
	c := &Copier{
		log:        log,
		resolver:   resolver,
		specs:      specs,
		account:    account,
		calc:       calc,
		ledger:     ledger,
		dispatcher: dispatcher,
		workers:    workers,
		inbox:      make(chan domain.ExecutionEvent, inboxSize),
		queues:     make([]chan domain.ExecutionEvent, workers),
	}
	for i := range c.queues {
		c.queues[i] = make(chan domain.ExecutionEvent, workerQueue)
	}
	return c
}

// Submit enqueues a master execution event. Blocks when the inbox is
// full so transport backpressure propagates instead of dropping fills.
func (c *Copier) Submit(ctx context.Context, ev domain.ExecutionEvent) error {
	select {
	case c.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitUnpaired enqueues a synthetic fill for each master position
// the reconnect rebuild could not pair with a slave order, so each is
// mirrored as a fresh open through the normal decision path. epoch is
// the session epoch the fills belong to.
func (c *Copier) SubmitUnpaired(ctx context.Context, masters []domain.LivePosition, epoch uint64) {
	for _, m := range masters {
		ev := domain.ExecutionEvent{
			MasterPositionID: m.PositionID,
			SymbolID:         m.SymbolID,
			Kind:             domain.EventOrderFilled,
			Side:             m.Side,
			VolumeDelta:      m.Volume,
			ResultingVolume:  m.Volume,
			Timestamp:        m.OpenedAt,
			SeqNo:            unpairedSeqBit | uint64(m.PositionID),
			Epoch:            epoch,
		}
		if err := c.Submit(ctx, ev); err != nil {
			c.log.Warn("[ERROR] unpaired master position not enqueued",
				slog.Int64("position_id", m.PositionID),
				slog.Int64("symbol_id", m.SymbolID),
				slog.String("error", err.Error()))
			return
		}
		c.log.Info("[OPEN] unpaired master position queued for mirroring",
			slog.Int64("position_id", m.PositionID),
			slog.Int64("symbol_id", m.SymbolID),
			slog.String("volume", m.Volume.String()))
	}
}

// Run starts the router and workers and blocks until ctx is cancelled
// and all queued events are accounted for.
func (c *Copier) Run(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	c.route(ctx)
	for _, q := range c.queues {
		close(q)
	}
	c.wg.Wait()
}

// route moves events from the inbox to the worker owning their symbol.
func (c *Copier) route(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.drainInbox()
			return
		case ev := <-c.inbox:
			q := c.queues[uint64(ev.SymbolID)%uint64(c.workers)]
			select {
			case q <- ev:
			case <-ctx.Done():
				c.logDropped(ev)
				c.drainInbox()
				return
			}
		}
	}
}

func (c *Copier) drainInbox() {
	for {
		select {
		case ev := <-c.inbox:
			c.logDropped(ev)
		default:
			return
		}
	}
}

func (c *Copier) logDropped(ev domain.ExecutionEvent) {
	c.log.Warn("[ERROR] copier shutting down, event dropped",
		slog.Int64("position_id", ev.MasterPositionID),
		slog.Int64("symbol_id", ev.SymbolID),
		slog.Uint64("seq_no", ev.SeqNo))
}

// worker is the single-threaded decision loop for one symbol shard.
// It owns the dedupe windows for its symbols, so no locking is needed.
func (c *Copier) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	windows := make(map[int64]*seqWindow)

	for ev := range c.queues[id] {
		w, ok := windows[ev.SymbolID]
		if !ok {
			w = newSeqWindow()
			windows[ev.SymbolID] = w
		}
		if w.Observe(ev.Epoch, ev.SeqNo) {
			c.log.Debug("[SKIPPED] duplicate execution event",
				slog.Int64("position_id", ev.MasterPositionID),
				slog.Uint64("seq_no", ev.SeqNo),
				slog.String("reason", domain.ReasonDuplicate))
			continue
		}

		c.process(ctx, ev)
	}
}

func (c *Copier) process(ctx context.Context, ev domain.ExecutionEvent) {
	d := Classify(ev, c.ledger)
	name := c.resolver.Name(ev.SymbolID)

	if d.Action == domain.ActionSkip {
		c.log.Debug("[SKIPPED] execution event",
			slog.Int64("position_id", ev.MasterPositionID),
			slog.String("symbol", name),
			slog.String("reason", d.Reason))
		return
	}

	slaveSymbol, err := c.resolver.ToSlave(ev.SymbolID)
	if err != nil {
		c.log.Warn("[SKIPPED] no slave mapping for symbol",
			slog.Int64("position_id", ev.MasterPositionID),
			slog.String("symbol", name),
			slog.String("error", err.Error()))
		return
	}
	d.SlaveSymbolID = slaveSymbol

	if d.Action == domain.ActionOpen {
		vol, res := c.calc.Compute(name, ev.ResultingVolume, sizing.Inputs{
			MasterSpec: c.specs.MasterSpec(ev.SymbolID),
			SlaveSpec:  c.specs.SlaveSpec(slaveSymbol),
			Snapshot:   c.account.Snapshot(),
		})
		d.RequestedSlaveVolume = vol
		c.log.Info("[VOLUME] slave volume computed",
			slog.String("symbol", name),
			slog.String("master_volume", ev.ResultingVolume.String()),
			slog.String("slave_volume", vol.String()),
			slog.String("policy", string(res.Policy)),
			slog.Bool("fallback", res.Fallback),
			slog.Bool("raised_to_min", res.RaisedToMin),
			slog.Bool("capped_at_max", res.CappedAtMax))
	}

	// A dispatch that has begun runs on its own bounded budget: shutdown
	// closes the queues, it must never abort an order already in flight
	// and leave the slave account out of step with the ledger.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchGrace)
	defer cancel()

	if err := c.dispatcher.Dispatch(dctx, d); err != nil {
		c.log.Error("[ERROR] dispatch failed",
			slog.Int64("position_id", d.MasterPositionID),
			slog.String("symbol", name),
			slog.String("action", d.Action.String()),
			slog.String("error", err.Error()))
	}
}
