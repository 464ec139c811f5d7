package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trade_copier/internal/domain"
	"trade_copier/internal/infra"
	"trade_copier/pkg/quant"
)

// maxAttempts bounds the retry loop per decision. Only transport
// failures retry; venue rejections are final on the first verdict.
const maxAttempts = 4

// Dispatcher executes copy decisions against the slave account.
// All trading requests pass through one token bucket so the venue's
// per-connection limit holds no matter how many workers feed it.
type Dispatcher struct {
	log     *slog.Logger
	client  TradeClient
	ledger  PositionLedger
	specs   SpecSource
	journal Recorder // optional

	tradeLimiter *infra.RateLimiter
	breaker      *infra.CircuitBreaker

	minVolume quant.LotMicros

	// Injectable for tests.
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// NewDispatcher wires a dispatcher with the venue's trading limits.
// journal may be nil when auditing is disabled.
func NewDispatcher(log *slog.Logger, client TradeClient, ledger PositionLedger, specs SpecSource, journal Recorder, minVolume quant.LotMicros) *Dispatcher {
	return &Dispatcher{
		log:          log,
		client:       client,
		ledger:       ledger,
		specs:        specs,
		journal:      journal,
		tradeLimiter: infra.NewTradeLimiter(),
		breaker:      infra.NewCircuitBreaker(log, "slave-trading"),
		minVolume:    minVolume,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatch executes one decision. The ledger mutates only after the
// venue confirms; rejections and unknown positions are logged, never
// fatal.
func (x *Dispatcher) Dispatch(ctx context.Context, d domain.CopyDecision) error {
	switch d.Action {
	case domain.ActionOpen:
		return x.dispatchOpen(ctx, d)
	case domain.ActionAdjust:
		return x.dispatchAdjust(ctx, d)
	case domain.ActionClose:
		return x.dispatchClose(ctx, d)
	default:
		return nil
	}
}

func (x *Dispatcher) dispatchOpen(ctx context.Context, d domain.CopyDecision) error {
	if d.RequestedSlaveVolume <= 0 {
		x.log.Warn("[SKIPPED] open with zero slave volume",
			slog.Int64("position_id", d.MasterPositionID),
			slog.Int64("symbol_id", d.SymbolID))
		return nil
	}

	req := domain.OrderRequest{
		SymbolID: d.SlaveSymbolID,
		Side:     d.Side,
		Volume:   d.RequestedSlaveVolume,
		Comment:  fmt.Sprintf("copy:%d", d.MasterPositionID),
	}
	out, attempts, err := x.attempt(ctx, func(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
		return x.client.SendMarketOrder(ctx, req)
	}, req)
	x.record(ctx, d, d.RequestedSlaveVolume, out, attempts, err)
	if err != nil {
		return fmt.Errorf("open position %d: %w", d.MasterPositionID, err)
	}
	if !out.Accepted {
		x.log.Warn("[REJECTED] open order rejected by venue",
			slog.Int64("position_id", d.MasterPositionID),
			slog.Int64("symbol_id", d.SlaveSymbolID),
			slog.String("volume", d.RequestedSlaveVolume.String()),
			slog.String("error", out.ErrorKind))
		return nil
	}

	if err := x.ledger.UpsertOpen(domain.Position{
		SymbolID:         d.SymbolID,
		MasterPositionID: d.MasterPositionID,
		SlavePositionID:  out.SlavePositionID,
		Side:             d.Side,
		MasterVolume:     d.MasterVolume,
		SlaveVolume:      d.RequestedSlaveVolume,
		OpenedAt:         quant.TimeStamp(x.now().UnixMilli()),
	}); err != nil {
		var dup *domain.DuplicateKeyError
		if errors.As(err, &dup) {
			x.log.Warn("[ERROR] pair already tracked after open",
				slog.Int64("position_id", d.MasterPositionID))
			return nil
		}
		return err
	}

	x.log.Info("[OPEN] slave position opened",
		slog.Int64("position_id", d.MasterPositionID),
		slog.Int64("slave_position_id", out.SlavePositionID),
		slog.Int64("symbol_id", d.SlaveSymbolID),
		slog.String("volume", d.RequestedSlaveVolume.String()))
	return nil
}

func (x *Dispatcher) dispatchClose(ctx context.Context, d domain.CopyDecision) error {
	tracked, ok := x.ledger.Get(d.MasterPositionID)
	if !ok || !tracked.HasSlave() {
		x.log.Warn("[SKIPPED] close for untracked position",
			slog.Int64("position_id", d.MasterPositionID),
			slog.String("reason", domain.ReasonUnknownPosition))
		return nil
	}

	return x.closeVolume(ctx, d, tracked, tracked.SlaveVolume, true)
}

func (x *Dispatcher) dispatchAdjust(ctx context.Context, d domain.CopyDecision) error {
	tracked, ok := x.ledger.Get(d.MasterPositionID)
	if !ok || !tracked.HasSlave() {
		x.log.Warn("[SKIPPED] adjust for untracked position",
			slog.Int64("position_id", d.MasterPositionID),
			slog.String("reason", domain.ReasonUnknownPosition))
		return nil
	}

	step := quant.LotMicros(0)
	if spec := x.specs.SlaveSpec(d.SlaveSymbolID); spec != nil {
		step = spec.StepVolume
	}

	delta := tracked.SlaveVolume - d.RequestedSlaveVolume
	if step > 0 {
		delta = delta / step * step
	}
	if delta <= 0 {
		x.log.Debug("[SKIPPED] adjust delta below one step",
			slog.Int64("position_id", d.MasterPositionID),
			slog.String("slave_volume", tracked.SlaveVolume.String()),
			slog.String("target", d.RequestedSlaveVolume.String()))
		return nil
	}

	// Remainder rule: if what would stay open is below a tradable size,
	// close the whole slave position instead of stranding dust.
	remainder := tracked.SlaveVolume - delta
	if remainder < step || remainder < x.minVolume {
		return x.closeVolume(ctx, d, tracked, tracked.SlaveVolume, true)
	}
	return x.closeVolume(ctx, d, tracked, delta, false)
}

// closeVolume sends a (partial) close and mutates the ledger after
// confirmation. full removes the pair; otherwise volumes shrink.
func (x *Dispatcher) closeVolume(ctx context.Context, d domain.CopyDecision, tracked domain.Position, volume quant.LotMicros, full bool) error {
	out, attempts, err := x.attemptClose(ctx, tracked.SlavePositionID, volume)
	x.record(ctx, d, volume, out, attempts, err)
	if err != nil {
		return fmt.Errorf("close position %d: %w", d.MasterPositionID, err)
	}
	if !out.Accepted {
		x.log.Warn("[REJECTED] close rejected by venue",
			slog.Int64("position_id", d.MasterPositionID),
			slog.Int64("slave_position_id", tracked.SlavePositionID),
			slog.String("volume", volume.String()),
			slog.String("error", out.ErrorKind))
		return nil
	}

	if full {
		if err := x.ledger.Remove(d.MasterPositionID); err != nil {
			var nf *domain.NotFoundError
			if !errors.As(err, &nf) {
				return err
			}
		}
		x.log.Info("[CLOSE] slave position closed",
			slog.Int64("position_id", d.MasterPositionID),
			slog.Int64("slave_position_id", tracked.SlavePositionID),
			slog.String("volume", volume.String()))
		return nil
	}

	if err := x.ledger.Adjust(d.MasterPositionID, d.MasterVolume, tracked.SlaveVolume-volume); err != nil {
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
	}
	x.log.Info("[PARTIAL] slave position reduced",
		slog.Int64("position_id", d.MasterPositionID),
		slog.Int64("slave_position_id", tracked.SlavePositionID),
		slog.String("closed", volume.String()),
		slog.String("remaining", (tracked.SlaveVolume - volume).String()))
	return nil
}

func (x *Dispatcher) attemptClose(ctx context.Context, positionID int64, volume quant.LotMicros) (domain.OrderOutcome, int, error) {
	return x.attempt(ctx, func(ctx context.Context, _ domain.OrderRequest) (domain.OrderOutcome, error) {
		return x.client.ClosePosition(ctx, positionID, volume)
	}, domain.OrderRequest{})
}

// attempt runs one venue call with rate limiting, the circuit breaker,
// and bounded retries on transient transport errors.
func (x *Dispatcher) attempt(ctx context.Context, call func(context.Context, domain.OrderRequest) (domain.OrderOutcome, error), req domain.OrderRequest) (domain.OrderOutcome, int, error) {
	var lastErr error
	for n := 0; n < maxAttempts; n++ {
		if n > 0 {
			if err := x.sleep(ctx, infra.CalculateBackoff(n-1)); err != nil {
				return domain.OrderOutcome{}, n, err
			}
		}
		if !x.breaker.Allow() {
			lastErr = &domain.TransportError{Op: "dispatch", Err: errors.New("circuit breaker open")}
			continue
		}
		if err := x.tradeLimiter.Wait(ctx); err != nil {
			return domain.OrderOutcome{}, n, err
		}

		req.AttemptNo = n + 1
		out, err := call(ctx, req)
		if err != nil {
			x.breaker.RecordFailure()
			if domain.IsTransient(err) {
				lastErr = err
				x.log.Warn("[ERROR] venue call failed, retrying",
					slog.Int("attempt", n+1),
					slog.String("error", err.Error()))
				continue
			}
			return out, n + 1, err
		}
		x.breaker.RecordSuccess()
		return out, n + 1, nil
	}
	return domain.OrderOutcome{}, maxAttempts, fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}

func (x *Dispatcher) record(ctx context.Context, d domain.CopyDecision, volume quant.LotMicros, out domain.OrderOutcome, attempts int, err error) {
	if x.journal == nil {
		return
	}
	rec := domain.CopyRecord{
		Timestamp:        quant.TimeStamp(x.now().UnixMilli()),
		Action:           d.Action.String(),
		MasterPositionID: d.MasterPositionID,
		SymbolID:         d.SymbolID,
		RequestedVolume:  volume,
		Accepted:         out.Accepted,
		SlavePositionID:  out.SlavePositionID,
		Attempts:         attempts,
	}
	if err != nil {
		rec.Error = err.Error()
	} else if !out.Accepted {
		rec.Error = out.ErrorKind
	}
	if jerr := x.journal.Record(ctx, rec); jerr != nil {
		x.log.Error("[ERROR] journal write failed",
			slog.Int64("position_id", d.MasterPositionID),
			slog.String("error", jerr.Error()))
	}
}
