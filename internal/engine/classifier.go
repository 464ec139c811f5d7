package engine

import (
	"trade_copier/internal/domain"
	"trade_copier/pkg/quant"
	"trade_copier/pkg/safe"
)

// LedgerView is the read side of the position ledger the classifier
// consults. Mutation happens later, after broker confirmation, in the
// dispatcher.
type LedgerView interface {
	Get(masterPositionID int64) (domain.Position, bool)
}

// Classify turns a master execution event into a copy decision by
// comparing it against the tracked position state. Pure with respect
// to the ledger: it reads, never writes.
func Classify(ev domain.ExecutionEvent, view LedgerView) domain.CopyDecision {
	d := domain.CopyDecision{
		SymbolID:         ev.SymbolID,
		MasterPositionID: ev.MasterPositionID,
		Side:             ev.Side,
		MasterVolume:     ev.ResultingVolume,
	}

	if !ev.Kind.IsFill() {
		d.Action = domain.ActionSkip
		d.Reason = domain.ReasonNotPositionImpacting
		return d
	}

	tracked, known := view.Get(ev.MasterPositionID)

	switch {
	case ev.ResultingVolume == 0:
		// Full close on the master.
		if !known {
			d.Action = domain.ActionSkip
			d.Reason = domain.ReasonUnknownPosition
			return d
		}
		d.Action = domain.ActionClose
		d.RequestedSlaveVolume = tracked.SlaveVolume
		return d

	case !known:
		// First fill we see for this position: open the mirror.
		d.Action = domain.ActionOpen
		return d

	default:
		// Partial fill changed the master's open volume. The slave keeps
		// the pair's original ratio: requested = resulting × slave/master.
		d.Action = domain.ActionAdjust
		d.RequestedSlaveVolume = scaleByPair(ev.ResultingVolume, tracked)
		return d
	}
}

// scaleByPair projects a new master volume onto the slave side using
// the tracked pair's ratio. Integer math in lot-micros; the dispatcher
// rounds the resulting close delta to the broker's step.
func scaleByPair(newMaster quant.LotMicros, p domain.Position) quant.LotMicros {
	if p.MasterVolume <= 0 {
		return 0
	}
	return quant.LotMicros(safe.MulDiv(int64(newMaster), int64(p.SlaveVolume), int64(p.MasterVolume)))
}
