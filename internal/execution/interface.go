// Package execution turns copy decisions into confirmed orders on the
// slave account: rate limiting, retries with backoff, and ledger
// mutation strictly after the venue's confirmation.
package execution

import (
	"context"

	"trade_copier/internal/domain"
	"trade_copier/pkg/quant"
)

// TradeClient is the outbound trading surface of the venue connection.
type TradeClient interface {
	// SendMarketOrder places a market order on the slave account.
	// A returned error is a transport-level failure; a rejection comes
	// back as an outcome with Accepted=false.
	SendMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error)

	// ClosePosition closes volume lots of an open slave position.
	ClosePosition(ctx context.Context, positionID int64, volume quant.LotMicros) (domain.OrderOutcome, error)
}

// PositionLedger is the mutable side of the pair table. Mutation
// happens here only, after broker confirmation.
type PositionLedger interface {
	UpsertOpen(p domain.Position) error
	Adjust(masterPositionID int64, newMaster, newSlave quant.LotMicros) error
	Remove(masterPositionID int64) error
	Get(masterPositionID int64) (domain.Position, bool)
}

// SpecSource supplies the slave instrument spec for step rounding.
type SpecSource interface {
	SlaveSpec(symbolID int64) *domain.SymbolSpec
}

// Recorder persists dispatch outcomes for audit.
type Recorder interface {
	Record(ctx context.Context, rec domain.CopyRecord) error
}
