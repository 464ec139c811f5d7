package domain

import (
	"trade_copier/pkg/quant"
	"trade_copier/pkg/safe"
)

// Side is the direction of a position.
type Side int

const (
	SideLong Side = iota + 1
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the closing direction for the side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position is one open master↔slave pair. Owned exclusively by the Ledger:
// created on a confirmed OPEN, volumes mutated in place on partial close,
// removed on full close confirmation.
type Position struct {
	SymbolID         int64
	MasterPositionID int64
	SlavePositionID  int64 // 0 until the slave order is confirmed
	Side             Side
	MasterVolume     quant.LotMicros
	SlaveVolume      quant.LotMicros
	OpenedAt         quant.TimeStamp
}

// HasSlave reports whether the slave leg has been opened.
func (p *Position) HasSlave() bool {
	return p.SlavePositionID != 0
}

// VolumeRatio returns slave/master volume scaled by quant.LotScale.
// Used for proportional partial closes; zero master volume yields 0.
func (p *Position) VolumeRatio() int64 {
	if p.MasterVolume == 0 {
		return 0
	}
	return safe.MulDiv(int64(p.SlaveVolume), quant.LotScale, int64(p.MasterVolume))
}

// LivePosition is a venue-reported open position, used only for
// reconnect reconciliation (queryOpenPositions on both accounts).
type LivePosition struct {
	PositionID int64
	SymbolID   int64
	Side       Side
	Volume     quant.LotMicros
	OpenedAt   quant.TimeStamp
}
