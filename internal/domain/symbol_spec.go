package domain

import "trade_copier/pkg/quant"

// SymbolSpec holds the per-broker contract data needed for pip-value
// calculation and lot-step rounding. Loaded at session start from the
// venue's symbol list, prices updated from spot events.
type SymbolSpec struct {
	SymbolID     int64
	Name         string
	Digits       int
	PipPosition  int             // pip = 10^-PipPosition in price terms
	LotSizeUnits int64           // contract size, base units per 1.00 lot
	StepVolume   quant.LotMicros // broker-allowed volume increment
	BaseAssetID  int64
	QuoteAssetID int64
	BidMicros    quant.PriceMicros
	AskMicros    quant.PriceMicros
}

// MidPriceMicros returns the bid/ask midpoint, or 0 when prices are
// not yet known.
func (s *SymbolSpec) MidPriceMicros() quant.PriceMicros {
	if s.BidMicros == 0 || s.AskMicros == 0 {
		return 0
	}
	return (s.BidMicros + s.AskMicros) / 2
}

// HasPrices reports whether spot prices have been observed.
func (s *SymbolSpec) HasPrices() bool {
	return s.BidMicros != 0 && s.AskMicros != 0
}
