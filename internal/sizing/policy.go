// Package sizing computes the slave order volume for a master fill.
// Pure and deterministic: same inputs always yield the same volume.
package sizing

import (
	"github.com/shopspring/decimal"

	"trade_copier/pkg/quant"
)

// PolicyKind selects how the slave volume is derived. A closed set:
// selection is explicit configuration, never runtime type inspection.
type PolicyKind string

const (
	// PolicyGlobalMultiplier scales every instrument by one ratio.
	PolicyGlobalMultiplier PolicyKind = "global_multiplier"
	// PolicySymbolTable looks the multiplier up per instrument, with a
	// default for unlisted symbols.
	PolicySymbolTable PolicyKind = "symbol_table"
	// PolicyBalancePercent risks a fixed percentage of the slave balance.
	PolicyBalancePercent PolicyKind = "balance_percent"
	// PolicyPipEqualize matches the monetary risk per pip across brokers.
	// Best effort: missing pip data falls back to the global multiplier.
	PolicyPipEqualize PolicyKind = "pip_equalize"
)

// Config holds every policy's parameters. Only the fields of the
// selected Policy are read; MinVolume and MaxMultiplier always apply.
type Config struct {
	Policy PolicyKind

	GlobalMultiplier  decimal.Decimal
	SymbolMultipliers map[string]decimal.Decimal
	DefaultMultiplier decimal.Decimal

	// Balance-percentage policy.
	BalancePercent     decimal.Decimal // e.g. 0.02 = risk 2% of balance
	MicroLotsPerDollar decimal.Decimal // micro-lots bought per risked dollar

	// Pip equalization scaling: 1.0 equal risk, 0.5 half risk on slave.
	PipVolumeRatio decimal.Decimal

	// Post-processing, always applied.
	MinVolume     quant.LotMicros // raise-to floor
	MaxMultiplier decimal.Decimal // cap at MaxMultiplier × master volume
}

// Result reports which policy produced the volume and what the
// post-processing did to it. Everything here is logged under [VOLUME].
type Result struct {
	Policy      PolicyKind
	Fallback    bool // pip data missing, global multiplier used instead
	RaisedToMin bool
	CappedAtMax bool
}
