package sizing

import (
	"github.com/shopspring/decimal"

	"trade_copier/internal/domain"
	"trade_copier/pkg/quant"
)

// Inputs is the account context a policy may need. Specs and snapshot
// may be nil; policies that need them report a fallback instead of
// failing the copy.
type Inputs struct {
	MasterSpec *domain.SymbolSpec
	SlaveSpec  *domain.SymbolSpec
	Snapshot   *domain.AccountSnapshot
}

// Calculator derives the slave volume for a master fill under the
// configured policy, then applies min/max clamps and lot-step rounding.
type Calculator struct {
	cfg Config
}

// NewCalculator validates nothing beyond defaults: a zero default
// multiplier becomes 1 so a sparse symbol table still copies.
func NewCalculator(cfg Config) *Calculator {
	if cfg.DefaultMultiplier.IsZero() {
		cfg.DefaultMultiplier = decimal.NewFromInt(1)
	}
	if cfg.PipVolumeRatio.IsZero() {
		cfg.PipVolumeRatio = decimal.NewFromInt(1)
	}
	return &Calculator{cfg: cfg}
}

// Compute maps (instrument, master volume, account context) to the
// slave volume. Deterministic; post-processing is idempotent.
func (c *Calculator) Compute(symbolName string, masterVolume quant.LotMicros, in Inputs) (quant.LotMicros, Result) {
	res := Result{Policy: c.cfg.Policy}
	raw := c.rawVolume(symbolName, masterVolume, in, &res)

	step := quant.LotMicros(0)
	if in.SlaveSpec != nil {
		step = in.SlaveSpec.StepVolume
	}
	vol := c.postProcess(raw, masterVolume, step, &res)
	return vol, res
}

func (c *Calculator) rawVolume(symbolName string, masterVolume quant.LotMicros, in Inputs, res *Result) quant.LotMicros {
	switch c.cfg.Policy {
	case PolicyGlobalMultiplier:
		return mulRatio(masterVolume, c.cfg.GlobalMultiplier)

	case PolicySymbolTable:
		mult, ok := c.cfg.SymbolMultipliers[symbolName]
		if !ok {
			mult = c.cfg.DefaultMultiplier
		}
		return mulRatio(masterVolume, mult)

	case PolicyBalancePercent:
		if in.Snapshot == nil {
			res.Fallback = true
			return mulRatio(masterVolume, c.cfg.GlobalMultiplier)
		}
		// risk = balance × percent; volume = risk × micro-lots/dollar.
		balance := decimal.New(int64(in.Snapshot.BalanceCents), -2)
		risk := balance.Mul(c.cfg.BalancePercent)
		microLots := risk.Mul(c.cfg.MicroLotsPerDollar)
		return quant.LotMicros(microLots.Mul(decimal.NewFromInt(int64(quant.MicroLot))).IntPart())

	case PolicyPipEqualize:
		masterPip, okM := pipValue(in.MasterSpec, in.Snapshot)
		slavePip, okS := pipValue(in.SlaveSpec, in.Snapshot)
		if !okM || !okS || slavePip.IsZero() {
			// Missing pip data is a logged, non-fatal condition.
			res.Fallback = true
			return mulRatio(masterVolume, c.cfg.GlobalMultiplier)
		}
		ratio := masterPip.Div(slavePip).Mul(c.cfg.PipVolumeRatio)
		return mulRatio(masterVolume, ratio)

	default:
		// Unconfigured policy copies 1:1; the clamps still protect.
		return masterVolume
	}
}

// pipValue returns the monetary value of one pip per 1.00 lot on the
// given broker. When the quote asset is the deposit asset no price is
// needed; otherwise the mid price converts, and missing prices make the
// value unavailable.
func pipValue(spec *domain.SymbolSpec, snap *domain.AccountSnapshot) (decimal.Decimal, bool) {
	if spec == nil || spec.PipPosition < 0 || spec.LotSizeUnits <= 0 {
		return decimal.Zero, false
	}
	pipSize := decimal.New(1, int32(-spec.PipPosition))
	lotSize := decimal.NewFromInt(spec.LotSizeUnits)

	if snap != nil && spec.QuoteAssetID == snap.DepositAsset {
		return pipSize.Mul(lotSize), true
	}

	mid := spec.MidPriceMicros()
	if mid == 0 {
		return decimal.Zero, false
	}
	midDec := decimal.New(int64(mid), -6)
	return pipSize.Div(midDec).Mul(lotSize), true
}

// postProcess applies, in order: raise to MinVolume, cap at
// MaxMultiplier × master, round down to the instrument's lot step.
// Applying it twice yields the same result as once.
func (c *Calculator) postProcess(v, masterVolume, step quant.LotMicros, res *Result) quant.LotMicros {
	if c.cfg.MinVolume > 0 && v < c.cfg.MinVolume {
		v = c.cfg.MinVolume
		res.RaisedToMin = true
	}

	if !c.cfg.MaxMultiplier.IsZero() && masterVolume > 0 {
		cap := mulRatio(masterVolume, c.cfg.MaxMultiplier)
		if step > 0 {
			cap = cap / step * step
		}
		if cap > 0 && v > cap {
			v = cap
			res.CappedAtMax = true
		}
	}

	if step > 0 {
		v = v / step * step
		// Rounding down must not undercut the configured minimum.
		if c.cfg.MinVolume > 0 && v < c.cfg.MinVolume {
			v = ceilToStep(c.cfg.MinVolume, step)
		}
	}

	return v
}

func ceilToStep(v, step quant.LotMicros) quant.LotMicros {
	if step <= 0 {
		return v
	}
	return (v + step - 1) / step * step
}

// mulRatio scales a fixed-point volume by a decimal ratio, rounding
// half away from zero at micro-lot precision.
func mulRatio(v quant.LotMicros, ratio decimal.Decimal) quant.LotMicros {
	if ratio.IsZero() {
		return v
	}
	scaled := decimal.NewFromInt(int64(v)).Mul(ratio)
	return quant.LotMicros(scaled.Round(0).IntPart())
}
