package ledger

import (
	"log/slog"

	"trade_copier/internal/domain"
	"trade_copier/pkg/quant"
	"trade_copier/pkg/safe"
)

// Pairing tolerances. A master and slave position are considered the
// same copied trade when the symbols map to each other, the sides match,
// the open times are within openTimeToleranceMs, and the slave/master
// volume ratio is plausible (positive and at most maxRatioMicros).
const (
	openTimeToleranceMs = 90_000
)

// Rebuild repopulates the ledger from live position queries on both
// accounts after a reconnect. resolve maps a master symbol id to the
// slave catalog; maxRatioMicros is MaxLotMultiplier scaled by LotScale.
//
// Returns the master positions that could not be paired. They are not
// entered into the ledger; the caller treats them as OPEN decisions
// going forward. Best effort, logged, never fatal.
func (l *Ledger) Rebuild(log *slog.Logger, masters, slaves []domain.LivePosition, resolve func(int64) (int64, error), maxRatioMicros int64) []domain.LivePosition {
	l.Clear()

	claimed := make(map[int64]bool, len(slaves))
	var unpaired []domain.LivePosition

	for _, m := range masters {
		slaveSymbol, err := resolve(m.SymbolID)
		if err != nil {
			log.Warn("[ERROR] rebuild: master symbol unmapped, skipping pair",
				slog.Int64("position_id", m.PositionID),
				slog.Int64("symbol_id", m.SymbolID))
			unpaired = append(unpaired, m)
			continue
		}

		best := -1
		for i, s := range slaves {
			if claimed[s.PositionID] || s.SymbolID != slaveSymbol || s.Side != m.Side {
				continue
			}
			dt := int64(s.OpenedAt) - int64(m.OpenedAt)
			if dt < 0 {
				dt = -dt
			}
			if dt > openTimeToleranceMs {
				continue
			}
			if m.Volume <= 0 || s.Volume <= 0 {
				continue
			}
			ratio := safe.MulDiv(int64(s.Volume), quant.LotScale, int64(m.Volume))
			if ratio <= 0 || ratio > maxRatioMicros {
				continue
			}
			// Prefer the closest open time among candidates.
			if best == -1 || closer(m, slaves[i], slaves[best]) {
				best = i
			}
		}

		if best == -1 {
			log.Warn("[ERROR] rebuild: no slave pair for master position",
				slog.Int64("position_id", m.PositionID),
				slog.Int64("symbol_id", m.SymbolID),
				slog.String("volume", m.Volume.String()))
			unpaired = append(unpaired, m)
			continue
		}

		s := slaves[best]
		claimed[s.PositionID] = true
		_ = l.UpsertOpen(domain.Position{
			SymbolID:         m.SymbolID,
			MasterPositionID: m.PositionID,
			SlavePositionID:  s.PositionID,
			Side:             m.Side,
			MasterVolume:     m.Volume,
			SlaveVolume:      s.Volume,
			OpenedAt:         m.OpenedAt,
		})
		log.Info("[OPEN] rebuild: paired positions",
			slog.Int64("position_id", m.PositionID),
			slog.Int64("slave_position_id", s.PositionID),
			slog.Int64("symbol_id", m.SymbolID),
			slog.String("master_volume", m.Volume.String()),
			slog.String("slave_volume", s.Volume.String()))
	}

	return unpaired
}

func closer(m, a, b domain.LivePosition) bool {
	da := int64(a.OpenedAt) - int64(m.OpenedAt)
	if da < 0 {
		da = -da
	}
	db := int64(b.OpenedAt) - int64(m.OpenedAt)
	if db < 0 {
		db = -db
	}
	return da < db
}
