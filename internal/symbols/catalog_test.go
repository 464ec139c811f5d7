package symbols

import (
	"errors"
	"testing"

	"trade_copier/internal/domain"
)

func spec(id int64, name string) domain.SymbolSpec {
	return domain.SymbolSpec{SymbolID: id, Name: name, Digits: 5, PipPosition: 4, LotSizeUnits: 100000, StepVolume: 10000}
}

func TestCatalog_NameMatching(t *testing.T) {
	c := NewCatalog(nil)
	c.Update(
		[]domain.SymbolSpec{spec(1, "EURUSD"), spec(2, "GBPUSD"), spec(3, "USDJPY")},
		[]domain.SymbolSpec{spec(41, "eurusd"), spec(42, "GBPUSD")},
	)

	id, err := c.ToSlave(1)
	if err != nil || id != 41 {
		t.Errorf("ToSlave(1) = %d, %v; want 41 (case-insensitive match)", id, err)
	}
	id, err = c.ToSlave(2)
	if err != nil || id != 42 {
		t.Errorf("ToSlave(2) = %d, %v; want 42", id, err)
	}

	// USDJPY has no slave counterpart.
	if _, err := c.ToSlave(3); !errors.Is(err, ErrUnmapped) {
		t.Errorf("ToSlave(3) err = %v, want ErrUnmapped", err)
	}

	// Reverse direction.
	id, err = c.ToMaster(42)
	if err != nil || id != 2 {
		t.Errorf("ToMaster(42) = %d, %v; want 2", id, err)
	}
}

func TestCatalog_Aliases(t *testing.T) {
	c := NewCatalog(map[string]string{"XAUUSD": "GOLD"})
	c.Update(
		[]domain.SymbolSpec{spec(1, "XAUUSD")},
		[]domain.SymbolSpec{spec(9, "GOLD")},
	)

	id, err := c.ToSlave(1)
	if err != nil || id != 9 {
		t.Errorf("ToSlave(1) = %d, %v; want aliased 9", id, err)
	}
	if got := c.Name(1); got != "XAUUSD" {
		t.Errorf("Name(1) = %q, want master-side name", got)
	}
}

func TestCatalog_SpecsAreCopies(t *testing.T) {
	c := NewCatalog(nil)
	c.Update([]domain.SymbolSpec{spec(1, "EURUSD")}, []domain.SymbolSpec{spec(41, "EURUSD")})

	s := c.SlaveSpec(41)
	if s == nil {
		t.Fatal("SlaveSpec(41) = nil")
	}
	s.StepVolume = 1

	again := c.SlaveSpec(41)
	if again.StepVolume != 10000 {
		t.Error("spec mutation leaked into the catalog")
	}

	if c.SlaveSpec(999) != nil {
		t.Error("unknown spec should be nil")
	}
}

func TestCatalog_PricesAndSnapshot(t *testing.T) {
	c := NewCatalog(nil)
	c.Update([]domain.SymbolSpec{spec(1, "EURUSD")}, []domain.SymbolSpec{spec(41, "EURUSD")})

	if c.Snapshot() != nil {
		t.Error("snapshot should be nil before the first trader query")
	}
	c.SetSnapshot(domain.AccountSnapshot{AccountID: 7, BalanceCents: 500_000, DepositAsset: 2})
	snap := c.Snapshot()
	if snap == nil || snap.BalanceCents != 500_000 {
		t.Errorf("snapshot = %+v", snap)
	}

	c.UpdatePrices(41, 1_085_000, 1_085_200)
	s := c.SlaveSpec(41)
	if s.BidMicros != 1_085_000 || s.AskMicros != 1_085_200 {
		t.Errorf("prices not applied: %+v", s)
	}
	if s.MidPriceMicros() != 1_085_100 {
		t.Errorf("MidPriceMicros = %d", s.MidPriceMicros())
	}
}
