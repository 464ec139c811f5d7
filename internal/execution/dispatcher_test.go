package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"trade_copier/internal/domain"
	"trade_copier/internal/ledger"
	"trade_copier/pkg/quant"
)

type stepSpecs struct{ step quant.LotMicros }

func (s stepSpecs) SlaveSpec(int64) *domain.SymbolSpec {
	return &domain.SymbolSpec{StepVolume: s.step}
}

type memJournal struct {
	mu   sync.Mutex
	recs []domain.CopyRecord
}

func (j *memJournal) Record(_ context.Context, rec domain.CopyRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

func newTestDispatcher(client TradeClient, led PositionLedger) (*Dispatcher, *memJournal, *[]time.Duration) {
	j := &memJournal{}
	x := NewDispatcher(slog.Default(), client, led, stepSpecs{step: quant.MicroLot}, j, quant.MicroLot)
	var slept []time.Duration
	x.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return x, j, &slept
}

func openDecision(vol quant.LotMicros) domain.CopyDecision {
	return domain.CopyDecision{
		Action:               domain.ActionOpen,
		SymbolID:             1,
		SlaveSymbolID:        1001,
		MasterPositionID:     42,
		Side:                 domain.SideLong,
		MasterVolume:         2 * vol,
		RequestedSlaveVolume: vol,
	}
}

func TestDispatcher_OpenConfirmsThenTracks(t *testing.T) {
	client := NewMockClient()
	led := ledger.New()
	x, j, _ := newTestDispatcher(client, led)

	if err := x.Dispatch(context.Background(), openDecision(50_000)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if client.OrderCount() != 1 {
		t.Fatalf("orders sent = %d, want 1", client.OrderCount())
	}
	if client.Orders[0].SymbolID != 1001 || client.Orders[0].Volume != 50_000 {
		t.Errorf("order = %+v", client.Orders[0])
	}

	p, ok := led.Get(42)
	if !ok {
		t.Fatal("pair not tracked after confirmed open")
	}
	if !p.HasSlave() || p.SlaveVolume != 50_000 {
		t.Errorf("tracked pair = %+v", p)
	}

	if len(j.recs) != 1 || !j.recs[0].Accepted || j.recs[0].Action != "OPEN" {
		t.Errorf("journal = %+v", j.recs)
	}
}

func TestDispatcher_RetriesTransientOnly(t *testing.T) {
	client := NewMockClient()
	led := ledger.New()
	x, _, slept := newTestDispatcher(client, led)

	transient := &domain.TransportError{Op: "send", Err: errors.New("conn reset")}
	client.ScriptOrder(domain.OrderOutcome{}, transient)
	client.ScriptOrder(domain.OrderOutcome{}, transient)
	// Third attempt succeeds via the default accept path.

	if err := x.Dispatch(context.Background(), openDecision(50_000)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if client.OrderCount() != 3 {
		t.Errorf("orders sent = %d, want 3 (two retries)", client.OrderCount())
	}
	if len(*slept) != 2 {
		t.Fatalf("backoffs = %v, want 2", *slept)
	}
	if (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("backoff sequence = %v, want [1s 2s]", *slept)
	}
	if _, ok := led.Get(42); !ok {
		t.Error("pair not tracked after eventual success")
	}
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	client := NewMockClient()
	led := ledger.New()
	x, j, _ := newTestDispatcher(client, led)

	transient := &domain.TransportError{Op: "send", Err: errors.New("timeout")}
	for i := 0; i < maxAttempts; i++ {
		client.ScriptOrder(domain.OrderOutcome{}, transient)
	}

	if err := x.Dispatch(context.Background(), openDecision(50_000)); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if client.OrderCount() != maxAttempts {
		t.Errorf("orders sent = %d, want %d", client.OrderCount(), maxAttempts)
	}
	if _, ok := led.Get(42); ok {
		t.Error("pair tracked despite failed open")
	}
	if len(j.recs) != 1 || j.recs[0].Accepted || j.recs[0].Attempts != maxAttempts {
		t.Errorf("journal = %+v", j.recs)
	}
}

func TestDispatcher_RejectionIsFinal(t *testing.T) {
	client := NewMockClient()
	led := ledger.New()
	x, j, slept := newTestDispatcher(client, led)

	client.ScriptOrder(domain.OrderOutcome{Accepted: false, ErrorKind: "NOT_ENOUGH_MONEY"}, nil)

	if err := x.Dispatch(context.Background(), openDecision(50_000)); err != nil {
		t.Fatalf("rejection must not surface as error: %v", err)
	}
	if client.OrderCount() != 1 {
		t.Errorf("orders sent = %d, rejection must not retry", client.OrderCount())
	}
	if len(*slept) != 0 {
		t.Errorf("unexpected backoff on rejection: %v", *slept)
	}
	if _, ok := led.Get(42); ok {
		t.Error("pair tracked despite rejection")
	}
	if len(j.recs) != 1 || j.recs[0].Error != "NOT_ENOUGH_MONEY" {
		t.Errorf("journal = %+v", j.recs)
	}
}

func TestDispatcher_CloseRemovesPair(t *testing.T) {
	client := NewMockClient()
	led := ledger.New()
	led.UpsertOpen(domain.Position{
		SymbolID: 1, MasterPositionID: 42, SlavePositionID: 9001,
		Side: domain.SideLong, MasterVolume: 100_000, SlaveVolume: 50_000,
	})
	x, _, _ := newTestDispatcher(client, led)

	err := x.Dispatch(context.Background(), domain.CopyDecision{
		Action: domain.ActionClose, SymbolID: 1, SlaveSymbolID: 1001,
		MasterPositionID: 42, Side: domain.SideLong,
		RequestedSlaveVolume: 50_000,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(client.Closes) != 1 || client.Closes[0].PositionID != 9001 || client.Closes[0].Volume != 50_000 {
		t.Errorf("closes = %+v", client.Closes)
	}
	if _, ok := led.Get(42); ok {
		t.Error("pair still tracked after confirmed close")
	}
}

func TestDispatcher_AdjustClosesDelta(t *testing.T) {
	client := NewMockClient()
	led := ledger.New()
	led.UpsertOpen(domain.Position{
		SymbolID: 1, MasterPositionID: 42, SlavePositionID: 9001,
		Side: domain.SideLong, MasterVolume: 100_000, SlaveVolume: 50_000,
	})
	x, _, _ := newTestDispatcher(client, led)

	// Master went 0.10 -> 0.06; proportional slave target is 0.03,
	// so 0.02 closes.
	err := x.Dispatch(context.Background(), domain.CopyDecision{
		Action: domain.ActionAdjust, SymbolID: 1, SlaveSymbolID: 1001,
		MasterPositionID: 42, Side: domain.SideLong,
		MasterVolume: 60_000, RequestedSlaveVolume: 30_000,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(client.Closes) != 1 || client.Closes[0].Volume != 20_000 {
		t.Fatalf("closes = %+v, want one close of 0.02 lot", client.Closes)
	}
	p, ok := led.Get(42)
	if !ok || p.SlaveVolume != 30_000 || p.MasterVolume != 60_000 {
		t.Errorf("tracked pair after adjust = %+v", p)
	}
}

func TestDispatcher_AdjustRemainderClosesFull(t *testing.T) {
	client := NewMockClient()
	led := ledger.New()
	// Slave volume not on the current step grid: closing the floored
	// delta would strand 0.005 lot, below one step.
	led.UpsertOpen(domain.Position{
		SymbolID: 1, MasterPositionID: 42, SlavePositionID: 9001,
		Side: domain.SideLong, MasterVolume: 100_000, SlaveVolume: 15_000,
	})
	x, _, _ := newTestDispatcher(client, led)

	err := x.Dispatch(context.Background(), domain.CopyDecision{
		Action: domain.ActionAdjust, SymbolID: 1, SlaveSymbolID: 1001,
		MasterPositionID: 42, Side: domain.SideLong,
		MasterVolume: 20_000, RequestedSlaveVolume: 3_000,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(client.Closes) != 1 || client.Closes[0].Volume != 15_000 {
		t.Fatalf("closes = %+v, want full close of 0.015 lot", client.Closes)
	}
	if _, ok := led.Get(42); ok {
		t.Error("pair still tracked after remainder-rule close")
	}
}

func TestDispatcher_UnknownPositionIsSkipped(t *testing.T) {
	client := NewMockClient()
	led := ledger.New()
	x, _, _ := newTestDispatcher(client, led)

	for _, action := range []domain.Action{domain.ActionClose, domain.ActionAdjust} {
		err := x.Dispatch(context.Background(), domain.CopyDecision{
			Action: action, SymbolID: 1, SlaveSymbolID: 1001,
			MasterPositionID: 404, Side: domain.SideShort,
			RequestedSlaveVolume: 10_000,
		})
		if err != nil {
			t.Errorf("%s on unknown position: %v", action, err)
		}
	}
	if len(client.Closes) != 0 || client.OrderCount() != 0 {
		t.Error("venue called for unknown position")
	}
}

func TestDispatcher_ZeroVolumeOpenSkipped(t *testing.T) {
	client := NewMockClient()
	led := ledger.New()
	x, _, _ := newTestDispatcher(client, led)

	if err := x.Dispatch(context.Background(), openDecision(0)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if client.OrderCount() != 0 {
		t.Error("zero-volume open reached the venue")
	}
}
