// Package app wires the copier together: config, logging, journal,
// catalog, ledger, decision pipeline, dispatcher and session driver.
package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"trade_copier/internal/domain"
	"trade_copier/internal/engine"
	"trade_copier/internal/execution"
	"trade_copier/internal/infra"
	"trade_copier/internal/infra/ctrader"
	"trade_copier/internal/ledger"
	"trade_copier/internal/session"
	"trade_copier/internal/sizing"
	"trade_copier/internal/storage"
	"trade_copier/internal/symbols"
	"trade_copier/pkg/quant"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config      *infra.Config
	Journal     *storage.CopyJournal
	Client      *ctrader.Client
	Copier      *engine.Copier
	Coordinator *session.Coordinator
	Catalog     *symbols.Catalog
	Ledger      *ledger.Ledger
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config, sets the logger, opens the journal and
// builds the full pipeline. Nothing connects yet: Run does that.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	infra.PrintBanner(cfg)

	journalPath := cfg.Journal.Path
	if journalPath == "" {
		journalPath = "copies.db"
	}
	journal, err := storage.NewCopyJournal(journalPath)
	if err != nil {
		return err
	}
	b.Journal = journal
	slog.Info("✅ Copy journal initialized (WAL-mode)", "path", journalPath)

	b.Catalog = symbols.NewCatalog(cfg.Copy.SymbolAliases)
	b.Ledger = ledger.New()

	b.Client = ctrader.NewClient(logger, ctrader.Config{
		URL:          cfg.API.WSURL,
		ClientID:     cfg.API.ClientID,
		ClientSecret: cfg.API.ClientSecret,
		AccessToken:  cfg.API.AccessToken,
	}, nil) // sink wired below, after the copier exists
	b.Client.SetTradeAccount(cfg.Accounts.SlaveID)
	b.Client.OnSpot = b.Catalog.UpdatePrices

	minVolume := quant.ToLotMicros(cfg.Copy.MinLotSize)
	dispatcher := execution.NewDispatcher(logger, b.Client, b.Ledger, b.Catalog, journal, minVolume)

	calc := sizing.NewCalculator(sizingConfig(cfg, minVolume))
	b.Copier = engine.NewCopier(logger, b.Catalog, b.Catalog, b.Catalog, calc, b.Ledger, dispatcher, cfg.Copy.Workers)

	maxRatio := int64(2_000_000)
	if cfg.Copy.MaxMultiplier > 0 {
		maxRatio = decimal.NewFromFloat(cfg.Copy.MaxMultiplier).Mul(decimal.NewFromInt(quant.LotScale)).IntPart()
	}
	b.Coordinator = session.NewCoordinator(logger, b.Client, b.Catalog, b.Ledger, session.Config{
		MasterAccountID: cfg.Accounts.MasterID,
		SlaveAccountID:  cfg.Accounts.SlaveID,
		MaxRatioMicros:  maxRatio,
	})

	return nil
}

// Run starts the decision pipeline and the session driver and blocks
// until ctx is cancelled or authentication fails. Shutdown is ordered:
// the copier drains its queues and finishes in-flight dispatches on
// their bounded grace budget before the transport closes.
func (b *Bootstrap) Run(ctx context.Context) error {
	// The client feeds master fills straight into the copier.
	b.Client.SetSink(func(ev domain.ExecutionEvent) {
		if err := b.Copier.Submit(ctx, ev); err != nil {
			slog.Warn("[ERROR] event not enqueued", slog.String("error", err.Error()))
		}
	})
	// Masters the reconnect rebuild could not pair are mirrored as
	// fresh opens through the same pipeline.
	b.Coordinator.OnUnpaired = func(epoch uint64, masters []domain.LivePosition) {
		b.Copier.SubmitUnpaired(ctx, masters, epoch)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Copier.Run(runCtx)
	}()

	coordErr := make(chan error, 1)
	go func() { coordErr <- b.Coordinator.Run(runCtx) }()

	var err error
	coordDone := false
	select {
	case err = <-coordErr:
		coordDone = true
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Stop intake, let queued decisions dispatch, then drop the
	// connection. Closing the client first would cut orders off mid
	// flight.
	cancel()
	wg.Wait()
	b.Client.Close()
	if !coordDone {
		<-coordErr
	}
	return err
}

// Close releases held resources.
func (b *Bootstrap) Close() {
	if b.Journal != nil {
		b.Journal.Close()
	}
	if b.Client != nil {
		b.Client.Close()
	}
}

func sizingConfig(cfg *infra.Config, minVolume quant.LotMicros) sizing.Config {
	table := make(map[string]decimal.Decimal, len(cfg.Copy.SymbolMultipliers))
	for name, mult := range cfg.Copy.SymbolMultipliers {
		table[name] = decimal.NewFromFloat(mult)
	}
	return sizing.Config{
		Policy:             sizing.PolicyKind(cfg.Copy.Policy),
		GlobalMultiplier:   decimal.NewFromFloat(cfg.Copy.GlobalMultiplier),
		SymbolMultipliers:  table,
		DefaultMultiplier:  decimal.NewFromFloat(cfg.Copy.DefaultMultiplier),
		BalancePercent:     decimal.NewFromFloat(cfg.Copy.BalancePercent),
		MicroLotsPerDollar: decimal.NewFromFloat(cfg.Copy.MicroLotsPerDollar),
		PipVolumeRatio:     decimal.NewFromFloat(cfg.Copy.PipVolumeRatio),
		MinVolume:          minVolume,
		MaxMultiplier:      decimal.NewFromFloat(cfg.Copy.MaxMultiplier),
	}
}
