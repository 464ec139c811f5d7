// Package session drives the connection lifecycle: connect,
// application auth, account authorization, catalog and ledger
// reconciliation, subscription, then steady-state copying. On any
// drop it reconnects with exponential backoff and replays the whole
// sequence under a new epoch.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"trade_copier/internal/domain"
	"trade_copier/internal/infra"
	"trade_copier/internal/ledger"
	"trade_copier/internal/symbols"
)

// State is the coordinator's lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAppAuthenticated
	StateAccountsAuthorized
	StateSubscribed
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAppAuthenticated:
		return "APP_AUTHENTICATED"
	case StateAccountsAuthorized:
		return "ACCOUNTS_AUTHORIZED"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Client is the venue connection the coordinator drives. One shared
// connection serves both accounts; the venue multiplexes by account id.
type Client interface {
	Connect(ctx context.Context) error
	// Run blocks until the connection drops or ctx is cancelled.
	Run(ctx context.Context) error
	Close() error

	AuthenticateApplication(ctx context.Context) error
	AuthorizeAccount(ctx context.Context, accountID int64) error
	SubscribeExecutionEvents(ctx context.Context, accountID int64, epoch uint64) error

	QuerySymbols(ctx context.Context, accountID int64) ([]domain.SymbolSpec, error)
	QueryOpenPositions(ctx context.Context, accountID int64) ([]domain.LivePosition, error)
	QueryTrader(ctx context.Context, accountID int64) (domain.AccountSnapshot, error)
}

// spotSubscriber is implemented by clients that can stream slave
// quotes. Optional: sizing falls back gracefully without prices.
type spotSubscriber interface {
	SubscribeSpots(ctx context.Context, accountID int64, symbolIDs []int64) error
}

// Config carries the account pair and reconciliation bounds.
type Config struct {
	MasterAccountID int64
	SlaveAccountID  int64
	MaxRatioMicros  int64 // plausibility bound for rebuild pairing
}

// Coordinator owns the session state machine.
type Coordinator struct {
	log     *slog.Logger
	client  Client
	catalog *symbols.Catalog
	ledger  *ledger.Ledger
	cfg     Config

	// OnUnpaired, when set, receives the new session epoch and the
	// master positions the rebuild could not pair. They are not
	// tracked; the copier mirrors them as fresh opens.
	OnUnpaired func(epoch uint64, masters []domain.LivePosition)

	state atomic.Int32
	epoch atomic.Uint64

	sleep func(context.Context, time.Duration) error
}

// NewCoordinator wires the lifecycle driver.
func NewCoordinator(log *slog.Logger, client Client, catalog *symbols.Catalog, led *ledger.Ledger, cfg Config) *Coordinator {
	return &Coordinator{
		log:     log,
		client:  client,
		catalog: catalog,
		ledger:  led,
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State returns the current lifecycle phase.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Epoch returns the current connection epoch. Incremented once per
// successful reconnect, before events start flowing.
func (c *Coordinator) Epoch() uint64 {
	return c.epoch.Load()
}

func (c *Coordinator) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.Info("[SESSION] state changed",
			slog.String("from", old.String()),
			slog.String("to", s.String()))
	}
}

// Run loops sessions until ctx is cancelled or authentication fails.
// Credential rejection is fatal: retrying bad credentials only burns
// the venue's goodwill.
func (c *Coordinator) Run(ctx context.Context) error {
	retry := 0
	for {
		err := c.runSession(ctx)
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			c.log.Error("[SESSION] authentication failed, not retrying",
				slog.String("stage", authErr.Stage),
				slog.String("reason", authErr.Reason))
			return err
		}

		delay := infra.CalculateBackoff(retry)
		retry++
		c.log.Warn("[SESSION] connection lost, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", delay),
			slog.Int("retry", retry))
		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
		// A session that reached RUNNING resets the backoff ladder.
		if c.ranOnce(err) {
			retry = 0
		}
	}
}

// ranOnce reports whether the last session made it to steady state.
// A nil error means Run returned because the peer closed cleanly.
func (c *Coordinator) ranOnce(err error) bool {
	var phase *phaseError
	return err == nil || !errors.As(err, &phase)
}

// phaseError marks a failure in session establishment, before RUNNING.
type phaseError struct {
	phase string
	err   error
}

func (e *phaseError) Error() string { return e.phase + ": " + e.err.Error() }
func (e *phaseError) Unwrap() error { return e.err }

func (c *Coordinator) runSession(ctx context.Context) error {
	c.setState(StateConnecting)
	if err := c.client.Connect(ctx); err != nil {
		return &phaseError{"connect", err}
	}
	defer c.client.Close()

	if err := c.client.AuthenticateApplication(ctx); err != nil {
		return c.establishErr("app auth", err)
	}
	c.setState(StateAppAuthenticated)

	for _, acct := range []int64{c.cfg.MasterAccountID, c.cfg.SlaveAccountID} {
		if err := c.client.AuthorizeAccount(ctx, acct); err != nil {
			return c.establishErr(fmt.Sprintf("authorize account %d", acct), err)
		}
	}
	c.setState(StateAccountsAuthorized)

	unpaired, err := c.reconcile(ctx)
	if err != nil {
		return c.establishErr("reconcile", err)
	}

	// Unpaired masters go in under the new epoch, ahead of the
	// subscription, so their opens precede any live fill for the same
	// position.
	epoch := c.epoch.Add(1)
	if len(unpaired) > 0 && c.OnUnpaired != nil {
		c.OnUnpaired(epoch, unpaired)
	}

	if err := c.client.SubscribeExecutionEvents(ctx, c.cfg.MasterAccountID, epoch); err != nil {
		return c.establishErr("subscribe", err)
	}
	c.setState(StateSubscribed)

	c.setState(StateRunning)
	c.log.Info("[SESSION] copying live",
		slog.Uint64("epoch", epoch),
		slog.Int("tracked_pairs", c.ledger.Len()))

	return c.client.Run(ctx)
}

// establishErr keeps AuthError visible through the phase wrapper so
// Run can distinguish fatal credential problems from transport noise.
func (c *Coordinator) establishErr(phase string, err error) error {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return &phaseError{phase, err}
}

// reconcile refreshes the catalog, the slave snapshot, and rebuilds
// the position ledger from live queries on both accounts. Returns the
// master positions the rebuild could not pair.
func (c *Coordinator) reconcile(ctx context.Context) ([]domain.LivePosition, error) {
	masterSyms, err := c.client.QuerySymbols(ctx, c.cfg.MasterAccountID)
	if err != nil {
		return nil, fmt.Errorf("master symbols: %w", err)
	}
	slaveSyms, err := c.client.QuerySymbols(ctx, c.cfg.SlaveAccountID)
	if err != nil {
		return nil, fmt.Errorf("slave symbols: %w", err)
	}
	c.catalog.Update(masterSyms, slaveSyms)

	// Quote updates keep pip-value sizing honest; failure to subscribe
	// is not worth a reconnect.
	if sub, ok := c.client.(spotSubscriber); ok {
		if err := sub.SubscribeSpots(ctx, c.cfg.SlaveAccountID, c.catalog.SlaveIDs()); err != nil {
			c.log.Warn("[SESSION] spot subscription failed",
				slog.String("error", err.Error()))
		}
	}

	snap, err := c.client.QueryTrader(ctx, c.cfg.SlaveAccountID)
	if err != nil {
		return nil, fmt.Errorf("slave trader: %w", err)
	}
	c.catalog.SetSnapshot(snap)

	masters, err := c.client.QueryOpenPositions(ctx, c.cfg.MasterAccountID)
	if err != nil {
		return nil, fmt.Errorf("master positions: %w", err)
	}
	slaves, err := c.client.QueryOpenPositions(ctx, c.cfg.SlaveAccountID)
	if err != nil {
		return nil, fmt.Errorf("slave positions: %w", err)
	}

	return c.ledger.Rebuild(c.log, masters, slaves, c.catalog.ToSlave, c.cfg.MaxRatioMicros), nil
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}
