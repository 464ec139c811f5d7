package ctrader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"trade_copier/internal/domain"
	"trade_copier/internal/infra"
	"trade_copier/pkg/quant"
)

const defaultRequestTimeout = 15 * time.Second

// Config carries connection parameters and credentials.
type Config struct {
	URL            string
	ClientID       string
	ClientSecret   string
	AccessToken    string
	RequestTimeout time.Duration
}

// gatewayError is a PROTO_OA_ERROR_RES surfaced as a Go error.
type gatewayError struct {
	Code        string
	Description string
}

func (e *gatewayError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Client is the single shared gateway connection. Both accounts ride
// on it; the gateway multiplexes by ctidTraderAccountId. Requests are
// correlated by clientMsgId; master execution events stream to sink.
type Client struct {
	log *slog.Logger
	cfg Config

	sinkMu sync.RWMutex
	sink   func(domain.ExecutionEvent)

	worker      *infra.BaseWSWorker
	dataLimiter *infra.RateLimiter

	// OnSpot, when set, receives slave quote updates in price micros.
	OnSpot func(symbolID, bidMicros, askMicros int64)

	mu      sync.Mutex
	pending map[string]chan Envelope

	msgSeq       atomic.Uint64
	syntheticSeq atomic.Uint64
	epoch        atomic.Uint64
	execAccount  atomic.Int64
	slaveAccount atomic.Int64
}

// NewClient builds an unconnected client. sink receives master
// execution events once SubscribeExecutionEvents selects the account.
func NewClient(log *slog.Logger, cfg Config, sink func(domain.ExecutionEvent)) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	c := &Client{
		log:         log,
		cfg:         cfg,
		sink:        sink,
		dataLimiter: infra.NewDataLimiter(),
		pending:     make(map[string]chan Envelope),
	}
	c.worker = infra.NewBaseWSWorker(c)
	return c
}

// GetURL implements infra.WebSocketHandler.
func (c *Client) GetURL() string { return c.cfg.URL }

// ID implements infra.WebSocketHandler.
func (c *Client) ID() string { return "CTRADER" }

// OnConnect implements infra.WebSocketHandler. Authentication is the
// session coordinator's job, so nothing happens here.
func (c *Client) OnConnect(context.Context, *websocket.Conn) error { return nil }

// OnPing implements infra.WebSocketHandler: the gateway expects an
// application-level heartbeat rather than a WS ping frame.
func (c *Client) OnPing(context.Context, *websocket.Conn) error {
	raw, err := json.Marshal(Envelope{PayloadType: ptHeartbeatEvent, Payload: json.RawMessage(`{}`)})
	if err != nil {
		return err
	}
	return c.worker.Write(websocket.TextMessage, raw)
}

// Connect dials the gateway.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.pending = make(map[string]chan Envelope)
	c.mu.Unlock()

	if err := c.worker.Connect(ctx); err != nil {
		return &domain.TransportError{Op: "connect", Err: err}
	}
	return nil
}

// Run pumps inbound messages until the connection drops.
func (c *Client) Run(ctx context.Context) error {
	err := c.worker.Run(ctx)
	c.failPending()
	return err
}

// Close tears the connection down and fails all waiters.
func (c *Client) Close() error {
	c.worker.Close()
	c.failPending()
	return nil
}

func (c *Client) failPending() {
	c.mu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// OnMessage implements infra.WebSocketHandler.
func (c *Client) OnMessage(_ context.Context, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.log.Warn("[ERROR] unparseable gateway message", slog.String("error", err.Error()))
		return
	}

	if env.PayloadType == ptHeartbeatEvent {
		return
	}

	if env.ClientMsgID != "" {
		c.mu.Lock()
		ch, ok := c.pending[env.ClientMsgID]
		if ok {
			delete(c.pending, env.ClientMsgID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
			return
		}
	}

	switch env.PayloadType {
	case ptExecutionEvent:
		c.handleExecutionEvent(env.Payload)
	case ptSpotEvent:
		c.handleSpotEvent(env.Payload)
	case ptOrderErrorEvent:
		var oe orderErrorEvent
		if err := json.Unmarshal(env.Payload, &oe); err == nil {
			c.log.Warn("[ERROR] unsolicited order error",
				slog.Int64("account_id", oe.CtidTraderAccountID),
				slog.String("code", oe.ErrorCode))
		}
	default:
		c.log.Debug("gateway message ignored", slog.String("payload_type", env.PayloadType))
	}
}

func (c *Client) handleExecutionEvent(raw json.RawMessage) {
	var ev executionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.Warn("[ERROR] unparseable execution event", slog.String("error", err.Error()))
		return
	}
	if ev.CtidTraderAccountID != c.execAccount.Load() {
		return
	}
	c.sinkMu.RLock()
	sink := c.sink
	c.sinkMu.RUnlock()
	if sink == nil {
		return
	}
	sink(c.toDomainEvent(ev))
}

// SetSink replaces the execution event consumer. Safe to call before
// or between sessions.
func (c *Client) SetSink(sink func(domain.ExecutionEvent)) {
	c.sinkMu.Lock()
	c.sink = sink
	c.sinkMu.Unlock()
}

// toDomainEvent flattens the gateway shape. Position data is preferred
// over the deal because closing deals carry the opposite trade side.
func (c *Client) toDomainEvent(ev executionEvent) domain.ExecutionEvent {
	out := domain.ExecutionEvent{
		Kind:  kindFromWire(ev.ExecutionType),
		Epoch: c.epoch.Load(),
	}

	if ev.Deal != nil {
		out.MasterPositionID = ev.Deal.PositionID
		out.SymbolID = ev.Deal.SymbolID
		out.Side = sideFromWire(ev.Deal.TradeSide)
		delta := ev.Deal.FilledVolume
		if delta == 0 {
			delta = ev.Deal.Volume
		}
		out.VolumeDelta = fromWireVolume(delta)
		out.Timestamp = quant.TimeStamp(ev.Deal.ExecutionTimestamp)
		out.SeqNo = uint64(ev.Deal.DealID)
		// A deal with close detail but no position snapshot means the
		// position is gone.
		if len(ev.Deal.ClosePositionDetail) > 0 {
			out.ResultingVolume = 0
		}
	}
	if ev.Position != nil {
		out.MasterPositionID = ev.Position.PositionID
		out.SymbolID = ev.Position.TradeData.SymbolID
		out.Side = sideFromWire(ev.Position.TradeData.TradeSide)
		out.ResultingVolume = fromWireVolume(ev.Position.TradeData.Volume)
		if ev.Position.PositionStatus == "POSITION_STATUS_CLOSED" {
			out.ResultingVolume = 0
		}
	}
	if out.SeqNo == 0 {
		out.SeqNo = c.syntheticSeq.Add(1) | 1<<63
	}
	return out
}

func (c *Client) handleSpotEvent(raw json.RawMessage) {
	if c.OnSpot == nil {
		return
	}
	var ev spotEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	c.OnSpot(ev.SymbolID, int64(fromWirePrice(ev.Bid)), int64(fromWirePrice(ev.Ask)))
}

// request sends one correlated request and waits for its reply.
func (c *Client) request(ctx context.Context, payloadType string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	id := "m-" + strconv.FormatUint(c.msgSeq.Add(1), 10)
	raw, err := json.Marshal(Envelope{ClientMsgID: id, PayloadType: payloadType, Payload: body})
	if err != nil {
		return Envelope{}, err
	}

	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	unregister := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.worker.Write(websocket.TextMessage, raw); err != nil {
		unregister()
		return Envelope{}, &domain.TransportError{Op: payloadType, Err: err}
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		unregister()
		return Envelope{}, ctx.Err()
	case <-timer.C:
		unregister()
		return Envelope{}, &domain.TransportError{Op: payloadType, Err: errors.New("request timed out")}
	case env, ok := <-ch:
		if !ok {
			return Envelope{}, &domain.TransportError{Op: payloadType, Err: errors.New("connection closed")}
		}
		if env.PayloadType == ptErrorRes {
			var ge errorRes
			_ = json.Unmarshal(env.Payload, &ge)
			return env, &gatewayError{Code: ge.ErrorCode, Description: ge.Description}
		}
		return env, nil
	}
}

// AuthenticateApplication performs client-credential auth. A gateway
// rejection is fatal and reported as AuthError.
func (c *Client) AuthenticateApplication(ctx context.Context) error {
	_, err := c.request(ctx, ptApplicationAuthReq, applicationAuthReq{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
	})
	return authErr("application", err)
}

// AuthorizeAccount binds the access token to one trading account.
func (c *Client) AuthorizeAccount(ctx context.Context, accountID int64) error {
	_, err := c.request(ctx, ptAccountAuthReq, accountAuthReq{
		CtidTraderAccountID: accountID,
		AccessToken:         c.cfg.AccessToken,
	})
	return authErr("account", err)
}

func authErr(stage string, err error) error {
	var ge *gatewayError
	if errors.As(err, &ge) {
		return &domain.AuthError{Stage: stage, Reason: ge.Error()}
	}
	return err
}

// SubscribeExecutionEvents selects the account whose execution stream
// feeds the copier, stamped with the given connection epoch. The
// gateway pushes execution events for every authorized account; this
// sets the filter.
func (c *Client) SubscribeExecutionEvents(_ context.Context, accountID int64, epoch uint64) error {
	c.execAccount.Store(accountID)
	c.epoch.Store(epoch)
	return nil
}

// SubscribeSpots asks for quote updates on the given slave symbols,
// used to keep pip-value conversion current.
func (c *Client) SubscribeSpots(ctx context.Context, accountID int64, symbolIDs []int64) error {
	if len(symbolIDs) == 0 {
		return nil
	}
	if err := c.dataLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.request(ctx, ptSubscribeSpotsReq, subscribeSpotsReq{
		CtidTraderAccountID: accountID,
		SymbolID:            symbolIDs,
	})
	return err
}

// SendMarketOrder places a market order and waits for the gateway's
// verdict on it.
func (c *Client) SendMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	env, err := c.request(ctx, ptNewOrderReq, newOrderReq{
		CtidTraderAccountID: c.tradeAccount(),
		SymbolID:            req.SymbolID,
		OrderType:           "MARKET",
		TradeSide:           sideToWire(req.Side),
		Volume:              toWireVolume(req.Volume),
		Comment:             req.Comment,
	})
	return c.orderOutcome(env, err)
}

// ClosePosition closes volume lots of an open slave position.
func (c *Client) ClosePosition(ctx context.Context, positionID int64, volume quant.LotMicros) (domain.OrderOutcome, error) {
	env, err := c.request(ctx, ptClosePositionReq, closePositionReq{
		CtidTraderAccountID: c.tradeAccount(),
		PositionID:          positionID,
		Volume:              toWireVolume(volume),
	})
	out, oerr := c.orderOutcome(env, err)
	if oerr == nil && out.Accepted && out.SlavePositionID == 0 {
		out.SlavePositionID = positionID
	}
	return out, oerr
}

// orderOutcome maps the reply to a confirmed outcome. Rejections are
// outcomes, not errors; only transport failures return an error.
func (c *Client) orderOutcome(env Envelope, err error) (domain.OrderOutcome, error) {
	if err != nil {
		var ge *gatewayError
		if errors.As(err, &ge) {
			return domain.OrderOutcome{Accepted: false, ErrorKind: ge.Code}, nil
		}
		return domain.OrderOutcome{}, err
	}

	switch env.PayloadType {
	case ptOrderErrorEvent:
		var oe orderErrorEvent
		_ = json.Unmarshal(env.Payload, &oe)
		return domain.OrderOutcome{Accepted: false, ErrorKind: oe.ErrorCode}, nil

	case ptExecutionEvent:
		var ev executionEvent
		if uerr := json.Unmarshal(env.Payload, &ev); uerr != nil {
			return domain.OrderOutcome{}, &domain.TransportError{Op: "order reply", Err: uerr}
		}
		kind := kindFromWire(ev.ExecutionType)
		if kind == domain.EventOrderRejected || kind == domain.EventOrderCancelled || kind == domain.EventOrderExpired {
			code := ev.ErrorCode
			if code == "" {
				code = ev.ExecutionType
			}
			return domain.OrderOutcome{Accepted: false, ErrorKind: code}, nil
		}
		out := domain.OrderOutcome{Accepted: true}
		if ev.Position != nil {
			out.SlavePositionID = ev.Position.PositionID
		} else if ev.Deal != nil {
			out.SlavePositionID = ev.Deal.PositionID
		}
		return out, nil

	default:
		return domain.OrderOutcome{}, &domain.TransportError{
			Op:  "order reply",
			Err: fmt.Errorf("unexpected payload type %s", env.PayloadType),
		}
	}
}

// tradeAccount is the slave account id, remembered from the last
// authorization: orders only ever go to the account that is not the
// execution source.
func (c *Client) tradeAccount() int64 {
	return c.slaveAccount.Load()
}

// SetTradeAccount selects the account that receives orders.
func (c *Client) SetTradeAccount(accountID int64) {
	c.slaveAccount.Store(accountID)
}

// QuerySymbols loads the instrument catalog for one account.
func (c *Client) QuerySymbols(ctx context.Context, accountID int64) ([]domain.SymbolSpec, error) {
	if err := c.dataLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	env, err := c.request(ctx, ptSymbolsListReq, accountScopedReq{CtidTraderAccountID: accountID})
	if err != nil {
		return nil, err
	}
	var res symbolsListRes
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		return nil, &domain.TransportError{Op: "symbols list", Err: err}
	}

	specs := make([]domain.SymbolSpec, 0, len(res.Symbol))
	for _, s := range res.Symbol {
		specs = append(specs, domain.SymbolSpec{
			SymbolID:     s.SymbolID,
			Name:         s.SymbolName,
			Digits:       s.Digits,
			PipPosition:  s.PipPosition,
			LotSizeUnits: s.LotSize,
			StepVolume:   fromWireVolume(s.StepVolume),
			BaseAssetID:  s.BaseAssetID,
			QuoteAssetID: s.QuoteAssetID,
		})
	}
	return specs, nil
}

// QueryOpenPositions reconciles the live open positions of one account.
func (c *Client) QueryOpenPositions(ctx context.Context, accountID int64) ([]domain.LivePosition, error) {
	if err := c.dataLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	env, err := c.request(ctx, ptReconcileReq, accountScopedReq{CtidTraderAccountID: accountID})
	if err != nil {
		return nil, err
	}
	var res reconcileRes
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		return nil, &domain.TransportError{Op: "reconcile", Err: err}
	}

	out := make([]domain.LivePosition, 0, len(res.Position))
	for _, p := range res.Position {
		if p.TradeData.Volume <= 0 {
			continue
		}
		out = append(out, domain.LivePosition{
			PositionID: p.PositionID,
			SymbolID:   p.TradeData.SymbolID,
			Side:       sideFromWire(p.TradeData.TradeSide),
			Volume:     fromWireVolume(p.TradeData.Volume),
			OpenedAt:   quant.TimeStamp(p.TradeData.OpenTimestamp),
		})
	}
	return out, nil
}

// QueryTrader fetches the account snapshot (balance in cents).
func (c *Client) QueryTrader(ctx context.Context, accountID int64) (domain.AccountSnapshot, error) {
	if err := c.dataLimiter.Wait(ctx); err != nil {
		return domain.AccountSnapshot{}, err
	}
	env, err := c.request(ctx, ptTraderReq, accountScopedReq{CtidTraderAccountID: accountID})
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	var res traderRes
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		return domain.AccountSnapshot{}, &domain.TransportError{Op: "trader", Err: err}
	}
	return domain.AccountSnapshot{
		AccountID:    res.Trader.CtidTraderAccountID,
		BalanceCents: quant.MoneyCents(res.Trader.Balance),
		DepositAsset: res.Trader.DepositAssetID,
	}, nil
}
