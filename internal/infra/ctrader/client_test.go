package ctrader

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trade_copier/internal/domain"
)

func testLogger() *slog.Logger { return slog.Default() }

// gatewayStub answers requests by payload type and can push
// unsolicited events.
type gatewayStub struct {
	t       *testing.T
	server  *httptest.Server
	replies map[string]func(env Envelope) Envelope

	connCh chan *websocket.Conn
}

func newGatewayStub(t *testing.T) *gatewayStub {
	g := &gatewayStub{
		t:       t,
		replies: map[string]func(Envelope) Envelope{},
		connCh:  make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.connCh <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			if env.PayloadType == ptHeartbeatEvent {
				continue
			}
			if fn, ok := g.replies[env.PayloadType]; ok {
				reply := fn(env)
				raw, _ := json.Marshal(reply)
				conn.WriteMessage(websocket.TextMessage, raw)
			}
		}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *gatewayStub) url() string {
	return strings.Replace(g.server.URL, "http://", "ws://", 1)
}

// push sends an unsolicited event on the accepted connection.
func (g *gatewayStub) push(env Envelope) {
	select {
	case conn := <-g.connCh:
		g.connCh <- conn
		raw, _ := json.Marshal(env)
		conn.WriteMessage(websocket.TextMessage, raw)
	case <-time.After(time.Second):
		g.t.Fatal("no gateway connection to push on")
	}
}

func reply(env Envelope, payloadType string, payload any) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{ClientMsgID: env.ClientMsgID, PayloadType: payloadType, Payload: raw}
}

func startClient(t *testing.T, g *gatewayStub, sink func(domain.ExecutionEvent)) *Client {
	t.Helper()
	c := NewClient(testLogger(), Config{
		URL:            g.url(),
		ClientID:       "cid",
		ClientSecret:   "secret",
		AccessToken:    "token",
		RequestTimeout: 2 * time.Second,
	}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()
	t.Cleanup(func() {
		cancel()
		c.Close()
		<-done
	})
	return c
}

func TestClient_ApplicationAuth(t *testing.T) {
	g := newGatewayStub(t)
	g.replies[ptApplicationAuthReq] = func(env Envelope) Envelope {
		var req applicationAuthReq
		json.Unmarshal(env.Payload, &req)
		if req.ClientID != "cid" || req.ClientSecret != "secret" {
			t.Errorf("auth payload = %+v", req)
		}
		return reply(env, ptApplicationAuthRes, map[string]any{})
	}
	c := startClient(t, g, nil)

	if err := c.AuthenticateApplication(context.Background()); err != nil {
		t.Fatalf("AuthenticateApplication: %v", err)
	}
}

func TestClient_AuthRejectionIsAuthError(t *testing.T) {
	g := newGatewayStub(t)
	g.replies[ptApplicationAuthReq] = func(env Envelope) Envelope {
		return reply(env, ptErrorRes, errorRes{ErrorCode: "CH_CLIENT_AUTH_FAILURE", Description: "bad secret"})
	}
	c := startClient(t, g, nil)

	err := c.AuthenticateApplication(context.Background())
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if authErr.Stage != "application" {
		t.Errorf("Stage = %q", authErr.Stage)
	}
}

func TestClient_SendMarketOrder(t *testing.T) {
	g := newGatewayStub(t)
	g.replies[ptNewOrderReq] = func(env Envelope) Envelope {
		var req newOrderReq
		json.Unmarshal(env.Payload, &req)
		if req.Volume != 5_000 { // 0.05 lot on the wire grid
			t.Errorf("wire volume = %d, want 5000", req.Volume)
		}
		if req.TradeSide != "BUY" || req.OrderType != "MARKET" {
			t.Errorf("order = %+v", req)
		}
		return reply(env, ptExecutionEvent, executionEvent{
			CtidTraderAccountID: 200,
			ExecutionType:       "ORDER_FILLED",
			Position: &wirePosition{
				PositionID: 9001,
				TradeData:  wireTradeData{SymbolID: req.SymbolID, Volume: req.Volume, TradeSide: req.TradeSide},
			},
		})
	}
	c := startClient(t, g, nil)
	c.SetTradeAccount(200)

	out, err := c.SendMarketOrder(context.Background(), domain.OrderRequest{
		SymbolID: 41, Side: domain.SideLong, Volume: 50_000,
	})
	if err != nil {
		t.Fatalf("SendMarketOrder: %v", err)
	}
	if !out.Accepted || out.SlavePositionID != 9001 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestClient_OrderRejection(t *testing.T) {
	g := newGatewayStub(t)
	g.replies[ptNewOrderReq] = func(env Envelope) Envelope {
		return reply(env, ptOrderErrorEvent, orderErrorEvent{
			CtidTraderAccountID: 200, ErrorCode: "NOT_ENOUGH_MONEY",
		})
	}
	c := startClient(t, g, nil)
	c.SetTradeAccount(200)

	out, err := c.SendMarketOrder(context.Background(), domain.OrderRequest{
		SymbolID: 41, Side: domain.SideShort, Volume: 50_000,
	})
	if err != nil {
		t.Fatalf("rejection must not be a transport error: %v", err)
	}
	if out.Accepted || out.ErrorKind != "NOT_ENOUGH_MONEY" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestClient_ExecutionEventStream(t *testing.T) {
	g := newGatewayStub(t)
	events := make(chan domain.ExecutionEvent, 4)
	c := startClient(t, g, func(ev domain.ExecutionEvent) { events <- ev })
	c.SubscribeExecutionEvents(context.Background(), 100, 3)

	g.push(Envelope{PayloadType: ptExecutionEvent, Payload: mustJSON(executionEvent{
		CtidTraderAccountID: 100,
		ExecutionType:       "ORDER_FILLED",
		Position: &wirePosition{
			PositionID: 77,
			TradeData:  wireTradeData{SymbolID: 1, Volume: 10_000, TradeSide: "SELL", OpenTimestamp: 1700000000000},
		},
		Deal: &wireDeal{DealID: 555, PositionID: 77, SymbolID: 1, TradeSide: "SELL", FilledVolume: 10_000, ExecutionTimestamp: 1700000000000},
	})})

	select {
	case ev := <-events:
		if ev.MasterPositionID != 77 || ev.Kind != domain.EventOrderFilled {
			t.Errorf("event = %+v", ev)
		}
		if ev.Side != domain.SideShort {
			t.Errorf("Side = %v, want short", ev.Side)
		}
		if ev.ResultingVolume != 100_000 || ev.VolumeDelta != 100_000 {
			t.Errorf("volumes = %s/%s, want 0.10 lot", ev.VolumeDelta, ev.ResultingVolume)
		}
		if ev.SeqNo != 555 || ev.Epoch != 3 {
			t.Errorf("seq/epoch = %d/%d", ev.SeqNo, ev.Epoch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no execution event delivered")
	}

	// Events from the slave account must not reach the sink.
	g.push(Envelope{PayloadType: ptExecutionEvent, Payload: mustJSON(executionEvent{
		CtidTraderAccountID: 200,
		ExecutionType:       "ORDER_FILLED",
		Deal:                &wireDeal{DealID: 556, PositionID: 9001, SymbolID: 41, TradeSide: "BUY", FilledVolume: 5_000},
	})})
	select {
	case ev := <-events:
		t.Fatalf("slave event leaked to sink: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClient_QueryOpenPositions(t *testing.T) {
	g := newGatewayStub(t)
	g.replies[ptReconcileReq] = func(env Envelope) Envelope {
		return reply(env, ptReconcileRes, reconcileRes{Position: []wirePosition{
			{PositionID: 10, TradeData: wireTradeData{SymbolID: 1, Volume: 10_000, TradeSide: "BUY", OpenTimestamp: 1000}},
			{PositionID: 11, TradeData: wireTradeData{SymbolID: 2, Volume: 0, TradeSide: "SELL"}}, // closed, filtered
		}})
	}
	c := startClient(t, g, nil)

	positions, err := c.QueryOpenPositions(context.Background(), 100)
	if err != nil {
		t.Fatalf("QueryOpenPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %+v, want one open", positions)
	}
	p := positions[0]
	if p.PositionID != 10 || p.Volume != 100_000 || p.Side != domain.SideLong {
		t.Errorf("position = %+v", p)
	}
}

func TestClient_QueryTraderAndSymbols(t *testing.T) {
	g := newGatewayStub(t)
	g.replies[ptTraderReq] = func(env Envelope) Envelope {
		return reply(env, ptTraderRes, traderRes{Trader: wireTrader{
			CtidTraderAccountID: 200, Balance: 1_234_500, DepositAssetID: 2,
		}})
	}
	g.replies[ptSymbolsListReq] = func(env Envelope) Envelope {
		return reply(env, ptSymbolsListRes, symbolsListRes{Symbol: []wireSymbol{
			{SymbolID: 41, SymbolName: "EURUSD", Digits: 5, PipPosition: 4, LotSize: 100000, StepVolume: 1000, QuoteAssetID: 2},
		}})
	}
	c := startClient(t, g, nil)

	snap, err := c.QueryTrader(context.Background(), 200)
	if err != nil {
		t.Fatalf("QueryTrader: %v", err)
	}
	if snap.BalanceCents != 1_234_500 || snap.DepositAsset != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	specs, err := c.QuerySymbols(context.Background(), 200)
	if err != nil {
		t.Fatalf("QuerySymbols: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("specs = %+v", specs)
	}
	if specs[0].StepVolume != 10_000 || specs[0].Name != "EURUSD" {
		t.Errorf("spec = %+v", specs[0])
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
