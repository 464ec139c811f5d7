// Package ctrader speaks the cTrader Open API JSON gateway: one
// WebSocket connection multiplexing both accounts, request/response
// correlation by clientMsgId, and the execution event stream.
package ctrader

import (
	"encoding/json"

	"trade_copier/internal/domain"
	"trade_copier/pkg/quant"
)

// Envelope is the outer frame of every gateway message.
type Envelope struct {
	ClientMsgID string          `json:"clientMsgId,omitempty"`
	PayloadType string          `json:"payloadType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Gateway payload types.
const (
	ptHeartbeatEvent = "PROTO_OA_HEARTBEAT_EVENT"

	ptApplicationAuthReq = "PROTO_OA_APPLICATION_AUTH_REQ"
	ptApplicationAuthRes = "PROTO_OA_APPLICATION_AUTH_RES"
	ptAccountAuthReq     = "PROTO_OA_ACCOUNT_AUTH_REQ"
	ptAccountAuthRes     = "PROTO_OA_ACCOUNT_AUTH_RES"

	ptNewOrderReq      = "PROTO_OA_NEW_ORDER_REQ"
	ptClosePositionReq = "PROTO_OA_CLOSE_POSITION_REQ"
	ptExecutionEvent   = "PROTO_OA_EXECUTION_EVENT"
	ptOrderErrorEvent  = "PROTO_OA_ORDER_ERROR_EVENT"

	ptReconcileReq   = "PROTO_OA_RECONCILE_REQ"
	ptReconcileRes   = "PROTO_OA_RECONCILE_RES"
	ptTraderReq      = "PROTO_OA_TRADER_REQ"
	ptTraderRes      = "PROTO_OA_TRADER_RES"
	ptSymbolsListReq = "PROTO_OA_SYMBOLS_LIST_REQ"
	ptSymbolsListRes = "PROTO_OA_SYMBOLS_LIST_RES"

	ptSubscribeSpotsReq = "PROTO_OA_SUBSCRIBE_SPOTS_REQ"
	ptSpotEvent         = "PROTO_OA_SPOT_EVENT"

	ptErrorRes = "PROTO_OA_ERROR_RES"
)

// Wire units. Volume is in hundredths of a micro-lot grid the gateway
// uses (1000 = 0.01 lot); prices are points of 1e-5.
const (
	volumeWireScale = 10 // lot-micros per wire volume unit
	priceWireScale  = 10 // price-micros per wire price unit
)

func toWireVolume(v quant.LotMicros) int64   { return int64(v) / volumeWireScale }
func fromWireVolume(w int64) quant.LotMicros { return quant.LotMicros(w * volumeWireScale) }

func fromWirePrice(w int64) quant.PriceMicros { return quant.PriceMicros(w * priceWireScale) }

type applicationAuthReq struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type accountAuthReq struct {
	CtidTraderAccountID int64  `json:"ctidTraderAccountId"`
	AccessToken         string `json:"accessToken"`
}

type newOrderReq struct {
	CtidTraderAccountID int64  `json:"ctidTraderAccountId"`
	SymbolID            int64  `json:"symbolId"`
	OrderType           string `json:"orderType"`
	TradeSide           string `json:"tradeSide"`
	Volume              int64  `json:"volume"`
	Comment             string `json:"comment,omitempty"`
}

type closePositionReq struct {
	CtidTraderAccountID int64 `json:"ctidTraderAccountId"`
	PositionID          int64 `json:"positionId"`
	Volume              int64 `json:"volume"`
}

type accountScopedReq struct {
	CtidTraderAccountID int64 `json:"ctidTraderAccountId"`
}

type subscribeSpotsReq struct {
	CtidTraderAccountID int64   `json:"ctidTraderAccountId"`
	SymbolID            []int64 `json:"symbolId"`
}

type wireTradeData struct {
	SymbolID      int64  `json:"symbolId"`
	Volume        int64  `json:"volume"`
	TradeSide     string `json:"tradeSide"`
	OpenTimestamp int64  `json:"openTimestamp"`
}

type wirePosition struct {
	PositionID     int64         `json:"positionId"`
	PositionStatus string        `json:"positionStatus,omitempty"`
	TradeData      wireTradeData `json:"tradeData"`
}

type reconcileRes struct {
	Position []wirePosition `json:"position"`
}

type wireDeal struct {
	DealID              int64           `json:"dealId"`
	PositionID          int64           `json:"positionId"`
	SymbolID            int64           `json:"symbolId"`
	TradeSide           string          `json:"tradeSide"`
	Volume              int64           `json:"volume"`
	FilledVolume        int64           `json:"filledVolume"`
	ExecutionTimestamp  int64           `json:"executionTimestamp"`
	ClosePositionDetail json.RawMessage `json:"closePositionDetail,omitempty"`
}

type executionEvent struct {
	CtidTraderAccountID int64         `json:"ctidTraderAccountId"`
	ExecutionType       string        `json:"executionType"`
	Position            *wirePosition `json:"position,omitempty"`
	Deal                *wireDeal     `json:"deal,omitempty"`
	ErrorCode           string        `json:"errorCode,omitempty"`
}

type orderErrorEvent struct {
	CtidTraderAccountID int64  `json:"ctidTraderAccountId"`
	ErrorCode           string `json:"errorCode"`
	Description         string `json:"description,omitempty"`
}

type wireTrader struct {
	CtidTraderAccountID int64 `json:"ctidTraderAccountId"`
	Balance             int64 `json:"balance"` // cents
	DepositAssetID      int64 `json:"depositAssetId"`
}

type traderRes struct {
	Trader wireTrader `json:"trader"`
}

type wireSymbol struct {
	SymbolID     int64  `json:"symbolId"`
	SymbolName   string `json:"symbolName"`
	Digits       int    `json:"digits"`
	PipPosition  int    `json:"pipPosition"`
	LotSize      int64  `json:"lotSize"`
	StepVolume   int64  `json:"stepVolume"`
	BaseAssetID  int64  `json:"baseAssetId"`
	QuoteAssetID int64  `json:"quoteAssetId"`
}

type symbolsListRes struct {
	Symbol []wireSymbol `json:"symbol"`
}

type spotEvent struct {
	CtidTraderAccountID int64 `json:"ctidTraderAccountId"`
	SymbolID            int64 `json:"symbolId"`
	Bid                 int64 `json:"bid"`
	Ask                 int64 `json:"ask"`
}

type errorRes struct {
	ErrorCode   string `json:"errorCode"`
	Description string `json:"description,omitempty"`
}

func sideToWire(s domain.Side) string {
	if s == domain.SideShort {
		return "SELL"
	}
	return "BUY"
}

func sideFromWire(s string) domain.Side {
	if s == "SELL" {
		return domain.SideShort
	}
	return domain.SideLong
}

func kindFromWire(executionType string) domain.EventKind {
	switch executionType {
	case "ORDER_ACCEPTED":
		return domain.EventOrderAccepted
	case "ORDER_FILLED":
		return domain.EventOrderFilled
	case "ORDER_PARTIAL_FILL":
		return domain.EventOrderPartialFill
	case "ORDER_REJECTED":
		return domain.EventOrderRejected
	case "ORDER_CANCELLED":
		return domain.EventOrderCancelled
	case "ORDER_EXPIRED":
		return domain.EventOrderExpired
	default:
		return 0
	}
}
