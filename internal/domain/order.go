package domain

import "trade_copier/pkg/quant"

// OrderRequest is one outbound attempt against the slave account.
type OrderRequest struct {
	SymbolID         int64 // slave catalog id
	Side             Side
	Volume           quant.LotMicros
	LinkedPositionID int64 // slave position id for CLOSE/ADJUST, 0 for OPEN
	AttemptNo        int
	Comment          string
}

// OrderOutcome is the venue's confirmed result for one request.
type OrderOutcome struct {
	Accepted        bool
	SlavePositionID int64
	ErrorKind       string // empty when accepted
}

// AccountSnapshot carries the slave balance for balance-percentage sizing.
type AccountSnapshot struct {
	AccountID    int64
	BalanceCents quant.MoneyCents
	DepositAsset int64 // deposit asset id, for pip-value conversion
}
