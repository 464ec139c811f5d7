package domain

import "trade_copier/pkg/quant"

// CopyRecord is one journaled dispatch outcome, written after the
// venue's verdict is known. The journal is an audit trail, never a
// recovery source: state is rebuilt from live positions on reconnect.
type CopyRecord struct {
	Timestamp        quant.TimeStamp
	Action           string
	MasterPositionID int64
	SymbolID         int64
	RequestedVolume  quant.LotMicros
	Accepted         bool
	SlavePositionID  int64
	Error            string
	Attempts         int
}
