package domain

import "trade_copier/pkg/quant"

// EventKind is the raw execution type reported by the venue.
type EventKind int

const (
	EventOrderAccepted EventKind = iota + 1
	EventOrderFilled
	EventOrderPartialFill
	EventOrderRejected
	EventOrderCancelled
	EventOrderExpired
)

func (k EventKind) String() string {
	switch k {
	case EventOrderAccepted:
		return "ORDER_ACCEPTED"
	case EventOrderFilled:
		return "ORDER_FILLED"
	case EventOrderPartialFill:
		return "ORDER_PARTIAL_FILL"
	case EventOrderRejected:
		return "ORDER_REJECTED"
	case EventOrderCancelled:
		return "ORDER_CANCELLED"
	case EventOrderExpired:
		return "ORDER_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsFill reports whether the event moves position volume.
func (k EventKind) IsFill() bool {
	return k == EventOrderFilled || k == EventOrderPartialFill
}

// ExecutionEvent is one execution notification from the master account.
// Transient and immutable; consumed exactly once by the classifier.
type ExecutionEvent struct {
	MasterPositionID int64
	SymbolID         int64
	Kind             EventKind
	Side             Side
	VolumeDelta      quant.LotMicros // volume moved by this fill
	ResultingVolume  quant.LotMicros // master position volume after the fill
	Timestamp        quant.TimeStamp
	SeqNo            uint64
	Epoch            uint64 // connection epoch the event was delivered in
}
