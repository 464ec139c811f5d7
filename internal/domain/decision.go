package domain

import "trade_copier/pkg/quant"

// Action is what the dispatcher should do with a classified event.
type Action int

const (
	ActionOpen Action = iota + 1
	ActionAdjust
	ActionClose
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "OPEN"
	case ActionAdjust:
		return "ADJUST"
	case ActionClose:
		return "CLOSE"
	case ActionSkip:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}

// Skip reasons. Reported in logs and the copy journal, never fatal.
const (
	ReasonDuplicate            = "DUPLICATE"
	ReasonNotPositionImpacting = "NOT_POSITION_IMPACTING"
	ReasonUnknownPosition      = "UNKNOWN_POSITION"
)

// CopyDecision is the classifier's verdict on one execution event.
// For OPEN/ADJUST the copier fills RequestedSlaveVolume and SlaveSymbolID
// before handing it to the dispatcher.
type CopyDecision struct {
	Action               Action
	SymbolID             int64 // master catalog id
	SlaveSymbolID        int64 // resolved for the slave catalog
	MasterPositionID     int64
	Side                 Side
	MasterVolume         quant.LotMicros // resulting master volume (OPEN/ADJUST)
	RequestedSlaveVolume quant.LotMicros
	Reason               string
}
