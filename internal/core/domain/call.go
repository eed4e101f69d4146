package domain

// CallID identifies a single call attempt. It is minted by the caller on
// initiate and echoed through every subsequent signaling message so both
// sides can drop messages of a superseded attempt.
type CallID string

// CallPhase is the per-party view of a call attempt. The relay itself keeps
// no phase; the two clients mirror each other through the message protocol.
type CallPhase string

const (
	PhaseIdle      CallPhase = "idle"
	PhaseCalling   CallPhase = "calling"
	PhaseIncoming  CallPhase = "incoming"
	PhaseConnected CallPhase = "connected"
)

// Terminal returns true when the phase allows no further signaling.
func (p CallPhase) Terminal() bool {
	return p == PhaseIdle
}

// RejectReason values carried in call:rejected. Empty means an explicit
// decline by the callee.
const (
	RejectReasonOffline = "offline"
	RejectReasonBusy    = "busy"
	RejectReasonTimeout = "timeout"
)
