package ash

// Reset/error reason codes used on the wire.
const (
	ReasonPowerOn       uint8 = 0x02
	ReasonMaxAckTimeout uint8 = 0x51
	ashProtocolVersion  uint8 = 2
)

// LinkStateKind tags the two LinkState cases.
type LinkStateKind int

const (
	LinkFailed LinkStateKind = iota
	LinkConnected
)

// LinkState is the connection lifecycle state of one AshLinkStateMachine.
// Failed carries Reason; Connected carries Reject/Inflight/Acked. It is
// created at task start as Failed{0x02} and mutated in place as frames
// arrive; it has no lifetime beyond its owning Link task.
type LinkState struct {
	Kind LinkStateKind

	// Failed fields.
	Reason uint8

	// Connected fields.
	Reject   bool
	Inflight FrameNumber
	Acked    FrameNumber
}

// NewLinkState returns the initial Failed{reason=power-on} state.
func NewLinkState() LinkState {
	return LinkState{Kind: LinkFailed, Reason: ReasonPowerOn}
}

// Outcome describes the side effects the Link task must carry out after
// StateMachine processes one input. Fields are independent — more than one
// may be set on a single Outcome (e.g. a successful DATA both delivers a
// payload and schedules an ACK).
type Outcome struct {
	// Send holds frames to write back to the host, in order.
	Send []Frame
	// Deliver holds an EZSP payload to forward to the NcpActor, or nil.
	Deliver []byte
	// ScheduleAck is true when a new ACK is now owed to the host (the Link
	// task piggybacks it on the next outbound DATA or sends it standalone
	// after a bounded ACK delay).
	ScheduleAck bool
	// HostAck, when non-nil, is the ack_num the host just reported (via a
	// piggybacked DATA.ack_num, or a standalone ACK/NAK) — the Link task
	// forwards it to the outbound sliding-window transmitter to retire
	// acknowledged frames.
	HostAck *FrameNumber
	// HostNak is set instead of/alongside HostAck when the host's frame was
	// specifically a NAK, signalling the outbound transmitter to retransmit
	// starting at *HostNak.
	HostNak *FrameNumber
	// NeedsReset is true when the caller must invoke the NcpActor's reset
	// and call CompleteReset with the resulting reason code.
	NeedsReset bool
	// ProtocolViolation is true when an unknown frame type arrived while
	// Connected; the Link task transitions the machine to Failed.
	ProtocolViolation bool
}

// StateMachine is the host-facing half of ASH: it receives frames from the
// host and sends acknowledgements, and hands host DATA payloads onward to
// the NcpActor.
type StateMachine struct {
	state LinkState
}

// NewStateMachine returns a machine in the initial Failed state.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: NewLinkState()}
}

// State returns the current LinkState (a copy — LinkState is a small value type).
func (m *StateMachine) State() LinkState {
	return m.state
}

// HandleFailed processes one incoming frame while in the Failed state.
// RstFrame triggers NeedsReset (see CompleteReset); everything else gets an
// Error reply and the machine remains Failed.
func (m *StateMachine) HandleFailed(f Frame) Outcome {
	if _, isRst := f.(RstFrame); isRst {
		return Outcome{NeedsReset: true}
	}
	return Outcome{Send: []Frame{ErrorFrame{Version: ashProtocolVersion, Code: m.state.Reason}}}
}

// CompleteReset finishes the RST/RSTACK handshake (invoked by the Link task
// after calling the NcpActor's reset and obtaining resetCode), sending
// RSTACK and transitioning to Connected{reject:false, inflight:0, acked:0}.
// This is also how a host-initiated RST received while already Connected is
// handled — ASH permits RST at any time to force resynchronisation.
func (m *StateMachine) CompleteReset(resetCode uint8) Outcome {
	m.state = LinkState{Kind: LinkConnected}
	return Outcome{Send: []Frame{RstAckFrame{Version: ashProtocolVersion, Code: resetCode}}}
}

// HandleRstWhileConnected mirrors HandleFailed's RST case for a host RST
// received while already Connected: the caller should invoke the same
// NeedsReset / CompleteReset sequence.
func (m *StateMachine) HandleRstWhileConnected() Outcome {
	return Outcome{NeedsReset: true}
}

// FailReset records that the NcpActor's reset attempt itself failed: the
// machine stays Failed under the new reason and replies Error, leaving the
// host free to retry RST.
func (m *StateMachine) FailReset(reason uint8) Outcome {
	m.state = LinkState{Kind: LinkFailed, Reason: reason}
	return Outcome{Send: []Frame{ErrorFrame{Version: ashProtocolVersion, Code: reason}}}
}

// HandleData processes a DATA frame received while Connected.
func (m *StateMachine) HandleData(d DataFrame) Outcome {
	expected := m.state.Inflight.Add(1)

	if d.FrmNum != expected {
		return m.nakFor(d.FrmNum)
	}

	// Window-exhaustion guard: structurally (inflight-acked) is always in
	// [0,7] under 3-bit modular arithmetic, so this can never trip in
	// practice, but the check is kept as a defensive backstop.
	if m.state.Inflight.Sub(m.state.Acked) > 7 {
		return m.nakFor(d.FrmNum)
	}

	m.state.Inflight = expected
	m.state.Reject = false

	ackNum := d.AckNum
	return Outcome{
		Deliver:     d.Body,
		ScheduleAck: true,
		HostAck:     &ackNum,
	}
}

// HandleBadData treats a checksum/length failure on what looked like a DATA
// frame exactly as an out-of-sequence DATA: set reject and NAK frmNum,
// unconditionally.
func (m *StateMachine) HandleBadData(frmNum FrameNumber) Outcome {
	return m.nakFor(frmNum)
}

// HandleHostAck processes a standalone ACK from the host, destined for
// the outbound sliding-window transmitter; it does not touch Connected's
// inbound inflight/acked bookkeeping.
func (m *StateMachine) HandleHostAck(a AckFrame) Outcome {
	ackNum := a.AckNum
	return Outcome{HostAck: &ackNum}
}

// HandleHostNak processes a standalone NAK from the host.
func (m *StateMachine) HandleHostNak(n NakFrame) Outcome {
	nakNum := n.AckNum
	return Outcome{HostNak: &nakNum}
}

// HandleUnknownWhileConnected marks an unknown frame type received while
// Connected as a protocol violation; the Link task transitions to Failed.
func (m *StateMachine) HandleUnknownWhileConnected(reason uint8) Outcome {
	m.state = LinkState{Kind: LinkFailed, Reason: reason}
	return Outcome{ProtocolViolation: true}
}

// nakFor idempotently sets reject and, only on the reject episode's first
// trigger, emits a NAK: reject=true guarantees at-most-one NAK per reject
// episode.
func (m *StateMachine) nakFor(frmNum FrameNumber) Outcome {
	alreadyRejecting := m.state.Reject
	m.state.Reject = true
	if alreadyRejecting {
		return Outcome{}
	}
	return Outcome{Send: []Frame{NakFrame{AckNum: frmNum}}}
}
