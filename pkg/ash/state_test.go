package ash

import "testing"

// Failed + a non-RST frame yields an Error reply and stays Failed.
func TestHandleFailedNonRstRepliesError(t *testing.T) {
	m := NewStateMachine()
	out := m.HandleFailed(AckFrame{AckNum: TruncFrameNumber(0)})

	if out.NeedsReset {
		t.Fatal("unexpected NeedsReset for non-RST input")
	}
	if len(out.Send) != 1 {
		t.Fatalf("expected exactly one reply frame, got %d", len(out.Send))
	}
	ef, isErr := out.Send[0].(ErrorFrame)
	if !isErr {
		t.Fatalf("expected ErrorFrame, got %T", out.Send[0])
	}
	if ef.Code != ReasonPowerOn {
		t.Errorf("expected reason code %#02x, got %#02x", ReasonPowerOn, ef.Code)
	}
	if m.State().Kind != LinkFailed {
		t.Errorf("expected machine to remain Failed, got %v", m.State().Kind)
	}
}

// Failed + Rst sets NeedsReset; the Link task then calls the NCP reset and
// feeds the reply code into CompleteReset, which sends RstAck and moves to
// Connected{0,0,false}.
func TestHandleFailedRstThenCompleteReset(t *testing.T) {
	m := NewStateMachine()
	out := m.HandleFailed(RstFrame{})
	if !out.NeedsReset {
		t.Fatal("expected NeedsReset=true for Rst while Failed")
	}

	out = m.CompleteReset(ReasonPowerOn)
	if len(out.Send) != 1 {
		t.Fatalf("expected exactly one reply frame, got %d", len(out.Send))
	}
	ra, isRstAck := out.Send[0].(RstAckFrame)
	if !isRstAck {
		t.Fatalf("expected RstAckFrame, got %T", out.Send[0])
	}
	if ra.Code != ReasonPowerOn {
		t.Errorf("expected reset code %#02x, got %#02x", ReasonPowerOn, ra.Code)
	}

	st := m.State()
	if st.Kind != LinkConnected {
		t.Fatalf("expected Connected, got %v", st.Kind)
	}
	if st.Reject || st.Inflight != TruncFrameNumber(0) || st.Acked != TruncFrameNumber(0) {
		t.Errorf("expected Connected{reject:false, inflight:0, acked:0}, got %+v", st)
	}
}

func connectedMachine(t *testing.T) *StateMachine {
	t.Helper()
	m := NewStateMachine()
	m.HandleFailed(RstFrame{})
	m.CompleteReset(ReasonPowerOn)
	return m
}

// Connected + an out-of-sequence DATA frame (frm_num=2 when inflight=0, so
// expected=1) yields Nak{ack_num:2} and reject=true with no payload delivered.
func TestHandleDataOutOfSequenceNaksAndRejects(t *testing.T) {
	m := connectedMachine(t)

	out := m.HandleData(DataFrame{
		FrmNum: TruncFrameNumber(2),
		AckNum: TruncFrameNumber(0),
		Body:   []byte{0x01, 0x02, 0x03},
	})

	if out.Deliver != nil {
		t.Errorf("expected no payload delivered, got %v", out.Deliver)
	}
	if len(out.Send) != 1 {
		t.Fatalf("expected exactly one NAK, got %d frames", len(out.Send))
	}
	nak, isNak := out.Send[0].(NakFrame)
	if !isNak {
		t.Fatalf("expected NakFrame, got %T", out.Send[0])
	}
	if nak.AckNum != TruncFrameNumber(2) {
		t.Errorf("expected Nak.AckNum=2, got %v", nak.AckNum)
	}
	if !m.State().Reject {
		t.Error("expected reject=true after out-of-sequence DATA")
	}
}

// Once reject is set, further out-of-sequence DATA frames in the same
// episode produce no additional NAK until an in-sequence DATA clears it.
func TestNakForSuppressesRepeatsWithinRejectEpisode(t *testing.T) {
	m := connectedMachine(t)

	first := m.HandleData(DataFrame{FrmNum: TruncFrameNumber(3), AckNum: TruncFrameNumber(0), Body: []byte{1, 2, 3}})
	if len(first.Send) != 1 {
		t.Fatalf("expected one NAK on first reject trigger, got %d", len(first.Send))
	}

	second := m.HandleData(DataFrame{FrmNum: TruncFrameNumber(3), AckNum: TruncFrameNumber(0), Body: []byte{1, 2, 3}})
	if len(second.Send) != 0 {
		t.Fatalf("expected no further NAK while still rejecting, got %d", len(second.Send))
	}
	if second.Deliver != nil {
		t.Error("expected no payload delivered while rejecting")
	}

	third := m.HandleData(DataFrame{FrmNum: TruncFrameNumber(1), AckNum: TruncFrameNumber(0), Body: []byte{4, 5, 6}})
	if third.Deliver == nil {
		t.Fatal("expected the in-sequence DATA frame to clear reject and deliver")
	}
	if m.State().Reject {
		t.Error("expected reject=false after accepting the in-sequence frame")
	}
}

func TestHandleDataInSequenceDelivers(t *testing.T) {
	m := connectedMachine(t)

	out := m.HandleData(DataFrame{
		FrmNum: TruncFrameNumber(1),
		AckNum: TruncFrameNumber(0),
		Body:   []byte{0xAA, 0xBB, 0xCC},
	})

	if string(out.Deliver) != "\xaa\xbb\xcc" {
		t.Errorf("expected payload delivered, got %v", out.Deliver)
	}
	if !out.ScheduleAck {
		t.Error("expected ScheduleAck=true for a successful DATA")
	}
	if out.HostAck == nil || *out.HostAck != TruncFrameNumber(0) {
		t.Errorf("expected HostAck=0, got %v", out.HostAck)
	}
	if m.State().Inflight != TruncFrameNumber(1) {
		t.Errorf("expected inflight=1 after accepting frm_num=1, got %v", m.State().Inflight)
	}
}

func TestHandleUnknownWhileConnectedTransitionsToFailed(t *testing.T) {
	m := connectedMachine(t)
	out := m.HandleUnknownWhileConnected(0x80)

	if !out.ProtocolViolation {
		t.Error("expected ProtocolViolation=true")
	}
	if m.State().Kind != LinkFailed {
		t.Fatalf("expected Failed, got %v", m.State().Kind)
	}
	if m.State().Reason != 0x80 {
		t.Errorf("expected reason=0x80, got %#02x", m.State().Reason)
	}
}

func TestHandleHostAckAndNakRouteToOutboundTransmitter(t *testing.T) {
	m := connectedMachine(t)

	ackOut := m.HandleHostAck(AckFrame{AckNum: TruncFrameNumber(3)})
	if ackOut.HostAck == nil || *ackOut.HostAck != TruncFrameNumber(3) {
		t.Errorf("expected HostAck=3, got %v", ackOut.HostAck)
	}
	if len(ackOut.Send) != 0 {
		t.Errorf("HandleHostAck should not itself emit frames, got %v", ackOut.Send)
	}

	nakOut := m.HandleHostNak(NakFrame{AckNum: TruncFrameNumber(2)})
	if nakOut.HostNak == nil || *nakOut.HostNak != TruncFrameNumber(2) {
		t.Errorf("expected HostNak=2, got %v", nakOut.HostNak)
	}
}

// A host RST received while already Connected requests the same
// reset/CompleteReset sequence as the initial Failed-state handshake.
func TestHandleRstWhileConnectedRequestsReset(t *testing.T) {
	m := connectedMachine(t)
	out := m.HandleRstWhileConnected()
	if !out.NeedsReset {
		t.Error("expected NeedsReset=true for host RST while Connected")
	}
}
