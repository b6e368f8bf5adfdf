package bridge

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/proman21/ezsp-spi-bridge/pkg/ash"
)

// txBaseTimeout is T_rx_ack, the outbound retransmission timer: doubled on
// each repeat timeout, per ASH §5 conventions.
const txBaseTimeout = 400 * time.Millisecond

// txMaxRetries bounds how many times in all (the first transmission
// included) an unacknowledged outbound DATA frame is transmitted before the
// window gives up and reports the session dead.
const txMaxRetries = 3

// outboundWindow is the symmetric half of the sliding window ASH requires
// the bridge to run toward the host: NCP responses and callbacks are framed
// as DATA numbered by their own sequence (independent of the host's inbound
// inflight/acked counters), retransmitted on NAK or on timeout.
type outboundWindow struct {
	mu sync.Mutex

	nextSeq ash.FrameNumber
	pending []*pendingFrame

	send    func(ash.Frame) error
	onDead  func(error)
	nextAck func() ash.FrameNumber // piggyback ack_num source, supplied by the Session
}

type pendingFrame struct {
	seq      ash.FrameNumber
	body     []byte
	attempts int
	timer    *time.Timer
}

func newOutboundWindow(send func(ash.Frame) error, onDead func(error), nextAck func() ash.FrameNumber) *outboundWindow {
	return &outboundWindow{send: send, onDead: onDead, nextAck: nextAck}
}

// Enqueue frames body as a new outbound DATA frame and sends it immediately.
func (w *outboundWindow) Enqueue(body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pf := &pendingFrame{seq: w.nextSeq, body: body}
	w.nextSeq = w.nextSeq.Add(1)
	w.pending = append(w.pending, pf)

	if err := w.transmit(pf, false); err != nil {
		return err
	}
	w.armTimer(pf, txBaseTimeout)
	return nil
}

func (w *outboundWindow) transmit(pf *pendingFrame, retry bool) error {
	pf.attempts++
	if retry {
		outboundRetransmits.Inc()
	}
	frame := ash.DataFrame{
		FrmNum: pf.seq,
		ReTx:   retry,
		AckNum: w.nextAck(),
		Body:   pf.body,
	}
	return w.send(frame)
}

func (w *outboundWindow) armTimer(pf *pendingFrame, timeout time.Duration) {
	pf.timer = time.AfterFunc(timeout, func() { w.onTimeout(pf) })
}

func (w *outboundWindow) onTimeout(pf *pendingFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isPending(pf.seq) {
		return // already acked
	}
	if pf.attempts >= txMaxRetries {
		w.onDead(errOutboundRetriesExhausted)
		return
	}

	log.Warn().Stringer("frm_num", pf.seq).Int("attempt", pf.attempts+1).Msg("retransmitting unacknowledged outbound DATA")
	if err := w.transmit(pf, true); err != nil {
		w.onDead(err)
		return
	}
	w.armTimer(pf, txBaseTimeout*time.Duration(1<<(pf.attempts-1)))
}

func (w *outboundWindow) isPending(seq ash.FrameNumber) bool {
	for _, pf := range w.pending {
		if pf.seq == seq {
			return true
		}
	}
	return false
}

// HandleAck retires every pending frame with a sequence number preceding
// ackNum (the host is acknowledging everything up to, but not including, it).
func (w *outboundWindow) HandleAck(ackNum ash.FrameNumber) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.pending[:0]
	for _, pf := range w.pending {
		if w.isBeforeWindow(pf.seq, ackNum) {
			pf.timer.Stop() // acknowledged, retire
			continue
		}
		kept = append(kept, pf)
	}
	w.pending = kept
}

// HandleNak retransmits every pending frame from nakNum onward.
func (w *outboundWindow) HandleNak(nakNum ash.FrameNumber) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, pf := range w.pending {
		if w.isBeforeWindow(pf.seq, nakNum) {
			continue
		}
		pf.timer.Stop()
		if err := w.transmit(pf, true); err != nil {
			w.onDead(err)
			return
		}
		w.armTimer(pf, txBaseTimeout)
	}
}

// isBeforeWindow reports whether seq precedes ack, both counted forward from
// the oldest pending sequence number (nextSeq minus the pending count), i.e.
// ack has already acknowledged seq.
func (w *outboundWindow) isBeforeWindow(seq, ack ash.FrameNumber) bool {
	base := ash.TruncFrameNumber(uint8(w.nextSeq) - uint8(len(w.pending)))
	return seq.Sub(base) < ack.Sub(base)
}
