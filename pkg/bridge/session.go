package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/proman21/ezsp-spi-bridge/pkg/ash"
	"github.com/proman21/ezsp-spi-bridge/pkg/ncp"
)

// ackDelay is the bounded wait before a DATA-triggered ACK is sent standalone
// rather than piggybacked on an outbound DATA frame, resolving ASH's 1-10ms
// legal range.
const ackDelay = 3 * time.Millisecond

const readBufferSize = 512

// Session is one Link task: it owns the host-facing TCP connection for the
// lifetime of a single client, and drives pkg/ash's codec and state machine
// against a shared NcpActor. Only one Session may be active against an
// Actor at a time (cmd/bridge's accept loop enforces this).
type Session struct {
	id     xid.ID
	conn   net.Conn
	actor  *ncp.Actor
	codec  *ash.Codec
	sm     *ash.StateMachine
	window *outboundWindow
	log    zerolog.Logger
}

// NewSession wraps conn as a new Link task bound to actor.
func NewSession(conn net.Conn, actor *ncp.Actor) *Session {
	id := xid.New()
	s := &Session{
		id:    id,
		conn:  conn,
		actor: actor,
		codec: ash.NewCodec(),
		sm:    ash.NewStateMachine(),
		log:   log.With().Str("session", id.String()).Str("remote", conn.RemoteAddr().String()).Logger(),
	}
	s.window = newOutboundWindow(s.writeFrame, s.die, s.pendingAck)
	return s
}

// ID returns the session's correlation ID.
func (s *Session) ID() string { return s.id.String() }

// State returns the session's current link state, for diagnostics.
func (s *Session) State() ash.LinkState { return s.sm.State() }

// NcpState returns the shared NcpActor's current operating mode, for diagnostics.
func (s *Session) NcpState() ncp.State { return s.actor.State() }

// Run drives the session until the connection closes, ctx is cancelled, or
// an unrecoverable error occurs. It always closes conn before returning.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reads := s.startReader(ctx)

	var ackTimer *time.Timer
	var ackTimerC <-chan time.Time

	var runErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.actor.Done():
			return fmt.Errorf("bridge: ncp actor unavailable: %w", ash.ErrChannel)

		case chunk, ok := <-reads:
			if !ok {
				return runErr
			}
			if chunk.err != nil {
				return chunk.err
			}
			s.codec.Feed(chunk.data)
			for {
				frame, derr, decoded := s.codec.Decode()
				if !decoded {
					break
				}
				if err := s.processDecoded(ctx, frame, derr, &ackTimer, &ackTimerC); err != nil {
					runErr = err
					cancel()
					break
				}
			}

		case <-ackTimerC:
			ackTimer, ackTimerC = nil, nil
			if err := s.sendStandaloneAck(); err != nil {
				return err
			}

		case <-s.actor.Callbacks():
			if err := s.drainCallback(ctx); err != nil {
				s.log.Warn().Err(err).Msg("failed to drain NCP callback")
			}
		}

		if runErr != nil {
			return runErr
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

// startReader runs conn.Read in its own goroutine and forwards chunks over a
// channel, so Run's select loop never blocks on TCP I/O directly.
func (s *Session) startReader(ctx context.Context) <-chan readResult {
	out := make(chan readResult)
	go func() {
		defer close(out)
		buf := make([]byte, readBufferSize)
		for {
			n, err := s.conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case out <- readResult{data: data}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case out <- readResult{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out
}

// processDecoded dispatches one decoded frame (or soft decode error) to the
// state machine and carries out the resulting Outcome.
func (s *Session) processDecoded(ctx context.Context, frame ash.Frame, derr error, ackTimer **time.Timer, ackTimerC *<-chan time.Time) error {
	if derr != nil {
		de, isDE := ash.AsDecodeError(derr)
		if isDE && de.Frame != nil {
			if d, isData := de.Frame.(ash.DataFrame); isData {
				return s.applyOutcome(ctx, s.sm.HandleBadData(d.FrmNum), ackTimer, ackTimerC)
			}
		}
		s.log.Warn().Err(derr).Msg("discarding unparseable frame")
		return nil
	}

	recordFrameReceived(frame.Kind().String())

	state := s.sm.State()
	switch f := frame.(type) {
	case ash.RstFrame:
		if state.Kind == ash.LinkFailed {
			return s.applyOutcome(ctx, s.sm.HandleFailed(f), ackTimer, ackTimerC)
		}
		return s.applyOutcome(ctx, s.sm.HandleRstWhileConnected(), ackTimer, ackTimerC)
	case ash.DataFrame:
		if state.Kind == ash.LinkFailed {
			return s.applyOutcome(ctx, s.sm.HandleFailed(f), ackTimer, ackTimerC)
		}
		return s.applyOutcome(ctx, s.sm.HandleData(f), ackTimer, ackTimerC)
	case ash.AckFrame:
		if state.Kind == ash.LinkFailed {
			return s.applyOutcome(ctx, s.sm.HandleFailed(f), ackTimer, ackTimerC)
		}
		return s.applyOutcome(ctx, s.sm.HandleHostAck(f), ackTimer, ackTimerC)
	case ash.NakFrame:
		if state.Kind == ash.LinkFailed {
			return s.applyOutcome(ctx, s.sm.HandleFailed(f), ackTimer, ackTimerC)
		}
		return s.applyOutcome(ctx, s.sm.HandleHostNak(f), ackTimer, ackTimerC)
	default:
		if state.Kind == ash.LinkFailed {
			return s.applyOutcome(ctx, s.sm.HandleFailed(frame), ackTimer, ackTimerC)
		}
		return s.applyOutcome(ctx, s.sm.HandleUnknownWhileConnected(ash.ReasonMaxAckTimeout), ackTimer, ackTimerC)
	}
}

// applyOutcome carries out every side effect an Outcome describes, in the
// order the state machine promises: frames to send, a payload to forward to
// the NCP, the acknowledgement/reset bookkeeping.
func (s *Session) applyOutcome(ctx context.Context, o ash.Outcome, ackTimer **time.Timer, ackTimerC *<-chan time.Time) error {
	for _, f := range o.Send {
		if _, isNak := f.(ash.NakFrame); isNak {
			naksSent.Inc()
			rejectEpisodes.Inc()
		}
		if err := s.writeFrame(f); err != nil {
			return err
		}
	}

	if o.HostAck != nil {
		s.window.HandleAck(*o.HostAck)
	}
	if o.HostNak != nil {
		s.window.HandleNak(*o.HostNak)
	}

	if o.ScheduleAck {
		s.scheduleAck(ackTimer, ackTimerC)
	}

	if o.NeedsReset {
		if err := s.performReset(ctx); err != nil {
			return err
		}
	}

	if o.Deliver != nil {
		if err := s.deliver(ctx, o.Deliver); err != nil {
			return err
		}
	}

	return nil
}

// scheduleAck arms the bounded ACK-delay timer if one isn't already pending;
// a piggybacked outbound DATA frame sent in the meantime clears the debt
// implicitly since pendingAck reports the same ack_num either way.
func (s *Session) scheduleAck(ackTimer **time.Timer, ackTimerC *<-chan time.Time) {
	if *ackTimer != nil {
		return
	}
	*ackTimer = time.NewTimer(ackDelay)
	*ackTimerC = (*ackTimer).C
}

func (s *Session) sendStandaloneAck() error {
	return s.writeFrame(ash.AckFrame{AckNum: s.pendingAck()})
}

// pendingAck returns the ack_num the link currently owes the host: the next
// frame number expected from the host, i.e. Connected.Inflight+1.
func (s *Session) pendingAck() ash.FrameNumber {
	return s.sm.State().Inflight.Add(1)
}

// performReset runs the NcpActor reset and feeds its reason code back into
// CompleteReset, sending RSTACK. A failed reset keeps the link Failed and
// replies Error instead, leaving the host free to retry RST.
func (s *Session) performReset(ctx context.Context) error {
	reason, err := s.actor.Reset(ctx, false)

	var outcome ash.Outcome
	if err != nil {
		s.log.Error().Err(err).Msg("NCP reset failed")
		outcome = s.sm.FailReset(ash.ReasonMaxAckTimeout)
	} else {
		outcome = s.sm.CompleteReset(reason)
	}

	for _, f := range outcome.Send {
		if err := s.writeFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// deliver forwards a host DATA payload to the NcpActor and, on success,
// enqueues its response as a new outbound DATA frame toward the host.
func (s *Session) deliver(ctx context.Context, payload []byte) error {
	started := time.Now()
	resp, err := s.actor.SendFrame(ctx, payload)
	spiTransactionDuration.Observe(time.Since(started).Seconds())
	ncpStateGauge.Set(float64(s.actor.State()))

	if err != nil {
		if errors.Is(err, ncp.ErrNeedsReset) || errors.Is(err, ncp.ErrUnresponsive) {
			s.log.Warn().Err(err).Msg("NCP unavailable while delivering payload")
			return nil
		}
		return fmt.Errorf("bridge: deliver payload: %w", err)
	}
	return s.window.Enqueue(resp)
}

// drainCallback issues a zero-length send-command transaction to collect a
// waiting NCP callback and enqueues it the same way a command response is.
func (s *Session) drainCallback(ctx context.Context) error {
	resp, err := s.actor.SendFrame(ctx, nil)
	if err != nil {
		return err
	}
	if len(resp) == 0 {
		return nil
	}
	return s.window.Enqueue(resp)
}

func (s *Session) writeFrame(f ash.Frame) error {
	buf := ash.Encode(f, nil)
	if _, err := s.conn.Write(buf); err != nil {
		return fmt.Errorf("bridge: write frame: %w", err)
	}
	recordFrameSent(f.Kind().String())
	return nil
}

func (s *Session) die(err error) {
	s.log.Warn().Err(err).Msg("session terminating")
	s.conn.Close()
}
