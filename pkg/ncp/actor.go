package ncp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Timing constants mandated by the send-command and handshake protocols.
const (
	InterCommandSpacing  = 1 * time.Millisecond
	ResponseTimeout      = 350 * time.Millisecond
	ResetStartupTime     = 7500 * time.Millisecond
	WakeHandshakeTimeout = 300 * time.Millisecond
	ResetPulseTime       = 26 * time.Microsecond

	// callbackPollInterval is how often the actor checks for a waiting NCP
	// callback between mailbox messages.
	callbackPollInterval = 10 * time.Millisecond

	spiProtocolVersion = 2
)

type requestKind int

const (
	reqSendFrame requestKind = iota
	reqReset
	reqWakeup
)

type request struct {
	kind         requestKind
	payload      []byte
	toBootloader bool
	reply        chan result
}

type result struct {
	data []byte
	err  error
}

// Actor is the single-threaded worker that owns an SpiDevice and serialises
// every transaction against it. Callers submit requests through SendFrame,
// Reset, and Wakeup; Run must be driven by its own goroutine for the
// lifetime of the bridge.
type Actor struct {
	dev SpiDevice

	mailbox   chan request
	callbacks chan struct{}
	done      chan struct{}

	state State
}

// NewActor returns an Actor bound to dev, in the initial Unknown state.
func NewActor(dev SpiDevice) *Actor {
	return &Actor{
		dev:       dev,
		mailbox:   make(chan request),
		callbacks: make(chan struct{}, 1),
		done:      make(chan struct{}),
		state:     Unknown,
	}
}

// Done returns a channel closed once Run has returned, so callers still
// holding a reference to the Actor (e.g. an active Session) can detect that
// their peer worker is gone rather than blocking forever on a dead mailbox.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Callbacks returns the one-shot "callback available" notification channel:
// a receive on it means the NCP's interrupt line fired outside of a
// transaction and the caller should issue a request to retrieve it.
func (a *Actor) Callbacks() <-chan struct{} {
	return a.callbacks
}

// State returns the actor's current view of the NCP's operating mode. Safe
// to call only from the Run goroutine or after Run has returned; callers
// needing a live view should track it via request results instead.
func (a *Actor) State() State {
	return a.state
}

// Run services the mailbox until ctx is cancelled, then drains any
// in-flight transaction and returns. It must be called from exactly one
// goroutine for the Actor's lifetime.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)

	var lastCommandTime time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.mailbox:
			data, err := a.handle(ctx, req, &lastCommandTime)
			req.reply <- result{data: data, err: err}
		case <-time.After(callbackPollInterval):
			a.pollCallback()
		}
	}
}

func (a *Actor) handle(ctx context.Context, req request, lastCommandTime *time.Time) ([]byte, error) {
	if req.kind != reqReset && a.state == Unknown {
		return nil, ErrNeedsReset
	}

	switch req.kind {
	case reqSendFrame:
		return a.sendFrame(req.payload, lastCommandTime)
	case reqReset:
		reason, err := a.reset(req.toBootloader, lastCommandTime)
		return []byte{reason}, err
	case reqWakeup:
		return nil, a.wakeup()
	default:
		return nil, ErrInternalError
	}
}

func (a *Actor) submit(ctx context.Context, req request) ([]byte, error) {
	req.reply = make(chan result, 1)
	select {
	case a.mailbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendFrame submits an EZSP frame to the NCP and returns its response
// payload. Returns ErrNeedsReset if the NCP's state is Unknown.
func (a *Actor) SendFrame(ctx context.Context, payload []byte) ([]byte, error) {
	return a.submit(ctx, request{kind: reqSendFrame, payload: payload})
}

// Reset pulses the reset line and runs the power-on handshake, leaving the
// NCP in Normal or Bootloader state on success. The returned byte is the
// reset reason code the NCP announced, forwarded by callers into the host's
// RstAck.
func (a *Actor) Reset(ctx context.Context, toBootloader bool) (byte, error) {
	data, err := a.submit(ctx, request{kind: reqReset, toBootloader: toBootloader})
	if len(data) == 0 {
		return 0, err
	}
	return data[0], err
}

// Wakeup asserts the wake line and waits for the NCP to acknowledge it.
func (a *Actor) Wakeup(ctx context.Context) error {
	_, err := a.submit(ctx, request{kind: reqWakeup})
	return err
}

// sendFrame runs one send-command transaction: spacing wait, CS assert,
// write, interrupt wait, response parse, CS deassert.
func (a *Actor) sendFrame(payload []byte, lastCommandTime *time.Time) ([]byte, error) {
	a.waitInterCommandSpacing(*lastCommandTime)

	if err := a.dev.SetCS(true); err != nil {
		return nil, fmt.Errorf("ncp: assert CS: %w", err)
	}
	defer func() {
		if err := a.dev.SetCS(false); err != nil {
			log.Warn().Err(err).Msg("failed to deassert CS after transaction")
		}
		*lastCommandTime = time.Now()
	}()

	cmd := EncodeCommand(CmdEzspFrame, payload)
	if _, err := a.dev.Write(cmd); err != nil {
		return nil, fmt.Errorf("ncp: write command: %w", err)
	}

	fired, err := a.dev.PollInterrupt(ResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("ncp: poll interrupt: %w", err)
	}
	if !fired {
		a.state = Unknown
		return nil, ErrUnresponsive
	}

	resp, err := a.readResponse()
	if err != nil {
		return nil, err
	}
	if resp.Kind == RespNcpReset {
		a.state = Unknown
		return nil, &UnexpectedReset{Code: resp.Reason}
	}
	if resp.Kind == RespOversizedPayloadFrame {
		return nil, ErrOversizedPayload
	}
	if resp.Kind != RespEzspFrame {
		return nil, fmt.Errorf("%w: expected EzspFrame, got %s", ErrInvalidResponse, resp.Kind)
	}
	return resp.Payload, nil
}

// readResponse performs step 5/6 of the send-command protocol: drop leading
// 0xFF wait-bytes, then parse a Response, reading more bytes as the parser
// requests until it succeeds or hard-fails.
func (a *Actor) readResponse() (*Response, error) {
	first, err := a.dev.DropUntilNonFF()
	if err != nil {
		return nil, fmt.Errorf("ncp: read response: %w", err)
	}

	buf := []byte{first}
	for {
		resp, err := ParseResponse(buf)
		if err == nil {
			return resp, nil
		}
		var incomplete *IncompleteResponse
		if !errors.As(err, &incomplete) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		more := make([]byte, incomplete.Need)
		if _, rerr := a.dev.Read(more); rerr != nil {
			return nil, fmt.Errorf("ncp: read response: %w", rerr)
		}
		buf = append(buf, more...)
	}
}

// reset pulses the reset line (optionally holding wake to request bootloader
// entry) and runs the fixed three-step power-on handshake. Returns the reset
// reason code the NCP announced.
func (a *Actor) reset(toBootloader bool, lastCommandTime *time.Time) (byte, error) {
	a.state = Unknown

	if toBootloader {
		if err := a.dev.SetWake(true); err != nil {
			return 0, fmt.Errorf("ncp: assert wake: %w", err)
		}
	}
	if err := a.dev.SetReset(true); err != nil {
		return 0, fmt.Errorf("ncp: assert reset: %w", err)
	}
	time.Sleep(ResetPulseTime)
	if err := a.dev.SetReset(false); err != nil {
		return 0, fmt.Errorf("ncp: deassert reset: %w", err)
	}

	fired, err := a.dev.PollInterrupt(ResetStartupTime)
	if err != nil {
		return 0, fmt.Errorf("ncp: poll interrupt: %w", err)
	}
	if toBootloader {
		if werr := a.dev.SetWake(false); werr != nil {
			return 0, fmt.Errorf("ncp: deassert wake: %w", werr)
		}
	}
	if !fired {
		return 0, ErrUnresponsive
	}

	reason, err := a.expectResetHandshake()
	if err != nil {
		return 0, err
	}

	if toBootloader {
		a.state = Bootloader
	} else {
		a.state = Normal
	}
	*lastCommandTime = time.Now()
	log.Info().Stringer("state", a.state).Msg("NCP reset complete")
	return reason, nil
}

// expectResetHandshake reads the three fixed responses the NCP emits after a
// reset: the reset announcement, its protocol version, and ready status. It
// returns the reason code carried by the announcement.
func (a *Actor) expectResetHandshake() (byte, error) {
	announce, err := a.readResponse()
	if err != nil {
		return 0, err
	}
	if announce.Kind != RespNcpReset {
		return 0, fmt.Errorf("%w: expected NcpReset announcement, got %s", ErrInvalidResponse, announce.Kind)
	}

	version, err := a.readResponse()
	if err != nil {
		return 0, err
	}
	if version.Kind != RespSpiProtocolVersion || version.Version != spiProtocolVersion {
		return 0, fmt.Errorf("%w: unexpected SPI protocol version", ErrInvalidResponse)
	}

	status, err := a.readResponse()
	if err != nil {
		return 0, err
	}
	if status.Kind != RespSpiStatus || !status.Ready {
		return 0, fmt.Errorf("%w: NCP not ready after reset", ErrInvalidResponse)
	}
	return announce.Reason, nil
}

// wakeup asserts the wake line and waits for the interrupt acknowledgement.
func (a *Actor) wakeup() error {
	if err := a.dev.SetWake(true); err != nil {
		return fmt.Errorf("ncp: assert wake: %w", err)
	}
	fired, err := a.dev.PollInterrupt(WakeHandshakeTimeout)
	werr := a.dev.SetWake(false)
	if err != nil {
		return fmt.Errorf("ncp: poll interrupt: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("ncp: deassert wake: %w", werr)
	}
	if !fired {
		a.state = Unknown
		return ErrUnresponsive
	}
	return nil
}

// pollCallback checks, without blocking, whether the NCP has a callback
// waiting and notifies the Callbacks channel if so.
func (a *Actor) pollCallback() {
	if a.state == Unknown {
		return
	}
	fired, err := a.dev.PollInterrupt(0)
	if err != nil {
		log.Warn().Err(err).Msg("callback poll failed")
		return
	}
	if !fired {
		return
	}
	select {
	case a.callbacks <- struct{}{}:
	default:
	}
}

func (a *Actor) waitInterCommandSpacing(lastCommandTime time.Time) {
	if lastCommandTime.IsZero() {
		return
	}
	elapsed := time.Since(lastCommandTime)
	if elapsed < InterCommandSpacing {
		time.Sleep(InterCommandSpacing - elapsed)
	}
}
