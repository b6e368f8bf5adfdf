package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/proman21/ezsp-spi-bridge/pkg/ash"
	"github.com/proman21/ezsp-spi-bridge/pkg/ncp"
)

// newTestActor starts an Actor over an in-process fake NCP and returns it
// running but not yet reset; a Session's own RST handling performs the reset.
func newTestActor(t *testing.T) *ncp.Actor {
	t.Helper()
	dev := ncp.NewDevFakeSpiDevice()
	actor := ncp.NewActor(dev)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go actor.Run(ctx)

	return actor
}

func readFrame(t *testing.T, conn net.Conn) ash.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	codec := ash.NewCodec()
	buf := make([]byte, 256)
	for {
		frame, err, ok := codec.Decode()
		if ok {
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			return frame
		}
		n, rerr := conn.Read(buf)
		if rerr != nil {
			t.Fatalf("read: %v", rerr)
		}
		codec.Feed(buf[:n])
	}
}

func TestSessionRstYieldsRstAckAndConnects(t *testing.T) {
	hostSide, bridgeSide := net.Pipe()
	defer hostSide.Close()
	defer bridgeSide.Close()

	actor := newTestActor(t)
	sess := NewSession(bridgeSide, actor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	if _, err := hostSide.Write(ash.Encode(ash.RstFrame{}, nil)); err != nil {
		t.Fatalf("write RST: %v", err)
	}

	frame := readFrame(t, hostSide)
	rstAck, ok := frame.(ash.RstAckFrame)
	if !ok {
		t.Fatalf("expected RstAckFrame, got %T", frame)
	}
	if rstAck.Version != 2 {
		t.Fatalf("expected protocol version 2, got %d", rstAck.Version)
	}

	// Give the session a moment to finish applying CompleteReset before
	// inspecting its state.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sess.State().Kind == ash.LinkConnected {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if sess.State().Kind != ash.LinkConnected {
		t.Fatalf("expected session Connected after RSTACK, got state %#v", sess.State())
	}

	hostSide.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session.Run did not return after host connection closed")
	}
}

func TestSessionNonRstWhileFailedRepliesError(t *testing.T) {
	hostSide, bridgeSide := net.Pipe()
	defer hostSide.Close()
	defer bridgeSide.Close()

	actor := newTestActor(t)
	sess := NewSession(bridgeSide, actor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sess.Run(ctx)

	ackNum := ash.TruncFrameNumber(0)
	if _, err := hostSide.Write(ash.Encode(ash.AckFrame{AckNum: ackNum}, nil)); err != nil {
		t.Fatalf("write ACK: %v", err)
	}

	frame := readFrame(t, hostSide)
	ef, ok := frame.(ash.ErrorFrame)
	if !ok {
		t.Fatalf("expected ErrorFrame, got %T", frame)
	}
	if ef.Code != ash.ReasonPowerOn {
		t.Fatalf("expected power-on reason code, got %#02x", ef.Code)
	}
	if sess.State().Kind != ash.LinkFailed {
		t.Fatalf("expected session to remain Failed, got %#v", sess.State())
	}
}
