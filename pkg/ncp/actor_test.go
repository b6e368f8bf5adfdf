package ncp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startActor(t *testing.T, dev SpiDevice) (*Actor, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a := NewActor(dev)
	go a.Run(ctx)
	t.Cleanup(cancel)
	return a, cancel
}

func TestActorNeedsResetWhileUnknown(t *testing.T) {
	dev := NewFakeSpiDevice()
	a, _ := startActor(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := a.SendFrame(ctx, []byte{0x00})
	if !errors.Is(err, ErrNeedsReset) {
		t.Fatalf("expected ErrNeedsReset, got %v", err)
	}
}

func queueResetHandshake(dev *FakeSpiDevice) {
	dev.QueueResponse([]byte{0x00, 0x02, 0xA7}) // NcpReset(reason=power-on)
	dev.QueueResponse([]byte{0x82, 0xA7})       // SpiProtocolVersion=2
	dev.QueueResponse([]byte{0xC1, 0xA7})       // SpiStatus ready=true
}

func TestActorResetTransitionsToNormal(t *testing.T) {
	dev := NewFakeSpiDevice()
	queueResetHandshake(dev)
	a, _ := startActor(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reason, err := a.Reset(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != 0x02 {
		t.Errorf("expected reason 0x02, got %#02x", reason)
	}
	if a.State() != Normal {
		t.Errorf("expected Normal state after reset, got %v", a.State())
	}

	if len(dev.ResetHistory) != 2 || dev.ResetHistory[0] != true || dev.ResetHistory[1] != false {
		t.Errorf("expected reset pulse [true,false], got %v", dev.ResetHistory)
	}
}

func TestActorResetUnresponsive(t *testing.T) {
	dev := NewFakeSpiDevice()
	dev.InterruptFires = []bool{false}
	a, _ := startActor(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := a.Reset(ctx, false)
	if !errors.Is(err, ErrUnresponsive) {
		t.Fatalf("expected ErrUnresponsive, got %v", err)
	}
}

func TestActorSendFrameAfterReset(t *testing.T) {
	dev := NewFakeSpiDevice()
	queueResetHandshake(dev)
	a, _ := startActor(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := a.Reset(ctx, false); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	dev.QueueResponse([]byte{0xFE, 0x02, 0xAA, 0xBB, 0xA7})
	resp, err := a.SendFrame(ctx, []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp) != "\xaa\xbb" {
		t.Errorf("unexpected response payload: % x", resp)
	}

	if len(dev.Writes) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(dev.Writes))
	}
	wantWrite := []byte{CmdEzspFrame, 0x03, 0x01, 0x02, 0x03, 0xA7}
	if string(dev.Writes[0]) != string(wantWrite) {
		t.Errorf("got write % x, want % x", dev.Writes[0], wantWrite)
	}
}

func TestActorSendFrameUnresponsiveDropsToUnknown(t *testing.T) {
	dev := NewFakeSpiDevice()
	queueResetHandshake(dev)
	a, _ := startActor(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := a.Reset(ctx, false); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	dev.InterruptFires = []bool{false}
	_, err := a.SendFrame(ctx, []byte{0x01})
	if !errors.Is(err, ErrUnresponsive) {
		t.Fatalf("expected ErrUnresponsive, got %v", err)
	}

	if _, err := a.SendFrame(ctx, []byte{0x01}); !errors.Is(err, ErrNeedsReset) {
		t.Errorf("expected state to drop to Unknown, got %v", err)
	}
}

func TestActorWakeupTimeout(t *testing.T) {
	dev := NewFakeSpiDevice()
	queueResetHandshake(dev)
	a, _ := startActor(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := a.Reset(ctx, false); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	dev.InterruptFires = []bool{false}
	if err := a.Wakeup(ctx); !errors.Is(err, ErrUnresponsive) {
		t.Fatalf("expected ErrUnresponsive, got %v", err)
	}
}
