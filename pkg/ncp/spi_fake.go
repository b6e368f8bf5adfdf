package ncp

import (
	"errors"
	"sync"
	"time"
)

// FakeSpiDevice is an in-memory SpiDevice for tests (cmd/bridge's
// -dev-fake-ncp flag uses DevFakeSpiDevice instead). It is driven by a script
// of queued response bytes and records every command write and GPIO line
// change for assertions.
type FakeSpiDevice struct {
	mu sync.Mutex

	rx []byte // bytes available to Read/DropUntilNonFF, consumed FIFO

	Writes    [][]byte
	CSHistory   []bool
	WakeHistory []bool
	ResetHistory []bool

	// InterruptFires controls PollInterrupt: each call pops the front
	// element (default true, i.e. fires immediately, if the slice is empty).
	InterruptFires []bool
}

// NewFakeSpiDevice returns an empty FakeSpiDevice.
func NewFakeSpiDevice() *FakeSpiDevice {
	return &FakeSpiDevice{}
}

// QueueResponse appends bytes to the device's read queue, available to the
// next Read/DropUntilNonFF calls in FIFO order.
func (f *FakeSpiDevice) QueueResponse(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, b...)
}

func (f *FakeSpiDevice) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rx) == 0 {
		return 0, errors.New("ncp: fake device has no queued bytes")
	}
	n := copy(buf, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *FakeSpiDevice) Write(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.Writes = append(f.Writes, cp)
	return len(buf), nil
}

func (f *FakeSpiDevice) DropUntilNonFF() (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.rx) > 0 {
		b := f.rx[0]
		f.rx = f.rx[1:]
		if b != 0xFF {
			return b, nil
		}
	}
	return 0, errors.New("ncp: fake device has no queued bytes")
}

func (f *FakeSpiDevice) SetCS(asserted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CSHistory = append(f.CSHistory, asserted)
	return nil
}

func (f *FakeSpiDevice) SetWake(asserted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WakeHistory = append(f.WakeHistory, asserted)
	return nil
}

func (f *FakeSpiDevice) SetReset(asserted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResetHistory = append(f.ResetHistory, asserted)
	return nil
}

func (f *FakeSpiDevice) PollInterrupt(_ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.InterruptFires) == 0 {
		return true, nil
	}
	fires := f.InterruptFires[0]
	f.InterruptFires = f.InterruptFires[1:]
	return fires, nil
}
