package ncp

import (
	"errors"
	"sync"
	"time"
)

// DevFakeSpiDevice is a self-contained, hardware-free SpiDevice used by
// cmd/bridge's -dev-fake-ncp flag to exercise the Link task and NcpActor
// without a real SPI/GPIO-attached NCP: it runs the reset handshake and
// echoes every EZSP frame's payload back as the command's response, which is
// a legitimate stand-in since EZSP payloads are opaque bytes to this bridge
// (spec Non-goal: no EZSP command semantics above ASH DATA payloads).
type DevFakeSpiDevice struct {
	mu sync.Mutex

	rx            []byte
	resetAsserted bool
}

// NewDevFakeSpiDevice returns a DevFakeSpiDevice with nothing queued. The
// end of a reset pulse queues the handshake responses; a written command is
// answered whether or not a reset has happened.
func NewDevFakeSpiDevice() *DevFakeSpiDevice {
	return &DevFakeSpiDevice{}
}

func (d *DevFakeSpiDevice) Read(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(buf, d.rx)
	d.rx = d.rx[n:]
	return n, nil
}

func (d *DevFakeSpiDevice) Write(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(buf) == 0 {
		return 0, nil
	}

	switch buf[0] {
	case CmdEzspFrame:
		payloadLen := int(buf[1])
		d.enqueueFrame(CmdEzspFrame, buf[2:2+payloadLen])
	case CmdBootloaderFrame:
		payloadLen := int(buf[1])
		d.enqueueFrame(CmdBootloaderFrame, buf[2:2+payloadLen])
	case CmdSpiVersion:
		d.rx = append(d.rx, 0x80|spiProtocolVersion, respTerminator)
	case CmdSpiStatus:
		d.rx = append(d.rx, 0xC1, respTerminator)
	}
	return len(buf), nil
}

func (d *DevFakeSpiDevice) enqueueFrame(discriminator byte, payload []byte) {
	d.rx = append(d.rx, discriminator, byte(len(payload)))
	d.rx = append(d.rx, payload...)
	d.rx = append(d.rx, respTerminator)
}

func (d *DevFakeSpiDevice) DropUntilNonFF() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.rx) > 0 {
		b := d.rx[0]
		d.rx = d.rx[1:]
		if b != 0xFF {
			return b, nil
		}
	}
	return 0, errors.New("ncp: dev-fake device has no response queued")
}

func (d *DevFakeSpiDevice) SetCS(asserted bool) error  { return nil }
func (d *DevFakeSpiDevice) SetWake(asserted bool) error { return nil }

// SetReset simulates the power-on handshake: the transition from asserted to
// deasserted (the end of the reset pulse) queues the NcpReset announcement,
// protocol version, and ready status the real handshake expects.
func (d *DevFakeSpiDevice) SetReset(asserted bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resetAsserted && !asserted {
		d.rx = append(d.rx, 0x00, ReasonPowerOnDevFake, respTerminator)
		d.rx = append(d.rx, 0x80|spiProtocolVersion, respTerminator)
		d.rx = append(d.rx, 0xC1, respTerminator)
	}
	d.resetAsserted = asserted
	return nil
}

// PollInterrupt reports whether a response is already queued; the dev-fake
// device answers synchronously within Write/SetReset, so there is never a
// real wait.
func (d *DevFakeSpiDevice) PollInterrupt(_ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rx) > 0, nil
}

// ReasonPowerOnDevFake mirrors ash.ReasonPowerOn without importing pkg/ash
// from pkg/ncp, which would create an import cycle (pkg/ash does not and
// should not depend on pkg/ncp).
const ReasonPowerOnDevFake byte = 0x02
