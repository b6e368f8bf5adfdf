package ncp

import "time"

// SpiDevice is the single-threaded, blocking capability set an NcpActor
// drives: raw SPI read/write plus the GPIO lines (chip-select, reset, wake,
// interrupt). Implementations wrap a real SPI peripheral and GPIO chip, or a
// fake for tests. All methods are expected to block the calling goroutine;
// NcpActor runs its own dedicated goroutine so this never stalls the Link
// task.
type SpiDevice interface {
	// Read fills buf from the SPI peripheral, returning the number of bytes read.
	Read(buf []byte) (int, error)
	// Write sends buf over the SPI peripheral, returning the number of bytes written.
	Write(buf []byte) (int, error)
	// DropUntilNonFF reads and discards 0xFF wait-bytes until a different byte
	// appears, then returns that byte. This folds the "SPI wait byte" step of
	// the send-command protocol into a single device operation.
	DropUntilNonFF() (byte, error)
	// SetCS asserts (true) or deasserts (false) chip-select. The line is
	// active-low at the protocol layer; the implementation handles polarity.
	SetCS(asserted bool) error
	// SetWake asserts or deasserts the wake line.
	SetWake(asserted bool) error
	// SetReset asserts or deasserts the reset line.
	SetReset(asserted bool) error
	// PollInterrupt waits up to timeout for the interrupt line to fire,
	// returning true if it did. A timeout of 0 polls without blocking.
	PollInterrupt(timeout time.Duration) (bool, error)
}
