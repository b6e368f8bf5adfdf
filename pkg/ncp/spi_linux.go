//go:build linux

package ncp

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux ioctl numbers for spidev and the gpio-cdev ABI. These are not
// exported by golang.org/x/sys/unix (they are computed from the kernel's
// _IOW/_IOR macros), so they are reproduced here the way low-level Linux
// device drivers in Go typically do.
const (
	iocMagicSPI  = 'k'
	iocMagicGPIO = 0xB4

	spiIOCWrMode        = 0x40016b01 // _IOW(SPI_IOC_MAGIC, 1, u8)
	spiIOCWrBitsPerWord = 0x40016b03 // _IOW(SPI_IOC_MAGIC, 3, u8)
	spiIOCWrMaxSpeedHz  = 0x40046b04 // _IOW(SPI_IOC_MAGIC, 4, u32)

	gpioGetLineHandleIOCTL = 0xc16cb403 // GPIO_GET_LINEHANDLE_IOCTL
	gpioGetLineEventIOCTL  = 0xc030b404 // GPIO_GET_LINEEVENT_IOCTL
	gpioHandleSetLineValuesIOCTL = 0xc040b409
	gpioHandleGetLineValuesIOCTL = 0xc040b408

	gpioHandleRequestOutput  = 1 << 1
	gpioHandleRequestInput   = 1 << 0
	gpioHandleRequestActiveLow = 1 << 2

	gpioEventRequestFallingEdge = 1 << 1

	spiMaxSpeedHz = 2_000_000
)

// gpioHandleRequest mirrors struct gpiohandle_request (linux/gpio.h).
type gpioHandleRequest struct {
	lineOffsets   [64]uint32
	flags         uint32
	defaultValues [64]uint8
	consumerLabel [32]byte
	lines         uint32
	fd            int32
}

// gpioHandleData mirrors struct gpiohandle_data.
type gpioHandleData struct {
	values [64]uint8
}

// gpioEventRequest mirrors struct gpioevent_request.
type gpioEventRequest struct {
	lineOffset    uint32
	handleFlags   uint32
	eventFlags    uint32
	consumerLabel [32]byte
	fd            int32
}

// LinuxConfig names the spidev character device and the gpio-cdev lines a
// real bridge deployment wires up.
type LinuxConfig struct {
	SpiDevice  string // e.g. "/dev/spidev0.0"
	GpioChip   string // e.g. "/dev/gpiochip0"
	CSLine     uint32
	ResetLine  uint32
	WakeLine   uint32
	InterruptLine uint32
}

// linuxSpiDevice implements SpiDevice over a real spidev character device
// and gpio-cdev line handles.
type linuxSpiDevice struct {
	spiFd int

	csFd   int
	rstFd  int
	wakeFd int
	intFd  int
}

// OpenLinux opens the spidev device and requests the CS/reset/wake line
// handles plus a falling-edge line event for the interrupt, per cfg.
func OpenLinux(cfg LinuxConfig) (SpiDevice, error) {
	spiFd, err := unix.Open(cfg.SpiDevice, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("ncp: open %s: %w", cfg.SpiDevice, err)
	}

	mode := uint8(unix.SPI_MODE_0)
	if err := ioctlSetU8(spiFd, spiIOCWrMode, mode); err != nil {
		unix.Close(spiFd)
		return nil, fmt.Errorf("ncp: set SPI mode: %w", err)
	}
	if err := ioctlSetU8(spiFd, spiIOCWrBitsPerWord, 8); err != nil {
		unix.Close(spiFd)
		return nil, fmt.Errorf("ncp: set bits per word: %w", err)
	}
	if err := ioctlSetU32(spiFd, spiIOCWrMaxSpeedHz, spiMaxSpeedHz); err != nil {
		unix.Close(spiFd)
		return nil, fmt.Errorf("ncp: set max speed: %w", err)
	}

	chipFd, err := unix.Open(cfg.GpioChip, unix.O_RDWR, 0)
	if err != nil {
		unix.Close(spiFd)
		return nil, fmt.Errorf("ncp: open %s: %w", cfg.GpioChip, err)
	}
	defer unix.Close(chipFd)

	csFd, err := requestOutputLine(chipFd, cfg.CSLine, "ezsp-spi-bridge-cs")
	if err != nil {
		unix.Close(spiFd)
		return nil, err
	}
	rstFd, err := requestOutputLine(chipFd, cfg.ResetLine, "ezsp-spi-bridge-reset")
	if err != nil {
		unix.Close(spiFd)
		unix.Close(csFd)
		return nil, err
	}
	wakeFd, err := requestOutputLine(chipFd, cfg.WakeLine, "ezsp-spi-bridge-wake")
	if err != nil {
		unix.Close(spiFd)
		unix.Close(csFd)
		unix.Close(rstFd)
		return nil, err
	}
	intFd, err := requestInterruptLine(chipFd, cfg.InterruptLine, "ezsp-spi-bridge-int")
	if err != nil {
		unix.Close(spiFd)
		unix.Close(csFd)
		unix.Close(rstFd)
		unix.Close(wakeFd)
		return nil, err
	}

	return &linuxSpiDevice{spiFd: spiFd, csFd: csFd, rstFd: rstFd, wakeFd: wakeFd, intFd: intFd}, nil
}

func requestOutputLine(chipFd int, offset uint32, label string) (int, error) {
	var req gpioHandleRequest
	req.lineOffsets[0] = offset
	req.lines = 1
	req.flags = gpioHandleRequestOutput | gpioHandleRequestActiveLow
	copy(req.consumerLabel[:], label)

	if err := ioctlPtr(chipFd, gpioGetLineHandleIOCTL, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("ncp: request gpio line %d: %w", offset, err)
	}
	return int(req.fd), nil
}

func requestInterruptLine(chipFd int, offset uint32, label string) (int, error) {
	var req gpioEventRequest
	req.lineOffset = offset
	req.handleFlags = gpioHandleRequestInput | gpioHandleRequestActiveLow
	req.eventFlags = gpioEventRequestFallingEdge
	copy(req.consumerLabel[:], label)

	if err := ioctlPtr(chipFd, gpioGetLineEventIOCTL, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("ncp: request gpio event line %d: %w", offset, err)
	}
	return int(req.fd), nil
}

func (d *linuxSpiDevice) Read(buf []byte) (int, error) {
	return unix.Read(d.spiFd, buf)
}

func (d *linuxSpiDevice) Write(buf []byte) (int, error) {
	return unix.Write(d.spiFd, buf)
}

func (d *linuxSpiDevice) DropUntilNonFF() (byte, error) {
	b := make([]byte, 1)
	for {
		if _, err := unix.Read(d.spiFd, b); err != nil {
			return 0, err
		}
		if b[0] != 0xFF {
			return b[0], nil
		}
	}
}

func (d *linuxSpiDevice) SetCS(asserted bool) error    { return setLine(d.csFd, asserted) }
func (d *linuxSpiDevice) SetWake(asserted bool) error   { return setLine(d.wakeFd, asserted) }
func (d *linuxSpiDevice) SetReset(asserted bool) error  { return setLine(d.rstFd, asserted) }

func setLine(fd int, asserted bool) error {
	var data gpioHandleData
	if asserted {
		data.values[0] = 1
	}
	return ioctlPtr(fd, gpioHandleSetLineValuesIOCTL, unsafe.Pointer(&data))
}

// PollInterrupt waits up to timeout for a falling-edge event on the
// interrupt line's fd, via poll(2). A timeout of 0 polls without blocking.
func (d *linuxSpiDevice) PollInterrupt(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.intFd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	var event [16]byte // struct gpioevent_data { u64 timestamp; u32 id; }
	if _, err := unix.Read(d.intFd, event[:]); err != nil {
		return false, err
	}
	return true, nil
}

func ioctlSetU8(fd int, req uintptr, val uint8) error {
	return ioctlPtr(fd, req, unsafe.Pointer(&val))
}

func ioctlSetU32(fd int, req uintptr, val uint32) error {
	return ioctlPtr(fd, req, unsafe.Pointer(&val))
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
