//go:build linux

package main

import (
	"github.com/proman21/ezsp-spi-bridge/pkg/config"
	"github.com/proman21/ezsp-spi-bridge/pkg/ncp"
)

// openSpiDevice opens the real spidev/gpio-cdev transport, unless devFake
// requests the in-process loopback NCP for development without hardware.
func openSpiDevice(cfg config.Config, devFake bool) (ncp.SpiDevice, error) {
	if devFake {
		return ncp.NewDevFakeSpiDevice(), nil
	}
	return ncp.OpenLinux(ncp.LinuxConfig{
		SpiDevice:     cfg.SPI.Device,
		GpioChip:      cfg.SPI.GPIOChip,
		CSLine:        cfg.SPI.CSLine,
		ResetLine:     cfg.SPI.ResetLine,
		WakeLine:      cfg.SPI.WakeLine,
		InterruptLine: cfg.SPI.IntLine,
	})
}
