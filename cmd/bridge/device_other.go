//go:build !linux

package main

import (
	"fmt"

	"github.com/proman21/ezsp-spi-bridge/pkg/config"
	"github.com/proman21/ezsp-spi-bridge/pkg/ncp"
)

// openSpiDevice on non-Linux platforms only supports the in-process
// loopback NCP; the real transport is implemented against Linux's
// spidev/gpio-cdev ABIs (see device_linux.go).
func openSpiDevice(cfg config.Config, devFake bool) (ncp.SpiDevice, error) {
	if devFake {
		return ncp.NewDevFakeSpiDevice(), nil
	}
	return nil, fmt.Errorf("cmd/bridge: real SPI/GPIO transport requires linux; pass -dev-fake-ncp")
}
