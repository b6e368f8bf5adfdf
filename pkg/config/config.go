// Package config loads the bridge's configuration surface: the TCP
// address/port the host connects to, the SPI/GPIO device lines, and the log
// level. Values come from built-in defaults, a YAML file, and environment
// variables prefixed EZSP_BRIDGE_, in that order of increasing precedence.
// CLI flags are not a source of these values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// SPI holds the device/gpiochip paths and line offsets a real bridge
// deployment wires up, matching spec.md §6's configuration surface.
type SPI struct {
	Device    string `mapstructure:"device"`
	GPIOChip  string `mapstructure:"gpiochip"`
	CSLine    uint32 `mapstructure:"cs_line"`
	IntLine   uint32 `mapstructure:"int_line"`
	ResetLine uint32 `mapstructure:"reset_line"`
	WakeLine  uint32 `mapstructure:"wake_line"`
}

// Config is the bridge's complete runtime configuration.
type Config struct {
	Address  string `mapstructure:"address"`
	Port     uint16 `mapstructure:"port"`
	SPI      SPI    `mapstructure:"spi"`
	LogLevel string `mapstructure:"loglevel"`
}

// ListenAddr returns the address:port pair to pass to net.Listen.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Load reads configuration from path (if non-empty and present), then
// EZSP_BRIDGE_-prefixed environment variables, then returns the merged
// Config with spec-mandated defaults applied.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("address", "0.0.0.0")
	v.SetDefault("port", 5555)
	v.SetDefault("loglevel", "info")
	v.SetDefault("spi.device", "/dev/spidev0.0")
	v.SetDefault("spi.gpiochip", "/dev/gpiochip0")
	v.SetDefault("spi.cs_line", 0)
	v.SetDefault("spi.int_line", 1)
	v.SetDefault("spi.reset_line", 2)
	v.SetDefault("spi.wake_line", 3)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("ezsp_bridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
