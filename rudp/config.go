package rudp

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the transport tunables. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// Largest datagram to emit. Payloads that don't fit are split.
	MaxPacketSize int `yaml:"max_packet_size"`

	// Disconnect a peer after this long without any datagram from it.
	PeerTimeout time.Duration `yaml:"peer_timeout"`

	// Send a reliable ping to every peer once per this interval.
	PingInterval time.Duration `yaml:"ping_interval"`

	// How many commands and packets one send-worker pass may move.
	MaxCommandsPerIteration int `yaml:"max_commands_per_iteration"`
	MaxPacketsPerIteration  int `yaml:"max_packets_per_iteration"`

	// Upper bound on retransmissions selected per channel per pass.
	MaxResendsPerIteration int `yaml:"max_resends_per_iteration"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxPacketSize:           MaxPktSize,
		PeerTimeout:             30 * time.Second,
		PingInterval:            5 * time.Second,
		MaxCommandsPerIteration: 64,
		MaxPacketsPerIteration:  256,
		MaxResendsPerIteration:  32,
	}
}

// UnmarshalYAML decodes a config, leaving absent keys untouched so the
// caller's defaults survive. Durations are "10s"-style strings.
func (cfg *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		MaxPacketSize           *int    `yaml:"max_packet_size"`
		PeerTimeout             *string `yaml:"peer_timeout"`
		PingInterval            *string `yaml:"ping_interval"`
		MaxCommandsPerIteration *int    `yaml:"max_commands_per_iteration"`
		MaxPacketsPerIteration  *int    `yaml:"max_packets_per_iteration"`
		MaxResendsPerIteration  *int    `yaml:"max_resends_per_iteration"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	setDuration := func(dst *time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}

	if raw.MaxPacketSize != nil {
		cfg.MaxPacketSize = *raw.MaxPacketSize
	}
	if err := setDuration(&cfg.PeerTimeout, raw.PeerTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.PingInterval, raw.PingInterval); err != nil {
		return err
	}
	if raw.MaxCommandsPerIteration != nil {
		cfg.MaxCommandsPerIteration = *raw.MaxCommandsPerIteration
	}
	if raw.MaxPacketsPerIteration != nil {
		cfg.MaxPacketsPerIteration = *raw.MaxPacketsPerIteration
	}
	if raw.MaxResendsPerIteration != nil {
		cfg.MaxResendsPerIteration = *raw.MaxResendsPerIteration
	}
	return nil
}

// LoadConfig reads a yaml config file, applying defaults for absent keys.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.check()
}

func (cfg Config) check() error {
	if cfg.MaxPacketSize < BaseHdrSize+RelHdrSize+SplitHdrSize+1 {
		return fmt.Errorf("max_packet_size %d too small", cfg.MaxPacketSize)
	}
	if cfg.MaxPacketSize > MaxPktSize {
		return fmt.Errorf("max_packet_size %d exceeds %d", cfg.MaxPacketSize, MaxPktSize)
	}
	if cfg.PeerTimeout <= cfg.PingInterval {
		return fmt.Errorf("peer_timeout %v must exceed ping_interval %v",
			cfg.PeerTimeout, cfg.PingInterval)
	}
	return nil
}
