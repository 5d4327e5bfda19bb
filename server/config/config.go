// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the hub configuration.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress        = ":34778"
	defaultMaxConnections = 32
	defaultLogLevel       = "NOTICE"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the hub configuration.
type Server struct {
	// Address is the "address:port" the hub listens on for incoming
	// connections.
	Address string

	// MaxConnections caps the number of concurrent connections and
	// sizes the fan-out intake queue.
	MaxConnections int

	// MetricsAddress is the optional "address:port" to expose
	// Prometheus metrics on.  Metrics are disabled when omitted.
	MetricsAddress string
}

func (sCfg *Server) validate() error {
	if sCfg.Address == "" {
		sCfg.Address = defaultAddress
	}
	if _, _, err := net.SplitHostPort(sCfg.Address); err != nil {
		return fmt.Errorf("config: Server: Address '%v' is invalid: %v", sCfg.Address, err)
	}
	if sCfg.MaxConnections == 0 {
		sCfg.MaxConnections = defaultMaxConnections
	}
	if sCfg.MaxConnections < 2 {
		return fmt.Errorf("config: Server: MaxConnections %d is too small for a chat", sCfg.MaxConnections)
	}
	if sCfg.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(sCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Server: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err)
		}
	}
	return nil
}

// Logging is the hub logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	switch lCfg.Level {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lCfg.Level = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	return nil
}

// Config is the top level hub configuration.
type Config struct {
	Server  *Server
	Logging *Logging
}

// FixupAndValidate applies defaults to missing sections and validates
// the configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Server == nil {
		cfg.Server = new(Server)
	}
	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if cfg.Logging == nil {
		cfg.Logging = &defaultLogging
	}
	return cfg.Logging.validate()
}

// Load parses and validates the provided buffer b as a hub config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	err := toml.Unmarshal(b, cfg)
	if err != nil {
		return nil, err
	}
	if err = cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns
// the hub config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
