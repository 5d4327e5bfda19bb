// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
)

const defaultLogLevel = "NOTICE"

// Logging is the client logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := lCfg.Level
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lCfg.Level = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lvl)
	}
	return nil
}

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Config is the client configuration.
type Config struct {
	// Server is the "address:port" of the hub to connect to.
	Server string

	// UserID is the id this participant identifies with in the chat.
	UserID string

	// Logging is the logging configuration.
	Logging *Logging
}

// FixupAndValidate applies defaults to missing sections and validates
// the configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Server == "" {
		return errors.New("config: No Server block was present")
	}
	if _, _, err := net.SplitHostPort(cfg.Server); err != nil {
		return fmt.Errorf("config: Server '%v' is invalid: %v", cfg.Server, err)
	}
	if cfg.UserID == "" {
		return errors.New("config: No UserID was present")
	}
	if cfg.Logging == nil {
		cfg.Logging = &defaultLogging
	}
	return cfg.Logging.validate()
}

// Load parses and validates the provided buffer b as a client config.
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
// the client config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
