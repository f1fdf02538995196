// Package config loads the reader-specific conventions the terminal
// needs at construction time: where the access rule sources live on
// the card, channel limits, transmit timeout and the elementary files
// the low-level simIO path may touch. Values come from a YAML file
// with OMAPI_-prefixed environment overrides.
package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full terminal configuration.
type Config struct {
	// Reader is the stable reader name ("SIM1", "eSE1", ...).
	Reader string `mapstructure:"reader"`

	// ARAAID is the access rule authority applet AID, hex encoded.
	ARAAID string `mapstructure:"araAid"`

	// ARFPath is the file path to the access rule file: hex file
	// identifiers, DF chain first, the rule EF last.
	ARFPath []string `mapstructure:"arfPath"`

	// MaxLogicalChannels bounds logical channels on the card.
	MaxLogicalChannels int `mapstructure:"maxLogicalChannels"`

	// TransmitTimeout bounds one card exchange.
	TransmitTimeout time.Duration `mapstructure:"transmitTimeout"`

	// SimIOFiles are the elementary file ranges simIO may address,
	// as "from-to" or single hex file ids.
	SimIOFiles []string `mapstructure:"simIoFiles"`

	// LogLevel: trace, debug, info, warn or error.
	LogLevel string `mapstructure:"logLevel"`
}

// EFRange is one allowed elementary file id range, inclusive.
type EFRange struct {
	From uint16
	To   uint16
}

// Load reads the configuration file at path. An empty path loads
// defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("reader", "SIM1")
	v.SetDefault("araAid", "A00000015141434C00")
	v.SetDefault("arfPath", []string{"3F00", "4300"})
	v.SetDefault("maxLogicalChannels", 3)
	v.SetDefault("transmitTimeout", "10s")
	v.SetDefault("simIoFiles", []string{"2F00-2FFF", "6F00-6FFF"})
	v.SetDefault("logLevel", "info")

	v.SetEnvPrefix("OMAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks hex fields and ranges.
func (c *Config) Validate() error {
	if c.Reader == "" {
		return fmt.Errorf("config: reader name required")
	}
	if _, err := c.ARAAIDBytes(); err != nil {
		return err
	}
	if _, err := c.ARFPathIDs(); err != nil {
		return err
	}
	if _, err := c.SimIORanges(); err != nil {
		return err
	}
	if c.MaxLogicalChannels < 1 || c.MaxLogicalChannels > 19 {
		return fmt.Errorf("config: maxLogicalChannels %d out of range 1-19", c.MaxLogicalChannels)
	}
	return nil
}

// ARAAIDBytes decodes the configured authority AID.
func (c *Config) ARAAIDBytes() ([]byte, error) {
	aid, err := hex.DecodeString(c.ARAAID)
	if err != nil {
		return nil, fmt.Errorf("config: araAid: %w", err)
	}
	if len(aid) < 5 || len(aid) > 16 {
		return nil, fmt.Errorf("config: araAid length %d out of range 5-16", len(aid))
	}
	return aid, nil
}

// ARFPathIDs decodes the configured rule file path.
func (c *Config) ARFPathIDs() ([]uint16, error) {
	out := make([]uint16, 0, len(c.ARFPath))
	for _, s := range c.ARFPath {
		fid, err := parseFileID(s)
		if err != nil {
			return nil, fmt.Errorf("config: arfPath: %w", err)
		}
		out = append(out, fid)
	}
	return out, nil
}

// SimIORanges decodes the simIO elementary file allowlist.
func (c *Config) SimIORanges() ([]EFRange, error) {
	out := make([]EFRange, 0, len(c.SimIOFiles))
	for _, s := range c.SimIOFiles {
		from, to, ok := strings.Cut(s, "-")
		if !ok {
			to = from
		}
		lo, err := parseFileID(from)
		if err != nil {
			return nil, fmt.Errorf("config: simIoFiles: %w", err)
		}
		hi, err := parseFileID(to)
		if err != nil {
			return nil, fmt.Errorf("config: simIoFiles: %w", err)
		}
		if hi < lo {
			return nil, fmt.Errorf("config: simIoFiles: inverted range %s", s)
		}
		out = append(out, EFRange{From: lo, To: hi})
	}
	return out, nil
}

func parseFileID(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("file id %q: %w", s, err)
	}
	return uint16(n), nil
}
