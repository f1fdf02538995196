package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Reader != "SIM1" {
		t.Errorf("Reader = %q", cfg.Reader)
	}
	aid, err := cfg.ARAAIDBytes()
	if err != nil {
		t.Fatalf("ARAAIDBytes() error = %v", err)
	}
	if len(aid) != 9 || aid[0] != 0xA0 {
		t.Errorf("ARAAIDBytes() = % X", aid)
	}
	path, err := cfg.ARFPathIDs()
	if err != nil {
		t.Fatalf("ARFPathIDs() error = %v", err)
	}
	if len(path) != 2 || path[0] != 0x3F00 || path[1] != 0x4300 {
		t.Errorf("ARFPathIDs() = %04X", path)
	}
	if cfg.TransmitTimeout != 10*time.Second {
		t.Errorf("TransmitTimeout = %v", cfg.TransmitTimeout)
	}
	ranges, err := cfg.SimIORanges()
	if err != nil {
		t.Fatalf("SimIORanges() error = %v", err)
	}
	if len(ranges) != 2 || ranges[0].From != 0x2F00 || ranges[0].To != 0x2FFF {
		t.Errorf("SimIORanges() = %+v", ranges)
	}
}

func TestLoad_File(t *testing.T) {
	yaml := `
reader: eSE1
araAid: A000000151000000
maxLogicalChannels: 19
transmitTimeout: 2s
simIoFiles:
  - "6F07"
  - "6F20-6F2F"
logLevel: debug
`
	path := filepath.Join(t.TempDir(), "omapi.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Reader != "eSE1" || cfg.MaxLogicalChannels != 19 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.TransmitTimeout != 2*time.Second {
		t.Errorf("TransmitTimeout = %v", cfg.TransmitTimeout)
	}
	ranges, err := cfg.SimIORanges()
	if err != nil {
		t.Fatalf("SimIORanges() error = %v", err)
	}
	if len(ranges) != 2 || ranges[0].From != 0x6F07 || ranges[0].To != 0x6F07 {
		t.Errorf("SimIORanges() = %+v", ranges)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Reader:             "SIM1",
			ARAAID:             "A00000015141434C00",
			ARFPath:            []string{"3F00", "4300"},
			MaxLogicalChannels: 3,
			SimIOFiles:         []string{"6F00-6FFF"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty reader", func(c *Config) { c.Reader = "" }, true},
		{"odd hex aid", func(c *Config) { c.ARAAID = "A0000" }, true},
		{"aid too short", func(c *Config) { c.ARAAID = "A000" }, true},
		{"bad path id", func(c *Config) { c.ARFPath = []string{"XYZ"} }, true},
		{"channels out of range", func(c *Config) { c.MaxLogicalChannels = 20 }, true},
		{"inverted sim io range", func(c *Config) { c.SimIOFiles = []string{"6FFF-6F00"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
