// Package config loads analysis settings from YAML or TOML files. Command
// line flags override file values; both start from Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"unpe/internal/backend"
	"unpe/internal/binfmt"
	"unpe/internal/diag"
	"unpe/internal/discover"
	"unpe/internal/logging"
)

var (
	ErrUnknownFormat = errors.New("config: unknown file format")
	ErrInvalid       = errors.New("config: invalid value")
)

// Prologue is an extra prologue signature. Arch defaults to the image's.
type Prologue struct {
	Family string `yaml:"family" toml:"family"`
	Bytes  string `yaml:"bytes" toml:"bytes"`
	Arch   string `yaml:"arch,omitempty" toml:"arch,omitempty"`
}

// Config holds every tunable of a run.
type Config struct {
	Arch           string     `yaml:"arch" toml:"arch"` // "" = from the image
	Window         int        `yaml:"window" toml:"window"`
	CallWindow     int        `yaml:"call_window" toml:"call_window"`
	Workers        int        `yaml:"workers" toml:"workers"`
	ScanPartitions int        `yaml:"scan_partitions" toml:"scan_partitions"`
	Targets        []string   `yaml:"targets" toml:"targets"`
	Mode           string     `yaml:"mode" toml:"mode"`
	ExtraPrologues []Prologue `yaml:"extra_prologues" toml:"extra_prologues"`
	MinComplexity  string     `yaml:"min_complexity" toml:"min_complexity"`
	MaxFunctions   int        `yaml:"max_functions" toml:"max_functions"`
	OutputDir      string     `yaml:"output_dir" toml:"output_dir"`
	LogLevel       string     `yaml:"log_level" toml:"log_level"`
	LogFormat      string     `yaml:"log_format" toml:"log_format"` // auto, text, json
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Window:     discover.DefaultWindow,
		CallWindow: 8,
		Targets:    []string{"c"},
		Mode:       diag.ModeBestEffort.String(),
		OutputDir:  "out",
		LogLevel:   "info",
		LogFormat:  "auto",
	}
}

// Load reads path over Default. The format is chosen by extension.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default. format is a file extension such as
// ".yaml" or "toml". Unknown keys are rejected.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config: yaml: %w", err)
		}
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: toml: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown names and negative sizes.
func (c Config) Validate() error {
	if c.Arch != "" {
		if _, err := binfmt.ParseArch(c.Arch); err != nil {
			return fmt.Errorf("%w: arch: %w", ErrInvalid, err)
		}
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"window", c.Window},
		{"call_window", c.CallWindow},
		{"workers", c.Workers},
		{"scan_partitions", c.ScanPartitions},
		{"max_functions", c.MaxFunctions},
	} {
		if f.v < 0 {
			return fmt.Errorf("%w: %s is negative (%d)", ErrInvalid, f.name, f.v)
		}
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: no targets", ErrInvalid)
	}
	for _, t := range c.Targets {
		if _, err := backend.Lookup(t); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if _, err := diag.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch discover.Complexity(c.MinComplexity) {
	case "", discover.Simple, discover.Medium, discover.Complex:
	default:
		return fmt.Errorf("%w: min_complexity %q", ErrInvalid, c.MinComplexity)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch c.LogFormat {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalid, c.LogFormat)
	}
	for _, p := range c.ExtraPrologues {
		arch := binfmt.ArchX86
		if p.Arch != "" {
			a, err := binfmt.ParseArch(p.Arch)
			if err != nil {
				return fmt.Errorf("%w: prologue %q: %w", ErrInvalid, p.Bytes, err)
			}
			arch = a
		}
		if _, err := discover.ParseSignature(arch, p.Family, p.Bytes); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// Signatures returns the extra prologues for arch. Prologues pinned to
// another arch are skipped.
func (c Config) Signatures(arch binfmt.Arch) ([]discover.Signature, error) {
	var out []discover.Signature
	for _, p := range c.ExtraPrologues {
		if p.Arch != "" {
			a, err := binfmt.ParseArch(p.Arch)
			if err != nil {
				return nil, fmt.Errorf("config: prologue %q: %w", p.Bytes, err)
			}
			if a != arch {
				continue
			}
		}
		s, err := discover.ParseSignature(arch, p.Family, p.Bytes)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// DiagMode returns the parsed error handling mode.
func (c Config) DiagMode() diag.Mode {
	m, _ := diag.ParseMode(c.Mode)
	return m
}
