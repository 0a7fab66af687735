package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"unpe/internal/binfmt"
	"unpe/internal/config"
	"unpe/internal/logging"
	"unpe/internal/pex"
)

var (
	ConfigFlag = &cli.PathFlag{
		Name:  "config",
		Usage: "YAML or TOML configuration file",
	}
	ArchFlag = &cli.StringFlag{
		Name:  "arch",
		Usage: "override the image architecture: x86, x86-64",
	}
	ModeFlag = &cli.StringFlag{
		Name:  "mode",
		Usage: "error handling: best-effort, strict",
	}
	WindowFlag = &cli.IntFlag{
		Name:  "window",
		Usage: "epilogue search window in bytes",
	}
	WorkersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "parallel workers (0 = GOMAXPROCS)",
	}
	RawFlag = &cli.BoolFlag{
		Name:  "raw",
		Usage: "treat the input as a headerless code blob",
	}
	BaseFlag = &cli.StringFlag{
		Name:  "base",
		Usage: "load address of a --raw blob",
		Value: "0x401000",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn, error",
	}
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "auto, text, json",
	}
)

var globalFlags = []cli.Flag{
	ConfigFlag,
	ArchFlag,
	ModeFlag,
	WindowFlag,
	WorkersFlag,
	RawFlag,
	BaseFlag,
	LogLevelFlag,
	LogFormatFlag,
}

var errNoInput = errors.New("missing input file")

const configKey = "config"

// setup loads the configuration, applies flag overrides and installs the
// logger. Commands read the result with configFrom.
func setup(c *cli.Context) error {
	cfg := config.Default()
	if path := c.Path(ConfigFlag.Name); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if c.IsSet(ArchFlag.Name) {
		cfg.Arch = c.String(ArchFlag.Name)
	}
	if c.IsSet(ModeFlag.Name) {
		cfg.Mode = c.String(ModeFlag.Name)
	}
	if c.IsSet(WindowFlag.Name) {
		cfg.Window = c.Int(WindowFlag.Name)
	}
	if c.IsSet(WorkersFlag.Name) {
		cfg.Workers = c.Int(WorkersFlag.Name)
	}
	if c.IsSet(LogLevelFlag.Name) {
		cfg.LogLevel = c.String(LogLevelFlag.Name)
	}
	if c.IsSet(LogFormatFlag.Name) {
		cfg.LogFormat = c.String(LogFormatFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

// configFrom returns the configuration installed by setup.
func configFrom(c *cli.Context) config.Config {
	if cfg, ok := c.App.Metadata[configKey].(config.Config); ok {
		return cfg
	}
	return config.Default()
}

// loadImage opens the command's input as a PE image, or as a raw blob
// with --raw.
func loadImage(c *cli.Context, cfg config.Config) (*binfmt.Image, error) {
	path := c.Args().First()
	if path == "" {
		return nil, errNoInput
	}
	if !c.Bool(RawFlag.Name) {
		img, err := pex.Open(path)
		if err != nil {
			return nil, err
		}
		slog.Debug("loaded image", "path", path, "arch", img.Arch.String(), "sections", len(img.Sections), "imports", len(img.Imports))
		return img, nil
	}

	arch := binfmt.ArchX86
	if cfg.Arch != "" {
		a, err := binfmt.ParseArch(cfg.Arch)
		if err != nil {
			return nil, err
		}
		arch = a
	}
	base, err := strconv.ParseUint(c.String(BaseFlag.Name), 0, 64)
	if err != nil {
		return nil, fmt.Errorf("--base: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := pex.Raw(data, arch, base)
	if err != nil {
		return nil, err
	}
	img.Path = path
	return img, nil
}
