package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rabidaudio/wavstream/player"
	"github.com/rabidaudio/wavstream/sampler"
	"gopkg.in/yaml.v3"
)

// Config is the wavplay configuration. It's read from an optional YAML file
// and then overridden by any flags given on the command line.
type Config struct {
	Backend  string `yaml:"backend"` // file, mem, fat or spi
	Path     string `yaml:"path"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	NoUI     bool   `yaml:"no_ui"`

	Cache  CacheConfig   `yaml:"cache"`
	Filler FillerConfig  `yaml:"filler"`
	SPI    SPIConfig     `yaml:"spi"`
	Buffer time.Duration `yaml:"speaker_buffer"`
}

type CacheConfig struct {
	BlockSize int `yaml:"block_size"`
	NumBlocks int `yaml:"num_blocks"`
}

type FillerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	MaxFillsPerTick int           `yaml:"max_fills_per_tick"`
}

type SPIConfig struct {
	ChipSelect uint8 `yaml:"chip_select"`
	Base       int64 `yaml:"base"`
	Length     int64 `yaml:"length"`
}

var backends = map[string]bool{"file": true, "mem": true, "fat": true, "spi": true}

func DefaultConfig() Config {
	return Config{
		Backend:  "file",
		LogLevel: "info",
		Cache: CacheConfig{
			BlockSize: sampler.DefaultBlockSize,
			NumBlocks: sampler.DefaultNumBlocks,
		},
		Filler: FillerConfig{
			Interval:        player.DefaultInterval,
			MaxFillsPerTick: player.DefaultMaxFillsPerTick,
		},
		Buffer: 100 * time.Millisecond,
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults. The result isn't validated since flags may still complete it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %v: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !backends[c.Backend] {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend != "spi" && c.Path == "" {
		return fmt.Errorf("backend %v needs a path", c.Backend)
	}
	if c.Backend == "spi" && c.SPI.Length <= 0 {
		return fmt.Errorf("spi backend needs a region length")
	}
	if c.Cache.BlockSize < 0 || c.Cache.NumBlocks < 0 {
		return fmt.Errorf("negative cache size")
	}
	return nil
}

// parseArgs builds the configuration from the command line. Flags that
// were set win over the config file.
func parseArgs(args []string) (Config, error) {
	fs := flag.NewFlagSet("wavplay", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "YAML config file")
		backend    = fs.String("backend", "", "storage backend: file, mem, fat or spi")
		logLevel   = fs.String("log-level", "", "log level (debug, info, warn, ...)")
		logFile    = fs.String("log-file", "", "log to this file instead of stderr")
		noUI       = fs.Bool("no-ui", false, "play without the terminal status view")
		blockSize  = fs.Int("block-size", 0, "cache block size in bytes")
		numBlocks  = fs.Int("blocks", 0, "number of cache blocks")
		interval   = fs.Duration("fill-interval", 0, "time between fill ticks")
		spiBase    = fs.Int64("spi-base", 0, "flash offset of the WAV image")
		spiLength  = fs.Int64("spi-length", 0, "length of the WAV image in flash")
		spiCS      = fs.Uint("spi-cs", 0, "SPI chip select")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: wavplay [flags] [file.wav]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogFile = *logFile
		case "no-ui":
			cfg.NoUI = *noUI
		case "block-size":
			cfg.Cache.BlockSize = *blockSize
		case "blocks":
			cfg.Cache.NumBlocks = *numBlocks
		case "fill-interval":
			cfg.Filler.Interval = *interval
		case "spi-base":
			cfg.SPI.Base = *spiBase
		case "spi-length":
			cfg.SPI.Length = *spiLength
		case "spi-cs":
			cfg.SPI.ChipSelect = uint8(*spiCS)
		}
	})
	if fs.NArg() > 0 {
		cfg.Path = fs.Arg(0)
	}
	return cfg, cfg.Validate()
}
