// Command wavplay plays a WAV file through the streaming sample cache, the
// same way the embedded player does, with the speaker standing in for the
// DAC and a filler goroutine standing in for the low-priority timer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rabidaudio/wavstream/internal/logging"
)

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "wavplay: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "wavplay: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	var logOut io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	} else if !cfg.NoUI {
		// the status view owns the terminal
		logOut = io.Discard
	}
	log := logging.New(logOut, cfg.LogLevel)

	st, release, err := openStorage(cfg, log)
	defer func() {
		if err := release(); err != nil {
			log.WithError(err).Warn("release backend")
		}
	}()
	if err != nil {
		return err
	}

	bits, err := probeBits(st, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch bits {
	case 8:
		err = play[uint8](ctx, cfg, st, log)
	case 16:
		err = play[int16](ctx, cfg, st, log)
	case 32:
		err = play[int32](ctx, cfg, st, log)
	default:
		err = fmt.Errorf("%d-bit audio is not supported", bits)
	}
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}
