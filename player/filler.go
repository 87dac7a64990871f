package player

import (
	"context"
	"time"

	"github.com/rabidaudio/wavstream/internal/logging"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval        = 2 * time.Millisecond
	DefaultMaxFillsPerTick = 4
)

// Primer is the fill side of a sampler.Stream.
type Primer interface {
	Prime() bool
}

// Filler calls Prime on a fixed cadence. It's the only goroutine that should
// drive the stream's storage.
type Filler struct {
	Interval        time.Duration // time between ticks
	MaxFillsPerTick int           // Prime calls per tick while they keep filling
	Logger          logrus.FieldLogger
}

// Run primes p until ctx is cancelled. Each tick calls Prime until it
// reports no fill or MaxFillsPerTick is reached, so a freshly seeked stream
// catches up within a few ticks without hogging storage.
func (f *Filler) Run(ctx context.Context, p Primer) error {
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	perTick := f.MaxFillsPerTick
	if perTick <= 0 {
		perTick = DefaultMaxFillsPerTick
	}
	log := logging.OrDiscard(f.Logger)
	log.WithFields(logrus.Fields{
		"interval": interval,
		"per_tick": perTick,
	}).Debug("player: filler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var fills int64
	for {
		select {
		case <-ctx.Done():
			log.WithField("fills", fills).Debug("player: filler stopped")
			return nil
		case <-ticker.C:
		}
		for i := 0; i < perTick && p.Prime(); i++ {
			fills++
		}
	}
}
