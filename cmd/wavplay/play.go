package main

import (
	"context"
	"path/filepath"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/rabidaudio/wavstream/player"
	"github.com/rabidaudio/wavstream/sampler"
	"github.com/rabidaudio/wavstream/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func play[T sampler.Sample](ctx context.Context, cfg Config, st storage.Storage, log logrus.FieldLogger) error {
	s := sampler.New[T](sampler.Config{
		BlockSize: cfg.Cache.BlockSize,
		NumBlocks: cfg.Cache.NumBlocks,
		Logger:    log,
	})
	if err := s.Load(st); err != nil {
		return err
	}
	streamer := player.NewStreamer(s)
	defer streamer.Close()

	format := streamer.Format()
	if err := speaker.Init(format.SampleRate, format.SampleRate.N(cfg.Buffer)); err != nil {
		return err
	}
	defer speaker.Close()

	// fill the ring before the lead-in starts playing
	for range cfg.Cache.NumBlocks {
		s.Prime()
	}

	ended := make(chan struct{}, 1)
	start := func() {
		speaker.Play(beep.Seq(streamer, beep.Callback(func() {
			select {
			case ended <- struct{}{}:
			default:
			}
		})))
	}

	g, ctx := errgroup.WithContext(ctx)
	filler := &player.Filler{
		Interval:        cfg.Filler.Interval,
		MaxFillsPerTick: cfg.Filler.MaxFillsPerTick,
		Logger:          log,
	}
	g.Go(func() error {
		return filler.Run(ctx, s)
	})

	start()
	log.WithFields(logrus.Fields{
		"rate":     format.SampleRate,
		"channels": s.NumChannels(),
		"lead_in":  s.LeadInSize(),
	}).Info("playing")

	if cfg.NoUI {
		g.Go(func() error {
			select {
			case <-ended:
				return errQuit
			case <-ctx.Done():
				return nil
			}
		})
	} else {
		u := &ui{
			title:  filepath.Base(cfg.Path),
			rate:   format.SampleRate,
			t:      streamer,
			stats:  s.Stats,
			blocks: s.BlockMap,
			ended:  ended,
			start:  start,
		}
		g.Go(func() error {
			return u.run(ctx)
		})
	}

	err := g.Wait()
	speaker.Clear()
	log.WithFields(logrus.Fields{
		"underruns": streamer.Underruns(),
		"fills":     s.Stats().Fills,
		"misses":    s.Stats().Misses,
	}).Info("stopped")
	return err
}
