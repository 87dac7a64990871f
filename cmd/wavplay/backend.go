package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rabidaudio/wavstream/storage"
	"github.com/rabidaudio/wavstream/vfs"
	"github.com/rabidaudio/wavstream/wav"
	"github.com/sirupsen/logrus"
)

// openStorage builds the configured backend. release tears down anything
// the backend created around the storage and is safe to call on error.
func openStorage(cfg Config, log logrus.FieldLogger) (st storage.Storage, release func() error, err error) {
	release = func() error { return nil }

	switch cfg.Backend {
	case "file":
		return storage.NewFile(cfg.Path), release, nil

	case "mem":
		data, err := os.ReadFile(cfg.Path)
		if err != nil {
			return nil, release, err
		}
		return storage.NewMem(filepath.Base(cfg.Path), data), release, nil

	case "fat":
		fsys, err := vfs.Create()
		if err != nil {
			return nil, release, fmt.Errorf("create flash image: %w", err)
		}
		fsys.Logger = log
		vol := vfs.Volume{
			Name:   "wavplay",
			Tracks: []vfs.Track{{Title: filepath.Base(cfg.Path), Path: cfg.Path}},
		}
		if err := fsys.LoadVolume(vol); err != nil {
			_ = fsys.Close()
			return nil, release, err
		}
		st, err := fsys.OpenTrack(0)
		if err != nil {
			_ = fsys.Close()
			return nil, release, err
		}
		log.WithField("image", fsys.Path).Info("streaming from FAT32 image")
		return st, fsys.Close, nil

	case "spi":
		return &storage.SPIFlash{
			ChipSelect: cfg.SPI.ChipSelect,
			Base:       cfg.SPI.Base,
			Length:     cfg.SPI.Length,
		}, release, nil
	}
	return nil, release, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// probeBits opens the container once to pick the sample type.
func probeBits(st storage.Storage, log logrus.FieldLogger) (int, error) {
	c, err := wav.OpenL(st, log)
	if err != nil {
		return 0, err
	}
	bits := c.BitsPerSample()
	log.WithFields(logrus.Fields{
		"format":   c.Format().String(),
		"duration": c.Duration(),
	}).Info("opened")
	return bits, c.Close()
}
