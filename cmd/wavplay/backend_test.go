package main

import (
	"testing"

	"github.com/rabidaudio/wavstream/internal/wavtest"
	"github.com/rabidaudio/wavstream/storage"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStorage(t *testing.T) {
	path := wavtest.WriteFile(t, t.TempDir(), "tone.wav", wavtest.File{
		Channels:   1,
		SampleRate: 8000,
		Bits:       16,
		Data:       wavtest.PCM16(wavtest.Ramp16(2000)),
	})

	for _, backend := range []string{"file", "mem", "fat"} {
		t.Run(backend, func(t *testing.T) {
			log, _ := test.NewNullLogger()
			cfg := DefaultConfig()
			cfg.Backend = backend
			cfg.Path = path

			st, release, err := openStorage(cfg, log)
			require.NoError(t, err)
			defer func() { assert.NoError(t, release()) }()

			bits, err := probeBits(st, log)
			require.NoError(t, err)
			assert.Equal(t, 16, bits)
		})
	}
}

func TestOpenStorageMissingFile(t *testing.T) {
	log, _ := test.NewNullLogger()
	for _, backend := range []string{"mem", "fat"} {
		cfg := DefaultConfig()
		cfg.Backend = backend
		cfg.Path = "/nonexistent/tone.wav"
		_, release, err := openStorage(cfg, log)
		assert.Error(t, err, backend)
		assert.NoError(t, release())
	}
}

func TestOpenStorageSPI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "spi"
	cfg.SPI = SPIConfig{ChipSelect: 1, Base: 4096, Length: 10000}

	st, release, err := openStorage(cfg, logrus.New())
	require.NoError(t, err)
	defer release()

	flash, ok := st.(*storage.SPIFlash)
	require.True(t, ok)
	assert.EqualValues(t, 1, flash.ChipSelect)
	assert.EqualValues(t, 4096, flash.Base)
	assert.EqualValues(t, 10000, flash.Length)
}

func TestOpenStorageUnknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "tape"
	_, _, err := openStorage(cfg, logrus.New())
	assert.Error(t, err)
}

func TestProbeBitsRejectsGarbage(t *testing.T) {
	log, hook := test.NewNullLogger()
	st := storage.NewMem("junk.wav", []byte("this is not a wave file at all"))
	_, err := probeBits(st, log)
	assert.Error(t, err)
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, "opened", e.Message)
	}
}
