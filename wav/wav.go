// Package wav is a random-access reader for RIFF/WAVE containers holding
// uncompressed PCM.
//
// Unlike a streaming decoder it never reads sample data on its own. It
// locates the fmt and data chunks once, then maps sample positions to byte
// offsets so a caller can seek anywhere in the data and read raw frames.
package wav

import (
	"encoding/binary"
	"time"

	"github.com/go-audio/riff"
	"github.com/pkg/errors"
	"github.com/rabidaudio/wavstream/internal/logging"
	"github.com/rabidaudio/wavstream/storage"
	"github.com/sirupsen/logrus"
)

// chunkHeaderSize is a 4-byte tag plus a little-endian uint32 length.
const chunkHeaderSize = 8

// Container is an opened WAV file. It owns the storage cursor: every
// Seek and Read moves it.
type Container struct {
	s      storage.Storage
	log    logrus.FieldLogger
	format Format

	offset     int64 // storage byte position
	numSamples int64 // in frames
	dataOffset int64
	dataSize   int64
	fileSize   int64
}

// Open opens s and parses the container. On failure s is closed and the
// returned error matches [ErrMalformed].
func Open(s storage.Storage) (*Container, error) {
	return OpenL(s, nil)
}

// OpenL is like [Open] but logs chunk parsing to logger.
func OpenL(s storage.Storage, logger logrus.FieldLogger) (c *Container, err error) {
	if s == nil {
		return nil, malformedf("no storage")
	}
	if err := s.Open(); err != nil {
		return nil, malformed(err, "open storage")
	}
	c = &Container{s: s, log: logging.OrDiscard(logger)}
	defer func() {
		if err != nil {
			_ = s.Close()
			c = nil
		}
	}()
	if err := s.Seek(0); err != nil {
		return nil, malformed(err, "seek to start")
	}
	if err := c.parse(); err != nil {
		return nil, err
	}
	if err := c.Seek(0); err != nil {
		return nil, malformed(err, "seek to data")
	}
	return c, nil
}

func (c *Container) readExact(p []byte, what string) error {
	n, err := c.s.Read(p)
	if err != nil {
		return malformed(err, "read "+what)
	}
	if n != len(p) {
		return malformedf("read %s: short read, got %d of %d bytes", what, n, len(p))
	}
	return nil
}

func (c *Container) parse() error {
	le := binary.LittleEndian

	var hdr [chunkHeaderSize]byte
	if err := c.readExact(hdr[:], "RIFF header"); err != nil {
		return err
	}
	if [4]byte(hdr[:4]) != riff.RiffID {
		return malformedf("expected RIFF tag, got %q", hdr[:4])
	}
	c.fileSize = chunkHeaderSize + int64(le.Uint32(hdr[4:]))

	var typ [4]byte
	if err := c.readExact(typ[:], "RIFF type"); err != nil {
		return err
	}
	if typ != riff.WavFormatID {
		return malformedf("expected WAVE type, got %q", typ[:])
	}

	// Scanning stops at the declared RIFF size, or at the end of the
	// medium if that comes first (e.g. a header written before the
	// recording finished).
	end := c.fileSize
	if size, err := c.s.Size(); err == nil && size > 0 && size < end {
		end = size
	}

	var haveFmt, haveData bool
	var dataLen int64
	for {
		if err := c.readExact(hdr[:], "chunk header"); err != nil {
			return err
		}
		pos, err := c.s.Position()
		if err != nil {
			return malformed(err, "chunk position")
		}
		id := [4]byte(hdr[:4])
		size := int64(le.Uint32(hdr[4:]))
		next := pos + size

		c.log.WithFields(logrus.Fields{
			"chunk":  string(id[:]),
			"offset": pos,
			"size":   size,
		}).Debug("wav: chunk")

		switch id {
		case riff.FmtID:
			if size < formatSize {
				return malformedf("fmt chunk too small: %d bytes", size)
			}
			var p [formatSize]byte
			if err := c.readExact(p[:], "fmt chunk"); err != nil {
				return err
			}
			c.format = parseFormat(p[:])
			haveFmt = true
		case riff.DataFormatID:
			c.dataOffset = pos
			dataLen = size
			haveData = true
		}

		if next >= end {
			break
		}
		if err := c.s.Seek(next); err != nil {
			return malformed(err, "seek to next chunk")
		}
	}

	// the data length is interpreted only after the scan, so a data
	// chunk may come before fmt
	if !haveFmt {
		return malformedf("missing fmt chunk")
	}
	if !haveData {
		return malformedf("missing data chunk")
	}
	if c.format.AudioFormat != FormatPCM {
		return malformedf("unsupported audio format %#04x", c.format.AudioFormat)
	}
	if c.format.BlockAlign == 0 {
		return malformedf("zero frame size")
	}

	if size, err := c.s.Size(); err == nil && size >= c.dataOffset && c.dataOffset+dataLen > size {
		c.log.WithFields(logrus.Fields{
			"declared":  dataLen,
			"available": size - c.dataOffset,
		}).Warn("wav: data chunk runs past end of storage, truncating")
		dataLen = size - c.dataOffset
	}

	c.dataSize = dataLen
	c.numSamples = dataLen / int64(c.format.BlockAlign)
	c.log.WithFields(logrus.Fields{
		"format":  c.format.String(),
		"samples": c.numSamples,
		"data":    c.dataOffset,
	}).Debug("wav: opened")
	return nil
}

// FilePositionForSample maps a sample (frame) index to its byte offset in
// storage. The index is clipped to [0, NumSamples].
func (c *Container) FilePositionForSample(sample int64) int64 {
	clipped := min(max(sample, 0), c.numSamples)
	return c.dataOffset + clipped*int64(c.format.BlockAlign)
}

// Seek moves the storage cursor to sample, clipped to [0, NumSamples].
func (c *Container) Seek(sample int64) error {
	clipped := min(max(sample, 0), c.numSamples)
	off := c.FilePositionForSample(clipped)
	if err := c.s.Seek(off); err != nil {
		return errors.Wrapf(err, "wav: seek to sample %d", clipped)
	}
	c.offset = off
	return nil
}

// SeekData moves the storage cursor to a byte offset relative to the start
// of the data chunk, clipped to the data length. It lets a caller address
// storage blocks that don't start on a frame boundary.
func (c *Container) SeekData(offset int64) error {
	clipped := min(max(offset, 0), c.dataSize)
	if err := c.s.Seek(c.dataOffset + clipped); err != nil {
		return errors.Wrapf(err, "wav: seek to data offset %d", clipped)
	}
	c.offset = c.dataOffset + clipped
	return nil
}

// Read reads raw bytes at the cursor and returns how many were transferred.
//
// It does not enforce frame alignment; callers that want whole frames must
// ask for a multiple of FrameSize. It also doesn't stop at the end of the
// data chunk, so a caller should clip against DataSize.
func (c *Container) Read(p []byte) (int, error) {
	n, err := c.s.Read(p)
	c.offset += int64(n)
	return n, err
}

// Position returns the sample index at the cursor, clipped to
// [0, NumSamples].
func (c *Container) Position() int64 {
	pos := (c.offset - c.dataOffset) / int64(c.format.BlockAlign)
	return min(max(pos, 0), c.numSamples)
}

// Close closes the underlying storage.
func (c *Container) Close() error {
	return c.s.Close()
}

func (c *Container) Format() Format { return c.format }
func (c *Container) SampleRate() int { return int(c.format.SampleRate) }
func (c *Container) NumChannels() int { return int(c.format.NumChannels) }
func (c *Container) BitsPerSample() int { return int(c.format.BitsPerSample) }
func (c *Container) FrameSize() int { return int(c.format.BlockAlign) }
func (c *Container) NumSamples() int64 { return c.numSamples }
func (c *Container) DataOffset() int64 { return c.dataOffset }
func (c *Container) DataSize() int64 { return c.dataSize }
func (c *Container) FileSize() int64 { return c.fileSize }

// Storage returns the handle the container reads from.
func (c *Container) Storage() storage.Storage {
	return c.s
}

// Duration is the playing time of the data chunk.
func (c *Container) Duration() time.Duration {
	if c.format.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.numSamples) * time.Second / time.Duration(c.format.SampleRate)
}
