// Package wavtest builds WAV fixtures for tests.
package wavtest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// File describes a PCM WAV laid out as RIFF, an optional JUNK chunk, fmt,
// data and an optional trailing LIST chunk. Pad moves the data offset.
type File struct {
	Channels   int
	SampleRate int
	Bits       int
	Data       []byte
	Pad        int    // JUNK payload bytes before fmt; 0 omits the chunk
	Trailer    []byte // LIST payload after data; nil omits the chunk
}

// DataOffset is where the data payload will start.
func (f File) DataOffset() int64 {
	off := int64(12 + 8 + 16 + 8)
	if f.Pad > 0 {
		off += 8 + int64(f.Pad)
	}
	return off
}

func (f File) Bytes() []byte {
	le := binary.LittleEndian
	body := new(bytes.Buffer)
	body.WriteString("WAVE")
	if f.Pad > 0 {
		body.WriteString("JUNK")
		binary.Write(body, le, uint32(f.Pad))
		body.Write(make([]byte, f.Pad))
	}

	align := f.Channels * f.Bits / 8
	body.WriteString("fmt ")
	binary.Write(body, le, uint32(16))
	binary.Write(body, le, uint16(1))
	binary.Write(body, le, uint16(f.Channels))
	binary.Write(body, le, uint32(f.SampleRate))
	binary.Write(body, le, uint32(f.SampleRate*align))
	binary.Write(body, le, uint16(align))
	binary.Write(body, le, uint16(f.Bits))

	body.WriteString("data")
	binary.Write(body, le, uint32(len(f.Data)))
	body.Write(f.Data)

	if f.Trailer != nil {
		body.WriteString("LIST")
		binary.Write(body, le, uint32(len(f.Trailer)))
		body.Write(f.Trailer)
	}

	out := new(bytes.Buffer)
	out.WriteString("RIFF")
	binary.Write(out, le, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

// Ramp16 is a deterministic run of n distinct-looking 16-bit samples.
func Ramp16(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i*97 - 30000)
	}
	return s
}

func PCM16(samples []int16) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

func PCM32(samples []int32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// WriteFile writes f into dir and returns the path.
func WriteFile(tb testing.TB, dir, name string, f File) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		tb.Fatal(err)
	}
	return path
}

// Encode writes 16-bit PCM samples with the go-audio encoder, which lays
// out a canonical 44-byte header.
func Encode(tb testing.TB, dir string, sampleRate, channels int, samples []int16) string {
	tb.Helper()
	path := filepath.Join(dir, "encoded.wav")
	f, err := os.Create(path)
	if err != nil {
		tb.Fatal(err)
	}
	defer f.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	enc := gowav.NewEncoder(f, sampleRate, 16, channels, 1)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err == nil {
		err = enc.Close()
	}
	if err != nil {
		tb.Fatal(err)
	}
	return path
}
