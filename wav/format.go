package wav

import (
	"encoding/binary"
	"fmt"
)

// FormatPCM is the fmt chunk audio format code for linear PCM.
// It's the only encoding this package plays.
const FormatPCM = 0x0001

// formatSize is the length of the fields read from a fmt chunk.
// Extended fmt payloads (valid bits, channel mask, sub-format GUID)
// follow these 16 bytes and are skipped with the rest of the chunk.
const formatSize = 16

// Format is the decoded fmt chunk.
type Format struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16 // bytes per frame, all channels
	BitsPerSample uint16
}

func parseFormat(p []byte) Format {
	le := binary.LittleEndian
	return Format{
		AudioFormat:   le.Uint16(p[0:2]),
		NumChannels:   le.Uint16(p[2:4]),
		SampleRate:    le.Uint32(p[4:8]),
		ByteRate:      le.Uint32(p[8:12]),
		BlockAlign:    le.Uint16(p[12:14]),
		BitsPerSample: le.Uint16(p[14:16]),
	}
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d bit", f.SampleRate, f.NumChannels, f.BitsPerSample)
}
