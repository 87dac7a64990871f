package wav

import (
	"bytes"
	"encoding/binary"
)

type chunk struct {
	id      string
	payload []byte
}

func newChunk(id string, payload []byte) chunk {
	return chunk{id: id, payload: payload}
}

func fmtPayload(audioFormat, channels, sampleRate, bits int) []byte {
	buf := new(bytes.Buffer)
	blockAlign := channels * bits / 8
	binary.Write(buf, binary.LittleEndian, uint16(audioFormat))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bits))
	return buf.Bytes()
}

// riffFile lays the chunks out back to back after a RIFF/WAVE header.
// No pad bytes are inserted.
func riffFile(chunks ...chunk) []byte {
	body := new(bytes.Buffer)
	body.WriteString("WAVE")
	for _, c := range chunks {
		body.WriteString(c.id)
		binary.Write(body, binary.LittleEndian, uint32(len(c.payload)))
		body.Write(c.payload)
	}
	out := new(bytes.Buffer)
	out.WriteString("RIFF")
	binary.Write(out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}
