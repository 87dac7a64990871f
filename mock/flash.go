// Package mock provides storage test doubles: a fake SPI flash chip and
// wrappers that slow down or police the I/O pattern of another Storage.
package mock

import (
	"github.com/rabidaudio/wavstream/storage"
)

// Flash emulates a SPI NOR flash chip answering READ DATA and JEDEC ID.
// Pass its Exchange method as [storage.SPIFlash.Exchange].
type Flash struct {
	Data   []byte
	JEDEC  [3]byte // defaults to a W25Q16 (EF 40 15) when zero
	Silent bool    // when set the chip never drives the bus, like an unplugged part

	Transactions int
	BytesRead    int
}

var _ storage.ExchangeFunc = (*Flash)(nil).Exchange

func (m *Flash) Exchange(p []byte) {
	m.Transactions++
	if m.Silent || len(p) == 0 {
		clear(p)
		return
	}
	switch p[0] {
	case storage.CmdJEDECID:
		id := m.JEDEC
		if id == [3]byte{} {
			id = [3]byte{0xEF, 0x40, 0x15}
		}
		p[0] = 0
		copy(p[1:], id[:])
	case storage.CmdRead:
		if len(p) < 4 {
			clear(p)
			return
		}
		addr := int(p[1])<<16 | int(p[2])<<8 | int(p[3])
		clear(p[:4])
		out := p[4:]
		for i := range out {
			if addr+i < len(m.Data) {
				out[i] = m.Data[addr+i]
			} else {
				out[i] = 0xFF // erased
			}
		}
		m.BytesRead += len(out)
	default:
		clear(p)
	}
}
