package storage

import (
	"errors"
	"fmt"
	"io"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// SPI NOR flash commands (W25Qxx and compatibles).
const (
	CmdRead    = 0x03 // READ DATA, 24-bit address, up to 50 MHz on most parts
	CmdJEDECID = 0x9F // manufacturer + device id
)

// SPI_SPEED is the default clock for flash reads.
const SPI_SPEED = 10_000_000 // 10 MHz

// MaxFlashRead bounds the bytes clocked out in a single transaction.
const MaxFlashRead = 4096

var ErrNoResponse = fmt.Errorf("spiflash: no response from flash chip")

// ExchangeFunc clocks p out on the bus and overwrites it with the bytes
// clocked in, like [rpio.SpiExchange].
type ExchangeFunc func(p []byte)

// SPIFlash reads a raw, contiguous region of a SPI NOR flash chip.
// A WAV file is expected to have been written starting at Base.
//
// The zero value talks to chip select 0 on SPI0 and treats the whole
// 24-bit address space (16 MiB) as the medium.
type SPIFlash struct {
	Dev        rpio.SpiDev
	ChipSelect uint8
	Speed      int
	Base       int64 // first byte of the region
	Length     int64 // region length in bytes; 0 means to the end of the address space

	// Exchange overrides the bus transfer; when nil, go-rpio is used.
	Exchange ExchangeFunc

	opened  bool
	ownsBus bool
	offset  int64
	txbuf   []byte
	jedecID [3]byte
}

// ensure interface conformation
var _ Storage = (*SPIFlash)(nil)

const flashAddressSpace = 1 << 24

func (f *SPIFlash) length() int64 {
	if f.Length > 0 {
		return f.Length
	}
	return flashAddressSpace - f.Base
}

// Open brings up the bus and probes the chip's JEDEC id.
func (f *SPIFlash) Open() error {
	if f.opened {
		return nil
	}
	if f.Base < 0 || f.Base >= flashAddressSpace || f.Base+f.length() > flashAddressSpace {
		return fmt.Errorf("spiflash: region [%d, %d) outside 24-bit address space", f.Base, f.Base+f.length())
	}
	if f.Exchange == nil {
		if err := rpio.Open(); err != nil {
			return err
		}
		if err := rpio.SpiBegin(f.Dev); err != nil {
			_ = rpio.Close()
			return err
		}
		speed := f.Speed
		if speed == 0 {
			speed = SPI_SPEED
		}
		rpio.SpiChipSelect(f.ChipSelect)
		rpio.SpiSpeed(speed)
		f.Exchange = rpio.SpiExchange
		f.ownsBus = true
	}

	id := []byte{CmdJEDECID, 0, 0, 0}
	f.Exchange(id)
	if allEqual(id[1:], 0x00) || allEqual(id[1:], 0xFF) {
		f.release()
		return ErrNoResponse
	}
	copy(f.jedecID[:], id[1:])
	f.txbuf = make([]byte, 4+MaxFlashRead)
	f.offset = 0
	f.opened = true
	return nil
}

func allEqual(p []byte, v byte) bool {
	for _, b := range p {
		if b != v {
			return false
		}
	}
	return true
}

// JEDECID returns the manufacturer, memory type and capacity bytes read on Open.
func (f *SPIFlash) JEDECID() [3]byte {
	return f.jedecID
}

func (f *SPIFlash) release() {
	if f.ownsBus {
		rpio.SpiEnd(f.Dev)
		_ = rpio.Close()
		f.Exchange = nil
		f.ownsBus = false
	}
}

func (f *SPIFlash) Close() error {
	if !f.opened {
		return nil
	}
	f.release()
	f.opened = false
	return nil
}

func (f *SPIFlash) Seek(offset int64) error {
	if !f.opened {
		return ErrNotOpen
	}
	if offset < 0 || offset > f.length() {
		return fmt.Errorf("spiflash: seek %d out of range [0, %d]", offset, f.length())
	}
	f.offset = offset
	return nil
}

// Read issues READ DATA transactions of at most MaxFlashRead bytes until p
// is full or the region ends.
func (f *SPIFlash) Read(p []byte) (n int, err error) {
	if !f.opened {
		return 0, ErrNotOpen
	}
	for n < len(p) {
		remaining := f.length() - f.offset
		if remaining <= 0 {
			break
		}
		size := min(len(p)-n, MaxFlashRead, int(remaining))
		addr := f.Base + f.offset
		tx := f.txbuf[:4+size]
		tx[0] = CmdRead
		tx[1] = byte(addr >> 16)
		tx[2] = byte(addr >> 8)
		tx[3] = byte(addr)
		clear(tx[4:])
		f.Exchange(tx)
		copy(p[n:n+size], tx[4:])
		n += size
		f.offset += int64(size)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write is not supported; flash is programmed out of band.
func (f *SPIFlash) Write(p []byte) (int, error) {
	return 0, errors.ErrUnsupported
}

func (f *SPIFlash) Position() (int64, error) {
	if !f.opened {
		return -1, ErrNotOpen
	}
	return f.offset, nil
}

func (f *SPIFlash) Size() (int64, error) {
	if !f.opened {
		return -1, ErrNotOpen
	}
	return f.length(), nil
}
