package mock

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rabidaudio/wavstream/storage"
)

// Slow delays every Seek and Read of the wrapped Storage and counts them.
type Slow struct {
	storage.Storage
	Delay time.Duration

	Seeks atomic.Int64
	Reads atomic.Int64
}

var _ storage.Storage = (*Slow)(nil)

func (s *Slow) Seek(offset int64) error {
	s.Seeks.Add(1)
	time.Sleep(s.Delay)
	return s.Storage.Seek(offset)
}

func (s *Slow) Read(p []byte) (int, error) {
	s.Reads.Add(1)
	time.Sleep(s.Delay)
	return s.Storage.Read(p)
}

// Aligned fails any seek that isn't a multiple of BlockSize and any read
// that isn't a whole number of blocks, but only once Armed. Header parsing
// happens before arming.
type Aligned struct {
	storage.Storage
	BlockSize int64
	Armed     bool

	Seeks int
	Reads int
}

var _ storage.Storage = (*Aligned)(nil)

func (a *Aligned) Seek(offset int64) error {
	if a.Armed {
		a.Seeks++
		if offset%a.BlockSize != 0 {
			return fmt.Errorf("must seek in blocks: offset %d", offset)
		}
	}
	return a.Storage.Seek(offset)
}

func (a *Aligned) Read(p []byte) (int, error) {
	if a.Armed {
		a.Reads++
		if int64(len(p))%a.BlockSize != 0 {
			return 0, fmt.Errorf("must read in blocks: size %d", len(p))
		}
	}
	return a.Storage.Read(p)
}

// Failing wraps a Storage and fails reads after the first FailAfter
// successful ones. A negative FailAfter never fails.
type Failing struct {
	storage.Storage
	FailAfter int
	Err       error

	reads int
}

var _ storage.Storage = (*Failing)(nil)

func (f *Failing) Read(p []byte) (int, error) {
	if f.FailAfter >= 0 && f.reads >= f.FailAfter {
		return 0, f.Err
	}
	f.reads++
	return f.Storage.Read(p)
}
