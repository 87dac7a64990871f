// Package player drives a [sampler.Stream] in real time: [Streamer] is the
// consumer that feeds a beep speaker, [Filler] is the producer that keeps
// the ring primed.
package player

import (
	"fmt"
	"sync/atomic"

	"github.com/faiface/beep"
	"github.com/rabidaudio/wavstream/sampler"
)

// DefaultChunk is the number of frames converted per pass in Stream.
const DefaultChunk = 1024

// Streamer plays a loaded sampler.Stream through beep. Cache misses are
// padded with silence and counted as underruns; the cursor holds its place
// so playback resumes where it stalled.
type Streamer[T sampler.Sample] struct {
	s        *sampler.Stream[T]
	channels int
	buf      []T

	// values of a frame split by a miss, held until the rest arrives.
	// carryAt is the cursor they were read up to.
	carry   []T
	carryAt int64

	scale  float64
	center float64

	underruns atomic.Int64
}

// NewStreamer wraps s, which must already be loaded.
func NewStreamer[T sampler.Sample](s *sampler.Stream[T]) *Streamer[T] {
	ch := max(s.NumChannels(), 1)
	bits := max(s.BitsPerSample(), 1)
	st := &Streamer[T]{
		s:        s,
		channels: ch,
		buf:      make([]T, DefaultChunk*ch),
		carry:    make([]T, 0, ch),
		scale:    float64(int64(1) << (bits - 1)),
	}
	if bits == 8 {
		// 8-bit WAV is unsigned
		st.center = 128
	}
	return st
}

// Format describes the stream for speaker.Init and resamplers.
func (st *Streamer[T]) Format() beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(st.s.SampleRate()),
		NumChannels: min(st.channels, 2),
		Precision:   st.s.BitsPerSample() / 8,
	}
}

func (st *Streamer[T]) Stream(samples [][2]float64) (n int, ok bool) {
	if st.s.AtEOF() {
		return 0, false
	}
	ch := st.channels
	if len(st.carry) > 0 && st.s.SampleIndex() != st.carryAt {
		// the cursor moved under us
		st.carry = st.carry[:0]
	}
	for n < len(samples) {
		want := min(len(samples)-n, len(st.buf)/ch)
		held := copy(st.buf, st.carry)
		got := held + st.s.Read(st.buf[held:want*ch])
		frames := got / ch
		st.carry = append(st.carry[:0], st.buf[frames*ch:got]...)
		st.carryAt = st.s.SampleIndex()
		for i := range frames {
			l := st.convert(st.buf[i*ch])
			r := l
			if ch > 1 {
				r = st.convert(st.buf[i*ch+1])
			}
			samples[n+i] = [2]float64{l, r}
		}
		n += frames
		if frames == want {
			continue
		}
		if st.s.AtEOF() {
			return n, true
		}
		st.underruns.Add(1)
		for i := n; i < len(samples); i++ {
			samples[i] = [2]float64{}
		}
		return len(samples), true
	}
	return n, true
}

func (st *Streamer[T]) convert(v T) float64 {
	return (float64(v) - st.center) / st.scale
}

// Err is always nil: load errors are reported by sampler.Stream.Load and
// misses are not errors.
func (st *Streamer[T]) Err() error {
	return nil
}

// Len is the stream length in frames.
func (st *Streamer[T]) Len() int {
	return int(st.s.NumSamples())
}

// Position is the cursor in frames. A frame split by a miss counts once
// all of it has been played.
func (st *Streamer[T]) Position() int {
	return int(st.s.SampleIndex()) / st.channels
}

// Seek moves the cursor to frame p.
func (st *Streamer[T]) Seek(p int) error {
	if p < 0 || p > st.Len() {
		return fmt.Errorf("player: seek position %v out of range [%v, %v]", p, 0, st.Len())
	}
	st.carry = st.carry[:0]
	st.s.SetSampleIndex(int64(p) * int64(st.channels))
	return nil
}

// Underruns counts Stream calls padded with silence.
func (st *Streamer[T]) Underruns() int64 {
	return st.underruns.Load()
}

func (st *Streamer[T]) Close() error {
	return st.s.Close()
}

// ensure interface conformation
var _ beep.StreamSeekCloser = (*Streamer[int16])(nil)
