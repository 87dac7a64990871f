// Package sampler serves PCM samples from a WAV container on slow storage to
// a real-time consumer.
//
// A [Stream] keeps two in-memory regions. The lead-in mirrors the start of
// the data chunk and is sized so that everything after it begins on a
// storage block boundary. The ring is a handful of block-sized slots that
// [Stream.Prime] refills one aligned storage read at a time, keeping the
// blocks nearest the read head resident. [Stream.Read] only ever copies from
// those two regions: it never touches storage, never allocates and never
// waits on a lock, so it is safe to call from an audio callback.
//
// Read and Prime are meant to run on two different goroutines, one each.
// Load, Close and the geometry accessors must not race with either.
package sampler

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/rabidaudio/wavstream/internal/logging"
	"github.com/rabidaudio/wavstream/storage"
	"github.com/rabidaudio/wavstream/wav"
	"github.com/sirupsen/logrus"
)

// Sample is a single channel value as stored in the container. The bit
// depth of the file must match the size of the type exactly.
type Sample interface {
	~uint8 | ~int16 | ~int32
}

const (
	DefaultBlockSize = 4096 // bytes
	DefaultNumBlocks = 3
)

// unmapped marks a ring slot that holds no block.
const unmapped int64 = -1

// Config sizes a Stream. Zero fields take the defaults.
type Config struct {
	BlockSize int                // bytes per ring block and per storage read
	NumBlocks int                // ring slots
	Logger    logrus.FieldLogger // fill path only; nil discards
}

type slot[T Sample] struct {
	mu    sync.Mutex
	block atomic.Int64 // file-block index or unmapped
	valid atomic.Int64 // elements of buf that hold data
	buf   []T
}

// Stream is the streaming sample cache. Positions are counted in sample
// elements: one channel value of type T, so a stereo frame is two elements.
type Stream[T Sample] struct {
	log      logrus.FieldLogger
	elemSize int
	spb      int64 // elements per block

	c           *wav.Container
	loaded      atomic.Bool
	leadIn      []T
	leadInSize  int64 // elements
	leadInBytes int64
	total       int64 // elements in the stream
	lastBlock   int64 // -1 when everything fits in the lead-in

	slots  []slot[T]
	raw    []byte // fill scratch, only touched by Load and Prime
	cursor atomic.Int64

	fills  atomic.Int64
	misses atomic.Int64
}

// New allocates every buffer the stream will use. Nothing is allocated
// after this.
func New[T Sample](cfg Config) *Stream[T] {
	var zero T
	elemSize := int(unsafe.Sizeof(zero))

	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	blockSize -= blockSize % elemSize
	if blockSize < elemSize {
		blockSize = elemSize
	}
	numBlocks := cfg.NumBlocks
	if numBlocks <= 0 {
		numBlocks = DefaultNumBlocks
	}

	spb := blockSize / elemSize
	s := &Stream[T]{
		log:       logging.OrDiscard(cfg.Logger),
		elemSize:  elemSize,
		spb:       int64(spb),
		leadIn:    make([]T, 2*spb),
		slots:     make([]slot[T], numBlocks),
		raw:       make([]byte, 2*blockSize),
		lastBlock: -1,
	}
	ring := make([]T, numBlocks*spb)
	for i := range s.slots {
		s.slots[i].buf = ring[i*spb : (i+1)*spb : (i+1)*spb]
		s.slots[i].block.Store(unmapped)
	}
	return s
}

// leadInLength is the number of bytes the lead-in must span so that the
// storage offset right after it is a multiple of blockBytes.
func leadInLength(fileOffset, blockBytes int64) int64 {
	switch {
	case fileOffset < blockBytes:
		return (blockBytes - fileOffset) + blockBytes
	case fileOffset%blockBytes != 0:
		return (blockBytes - fileOffset%blockBytes) + blockBytes
	default:
		return 2 * blockBytes
	}
}

// Load opens the container on s and fills the lead-in. The cursor is reset
// to 0 and every ring slot is unmapped. Any previously loaded container is
// closed first.
func (s *Stream[T]) Load(st storage.Storage) error {
	s.unload()

	c, err := wav.OpenL(st, s.log)
	if err != nil {
		s.log.WithError(err).Warn("sampler: open failed")
		return ErrBadFile
	}
	if c.BitsPerSample() != 8*s.elemSize {
		s.log.WithFields(logrus.Fields{
			"file": c.BitsPerSample(),
			"want": 8 * s.elemSize,
		}).Warn("sampler: bit depth mismatch")
		_ = c.Close()
		return ErrBadSampleSize
	}

	blockBytes := s.spb * int64(s.elemSize)
	want := min(leadInLength(c.DataOffset(), blockBytes), c.DataSize())
	want -= want % int64(s.elemSize)

	if err := c.Seek(0); err != nil {
		s.log.WithError(err).Warn("sampler: seek to lead-in failed")
		_ = c.Close()
		return ErrBadFile
	}
	n, err := c.Read(s.raw[:want])
	if err != nil || int64(n) < want {
		s.log.WithError(err).WithFields(logrus.Fields{
			"got":  n,
			"want": want,
		}).Warn("sampler: short lead-in read")
		_ = c.Close()
		return ErrBadFile
	}
	decode(s.leadIn, s.raw[:n], s.elemSize)

	s.c = c
	s.leadInBytes = want
	s.leadInSize = want / int64(s.elemSize)
	s.total = c.NumSamples() * int64(c.NumChannels())
	s.lastBlock = -1
	if s.total > s.leadInSize {
		s.lastBlock = (s.total - s.leadInSize - 1) / s.spb
	}
	for i := range s.slots {
		s.slots[i].block.Store(unmapped)
		s.slots[i].valid.Store(0)
	}
	s.cursor.Store(0)
	s.fills.Store(0)
	s.misses.Store(0)
	s.loaded.Store(true)

	s.log.WithFields(logrus.Fields{
		"format":    c.Format().String(),
		"elements":  s.total,
		"lead_in":   s.leadInSize,
		"blocks":    s.lastBlock + 1,
		"block_len": s.spb,
	}).Debug("sampler: loaded")
	return nil
}

func (s *Stream[T]) unload() {
	s.loaded.Store(false)
	if s.c != nil {
		_ = s.c.Close()
		s.c = nil
	}
	s.leadInSize, s.leadInBytes, s.total, s.lastBlock = 0, 0, 0, -1
	s.cursor.Store(0)
}

// Close releases the container and its storage. The stream can be loaded
// again afterwards.
func (s *Stream[T]) Close() error {
	s.loaded.Store(false)
	if s.c == nil {
		return nil
	}
	err := s.c.Close()
	s.c = nil
	return err
}

// Read copies up to len(buf) elements starting at the cursor and advances
// the cursor by the number copied. It returns early on a cache miss or at
// end of stream; neither is an error. Read never touches storage.
func (s *Stream[T]) Read(buf []T) int {
	if !s.loaded.Load() {
		return 0
	}
	start := s.cursor.Load()
	cur := start
	want := int(min(int64(len(buf)), s.total-cur))
	if want <= 0 {
		return 0
	}

	n := 0
	if cur < s.leadInSize {
		k := copy(buf[:want], s.leadIn[cur:s.leadInSize])
		n += k
		cur += int64(k)
	}
	for n < want {
		rel := cur - s.leadInSize
		k := s.copyBlock(buf[n:want], rel/s.spb, rel%s.spb)
		if k == 0 {
			s.misses.Add(1)
			break
		}
		n += k
		cur += int64(k)
	}

	// a concurrent SetSampleIndex wins over our advance
	s.cursor.CompareAndSwap(start, cur)
	return n
}

// copyBlock copies from the slot holding block, starting at element off.
// A slot that's being refilled counts as a miss.
func (s *Stream[T]) copyBlock(dst []T, block, off int64) int {
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.block.Load() != block {
			continue
		}
		if !sl.mu.TryLock() {
			return 0
		}
		k := 0
		if sl.block.Load() == block {
			if valid := sl.valid.Load(); off < valid {
				k = copy(dst, sl.buf[off:valid])
			}
		}
		sl.mu.Unlock()
		return k
	}
	return 0
}

// readHeadBlock is the file block under the cursor, 0 while the cursor is
// in the lead-in.
func (s *Stream[T]) readHeadBlock() int64 {
	cur := s.cursor.Load()
	if cur < s.leadInSize {
		return 0
	}
	return (cur - s.leadInSize) / s.spb
}

func distance(block, head int64) int64 {
	if block == unmapped {
		return math.MaxInt64
	}
	if block > head {
		return block - head
	}
	return head - block
}

func (s *Stream[T]) mapped(block int64) bool {
	for i := range s.slots {
		if s.slots[i].block.Load() == block {
			return true
		}
	}
	return false
}

// candidate finds the unmapped block nearest head, looking ahead before
// behind at each distance. Only distances below maxDiff are considered so
// a fill always moves the ring closer to head.
func (s *Stream[T]) candidate(head, maxDiff int64) (int64, bool) {
	bound := max(head, s.lastBlock-head)
	for d := int64(0); d < maxDiff && d <= bound; d++ {
		if s.free(head + d) {
			return head + d, true
		}
		if d > 0 && s.free(head-d) {
			return head - d, true
		}
	}
	return 0, false
}

// free reports whether block exists in the stream and isn't resident.
func (s *Stream[T]) free(block int64) bool {
	return block >= 0 && block <= s.lastBlock && !s.mapped(block)
}

// Prime performs at most one storage read to bring the ring closer to the
// read head. It evicts the slot furthest from the head (unmapped slots
// first) and loads the nearest block not yet resident. It reports whether
// a block was loaded; false means the ring is already as good as it gets
// for the current cursor, or the read failed.
//
// Prime blocks on storage and must not be called from the real-time path.
func (s *Stream[T]) Prime() bool {
	if !s.loaded.Load() || s.lastBlock < 0 {
		return false
	}
	head := s.readHeadBlock()

	evict, maxDiff := -1, int64(-1)
	for i := range s.slots {
		if d := distance(s.slots[i].block.Load(), head); d > maxDiff {
			evict, maxDiff = i, d
		}
	}
	if maxDiff == 0 {
		return false
	}
	block, ok := s.candidate(head, maxDiff)
	if !ok {
		return false
	}
	return s.fill(evict, block)
}

func (s *Stream[T]) fill(i int, block int64) bool {
	sl := &s.slots[i]
	log := s.log.WithFields(logrus.Fields{"slot": i, "block": block})

	sl.mu.Lock()
	evicted := sl.block.Load()
	sl.block.Store(unmapped)
	sl.valid.Store(0)
	sl.mu.Unlock()

	// No reader can match an unmapped slot, so the buffer is ours until
	// the index is published again.
	blockBytes := s.spb * int64(s.elemSize)
	off := s.leadInBytes + block*blockBytes
	if err := s.c.SeekData(off); err != nil {
		log.WithError(err).Warn("sampler: seek failed")
		return false
	}
	n, err := s.c.Read(s.raw[:blockBytes])
	if err != nil && n == 0 {
		log.WithError(err).Warn("sampler: read failed")
		return false
	}
	// storage may run on past the data chunk
	n = int(min(int64(n), s.c.DataSize()-off))
	n -= n % s.elemSize
	if n <= 0 {
		log.Warn("sampler: empty block read")
		return false
	}
	decode(sl.buf, s.raw[:n], s.elemSize)

	sl.mu.Lock()
	sl.valid.Store(int64(n / s.elemSize))
	sl.block.Store(block)
	sl.mu.Unlock()

	s.fills.Add(1)
	log.WithField("evicted", evicted).Trace("sampler: filled")
	return true
}

func decode[T Sample](dst []T, src []byte, size int) {
	le := binary.LittleEndian
	switch size {
	case 1:
		for i := range len(src) {
			dst[i] = T(src[i])
		}
	case 2:
		for i := range len(src) / 2 {
			dst[i] = T(int16(le.Uint16(src[2*i:])))
		}
	case 4:
		for i := range len(src) / 4 {
			dst[i] = T(int32(le.Uint32(src[4*i:])))
		}
	}
}

// SetSampleIndex moves the cursor, clipped to [0, Len]. The cache isn't
// touched; Prime re-centres the ring on the next calls.
func (s *Stream[T]) SetSampleIndex(i int64) {
	s.cursor.Store(min(max(i, 0), s.total))
}

// Reset moves the cursor back to the start of the stream.
func (s *Stream[T]) Reset() {
	s.SetSampleIndex(0)
}

func (s *Stream[T]) SampleIndex() int64 { return s.cursor.Load() }

// AtEOF reports whether the cursor has reached the end of the stream.
func (s *Stream[T]) AtEOF() bool {
	return s.cursor.Load() >= s.total
}

// Len is the number of elements in the stream (frames × channels).
func (s *Stream[T]) Len() int64 { return s.total }

func (s *Stream[T]) LeadInSize() int64      { return s.leadInSize }
func (s *Stream[T]) SamplesPerBlock() int64 { return s.spb }

// BlockMap returns the file block held by each ring slot, -1 for an empty
// slot. It allocates and is meant for diagnostics.
func (s *Stream[T]) BlockMap() []int64 {
	m := make([]int64, len(s.slots))
	for i := range s.slots {
		m[i] = s.slots[i].block.Load()
	}
	return m
}

// Stats counts fill-path activity since the last Load.
type Stats struct {
	Fills  int64 // successful Prime calls
	Misses int64 // Reads cut short by a missing block
}

func (s *Stream[T]) Stats() Stats {
	return Stats{Fills: s.fills.Load(), Misses: s.misses.Load()}
}

// Container exposes the loaded container, nil before Load.
func (s *Stream[T]) Container() *wav.Container {
	return s.c
}

func (s *Stream[T]) SampleRate() int {
	if s.c == nil {
		return 0
	}
	return s.c.SampleRate()
}

func (s *Stream[T]) NumChannels() int {
	if s.c == nil {
		return 0
	}
	return s.c.NumChannels()
}

func (s *Stream[T]) BitsPerSample() int {
	if s.c == nil {
		return 0
	}
	return s.c.BitsPerSample()
}

func (s *Stream[T]) FrameSize() int {
	if s.c == nil {
		return 0
	}
	return s.c.FrameSize()
}

// NumSamples is the number of frames in the container.
func (s *Stream[T]) NumSamples() int64 {
	if s.c == nil {
		return 0
	}
	return s.c.NumSamples()
}

func (s *Stream[T]) Duration() time.Duration {
	if s.c == nil {
		return 0
	}
	return s.c.Duration()
}
