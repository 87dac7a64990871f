package player

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/rabidaudio/wavstream/internal/wavtest"
	"github.com/rabidaudio/wavstream/mock"
	"github.com/rabidaudio/wavstream/sampler"
	"github.com/rabidaudio/wavstream/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func loaded(t *testing.T, f wavtest.File, cfg sampler.Config) *sampler.Stream[int16] {
	t.Helper()
	s := sampler.New[int16](cfg)
	require.NoError(t, s.Load(storage.NewMem("track", f.Bytes())))
	return s
}

func mono(samples []int16) wavtest.File {
	return wavtest.File{Channels: 1, SampleRate: 8000, Bits: 16, Data: wavtest.PCM16(samples)}
}

func TestStreamerFormat(t *testing.T) {
	st := NewStreamer(loaded(t, mono(wavtest.Ramp16(100)), sampler.Config{}))
	assert.Equal(t, beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2}, st.Format())
	assert.Equal(t, 100, st.Len())
	assert.Equal(t, 0, st.Position())
	assert.NoError(t, st.Err())
}

func TestStreamerConvertsMono(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}
	st := NewStreamer(loaded(t, mono(samples), sampler.Config{}))

	out := make([][2]float64, 8)
	n, ok := st.Stream(out)
	assert.True(t, ok)
	assert.Equal(t, 5, n, "short at end of stream")
	assert.Equal(t, [2]float64{0, 0}, out[0])
	assert.Equal(t, [2]float64{0.5, 0.5}, out[1])
	assert.Equal(t, [2]float64{-0.5, -0.5}, out[2])
	assert.InDelta(t, 1.0, out[3][0], 1e-4)
	assert.Equal(t, [2]float64{-1, -1}, out[4])

	n, ok = st.Stream(out)
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestStreamerUnsigned8(t *testing.T) {
	f := wavtest.File{Channels: 1, SampleRate: 8000, Bits: 8, Data: []byte{128, 255, 0, 192}}
	s := sampler.New[uint8](sampler.Config{})
	require.NoError(t, s.Load(storage.NewMem("u8", f.Bytes())))
	st := NewStreamer(s)

	out := make([][2]float64, 4)
	n, _ := st.Stream(out)
	require.Equal(t, 4, n)
	assert.Equal(t, 0.0, out[0][0])
	assert.InDelta(t, 127.0/128, out[1][0], 1e-9)
	assert.Equal(t, -1.0, out[2][0])
	assert.Equal(t, 0.5, out[3][1])
}

func TestStreamerUnderrunIsSilence(t *testing.T) {
	s := loaded(t, mono(wavtest.Ramp16(20000)), sampler.Config{BlockSize: 512})
	st := NewStreamer(s)
	lead := int(s.LeadInSize())

	out := make([][2]float64, lead+100)
	for i := range out {
		out[i] = [2]float64{9, 9}
	}
	n, ok := st.Stream(out)
	assert.True(t, ok)
	assert.Equal(t, len(out), n, "padded to the full request")
	assert.Equal(t, lead, st.Position(), "cursor holds at the miss")
	assert.Equal(t, int64(1), st.Underruns())
	for _, fr := range out[lead:] {
		assert.Equal(t, [2]float64{}, fr)
	}

	require.True(t, s.Prime())
	n, ok = st.Stream(out[:50])
	assert.True(t, ok)
	assert.Equal(t, 50, n)
	assert.Equal(t, lead+50, st.Position())
	assert.Equal(t, int64(1), st.Underruns())
}

// stereo frames whose left value is even and right value odd, each equal
// to its element index
func interleaved(frames int) []int16 {
	samples := make([]int16, 2*frames)
	for i := range samples {
		samples[i] = int16(i)
	}
	return samples
}

func splitFrameStereo(t *testing.T, frames int) *sampler.Stream[int16] {
	t.Helper()
	// a 10-byte pad leaves the lead-in ending halfway through a frame, so
	// every block boundary splits one
	f := wavtest.File{Channels: 2, SampleRate: 44100, Bits: 16, Data: wavtest.PCM16(interleaved(frames)), Pad: 10}
	s := loaded(t, f, sampler.Config{BlockSize: 1024, NumBlocks: 2})
	require.Equal(t, int64(1), s.LeadInSize()%2)
	return s
}

func frame(i int) [2]float64 {
	return [2]float64{float64(2*i) / 32768, float64(2*i+1) / 32768}
}

func TestStreamerKeepsChannelsAligned(t *testing.T) {
	frames := 3000
	s := splitFrameStereo(t, frames)
	st := NewStreamer(s)

	var got [][2]float64
	out := make([][2]float64, 333)
	for calls := 0; ; calls++ {
		require.Less(t, calls, 200, "stuck at element %d, ring %v", s.SampleIndex(), s.BlockMap())
		pos := st.Position()
		under := st.Underruns()
		n, ok := st.Stream(out)
		if !ok {
			break
		}
		if st.Underruns() != under {
			// keep the frames before the silence and catch up
			n = st.Position() - pos
			for s.Prime() {
			}
		}
		got = append(got, out[:n]...)
	}
	assert.Positive(t, st.Underruns())
	require.Len(t, got, frames)
	for i, fr := range got {
		assert.Equal(t, frame(i), fr, "frame %d", i)
	}
}

func TestStreamerHoldsSplitFrame(t *testing.T) {
	s := splitFrameStereo(t, 3000)
	for s.Prime() {
	}
	ringEnd := s.LeadInSize() + 2*int64(s.SamplesPerBlock())
	st := NewStreamer(s)

	out := make([][2]float64, 2000)
	_, ok := st.Stream(out)
	require.True(t, ok)
	require.Equal(t, int64(1), st.Underruns())
	assert.Equal(t, ringEnd, s.SampleIndex(), "cursor runs to the end of the ring")
	assert.Equal(t, int(ringEnd/2), st.Position(), "half a frame is not played yet")

	// the next block is now the head and gets fetched
	require.True(t, s.Prime())
	assert.Contains(t, s.BlockMap(), int64(2))

	n, ok := st.Stream(out[:2])
	require.True(t, ok)
	require.Equal(t, 2, n)
	assert.Equal(t, frame(int(ringEnd/2)), out[0])
	assert.Equal(t, frame(int(ringEnd/2)+1), out[1])
}

func TestStreamerSeekDropsSplitFrame(t *testing.T) {
	s := splitFrameStereo(t, 3000)
	st := NewStreamer(s)

	out := make([][2]float64, 2000)
	st.Stream(out)
	require.Equal(t, int64(1), s.SampleIndex()%2, "a frame was split")

	require.NoError(t, st.Seek(5))
	n, _ := st.Stream(out[:1])
	require.Equal(t, 1, n)
	assert.Equal(t, frame(5), out[0])

	// moving the cache cursor directly also drops it
	st.Stream(out)
	require.Equal(t, int64(1), s.SampleIndex()%2)
	s.SetSampleIndex(20)
	n, _ = st.Stream(out[:1])
	require.Equal(t, 1, n)
	assert.Equal(t, frame(10), out[0])
}

func TestStreamerSeek(t *testing.T) {
	samples := wavtest.Ramp16(1000)
	st := NewStreamer(loaded(t, mono(samples), sampler.Config{}))

	require.NoError(t, st.Seek(990))
	assert.Equal(t, 990, st.Position())
	out := make([][2]float64, 20)
	n, ok := st.Stream(out)
	assert.True(t, ok)
	assert.Equal(t, 10, n)
	assert.Equal(t, float64(samples[990])/32768, out[0][0])

	assert.Error(t, st.Seek(-1))
	assert.Error(t, st.Seek(1001))
	require.NoError(t, st.Seek(1000))
	_, ok = st.Stream(out)
	assert.False(t, ok)
}

type countingPrimer struct {
	calls atomic.Int64
	fills int64 // calls that report a fill, then false forever
}

func (p *countingPrimer) Prime() bool {
	return p.calls.Add(1) <= p.fills
}

func TestFillerStopsOnCancel(t *testing.T) {
	p := &countingPrimer{fills: 10}
	f := &Filler{Interval: time.Millisecond, MaxFillsPerTick: 3}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- f.Run(ctx, p) }()

	assert.Eventually(t, func() bool { return p.calls.Load() > 12 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("filler didn't stop")
	}
}

type tickPrimer struct {
	calls int
}

func (p *tickPrimer) Prime() bool {
	p.calls++
	return true
}

func TestFillerLimitsFillsPerTick(t *testing.T) {
	p := &tickPrimer{}
	f := &Filler{Interval: 5 * time.Millisecond, MaxFillsPerTick: 3}
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	require.NoError(t, f.Run(ctx, p))
	assert.Positive(t, p.calls)
	assert.Zero(t, p.calls%3, "every tick stops after three fills")
}

func TestFillerWaitsForFirstTick(t *testing.T) {
	p := &tickPrimer{}
	f := &Filler{Interval: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, f.Run(ctx, p))
	assert.Zero(t, p.calls)
}

func TestPlaybackWithFiller(t *testing.T) {
	samples := wavtest.Ramp16(50000)
	f := mono(samples)
	f.Pad = 33
	slow := &mock.Slow{Storage: storage.NewMem("slow", f.Bytes()), Delay: 20 * time.Microsecond}
	s := sampler.New[int16](sampler.Config{BlockSize: 1024, NumBlocks: 4})
	require.NoError(t, s.Load(slow))
	st := NewStreamer(s)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return (&Filler{Interval: 100 * time.Microsecond}).Run(ctx, s)
	})

	var got []float64
	out := make([][2]float64, 256)
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		pos := st.Position()
		under := st.Underruns()
		n, ok := st.Stream(out)
		if !ok {
			break
		}
		if st.Underruns() != under {
			// silence padding; keep only the real frames before it
			n = st.Position() - pos
			time.Sleep(50 * time.Microsecond)
		}
		for _, fr := range out[:n] {
			got = append(got, fr[0])
		}
	}
	cancel()
	require.NoError(t, g.Wait())

	require.Len(t, got, len(samples))
	for i, v := range got {
		if v != float64(samples[i])/32768 {
			require.Failf(t, "mismatch", "frame %d: %v != %v", i, v, samples[i])
		}
	}
	assert.NoError(t, st.Close())
}
