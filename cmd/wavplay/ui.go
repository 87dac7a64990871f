package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/mattn/go-runewidth"
	"github.com/nsf/termbox-go"
	"github.com/rabidaudio/wavstream/sampler"
)

var errQuit = errors.New("quit")

const scrubStep = 5 * time.Second

type transport interface {
	beep.StreamSeeker
	Underruns() int64
}

// ui is the terminal status view: position, cache activity and the ring's
// block map, refreshed ten times a second.
type ui struct {
	title  string
	rate   beep.SampleRate
	t      transport
	stats  func() sampler.Stats
	blocks func() []int64
	ended  <-chan struct{}
	start  func()

	finished bool
}

func (u *ui) run(ctx context.Context) error {
	if err := termbox.Init(); err != nil {
		return fmt.Errorf("termbox: %w", err)
	}
	defer termbox.Close()

	events := make(chan termbox.Event)
	stop := make(chan struct{})
	polling := make(chan struct{})
	go func() {
		defer close(polling)
		for {
			ev := termbox.PollEvent()
			if ev.Type == termbox.EventInterrupt {
				return
			}
			select {
			case events <- ev:
			case <-stop:
				return
			}
		}
	}()
	defer func() {
		close(stop)
		go termbox.Interrupt()
		<-polling
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		u.draw()
		select {
		case <-ctx.Done():
			return nil
		case <-u.ended:
			u.finished = true
		case <-ticker.C:
		case ev := <-events:
			if ev.Type != termbox.EventKey {
				continue
			}
			switch {
			case ev.Ch == 'q', ev.Key == termbox.KeyEsc, ev.Key == termbox.KeyCtrlC:
				return errQuit
			case ev.Key == termbox.KeySpace:
				u.restart()
			case ev.Key == termbox.KeyArrowLeft:
				u.scrub(-scrubStep)
			case ev.Key == termbox.KeyArrowRight:
				u.scrub(scrubStep)
			}
		}
	}
}

func (u *ui) restart() {
	speaker.Lock()
	_ = u.t.Seek(0)
	speaker.Unlock()
	if u.finished {
		u.finished = false
		u.start()
	}
}

func (u *ui) scrub(d time.Duration) {
	speaker.Lock()
	defer speaker.Unlock()
	p := u.t.Position() + u.rate.N(d)
	_ = u.t.Seek(min(max(p, 0), u.t.Len()))
}

func (u *ui) lines() []string {
	pos, length := u.t.Position(), u.t.Len()
	st := u.stats()
	state := "playing"
	if u.finished {
		state = "ended"
	}
	return []string{
		fmt.Sprintf("wavplay  %s  [%s]", u.title, state),
		fmt.Sprintf("%s / %s  %s", clock(u.rate.D(pos)), clock(u.rate.D(length)), bar(pos, length, 40)),
		fmt.Sprintf("fills %d  misses %d  underruns %d", st.Fills, st.Misses, u.t.Underruns()),
		fmt.Sprintf("ring %v", u.blocks()),
		"",
		"space restart  ←/→ scrub  q quit",
	}
}

func (u *ui) draw() {
	_ = termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)
	for y, line := range u.lines() {
		printAt(0, y, line)
	}
	_ = termbox.Flush()
}

func printAt(x, y int, s string) {
	for _, r := range s {
		termbox.SetCell(x, y, r, termbox.ColorDefault, termbox.ColorDefault)
		x += runewidth.RuneWidth(r)
	}
}

func clock(d time.Duration) string {
	d = d.Round(100 * time.Millisecond)
	m := int(d / time.Minute)
	s := (d % time.Minute).Seconds()
	return fmt.Sprintf("%02d:%04.1f", m, s)
}

func bar(pos, length, width int) string {
	if length <= 0 {
		return "[" + strings.Repeat(" ", width) + "]"
	}
	filled := min(pos*width/length, width)
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
