// Package storage abstracts the physical medium a WAV container lives on.
//
// The streaming cache only ever talks to a [Storage]. Backends exist for the
// host filesystem, RAM, a raw region of SPI NOR flash, and (in package vfs)
// files on a FAT32 flash image.
package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
)

// ErrNotOpen is returned when a Storage is used before Open.
var ErrNotOpen = os.ErrClosed

// Storage is the narrow interface the container reader consumes.
//
// Seek is absolute from the start of the medium. Read may return fewer
// bytes than requested; a short read is not an error by itself. Size is
// the total length of the medium in bytes.
type Storage interface {
	Open() error
	Close() error
	Seek(offset int64) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Position() (int64, error)
	Size() (int64, error)
}

// Opener returns a fresh handle to the underlying data.
type Opener func() (io.ReadSeekCloser, error)

// Handle adapts any io.ReadSeekCloser into a Storage.
// The zero value is not usable; use [New], [NewFile] or [NewMem].
type Handle struct {
	Name string

	open Opener
	rsc  io.ReadSeekCloser
}

// ensure interface conformation
var _ Storage = (*Handle)(nil)

// New creates a Handle that calls open each time the storage is opened.
func New(name string, open Opener) *Handle {
	return &Handle{Name: name, open: open}
}

// NewFile creates a Handle backed by a file on the host filesystem.
func NewFile(path string) *Handle {
	return New(path, func() (io.ReadSeekCloser, error) {
		return os.Open(path)
	})
}

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

// NewMem creates a Handle backed by a byte slice. The slice is not copied.
func NewMem(name string, data []byte) *Handle {
	return New(name, func() (io.ReadSeekCloser, error) {
		return memFile{bytes.NewReader(data)}, nil
	})
}

// Open opens the underlying data. Opening an open Handle reopens it.
func (h *Handle) Open() error {
	if h.rsc != nil {
		_ = h.Close()
	}
	rsc, err := h.open()
	if err != nil {
		return err
	}
	h.rsc = rsc
	return nil
}

// IsOpen reports whether the Handle has been opened and not closed.
func (h *Handle) IsOpen() bool {
	return h.rsc != nil
}

func (h *Handle) Close() error {
	if h.rsc == nil {
		return nil
	}
	err := h.rsc.Close()
	h.rsc = nil
	return err
}

func (h *Handle) Seek(offset int64) error {
	if h.rsc == nil {
		return ErrNotOpen
	}
	_, err := h.rsc.Seek(offset, io.SeekStart)
	return err
}

// Read fills as much of p as the medium allows. Hitting the end of the
// data after some bytes were transferred reports only the count.
func (h *Handle) Read(p []byte) (int, error) {
	if h.rsc == nil {
		return 0, ErrNotOpen
	}
	n, err := io.ReadFull(h.rsc, p)
	if n > 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		err = nil
	}
	return n, err
}

// Write writes p if the underlying data is writable.
func (h *Handle) Write(p []byte) (int, error) {
	if h.rsc == nil {
		return 0, ErrNotOpen
	}
	w, ok := h.rsc.(io.Writer)
	if !ok {
		return 0, errors.ErrUnsupported
	}
	return w.Write(p)
}

func (h *Handle) Position() (int64, error) {
	if h.rsc == nil {
		return -1, ErrNotOpen
	}
	return h.rsc.Seek(0, io.SeekCurrent)
}

// Size reports the total length by seeking to the end and back.
func (h *Handle) Size() (int64, error) {
	if h.rsc == nil {
		return -1, ErrNotOpen
	}
	pos, err := h.rsc.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1, err
	}
	end, err := h.rsc.Seek(0, io.SeekEnd)
	if err != nil {
		return -1, err
	}
	if _, err := h.rsc.Seek(pos, io.SeekStart); err != nil {
		return -1, err
	}
	return end, nil
}
