// Package vfs builds a FAT32 flash image holding WAV tracks, the way they'd
// sit on an SD card or a flash chip, and opens those tracks as
// [storage.Storage] for streaming.
package vfs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/rabidaudio/wavstream/internal/logging"
	"github.com/rabidaudio/wavstream/storage"
	"github.com/sirupsen/logrus"
)

const (
	DISK_SIZE   = 50 * fat32.MB
	SECTOR_SIZE = 512
	START       = 2048 // first partition sector
)

// Track is one WAV file to place on the image. Data is used when set,
// otherwise the file at Path is copied.
type Track struct {
	Title string
	Path  string
	Data  []byte
}

// Volume is a named set of tracks, stored in its own directory.
type Volume struct {
	Name   string
	Tracks []Track
}

// Filesystem is a FAT32 image in a temporary file.
type Filesystem struct {
	Path   string
	Logger logrus.FieldLogger

	fs      filesystem.FileSystem
	vol     *Volume
	closefn func() error
}

// sanitizeName takes a file name and converts it to DOS format
// by uppercasing, limiting to ASCII letters, and triming to 8 chars
func sanitizeName(name string) string {
	// https://en.wikipedia.org/wiki/8.3_filename
	newName := make([]rune, 0, 8)
	for _, r := range strings.ToUpper(name) {
		if len(newName) == 8 {
			break
		}
		if r >= 'A' && r <= 'Z' {
			newName = append(newName, r)
		}
	}
	return string(newName)
}

// Create a new filesystem instance. Data is backed by a temporary file.
// Be sure to Close() the Filesystem after use.
func Create() (*Filesystem, error) {
	tmpdir, err := os.MkdirTemp("", "wavstream")
	if err != nil {
		return nil, err
	}
	dskimg := filepath.Join(tmpdir, "flash.img")
	cleanup := func() { _ = os.RemoveAll(tmpdir) }

	dsk, err := diskfs.Create(dskimg, DISK_SIZE, diskfs.SectorSizeDefault)
	if err != nil {
		cleanup()
		return nil, err
	}

	// one partition spanning the rest of the disk
	table := &mbr.Table{
		LogicalSectorSize:  SECTOR_SIZE,
		PhysicalSectorSize: SECTOR_SIZE,
		Partitions: []*mbr.Partition{
			{
				Bootable: false,
				Type:     mbr.Fat32LBA,
				Start:    START,
				Size:     uint32(DISK_SIZE/SECTOR_SIZE) - START,
			},
		},
	}
	if err := dsk.Partition(table); err != nil {
		cleanup()
		return nil, fmt.Errorf("partition %v: %w", dskimg, err)
	}
	fatfs, err := dsk.CreateFilesystem(disk.FilesystemSpec{
		Partition:   1,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: "WAVSTREAM",
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("format %v: %w", dskimg, err)
	}

	closefn := func() error {
		err := fatfs.Close()
		cleanup()
		return err
	}

	return &Filesystem{
		Path:    dskimg,
		fs:      fatfs,
		closefn: closefn,
	}, nil
}

func (f *Filesystem) log() logrus.FieldLogger {
	return logging.OrDiscard(f.Logger)
}

// Names are stored lowercase so that go-diskfs writes a long-name entry
// for them; it can only remove files and directories by their long name.
// The 8.3 short names stay upper case.
func dirName(v *Volume) string {
	if name := sanitizeName(v.Name); name != "" {
		return "/" + strings.ToLower(name)
	}
	return ""
}

func trackPath(v *Volume, i int) (string, bool) {
	if v == nil || i < 0 || i >= len(v.Tracks) {
		return "", false
	}
	return fmt.Sprintf("%v/track%02d.wav", dirName(v), i+1), true
}

// LoadVolume copies every track of v onto the image. Only one volume can be
// loaded at a time; Eject the current one first.
func (f *Filesystem) LoadVolume(v Volume) error {
	if f.vol != nil {
		return fmt.Errorf("volume %q not ejected", f.vol.Name)
	}
	if dir := dirName(&v); dir != "" {
		if err := f.fs.Mkdir(dir); err != nil {
			return fmt.Errorf("mkdir %v: %w", dir, err)
		}
	}

	for i, track := range v.Tracks {
		fname, _ := trackPath(&v, i)
		n, err := f.writeTrack(fname, track)
		if err != nil {
			return fmt.Errorf("write track %v: %w", fname, err)
		}
		f.log().WithFields(logrus.Fields{
			"track": fname,
			"title": track.Title,
			"bytes": n,
		}).Debug("vfs: wrote track")
	}
	f.vol = &v
	return nil
}

func (f *Filesystem) writeTrack(fname string, t Track) (int64, error) {
	var src io.Reader
	if t.Data != nil {
		src = bytes.NewReader(t.Data)
	} else {
		hf, err := os.Open(t.Path)
		if err != nil {
			return 0, err
		}
		defer hf.Close()
		src = hf
	}

	dst, err := f.fs.OpenFile(fname, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// NumTracks is the number of tracks in the loaded volume.
func (f *Filesystem) NumTracks() int {
	if f.vol == nil {
		return 0
	}
	return len(f.vol.Tracks)
}

// TrackPath is the path of track i inside the image.
func (f *Filesystem) TrackPath(i int) (string, bool) {
	return trackPath(f.vol, i)
}

// OpenTrack returns a storage handle for track i. The track file is opened
// from the image each time the handle is opened.
func (f *Filesystem) OpenTrack(i int) (storage.Storage, error) {
	path, ok := trackPath(f.vol, i)
	if !ok {
		return nil, fmt.Errorf("invalid track index %d", i)
	}
	return storage.New(path, func() (io.ReadSeekCloser, error) {
		file, err := f.fs.OpenFile(path, os.O_RDONLY)
		if err != nil {
			return nil, err
		}
		return file, nil
	}), nil
}

// ReadDir lists a directory inside the image.
func (f *Filesystem) ReadDir(path string) ([]os.FileInfo, error) {
	return f.fs.ReadDir(path)
}

// Delete all files of the loaded volume from the filesystem
func (f *Filesystem) Eject() error {
	if f.vol == nil {
		return nil
	}
	for i := range f.vol.Tracks {
		fname, _ := trackPath(f.vol, i)
		if err := f.fs.Remove(fname); err != nil {
			return fmt.Errorf("eject %v: %w", f.vol.Name, err)
		}
	}
	if dir := dirName(f.vol); dir != "" {
		if err := f.fs.Remove(dir); err != nil {
			return fmt.Errorf("eject %v: %w", f.vol.Name, err)
		}
	}
	f.log().WithField("volume", f.vol.Name).Debug("vfs: ejected")
	f.vol = nil
	return nil
}

func (f *Filesystem) Close() error {
	if err := f.Eject(); err != nil {
		f.log().WithError(err).Warn("vfs: eject on close failed")
	}
	return f.closefn()
}
