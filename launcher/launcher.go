// Package launcher implements the payload-discovery scan of spec §6.3: a
// binary program may be appended to an executable behind a fixed marker, and
// the launcher finds the offset immediately after that marker so the VM
// loader can read the payload from there onward.
package launcher

import (
	"errors"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// markerSize is the fixed-width marker the appended payload is stamped with.
const markerSize = 7

// marker is the compile-time constant this launcher and its companion
// payload-appending tool agree on.
var marker = [markerSize]byte{0x4e, 0x37, 0x43, 0x50, 0x4c, 0x44, 0x00} // "N7CPLD\x00"

// ErrMarkerNotFound is returned when no payload marker is present in the
// scanned file.
var ErrMarkerNotFound = errors.New("launcher: payload marker not found")

// Find memory-maps the executable at path and slides a markerSize window
// over it looking for the marker, returning the byte offset of the payload
// that immediately follows it.
func Find(path string) (payloadOffset int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer m.Unmap()

	off := scan([]byte(m))
	if off < 0 {
		return 0, ErrMarkerNotFound
	}
	return int64(off) + markerSize, nil
}

// Open returns the opened file as a ReaderAt over the whole executable,
// the payload's byte offset within it, and the file for the caller to close.
func Open(path string) (r io.ReaderAt, offset int64, closer io.Closer, err error) {
	offset, err = Find(path)
	if err != nil {
		return nil, 0, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, err
	}
	return f, offset, f, nil
}

func scan(data []byte) int {
	if len(data) < markerSize {
		return -1
	}
	for i := 0; i+markerSize <= len(data); i++ {
		if matches(data[i : i+markerSize]) {
			return i
		}
	}
	return -1
}

func matches(window []byte) bool {
	for i := 0; i < markerSize; i++ {
		if window[i] != marker[i] {
			return false
		}
	}
	return true
}
