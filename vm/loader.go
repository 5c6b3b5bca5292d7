package vm

import (
	"bytes"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// loader.go wires the binary format (binary.go) to on-disk sources. A
// regular file is memory-mapped (grounded on saferwall-pe's File.New, which
// maps the whole file once and views it without further reads); stdin and
// other non-regular-file sources fall back to a plain read since they
// cannot be mapped.

// LoadProgramFile decodes a compiled program from path, starting at
// byteOffset (nonzero when the caller already ran launcher.Find against an
// executable carrying an appended payload).
func LoadProgramFile(path string, byteOffset int64) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return DecodeProgram(bytes.NewReader(data[byteOffset:]))
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer m.Unmap()

	return DecodeProgram(bytes.NewReader([]byte(m)[byteOffset:]))
}

// LoadProgramReaderAt decodes a program from an arbitrary io.ReaderAt
// starting at byteOffset, for callers that already hold an open, mapped, or
// otherwise addressable source.
func LoadProgramReaderAt(r io.ReaderAt, byteOffset int64) (*Program, error) {
	return DecodeProgram(io.NewSectionReader(r, byteOffset, 1<<62))
}
