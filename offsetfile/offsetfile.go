// Package offsetfile wraps an *os.File whose first bytes are a byteseries
// preamble (see package header), presenting the rest of the file to callers
// as if it started at offset zero.
package offsetfile

import (
	"fmt"
	"io"
	"os"

	"github.com/arloliu/byteseries/header"
)

// File is an *os.File with a fixed-size prefix hidden from callers.
type File struct {
	f          *os.File
	dataOffset int64
	Params     header.Params
	UserHeader []byte
}

// CreateOptions configures a brand-new file's preamble.
type CreateOptions struct {
	PayloadSize int
	Compression header.Params
	UserHeader  []byte
	Exclusive   bool
}

// Create makes a new file at path, writes its preamble, and returns a File
// positioned at the start of the (empty) data region.
func Create(path string, opts CreateOptions) (*File, error) {
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if opts.Exclusive {
		flags = os.O_RDWR | os.O_CREATE | os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("offsetfile: creating %s: %w", path, err)
	}

	params := opts.Compression
	params.PayloadSize = opts.PayloadSize
	params.Version = header.Version

	blob, err := header.Encode(params, opts.UserHeader)
	if err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Write(blob); err != nil {
		f.Close()
		return nil, fmt.Errorf("offsetfile: writing preamble to %s: %w", path, err)
	}

	return &File{f: f, dataOffset: int64(len(blob)), Params: params, UserHeader: opts.UserHeader}, nil
}

// Open opens an existing file, parses its preamble, and validates the
// caller's expected payload size (if any) against the stored one.
func Open(path string, payloadSizeOpt header.PayloadSizeOption) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("offsetfile: opening %s: %w", path, err)
	}

	raw, err := readPreambleBytes(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("offsetfile: reading preamble of %s: %w", path, err)
	}

	params, userHeader, totalLen, err := header.Decode(raw, payloadSizeOpt)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{f: f, dataOffset: int64(totalLen), Params: params, UserHeader: userHeader}, nil
}

// readPreambleBytes reads just enough of f to cover the length-prefixed text
// and the length-prefixed (possibly compressed) user-header blob, without
// pulling the whole data region into memory.
func readPreambleBytes(f *os.File) ([]byte, error) {
	head := make([]byte, 4)
	if _, err := f.ReadAt(head, 0); err != nil {
		return nil, err
	}
	textLen := int(head[0]) | int(head[1])<<8 | int(head[2])<<16 | int(head[3])<<24

	afterText := make([]byte, 4)
	if _, err := f.ReadAt(afterText, int64(4+textLen)); err != nil {
		return nil, err
	}
	blobLen := int(afterText[0]) | int(afterText[1])<<8 | int(afterText[2])<<16 | int(afterText[3])<<24

	total := 4 + textLen + 4 + blobLen
	raw := make([]byte, total)
	if _, err := f.ReadAt(raw, 0); err != nil && err != io.EOF {
		return nil, err
	}

	return raw, nil
}

// DataOffset returns the number of bytes occupied by the preamble.
func (of *File) DataOffset() int64 { return of.dataOffset }

// ReadAt reads len(buf) bytes starting at user-coordinate offset off.
func (of *File) ReadAt(buf []byte, off int64) (int, error) {
	return of.f.ReadAt(buf, off+of.dataOffset)
}

// WriteAt writes buf starting at user-coordinate offset off.
func (of *File) WriteAt(buf []byte, off int64) (int, error) {
	return of.f.WriteAt(buf, off+of.dataOffset)
}

// Append writes buf at the current data length and returns the user-coordinate
// offset it was written at.
func (of *File) Append(buf []byte) (int64, error) {
	dataLen, err := of.DataLen()
	if err != nil {
		return 0, err
	}

	if _, err := of.WriteAt(buf, dataLen); err != nil {
		return 0, err
	}

	return dataLen, nil
}

// DataLen returns the length of the data region (file length minus the preamble).
func (of *File) DataLen() (int64, error) {
	fi, err := of.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("offsetfile: stat: %w", err)
	}

	return fi.Size() - of.dataOffset, nil
}

// SetLen truncates the data region to n bytes (user coordinates).
func (of *File) SetLen(n int64) error {
	if err := of.f.Truncate(n + of.dataOffset); err != nil {
		return fmt.Errorf("offsetfile: truncate: %w", err)
	}

	return nil
}

// Sync forces the underlying file's contents to stable storage.
func (of *File) Sync() error {
	if err := of.f.Sync(); err != nil {
		return fmt.Errorf("offsetfile: sync: %w", err)
	}

	return nil
}

// Close closes the underlying OS file handle.
func (of *File) Close() error {
	return of.f.Close()
}

// Path reports the path of the underlying file, suitable for error messages.
func (of *File) Path() string {
	return of.f.Name()
}
