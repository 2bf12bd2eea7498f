// Package inlinemeta implements the repair-on-open and chunked streaming
// read of a byteseries log: a sequence of fixed-size lines where most lines
// carry a 16-bit timestamp delta ("small ts") and, every so often, a "meta
// section" of 2-6 lines anchors the next run of deltas to a full 64-bit
// timestamp.
package inlinemeta

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arloliu/byteseries/errs"
	"github.com/arloliu/byteseries/internal/hash"
	"github.com/arloliu/byteseries/internal/pool"
	"github.com/arloliu/byteseries/metacodec"
	"github.com/arloliu/byteseries/offsetfile"
)

// chunkTargetSize is the spec-mandated ~16KiB streaming read chunk, rounded
// up to a multiple of the line size at read time.
const chunkTargetSize = 16 * 1024

// File is an Offset File known to hold lines of a fixed payload size, with
// inline meta sections.
type File struct {
	Of          *offsetfile.File
	PayloadSize int
	LineSize    int
}

// Open wraps of for the given payload size and repairs any torn tail left by
// a crash mid-append. Repair is idempotent: running it twice leaves the file
// unchanged the second time.
func Open(of *offsetfile.File, payloadSize int) (*File, error) {
	f := &File{Of: of, PayloadSize: payloadSize, LineSize: metacodec.LineSize(payloadSize)}
	if err := f.repair(); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *File) repair() error {
	length, err := f.Of.DataLen()
	if err != nil {
		return err
	}

	metaBytes := int64(metacodec.MetaBytes(f.PayloadSize))
	if length <= metaBytes {
		return f.Of.SetLen(0)
	}

	tailStart := length - metaBytes
	tail := make([]byte, metaBytes)
	if _, err := f.Of.ReadAt(tail, tailStart); err != nil && err != io.EOF {
		return fmt.Errorf("inlinemeta: reading repair tail: %w", err)
	}

	nLines := int(metaBytes) / f.LineSize
	for i := 0; i < nLines-1; i++ {
		lineA := tail[i*f.LineSize : (i+1)*f.LineSize]
		lineB := tail[(i+1)*f.LineSize : (i+2)*f.LineSize]
		if metacodec.IsPreamble(lineA) && metacodec.IsPreamble(lineB) {
			return f.Of.SetLen(tailStart + int64(i*f.LineSize))
		}
	}

	lastLineStart := length - int64(f.LineSize)
	lastLine := make([]byte, f.LineSize)
	if _, err := f.Of.ReadAt(lastLine, lastLineStart); err != nil && err != io.EOF {
		return fmt.Errorf("inlinemeta: reading repair last line: %w", err)
	}
	if metacodec.IsPreamble(lastLine) {
		return f.Of.SetLen(lastLineStart)
	}

	return nil
}

// CorruptionCallback is consulted when the reader finds a lone preamble line
// not followed by a second preamble line. Returning true accepts the skip:
// data lines up to the next valid meta section are dropped and scanning
// resumes there; false propagates the error.
type CorruptionCallback func(err error) bool

// Processor receives each decoded (timestamp, payload) pair in order.
// Returning a non-nil error stops the read.
type Processor func(ts uint64, payload []byte) error

// ReadWithProcessor streams lines in the half-open byte range [start, end)
// of the data region, feeding each decoded record to processor. firstFullTS
// is the full timestamp anchor in effect at byte offset start (from Seek).
func (f *File) ReadWithProcessor(start, end int64, firstFullTS uint64, corruptionCB CorruptionCallback, processor Processor) error {
	if start >= end {
		return nil
	}

	lineSize := int64(f.LineSize)
	chunkSize := roundUpToMultiple(chunkTargetSize, f.LineSize)

	bb := pool.GetBlobBuffer()
	defer pool.PutBlobBuffer(bb)
	bb.Grow(chunkSize)

	anchor := firstFullTS
	skipping := false
	readPos := start
	var carry []byte

	for readPos < end || int64(len(carry)) >= lineSize {
		chunkBase := readPos - int64(len(carry))
		bb.Reset()
		if len(carry) > 0 {
			bb.MustWrite(carry)
		}
		carry = nil

		if readPos < end {
			want := chunkSize
			if remaining := end - readPos; remaining < int64(want) {
				want = int(remaining)
			}
			if want > 0 {
				buf := make([]byte, want)
				n, err := f.Of.ReadAt(buf, readPos)
				if err != nil && err != io.EOF {
					return fmt.Errorf("inlinemeta: reading data: %w", err)
				}
				bb.MustWrite(buf[:n])
				readPos += int64(n)
			}
		}

		data := bb.Bytes()
		nLines := len(data) / f.LineSize
		i := 0

		for i < nLines {
			line := data[i*f.LineSize : (i+1)*f.LineSize]

			if !metacodec.IsPreamble(line) {
				if skipping {
					i++

					continue
				}
				smallTS := binary.LittleEndian.Uint16(line[0:2])
				ts := anchor + uint64(smallTS)
				if err := processor(ts, line[2:]); err != nil {
					return err
				}
				i++

				continue
			}

			if i+1 >= nLines {
				if readPos < end {
					carry = append(carry, line...)
					i++

					break
				}

				if err := f.handleCorruption(corruptionCB, chunkBase+int64(i)*lineSize, line); err != nil {
					return err
				}
				skipping = true
				i++

				continue
			}

			next := data[(i+1)*f.LineSize : (i+2)*f.LineSize]
			if !metacodec.IsPreamble(next) {
				if err := f.handleCorruption(corruptionCB, chunkBase+int64(i)*lineSize, line); err != nil {
					return err
				}
				skipping = true
				i++

				continue
			}

			need := metacodec.LinesPerMeta(f.PayloadSize)
			if i+need > nLines {
				if readPos < end {
					carry = append(carry, data[i*f.LineSize:]...)
					i = nLines

					break
				}

				if err := f.handleCorruption(corruptionCB, chunkBase+int64(i)*lineSize, data[i*f.LineSize:]); err != nil {
					return err
				}
				skipping = true
				i++

				continue
			}

			lines := make([][]byte, need)
			for k := 0; k < need; k++ {
				lines[k] = data[(i+k)*f.LineSize : (i+k+1)*f.LineSize]
			}

			result := metacodec.ReadMeta(lines)
			if !result.OK {
				if err := f.handleCorruption(corruptionCB, chunkBase+int64(i)*lineSize, data[i*f.LineSize:(i+need)*f.LineSize]); err != nil {
					return err
				}
				skipping = true
				i++

				continue
			}

			anchor = result.Timestamp
			skipping = false
			i += need
		}
	}

	return nil
}

func (f *File) handleCorruption(cb CorruptionCallback, at int64, skipped []byte) error {
	err := fmt.Errorf("%w: at byte offset %d, fingerprint=%x", errs.ErrCorruptMetaSection, at, hash.Fingerprint(skipped))
	if cb != nil && cb(err) {
		return nil
	}

	return err
}

// maxRunBetweenAnchors bounds how far a backward scan for the last meta
// section ever needs to go: no more than MaxSmallTS regular lines can
// separate two consecutive anchors before an overflow forces another one.
const maxRunBetweenAnchors = 0xFFFE

// MetaAnchor is one decoded meta section: its byte offset and the full
// timestamp it carries.
type MetaAnchor struct {
	Offset    int64
	Timestamp uint64
}

// LastMetaAnchor locates the most recent meta section in the log with a
// bounded backward scan (at most maxRunBetweenAnchors lines), used at open
// time to cross-check the index's own last entry without a full-file scan.
func (f *File) LastMetaAnchor() (offset int64, ts uint64, found bool, err error) {
	length, err := f.Of.DataLen()
	if err != nil {
		return 0, 0, false, err
	}
	if length == 0 {
		return 0, 0, false, nil
	}

	lineSize := int64(f.LineSize)
	need := metacodec.LinesPerMeta(f.PayloadSize)
	nLines := length / lineSize

	maxBack := int64(maxRunBetweenAnchors) + int64(need) + 1
	if maxBack > nLines {
		maxBack = nLines
	}

	start := nLines - maxBack
	if start < 0 {
		start = 0
	}

	buf := make([]byte, length-start*lineSize)
	if _, err := f.Of.ReadAt(buf, start*lineSize); err != nil && err != io.EOF {
		return 0, 0, false, fmt.Errorf("inlinemeta: scanning for last meta section: %w", err)
	}

	localLines := int(nLines - start)
	for i := localLines - need; i >= 0; i-- {
		line1 := buf[i*f.LineSize : (i+1)*f.LineSize]
		line2 := buf[(i+1)*f.LineSize : (i+2)*f.LineSize]
		if !metacodec.IsPreamble(line1) || !metacodec.IsPreamble(line2) {
			continue
		}

		lines := make([][]byte, need)
		for k := 0; k < need; k++ {
			lines[k] = buf[(i+k)*f.LineSize : (i+k+1)*f.LineSize]
		}

		result := metacodec.ReadMeta(lines)
		if result.OK {
			return start*lineSize + int64(i)*lineSize, result.Timestamp, true, nil
		}
	}

	return 0, 0, false, nil
}

// ScanMetaAnchors performs a full-file scan reconstructing every meta
// section's offset and timestamp, used only to rebuild a lost or corrupt
// index sidecar.
func (f *File) ScanMetaAnchors() ([]MetaAnchor, error) {
	length, err := f.Of.DataLen()
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}

	lineSize := int64(f.LineSize)
	buf := make([]byte, length)
	if _, err := f.Of.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("inlinemeta: scanning meta anchors: %w", err)
	}

	need := metacodec.LinesPerMeta(f.PayloadSize)
	nLines := int(length / lineSize)

	var anchors []MetaAnchor
	i := 0
	for i < nLines {
		line := buf[i*f.LineSize : (i+1)*f.LineSize]
		if !metacodec.IsPreamble(line) {
			i++
			continue
		}
		if i+1 >= nLines {
			break
		}

		next := buf[(i+1)*f.LineSize : (i+2)*f.LineSize]
		if !metacodec.IsPreamble(next) {
			i++
			continue
		}
		if i+need > nLines {
			break
		}

		lines := make([][]byte, need)
		for k := 0; k < need; k++ {
			lines[k] = buf[(i+k)*f.LineSize : (i+k+1)*f.LineSize]
		}

		result := metacodec.ReadMeta(lines)
		if !result.OK {
			i++
			continue
		}

		anchors = append(anchors, MetaAnchor{Offset: int64(i) * lineSize, Timestamp: result.Timestamp})
		i += need
	}

	return anchors, nil
}

// AppendLine writes one regular (non-meta) line carrying smallTS and payload,
// and returns the byte offset it was written at.
func (f *File) AppendLine(smallTS uint16, payload []byte) (int64, error) {
	line := make([]byte, f.LineSize)
	binary.LittleEndian.PutUint16(line[0:2], smallTS)
	copy(line[2:], payload)

	return f.Of.Append(line)
}

// AppendMeta writes a full meta section anchoring ts, and returns the byte
// offset the section starts at.
func (f *File) AppendMeta(ts uint64) (int64, error) {
	section := metacodec.WriteMeta(ts, f.PayloadSize)

	return f.Of.Append(section)
}

// Fingerprint is a convenience wrapper around internal/hash for callers that
// want to log a stable identifier for a skipped byte range.
func Fingerprint(b []byte) uint64 {
	return hash.Fingerprint(b)
}

func roundUpToMultiple(n, multiple int) int {
	if multiple <= 0 {
		return n
	}

	rem := n % multiple
	if rem == 0 {
		return n
	}

	return n + (multiple - rem)
}
