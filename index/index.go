// Package index maintains the sparse, memory-resident anchor index that
// makes range seeks on a byteseries log cheap: one (timestamp, byte offset)
// entry per meta section, binary-searchable, durably mirrored to a 16-byte
// sidecar file.
package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/arloliu/byteseries/errs"
	"github.com/arloliu/byteseries/header"
	"github.com/arloliu/byteseries/offsetfile"
)

const entrySize = 16

// MaxSmallTS is the largest delta a regular line can encode; a requested
// timestamp further than this past the preceding anchor falls in a gap.
const MaxSmallTS = 0xFFFE

// Entry is one (full_timestamp, meta_section_offset) anchor.
type Entry struct {
	Timestamp uint64
	MetaStart int64
}

// StartArea classifies where a range's start falls relative to the index.
type StartArea struct {
	Kind     StartKind
	LinePos  int64 // Found, TillEnd, Window, Gap
	MetaStop int64 // Window only: exclusive stop at the next anchor's meta offset
}

type StartKind int

const (
	StartFound StartKind = iota
	StartClipped
	StartTillEnd
	StartWindow
	StartGap
)

// EndArea classifies where a range's end falls relative to the index.
type EndArea struct {
	Kind      EndKind
	LinePos   int64 // Found, TillEnd, Window
	MetaStart int64 // Window, Gap
}

type EndKind int

const (
	EndFound EndKind = iota
	EndTillEnd
	EndWindow
	EndGap
)

// Index is the in-memory anchor list plus its durable sidecar file.
type Index struct {
	of            *offsetfile.File
	entries       []Entry
	lastTimestamp uint64
	hasEntries    bool
}

// New creates a brand-new, empty sidecar at path.
func New(path string) (*Index, error) {
	of, err := offsetfile.Create(path, offsetfile.CreateOptions{PayloadSize: 0})
	if err != nil {
		return nil, err
	}

	return &Index{of: of}, nil
}

// OpenExisting opens the sidecar at path and repairs it against the data
// log's observed tail: lastLineInDataStart is the byte offset the data log's
// last line starts at (or -1 if the log is empty); lastFullTSInData is the
// full timestamp of the most recent meta section actually present in the
// data log (ignored when the log is empty).
func OpenExisting(path string, lastLineInDataStart int64, lastFullTSInData uint64, dataIsEmpty bool) (*Index, error) {
	of, err := offsetfile.Open(path, header.PayloadSizeOption{})
	if err != nil {
		return nil, err
	}

	idx := &Index{of: of}
	if err := idx.checkAndRepair(lastLineInDataStart, lastFullTSInData, dataIsEmpty); err != nil {
		return nil, err
	}

	if err := idx.loadEntries(); err != nil {
		return nil, err
	}

	return idx, nil
}

func (idx *Index) checkAndRepair(lastLineInDataStart int64, lastFullTSInData uint64, dataIsEmpty bool) error {
	if dataIsEmpty {
		return idx.of.SetLen(0)
	}

	length, err := idx.of.DataLen()
	if err != nil {
		return err
	}

	uncorrupted := length - (length % entrySize)
	if uncorrupted != length {
		if err := idx.of.SetLen(uncorrupted); err != nil {
			return err
		}
		length = uncorrupted
	}

	if length == 0 {
		return nil
	}

	last := make([]byte, entrySize)
	if _, err := idx.of.ReadAt(last, length-entrySize); err != nil && err != io.EOF {
		return fmt.Errorf("index: reading last entry: %w", err)
	}
	lastTS := binary.LittleEndian.Uint64(last[0:8])
	lastOffset := int64(binary.LittleEndian.Uint64(last[8:16]))

	if lastOffset > lastLineInDataStart {
		length -= entrySize
		if err := idx.of.SetLen(length); err != nil {
			return err
		}

		if length == 0 {
			return nil
		}

		if _, err := idx.of.ReadAt(last, length-entrySize); err != nil && err != io.EOF {
			return fmt.Errorf("index: reading last entry after drop: %w", err)
		}
		lastTS = binary.LittleEndian.Uint64(last[0:8])
	}

	if lastTS != lastFullTSInData {
		return &errs.IndexLastTimeMismatch{LastTimeInIndex: lastTS, LastTimeInData: lastFullTSInData}
	}

	return nil
}

func (idx *Index) loadEntries() error {
	length, err := idx.of.DataLen()
	if err != nil {
		return err
	}

	raw := make([]byte, length)
	if length > 0 {
		if _, err := idx.of.ReadAt(raw, 0); err != nil && err != io.EOF {
			return fmt.Errorf("index: reading entries: %w", err)
		}
	}

	n := len(raw) / entrySize
	idx.entries = make([]Entry, n)
	for i := 0; i < n; i++ {
		e := raw[i*entrySize : (i+1)*entrySize]
		idx.entries[i] = Entry{
			Timestamp: binary.LittleEndian.Uint64(e[0:8]),
			MetaStart: int64(binary.LittleEndian.Uint64(e[8:16])),
		}
	}

	if n > 0 {
		idx.lastTimestamp = idx.entries[n-1].Timestamp
		idx.hasEntries = true
	}

	return nil
}

// RebuildFromEntries replaces the sidecar's contents wholesale, used when a
// caller has recomputed the full anchor list by scanning the data log.
func RebuildFromEntries(path string, entries []Entry) (*Index, error) {
	tmpPath := path + ".tmp"
	of, err := offsetfile.Create(tmpPath, offsetfile.CreateOptions{PayloadSize: 0})
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		buf := make([]byte, entrySize)
		binary.LittleEndian.PutUint64(buf[0:8], e.Timestamp)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(e.MetaStart))
		if _, err := of.Append(buf); err != nil {
			of.Close()
			return nil, err
		}
	}

	if err := of.Sync(); err != nil {
		of.Close()
		return nil, err
	}
	if err := of.Close(); err != nil {
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("index: renaming rebuilt sidecar: %w", err)
	}

	if len(entries) == 0 {
		return OpenExisting(path, -1, 0, true)
	}

	last := entries[len(entries)-1]

	return OpenExisting(path, last.MetaStart, last.Timestamp, false)
}

// Append writes one new anchor to the sidecar and updates the in-memory
// list. Per the crash-recovery ordering invariant, this MUST be called
// before the corresponding meta section is written to the data log.
func (idx *Index) Append(ts uint64, metaStart int64) error {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint64(buf[0:8], ts)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(metaStart))

	if _, err := idx.of.Append(buf); err != nil {
		return fmt.Errorf("index: appending entry: %w", err)
	}

	idx.entries = append(idx.entries, Entry{Timestamp: ts, MetaStart: metaStart})
	idx.lastTimestamp = ts
	idx.hasEntries = true

	return nil
}

// Sync flushes the sidecar file to stable storage.
func (idx *Index) Sync() error { return idx.of.Sync() }

// Close closes the sidecar file.
func (idx *Index) Close() error { return idx.of.Close() }

// LastTimestamp reports the most recent anchor's timestamp.
func (idx *Index) LastTimestamp() (uint64, bool) { return idx.lastTimestamp, idx.hasEntries }

// Len returns the number of anchors currently held.
func (idx *Index) Len() int { return len(idx.entries) }

// FirstTimestamp reports the earliest anchor's timestamp.
func (idx *Index) FirstTimestamp() (uint64, bool) {
	if len(idx.entries) == 0 {
		return 0, false
	}

	return idx.entries[0].Timestamp, true
}

func inGap(val, anchorTS uint64) bool {
	return val > anchorTS+MaxSmallTS
}

func lineStart(payloadSize int, metaStart int64) int64 {
	return metaStart + int64(metaBytes(payloadSize))
}

func metaBytes(payloadSize int) int {
	return linesPerMeta(payloadSize) * (payloadSize + 2)
}

func linesPerMeta(payloadSize int) int {
	switch {
	case payloadSize == 0:
		return 6
	case payloadSize == 1:
		return 4
	case payloadSize == 2, payloadSize == 3:
		return 3
	default:
		return 2
	}
}

// StartSearchBounds locates the coarse area a range's start timestamp falls
// in, plus the full timestamp anchor active there.
func (idx *Index) StartSearchBounds(startTS uint64, payloadSize int) (StartArea, uint64) {
	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return idx.entries[i].Timestamp >= startTS })

	if i < n && idx.entries[i].Timestamp == startTS {
		return StartArea{Kind: StartFound, LinePos: lineStart(payloadSize, idx.entries[i].MetaStart)}, startTS
	}

	if i == 0 {
		return StartArea{Kind: StartClipped}, idx.entries[0].Timestamp
	}

	if i == n {
		last := idx.entries[n-1]
		return StartArea{Kind: StartTillEnd, LinePos: lineStart(payloadSize, last.MetaStart)}, last.Timestamp
	}

	prev := idx.entries[i-1]
	if inGap(startTS, prev.Timestamp) || startTS >= idx.entries[i].Timestamp {
		return StartArea{Kind: StartGap, LinePos: lineStart(payloadSize, idx.entries[i].MetaStart)}, idx.entries[i].Timestamp
	}

	return StartArea{
		Kind:     StartWindow,
		LinePos:  lineStart(payloadSize, prev.MetaStart),
		MetaStop: idx.entries[i].MetaStart,
	}, prev.Timestamp
}

// EndSearchBounds locates the coarse area a range's end timestamp falls in,
// plus the full timestamp anchor active there.
func (idx *Index) EndSearchBounds(endTS uint64, payloadSize int) (EndArea, uint64) {
	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return idx.entries[i].Timestamp >= endTS })

	if i < n && idx.entries[i].Timestamp == endTS {
		return EndArea{Kind: EndFound, LinePos: lineStart(payloadSize, idx.entries[i].MetaStart)}, endTS
	}

	if i == n {
		last := idx.entries[n-1]
		return EndArea{Kind: EndTillEnd, LinePos: lineStart(payloadSize, last.MetaStart)}, last.Timestamp
	}

	prev := idx.entries[i-1]
	if inGap(endTS, prev.Timestamp) {
		return EndArea{Kind: EndGap, MetaStart: idx.entries[i].MetaStart}, prev.Timestamp
	}

	return EndArea{
		Kind:      EndWindow,
		LinePos:   lineStart(payloadSize, prev.MetaStart),
		MetaStart: idx.entries[i].MetaStart,
	}, prev.Timestamp
}

// EntryAtOrBefore returns the last anchor whose MetaStart is <= byteOffset,
// falling back to the very first anchor when none qualifies. It reports false
// only when the index holds no anchors at all.
func (idx *Index) EntryAtOrBefore(byteOffset int64) (Entry, bool) {
	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return idx.entries[i].MetaStart > byteOffset })

	if i == 0 {
		if n == 0 {
			return Entry{}, false
		}

		return idx.entries[0], true
	}

	return idx.entries[i-1], true
}

// CountMetaLines reports how many meta-section lines begin at a byte offset
// within [startByte, endByte). Used to convert a raw byte-range line count
// into a logical record count, since the index is the only component that
// knows which lines in a byte range are meta-section padding rather than data.
func (idx *Index) CountMetaLines(startByte, endByte int64, payloadSize int) int {
	lo := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].MetaStart >= startByte })
	hi := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].MetaStart >= endByte })

	return (hi - lo) * linesPerMeta(payloadSize)
}

// Reset truncates the sidecar to empty and clears the in-memory anchor list,
// used when a downsampled cache is rebuilt from scratch.
func (idx *Index) Reset() error {
	if err := idx.of.SetLen(0); err != nil {
		return err
	}

	idx.entries = nil
	idx.lastTimestamp = 0
	idx.hasEntries = false

	return nil
}

// MetaTSFor returns the anchor timestamp active at the given line offset:
// the timestamp of the meta section whose data lines cover linePos.
func (idx *Index) MetaTSFor(linePos int64, payloadSize int) (uint64, bool) {
	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return lineStart(payloadSize, idx.entries[i].MetaStart) >= linePos })

	if i < n && lineStart(payloadSize, idx.entries[i].MetaStart) == linePos {
		return idx.entries[i].Timestamp, true
	}

	if i == 0 {
		return 0, false
	}

	return idx.entries[i-1].Timestamp, true
}
