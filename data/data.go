// Package data wraps an Inline-Meta File and its Index into the primary
// append/seek/read surface that both a Series and a downsampled cache are
// built from.
package data

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/arloliu/byteseries/errs"
	"github.com/arloliu/byteseries/format"
	"github.com/arloliu/byteseries/header"
	"github.com/arloliu/byteseries/index"
	"github.com/arloliu/byteseries/inlinemeta"
	"github.com/arloliu/byteseries/metacodec"
	"github.com/arloliu/byteseries/offsetfile"
	"github.com/arloliu/byteseries/resample"
	"github.com/arloliu/byteseries/seek"
)

// File is the primary (or downsampled-cache) log: an Inline-Meta File plus
// the sparse Index that makes range seeks on it cheap.
type File struct {
	im           *inlinemeta.File
	idx          *index.Index
	corruptionCB inlinemeta.CorruptionCallback
	dataLen      int64
	first        uint64
	last         uint64
	hasData      bool
}

// LogPath returns the primary log path for a series rooted at basePath.
func LogPath(basePath string) string { return basePath + ".byteseries" }

// IndexPath returns the index sidecar path for a series rooted at basePath.
func IndexPath(basePath string) string { return basePath + ".byteseries_index" }

// CreateOptions configures a brand-new Data.
type CreateOptions struct {
	PayloadSize        int
	UserHeader         []byte
	Compression        format.CompressionType
	Exclusive          bool
	CorruptionCallback inlinemeta.CorruptionCallback
}

// Create makes a brand-new log and sidecar at basePath.
func Create(basePath string, opts CreateOptions) (*File, error) {
	of, err := offsetfile.Create(LogPath(basePath), offsetfile.CreateOptions{
		PayloadSize: opts.PayloadSize,
		Compression: header.Params{Compression: opts.Compression},
		UserHeader:  opts.UserHeader,
		Exclusive:   opts.Exclusive,
	})
	if err != nil {
		return nil, err
	}

	im, err := inlinemeta.Open(of, opts.PayloadSize)
	if err != nil {
		of.Close()

		return nil, err
	}

	idx, err := index.New(IndexPath(basePath))
	if err != nil {
		of.Close()

		return nil, err
	}

	return &File{im: im, idx: idx, corruptionCB: opts.CorruptionCallback}, nil
}

// OpenOptions configures opening an existing Data.
type OpenOptions struct {
	PayloadSize        header.PayloadSizeOption
	CorruptionCallback inlinemeta.CorruptionCallback
}

// Open opens an existing log and reconciles its sidecar index, rebuilding it
// from the log when it is missing or inconsistent.
func Open(basePath string, opts OpenOptions) (*File, header.Params, []byte, error) {
	of, err := offsetfile.Open(LogPath(basePath), opts.PayloadSize)
	if err != nil {
		return nil, header.Params{}, nil, err
	}

	im, err := inlinemeta.Open(of, of.Params.PayloadSize)
	if err != nil {
		of.Close()

		return nil, header.Params{}, nil, err
	}

	f := &File{im: im, corruptionCB: opts.CorruptionCallback}

	length, err := of.DataLen()
	if err != nil {
		of.Close()

		return nil, header.Params{}, nil, err
	}
	f.dataLen = length

	idx, err := f.openOrRebuildIndex(basePath)
	if err != nil {
		of.Close()

		return nil, header.Params{}, nil, err
	}
	f.idx = idx

	if err := f.reloadRange(); err != nil {
		of.Close()
		idx.Close()

		return nil, header.Params{}, nil, err
	}

	return f, of.Params, of.UserHeader, nil
}

func (f *File) openOrRebuildIndex(basePath string) (*index.Index, error) {
	dataIsEmpty := f.dataLen == 0

	var lastLineStart int64 = -1
	var lastFullTS uint64
	if !dataIsEmpty {
		lastLineStart = f.dataLen - int64(f.im.LineSize)

		_, ts, found, err := f.im.LastMetaAnchor()
		if err != nil {
			return nil, err
		}
		if found {
			lastFullTS = ts
		}
	}

	idx, err := index.OpenExisting(IndexPath(basePath), lastLineStart, lastFullTS, dataIsEmpty)
	if err == nil {
		return idx, nil
	}

	var mismatch *errs.IndexLastTimeMismatch
	if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &mismatch) {
		return nil, err
	}

	anchors, scanErr := f.im.ScanMetaAnchors()
	if scanErr != nil {
		return nil, scanErr
	}

	entries := make([]index.Entry, len(anchors))
	for i, a := range anchors {
		entries[i] = index.Entry{Timestamp: a.Timestamp, MetaStart: a.Offset}
	}

	return index.RebuildFromEntries(IndexPath(basePath), entries)
}

func (f *File) reloadRange() error {
	if f.dataLen == 0 {
		f.hasData = false

		return nil
	}

	ts, _, err := f.lastLineTS()
	if err != nil {
		return err
	}
	f.last = ts

	first, ok := f.idx.FirstTimestamp()
	if !ok {
		return fmt.Errorf("data: index has no entries but log is non-empty")
	}
	f.first = first
	f.hasData = true

	return nil
}

func (f *File) lastLineTS() (uint64, []byte, error) {
	lineSize := int64(f.im.LineSize)
	lineStart := f.dataLen - lineSize

	buf := make([]byte, lineSize)
	if _, err := f.im.Of.ReadAt(buf, lineStart); err != nil && err != io.EOF {
		return 0, nil, fmt.Errorf("data: reading last line: %w", err)
	}

	anchor, ok := f.idx.MetaTSFor(lineStart, f.PayloadSize())
	if !ok {
		return 0, nil, fmt.Errorf("data: no anchor covers the last line")
	}

	smallTS := binary.LittleEndian.Uint16(buf[0:2])

	return anchor + uint64(smallTS), buf[2:], nil
}

// Index returns the in-memory anchor index, satisfying seek.RangeSource.
func (f *File) Index() *index.Index { return f.idx }

// PayloadSize returns the fixed payload size of every line in this log.
func (f *File) PayloadSize() int { return f.im.PayloadSize }

// DataLen returns the current byte length of the log's data region.
func (f *File) DataLen() int64 { return f.dataLen }

// Range reports the first and last stored timestamps, or ok=false if empty.
func (f *File) Range() (first, last uint64, ok bool) { return f.first, f.last, f.hasData }

// PushData appends one (timestamp, payload) record, inserting a meta section
// first whenever the delta from the last timestamp would overflow a 16-bit
// small-ts (or there is no prior timestamp at all).
func (f *File) PushData(ts uint64, payload []byte) error {
	lastTS, hasLast := f.idx.LastTimestamp()

	forceMeta := !hasLast
	var diff uint64
	if hasLast {
		diff = ts - lastTS
		if diff == 0 || diff > index.MaxSmallTS {
			forceMeta = true
		}
	}

	if !forceMeta {
		if err := f.appendRegularLine(uint16(diff), payload); err != nil {
			return err
		}
	} else {
		if err := f.idx.Append(ts, f.dataLen); err != nil {
			return err
		}
		if _, err := f.im.AppendMeta(ts); err != nil {
			return err
		}
		f.dataLen += int64(metacodec.MetaBytes(f.PayloadSize()))

		if err := f.appendRegularLine(0, payload); err != nil {
			return err
		}
	}

	if !f.hasData {
		f.first = ts
		f.hasData = true
	}
	f.last = ts

	return nil
}

func (f *File) appendRegularLine(smallTS uint16, payload []byte) error {
	if _, err := f.im.AppendLine(smallTS, payload); err != nil {
		return err
	}
	f.dataLen += int64(f.im.LineSize)

	return nil
}

func (f *File) seekPos(rng seek.Range) (*seek.Pos, error) {
	rp, err := seek.NewRoughPos(f, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}

	return rp.Refine(f.im.Of, f.PayloadSize())
}

// NLinesBetween returns the exact number of logical records in rng, using
// the index to refine byte offsets and to subtract interleaved meta-section
// lines from the raw byte-range line count.
func (f *File) NLinesBetween(rng seek.Range) (int64, error) {
	pos, err := f.seekPos(rng)
	if err != nil {
		return 0, err
	}
	if pos == nil {
		return 0, nil
	}

	lineSize := int64(f.im.LineSize)
	totalLines := (pos.EndByte - pos.StartByte) / lineSize
	metaLines := f.idx.CountMetaLines(pos.StartByte, pos.EndByte, f.PayloadSize())

	return totalLines - int64(metaLines), nil
}

// Len returns the total number of records currently stored.
func (f *File) Len() (int64, error) {
	if !f.hasData {
		return 0, nil
	}

	return f.NLinesBetween(seek.Range{})
}

// EstimateLines delegates to Seek's index-only estimator, with no I/O beyond
// building the coarse areas.
func (f *File) EstimateLines(rng seek.Range) (seek.EstimatedLines, error) {
	if !f.hasData {
		return seek.EstimatedLines{}, nil
	}

	rp, err := seek.NewRoughPos(f, rng.Start, rng.End)
	if err != nil {
		return seek.EstimatedLines{}, err
	}

	return rp.Estimate(f.PayloadSize()), nil
}

var errStopRead = errors.New("data: stop reading")

// ReadAllRaw streams every (timestamp, payload) record in rng to fn without
// decoding the payload, stopping early if fn returns an error.
func (f *File) ReadAllRaw(rng seek.Range, fn func(ts uint64, payload []byte) error) error {
	pos, err := f.seekPos(rng)
	if err != nil {
		return err
	}
	if pos == nil {
		return nil
	}

	return f.im.ReadWithProcessor(pos.StartByte, pos.EndByte, pos.FirstFullTS, f.corruptionCB, fn)
}

// ReadAll decodes every record in rng with decoder.
func ReadAll[Item any](f *File, rng seek.Range, decoder resample.Decoder[Item]) ([]uint64, []Item, error) {
	var timestamps []uint64
	var items []Item

	err := f.ReadAllRaw(rng, func(ts uint64, payload []byte) error {
		item, err := decoder.DecodePayload(payload)
		if err != nil {
			return err
		}
		timestamps = append(timestamps, ts)
		items = append(items, item)

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return timestamps, items, nil
}

// ReadFirstN decodes at most n records in rng with decoder.
func ReadFirstN[Item any](f *File, n int, rng seek.Range, decoder resample.Decoder[Item]) ([]uint64, []Item, error) {
	if n <= 0 {
		return nil, nil, nil
	}

	timestamps := make([]uint64, 0, n)
	items := make([]Item, 0, n)

	err := f.ReadAllRaw(rng, func(ts uint64, payload []byte) error {
		item, err := decoder.DecodePayload(payload)
		if err != nil {
			return err
		}
		timestamps = append(timestamps, ts)
		items = append(items, item)

		if len(timestamps) >= n {
			return errStopRead
		}

		return nil
	})
	if err != nil && !errors.Is(err, errStopRead) {
		return nil, nil, err
	}

	return timestamps, items, nil
}

// ReadResampled decodes every record in rng, groups consecutive records into
// buckets of bucketSize, and emits one meaned record per bucket (including
// any trailing partial bucket at the end of the range). When maxGap is set,
// a bucket whose source timestamps span more than maxGap is dropped rather
// than emitted, mirroring downsample.Cache's own bucket-drop rule.
func ReadResampled[Item any](f *File, rng seek.Range, resampler resample.Resampler[Item], bucketSize int, maxGap *uint64) ([]uint64, []Item, error) {
	if bucketSize < 1 {
		bucketSize = 1
	}

	state := resampler.State()
	var tsSum uint64
	var count int
	var firstTS, lastTS uint64

	var outTS []uint64
	var outItems []Item

	flush := func() {
		if count == 0 {
			return
		}

		item := state.Finish(count)
		mean := tsSum / uint64(count)
		drop := maxGap != nil && lastTS-firstTS > *maxGap
		tsSum, count = 0, 0

		if !drop {
			outTS = append(outTS, mean)
			outItems = append(outItems, item)
		}
	}

	err := f.ReadAllRaw(rng, func(ts uint64, payload []byte) error {
		item, err := resampler.DecodePayload(payload)
		if err != nil {
			return err
		}

		if count == 0 {
			firstTS = ts
		}
		lastTS = ts
		state.Add(item)
		tsSum += ts
		count++

		if count >= bucketSize {
			flush()
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	flush()

	return outTS, outItems, nil
}

// LastLine decodes the most recently pushed record.
func LastLine[Item any](f *File, decoder resample.Decoder[Item]) (uint64, Item, error) {
	var zero Item
	if !f.hasData {
		return 0, zero, errs.ErrNoData
	}

	ts, payload, err := f.lastLineTS()
	if err != nil {
		return 0, zero, err
	}

	item, err := decoder.DecodePayload(payload)
	if err != nil {
		return 0, zero, err
	}

	return ts, item, nil
}

// LastNRecords returns the timestamps and raw payloads of the last n records
// (fewer if the log holds less), using the index to jump to a nearby meta
// section instead of scanning the whole file.
func (f *File) LastNRecords(n int) ([]uint64, [][]byte, error) {
	if !f.hasData || n <= 0 {
		return nil, nil, nil
	}

	lineSize := int64(f.im.LineSize)
	metaBytes := int64(metacodec.MetaBytes(f.PayloadSize()))
	margin := metaBytes*2 + int64(n)*lineSize*2

	target := f.dataLen - margin
	if target < 0 {
		target = 0
	}

	entry, ok := f.idx.EntryAtOrBefore(target)
	if !ok {
		return nil, nil, nil
	}

	var timestamps []uint64
	var payloads [][]byte
	err := f.im.ReadWithProcessor(entry.MetaStart, f.dataLen, entry.Timestamp, f.corruptionCB, func(ts uint64, payload []byte) error {
		timestamps = append(timestamps, ts)
		payloads = append(payloads, append([]byte(nil), payload...))

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(timestamps) > n {
		timestamps = timestamps[len(timestamps)-n:]
		payloads = payloads[len(payloads)-n:]
	}

	return timestamps, payloads, nil
}

// Truncate empties both the log and its index, used to rebuild a downsampled
// cache from scratch.
func (f *File) Truncate() error {
	if err := f.im.Of.SetLen(0); err != nil {
		return err
	}
	if err := f.idx.Reset(); err != nil {
		return err
	}

	f.dataLen = 0
	f.first, f.last = 0, 0
	f.hasData = false

	return nil
}

// FlushToDisk forces both the log and the index sidecar to stable storage.
func (f *File) FlushToDisk() error {
	if err := f.im.Of.Sync(); err != nil {
		return err
	}

	return f.idx.Sync()
}

// Close releases the log and index file handles.
func (f *File) Close() error {
	err1 := f.im.Of.Close()
	err2 := f.idx.Close()

	if err1 != nil {
		return err1
	}

	return err2
}
