// Package seek turns a requested timestamp range into exact byte offsets in
// the data log, using the sparse index for a coarse pass and a short linear
// scan of small-ts values for the final refinement.
package seek

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arloliu/byteseries/errs"
	"github.com/arloliu/byteseries/index"
)

// Bound expresses one side of a requested range.
type Bound struct {
	Set       bool
	Inclusive bool
	Value     uint64
}

// Unbounded returns an unset Bound.
func Unbounded() Bound { return Bound{} }

// Range is a requested [start, end) query expressed as two independent
// Bounds. The zero Range spans the whole series.
type Range struct {
	Start Bound
	End   Bound
}

// Included returns an inclusive Bound at v.
func Included(v uint64) Bound { return Bound{Set: true, Inclusive: true, Value: v} }

// Excluded returns an exclusive Bound at v.
func Excluded(v uint64) Bound { return Bound{Set: true, Inclusive: false, Value: v} }

// RangeSource is the subset of Data that RoughPos needs from the index and
// the log's own bookkeeping.
type RangeSource interface {
	Index() *index.Index
	PayloadSize() int
	DataLen() int64
	Range() (first, last uint64, ok bool)
}

// RoughPos is the coarse, index-only classification of a requested range.
type RoughPos struct {
	StartTS            uint64
	StartArea          index.StartArea
	StartSectionFullTS uint64
	EndTS              uint64
	EndArea            index.EndArea
	EndSectionFullTS   uint64

	// dataLenHint is the log's total data length at the time the RoughPos
	// was built, used only to bound a TillEnd scan window.
	dataLenHint int64
}

// Pos is the refined byte range ready to hand to the inline-meta reader.
type Pos struct {
	StartByte   int64
	EndByte     int64
	FirstFullTS uint64
}

func checkedStartTime(src RangeSource, start Bound) (uint64, error) {
	first, last, ok := src.Range()
	if !ok {
		return 0, errs.ErrEmptyFile
	}

	if !start.Set {
		return first, nil
	}

	v := start.Value
	if !start.Inclusive {
		v++
	}

	if v > last {
		return 0, &errs.StartAfterData{Requested: start.Value, RangeLow: first, RangeHigh: last}
	}
	if v < first {
		v = first
	}

	return v, nil
}

func checkedEndTime(src RangeSource, end Bound) (uint64, error) {
	first, last, ok := src.Range()
	if !ok {
		return 0, errs.ErrEmptyFile
	}

	if !end.Set {
		return last, nil
	}

	v := end.Value
	if !end.Inclusive {
		if v == 0 {
			return 0, errs.ErrStopBeforeData
		}
		v--
	}

	if v < first {
		return 0, errs.ErrStopBeforeData
	}
	if v > last {
		v = last
	}

	return v, nil
}

// NewRoughPos resolves start/end bounds into index-only search areas.
func NewRoughPos(src RangeSource, start, end Bound) (*RoughPos, error) {
	startTS, err := checkedStartTime(src, start)
	if err != nil {
		return nil, err
	}

	endTS, err := checkedEndTime(src, end)
	if err != nil {
		return nil, err
	}

	if startTS > endTS {
		return nil, fmt.Errorf("%w: start=%d end=%d", errs.ErrStartAfterStop, startTS, endTS)
	}

	idx := src.Index()
	payloadSize := src.PayloadSize()

	var startArea index.StartArea
	var startFullTS uint64
	if start.Set {
		startArea, startFullTS = idx.StartSearchBounds(startTS, payloadSize)
	} else {
		startArea = index.StartArea{Kind: index.StartFound, LinePos: lineStart(payloadSize, 0)}
		if ts, ok := idx.FirstTimestamp(); ok {
			startFullTS = ts
		}
	}

	var endArea index.EndArea
	var endFullTS uint64
	if end.Set {
		endArea, endFullTS = idx.EndSearchBounds(endTS, payloadSize)
	} else {
		lineSize := int64(payloadSize + 2)
		endArea = index.EndArea{Kind: index.EndFound, LinePos: src.DataLen() - lineSize}
		if ts, ok := idx.LastTimestamp(); ok {
			endFullTS = ts
		}
	}

	return &RoughPos{
		StartTS: startTS, StartArea: startArea, StartSectionFullTS: startFullTS,
		EndTS: endTS, EndArea: endArea, EndSectionFullTS: endFullTS,
		dataLenHint: src.DataLen(),
	}, nil
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

// ByteReader is the minimal read capability Refine needs from Data's
// underlying log, used only to scan small-ts values within a bounded window.
type ByteReader interface {
	ReadAt(buf []byte, off int64) (int, error)
}

// Refine scans the candidate window(s) identified by RoughPos for the exact
// line boundaries, returning nil when the range is gap-only (no data to read).
func (rp *RoughPos) Refine(r ByteReader, payloadSize int) (*Pos, error) {
	lineSize := int64(payloadSize + 2)

	var startByte int64
	switch rp.StartArea.Kind {
	case index.StartFound, index.StartGap:
		startByte = rp.StartArea.LinePos
	case index.StartClipped:
		startByte = lineStart(payloadSize, 0)
	case index.StartTillEnd:
		b, err := findReadStart(r, smallTS(rp.StartTS, rp.StartSectionFullTS), rp.StartArea.LinePos, rp.dataLenHint, lineSize)
		if err != nil {
			return nil, err
		}
		startByte = b
	case index.StartWindow:
		b, err := findReadStart(r, smallTS(rp.StartTS, rp.StartSectionFullTS), rp.StartArea.LinePos, rp.StartArea.MetaStop, lineSize)
		if err != nil {
			return nil, err
		}
		startByte = b
	}

	var endByte int64
	switch rp.EndArea.Kind {
	case index.EndFound:
		endByte = rp.EndArea.LinePos + lineSize
	case index.EndGap:
		endByte = rp.EndArea.MetaStart
	case index.EndTillEnd:
		b, err := findReadEnd(r, smallTS(rp.EndTS, rp.EndSectionFullTS), rp.EndArea.LinePos, rp.dataLenHint, lineSize)
		if err != nil {
			return nil, err
		}
		endByte = b
	case index.EndWindow:
		b, err := findReadEnd(r, smallTS(rp.EndTS, rp.EndSectionFullTS), rp.EndArea.LinePos, rp.EndArea.MetaStart, lineSize)
		if err != nil {
			return nil, err
		}
		endByte = b
	}

	if endByte <= startByte {
		return nil, nil
	}

	return &Pos{StartByte: startByte, EndByte: endByte, FirstFullTS: rp.StartSectionFullTS}, nil
}

func smallTS(ts, anchor uint64) uint16 {
	return uint16(ts - anchor)
}

// findReadStart scans [start, stop) for the first line whose small-ts is >=
// target, returning that line's offset (or stop if none qualifies).
func findReadStart(r ByteReader, target uint16, start, stop, lineSize int64) (int64, error) {
	if stop <= start+lineSize {
		return stop, nil
	}

	buf := make([]byte, stop-start)
	if _, err := r.ReadAt(buf, start); err != nil && err != io.EOF {
		return 0, fmt.Errorf("seek: scanning start window: %w", err)
	}

	nLines := int(int64(len(buf)) / lineSize)
	for i := 0; i < nLines; i++ {
		v := binary.LittleEndian.Uint16(buf[int64(i)*lineSize : int64(i)*lineSize+2])
		if v >= target {
			return start + int64(i)*lineSize, nil
		}
	}

	return stop, nil
}

// findReadEnd scans [start, stop) for the last line whose small-ts is <=
// target, returning the exclusive offset just past that line (or stop if
// none qualifies).
func findReadEnd(r ByteReader, target uint16, start, stop, lineSize int64) (int64, error) {
	if stop <= start+lineSize {
		return stop, nil
	}

	buf := make([]byte, stop-start)
	if _, err := r.ReadAt(buf, start); err != nil && err != io.EOF {
		return 0, fmt.Errorf("seek: scanning end window: %w", err)
	}

	nLines := int(int64(len(buf)) / lineSize)
	for i := nLines - 1; i >= 0; i-- {
		v := binary.LittleEndian.Uint16(buf[int64(i)*lineSize : int64(i)*lineSize+2])
		if v <= target {
			return start + int64(i+1)*lineSize, nil
		}
	}

	return stop, nil
}

// EstimatedLines bounds the number of lines between start and end without an
// I/O pass, used by the downsample selector to pick a cache without reading it.
type EstimatedLines struct {
	Min, Max int64
}

// Estimate derives {min, max} line-count bounds from the coarse areas alone.
func (rp *RoughPos) Estimate(payloadSize int) EstimatedLines {
	lineSize := int64(payloadSize + 2)

	var lo, hi int64
	switch rp.StartArea.Kind {
	case index.StartFound, index.StartGap, index.StartClipped:
		lo = rp.StartArea.LinePos
	case index.StartWindow:
		lo = rp.StartArea.LinePos
		hi = rp.StartArea.MetaStop
	case index.StartTillEnd:
		lo = rp.StartArea.LinePos
	}

	var endLo int64
	switch rp.EndArea.Kind {
	case index.EndFound, index.EndTillEnd:
		endLo = rp.EndArea.LinePos + lineSize
	case index.EndWindow:
		endLo = rp.EndArea.MetaStart
	case index.EndGap:
		endLo = rp.EndArea.MetaStart
	}

	span := endLo - lo
	if span < 0 {
		span = 0
	}

	minLines := span / lineSize
	maxLines := minLines
	if hi > 0 {
		maxSpan := hi - lo
		if maxSpan > span {
			maxLines = maxSpan / lineSize
		}
	}

	return EstimatedLines{Min: minLines, Max: maxLines}
}
