// Package metacodec packs and unpacks the 8-byte full-timestamp "meta
// section" that anchors every delta-encoded run of lines in a byteseries log.
//
// A meta section is recognised by two consecutive lines whose first two
// bytes both equal Preamble. The remaining bytes of those two lines, plus as
// many trailing lines as payloadSize requires, carry the 8 timestamp bytes.
// The exact packing depends on payloadSize; see LinesPerMeta.
package metacodec

import "encoding/binary"

// Preamble is the two-byte marker that begins every meta-section line.
var Preamble = [2]byte{0xFF, 0xFF}

// IsPreamble reports whether line begins with the meta-section marker.
func IsPreamble(line []byte) bool {
	return len(line) >= 2 && line[0] == Preamble[0] && line[1] == Preamble[1]
}

// LineSize returns the size in bytes of one line for the given payload size.
func LineSize(payloadSize int) int {
	return payloadSize + 2
}

// LinesPerMeta returns the number of consecutive lines a meta section
// occupies for the given payload size.
func LinesPerMeta(payloadSize int) int {
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

// MetaBytes returns the total byte size of a meta section for the given
// payload size: LinesPerMeta(payloadSize) * LineSize(payloadSize).
func MetaBytes(payloadSize int) int {
	return LinesPerMeta(payloadSize) * LineSize(payloadSize)
}

// WriteMeta renders the full meta section (all of its lines, concatenated)
// for the given full timestamp and payload size.
func WriteMeta(ts uint64, payloadSize int) []byte {
	lineSize := LineSize(payloadSize)
	var tsBytes [8]byte
	binary.LittleEndian.PutUint64(tsBytes[:], ts)

	out := make([]byte, 0, MetaBytes(payloadSize))

	switch {
	case payloadSize == 0:
		out = append(out, Preamble[0], Preamble[1])
		out = append(out, Preamble[0], Preamble[1])
		out = append(out, tsBytes[0:2]...)
		out = append(out, tsBytes[2:4]...)
		out = append(out, tsBytes[4:6]...)
		out = append(out, tsBytes[6:8]...)

	case payloadSize == 1:
		out = append(out, Preamble[0], Preamble[1], tsBytes[0])
		out = append(out, Preamble[0], Preamble[1], tsBytes[1])
		out = append(out, tsBytes[2], tsBytes[3], tsBytes[4])
		out = append(out, tsBytes[5], tsBytes[6], tsBytes[7])

	case payloadSize == 2:
		out = append(out, Preamble[0], Preamble[1], tsBytes[0], tsBytes[1])
		out = append(out, Preamble[0], Preamble[1], tsBytes[2], tsBytes[3])
		out = append(out, tsBytes[4], tsBytes[5], tsBytes[6], tsBytes[7])

	case payloadSize == 3:
		out = append(out, Preamble[0], Preamble[1], tsBytes[0], tsBytes[1], tsBytes[2])
		out = append(out, Preamble[0], Preamble[1], tsBytes[3], tsBytes[4], tsBytes[5])
		line3 := make([]byte, lineSize)
		line3[0], line3[1] = tsBytes[6], tsBytes[7]
		out = append(out, line3...)

	default: // payloadSize >= 4
		line1 := make([]byte, lineSize)
		line1[0], line1[1] = Preamble[0], Preamble[1]
		copy(line1[2:6], tsBytes[0:4])
		line2 := make([]byte, lineSize)
		line2[0], line2[1] = Preamble[0], Preamble[1]
		copy(line2[2:6], tsBytes[4:8])
		out = append(out, line1...)
		out = append(out, line2...)
	}

	return out
}

// Result is the outcome of decoding a meta section from a sequence of lines.
type Result struct {
	// Timestamp is the decoded 8-byte full timestamp, valid only if OK is true.
	Timestamp uint64
	// OK is true when decoding succeeded with the lines provided.
	OK bool
	// ConsumedLines is how many lines (including the first two preamble
	// lines) were available when decoding ran out of input. Valid only
	// when OK is false: the caller should fetch more lines and retry with
	// the same leading lines plus whatever follows.
	ConsumedLines int
}

// ReadMeta decodes a meta section given its constituent lines. lines[0] and
// lines[1] must both be preamble-bearing; payloadSize is derived from their
// length. If fewer lines are available than the section requires, OK is
// false and ConsumedLines reports how many lines were actually on hand.
func ReadMeta(lines [][]byte) Result {
	if len(lines) < 2 {
		return Result{ConsumedLines: len(lines)}
	}

	payloadSize := len(lines[0]) - 2
	need := LinesPerMeta(payloadSize)
	if len(lines) < need {
		return Result{ConsumedLines: len(lines)}
	}

	var tsBytes [8]byte

	switch {
	case payloadSize == 0:
		copy(tsBytes[0:2], lines[2][0:2])
		copy(tsBytes[2:4], lines[3][0:2])
		copy(tsBytes[4:6], lines[4][0:2])
		copy(tsBytes[6:8], lines[5][0:2])

	case payloadSize == 1:
		tsBytes[0] = lines[0][2]
		tsBytes[1] = lines[1][2]
		copy(tsBytes[2:5], lines[2][0:3])
		copy(tsBytes[5:8], lines[3][0:3])

	case payloadSize == 2:
		copy(tsBytes[0:2], lines[0][2:4])
		copy(tsBytes[2:4], lines[1][2:4])
		copy(tsBytes[4:8], lines[2][0:4])

	case payloadSize == 3:
		copy(tsBytes[0:3], lines[0][2:5])
		copy(tsBytes[3:6], lines[1][2:5])
		copy(tsBytes[6:8], lines[2][0:2])

	default: // payloadSize >= 4
		copy(tsBytes[0:4], lines[0][2:6])
		copy(tsBytes[4:8], lines[1][2:6])
	}

	return Result{Timestamp: binary.LittleEndian.Uint64(tsBytes[:]), OK: true}
}
