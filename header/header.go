// Package header encodes and decodes the ASCII preamble that begins every
// byteseries file (the primary log, its index sidecar, and every downsample
// cache pair).
//
// Layout, as written to disk:
//
//	[0..4)       u32 little-endian length L of the preamble text below
//	[4..4+L)     ASCII preamble text (version, payload size, header compression)
//	[4+L..4+L+4) u32 little-endian length of the user header blob below
//	[4+L+4..)    user header bytes (opaque; optionally compressed)
package header

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/byteseries/compress"
	"github.com/arloliu/byteseries/errs"
	"github.com/arloliu/byteseries/format"
)

// Version is the only preamble version this build understands.
const Version uint16 = 1

// PayloadSizeOption tells Open how to reconcile a caller-supplied payload
// size against the one recorded in the file's preamble.
type PayloadSizeOption struct {
	// Set is true when the caller supplied a payload size at all.
	Set bool
	// MustMatch, when Set, is the payload size the caller expects.
	MustMatch int
}

// Params is the parsed content of a file's ASCII preamble.
type Params struct {
	Version     uint16
	PayloadSize int
	Compression format.CompressionType
}

func (p Params) text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "This is a byteseries %d file, an embedded timeseries file.\n", p.Version)
	fmt.Fprintf(&b, "It stores one fixed-size payload per timestamped record. For this file that is: %d bytes.\n", p.PayloadSize)
	fmt.Fprintf(&b, "Header compression: %s.\n", p.Compression)

	return b.String()
}

func parseParams(text string) (Params, error) {
	version, err := parseMarked(text, "This is a byteseries ", " file,")
	if err != nil {
		return Params{}, fmt.Errorf("%w: %s", errs.ErrMalformedPreamble, err)
	}

	versionNum, err := strconv.ParseUint(version, 10, 16)
	if err != nil {
		return Params{}, fmt.Errorf("%w: version %q is not a number", errs.ErrMalformedPreamble, version)
	}

	payloadSize, err := parseMarked(text, "For this file that is: ", " bytes.")
	if err != nil {
		return Params{}, fmt.Errorf("%w: %s", errs.ErrMalformedPreamble, err)
	}

	payloadSizeNum, err := strconv.Atoi(payloadSize)
	if err != nil {
		return Params{}, fmt.Errorf("%w: payload size %q is not a number", errs.ErrMalformedPreamble, payloadSize)
	}

	compressionName, err := parseMarked(text, "Header compression: ", ".")
	if err != nil {
		return Params{}, fmt.Errorf("%w: %s", errs.ErrMalformedPreamble, err)
	}

	compression, err := compressionByName(compressionName)
	if err != nil {
		return Params{}, err
	}

	return Params{Version: uint16(versionNum), PayloadSize: payloadSizeNum, Compression: compression}, nil
}

func parseMarked(text, start, end string) (string, error) {
	i := strings.Index(text, start)
	if i < 0 {
		return "", fmt.Errorf("missing marker %q", start)
	}
	rest := text[i+len(start):]

	j := strings.Index(rest, end)
	if j < 0 {
		return "", fmt.Errorf("missing marker %q after %q", end, start)
	}

	return rest[:j], nil
}

func compressionByName(name string) (format.CompressionType, error) {
	switch name {
	case format.CompressionNone.String():
		return format.CompressionNone, nil
	case format.CompressionZstd.String():
		return format.CompressionZstd, nil
	case format.CompressionS2.String():
		return format.CompressionS2, nil
	case format.CompressionLZ4.String():
		return format.CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", errs.ErrUnknownCodec, name)
	}
}

// Encode renders a complete file-start blob: the length-prefixed preamble
// text followed by the user header, compressed with the codec named in
// params.Compression if it is not format.CompressionNone.
func Encode(params Params, userHeader []byte) ([]byte, error) {
	if params.Version == 0 {
		params.Version = Version
	}
	if params.Compression == 0 {
		params.Compression = format.CompressionNone
	}

	codec, err := compress.GetCodec(params.Compression)
	if err != nil {
		return nil, err
	}

	compressed, err := codec.Compress(userHeader)
	if err != nil {
		return nil, fmt.Errorf("compressing user header: %w", err)
	}

	text := params.text()

	buf := make([]byte, 0, 4+len(text)+4+len(compressed))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(text)))
	buf = append(buf, text...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(compressed)))
	buf = append(buf, compressed...)

	return buf, nil
}

// Decode parses a file-start blob produced by Encode, validates the version
// and (optionally) the caller's expected payload size, and returns the
// decompressed user header plus the number of bytes the whole blob occupied.
func Decode(raw []byte, payloadSizeOpt PayloadSizeOption) (params Params, userHeader []byte, totalLen int, err error) {
	if len(raw) < 4 {
		return Params{}, nil, 0, fmt.Errorf("%w: preamble length prefix truncated", errs.ErrMalformedPreamble)
	}

	textLen := int(binary.LittleEndian.Uint32(raw[0:4]))
	if len(raw) < 4+textLen {
		return Params{}, nil, 0, fmt.Errorf("%w: preamble text truncated", errs.ErrMalformedPreamble)
	}

	text := string(raw[4 : 4+textLen])

	params, err = parseParams(text)
	if err != nil {
		return Params{}, nil, 0, err
	}

	if params.Version != Version {
		return Params{}, nil, 0, &errs.VersionMismatch{Needed: Version, Found: params.Version}
	}

	if payloadSizeOpt.Set && payloadSizeOpt.MustMatch != params.PayloadSize {
		return Params{}, nil, 0, &errs.PayloadSizeChanged{Given: payloadSizeOpt.MustMatch, Found: params.PayloadSize}
	}

	blobOffset := 4 + textLen
	if len(raw) < blobOffset+4 {
		return Params{}, nil, 0, fmt.Errorf("%w: header blob length truncated", errs.ErrMalformedPreamble)
	}
	blobLen := int(binary.LittleEndian.Uint32(raw[blobOffset : blobOffset+4]))
	blobOffset += 4
	if len(raw) < blobOffset+blobLen {
		return Params{}, nil, 0, fmt.Errorf("%w: header blob truncated", errs.ErrMalformedPreamble)
	}

	codec, err := compress.GetCodec(params.Compression)
	if err != nil {
		return Params{}, nil, 0, err
	}

	decompressed, err := codec.Decompress(raw[blobOffset : blobOffset+blobLen])
	if err != nil {
		return Params{}, nil, 0, fmt.Errorf("decompressing user header: %w", err)
	}

	return params, decompressed, blobOffset + blobLen, nil
}
