package inlinemeta

import (
	"path/filepath"
	"testing"

	"github.com/arloliu/byteseries/metacodec"
	"github.com/arloliu/byteseries/offsetfile"
	"github.com/stretchr/testify/require"
)

const testPayloadSize = 8

func newTestFile(t *testing.T) *File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "series.byteseries")
	of, err := offsetfile.Create(path, offsetfile.CreateOptions{PayloadSize: testPayloadSize})
	require.NoError(t, err)
	t.Cleanup(func() { of.Close() })

	f, err := Open(of, testPayloadSize)
	require.NoError(t, err)

	return f
}

func pushRecord(t *testing.T, f *File, meta bool, ts uint64, smallTS uint16, payload []byte) {
	t.Helper()

	if meta {
		_, err := f.AppendMeta(ts)
		require.NoError(t, err)
	}
	_, err := f.AppendLine(smallTS, payload)
	require.NoError(t, err)
}

func TestAppendAndReadRoundTrip(t *testing.T) {
	f := newTestFile(t)

	pushRecord(t, f, true, 100, 0, []byte{1, 1, 1, 1, 1, 1, 1, 1})
	pushRecord(t, f, false, 0, 1, []byte{2, 2, 2, 2, 2, 2, 2, 2})
	pushRecord(t, f, false, 0, 2, []byte{3, 3, 3, 3, 3, 3, 3, 3})

	length, err := f.Of.DataLen()
	require.NoError(t, err)

	var timestamps []uint64
	var payloads [][]byte
	err = f.ReadWithProcessor(0, length, 0, nil, func(ts uint64, payload []byte) error {
		timestamps = append(timestamps, ts)
		payloads = append(payloads, append([]byte(nil), payload...))

		return nil
	})
	require.NoError(t, err)

	require.Equal(t, []uint64{100, 101, 102}, timestamps)
	require.Equal(t, []byte{1, 1, 1, 1, 1, 1, 1, 1}, payloads[0])
	require.Equal(t, []byte{3, 3, 3, 3, 3, 3, 3, 3}, payloads[2])
}

func TestRepairDropsIncompleteLeadingMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.byteseries")
	of, err := offsetfile.Create(path, offsetfile.CreateOptions{PayloadSize: testPayloadSize})
	require.NoError(t, err)
	defer of.Close()

	f, err := Open(of, testPayloadSize)
	require.NoError(t, err)

	_, err = f.AppendMeta(100)
	require.NoError(t, err)
	_, err = f.AppendLine(0, make([]byte, testPayloadSize))
	require.NoError(t, err)

	metaBytes := metacodec.MetaBytes(testPayloadSize)
	lineSize := f.LineSize
	length, err := of.DataLen()
	require.NoError(t, err)
	require.NoError(t, of.SetLen(length-int64(metaBytes)+int64(lineSize)))

	repaired, err := Open(of, testPayloadSize)
	require.NoError(t, err)

	newLength, err := repaired.Of.DataLen()
	require.NoError(t, err)
	require.Equal(t, int64(0), newLength)
}

func TestRepairDropsLoneTrailingPreambleLine(t *testing.T) {
	f := newTestFile(t)
	pushRecord(t, f, true, 100, 0, make([]byte, testPayloadSize))
	pushRecord(t, f, false, 0, 1, make([]byte, testPayloadSize))

	before, err := f.Of.DataLen()
	require.NoError(t, err)

	line := make([]byte, f.LineSize)
	line[0], line[1] = 0xFF, 0xFF
	_, err = f.Of.Append(line)
	require.NoError(t, err)

	repaired, err := Open(f.Of, testPayloadSize)
	require.NoError(t, err)

	after, err := repaired.Of.DataLen()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRepairIsIdempotent(t *testing.T) {
	f := newTestFile(t)
	pushRecord(t, f, true, 100, 0, make([]byte, testPayloadSize))
	pushRecord(t, f, false, 0, 5, make([]byte, testPayloadSize))

	before, err := f.Of.DataLen()
	require.NoError(t, err)

	again, err := Open(f.Of, testPayloadSize)
	require.NoError(t, err)

	after, err := again.Of.DataLen()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestReadWithProcessorCorruptionCallback(t *testing.T) {
	f := newTestFile(t)
	pushRecord(t, f, true, 100, 0, make([]byte, testPayloadSize))

	line := make([]byte, f.LineSize)
	line[0], line[1] = 0xFF, 0xFF
	_, err := f.Of.Append(line)
	require.NoError(t, err)
	_, err = f.AppendLine(1, make([]byte, testPayloadSize))
	require.NoError(t, err)

	length, err := f.Of.DataLen()
	require.NoError(t, err)

	var sawCorruption bool
	err = f.ReadWithProcessor(0, length, 0, func(err error) bool {
		sawCorruption = true

		return true
	}, func(ts uint64, payload []byte) error { return nil })
	require.NoError(t, err)
	require.True(t, sawCorruption)
}

func TestLastMetaAnchorAndScanMetaAnchors(t *testing.T) {
	f := newTestFile(t)
	pushRecord(t, f, true, 100, 0, make([]byte, testPayloadSize))
	pushRecord(t, f, false, 0, 1, make([]byte, testPayloadSize))
	pushRecord(t, f, true, 200, 0, make([]byte, testPayloadSize))
	pushRecord(t, f, false, 0, 1, make([]byte, testPayloadSize))

	_, ts, found, err := f.LastMetaAnchor()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(200), ts)

	anchors, err := f.ScanMetaAnchors()
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	require.Equal(t, uint64(100), anchors[0].Timestamp)
	require.Equal(t, uint64(200), anchors[1].Timestamp)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	require.Equal(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abc")))
	require.NotEqual(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abd")))
}
