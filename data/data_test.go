package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arloliu/byteseries/index"
	"github.com/arloliu/byteseries/resample"
	"github.com/arloliu/byteseries/seek"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T, payloadSize int) (*File, string) {
	t.Helper()

	basePath := filepath.Join(t.TempDir(), "series")
	f, err := Create(basePath, CreateOptions{PayloadSize: payloadSize, UserHeader: []byte("hdr")})
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	return f, basePath
}

var meanResampler = resample.NewMeanResampler(nil)

func pushFloat(t *testing.T, f *File, ts uint64, v float64) {
	t.Helper()
	require.NoError(t, f.PushData(ts, meanResampler.EncodeItem(v)))
}

func TestCreateOpenRoundTrip(t *testing.T) {
	f, basePath := newTestFile(t, 8)

	pushFloat(t, f, 100, 1.5)
	pushFloat(t, f, 101, 2.5)
	pushFloat(t, f, 102, 3.5)
	require.NoError(t, f.FlushToDisk())
	require.NoError(t, f.Close())

	reopened, params, userHeader, err := Open(basePath, OpenOptions{})
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 8, params.PayloadSize)
	require.Equal(t, []byte("hdr"), userHeader)

	first, last, ok := reopened.Range()
	require.True(t, ok)
	require.Equal(t, uint64(100), first)
	require.Equal(t, uint64(102), last)

	n, err := reopened.Len()
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestPushDataForcesMetaOnOverflow(t *testing.T) {
	f, _ := newTestFile(t, 8)

	pushFloat(t, f, 1000, 1)
	pushFloat(t, f, 1001, 2)

	// A delta larger than index.MaxSmallTS must force a new meta section.
	bigJump := uint64(1001) + index.MaxSmallTS + 100
	pushFloat(t, f, bigJump, 3)
	pushFloat(t, f, bigJump+1, 4)

	require.Equal(t, 2, f.idx.Len())

	n, err := f.Len()
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

func TestReadAllAndReadFirstN(t *testing.T) {
	f, _ := newTestFile(t, 8)

	for i := uint64(0); i < 10; i++ {
		pushFloat(t, f, 100+i, float64(i))
	}

	timestamps, items, err := ReadAll[float64](f, seek.Range{}, meanResampler)
	require.NoError(t, err)
	require.Len(t, timestamps, 10)
	require.Equal(t, uint64(100), timestamps[0])
	require.Equal(t, 9.0, items[9])

	tsFirst, itemsFirst, err := ReadFirstN[float64](f, 3, seek.Range{}, meanResampler)
	require.NoError(t, err)
	require.Equal(t, []uint64{100, 101, 102}, tsFirst)
	require.Equal(t, []float64{0, 1, 2}, itemsFirst)
}

func TestReadResampledBucketing(t *testing.T) {
	f, _ := newTestFile(t, 8)

	for i := uint64(0); i < 10; i++ {
		pushFloat(t, f, 100+i, float64(i))
	}

	ts, items, err := ReadResampled[float64](f, seek.Range{}, meanResampler, 5, nil)
	require.NoError(t, err)
	require.Len(t, ts, 2)
	require.Equal(t, 2.0, items[0])
	require.Equal(t, 7.0, items[1])
}

func TestReadResampledDropsBucketBeyondMaxGap(t *testing.T) {
	f, _ := newTestFile(t, 8)

	pushFloat(t, f, 100, 1)
	pushFloat(t, f, 200, 2)

	maxGap := uint64(50)
	ts, items, err := ReadResampled[float64](f, seek.Range{}, meanResampler, 2, &maxGap)
	require.NoError(t, err)
	require.Empty(t, ts)
	require.Empty(t, items)
}

func TestLastLine(t *testing.T) {
	f, _ := newTestFile(t, 8)

	pushFloat(t, f, 100, 1)
	pushFloat(t, f, 101, 2)
	pushFloat(t, f, 102, 3)

	ts, item, err := LastLine[float64](f, meanResampler)
	require.NoError(t, err)
	require.Equal(t, uint64(102), ts)
	require.Equal(t, 3.0, item)
}

func TestLastNRecordsAcrossMetaSections(t *testing.T) {
	f, _ := newTestFile(t, 8)

	ts := uint64(0)
	for i := 0; i < 5; i++ {
		ts += uint64(index.MaxSmallTS) + 1
		pushFloat(t, f, ts, float64(i))
	}
	for i := 0; i < 5; i++ {
		ts++
		pushFloat(t, f, ts, float64(10+i))
	}

	timestamps, payloads, err := f.LastNRecords(3)
	require.NoError(t, err)
	require.Len(t, timestamps, 3)
	require.Len(t, payloads, 3)

	last, err := meanResampler.DecodePayload(payloads[2])
	require.NoError(t, err)
	require.Equal(t, 14.0, last)
}

func TestTruncate(t *testing.T) {
	f, _ := newTestFile(t, 8)
	pushFloat(t, f, 100, 1)
	pushFloat(t, f, 101, 2)

	require.NoError(t, f.Truncate())

	n, err := f.Len()
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	_, _, ok := f.Range()
	require.False(t, ok)
}

func TestOpenRebuildsMissingIndex(t *testing.T) {
	f, basePath := newTestFile(t, 8)
	pushFloat(t, f, 100, 1)
	pushFloat(t, f, 101, 2)
	require.NoError(t, f.FlushToDisk())
	require.NoError(t, f.Close())

	require.NoError(t, os.Remove(IndexPath(basePath)))

	reopened, _, _, err := Open(basePath, OpenOptions{})
	require.NoError(t, err)
	defer reopened.Close()

	first, last, ok := reopened.Range()
	require.True(t, ok)
	require.Equal(t, uint64(100), first)
	require.Equal(t, uint64(101), last)

	n, err := reopened.Len()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
