package series

import (
	"path/filepath"
	"testing"

	"github.com/arloliu/byteseries/data"
	"github.com/arloliu/byteseries/downsample"
	"github.com/arloliu/byteseries/errs"
	"github.com/arloliu/byteseries/resample"
	"github.com/arloliu/byteseries/seek"
	"github.com/stretchr/testify/require"
)

var meanResampler = resample.NewMeanResampler(nil)

func newTestSeries(t *testing.T, opts ...Option) (*Series, string) {
	t.Helper()

	basePath := filepath.Join(t.TempDir(), "series")
	s, err := Create(basePath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, basePath
}

func pushFloat(t *testing.T, s *Series, ts uint64, v float64) {
	t.Helper()
	require.NoError(t, s.PushLine(ts, meanResampler.EncodeItem(v)))
}

func TestCreateRequiresPayloadSize(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "series")

	_, err := Create(basePath)
	require.ErrorIs(t, err, errs.ErrPayloadSizeRequired)
}

func TestCreateFailsOnExistingWithExclusive(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "series")

	s, err := Create(basePath, WithPayloadSize(8), WithExclusive())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Create(basePath, WithPayloadSize(8), WithExclusive())
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestOpenHeaderMustMatch(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "series")

	s, err := Create(basePath, WithPayloadSize(8), WithHeader([]byte("v1")))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(basePath, WithHeader([]byte("v2")))
	require.ErrorIs(t, err, errs.ErrHeaderMismatch)

	reopened, err := Open(basePath, WithHeader([]byte("v1")))
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestOpenHeaderRequiredFailsWithoutHeader(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "series")

	s, err := Create(basePath, WithPayloadSize(8))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(basePath, WithHeaderRequired())
	require.ErrorIs(t, err, errs.ErrHeaderRequired)
}

func TestOpenHeaderIgnoreExisting(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "series")

	s, err := Create(basePath, WithPayloadSize(8), WithHeader([]byte("v1")))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(basePath, WithHeaderIgnoreExisting())
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestPushLineRejectsWrongLength(t *testing.T) {
	s, _ := newTestSeries(t, WithPayloadSize(8))

	err := s.PushLine(1, []byte{1, 2, 3})
	require.ErrorIs(t, err, errs.ErrWrongLineLength)
}

func TestPushLineRejectsNonMonotonic(t *testing.T) {
	s, _ := newTestSeries(t, WithPayloadSize(8))

	pushFloat(t, s, 100, 1)
	pushFloat(t, s, 101, 2)

	err := s.PushLine(101, meanResampler.EncodeItem(3))
	var notAfter *errs.TimeNotAfterLast
	require.ErrorAs(t, err, &notAfter)
	require.Equal(t, uint64(101), notAfter.New)
	require.Equal(t, uint64(101), notAfter.Prev)
}

func TestReadAllReadFirstNLastLine(t *testing.T) {
	s, _ := newTestSeries(t, WithPayloadSize(8))

	for i := uint64(0); i < 20; i++ {
		pushFloat(t, s, 100+i, float64(i))
	}

	ts, items, err := ReadAll[float64](s, seek.Range{}, meanResampler)
	require.NoError(t, err)
	require.Len(t, ts, 20)
	require.Equal(t, 19.0, items[19])

	ts, items, err = ReadFirstN[float64](s, 3, seek.Range{}, meanResampler)
	require.NoError(t, err)
	require.Equal(t, []uint64{100, 101, 102}, ts)
	require.Equal(t, []float64{0, 1, 2}, items)

	lastTS, lastItem, err := LastLine[float64](s, meanResampler)
	require.NoError(t, err)
	require.Equal(t, uint64(119), lastTS)
	require.Equal(t, 19.0, lastItem)

	n, err := s.NLinesBetween(seek.Range{})
	require.NoError(t, err)
	require.Equal(t, int64(20), n)

	length, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, int64(20), length)

	first, last, ok := s.Range()
	require.True(t, ok)
	require.Equal(t, uint64(100), first)
	require.Equal(t, uint64(119), last)

	require.Equal(t, 8, s.PayloadSize())
}

func TestWithDownsampleEndToEnd(t *testing.T) {
	s, err := Create(filepath.Join(t.TempDir(), "series"),
		WithPayloadSize(0),
		WithDownsample[resample.EmptyItem](resample.EmptyResampler{}, downsample.Config{BucketSize: 10}),
	)
	require.NoError(t, err)
	defer s.Close()

	for ts := uint64(1); ts <= 1000; ts++ {
		require.NoError(t, s.PushLine(ts, nil))
	}

	require.Len(t, s.caches, 1)

	n, err := s.caches[0].Data().Len()
	require.NoError(t, err)
	require.Equal(t, int64(100), n)

	ts, _, err := data.ReadAll[resample.EmptyItem](s.caches[0].Data(), seek.Range{}, resample.EmptyResampler{})
	require.NoError(t, err)
	require.Len(t, ts, 100)
	require.Equal(t, uint64(5), ts[0])
	require.Equal(t, uint64(995), ts[99])

	for k := 1; k <= 100; k++ {
		want := uint64(10*k - 5)
		require.Equal(t, want, ts[k-1])
	}
}

func TestReadNPicksDownsampleCache(t *testing.T) {
	s, err := Create(filepath.Join(t.TempDir(), "series"),
		WithPayloadSize(8),
		WithDownsample[float64](meanResampler, downsample.Config{BucketSize: 10}),
	)
	require.NoError(t, err)
	defer s.Close()

	for i := uint64(0); i < 1000; i++ {
		pushFloat(t, s, 1+i, float64(i))
	}

	ts, items, err := ReadN[float64](s, 50, seek.Range{}, meanResampler)
	require.NoError(t, err)
	require.NotEmpty(t, ts)
	require.Equal(t, len(ts), len(items))
	require.LessOrEqual(t, len(ts), 100)
}

func TestFlushAndClose(t *testing.T) {
	s, _ := newTestSeries(t, WithPayloadSize(8))
	pushFloat(t, s, 1, 1)

	require.NoError(t, s.FlushToDisk())
	require.NoError(t, s.Close())
}
