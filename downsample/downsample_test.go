package downsample

import (
	"path/filepath"
	"testing"

	"github.com/arloliu/byteseries/data"
	"github.com/arloliu/byteseries/resample"
	"github.com/arloliu/byteseries/seek"
	"github.com/stretchr/testify/require"
)

var meanResampler = resample.NewMeanResampler(nil)

func uptr(v uint64) *uint64 { return &v }

func TestConfigFileSuffixAndBasePath(t *testing.T) {
	cfg := Config{BucketSize: 10}
	require.Equal(t, "None_10", cfg.FileSuffix())
	require.Equal(t, "/tmp/series_None_10", cfg.BasePath("/tmp/series"))

	cfg.MaxGap = uptr(500)
	require.Equal(t, "500_10", cfg.FileSuffix())
}

func newPrimary(t *testing.T) (*data.File, string) {
	t.Helper()

	basePath := filepath.Join(t.TempDir(), "series")
	f, err := data.Create(basePath, data.CreateOptions{PayloadSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	return f, basePath
}

func pushBoth(t *testing.T, primary *data.File, c Cache, ts uint64, v float64) {
	t.Helper()

	payload := meanResampler.EncodeItem(v)
	require.NoError(t, primary.PushData(ts, payload))
	require.NoError(t, c.Process(ts, payload))
}

func TestOpenRebuildsFromExistingPrimaryData(t *testing.T) {
	primary, basePath := newPrimary(t)

	for i := uint64(0); i < 10; i++ {
		require.NoError(t, primary.PushData(100+i, meanResampler.EncodeItem(float64(i))))
	}

	c, err := Open(basePath, primary, 8, meanResampler, Config{BucketSize: 5})
	require.NoError(t, err)
	defer c.Close()

	n, err := c.Data().Len()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	ts, items, err := data.ReadAll[float64](c.Data(), seek.Range{}, meanResampler)
	require.NoError(t, err)
	require.Equal(t, []uint64{102, 107}, ts)
	require.Equal(t, []float64{2, 7}, items)
}

func TestProcessEmitsBucketOnFill(t *testing.T) {
	primary, basePath := newPrimary(t)

	c, err := Open(basePath, primary, 8, meanResampler, Config{BucketSize: 3})
	require.NoError(t, err)
	defer c.Close()

	for i := uint64(0); i < 5; i++ {
		pushBoth(t, primary, c, 100+i, float64(i))
	}

	n, err := c.Data().Len()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	pushBoth(t, primary, c, 105, 5)

	n, err = c.Data().Len()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestMaxGapDropsBucket(t *testing.T) {
	primary, basePath := newPrimary(t)

	maxGap := uint64(50)
	c, err := Open(basePath, primary, 8, meanResampler, Config{BucketSize: 2, MaxGap: &maxGap})
	require.NoError(t, err)
	defer c.Close()

	pushBoth(t, primary, c, 100, 1)
	pushBoth(t, primary, c, 200, 2)

	n, err := c.Data().Len()
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestReconcileCatchesUpAfterReopen(t *testing.T) {
	primary, basePath := newPrimary(t)

	c, err := Open(basePath, primary, 8, meanResampler, Config{BucketSize: 5})
	require.NoError(t, err)

	for i := uint64(0); i < 10; i++ {
		pushBoth(t, primary, c, 100+i, float64(i))
	}
	require.NoError(t, c.Close())

	reopened, err := Open(basePath, primary, 8, meanResampler, Config{BucketSize: 5})
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Data().Len()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	pushBoth(t, primary, reopened, 110, 10)
	pushBoth(t, primary, reopened, 111, 11)
	pushBoth(t, primary, reopened, 112, 12)
	pushBoth(t, primary, reopened, 113, 13)
	pushBoth(t, primary, reopened, 114, 14)

	n, err = reopened.Data().Len()
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestEstimateLinesDelegatesToSecondary(t *testing.T) {
	primary, basePath := newPrimary(t)

	c, err := Open(basePath, primary, 8, meanResampler, Config{BucketSize: 2})
	require.NoError(t, err)
	defer c.Close()

	for i := uint64(0); i < 6; i++ {
		pushBoth(t, primary, c, 100+i, float64(i))
	}

	est, err := c.EstimateLines(seek.Range{})
	require.NoError(t, err)
	require.Equal(t, int64(3), est.Min)
}
