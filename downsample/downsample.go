// Package downsample maintains a secondary, pre-aggregated Data log kept
// coherent with a primary series: every bucket_size consecutive primary
// records collapse into one record whose timestamp is the integer mean of
// the bucket's timestamps and whose payload is the resampler's own encoding
// of the aggregated value.
package downsample

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/arloliu/byteseries/data"
	"github.com/arloliu/byteseries/errs"
	"github.com/arloliu/byteseries/format"
	"github.com/arloliu/byteseries/header"
	"github.com/arloliu/byteseries/resample"
	"github.com/arloliu/byteseries/seek"
)

// Config names one downsampled cache: every BucketSize consecutive primary
// records are collapsed into one, dropped instead of emitted when MaxGap is
// set and the bucket's source timestamps span more than MaxGap.
type Config struct {
	MaxGap     *uint64
	BucketSize int
}

// FileSuffix renders the `<max_gap>_<bucket_size>` component of a cache's
// file name, with MaxGap rendered as the literal "None" when unset.
func (c Config) FileSuffix() string {
	gap := "None"
	if c.MaxGap != nil {
		gap = strconv.FormatUint(*c.MaxGap, 10)
	}

	return fmt.Sprintf("%s_%d", gap, c.BucketSize)
}

// BasePath returns the secondary log's base path (without extension) for a
// primary series rooted at seriesBasePath.
func (c Config) BasePath(seriesBasePath string) string {
	return seriesBasePath + "_" + c.FileSuffix()
}

// Cache is the type-erased surface Series needs from a downsampled cache,
// regardless of the concrete Item type its resampler produces.
type Cache interface {
	// Process folds one freshly-pushed primary record into the cache,
	// possibly emitting (or dropping) a completed bucket.
	Process(ts uint64, payload []byte) error
	// EstimateLines reports index-only {min, max} line-count bounds for rng
	// against this cache's own Data, used by the cache selector.
	EstimateLines(rng seek.Range) (seek.EstimatedLines, error)
	// Data exposes the underlying secondary Data for direct reads.
	Data() *data.File
	// Config reports the bucketing configuration this cache was built with.
	Config() Config
	// Close releases the cache's file handles.
	Close() error
}

type cache[Item any] struct {
	d          *data.File
	resampler  resample.Resampler[Item]
	cfg        Config
	state      resample.State[Item]
	tsSum      uint64
	samples    int
	firstBinTS uint64
}

// Open creates (if missing) or reconciles (if present) the downsampled cache
// for seriesBasePath, given the live primary Data it mirrors.
func Open[Item any](seriesBasePath string, primary *data.File, payloadSize int, resampler resample.Resampler[Item], cfg Config) (Cache, error) {
	basePath := cfg.BasePath(seriesBasePath)

	c := &cache[Item]{resampler: resampler, cfg: cfg, state: resampler.State()}

	d, err := openOrCreate(basePath, payloadSize)
	if err != nil {
		return nil, err
	}
	c.d = d

	if err := c.reconcile(primary); err != nil {
		d.Close()

		return nil, err
	}

	return c, nil
}

func openOrCreate(basePath string, payloadSize int) (*data.File, error) {
	d, _, _, err := data.Open(basePath, data.OpenOptions{
		PayloadSize: header.PayloadSizeOption{Set: true, MustMatch: payloadSize},
	})
	if err == nil {
		return d, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return data.Create(basePath, data.CreateOptions{PayloadSize: payloadSize, Compression: format.CompressionNone})
}

// reconcile implements the §4.8 open-time coherence check: validate the
// cache's last bucket against the trailing window of the primary's raw
// timestamps, then either leave the cache untouched, catch it up, or rebuild
// it from scratch. Cache corruption is never fatal to the primary: any
// unrecoverable mismatch silently triggers a full rebuild.
func (c *cache[Item]) reconcile(primary *data.File) error {
	primaryLen, err := primary.Len()
	if err != nil {
		return err
	}

	cacheLen, err := c.d.Len()
	if err != nil {
		return err
	}

	if cacheLen == 0 {
		if primaryLen >= int64(c.cfg.BucketSize) {
			return c.rebuildFromScratch(primary)
		}

		return nil
	}

	lastCacheTS, _, err := data.LastLine[resample.EmptyItem](c.d, resample.EmptyResampler{})
	if err != nil {
		return err
	}

	resumeTS, ok, err := c.validateLastBucket(primary, lastCacheTS)
	var outOfSync *errs.DownsampleOutOfSync
	if errors.As(err, &outOfSync) {
		ok, err = false, nil
	}
	if err != nil {
		return err
	}
	if !ok {
		return c.rebuildFromScratch(primary)
	}

	// Replaying from just after the validated bucket's last raw timestamp is
	// a correct no-op when the cache is already fully caught up: the replay
	// range then starts after the primary's last record, and the resulting
	// StartAfterData is treated as nothing to fold.
	err = c.catchUp(primary, resumeTS)
	var startAfter *errs.StartAfterData
	if errors.As(err, &startAfter) {
		return nil
	}

	return err
}

// validateLastBucket checks lastCacheTS against the moving-average bucket
// means over the trailing 2*bucket_size primary timestamps, returning the
// last raw timestamp that produced a matching candidate so catchUp knows
// exactly where to resume.
func (c *cache[Item]) validateLastBucket(primary *data.File, lastCacheTS uint64) (resumeTS uint64, ok bool, err error) {
	bucketSize := c.cfg.BucketSize
	window := 2 * bucketSize

	timestamps, _, err := primary.LastNRecords(window)
	if err != nil {
		return 0, false, err
	}
	if len(timestamps) < bucketSize {
		return 0, false, nil
	}

	var minCand, maxCand uint64
	first := true

	for start := 0; start+bucketSize <= len(timestamps); start++ {
		var sum uint64
		for i := start; i < start+bucketSize; i++ {
			sum += timestamps[i]
		}
		mean := sum / uint64(bucketSize)

		if mean == lastCacheTS {
			return timestamps[start+bucketSize-1], true, nil
		}

		if first {
			minCand, maxCand = mean, mean
			first = false
		} else {
			if mean < minCand {
				minCand = mean
			}
			if mean > maxCand {
				maxCand = mean
			}
		}
	}

	return 0, false, &errs.DownsampleOutOfSync{CorrectOptionsMin: minCand, CorrectOptionsMax: maxCand, FoundInFile: lastCacheTS}
}

func (c *cache[Item]) rebuildFromScratch(primary *data.File) error {
	if err := c.d.Truncate(); err != nil {
		return err
	}
	c.resetAccumulator()

	return c.replay(primary, seek.Range{})
}

func (c *cache[Item]) catchUp(primary *data.File, afterTS uint64) error {
	c.resetAccumulator()

	return c.replay(primary, seek.Range{Start: seek.Excluded(afterTS)})
}

func (c *cache[Item]) replay(primary *data.File, rng seek.Range) error {
	return primary.ReadAllRaw(rng, func(ts uint64, payload []byte) error {
		return c.fold(ts, payload)
	})
}

func (c *cache[Item]) resetAccumulator() {
	c.state = c.resampler.State()
	c.tsSum, c.samples = 0, 0
}

// Process folds one freshly-pushed primary record into the cache.
func (c *cache[Item]) Process(ts uint64, payload []byte) error {
	return c.fold(ts, payload)
}

func (c *cache[Item]) fold(ts uint64, payload []byte) error {
	item, err := c.resampler.DecodePayload(payload)
	if err != nil {
		return err
	}

	if c.samples == 0 {
		c.firstBinTS = ts
	}

	c.state.Add(item)
	c.tsSum += ts
	c.samples++

	if c.samples < c.cfg.BucketSize {
		return nil
	}

	lastTS := ts
	bucketSize := c.cfg.BucketSize
	meanTS := c.tsSum / uint64(bucketSize)
	result := c.state.Finish(bucketSize)

	drop := c.cfg.MaxGap != nil && lastTS-c.firstBinTS > *c.cfg.MaxGap
	c.tsSum, c.samples = 0, 0

	if drop {
		return nil
	}

	return c.d.PushData(meanTS, c.resampler.EncodeItem(result))
}

// EstimateLines delegates to the secondary Data's own estimator.
func (c *cache[Item]) EstimateLines(rng seek.Range) (seek.EstimatedLines, error) {
	return c.d.EstimateLines(rng)
}

// Data exposes the underlying secondary Data.
func (c *cache[Item]) Data() *data.File { return c.d }

// Config reports the bucketing configuration this cache was built with.
func (c *cache[Item]) Config() Config { return c.cfg }

// Close releases the cache's file handles.
func (c *cache[Item]) Close() error { return c.d.Close() }
