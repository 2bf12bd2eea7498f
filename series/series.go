// Package series is the public facade over a primary append log and its
// optional downsampled caches: one unnamed stream of (timestamp, payload)
// pairs, read back either verbatim or resampled to a target resolution.
package series

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/arloliu/byteseries/data"
	"github.com/arloliu/byteseries/downsample"
	"github.com/arloliu/byteseries/errs"
	"github.com/arloliu/byteseries/format"
	"github.com/arloliu/byteseries/header"
	"github.com/arloliu/byteseries/inlinemeta"
	"github.com/arloliu/byteseries/internal/options"
	"github.com/arloliu/byteseries/resample"
	"github.com/arloliu/byteseries/seek"
)

type headerMode int

const (
	headerModeNone headerMode = iota
	headerModeMustMatch
	headerModeIgnoreExisting
	headerModeRequired
)

// downsampleBuilder opens or reconciles one downsampled cache against an
// already-open primary, type-erasing whatever Item type its resampler uses.
type downsampleBuilder func(basePath string, primary *data.File, payloadSize int) (downsample.Cache, error)

// config is the mutable target every functional option is applied to.
type config struct {
	payloadSize        int
	payloadSizeSet     bool
	headerMode         headerMode
	headerBytes        []byte
	headerCompression  format.CompressionType
	corruptionCB       inlinemeta.CorruptionCallback
	exclusive          bool
	downsampleBuilders []downsampleBuilder
}

// Option configures a Series at Create or Open time.
type Option = options.Option[*config]

// WithPayloadSize sets the fixed payload size every pushed line must match.
// Required for Create; optional for Open, where it is verified against the
// size already recorded in the file's preamble.
func WithPayloadSize(n int) Option {
	return options.NoError(func(c *config) { c.payloadSize = n; c.payloadSizeSet = true })
}

// WithHeader supplies the user header bytes: at Create time they become the
// stored header; at Open time they are compared against the stored header
// unless overridden by WithHeaderIgnoreExisting.
func WithHeader(b []byte) Option {
	return options.NoError(func(c *config) { c.headerMode = headerModeMustMatch; c.headerBytes = b })
}

// WithHeaderIgnoreExisting skips comparing against any stored header at Open.
func WithHeaderIgnoreExisting() Option {
	return options.NoError(func(c *config) { c.headerMode = headerModeIgnoreExisting })
}

// WithHeaderRequired fails Open if the file has no stored user header.
func WithHeaderRequired() Option {
	return options.NoError(func(c *config) { c.headerMode = headerModeRequired })
}

// WithHeaderCompression selects the codec used to compress the user header
// blob at Create time. Has no effect at Open, where the codec is read back
// from the preamble.
func WithHeaderCompression(codec format.CompressionType) Option {
	return options.NoError(func(c *config) { c.headerCompression = codec })
}

// WithExclusive fails Create if a file already exists at the target path.
func WithExclusive() Option {
	return options.NoError(func(c *config) { c.exclusive = true })
}

// WithCorruptionCallback installs the callback consulted when a meta-section
// corruption is found while scanning the primary log; returning true accepts
// the skip, false makes the corruption fatal to that read.
func WithCorruptionCallback(cb inlinemeta.CorruptionCallback) Option {
	return options.NoError(func(c *config) { c.corruptionCB = cb })
}

// WithDownsample attaches a downsampled cache using resampler to decode and
// aggregate payloads of PayloadSize into Item. Caches are reconciled in
// attachment order, so attach them finest (smallest BucketSize) first: ReadN
// picks the first cache whose estimated line count still covers the request.
func WithDownsample[Item any](resampler resample.Resampler[Item], cfg downsample.Config) Option {
	return options.NoError(func(c *config) {
		c.downsampleBuilders = append(c.downsampleBuilders, func(basePath string, primary *data.File, payloadSize int) (downsample.Cache, error) {
			return downsample.Open[Item](basePath, primary, payloadSize, resampler, cfg)
		})
	})
}

// Series is the public handle to one primary log and its downsampled caches.
type Series struct {
	basePath    string
	primary     *data.File
	caches      []downsample.Cache
	payloadSize int
}

// Create makes a brand-new series at basePath. WithPayloadSize is required.
func Create(basePath string, opts ...Option) (*Series, error) {
	cfg := &config{}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}
	if !cfg.payloadSizeSet {
		return nil, errs.ErrPayloadSizeRequired
	}

	d, err := data.Create(basePath, data.CreateOptions{
		PayloadSize:        cfg.payloadSize,
		UserHeader:         cfg.headerBytes,
		Compression:        cfg.headerCompression,
		Exclusive:          cfg.exclusive,
		CorruptionCallback: cfg.corruptionCB,
	})
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", errs.ErrAlreadyExists, basePath)
		}

		return nil, err
	}

	return newSeries(basePath, d, cfg.payloadSize, cfg.downsampleBuilders)
}

// Open opens an existing series at basePath. WithPayloadSize, if given, is
// checked against the preamble's stored payload size.
func Open(basePath string, opts ...Option) (*Series, error) {
	cfg := &config{}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	payloadOpt := header.PayloadSizeOption{}
	if cfg.payloadSizeSet {
		payloadOpt = header.PayloadSizeOption{Set: true, MustMatch: cfg.payloadSize}
	}

	d, params, userHeader, err := data.Open(basePath, data.OpenOptions{
		PayloadSize:        payloadOpt,
		CorruptionCallback: cfg.corruptionCB,
	})
	if err != nil {
		return nil, err
	}

	if err := checkHeader(cfg, userHeader); err != nil {
		d.Close()

		return nil, err
	}

	return newSeries(basePath, d, params.PayloadSize, cfg.downsampleBuilders)
}

func newSeries(basePath string, d *data.File, payloadSize int, builders []downsampleBuilder) (*Series, error) {
	s := &Series{basePath: basePath, primary: d, payloadSize: payloadSize}

	for _, build := range builders {
		c, err := build(basePath, d, payloadSize)
		if err != nil {
			s.Close()

			return nil, err
		}
		s.caches = append(s.caches, c)
	}

	return s, nil
}

func checkHeader(cfg *config, stored []byte) error {
	switch cfg.headerMode {
	case headerModeRequired:
		if len(stored) == 0 {
			return errs.ErrHeaderRequired
		}

		return nil
	case headerModeMustMatch:
		if !bytes.Equal(cfg.headerBytes, stored) {
			return errs.ErrHeaderMismatch
		}

		return nil
	default: // headerModeNone, headerModeIgnoreExisting
		return nil
	}
}

// PushLine validates payload's length and ts's strict monotonicity, appends
// it to the primary log, and folds it into every attached downsampled cache.
func (s *Series) PushLine(ts uint64, payload []byte) error {
	if len(payload) != s.payloadSize {
		return fmt.Errorf("%w: got %d want %d", errs.ErrWrongLineLength, len(payload), s.payloadSize)
	}

	if _, last, ok := s.primary.Range(); ok && ts <= last {
		return &errs.TimeNotAfterLast{New: ts, Prev: last}
	}

	if err := s.primary.PushData(ts, payload); err != nil {
		return err
	}

	for _, c := range s.caches {
		if err := c.Process(ts, payload); err != nil {
			return err
		}
	}

	return nil
}

// ReadAll decodes every record in rng from the primary log with decoder.
func ReadAll[Item any](s *Series, rng seek.Range, decoder resample.Decoder[Item]) ([]uint64, []Item, error) {
	return data.ReadAll[Item](s.primary, rng, decoder)
}

// ReadFirstN decodes at most n records in rng from the primary log.
func ReadFirstN[Item any](s *Series, n int, rng seek.Range, decoder resample.Decoder[Item]) ([]uint64, []Item, error) {
	return data.ReadFirstN[Item](s.primary, n, rng, decoder)
}

// LastLine decodes the most recently pushed record from the primary log.
func LastLine[Item any](s *Series, decoder resample.Decoder[Item]) (uint64, Item, error) {
	return data.LastLine[Item](s.primary, decoder)
}

// ReadN picks the finest attached downsample cache whose estimated line
// count for rng still covers n, falling back to the primary log when no
// cache qualifies, then resamples the chosen source down to about n points.
func ReadN[Item any](s *Series, n int, rng seek.Range, resampler resample.Resampler[Item]) ([]uint64, []Item, error) {
	if n <= 0 {
		return nil, nil, nil
	}

	source, err := s.pickSource(rng, n)
	if err != nil {
		return nil, nil, err
	}

	totalLines, err := source.NLinesBetween(rng)
	if err != nil {
		return nil, nil, err
	}

	bucketSize := 1
	if totalLines > 0 {
		if v := int(totalLines) / n; v > 1 {
			bucketSize = v
		}
	}

	return data.ReadResampled[Item](source, rng, resampler, bucketSize, nil)
}

func (s *Series) pickSource(rng seek.Range, n int) (*data.File, error) {
	for _, c := range s.caches {
		est, err := c.EstimateLines(rng)
		if err != nil {
			return nil, err
		}
		if est.Min >= int64(n) {
			return c.Data(), nil
		}
	}

	return s.primary, nil
}

// NLinesBetween returns the exact number of records in rng without reading
// any record payload.
func (s *Series) NLinesBetween(rng seek.Range) (int64, error) {
	return s.primary.NLinesBetween(rng)
}

// Len returns the total number of records currently stored.
func (s *Series) Len() (int64, error) {
	return s.primary.Len()
}

// Range reports the first and last stored timestamps, or ok=false if empty.
func (s *Series) Range() (first, last uint64, ok bool) {
	return s.primary.Range()
}

// PayloadSize returns the fixed payload size every pushed line must match.
func (s *Series) PayloadSize() int {
	return s.payloadSize
}

// FlushToDisk forces the primary log, its index, and every downsampled cache
// to stable storage.
func (s *Series) FlushToDisk() error {
	if err := s.primary.FlushToDisk(); err != nil {
		return err
	}

	for _, c := range s.caches {
		if err := c.Data().FlushToDisk(); err != nil {
			return err
		}
	}

	return nil
}

// Close releases the primary log's and every downsampled cache's file handles.
func (s *Series) Close() error {
	var firstErr error

	if err := s.primary.Close(); err != nil {
		firstErr = err
	}

	for _, c := range s.caches {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
