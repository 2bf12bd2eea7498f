package resample

import (
	"fmt"
	"math"

	"github.com/arloliu/byteseries/endian"
)

// MeanResampler decodes fixed 8-byte float64 payloads and downsamples them by
// arithmetic mean, grounded on the teacher's own little/big-endian numeric
// read/write idiom (endian.EndianEngine) rather than a hand-rolled byte order.
//
// A fully generic MeanResampler[T Numeric] was considered, but Go has no
// generic bit-reinterpretation: decoding an arbitrary numeric width from
// bytes still requires a type switch per concrete width, which buys nothing
// over a concrete float64 implementation plus the caller writing their own
// Resampler for other widths.
type MeanResampler struct {
	engine endian.EndianEngine
}

// NewMeanResampler builds a MeanResampler using engine for byte order, or
// little-endian if engine is nil.
func NewMeanResampler(engine endian.EndianEngine) MeanResampler {
	if engine == nil {
		engine = endian.GetLittleEndianEngine()
	}

	return MeanResampler{engine: engine}
}

// DecodePayload interprets payload as an 8-byte float64.
func (r MeanResampler) DecodePayload(payload []byte) (float64, error) {
	if len(payload) != 8 {
		return 0, fmt.Errorf("resample: mean resampler requires an 8-byte payload, got %d", len(payload))
	}

	return math.Float64frombits(r.engine.Uint64(payload)), nil
}

// EncodeItem renders item as an 8-byte float64 payload.
func (r MeanResampler) EncodeItem(item float64) []byte {
	return r.engine.AppendUint64(nil, math.Float64bits(item))
}

// State returns a fresh running-mean accumulator.
func (r MeanResampler) State() State[float64] { return &meanState{} }

type meanState struct {
	sum float64
	n   int
}

func (s *meanState) Add(v float64) {
	s.sum += v
	s.n++
}

// Finish returns the mean of everything added since the last Finish and
// resets the accumulator, per the resample.State contract.
func (s *meanState) Finish(bucketSize int) float64 {
	if s.n == 0 {
		return 0
	}

	mean := s.sum / float64(s.n)
	s.sum, s.n = 0, 0

	return mean
}
