package resample

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMeanResamplerRoundTrip(t *testing.T) {
	r := NewMeanResampler(nil)

	payload := r.EncodeItem(3.5)
	require.Len(t, payload, 8)

	got, err := r.DecodePayload(payload)
	require.NoError(t, err)
	require.Equal(t, 3.5, got)
}

func TestMeanResamplerDecodeRejectsWrongLength(t *testing.T) {
	r := NewMeanResampler(nil)

	_, err := r.DecodePayload([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestMeanStateAddAndFinishResets(t *testing.T) {
	r := NewMeanResampler(nil)
	s := r.State()

	s.Add(1)
	s.Add(2)
	s.Add(3)
	require.Equal(t, 2.0, s.Finish(3))

	// Finish must reset the accumulator: a bucket with no Adds means the mean
	// of zero samples, which this resampler defines as 0.
	require.Equal(t, 0.0, s.Finish(0))
}

func TestEmptyResamplerIsPassThrough(t *testing.T) {
	r := EmptyResampler{}

	item, err := r.DecodePayload([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, EmptyItem{}, item)

	require.Nil(t, r.EncodeItem(EmptyItem{}))

	s := r.State()
	s.Add(EmptyItem{})
	require.Equal(t, EmptyItem{}, s.Finish(5))
}
