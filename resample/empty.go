package resample

// EmptyItem is the decoded value produced by EmptyResampler: there is none.
type EmptyItem struct{}

// EmptyResampler is a pass-through resampler for zero-payload series (or
// series where only the timestamps matter). It satisfies Resampler[EmptyItem]
// and is what a downsample cache uses to read its own last timestamp at open.
type EmptyResampler struct{}

// DecodePayload ignores payload and always succeeds.
func (EmptyResampler) DecodePayload(payload []byte) (EmptyItem, error) { return EmptyItem{}, nil }

// EncodeItem always returns an empty payload.
func (EmptyResampler) EncodeItem(EmptyItem) []byte { return nil }

// State returns a no-op accumulator.
func (EmptyResampler) State() State[EmptyItem] { return emptyState{} }

type emptyState struct{}

func (emptyState) Add(EmptyItem) {}

func (emptyState) Finish(int) EmptyItem { return EmptyItem{} }
