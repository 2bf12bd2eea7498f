// Package resample defines the pluggable decode/encode/aggregate contract
// that lets the core read pipeline serve both plain scans and downsampled
// (bucket-averaged) reads without knowing anything about the payload's
// actual shape.
package resample

// Decoder turns a raw payload line into an application-level Item.
type Decoder[Item any] interface {
	DecodePayload(payload []byte) (Item, error)
}

// Encoder turns an Item back into a raw payload line of exactly PayloadSize
// bytes.
type Encoder[Item any] interface {
	EncodeItem(item Item) []byte
}

// State accumulates Items for one bucket. Finish MUST reset all accumulator
// state so the same State value is ready to start a new bucket immediately
// after returning - callers never allocate a fresh State per bucket.
type State[Item any] interface {
	Add(item Item)
	Finish(bucketSize int) Item
}

// Resampler composes decode, encode, and a State factory into the single
// object a Downsampled Data needs.
type Resampler[Item any] interface {
	Decoder[Item]
	Encoder[Item]
	State() State[Item]
}
