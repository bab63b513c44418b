package hyperlog

// Codec encodes application values to block bytes and decodes them back.
// The zero value of RawCodec is the default: raw bytes pass through
// unchanged (spec §4.3 step 6, §2 "Value codec").
type Codec interface {
	Encode(v []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// RawCodec is the identity codec used when no valueEncoding is configured.
type RawCodec struct{}

func (RawCodec) Encode(v []byte) ([]byte, error)    { return v, nil }
func (RawCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// BatchEncoder overrides per-block encoding at append time, transforming
// the whole batch of raw buffers at once (spec §4.4 step 1 "encodeBatch").
type BatchEncoder func(buffers [][]byte) ([][]byte, error)
