// Package serialization provides the pluggable codecs used for cached
// payloads and for the persisted-state wire format of the external store
// backend.
package serialization

import "io"

const (
	// JSONType selects the JSON codec.
	JSONType = "json"
	// GobType selects the gob codec.
	GobType = "gob"
)

// Decoder decodes a value from an underlying stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder encodes a value onto an underlying stream.
type Encoder interface {
	Encode(v any) error
}

// NewEncoderFunc constructs an Encoder over a writer.
type NewEncoderFunc func(io.Writer) Encoder

// NewDecoderFunc constructs a Decoder over a reader.
type NewDecoderFunc func(io.Reader) Decoder
