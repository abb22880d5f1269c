// Package codec serializes terms for the distribution protocol.
//
// Two formats are available, selected per frame by the protocol header:
//   - Binary: compact tag-prefixed encoding, the default between nodes.
//   - JSON:   tagged JSON objects, readable on the wire and easy to debug.
//
// Both formats decode every integer as int64 and every float as float64.
package codec

import "errors"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

var (
	// ErrUnsupportedTerm is returned when encoding a Go value that is not a term.
	ErrUnsupportedTerm = errors.New("codec: unsupported term type")
	// ErrShortBuffer is returned when encoded data ends before the term does.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrMalformed is returned for data that is not a valid encoding.
	ErrMalformed = errors.New("codec: malformed term")
)

// maxDepth bounds nesting of tuples and lists on decode.
const maxDepth = 512

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}
