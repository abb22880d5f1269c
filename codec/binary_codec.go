package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"gen-rpc/term"
)

// Term tags for the binary format. Every encoded term starts with one tag byte.
const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagInt    // 8 bytes, big-endian two's complement
	tagFloat  // 8 bytes, IEEE 754
	tagAtom   // uint16 length + bytes
	tagString // uint32 length + bytes
	tagBinary // uint32 length + bytes
	tagPid    // atom node + uint32 id, serial, creation
	tagRef    // atom node + uint32 creation + 3 x uint32 id
	tagTuple  // uint32 arity + elements
	tagList   // uint32 length + elements
)

type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	return appendTerm(make([]byte, 0, 64), v)
}

func (c *BinaryCodec) Decode(data []byte) (any, error) {
	d := decoder{buf: data}
	v, err := d.term(0)
	if err != nil {
		return nil, err
	}
	if d.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-d.off)
	}
	return v, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendTerm(buf []byte, v any) ([]byte, error) {
	if n, ok := toInt64(v); ok {
		buf = append(buf, tagInt)
		return binary.BigEndian.AppendUint64(buf, uint64(n)), nil
	}

	switch t := v.(type) {
	case nil:
		return append(buf, tagNil), nil
	case bool:
		if t {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case float64:
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(t)), nil
	case float32:
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(float64(t))), nil
	case term.Atom:
		return appendAtom(append(buf, tagAtom), t)
	case string:
		buf = append(buf, tagString)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(t)))
		return append(buf, t...), nil
	case term.Binary:
		buf = append(buf, tagBinary)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(t)))
		return append(buf, t...), nil
	case term.Pid:
		buf, err := appendAtom(append(buf, tagPid), t.Node)
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, t.ID)
		buf = binary.BigEndian.AppendUint32(buf, t.Serial)
		return binary.BigEndian.AppendUint32(buf, t.Creation), nil
	case term.Reference:
		buf, err := appendAtom(append(buf, tagRef), t.Node)
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, t.Creation)
		for _, id := range t.ID {
			buf = binary.BigEndian.AppendUint32(buf, id)
		}
		return buf, nil
	case term.Tuple:
		return appendSeq(buf, tagTuple, t)
	case term.List:
		return appendSeq(buf, tagList, t)
	case []any:
		return appendSeq(buf, tagList, t)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedTerm, v)
	}
}

func appendAtom(buf []byte, a term.Atom) ([]byte, error) {
	if len(a) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: atom longer than %d bytes", ErrUnsupportedTerm, math.MaxUint16)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(a)))
	return append(buf, a...), nil
}

func appendSeq(buf []byte, tag byte, items []any) ([]byte, error) {
	buf = append(buf, tag)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(items)))
	var err error
	for _, it := range items {
		if buf, err = appendTerm(buf, it); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// toInt64 widens any Go integer that fits into int64.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.buf)-d.off < n {
		return nil, ErrShortBuffer
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) uint16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *decoder) uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) uint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) atom() (term.Atom, error) {
	n, err := d.uint16()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return term.Atom(b), nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	return d.take(int(n))
}

func (d *decoder) term(depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	tag, err := d.take(1)
	if err != nil {
		return nil, err
	}

	switch tag[0] {
	case tagNil:
		return nil, nil
	case tagFalse:
		return false, nil
	case tagTrue:
		return true, nil
	case tagInt:
		n, err := d.uint64()
		return int64(n), err
	case tagFloat:
		n, err := d.uint64()
		return math.Float64frombits(n), err
	case tagAtom:
		return d.atom()
	case tagString:
		b, err := d.bytes()
		return string(b), err
	case tagBinary:
		b, err := d.bytes()
		if err != nil {
			return nil, err
		}
		return term.Binary(append([]byte(nil), b...)), nil
	case tagPid:
		return d.pid()
	case tagRef:
		return d.ref()
	case tagTuple:
		items, err := d.seq(depth)
		return term.Tuple(items), err
	case tagList:
		items, err := d.seq(depth)
		return term.List(items), err
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, tag[0])
	}
}

func (d *decoder) pid() (any, error) {
	node, err := d.atom()
	if err != nil {
		return nil, err
	}
	var f [3]uint32
	for i := range f {
		if f[i], err = d.uint32(); err != nil {
			return nil, err
		}
	}
	return term.Pid{Node: node, ID: f[0], Serial: f[1], Creation: f[2]}, nil
}

func (d *decoder) ref() (any, error) {
	node, err := d.atom()
	if err != nil {
		return nil, err
	}
	r := term.Reference{Node: node}
	if r.Creation, err = d.uint32(); err != nil {
		return nil, err
	}
	for i := range r.ID {
		if r.ID[i], err = d.uint32(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (d *decoder) seq(depth int) ([]any, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	// Every element takes at least one byte; do not trust n for the allocation.
	if int(n) > len(d.buf)-d.off {
		return nil, ErrShortBuffer
	}
	items := make([]any, n)
	for i := range items {
		if items[i], err = d.term(depth + 1); err != nil {
			return nil, err
		}
	}
	return items, nil
}
