package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"gen-rpc/term"
)

// JSONCodec encodes terms as tagged JSON objects:
//
//	{"atom":"ok"}  {"str":"text"}  {"bin":"<base64>"}  {"int":1}  {"float":1.5}
//	{"pid":{...}}  {"ref":{...}}   {"tuple":[...]}     {"list":[...]}
//	true / false / null
//
// Tagging keeps atoms, text strings and byte strings distinct after a round trip.
// A text string that is not valid UTF-8 is sent as {"rawstr":"<base64>"} so its
// bytes survive unchanged.
type JSONCodec struct{}

type jsonPid struct {
	Node     string `json:"node"`
	ID       uint32 `json:"id"`
	Serial   uint32 `json:"serial"`
	Creation uint32 `json:"creation"`
}

type jsonRef struct {
	Node     string    `json:"node"`
	Creation uint32    `json:"creation"`
	ID       [3]uint32 `json:"id"`
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	tree, err := toJSON(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func (c *JSONCodec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromJSON(tree, 0)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

func toJSON(v any) (any, error) {
	if n, ok := toInt64(v); ok {
		return map[string]any{"int": n}, nil
	}

	switch t := v.(type) {
	case nil, bool:
		return t, nil
	case float64:
		return map[string]any{"float": t}, nil
	case float32:
		return map[string]any{"float": float64(t)}, nil
	case term.Atom:
		return map[string]any{"atom": string(t)}, nil
	case string:
		if !utf8.ValidString(t) {
			return map[string]any{"rawstr": base64.StdEncoding.EncodeToString([]byte(t))}, nil
		}
		return map[string]any{"str": t}, nil
	case term.Binary:
		return map[string]any{"bin": base64.StdEncoding.EncodeToString(t)}, nil
	case term.Pid:
		return map[string]any{"pid": jsonPid{string(t.Node), t.ID, t.Serial, t.Creation}}, nil
	case term.Reference:
		return map[string]any{"ref": jsonRef{string(t.Node), t.Creation, t.ID}}, nil
	case term.Tuple:
		items, err := toJSONSeq(t)
		return map[string]any{"tuple": items}, err
	case term.List:
		items, err := toJSONSeq(t)
		return map[string]any{"list": items}, err
	case []any:
		items, err := toJSONSeq(t)
		return map[string]any{"list": items}, err
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedTerm, v)
	}
}

func toJSONSeq(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, it := range items {
		v, err := toJSON(it)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fromJSON(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	switch t := v.(type) {
	case nil, bool:
		return t, nil
	case map[string]any:
		if len(t) != 1 {
			return nil, fmt.Errorf("%w: tagged object must have one key", ErrMalformed)
		}
		for tag, inner := range t {
			return fromTagged(tag, inner, depth)
		}
	}
	return nil, fmt.Errorf("%w: unexpected JSON %T", ErrMalformed, v)
}

func fromTagged(tag string, v any, depth int) (any, error) {
	switch tag {
	case "int":
		n, ok := v.(json.Number)
		if !ok {
			break
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return i, nil
	case "float":
		n, ok := v.(json.Number)
		if !ok {
			break
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return f, nil
	case "atom":
		if s, ok := v.(string); ok {
			return term.Atom(s), nil
		}
	case "str":
		if s, ok := v.(string); ok {
			return s, nil
		}
	case "rawstr":
		s, ok := v.(string)
		if !ok {
			break
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return string(b), nil
	case "bin":
		s, ok := v.(string)
		if !ok {
			break
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return term.Binary(b), nil
	case "pid":
		var p jsonPid
		if err := remarshal(v, &p); err != nil {
			return nil, err
		}
		return term.Pid{Node: term.Atom(p.Node), ID: p.ID, Serial: p.Serial, Creation: p.Creation}, nil
	case "ref":
		var r jsonRef
		if err := remarshal(v, &r); err != nil {
			return nil, err
		}
		return term.Reference{Node: term.Atom(r.Node), Creation: r.Creation, ID: r.ID}, nil
	case "tuple", "list":
		raw, ok := v.([]any)
		if !ok {
			break
		}
		items := make([]any, len(raw))
		for i, it := range raw {
			x, err := fromJSON(it, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = x
		}
		if tag == "tuple" {
			return term.Tuple(items), nil
		}
		return term.List(items), nil
	}
	return nil, fmt.Errorf("%w: bad %q value %T", ErrMalformed, tag, v)
}

// remarshal decodes a generic JSON subtree into a fixed struct.
func remarshal(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
