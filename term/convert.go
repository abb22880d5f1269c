package term

import (
	"errors"
	"fmt"
)

// ErrNotStringLike is returned by ToString for values that have no string form.
var ErrNotStringLike = errors.New("term: not an atom, binary or string")

// ToString converts an atom, byte string or text string to a Go string.
// Module and function names arrive in any of the three forms depending on the caller,
// so everything downstream of classification only ever sees the result of this call.
func ToString(v any) (string, error) {
	switch s := v.(type) {
	case Atom:
		return string(s), nil
	case Binary:
		return string(s), nil
	case string:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrNotStringLike, v)
	}
}

// AsList returns the elements of a List (or a bare []any) and whether v was one.
func AsList(v any) ([]any, bool) {
	switch l := v.(type) {
	case List:
		return l, true
	case []any:
		return l, true
	}
	return nil, false
}
