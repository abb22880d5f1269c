package server

import (
	"context"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"gen-rpc/term"
)

// Func implements one callable Module:Function.
type Func func(ctx context.Context, args term.List) (any, error)

type module struct {
	name  string
	funcs map[string]Func
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	listType    = reflect.TypeOf(term.List(nil))
)

// newModule scans rcvr for exported methods shaped like Func:
//
//	func (r *T) Name(ctx context.Context, args term.List) (any, error)
//
// and exposes each as function "name" (first letter lowered, the way Erlang
// function names are written).
func newModule(name string, rcvr any) (*module, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %v", typ)
	}
	val := reflect.ValueOf(rcvr)

	m := &module{name: name, funcs: make(map[string]Func)}
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 3 || mt.NumOut() != 2 ||
			mt.In(1) != contextType || mt.In(2) != listType ||
			mt.Out(0) != anyType || mt.Out(1) != errorType {
			continue
		}
		fn := val.Method(i)
		m.funcs[lowerFirst(method.Name)] = func(ctx context.Context, args term.List) (any, error) {
			out := fn.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(args)})
			var err error
			if !out[1].IsNil() {
				err = out[1].Interface().(error)
			}
			return out[0].Interface(), err
		}
	}
	if len(m.funcs) == 0 {
		return nil, fmt.Errorf("server: %T has no callable methods", rcvr)
	}
	return m, nil
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
