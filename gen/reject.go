package gen

import "fmt"

// RejectKind names the check an envelope failed.
type RejectKind uint8

const (
	RejectNotTuple       RejectKind = iota + 1 // not a composite at all
	RejectArity                                // top-level tuple is not a 3-tuple
	RejectTag                                  // first element is not '$gen_call'
	RejectCorrelation                          // {From, Ref} pair is malformed
	RejectCallBodyArity                        // call body is not a 5-tuple
	RejectModule                               // module is not an atom, binary or string
	RejectFunction                             // function is not an atom, binary or string
	RejectArgs                                 // arguments are not a list
	RejectGroupLeader                          // group leader is not a pid
)

var rejectKindNames = map[RejectKind]string{
	RejectNotTuple:      "not_tuple",
	RejectArity:         "arity",
	RejectTag:           "tag_mismatch",
	RejectCorrelation:   "bad_correlation",
	RejectCallBodyArity: "call_body_arity",
	RejectModule:        "bad_module",
	RejectFunction:      "bad_function",
	RejectArgs:          "bad_args",
	RejectGroupLeader:   "bad_group_leader",
}

func (k RejectKind) String() string {
	if s, ok := rejectKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("reject(%d)", uint8(k))
}

// Rejection describes why a message is not the envelope a parser looks for.
// Parsers return it as an error value; receiving one is a normal outcome.
type Rejection struct {
	Kind   RejectKind
	Reason string
}

func (r *Rejection) Error() string {
	return "gen: " + r.Reason
}

// Is lets errors.Is match a Rejection by kind: errors.Is(err, &Rejection{Kind: RejectTag}).
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Kind == r.Kind
}

func reject(kind RejectKind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
