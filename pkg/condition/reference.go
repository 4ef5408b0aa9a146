package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FieldSource looks up a named numeric field, applying whatever alias
// fallbacks the snapshot layer defines. A failed lookup is not an error,
// it just means the reference does not resolve.
type FieldSource interface {
	Field(name string) (float64, bool)
}

// ResolveContext carries everything a reference can resolve against:
// the current snapshot fields, the caller-supplied context parameters
// (entry/stop/target and friends), and the previous value of the left
// operand when the tracker retains one.
type ResolveContext struct {
	Fields   FieldSource
	Params   map[string]float64
	PrevLeft *float64
}

// withoutHistory returns a copy that cannot resolve offset references.
// Only the left operand of a condition carries value history.
func (rc ResolveContext) withoutHistory() ResolveContext {
	rc.PrevLeft = nil
	return rc
}

// Reference is a value source for one side of a condition. It is a tagged
// union: Literal, FieldRef or ContextParam.
type Reference interface {
	// Resolve returns the referenced value, or false when the reference
	// cannot be resolved from the given context.
	Resolve(rc ResolveContext) (float64, bool)

	String() string
}

// Literal is a fixed numeric value, e.g. the 100 in "close crosses_above 100".
type Literal float64

func (l Literal) Resolve(ResolveContext) (float64, bool) { return float64(l), true }

func (l Literal) String() string {
	return strconv.FormatFloat(float64(l), 'f', -1, 64)
}

// FieldRef references a named snapshot field such as "close" or "ema20".
// Offset selects bars back: 0 is the current bar, 1 is the previous bar.
// Only the left operand retains history, and only one bar of it, so any
// other offset fails to resolve. Rule payloads that use negative offsets
// are normalized on decode.
//
// A FieldRef that misses the snapshot falls back to the context
// parameters, so bare names like "entry" work in either position.
type FieldRef struct {
	Name   string `json:"ref"`
	Offset int    `json:"offset,omitempty"`
}

func (r FieldRef) Resolve(rc ResolveContext) (float64, bool) {
	if r.Offset != 0 {
		if r.Offset == 1 && rc.PrevLeft != nil {
			return *rc.PrevLeft, true
		}
		return 0, false
	}

	if rc.Fields != nil {
		if v, ok := rc.Fields.Field(r.Name); ok {
			return v, true
		}
	}

	if v, ok := rc.Params[r.Name]; ok {
		return v, true
	}

	return 0, false
}

func (r FieldRef) String() string {
	if r.Offset != 0 {
		return fmt.Sprintf("%s[-%d]", r.Name, r.Offset)
	}
	return r.Name
}

// ContextParam references a caller-supplied parameter such as "entry",
// "stop" or "target". Unlike FieldRef it never consults the snapshot.
type ContextParam string

func (p ContextParam) Resolve(rc ResolveContext) (float64, bool) {
	v, ok := rc.Params[string(p)]
	return v, ok
}

func (p ContextParam) String() string { return "$" + string(p) }

// Operand wraps a Reference so condition definitions can be decoded from
// JSON. The accepted forms are:
//
//	100                          literal
//	{"value": 100}               literal
//	{"ref": "close"}             snapshot field
//	{"ref": "close", "offset": 1} previous bar of the left operand
//	{"param": "entry"}           context parameter
//	"close"                      shorthand for {"ref": "close"}
type Operand struct {
	Reference
}

func Lit(v float64) Operand { return Operand{Literal(v)} }

func Field(name string) Operand { return Operand{FieldRef{Name: name}} }

func FieldAt(name string, offset int) Operand { return Operand{FieldRef{Name: name, Offset: offset}} }

func Param(name string) Operand { return Operand{ContextParam(name)} }

func (o *Operand) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		o.Reference = Literal(num)
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		o.Reference = FieldRef{Name: name}
		return nil
	}

	var obj struct {
		Value  *float64 `json:"value"`
		Ref    string   `json:"ref"`
		Offset int      `json:"offset"`
		Param  string   `json:"param"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("operand: unsupported reference payload %s: %w", string(data), err)
	}

	switch {
	case obj.Value != nil:
		o.Reference = Literal(*obj.Value)
	case obj.Param != "":
		o.Reference = ContextParam(obj.Param)
	case obj.Ref != "":
		offset := obj.Offset
		if offset < 0 {
			offset = -offset
		}
		o.Reference = FieldRef{Name: obj.Ref, Offset: offset}
	default:
		return fmt.Errorf("operand: reference payload %s resolves to none of value/ref/param", string(data))
	}

	return nil
}

func (o Operand) MarshalJSON() ([]byte, error) {
	switch r := o.Reference.(type) {
	case Literal:
		return json.Marshal(map[string]float64{"value": float64(r)})
	case FieldRef:
		return json.Marshal(r)
	case ContextParam:
		return json.Marshal(map[string]string{"param": string(r)})
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("operand: unknown reference type %T", o.Reference)
	}
}

func (o Operand) String() string {
	if o.Reference == nil {
		return "<nil>"
	}
	return o.Reference.String()
}
