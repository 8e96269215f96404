package document

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	// KindRaw holds text that could not be evaluated as a literal.
	KindRaw Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindTuple
)

var kindNames = [...]string{"raw", "null", "bool", "int", "float", "string", "list", "tuple"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a parameter value decoded from document text.
//
// A Value is either a parsed literal (null, bool, int, float, quoted string,
// list or tuple) or Raw text that did not evaluate as a literal. The zero
// Value is Raw("").
type Value struct {
	kind  Kind
	text  string // KindRaw and KindString
	b     bool
	i     int64
	f     float64
	items []Value
}

// Raw returns an unevaluated text value.
func Raw(s string) Value { return Value{kind: KindRaw, text: s} }

// Null returns the None literal.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean literal.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer literal.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point literal.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a quoted string literal.
func String(s string) Value { return Value{kind: KindString, text: s} }

// List returns a list literal.
func List(items ...Value) Value { return Value{kind: KindList, items: cloneValues(items)} }

// Tuple returns a tuple literal.
func Tuple(items ...Value) Value { return Value{kind: KindTuple, items: cloneValues(items)} }

// Strings returns a list literal of quoted strings.
func Strings(items []string) Value {
	values := make([]Value, len(items))
	for i, s := range items {
		values[i] = String(s)
	}
	return Value{kind: KindList, items: values}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsRaw reports whether v holds unevaluated text.
func (v Value) IsRaw() bool { return v.kind == KindRaw }

// Text returns the string payload of a Raw or String value.
func (v Value) Text() (string, bool) {
	if v.kind == KindRaw || v.kind == KindString {
		return v.text, true
	}
	return "", false
}

// BoolValue returns the payload of a Bool value.
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// IntValue returns the payload of an Int value.
func (v Value) IntValue() (int64, bool) { return v.i, v.kind == KindInt }

// FloatValue returns the payload of a Float or Int value.
func (v Value) FloatValue() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// Items returns a copy of the elements of a List or Tuple value.
func (v Value) Items() []Value {
	if v.kind != KindList && v.kind != KindTuple {
		return nil
	}
	return cloneValues(v.items)
}

// StringSlice flattens v into strings: sequences yield one entry per element,
// scalars yield a single entry, null yields none.
func (v Value) StringSlice() []string {
	switch v.kind {
	case KindNull:
		return nil
	case KindList, KindTuple:
		out := make([]string, 0, len(v.items))
		for _, item := range v.items {
			if s, ok := item.Text(); ok {
				out = append(out, s)
				continue
			}
			out = append(out, item.Literal())
		}
		return out
	case KindRaw, KindString:
		return []string{v.text}
	}
	return []string{v.Literal()}
}

// Interface converts v into plain Go values: nil, bool, int64, float64,
// string or []any. Raw values convert to their text.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindList, KindTuple:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	}
	return v.text
}

// Equal reports whether v and o hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindList, KindTuple:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	}
	return v.text == o.text
}

// Literal renders v as text that ParseLiteral decodes back into an equal
// Value. Raw values render verbatim.
func (v Value) Literal() string {
	var b strings.Builder
	v.writeLiteral(&b)
	return b.String()
}

// String implements fmt.Stringer.
func (v Value) String() string { return v.Literal() }

func (v Value) writeLiteral(b *strings.Builder) {
	switch v.kind {
	case KindRaw:
		b.WriteString(v.text)
	case KindNull:
		b.WriteString("None")
	case KindBool:
		if v.b {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case KindInt:
		b.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		b.WriteString(formatFloat(v.f))
	case KindString:
		b.WriteString(quote(v.text))
	case KindList:
		b.WriteByte('[')
		writeItems(b, v.items)
		b.WriteByte(']')
	case KindTuple:
		b.WriteByte('(')
		writeItems(b, v.items)
		if len(v.items) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	}
}

func writeItems(b *strings.Builder, items []Value) {
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		item.writeLiteral(b)
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(s, ".eEn") {
		return s
	}
	return s + ".0"
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func cloneValues(items []Value) []Value {
	if items == nil {
		return nil
	}
	out := make([]Value, len(items))
	copy(out, items)
	return out
}

// FromInterface converts decoded YAML/JSON scalars and sequences into a
// Value. Strings go through ParseLiteral so that YAML and XML documents share
// one grammar.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", t)
		}
		return Int(int64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return ParseLiteral(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, elem := range t {
			v, err := FromInterface(elem)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindList, items: items}, nil
	}
	return Value{}, fmt.Errorf("unsupported parameter type %T", x)
}
