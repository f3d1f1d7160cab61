package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Kind enumerates the codec's type system.
type Kind int

const (
	Bool Kind = iota
	U8
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F64
	Compact
	Str
	Bytes
	Option
	Vec
	Tuple
	Struct
)

var kindNames = map[string]Kind{
	"bool":    Bool,
	"u8":      U8,
	"u16":     U16,
	"u32":     U32,
	"u64":     U64,
	"i8":      I8,
	"i16":     I16,
	"i32":     I32,
	"i64":     I64,
	"f64":     F64,
	"compact": Compact,
	"str":     Str,
	"bytes":   Bytes,
}

// Field is a named struct member.
type Field struct {
	Name string
	Type *Descriptor
}

// Descriptor describes the shape of an encoded value.
//
// The textual grammar:
//
//	type   := prim | "option<" type ">" | "vec<" type ">"
//	        | "(" type ("," type)* ")"
//	        | "{" name ":" type ("," name ":" type)* "}"
//	prim   := bool | u8 | u16 | u32 | u64 | i8 | i16 | i32 | i64
//	        | f64 | compact | str | bytes
type Descriptor struct {
	Kind   Kind
	Elem   *Descriptor   // Option, Vec
	Elems  []*Descriptor // Tuple
	Fields []Field       // Struct
}

// String renders the descriptor back into its textual form.
func (d *Descriptor) String() string {
	switch d.Kind {
	case Option:
		return "option<" + d.Elem.String() + ">"
	case Vec:
		return "vec<" + d.Elem.String() + ">"
	case Tuple:
		parts := make([]string, len(d.Elems))
		for i, e := range d.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ",") + ")"
	case Struct:
		parts := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		for name, k := range kindNames {
			if k == d.Kind {
				return name
			}
		}
		return "<invalid>"
	}
}

// Parse parses a textual type descriptor.
func Parse(s string) (*Descriptor, error) {
	p := &parser{src: s}
	d, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, errf("parse", "unexpected trailing input at offset %d", p.pos)
	}
	return d, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return errf("parse", "expected %q at offset %d", string(c), p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || (p.pos > start && c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", errf("parse", "expected identifier at offset %d", start)
	}
	return p.src[start:p.pos], nil
}

func (p *parser) parseType() (*Descriptor, error) {
	p.skipSpace()
	switch p.peek() {
	case '(':
		return p.parseTuple()
	case '{':
		return p.parseStruct()
	}

	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	switch name {
	case "option", "vec":
		if err := p.expect('<'); err != nil {
			return nil, err
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
		kind := Option
		if name == "vec" {
			kind = Vec
		}
		return &Descriptor{Kind: kind, Elem: elem}, nil
	}
	kind, ok := kindNames[name]
	if !ok {
		return nil, errf("parse", "unknown type %q", name)
	}
	return &Descriptor{Kind: kind}, nil
}

func (p *parser) parseTuple() (*Descriptor, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	d := &Descriptor{Kind: Tuple}
	for {
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		d.Elems = append(d.Elems, elem)
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *parser) parseStruct() (*Descriptor, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	d := &Descriptor{Kind: Struct}
	seen := map[string]bool{}
	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, errf("parse", "duplicate field %q", name)
		}
		seen[name] = true
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		typ, err := p.parseType()
		if err != nil {
			return nil, err
		}
		d.Fields = append(d.Fields, Field{Name: name, Type: typ})
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	return d, nil
}

// Infer derives a canonical descriptor from a host value. Integral numbers
// map to i64, other numbers to f64, nil to an absent option. Struct fields
// are ordered by name so inference is deterministic.
func Infer(v interface{}) (*Descriptor, error) {
	switch val := v.(type) {
	case nil:
		return &Descriptor{Kind: Option, Elem: &Descriptor{Kind: Bytes}}, nil
	case bool:
		return &Descriptor{Kind: Bool}, nil
	case int:
		return &Descriptor{Kind: I64}, nil
	case int64:
		return &Descriptor{Kind: I64}, nil
	case uint64:
		return &Descriptor{Kind: U64}, nil
	case float64:
		return &Descriptor{Kind: F64}, nil
	case string:
		return &Descriptor{Kind: Str}, nil
	case []byte:
		return &Descriptor{Kind: Bytes}, nil
	case []interface{}:
		if len(val) == 0 {
			return &Descriptor{Kind: Vec, Elem: &Descriptor{Kind: Bytes}}, nil
		}
		elem, err := Infer(val[0])
		if err != nil {
			return nil, err
		}
		return &Descriptor{Kind: Vec, Elem: elem}, nil
	case map[string]interface{}:
		names := make([]string, 0, len(val))
		for name := range val {
			names = append(names, name)
		}
		sort.Strings(names)
		d := &Descriptor{Kind: Struct}
		for _, name := range names {
			typ, err := Infer(val[name])
			if err != nil {
				return nil, err
			}
			d.Fields = append(d.Fields, Field{Name: name, Type: typ})
		}
		return d, nil
	default:
		return nil, errf("encode", "unsupported value type %T", v)
	}
}

func errf(op, format string, args ...interface{}) *Error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}
