// Package canonical defines the payload value model of the ledger and its
// deterministic byte encoding. Payloads are arbitrary structured values —
// strings, integers, booleans, nulls, sequences, and mappings — but unlike
// Go's native map type, the mapping preserves the key order supplied by the
// producer. Key order is part of the signed content: reordering a payload's
// keys changes the canonical bytes and therefore the seal.
//
// # Canonical encoding
//
// Encode produces UTF-8 JSON with no whitespace, integer literals without
// exponents, default JSON string escaping with non-ASCII passed through
// unescaped, and mapping keys in insertion order. Encoding the same value
// twice yields byte-identical output on every platform.
package canonical

import (
	"bytes"
	"strconv"
	"unicode/utf8"
)

// Value is a payload value: one of String, Int, Bool, Null, Seq, or *Map.
// The set is closed; implementations outside this package are not possible.
type Value interface {
	appendTo(b *bytes.Buffer)
}

// String is a UTF-8 text value.
type String string

// Int is an integer value. Payload numbers are integers only; fractional
// values are not part of the canonical model.
type Int int64

// Bool is a boolean value.
type Bool bool

// Null is the JSON null value.
type Null struct{}

// Seq is an ordered sequence of values.
type Seq []Value

// pair is one key/value mapping entry.
type pair struct {
	key string
	val Value
}

// Map is a mapping from string keys to values that preserves insertion
// order. The zero value is not usable; create one with NewMap. Map is not
// safe for concurrent mutation.
type Map struct {
	pairs []pair
	index map[string]int
}

// NewMap returns an empty ordered mapping.
func NewMap() *Map {
	return &Map{index: make(map[string]int)}
}

// Set stores v under key. A new key is appended after all existing keys; an
// existing key keeps its original position and only its value is replaced.
// Set returns the map to allow call chaining when building payloads.
func (m *Map) Set(key string, v Value) *Map {
	if i, ok := m.index[key]; ok {
		m.pairs[i].val = v
		return m
	}
	m.index[key] = len(m.pairs)
	m.pairs = append(m.pairs, pair{key: key, val: v})
	return m
}

// Get returns the value stored under key and whether the key is present.
func (m *Map) Get(key string) (Value, bool) {
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.pairs[i].val, true
}

// Len returns the number of keys in the mapping.
func (m *Map) Len() int {
	return len(m.pairs)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	keys := make([]string, len(m.pairs))
	for i, p := range m.pairs {
		keys[i] = p.key
	}
	return keys
}

// Each calls fn for every key/value pair in insertion order.
func (m *Map) Each(fn func(key string, v Value)) {
	for _, p := range m.pairs {
		fn(p.key, p.val)
	}
}

// Encode returns the canonical byte encoding of v.
func Encode(v Value) []byte {
	var b bytes.Buffer
	v.appendTo(&b)
	return b.Bytes()
}

// AppendValue writes the canonical encoding of v to b. It is the building
// block used by the entry serializer, which embeds payload bytes inside a
// larger canonical document.
func AppendValue(b *bytes.Buffer, v Value) {
	v.appendTo(b)
}

// AppendString writes s to b as a canonical JSON string: quotation mark,
// reverse solidus, and control characters are escaped; everything else,
// including non-ASCII, passes through as UTF-8.
func AppendString(b *bytes.Buffer, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			if c < utf8.RuneSelf {
				b.WriteByte(c)
				i++
				continue
			}
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				// Invalid UTF-8 byte: emit the U+FFFD replacement character
				// so the output is always valid UTF-8 JSON.
				b.WriteString(`�`)
				i++
				continue
			}
			b.WriteString(s[i : i+size])
			i += size
			continue
		}
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			const hexdigits = "0123456789abcdef"
			b.WriteString(`\u00`)
			b.WriteByte(hexdigits[c>>4])
			b.WriteByte(hexdigits[c&0xf])
		}
		i++
	}
	b.WriteByte('"')
}

func (s String) appendTo(b *bytes.Buffer) {
	AppendString(b, string(s))
}

func (n Int) appendTo(b *bytes.Buffer) {
	b.Write(strconv.AppendInt(nil, int64(n), 10))
}

func (v Bool) appendTo(b *bytes.Buffer) {
	if v {
		b.WriteString("true")
	} else {
		b.WriteString("false")
	}
}

func (Null) appendTo(b *bytes.Buffer) {
	b.WriteString("null")
}

func (s Seq) appendTo(b *bytes.Buffer) {
	b.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		v.appendTo(b)
	}
	b.WriteByte(']')
}

func (m *Map) appendTo(b *bytes.Buffer) {
	b.WriteByte('{')
	for i, p := range m.pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		AppendString(b, p.key)
		b.WriteByte(':')
		p.val.appendTo(b)
	}
	b.WriteByte('}')
}
