package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Decoding errors. Decode wraps them with positional context where useful.
var (
	// ErrNotObject is returned when the input is valid JSON but its top
	// level is not an object.
	ErrNotObject = errors.New("canonical: top-level value is not an object")

	// ErrDuplicateKey is returned when an object repeats a key. Duplicate
	// keys have no deterministic canonical form, so they are rejected.
	ErrDuplicateKey = errors.New("canonical: duplicate object key")

	// ErrNonIntegerNumber is returned for fractional or exponent number
	// literals. The payload model carries integers only.
	ErrNonIntegerNumber = errors.New("canonical: non-integer number")
)

// Decode parses data as a JSON object into an order-preserving Map. The
// decoder walks the token stream directly instead of unmarshalling into
// map[string]any, which would lose key order. Fractional numbers, duplicate
// keys, and trailing input are rejected.
func Decode(data []byte) (*Map, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrNotObject
	}

	m, err := decodeObject(dec)
	if err != nil {
		return nil, err
	}

	// The object must be the whole input.
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("canonical: trailing data after object")
	}
	return m, nil
}

// decodeObject reads key/value pairs until the closing brace. The opening
// brace has already been consumed by the caller.
func decodeObject(dec *json.Decoder) (*Map, error) {
	m := NewMap()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("canonical: decode key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("canonical: object key is not a string")
		}
		if _, exists := m.Get(key); exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
	}
	// Consume the closing '}'.
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("canonical: decode object end: %w", err)
	}
	return m, nil
}

// decodeArray reads elements until the closing bracket. The opening bracket
// has already been consumed by the caller.
func decodeArray(dec *json.Decoder) (Seq, error) {
	s := Seq{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		s = append(s, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("canonical: decode array end: %w", err)
	}
	return s, nil
}

// decodeValue reads one JSON value of any kind.
func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("canonical: decode value: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, fmt.Errorf("canonical: unexpected delimiter %q", t.String())
	case string:
		return String(t), nil
	case json.Number:
		n, err := strconv.ParseInt(t.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrNonIntegerNumber, t.String())
		}
		return Int(n), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null{}, nil
	}
	return nil, fmt.Errorf("canonical: unexpected token %v", tok)
}

// MarshalJSON emits the canonical encoding, so mappings embedded in API
// responses and store rows serialize with their key order intact.
func (m *Map) MarshalJSON() ([]byte, error) {
	return Encode(m), nil
}

// UnmarshalJSON parses data with the order-preserving decoder.
func (m *Map) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// MarshalJSON emits the canonical encoding of the sequence.
func (s Seq) MarshalJSON() ([]byte, error) {
	return Encode(s), nil
}
