package canonical_test

import (
	"errors"
	"testing"

	"github.com/provance/ledger/internal/canonical"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func encodeString(t *testing.T, v canonical.Value) string {
	t.Helper()
	return string(canonical.Encode(v))
}

func mustDecode(t *testing.T, data string) *canonical.Map {
	t.Helper()
	m, err := canonical.Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode(%q): %v", data, err)
	}
	return m
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

func TestEncode_Primitives(t *testing.T) {
	cases := []struct {
		name string
		v    canonical.Value
		want string
	}{
		{"string", canonical.String("hello"), `"hello"`},
		{"int", canonical.Int(42), `42`},
		{"negative int", canonical.Int(-7), `-7`},
		{"zero", canonical.Int(0), `0`},
		{"true", canonical.Bool(true), `true`},
		{"false", canonical.Bool(false), `false`},
		{"null", canonical.Null{}, `null`},
		{"empty seq", canonical.Seq{}, `[]`},
		{"empty map", canonical.NewMap(), `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := encodeString(t, tc.v); got != tc.want {
				t.Errorf("Encode = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEncode_PreservesInsertionOrder(t *testing.T) {
	m := canonical.NewMap().
		Set("zebra", canonical.Int(1)).
		Set("apple", canonical.Int(2)).
		Set("mango", canonical.Int(3))

	want := `{"zebra":1,"apple":2,"mango":3}`
	if got := encodeString(t, m); got != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}
}

func TestEncode_SetReplacesValueKeepsPosition(t *testing.T) {
	m := canonical.NewMap().
		Set("a", canonical.Int(1)).
		Set("b", canonical.Int(2)).
		Set("a", canonical.Int(9))

	want := `{"a":9,"b":2}`
	if got := encodeString(t, m); got != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestEncode_Nested(t *testing.T) {
	inner := canonical.NewMap().
		Set("port", canonical.Int(22)).
		Set("open", canonical.Bool(true))
	m := canonical.NewMap().
		Set("host", canonical.String("db-1")).
		Set("scan", inner).
		Set("tags", canonical.Seq{canonical.String("prod"), canonical.Null{}}).
		Set("note", canonical.Null{})

	want := `{"host":"db-1","scan":{"port":22,"open":true},"tags":["prod",null],"note":null}`
	if got := encodeString(t, m); got != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}
}

func TestEncode_StringEscaping(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"quote", `say "hi"`, `"say \"hi\""`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"carriage return", "a\rb", `"a\rb"`},
		{"control", "a\x01b", "\"a\\u0001b\""},
		{"non-ascii passthrough", "café ✓", `"café ✓"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := encodeString(t, canonical.String(tc.in)); got != tc.want {
				t.Errorf("Encode(%q) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestEncode_Deterministic(t *testing.T) {
	m := canonical.NewMap().
		Set("x", canonical.Seq{canonical.Int(1), canonical.Int(2)}).
		Set("y", canonical.String("值"))

	first := canonical.Encode(m)
	second := canonical.Encode(m)
	if string(first) != string(second) {
		t.Errorf("Encode is not deterministic: %s vs %s", first, second)
	}
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

func TestDecode_RoundTripIsByteIdentical(t *testing.T) {
	inputs := []string{
		`{}`,
		`{"b":1,"a":2}`,
		`{"actorId":"alice","roles":["admin","ops"],"active":true,"ended":null}`,
		`{"outer":{"z":1,"a":{"deep":[{"k":"v"}]}}}`,
		`{"unicode":"héllo — ✓"}`,
	}
	for _, in := range inputs {
		m := mustDecode(t, in)
		if got := encodeString(t, m); got != in {
			t.Errorf("round-trip of %s produced %s", in, got)
		}
	}
}

func TestDecode_RejectsNonObjectTopLevel(t *testing.T) {
	for _, in := range []string{`[1,2]`, `"str"`, `42`, `null`, `true`} {
		if _, err := canonical.Decode([]byte(in)); !errors.Is(err, canonical.ErrNotObject) {
			t.Errorf("Decode(%s): err = %v, want ErrNotObject", in, err)
		}
	}
}

func TestDecode_RejectsDuplicateKeys(t *testing.T) {
	_, err := canonical.Decode([]byte(`{"a":1,"a":2}`))
	if !errors.Is(err, canonical.ErrDuplicateKey) {
		t.Errorf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestDecode_RejectsNonIntegerNumbers(t *testing.T) {
	for _, in := range []string{`{"a":1.5}`, `{"a":1e3}`, `{"a":[0.25]}`} {
		_, err := canonical.Decode([]byte(in))
		if !errors.Is(err, canonical.ErrNonIntegerNumber) {
			t.Errorf("Decode(%s): err = %v, want ErrNonIntegerNumber", in, err)
		}
	}
}

func TestDecode_RejectsTrailingData(t *testing.T) {
	if _, err := canonical.Decode([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Error("expected error for trailing data, got nil")
	}
}

func TestDecode_RejectsMalformedJSON(t *testing.T) {
	for _, in := range []string{`{`, `{"a":}`, ``, `{"a":1,}`} {
		if _, err := canonical.Decode([]byte(in)); err == nil {
			t.Errorf("Decode(%s): expected error, got nil", in)
		}
	}
}

// --------------------------------------------------------------------------
// encoding/json interop
// --------------------------------------------------------------------------

func TestMap_JSONInterop(t *testing.T) {
	var m canonical.Map
	if err := m.UnmarshalJSON([]byte(`{"second":2,"first":1}`)); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	out, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(out) != `{"second":2,"first":1}` {
		t.Errorf("MarshalJSON = %s, want original order preserved", out)
	}
}
