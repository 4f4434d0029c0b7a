// Package entry defines the sealed ledger record and its canonical byte
// representation. The canonical bytes are the interoperability contract of
// the ledger: every conformant implementation, in any language, must produce
// the identical byte sequence for the same logical entry, because the seal
// is an HMAC over exactly these bytes.
//
// # Canonical form
//
// An entry without its own seal is serialized as UTF-8 JSON with a fixed
// field order:
//
//	{"sequence":…,"id":"…","timestamp":"…","previousHash":"…","eventType":"…","payload":…}
//
// No whitespace, integer literals without exponents, default JSON string
// escaping with non-ASCII passed through, payload keys in producer order.
// The timestamp uses an explicit numeric UTC offset (never "Z") with
// fractional seconds preserved exactly as assigned by the writer.
package entry

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/provance/ledger/internal/canonical"
	"github.com/provance/ledger/internal/seal"
)

const (
	// GenesisHash is the conventional all-zero genesis anchor. The anchor is
	// a required setting with no default; deployments may configure any
	// 64-hex value. This constant is the value used throughout the test
	// suite.
	GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

	// TimestampLayout is the canonical timestamp form: ISO-8601 with an
	// explicit numeric offset and trailing-zero-trimmed fractional seconds.
	// Formatting a parsed canonical timestamp reproduces it byte-for-byte.
	TimestampLayout = "2006-01-02T15:04:05.999999999-07:00"
)

// hashPattern matches a 64-character lowercase hex digest.
var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// IsHexHash reports whether s is a well-formed 64-character lowercase hex
// hash, the required shape of the genesis anchor and every chain hash.
func IsHexHash(s string) bool {
	return hashPattern.MatchString(s)
}

// Entry is one sealed, hash-chained audit record. ID, Sequence, and
// Timestamp are assigned by the writer at sealing time and are immutable
// thereafter.
type Entry struct {
	// ID is a random 128-bit identifier in canonical UUID form.
	ID uuid.UUID `json:"id"`

	// Sequence is the 1-based, strictly monotonic chain position.
	Sequence uint64 `json:"sequence"`

	// Timestamp is the UTC sealing instant.
	Timestamp time.Time `json:"timestamp"`

	// EventType classifies the event. Never empty.
	EventType string `json:"eventType"`

	// Payload is the producer-supplied structured value. Key order is
	// preserved and signed.
	Payload *canonical.Map `json:"payload"`

	// PreviousHash is the seal of the prior entry, or the genesis anchor
	// for sequence 1. Lowercase hex, 64 characters.
	PreviousHash string `json:"previousHash"`

	// CurrentHash is the seal: HMAC-SHA256 over CanonicalBytes. It is
	// excluded from its own input.
	CurrentHash string `json:"currentHash"`
}

// CanonicalBytes returns the deterministic byte representation of the entry
// without CurrentHash, the exact input to the seal.
func (e Entry) CanonicalBytes() []byte {
	var b bytes.Buffer
	b.WriteString(`{"sequence":`)
	b.Write(strconv.AppendUint(nil, e.Sequence, 10))
	b.WriteString(`,"id":`)
	canonical.AppendString(&b, e.ID.String())
	b.WriteString(`,"timestamp":`)
	canonical.AppendString(&b, e.Timestamp.Format(TimestampLayout))
	b.WriteString(`,"previousHash":`)
	canonical.AppendString(&b, strings.ToLower(e.PreviousHash))
	b.WriteString(`,"eventType":`)
	canonical.AppendString(&b, e.EventType)
	b.WriteString(`,"payload":`)
	if e.Payload == nil {
		b.WriteString("null")
	} else {
		canonical.AppendValue(&b, e.Payload)
	}
	b.WriteByte('}')
	return b.Bytes()
}

// ComputeSeal returns the HMAC-SHA256 seal of the entry's canonical bytes
// under secret.
func (e Entry) ComputeSeal(secret []byte) string {
	return seal.Compute(secret, e.CanonicalBytes())
}

// VerifySeal recomputes the seal and compares it to CurrentHash in constant
// time.
func (e Entry) VerifySeal(secret []byte) bool {
	return seal.Equal(e.CurrentHash, e.ComputeSeal(secret))
}
