package verify_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/provance/ledger/internal/canonical"
	"github.com/provance/ledger/internal/entry"
	"github.com/provance/ledger/internal/store/memory"
	"github.com/provance/ledger/internal/verify"
)

var testSecret = []byte("verify-test-secret")

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// buildChain returns n well-formed entries chained from the genesis anchor.
func buildChain(t *testing.T, n int) []entry.Entry {
	t.Helper()
	entries := make([]entry.Entry, 0, n)
	prev := entry.GenesisHash
	for i := 1; i <= n; i++ {
		e := entry.Entry{
			ID:           uuid.New(),
			Sequence:     uint64(i),
			Timestamp:    time.Now().UTC(),
			EventType:    "EVT",
			Payload:      canonical.NewMap().Set("n", canonical.Int(int64(i))),
			PreviousHash: prev,
		}
		e.CurrentHash = e.ComputeSeal(testSecret)
		entries = append(entries, e)
		prev = e.CurrentHash
	}
	return entries
}

// storeWith populates a fresh in-memory store with the given entries.
func storeWith(t *testing.T, entries []entry.Entry) *memory.Store {
	t.Helper()
	s := memory.New()
	for _, e := range entries {
		if err := s.Append(context.Background(), e); err != nil {
			t.Fatalf("seed append seq %d: %v", e.Sequence, err)
		}
	}
	return s
}

func mustVerify(t *testing.T, s *memory.Store) verify.Result {
	t.Helper()
	res, err := verify.Chain(context.Background(), s, entry.GenesisHash, testSecret)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	return res
}

// --------------------------------------------------------------------------
// Intact chains
// --------------------------------------------------------------------------

func TestChain_EmptyLedger(t *testing.T) {
	res := mustVerify(t, memory.New())
	if !res.OK {
		t.Errorf("OK = false, reason %q", res.Reason)
	}
	if res.Reason != "ledger empty" {
		t.Errorf("reason = %q, want %q", res.Reason, "ledger empty")
	}
}

func TestChain_IntactChainVerifies(t *testing.T) {
	s := storeWith(t, buildChain(t, 25))
	res := mustVerify(t, s)
	if !res.OK {
		t.Errorf("OK = false, reason %q", res.Reason)
	}
	if res.Entries != 25 {
		t.Errorf("Entries = %d, want 25", res.Entries)
	}
}

func TestChain_UppercaseGenesisAccepted(t *testing.T) {
	// Re-anchor the chain on a genesis with letters so that uppercasing it
	// actually changes the string.
	anchor := strings.Repeat("ab", 32)
	entries := buildChain(t, 2)
	entries[0].PreviousHash = anchor
	entries[0].CurrentHash = entries[0].ComputeSeal(testSecret)
	entries[1].PreviousHash = entries[0].CurrentHash
	entries[1].CurrentHash = entries[1].ComputeSeal(testSecret)
	s := storeWith(t, entries)
	res, err := verify.Chain(context.Background(), s, strings.ToUpper(anchor), testSecret)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if !res.OK {
		t.Errorf("OK = false with uppercased anchor, reason %q", res.Reason)
	}
}

// --------------------------------------------------------------------------
// Tamper detection
// --------------------------------------------------------------------------

func TestChain_DetectsTamperedPayload(t *testing.T) {
	entries := buildChain(t, 3)
	// Mutate the second entry's payload, keeping its stored hash.
	entries[1].Payload = canonical.NewMap().Set("n", canonical.Int(999))
	s := storeWith(t, entries)

	res := mustVerify(t, s)
	if res.OK {
		t.Fatal("tampered payload verified OK")
	}
	if !strings.Contains(res.Reason, "data tampered at sequence 2") {
		t.Errorf("reason = %q, want mention of sequence 2 tampering", res.Reason)
	}
	if !strings.Contains(res.Reason, entries[1].ID.String()) {
		t.Errorf("reason = %q, want offending id %s", res.Reason, entries[1].ID)
	}
}

func TestChain_DetectsMutatedEventType(t *testing.T) {
	entries := buildChain(t, 3)
	entries[2].EventType = "FORGED"
	s := storeWith(t, entries)

	res := mustVerify(t, s)
	if res.OK || !strings.Contains(res.Reason, "sequence 3") {
		t.Errorf("result = %+v, want tamper at sequence 3", res)
	}
}

func TestChain_DetectsBrokenLink(t *testing.T) {
	entries := buildChain(t, 3)
	entries[2].PreviousHash = strings.Repeat("ab", 32)
	// Reseal so the per-entry hash is self-consistent; only the link broke.
	entries[2].CurrentHash = entries[2].ComputeSeal(testSecret)
	s := storeWith(t, entries)

	res := mustVerify(t, s)
	if res.OK {
		t.Fatal("broken link verified OK")
	}
	if !strings.Contains(res.Reason, "chain broken at sequence 3") {
		t.Errorf("reason = %q, want chain break at sequence 3", res.Reason)
	}
}

func TestChain_DetectsSwappedSequences(t *testing.T) {
	entries := buildChain(t, 3)
	// Swap the sequence numbers of entries 2 and 3 in the store, leaving
	// everything else untouched, as a reordering attacker would.
	entries[1].Sequence, entries[2].Sequence = 3, 2
	s := storeWith(t, entries)

	res := mustVerify(t, s)
	if res.OK {
		t.Fatal("reordered chain verified OK")
	}
	if !strings.Contains(res.Reason, "chain broken") && !strings.Contains(res.Reason, "data tampered") {
		t.Errorf("reason = %q, want chain or tamper violation", res.Reason)
	}
}

func TestChain_DetectsGap(t *testing.T) {
	entries := buildChain(t, 4)
	// Drop entry 3 entirely.
	s := storeWith(t, []entry.Entry{entries[0], entries[1], entries[3]})

	res := mustVerify(t, s)
	if res.OK {
		t.Fatal("gapped chain verified OK")
	}
	if !strings.Contains(res.Reason, "sequence violation") {
		t.Errorf("reason = %q, want sequence violation", res.Reason)
	}
}

func TestChain_DetectsSequenceZero(t *testing.T) {
	e := buildChain(t, 1)[0]
	e.Sequence = 0
	s := storeWith(t, []entry.Entry{e})

	res := mustVerify(t, s)
	if res.OK || !strings.Contains(res.Reason, "sequence violation") {
		t.Errorf("result = %+v, want sequence violation for sequence 0", res)
	}
}

func TestChain_DetectsWrongGenesisAnchor(t *testing.T) {
	s := storeWith(t, buildChain(t, 2))
	other := strings.Repeat("11", 32)

	res, err := verify.Chain(context.Background(), s, other, testSecret)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if res.OK || !strings.Contains(res.Reason, "chain broken at sequence 1") {
		t.Errorf("result = %+v, want break at sequence 1", res)
	}
}

func TestChain_WrongSecretFailsEveryEntry(t *testing.T) {
	s := storeWith(t, buildChain(t, 2))
	res, err := verify.Chain(context.Background(), s, entry.GenesisHash, []byte("other-secret"))
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if res.OK || !strings.Contains(res.Reason, "data tampered at sequence 1") {
		t.Errorf("result = %+v, want tamper at sequence 1", res)
	}
}

// --------------------------------------------------------------------------
// Cancellation
// --------------------------------------------------------------------------

func TestChain_HonoursCancellation(t *testing.T) {
	s := storeWith(t, buildChain(t, 5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := verify.Chain(ctx, s, entry.GenesisHash, testSecret); err == nil {
		t.Error("Chain with cancelled context returned nil error")
	}
}
