package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/provance/ledger/internal/canonical"
	"github.com/provance/ledger/internal/entry"
	"github.com/provance/ledger/internal/store"
	"github.com/provance/ledger/internal/store/sqlite"
)

var testSecret = []byte("sqlite-test-secret")

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chainedEntry(t *testing.T, seq uint64, prev string) entry.Entry {
	t.Helper()
	e := entry.Entry{
		ID:        uuid.New(),
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
		EventType: "TEST",
		Payload: canonical.NewMap().
			Set("zulu", canonical.Int(int64(seq))).
			Set("alpha", canonical.String("keep-order")),
		PreviousHash: prev,
	}
	e.CurrentHash = e.ComputeSeal(testSecret)
	return e
}

func mustAppend(t *testing.T, s *sqlite.Store, e entry.Entry) {
	t.Helper()
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("Append(seq=%d): %v", e.Sequence, err)
	}
}

// --------------------------------------------------------------------------
// Round-trip fidelity
// --------------------------------------------------------------------------

func TestAppendGet_CanonicalBytesSurviveRoundTrip(t *testing.T) {
	s := openStore(t)
	e := chainedEntry(t, 1, entry.GenesisHash)
	mustAppend(t, s, e)

	got, err := s.GetByID(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	// The stored row must reproduce the exact signed content: identical
	// canonical bytes and a seal that still verifies.
	if string(got.CanonicalBytes()) != string(e.CanonicalBytes()) {
		t.Errorf("canonical bytes changed across the store round-trip:\n got: %s\nwant: %s",
			got.CanonicalBytes(), e.CanonicalBytes())
	}
	if !got.VerifySeal(testSecret) {
		t.Error("seal does not verify after round-trip")
	}
	if got.CurrentHash != e.CurrentHash {
		t.Errorf("currentHash = %s, want %s", got.CurrentHash, e.CurrentHash)
	}
}

func TestAppendGet_SubSecondTimestampPreserved(t *testing.T) {
	s := openStore(t)
	e := chainedEntry(t, 1, entry.GenesisHash)
	e.Timestamp = time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	e.CurrentHash = e.ComputeSeal(testSecret)
	mustAppend(t, s, e)

	got, err := s.GetByID(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Timestamp.Equal(e.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, e.Timestamp)
	}
	if got.Timestamp.Format(entry.TimestampLayout) != e.Timestamp.Format(entry.TimestampLayout) {
		t.Error("canonical timestamp text changed across round-trip")
	}
}

func TestAppendGet_PayloadKeyOrderPreserved(t *testing.T) {
	s := openStore(t)
	e := chainedEntry(t, 1, entry.GenesisHash)
	mustAppend(t, s, e)

	got, err := s.GetByID(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	keys := got.Payload.Keys()
	if len(keys) != 2 || keys[0] != "zulu" || keys[1] != "alpha" {
		t.Errorf("payload keys = %v, want [zulu alpha]", keys)
	}
}

// --------------------------------------------------------------------------
// Contract behaviour
// --------------------------------------------------------------------------

func TestAppend_DuplicateSequence(t *testing.T) {
	s := openStore(t)
	mustAppend(t, s, chainedEntry(t, 1, entry.GenesisHash))

	err := s.Append(context.Background(), chainedEntry(t, 1, entry.GenesisHash))
	if !errors.Is(err, store.ErrDuplicateSequence) {
		t.Errorf("err = %v, want ErrDuplicateSequence", err)
	}
}

func TestHead_EmptyAndAfterAppends(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	head, err := s.Head(ctx)
	if err != nil {
		t.Fatalf("Head on empty: %v", err)
	}
	if head != nil {
		t.Errorf("Head = %+v, want nil", head)
	}

	e1 := chainedEntry(t, 1, entry.GenesisHash)
	e2 := chainedEntry(t, 2, e1.CurrentHash)
	mustAppend(t, s, e2) // insertion order differs from sequence order
	mustAppend(t, s, e1)

	head, err = s.Head(ctx)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head == nil || head.Sequence != 2 || head.ID != e2.ID {
		t.Errorf("Head = %+v, want e2", head)
	}
}

func TestAll_StableOrderRegardlessOfInsertion(t *testing.T) {
	s := openStore(t)

	e1 := chainedEntry(t, 1, entry.GenesisHash)
	e2 := chainedEntry(t, 2, e1.CurrentHash)
	e3 := chainedEntry(t, 3, e2.CurrentHash)
	for _, e := range []entry.Entry{e3, e1, e2} {
		mustAppend(t, s, e)
	}

	all, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(All) = %d, want 3", len(all))
	}
	for i, e := range all {
		if e.Sequence != uint64(i+1) {
			t.Errorf("All[%d].Sequence = %d, want %d", i, e.Sequence, i+1)
		}
	}
}

func TestGetByID_NotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPersistence_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s1, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := chainedEntry(t, 1, entry.GenesisHash)
	if err := s1.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetByID(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetByID after reopen: %v", err)
	}
	if !got.VerifySeal(testSecret) {
		t.Error("seal does not verify after reopen")
	}
}

// --------------------------------------------------------------------------
// Leases
// --------------------------------------------------------------------------

func TestLease_AcquireRenewConflictExpiry(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	const res = "ledger_writer_lock_v1"

	if _, err := s.AcquireOrRenewLease(ctx, res, "w1", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := s.AcquireOrRenewLease(ctx, res, "w1", time.Minute); err != nil {
		t.Fatalf("renew: %v", err)
	}

	_, err := s.AcquireOrRenewLease(ctx, res, "w2", time.Minute)
	if !errors.Is(err, store.ErrLeaseHeld) {
		t.Errorf("conflict err = %v, want ErrLeaseHeld", err)
	}

	// Shrink w1's lease and let it lapse; w2 may then take over.
	if _, err := s.AcquireOrRenewLease(ctx, res, "w1", 10*time.Millisecond); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	l, err := s.AcquireOrRenewLease(ctx, res, "w2", time.Minute)
	if err != nil {
		t.Fatalf("takeover after expiry: %v", err)
	}
	if l.Holder != "w2" {
		t.Errorf("holder = %q, want w2", l.Holder)
	}
}
