package storage

import (
	"context"
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type doc struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", "idx_documents_updated").Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	if count != 1 {
		t.Error("index idx_documents_updated not found in sqlite_master")
	}
}

func TestGetDoc_Missing(t *testing.T) {
	s := openTestStore(t)

	var d doc
	ok, err := s.GetDoc(context.Background(), "nope", &d)
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if ok {
		t.Error("GetDoc reported a missing key as present")
	}
}

func TestPutGetDoc_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := doc{Name: "stats", Count: 3, Tags: []string{"a", "b"}}
	if err := s.PutDoc(ctx, "k", want); err != nil {
		t.Fatalf("PutDoc: %v", err)
	}

	var got doc
	ok, err := s.GetDoc(ctx, "k", &got)
	if err != nil || !ok {
		t.Fatalf("GetDoc = (%v, %v)", ok, err)
	}
	if got.Name != want.Name || got.Count != want.Count || len(got.Tags) != 2 {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPutDoc_Overwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutDoc(ctx, "k", doc{Count: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDoc(ctx, "k", doc{Count: 2}); err != nil {
		t.Fatal(err)
	}

	var got doc
	if _, err := s.GetDoc(ctx, "k", &got); err != nil {
		t.Fatal(err)
	}
	if got.Count != 2 {
		t.Errorf("Count = %d, want 2", got.Count)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Errorf("keys = %v, want one key", keys)
	}
}

func TestDeleteDoc(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutDoc(ctx, "k", doc{}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteDoc(ctx, "k"); err != nil {
		t.Fatalf("DeleteDoc: %v", err)
	}
	if err := s.DeleteDoc(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteDoc err = %v, want ErrNotFound", err)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.PutDoc(ctx, "tokenUsage", doc{Count: 42}); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	var got doc
	ok, err := s2.GetDoc(ctx, "tokenUsage", &got)
	if err != nil || !ok {
		t.Fatalf("GetDoc = (%v, %v)", ok, err)
	}
	if got.Count != 42 {
		t.Errorf("Count = %d, want 42", got.Count)
	}
}

func TestMemory_MatchesStoreSemantics(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var d doc
	if ok, err := m.GetDoc(ctx, "k", &d); ok || err != nil {
		t.Fatalf("GetDoc on empty = (%v, %v)", ok, err)
	}
	if err := m.PutDoc(ctx, "k", doc{Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.GetDoc(ctx, "k", &d); !ok || err != nil || d.Name != "x" {
		t.Fatalf("GetDoc = (%v, %v, %+v)", ok, err, d)
	}
	if err := m.DeleteDoc(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteDoc(missing) = %v, want ErrNotFound", err)
	}
}
