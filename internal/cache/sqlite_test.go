package cache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"voicebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_LookupMiss(t *testing.T) {
	store := testSQLiteStore(t)
	_, found, err := store.Lookup(context.Background(), domain.TranscriptionKey("m1"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found {
		t.Fatal("expected miss on empty store")
	}
}

func TestSQLiteStore_StoreThenLookup(t *testing.T) {
	store := testSQLiteStore(t)
	ctx := context.Background()
	key := domain.TranslationKey("m1", "es")

	if err := store.Store(ctx, key, "hola mundo"); err != nil {
		t.Fatalf("store: %v", err)
	}
	rec, found, err := store.Lookup(ctx, key)
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if rec.Text != "hola mundo" {
		t.Fatalf("expected 'hola mundo', got %q", rec.Text)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestSQLiteStore_WriteIfAbsent(t *testing.T) {
	store := testSQLiteStore(t)
	ctx := context.Background()
	key := domain.TranscriptionKey("m1")

	store.Store(ctx, key, "first")
	if err := store.Store(ctx, key, "second"); err != nil {
		t.Fatalf("second store should not fail: %v", err)
	}
	rec, _, _ := store.Lookup(ctx, key)
	if rec.Text != "first" {
		t.Fatalf("expected first value to be kept, got %q", rec.Text)
	}
}

func TestSQLiteStore_KeysAreDistinct(t *testing.T) {
	store := testSQLiteStore(t)
	ctx := context.Background()

	store.Store(ctx, domain.TranscriptionKey("m1"), "hello")
	store.Store(ctx, domain.TranslationKey("m1", "es"), "hola")
	store.Store(ctx, domain.TranslationKey("m1", "fr"), "bonjour")
	store.Store(ctx, domain.TranslationKey("m2", "es"), "otro")

	rec, found, _ := store.Lookup(ctx, domain.TranslationKey("m1", "fr"))
	if !found || rec.Text != "bonjour" {
		t.Fatalf("expected bonjour, got %q (found=%v)", rec.Text, found)
	}

	counts, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.OpTranscription] != 1 || counts[domain.OpTranslation] != 3 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s1.Store(ctx, domain.TranscriptionKey("m1"), "hello world")
	s1.Close()

	s2, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	rec, found, _ := s2.Lookup(ctx, domain.TranscriptionKey("m1"))
	if !found || rec.Text != "hello world" {
		t.Fatalf("expected persisted value, got %q (found=%v)", rec.Text, found)
	}
}

func TestMemoryStore_WriteIfAbsent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	key := domain.TranslationKey("m1", "de")

	m.Store(ctx, key, "hallo")
	m.Store(ctx, key, "servus")
	rec, found, _ := m.Lookup(ctx, key)
	if !found || rec.Text != "hallo" {
		t.Fatalf("expected hallo, got %q", rec.Text)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", m.Len())
	}
}
