package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	site "github.com/eugener/mason/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAPIKeyRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	exp := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	key := &site.APIKey{
		ID:        "key-1",
		Name:      "ci",
		KeyHash:   "abc123hash",
		KeyPrefix: "msn_abc1",
		Role:      "admin",
		ExpiresAt: &exp,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.CreateKey(ctx, key); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetKeyByHash(ctx, "abc123hash")
	if err != nil {
		t.Fatal("get:", err)
	}
	if diff := cmp.Diff(key, got); diff != "" {
		t.Errorf("key mismatch (-want +got):\n%s", diff)
	}

	byID, err := s.GetKey(ctx, "key-1")
	if err != nil {
		t.Fatal("get by id:", err)
	}
	if diff := cmp.Diff(got, byID); diff != "" {
		t.Errorf("GetKey differs from GetKeyByHash (-hash +id):\n%s", diff)
	}

	keys, err := s.ListKeys(ctx, 0, 10)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(keys) != 1 {
		t.Fatalf("list count = %d, want 1", len(keys))
	}
	if n, _ := s.CountKeys(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	key.Blocked = true
	key.Role = "editor"
	if err := s.UpdateKey(ctx, key); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetKeyByHash(ctx, "abc123hash")
	if !got.Blocked || got.Role != "editor" {
		t.Errorf("after update blocked=%v role=%q", got.Blocked, got.Role)
	}

	if err := s.TouchKeyUsed(ctx, "key-1"); err != nil {
		t.Fatal("touch:", err)
	}
	got, _ = s.GetKeyByHash(ctx, "abc123hash")
	if got.LastUsedAt == nil {
		t.Error("last_used_at should be set after touch")
	}

	if err := s.DeleteKey(ctx, "key-1"); err != nil {
		t.Fatal("delete:", err)
	}
	_, err = s.GetKeyByHash(ctx, "abc123hash")
	if err != site.ErrNotFound {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteKey(ctx, "key-1"); !errors.Is(err, site.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestAPIKeyDuplicateHash(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	k1 := &site.APIKey{ID: "k1", KeyHash: "same", KeyPrefix: "msn_a", CreatedAt: time.Now()}
	k2 := &site.APIKey{ID: "k2", KeyHash: "same", KeyPrefix: "msn_b", CreatedAt: time.Now()}
	if err := s.CreateKey(ctx, k1); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateKey(ctx, k2); !errors.Is(err, site.ErrConflict) {
		t.Errorf("duplicate hash err = %v, want ErrConflict", err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := s.InsertDocument(ctx, "services", "a", []byte(`{"id":"a","title":"Roofing"}`), t0); err != nil {
		t.Fatal("insert a:", err)
	}
	if err := s.InsertDocument(ctx, "services", "b", []byte(`{"id":"b","title":"Decks"}`), t0.Add(time.Minute)); err != nil {
		t.Fatal("insert b:", err)
	}
	if err := s.InsertDocument(ctx, "projects", "a", []byte(`{"id":"a"}`), t0); err != nil {
		t.Fatal("same id in another collection:", err)
	}

	got, err := s.GetDocument(ctx, "services", "a")
	if err != nil {
		t.Fatal("get:", err)
	}
	if string(got) != `{"id":"a","title":"Roofing"}` {
		t.Errorf("body = %s", got)
	}

	list, err := s.ListDocuments(ctx, "services")
	if err != nil {
		t.Fatal("list:", err)
	}
	want := []string{`{"id":"a","title":"Roofing"}`, `{"id":"b","title":"Decks"}`}
	gotStr := make([]string, len(list))
	for i, b := range list {
		gotStr[i] = string(b)
	}
	if diff := cmp.Diff(want, gotStr); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}

	if err := s.UpdateDocument(ctx, "services", "a", []byte(`{"id":"a","title":"Roofs"}`), t0.Add(time.Hour)); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetDocument(ctx, "services", "a")
	if string(got) != `{"id":"a","title":"Roofs"}` {
		t.Errorf("updated body = %s", got)
	}

	if n, _ := s.CountDocuments(ctx, "services"); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	if err := s.DeleteDocument(ctx, "services", "a"); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetDocument(ctx, "services", "a"); err != site.ErrNotFound {
		t.Errorf("get after delete err = %v, want ErrNotFound", err)
	}
}

func TestDocumentErrors(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.InsertDocument(ctx, "stories", "x", []byte(`{}`), now); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate insert", s.InsertDocument(ctx, "stories", "x", []byte(`{}`), now), site.ErrConflict},
		{"update missing", s.UpdateDocument(ctx, "stories", "nope", []byte(`{}`), now), site.ErrNotFound},
		{"delete missing", s.DeleteDocument(ctx, "stories", "nope"), site.ErrNotFound},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestUpsertDocument(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, body := range []string{`{"headline":"v1"}`, `{"headline":"v2"}`} {
		if err := s.UpsertDocument(ctx, "about", "about", []byte(body), now); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.GetDocument(ctx, "about", "about")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"headline":"v2"}` {
		t.Errorf("body = %s", got)
	}
	if n, _ := s.CountDocuments(ctx, "about"); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.InsertDocument(ctx, "services", "1", []byte(`{}`), time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := b.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	ids, err := b.ListDocuments(ctx, "services")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]byte(nil), ids, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("second store sees first store's data:\n%s", diff)
	}
}

func TestBuildDSN(t *testing.T) {
	t.Parallel()

	file := buildDSN("/var/lib/mason/site.db")
	if !strings.HasPrefix(file, "file:/var/lib/mason/site.db?") || !strings.Contains(file, "journal_mode(WAL)") {
		t.Errorf("file dsn = %q", file)
	}

	a, b := buildDSN(":memory:"), buildDSN(":memory:")
	if a == b {
		t.Error("in-memory DSNs should be unique per store")
	}
	if !strings.Contains(a, "mode=memory&cache=shared") {
		t.Errorf("memory dsn = %q", a)
	}
}

func TestNew_EmptyDSN(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty dsn")
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	s.write.Close()
	err := s.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "write pool") {
		t.Errorf("ping after closing writer = %v, want write pool error", err)
	}
}
