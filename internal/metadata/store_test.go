package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/unitdeck/internal/apperr"
	"github.com/starford/unitdeck/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestSchemaCreation(t *testing.T) {
	s := testStore(t)
	var count int
	if err := s.conn.QueryRow(`SELECT count(*) FROM unit_metadata`).Scan(&count); err != nil {
		t.Fatalf("unit_metadata table missing: %v", err)
	}
	if err := s.conn.QueryRow(`SELECT count(*) FROM unit_toggles`).Scan(&count); err != nil {
		t.Fatalf("unit_toggles table missing: %v", err)
	}
}

func TestOpenTwiceKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "services.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Upsert(context.Background(), "nginx.service", models.MetadataFields{Favorite: ptr(true)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	m, err := s.Get(context.Background(), "nginx.service")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !m.Favorite {
		t.Error("favorite lost across reopen")
	}
	if _, err := os.Stat(path + "-wal"); err == nil {
		t.Error("unexpected WAL file next to the database")
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "ghost.service")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertPartial(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "nginx.service", models.MetadataFields{Favorite: ptr(true), Group: ptr("web")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	m, err := s.Upsert(ctx, "nginx.service", models.MetadataFields{Note: ptr("front proxy")})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !m.Favorite || m.Group == nil || *m.Group != "web" {
		t.Errorf("unspecified fields changed: %+v", m)
	}
	if m.Note == nil || *m.Note != "front proxy" {
		t.Errorf("note = %v, want front proxy", m.Note)
	}

	m, err = s.Upsert(ctx, "nginx.service", models.MetadataFields{Group: ptr("")})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if m.Group != nil {
		t.Errorf("group = %q, want cleared", *m.Group)
	}

	got, err := s.Get(ctx, "nginx.service")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Group != nil || got.Note == nil || !got.Favorite {
		t.Errorf("stored row = %+v", got)
	}
}

func TestUpsertRejectsEmptyName(t *testing.T) {
	s := testStore(t)
	_, err := s.Upsert(context.Background(), "", models.MetadataFields{Favorite: ptr(true)})
	if !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestMarkSeen(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.Upsert(ctx, "b.service", models.MetadataFields{Favorite: ptr(true)}); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2024, 1, 11, 10, 0, 0, 0, time.UTC)
	if err := s.MarkSeen(ctx, []string{"a.service", "b.service"}, at); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 || all[0].Name != "a.service" || all[1].Name != "b.service" {
		t.Fatalf("ListAll = %+v", all)
	}
	for _, m := range all {
		if m.LastSeen == nil || !m.LastSeen.Equal(at) {
			t.Errorf("%s last_seen = %v, want %v", m.Name, m.LastSeen, at)
		}
	}
	if all[0].Favorite || !all[1].Favorite {
		t.Errorf("MarkSeen touched favorites: %+v", all)
	}
}

func TestDeleteRemovesToggles(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, _ = s.Upsert(ctx, "nginx.service", models.MetadataFields{Favorite: ptr(true)})
	if _, err := s.SetToggle(ctx, "nginx.service", "logs", true); err != nil {
		t.Fatalf("SetToggle: %v", err)
	}

	deleted, err := s.Delete(ctx, "nginx.service")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	toggles, err := s.Toggles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(toggles) != 0 {
		t.Errorf("toggles survived delete: %v", toggles)
	}

	deleted, err = s.Delete(ctx, "nginx.service")
	if err != nil || deleted {
		t.Errorf("second Delete = %v, %v", deleted, err)
	}
}

func TestToggles(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, _ = s.SetToggle(ctx, "nginx.service", "logs", true)
	_, _ = s.SetToggle(ctx, "nginx.service", "logs", false)
	_, _ = s.SetToggle(ctx, "nginx.service", "details", true)
	_, _ = s.SetToggle(ctx, "cron.service", "logs", true)

	got, err := s.Toggles(ctx)
	if err != nil {
		t.Fatalf("Toggles: %v", err)
	}
	if got["nginx.service"]["logs"] || !got["nginx.service"]["details"] || !got["cron.service"]["logs"] {
		t.Errorf("Toggles = %v", got)
	}

	if _, err := s.SetToggle(ctx, "nginx.service", "", true); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("empty toggle type err = %v", err)
	}
}

func TestStoreFailureIsTyped(t *testing.T) {
	s := testStore(t)
	s.Close()
	_, err := s.ListAll(context.Background())
	if !errors.Is(err, apperr.ErrMetadataStore) {
		t.Fatalf("err = %v, want ErrMetadataStore", err)
	}
}

func TestExportImport(t *testing.T) {
	src := testStore(t)
	ctx := context.Background()
	_, _ = src.Upsert(ctx, "nginx.service", models.MetadataFields{Favorite: ptr(true), Group: ptr("web"), Note: ptr("proxy")})
	_, _ = src.Upsert(ctx, "cron.service", models.MetadataFields{Group: ptr("system")})
	_, _ = src.SetToggle(ctx, "nginx.service", "logs", true)

	path := filepath.Join(t.TempDir(), "backup.yaml")
	n, err := src.Export(ctx, path)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d, want 2", n)
	}

	dst := testStore(t)
	_, _ = dst.Upsert(ctx, "keep.service", models.MetadataFields{Favorite: ptr(true)})
	n, err = dst.Import(ctx, path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d, want 2", n)
	}

	m, err := dst.Get(ctx, "nginx.service")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Favorite || m.Group == nil || *m.Group != "web" || m.Note == nil || *m.Note != "proxy" {
		t.Errorf("imported row = %+v", m)
	}
	if _, err := dst.Get(ctx, "keep.service"); err != nil {
		t.Errorf("existing row lost on import: %v", err)
	}
	toggles, _ := dst.Toggles(ctx)
	if !toggles["nginx.service"]["logs"] {
		t.Errorf("toggle not imported: %v", toggles)
	}
}

func TestImportRejectsNewerVersion(t *testing.T) {
	s := testStore(t)
	path := filepath.Join(t.TempDir(), "future.yaml")
	if err := os.WriteFile(path, []byte("version: 99\nunits: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Import(context.Background(), path); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
