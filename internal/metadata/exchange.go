package metadata

import (
	"context"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/starford/unitdeck/internal/models"
)

const exportVersion = 1

// Dump is the on-disk backup format.
type Dump struct {
	Version int                   `yaml:"version"`
	Units   []models.UnitMetadata `yaml:"units"`
	Toggles []models.UnitToggle   `yaml:"toggles,omitempty"`
}

// Export writes every record and toggle to path as YAML. The file is
// replaced atomically, so a crash never leaves a truncated backup.
func (s *Store) Export(ctx context.Context, path string) (int, error) {
	units, err := s.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	toggles, err := s.listToggles(ctx)
	if err != nil {
		return 0, err
	}
	data, err := yaml.Marshal(Dump{Version: exportVersion, Units: units, Toggles: toggles})
	if err != nil {
		return 0, fmt.Errorf("metadata: export encode: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("metadata: export write: %w", err)
	}
	return len(units), nil
}

// Import upserts every record and toggle found in the YAML file at path.
// Records missing from the file are left alone. It returns the number of
// records imported.
func (s *Store) Import(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("metadata: import read: %w", err)
	}
	var dump Dump
	if err := yaml.Unmarshal(data, &dump); err != nil {
		return 0, fmt.Errorf("metadata: import decode: %w", err)
	}
	if dump.Version > exportVersion {
		return 0, fmt.Errorf("metadata: import: unsupported version %d", dump.Version)
	}
	for _, m := range dump.Units {
		if err := validName(m.Name); err != nil {
			return 0, err
		}
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC()
	for _, m := range dump.Units {
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = now
		}
		if err := writeMetadata(ctx, tx, m); err != nil {
			return 0, storeErr("import "+m.Name, err)
		}
	}
	for _, t := range dump.Toggles {
		if t.Name == "" || t.Type == "" {
			continue
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = now
		}
		if err := writeToggle(ctx, tx, t); err != nil {
			return 0, storeErr("import toggle "+t.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit", err)
	}
	return len(dump.Units), nil
}
