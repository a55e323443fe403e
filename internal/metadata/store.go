// Package metadata persists operator annotations of units (favorites, groups,
// notes, panel toggles) in a single SQLite file.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/unitdeck/internal/apperr"
	"github.com/starford/unitdeck/internal/models"
)

// DefaultCallTimeout bounds every store call.
const DefaultCallTimeout = 5 * time.Second

// Store wraps a sql.DB holding the unit_metadata and unit_toggles tables.
type Store struct {
	conn    *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the time source used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database at path and applies migrations.
// The rollback journal keeps all state in the one file.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("metadata: create dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=DELETE")
	if err != nil {
		return nil, fmt.Errorf("metadata: open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("metadata: ping: %w", err)
	}
	if err := migrateUp(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("metadata: %w", err)
	}
	s := &Store{conn: conn, timeout: DefaultCallTimeout, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping checks that the database still answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.conn.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Get returns the metadata of name, or apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (models.UnitMetadata, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	m, err := scanMetadata(s.conn.QueryRowContext(ctx, selectMetadata+` WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return models.UnitMetadata{}, fmt.Errorf("metadata: %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return models.UnitMetadata{}, storeErr("get", err)
	}
	return m, nil
}

// Upsert applies fields to the record of name, creating it if needed. Nil
// fields keep their prior value; an empty group or note clears it.
func (s *Store) Upsert(ctx context.Context, name string, fields models.MetadataFields) (models.UnitMetadata, error) {
	if err := validName(name); err != nil {
		return models.UnitMetadata{}, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.UnitMetadata{}, storeErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	m, err := scanMetadata(tx.QueryRowContext(ctx, selectMetadata+` WHERE name = ?`, name))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		m = models.UnitMetadata{Name: name}
	case err != nil:
		return models.UnitMetadata{}, storeErr("read current", err)
	}

	if fields.Favorite != nil {
		m.Favorite = *fields.Favorite
	}
	if fields.Group != nil {
		m.Group = clearable(*fields.Group)
	}
	if fields.Note != nil {
		m.Note = clearable(*fields.Note)
	}
	m.UpdatedAt = s.now().UTC()

	if err := writeMetadata(ctx, tx, m); err != nil {
		return models.UnitMetadata{}, storeErr("upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return models.UnitMetadata{}, storeErr("commit", err)
	}
	return m, nil
}

// Delete removes the record of name and its toggles. It reports whether a
// record existed.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM unit_toggles WHERE name = ?`, name); err != nil {
		return false, storeErr("delete toggles", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM unit_metadata WHERE name = ?`, name)
	if err != nil {
		return false, storeErr("delete", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, storeErr("commit", err)
	}
	return n > 0, nil
}

// ListAll returns every record ordered by name.
func (s *Store) ListAll(ctx context.Context) ([]models.UnitMetadata, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, selectMetadata+` ORDER BY name`)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var out []models.UnitMetadata
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, storeErr("list scan", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

// MarkSeen records that names were present at the given instant, creating
// default records for names seen for the first time.
func (s *Store) MarkSeen(ctx context.Context, names []string, at time.Time) error {
	if len(names) == 0 {
		return nil
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO unit_metadata (name, favorite, last_seen, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(name) DO UPDATE SET last_seen = excluded.last_seen
	`)
	if err != nil {
		return storeErr("prepare mark seen", err)
	}
	defer stmt.Close()

	at = at.UTC()
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, name, at, at); err != nil {
			return storeErr("mark seen", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// SetToggle stores whether the panel toggleType of name is expanded.
func (s *Store) SetToggle(ctx context.Context, name, toggleType string, expanded bool) (models.UnitToggle, error) {
	if err := validName(name); err != nil {
		return models.UnitToggle{}, err
	}
	if err := validation.Validate(toggleType, validation.Required, validation.Length(1, 64)); err != nil {
		return models.UnitToggle{}, fmt.Errorf("toggle_type: %w: %v", apperr.ErrInvalidRequest, err)
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	t := models.UnitToggle{Name: name, Type: toggleType, Expanded: expanded, UpdatedAt: s.now().UTC()}
	if err := writeToggle(ctx, s.conn, t); err != nil {
		return models.UnitToggle{}, storeErr("set toggle", err)
	}
	return t, nil
}

// Toggles returns every stored toggle as name -> toggle type -> expanded.
func (s *Store) Toggles(ctx context.Context) (map[string]map[string]bool, error) {
	list, err := s.listToggles(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]bool)
	for _, t := range list {
		if out[t.Name] == nil {
			out[t.Name] = make(map[string]bool)
		}
		out[t.Name][t.Type] = t.Expanded
	}
	return out, nil
}

func (s *Store) listToggles(ctx context.Context) ([]models.UnitToggle, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `SELECT name, toggle_type, expanded, updated_at FROM unit_toggles ORDER BY name, toggle_type`)
	if err != nil {
		return nil, storeErr("toggles", err)
	}
	defer rows.Close()

	var out []models.UnitToggle
	for rows.Next() {
		var t models.UnitToggle
		if err := rows.Scan(&t.Name, &t.Type, &t.Expanded, &t.UpdatedAt); err != nil {
			return nil, storeErr("toggles scan", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("toggles", err)
	}
	return out, nil
}

func (s *Store) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

const selectMetadata = `SELECT name, favorite, grp, note, last_seen, updated_at FROM unit_metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanMetadata(row rowScanner) (models.UnitMetadata, error) {
	var (
		m           models.UnitMetadata
		group, note sql.NullString
		lastSeen    sql.NullTime
	)
	if err := row.Scan(&m.Name, &m.Favorite, &group, &note, &lastSeen, &m.UpdatedAt); err != nil {
		return models.UnitMetadata{}, err
	}
	if group.Valid {
		m.Group = &group.String
	}
	if note.Valid {
		m.Note = &note.String
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		m.LastSeen = &t
	}
	return m, nil
}

func writeMetadata(ctx context.Context, db execer, m models.UnitMetadata) error {
	var lastSeen any
	if m.LastSeen != nil {
		lastSeen = m.LastSeen.UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO unit_metadata (name, favorite, grp, note, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			favorite   = excluded.favorite,
			grp        = excluded.grp,
			note       = excluded.note,
			last_seen  = COALESCE(excluded.last_seen, unit_metadata.last_seen),
			updated_at = excluded.updated_at
	`, m.Name, m.Favorite, nullString(m.Group), nullString(m.Note), lastSeen, m.UpdatedAt.UTC())
	return err
}

func writeToggle(ctx context.Context, db execer, t models.UnitToggle) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO unit_toggles (name, toggle_type, expanded, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name, toggle_type) DO UPDATE SET
			expanded   = excluded.expanded,
			updated_at = excluded.updated_at
	`, t.Name, t.Type, t.Expanded, t.UpdatedAt.UTC())
	return err
}

func validName(name string) error {
	if err := validation.Validate(name, validation.Required, validation.Length(1, 256)); err != nil {
		return fmt.Errorf("metadata: name: %w: %v", apperr.ErrInvalidRequest, err)
	}
	return nil
}

func clearable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("metadata: %s: %w: %w", op, apperr.ErrMetadataStore, err)
}
