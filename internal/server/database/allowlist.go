package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// AllowlistRepository manages the MAC/IP allowlist.
type AllowlistRepository struct {
	db *DB
}

// NewAllowlistRepository creates a new AllowlistRepository.
func NewAllowlistRepository(db *DB) *AllowlistRepository {
	return &AllowlistRepository{db: db}
}

// normalizeValue stores MAC addresses lower-cased so lookups are plain equality.
func normalizeValue(kind SourceKind, value string) string {
	value = strings.TrimSpace(value)
	if kind == KindMAC {
		return strings.ToLower(value)
	}
	return value
}

// Create inserts a new entry. Returns ErrConflict if value is already listed.
func (r *AllowlistRepository) Create(ctx context.Context, kind SourceKind, value, description string) (*AllowlistEntry, error) {
	e := &AllowlistEntry{
		Kind:        kind,
		Value:       normalizeValue(kind, value),
		Description: description,
	}
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(`
		INSERT INTO maciplist (type, macip, description)
		VALUES (?, ?, ?)
		RETURNING id
	`), string(e.Kind), e.Value, e.Description).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("value %q: %w", e.Value, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create allowlist entry: %w", err)
	}
	return e, nil
}

// Update changes value and description of the entry with id, keeping its kind.
func (r *AllowlistRepository) Update(ctx context.Context, id int64, value, description string) (*AllowlistEntry, error) {
	e := &AllowlistEntry{}
	var kind string
	value = strings.TrimSpace(value)
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(`
		UPDATE maciplist
		SET macip = CASE WHEN type = 'mac' THEN lower(?) ELSE ? END,
		    description = ?
		WHERE id = ?
		RETURNING id, type, macip, description
	`), value, value, description, id).Scan(&e.ID, &kind, &e.Value, &e.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("value %q: %w", value, ErrConflict)
		}
		return nil, fmt.Errorf("failed to update allowlist entry: %w", err)
	}
	e.Kind = SourceKind(kind)
	return e, nil
}

// Delete removes the entry with id. Deleting an absent id is not an error.
func (r *AllowlistRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.SQL.ExecContext(ctx, r.db.rebind("DELETE FROM maciplist WHERE id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete allowlist entry: %w", err)
	}
	return nil
}

// ListByKind returns the entries of one kind in insertion order.
func (r *AllowlistRepository) ListByKind(ctx context.Context, kind SourceKind) ([]*AllowlistEntry, error) {
	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(
		"SELECT id, type, macip, description FROM maciplist WHERE type = ? ORDER BY id"), string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query allowlist: %w", err)
	}
	defer rows.Close()

	var entries []*AllowlistEntry
	for rows.Next() {
		e := &AllowlistEntry{}
		var k string
		if err := rows.Scan(&e.ID, &k, &e.Value, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan allowlist entry: %w", err)
		}
		e.Kind = SourceKind(k)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns how many entries of kind match value exactly.
func (r *AllowlistRepository) Count(ctx context.Context, kind SourceKind, value string) (int, error) {
	var n int
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		"SELECT COUNT(macip) FROM maciplist WHERE type = ? AND macip = ?"), string(kind), value,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count allowlist entries: %w", err)
	}
	return n, nil
}
