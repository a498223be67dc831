package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const templateColumns = "id, cname, endpt, docname, extname, uptime"

// Repository provides CRUD operations for template metadata.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new template record and sets its ID.
// Returns ErrConflict if the endpoint is already taken.
func (r *Repository) Create(ctx context.Context, t *Template) error {
	return r.create(ctx, r.db.SQL, t)
}

// CreateWith inserts t and runs beforeCommit inside the same transaction,
// so a failing beforeCommit leaves no row behind.
func (r *Repository) CreateWith(ctx context.Context, t *Template, beforeCommit func() error) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.create(ctx, tx, t); err != nil {
			return err
		}
		return beforeCommit()
	})
}

func (r *Repository) create(ctx context.Context, q querier, t *Template) error {
	err := q.QueryRowContext(ctx, r.db.rebind(`
		INSERT INTO repository (endpt, extname, cname, docname, uptime)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`),
		t.Endpoint,
		t.Extension,
		t.Category,
		t.DisplayName,
		t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("endpoint %q: %w", t.Endpoint, ErrConflict)
		}
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByEndpoint retrieves a template by its endpoint.
func (r *Repository) GetByEndpoint(ctx context.Context, endpoint string) (*Template, error) {
	t := &Template{}
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		"SELECT "+templateColumns+" FROM repository WHERE endpt = ?"), endpoint,
	).Scan(
		&t.ID,
		&t.Category,
		&t.Endpoint,
		&t.DisplayName,
		&t.Extension,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// DeleteByEndpoint removes the template record for endpoint.
// Deleting an absent endpoint is not an error.
func (r *Repository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	return r.deleteByEndpoint(ctx, r.db.SQL, endpoint)
}

func (r *Repository) deleteByEndpoint(ctx context.Context, q querier, endpoint string) error {
	if _, err := q.ExecContext(ctx, r.db.rebind("DELETE FROM repository WHERE endpt = ?"), endpoint); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

// Replace deletes any record for t.Endpoint and inserts t in a single
// transaction. beforeCommit, when non-nil, runs after the insert; an error
// from it rolls everything back.
func (r *Repository) Replace(ctx context.Context, t *Template, beforeCommit func() error) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.deleteByEndpoint(ctx, tx, t.Endpoint); err != nil {
			return err
		}
		if err := r.create(ctx, tx, t); err != nil {
			return err
		}
		if beforeCommit != nil {
			return beforeCommit()
		}
		return nil
	})
}

// List returns every template ordered by category, then insertion order.
func (r *Repository) List(ctx context.Context) ([]*Template, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM repository ORDER BY cname, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t := &Template{}
		if err := rows.Scan(
			&t.ID,
			&t.Category,
			&t.Endpoint,
			&t.DisplayName,
			&t.Extension,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}
