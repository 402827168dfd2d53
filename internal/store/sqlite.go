package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLiteBackend stores collections as rows of the collections table.
type SQLiteBackend struct {
	DB *sql.DB
}

func (b SQLiteBackend) Read(ctx context.Context, name string) (Document, bool, error) {
	var doc Document
	var data string
	err := b.DB.QueryRowContext(ctx, `SELECT version, data_json, updated_at FROM collections WHERE name=?`, name).
		Scan(&doc.Version, &data, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	doc.Data = json.RawMessage(data)
	return doc, true, nil
}

func (b SQLiteBackend) Write(ctx context.Context, name string, data json.RawMessage, updatedAt string, expected int64) (int64, error) {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int64
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT version FROM collections WHERE name=?`, name).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return 0, err
	}
	if expected != AnyVersion && current != expected {
		return 0, fmt.Errorf("%s at version %d, expected %d: %w", name, current, expected, ErrConflict)
	}
	next := current + 1
	if exists {
		res, err := tx.ExecContext(ctx, `UPDATE collections SET version=?, data_json=?, updated_at=? WHERE name=? AND version=?`,
			next, string(data), updatedAt, name, current)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil && n != 1 {
			return 0, fmt.Errorf("%s changed during write: %w", name, ErrConflict)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `INSERT INTO collections(name,version,data_json,updated_at) VALUES (?,?,?,?)`,
			name, next, string(data), updatedAt); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}
