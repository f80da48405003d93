package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/aire/internal/models"
)

// UsageRepository is the MySQL-backed gate store.
type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) DB() *sql.DB {
	return r.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUsage(row rowScanner) (models.UsageRecord, error) {
	var rec models.UsageRecord
	var unlocked int
	var source string
	if err := row.Scan(&rec.Identity, &rec.FreeUsesConsumed, &unlocked, &source, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return models.UsageRecord{}, err
	}
	rec.Unlocked = unlocked != 0
	rec.UnlockSource = models.UnlockSource(source)
	if rec.UnlockSource == "" {
		rec.UnlockSource = models.UnlockNone
	}
	return rec, nil
}

func (r *UsageRepository) Get(ctx context.Context, identity string) (models.UsageRecord, bool, error) {
	const query = `
SELECT identity, free_uses_consumed, unlocked, unlock_source, created_at, updated_at
FROM usage_records WHERE identity = ?`
	rec, err := scanUsage(r.db.QueryRowContext(ctx, query, identity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UsageRecord{}, false, nil
		}
		return models.UsageRecord{}, false, fmt.Errorf("scan usage record: %w", err)
	}
	return rec, true, nil
}

// Ensure creates the record on first sight and returns the current row.
func (r *UsageRepository) Ensure(ctx context.Context, identity string) (models.UsageRecord, error) {
	const insert = `INSERT IGNORE INTO usage_records (identity) VALUES (?)`
	if _, err := r.db.ExecContext(ctx, insert, identity); err != nil {
		return models.UsageRecord{}, fmt.Errorf("insert usage record: %w", err)
	}
	rec, found, err := r.Get(ctx, identity)
	if err != nil {
		return models.UsageRecord{}, err
	}
	if !found {
		return models.UsageRecord{}, fmt.Errorf("usage record for %s vanished after insert", identity)
	}
	return rec, nil
}

// Update locks the identity's row for the duration of fn, so a concurrent
// check-and-increment for the same identity waits for this one to commit.
func (r *UsageRepository) Update(ctx context.Context, identity string, fn func(rec *models.UsageRecord) error) (models.UsageRecord, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT IGNORE INTO usage_records (identity) VALUES (?)`, identity); err != nil {
		return models.UsageRecord{}, fmt.Errorf("insert usage record: %w", err)
	}

	const lock = `
SELECT identity, free_uses_consumed, unlocked, unlock_source, created_at, updated_at
FROM usage_records WHERE identity = ? FOR UPDATE`
	current, err := scanUsage(tx.QueryRowContext(ctx, lock, identity))
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("lock usage record: %w", err)
	}

	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	if next == current {
		if err := tx.Commit(); err != nil {
			return models.UsageRecord{}, fmt.Errorf("commit usage tx: %w", err)
		}
		return current, nil
	}

	unlocked := 0
	if next.Unlocked {
		unlocked = 1
	}
	const update = `
UPDATE usage_records SET free_uses_consumed = ?, unlocked = ?, unlock_source = ?, updated_at = NOW()
WHERE identity = ?`
	if _, err := tx.ExecContext(ctx, update, next.FreeUsesConsumed, unlocked, string(next.UnlockSource), identity); err != nil {
		return models.UsageRecord{}, fmt.Errorf("update usage record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.UsageRecord{}, fmt.Errorf("commit usage tx: %w", err)
	}
	return next, nil
}
