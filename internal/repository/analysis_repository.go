package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/aire/internal/models"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Append stores a.CreatedAt at microsecond precision; seq breaks ties so
// listing order matches insert order.
func (r *AnalysisRepository) Append(ctx context.Context, a *models.Analysis) error {
	const query = `
INSERT INTO analyses (id, identity, address, rate_env, score, grade, verdict, stress_dscr, kill_switch, report_url, inputs_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)`
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	killed := 0
	if a.KillSwitch {
		killed = 1
	}
	if _, err := r.db.ExecContext(ctx, query, a.ID, a.Identity, a.Address, string(a.RateEnv), a.Score, a.Grade, a.Verdict, a.StressDSCR, killed, a.ReportURL, a.InputsJSON, a.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) ListByIdentity(ctx context.Context, identity string, limit int) ([]models.Analysis, error) {
	const query = `
SELECT id, identity, address, rate_env, score, grade, verdict, stress_dscr, kill_switch, COALESCE(report_url, ''), COALESCE(inputs_json, ''), created_at
FROM analyses WHERE identity = ?
ORDER BY created_at DESC, seq DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []models.Analysis
	for rows.Next() {
		var a models.Analysis
		var rateEnv string
		var killed int
		if err := rows.Scan(&a.ID, &a.Identity, &a.Address, &rateEnv, &a.Score, &a.Grade, &a.Verdict, &a.StressDSCR, &killed, &a.ReportURL, &a.InputsJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		a.RateEnv = models.RateEnv(rateEnv)
		a.KillSwitch = killed != 0
		out = append(out, a)
	}
	return out, rows.Err()
}
