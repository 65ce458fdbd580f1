package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresSubmissionRepo records every transaction the gateway sends to the
// ledger, one row per submission.
type PostgresSubmissionRepo struct {
	db *sqlx.DB
}

func NewPostgresSubmissionRepo(db *sqlx.DB) *PostgresSubmissionRepo {
	repo := &PostgresSubmissionRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresSubmissionRepo) Insert(ctx context.Context, rec *model.SubmissionRecord) error {
	if rec == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions (
			id, op, order_hash, contract, maker, sender,
			qty, tx_hash, block, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10
		)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Op, rec.OrderHash, rec.Contract, rec.Maker, rec.Sender,
		rec.Qty, rec.TxHash, rec.Block, rec.CreatedAt)
	return err
}

func (r *PostgresSubmissionRepo) List(ctx context.Context, maker string, limit int, from, to *time.Time) ([]*model.SubmissionRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, op, order_hash, contract, maker, sender, qty, tx_hash, block, created_at FROM submissions`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if maker != "" {
		clauses = append(clauses, fmt.Sprintf("maker = $%d", idx))
		args = append(args, maker)
		idx++
	}
	if from != nil {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, *from)
		idx++
	}
	if to != nil {
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, *to)
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	records := make([]*model.SubmissionRecord, 0, limit)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *PostgresSubmissionRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			op TEXT,
			order_hash TEXT,
			contract TEXT,
			maker TEXT,
			sender TEXT,
			qty TEXT,
			tx_hash TEXT,
			block BIGINT,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_submissions_maker ON submissions(maker, created_at DESC)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_submissions_order ON submissions(order_hash)`)
	return nil
}

func (r *PostgresSubmissionRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM submissions WHERE created_at < $1`, cutoff)
	return err
}
