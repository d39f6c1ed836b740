package store

import (
	"context"
	"fmt"
	"time"

	"tippelaget/internal/metrics"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// DepositRow is one extra contribution outside the monthly schedule.
type DepositRow struct {
	ID     int64           `db:"id" json:"id"`
	Date   time.Time       `db:"deposit_date" json:"date"`
	Amount decimal.Decimal `db:"amount" json:"amount"`
	Note   string          `db:"note" json:"note"`
}

type DepositRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewDepositRepo(db *sqlx.DB, timeout time.Duration) *DepositRepo {
	return &DepositRepo{db: db, timeout: timeout}
}

// Add stores a deposit and returns its id.
func (r *DepositRepo) Add(ctx context.Context, d DepositRow) (int64, error) {
	if !d.Amount.IsPositive() {
		return 0, fmt.Errorf("deposit amount must be positive, got %s", d.Amount)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO deposits (deposit_date, amount, note) VALUES ($1, $2, $3) RETURNING id`,
		d.Date, d.Amount, d.Note,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert deposit: %w", err)
	}
	return id, nil
}

// List returns all stored deposits by date.
func (r *DepositRepo) List(ctx context.Context) ([]DepositRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []DepositRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, deposit_date, amount, note FROM deposits ORDER BY deposit_date, id`)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	return rows, nil
}

// Deposits returns the stored rows as metric deposits.
func (r *DepositRepo) Deposits(ctx context.Context) ([]metrics.Deposit, error) {
	rows, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]metrics.Deposit, len(rows))
	for i, row := range rows {
		out[i] = metrics.Deposit{Date: row.Date, Amount: row.Amount}
	}
	return out, nil
}
