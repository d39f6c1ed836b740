package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tippelaget/internal/bets"

	"github.com/jmoiron/sqlx"
)

const upsertBetSQL = `
	INSERT INTO bets (id, player, gameweek, record, synced_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (id) DO UPDATE SET
		player = EXCLUDED.player,
		gameweek = EXCLUDED.gameweek,
		record = EXCLUDED.record,
		synced_at = EXCLUDED.synced_at`

// BetRepo mirrors raw bet records in Postgres.
type BetRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewBetRepo(db *sqlx.DB, timeout time.Duration) *BetRepo {
	return &BetRepo{db: db, timeout: timeout}
}

// Upsert writes records keyed by id in one transaction. Records without an id
// are rejected before anything is written.
func (r *BetRepo) Upsert(ctx context.Context, records []bets.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	type row struct {
		id, player, gameweek string
		raw                  []byte
	}
	rows := make([]row, 0, len(records))
	for i, rec := range records {
		id, player, gameweek := rec.Identity()
		if id == "" {
			return 0, fmt.Errorf("record %d has no id", i)
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("encode record %s: %w", id, err)
		}
		rows = append(rows, row{id: id, player: player, gameweek: gameweek, raw: raw})
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, upsertBetSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rw := range rows {
		if _, err := stmt.ExecContext(ctx, rw.id, rw.player, rw.gameweek, rw.raw); err != nil {
			return 0, fmt.Errorf("upsert bet %s: %w", rw.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(rows), nil
}

// List returns every mirrored record in first-synced order.
func (r *BetRepo) List(ctx context.Context) ([]bets.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var raws [][]byte
	if err := r.db.SelectContext(ctx, &raws, `SELECT record FROM bets ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("list bets: %w", err)
	}

	out := make([]bets.Record, 0, len(raws))
	for i, raw := range raws {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var rec bets.Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode bet row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of mirrored bets.
func (r *BetRepo) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM bets`); err != nil {
		return 0, fmt.Errorf("count bets: %w", err)
	}
	return n, nil
}
