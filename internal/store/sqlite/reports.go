package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/shopspring/decimal"
)

// Reports archives daily reports in SQLite.
type Reports struct {
	db *sqlx.DB
}

func NewReports(db *sqlx.DB) *Reports {
	return &Reports{db: db}
}

func (r *Reports) Close() error {
	return r.db.Close()
}

type reportRow struct {
	Date          string    `db:"date"`
	Requests      int64     `db:"requests"`
	Tokens        int64     `db:"tokens"`
	Cost          string    `db:"cost"`
	UniqueCallers int64     `db:"unique_callers"`
	Models        string    `db:"models"`
	GeneratedAt   time.Time `db:"generated_at"`
}

func (r *Reports) SaveReport(ctx context.Context, report api.DailyReport) error {
	models, err := json.Marshal(report.Models)
	if err != nil {
		return fmt.Errorf("failed to serialize models: %w", err)
	}

	row := reportRow{
		Date:          report.Date,
		Requests:      report.Requests,
		Tokens:        report.Tokens,
		Cost:          report.Cost.String(),
		UniqueCallers: report.UniqueCallers,
		Models:        string(models),
		GeneratedAt:   report.GeneratedAt.UTC(),
	}

	query := `
		INSERT INTO daily_reports (date, requests, tokens, cost, unique_callers, models, generated_at)
		VALUES (:date, :requests, :tokens, :cost, :unique_callers, :models, :generated_at)
		ON CONFLICT(date) DO UPDATE SET
			requests = excluded.requests,
			tokens = excluded.tokens,
			cost = excluded.cost,
			unique_callers = excluded.unique_callers,
			models = excluded.models,
			generated_at = excluded.generated_at`
	_, err = r.db.NamedExecContext(ctx, query, row)
	return err
}

func (r *Reports) GetReport(ctx context.Context, day string) (*api.DailyReport, bool, error) {
	var row reportRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM daily_reports WHERE date = ?`, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	cost, err := decimal.NewFromString(row.Cost)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cost for %s: %w", day, err)
	}
	report := &api.DailyReport{
		Date:          row.Date,
		Requests:      row.Requests,
		Tokens:        row.Tokens,
		Cost:          cost,
		UniqueCallers: row.UniqueCallers,
		GeneratedAt:   row.GeneratedAt,
	}
	if err := json.Unmarshal([]byte(row.Models), &report.Models); err != nil {
		return nil, false, fmt.Errorf("corrupt models for %s: %w", day, err)
	}
	return report, true, nil
}

func (r *Reports) DeleteReportsBefore(ctx context.Context, day string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM daily_reports WHERE date < ?`, day)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
