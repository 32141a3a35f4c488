// Package postgres reads convenio budgets from the program's Postgres
// database. It never writes; imports and export jobs stay in SQLite.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pnvr/internal/core"
)

// Reader implements ports.BudgetReader and ports.ConvenioLister.
type Reader struct {
	pool *pgxpool.Pool
}

func NewReader(ctx context.Context, dsn string) (*Reader, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Reader{pool: pool}, nil
}

func (r *Reader) Close() error {
	r.pool.Close()
	return nil
}

func (r *Reader) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Reader) ListConvenios(ctx context.Context) ([]core.Convenio, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name FROM convenios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list convenios: %w", err)
	}
	convenios, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Convenio, error) {
		var c core.Convenio
		err := row.Scan(&c.ID, &c.Code, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan convenios: %w", err)
	}
	return convenios, nil
}

func (r *Reader) LoadBudget(ctx context.Context, convenioID int) (core.BudgetInput, error) {
	var in core.BudgetInput
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name FROM convenios WHERE id = $1`, convenioID,
	).Scan(&in.Convenio.ID, &in.Convenio.Code, &in.Convenio.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return in, core.ErrConvenioNotFound
	}
	if err != nil {
		return in, fmt.Errorf("get convenio %d: %w", convenioID, err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, name FROM categories WHERE convenio_id = $1 ORDER BY id`, convenioID)
	if err != nil {
		return in, fmt.Errorf("list categories: %w", err)
	}
	in.Categories, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Category, error) {
		var c core.Category
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
	if err != nil {
		return in, fmt.Errorf("scan categories: %w", err)
	}

	rows, err = r.pool.Query(ctx,
		`SELECT id, category_id, name FROM subcategories WHERE convenio_id = $1 ORDER BY id`, convenioID)
	if err != nil {
		return in, fmt.Errorf("list subcategories: %w", err)
	}
	in.Subcategories, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Subcategory, error) {
		var s core.Subcategory
		err := row.Scan(&s.ID, &s.CategoryID, &s.Name)
		return s, err
	})
	if err != nil {
		return in, fmt.Errorf("scan subcategories: %w", err)
	}

	// Numerics travel as text so no precision is lost on the way to decimal.
	rows, err = r.pool.Query(ctx, `
		SELECT code, description, unit,
		       quantity::text, unit_price::text, total_cost::text,
		       category_id, subcategory_id
		FROM budget_items
		WHERE convenio_id = $1
		ORDER BY code, id`, convenioID)
	if err != nil {
		return in, fmt.Errorf("list budget items: %w", err)
	}
	in.LineItems, err = pgx.CollectRows(rows, scanLineItem)
	if err != nil {
		return in, fmt.Errorf("scan budget items: %w", err)
	}
	return in, nil
}

func scanLineItem(row pgx.CollectableRow) (core.LineItem, error) {
	var (
		li              core.LineItem
		qty, price      string
		total           *string
		catID, subcatID *int32
	)
	if err := row.Scan(&li.Code, &li.Description, &li.Unit, &qty, &price, &total, &catID, &subcatID); err != nil {
		return li, err
	}
	var err error
	if li.Quantity, li.UnitPrice, li.TotalCost, err = parseAmounts(qty, price, total); err != nil {
		return li, fmt.Errorf("item %q: %w", li.Code, err)
	}
	li.CategoryID = widen(catID)
	li.SubcategoryID = widen(subcatID)
	return li, nil
}

// parseAmounts converts the text form of the numeric columns.
func parseAmounts(qty, price string, total *string) (decimal.Decimal, decimal.Decimal, decimal.NullDecimal, error) {
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return q, decimal.Zero, decimal.NullDecimal{}, fmt.Errorf("quantity: %w", err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return q, p, decimal.NullDecimal{}, fmt.Errorf("unit price: %w", err)
	}
	if total == nil {
		return q, p, decimal.NullDecimal{}, nil
	}
	t, err := decimal.NewFromString(*total)
	if err != nil {
		return q, p, decimal.NullDecimal{}, fmt.Errorf("total cost: %w", err)
	}
	return q, p, decimal.NewNullDecimal(t), nil
}

func widen(v *int32) *int {
	if v == nil {
		return nil
	}
	return core.IntPtr(int(*v))
}
