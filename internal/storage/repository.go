package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"pnvr/internal/core"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// SQLiteRepository stores convenio budgets and the export job queue.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ListConvenios implements ports.ConvenioLister
func (r *SQLiteRepository) ListConvenios(ctx context.Context) ([]core.Convenio, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, code, name FROM convenios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list convenios: %w", err)
	}
	defer rows.Close()

	var out []core.Convenio
	for rows.Next() {
		var c core.Convenio
		if err := rows.Scan(&c.ID, &c.Code, &c.Name); err != nil {
			return nil, fmt.Errorf("scan convenio: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LoadBudget implements ports.BudgetReader
func (r *SQLiteRepository) LoadBudget(ctx context.Context, convenioID int) (core.BudgetInput, error) {
	var in core.BudgetInput
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, name FROM convenios WHERE id = ?`, convenioID,
	).Scan(&in.Convenio.ID, &in.Convenio.Code, &in.Convenio.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return in, core.ErrConvenioNotFound
	}
	if err != nil {
		return in, fmt.Errorf("get convenio %d: %w", convenioID, err)
	}

	if in.Categories, err = r.categories(ctx, convenioID); err != nil {
		return in, err
	}
	if in.Subcategories, err = r.subcategories(ctx, convenioID); err != nil {
		return in, err
	}
	if in.LineItems, err = r.lineItems(ctx, convenioID); err != nil {
		return in, err
	}
	return in, nil
}

func (r *SQLiteRepository) categories(ctx context.Context, convenioID int) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name FROM categories WHERE convenio_id = ? ORDER BY id`, convenioID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) subcategories(ctx context.Context, convenioID int) ([]core.Subcategory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category_id, name FROM subcategories WHERE convenio_id = ? ORDER BY id`, convenioID)
	if err != nil {
		return nil, fmt.Errorf("list subcategories: %w", err)
	}
	defer rows.Close()

	var out []core.Subcategory
	for rows.Next() {
		var s core.Subcategory
		if err := rows.Scan(&s.ID, &s.CategoryID, &s.Name); err != nil {
			return nil, fmt.Errorf("scan subcategory: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) lineItems(ctx context.Context, convenioID int) ([]core.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, description, unit, quantity, unit_price, total_cost, category_id, subcategory_id
		FROM budget_items
		WHERE convenio_id = ?
		ORDER BY code, id`, convenioID)
	if err != nil {
		return nil, fmt.Errorf("list budget items: %w", err)
	}
	defer rows.Close()

	var out []core.LineItem
	for rows.Next() {
		var (
			li       core.LineItem
			cat, sub sql.NullInt64
		)
		if err := rows.Scan(&li.Code, &li.Description, &li.Unit,
			&li.Quantity, &li.UnitPrice, &li.TotalCost, &cat, &sub); err != nil {
			return nil, fmt.Errorf("scan budget item: %w", err)
		}
		li.CategoryID = intPtr(cat)
		li.SubcategoryID = intPtr(sub)
		out = append(out, li)
	}
	return out, rows.Err()
}

// SaveBudget replaces the stored budget of in.Convenio with in, creating the
// convenio when needed. Rows that fail validation abort the import.
func (r *SQLiteRepository) SaveBudget(ctx context.Context, in core.BudgetInput) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("convenio %d: %w", in.Convenio.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	c := in.Convenio
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO convenios (id, code, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name`,
		c.ID, c.Code, c.Name); err != nil {
		return fmt.Errorf("upsert convenio %d: %w", c.ID, err)
	}

	for _, table := range []string{"budget_items", "subcategories", "categories"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE convenio_id = ?`, c.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, cat := range in.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (convenio_id, id, name) VALUES (?, ?, ?)`,
			c.ID, cat.ID, cat.Name); err != nil {
			return fmt.Errorf("insert category %d: %w", cat.ID, err)
		}
	}
	for _, s := range in.Subcategories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subcategories (convenio_id, id, category_id, name) VALUES (?, ?, ?, ?)`,
			c.ID, s.ID, s.CategoryID, s.Name); err != nil {
			return fmt.Errorf("insert subcategory %d: %w", s.ID, err)
		}
	}
	for _, li := range in.LineItems {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO budget_items
				(convenio_id, code, description, unit, quantity, unit_price, total_cost, category_id, subcategory_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, li.Code, li.Description, li.Unit,
			li.Quantity.String(), li.UnitPrice.String(), nullDecimal(li.TotalCost),
			nullInt(li.CategoryID), nullInt(li.SubcategoryID)); err != nil {
			return fmt.Errorf("insert budget item %q: %w", li.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget saved to SQLite",
		"convenio_id", c.ID,
		"categories", len(in.Categories),
		"subcategories", len(in.Subcategories),
		"items", len(in.LineItems))
	return nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return core.IntPtr(int(v.Int64))
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}
