package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/servicegate/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const entryCols = `code, name, description, department, workflow_type,
	requires_visit, requires_consultation, allowed_roles, auto_bill, bill_timing,
	amount::text, currency, published_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var roles []string
	var amount string
	err := row.Scan(&e.Code, &e.Name, &e.Description, &e.Department, &e.WorkflowType,
		&e.RequiresVisit, &e.RequiresConsultation, &roles, &e.AutoBill, &e.BillTiming,
		&amount, &e.Currency, &e.PublishedAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount for %s: %w", e.Code, err)
	}
	e.AllowedRoles = make(RoleSet, len(roles))
	for _, name := range roles {
		role, err := ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", e.Code, err)
		}
		e.AllowedRoles[role] = struct{}{}
	}
	return &e, nil
}

func (r *repoPG) GetPublished(ctx context.Context, code string) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM service_catalog_entry WHERE code = $1 AND published_at IS NOT NULL`, code))
}

func (r *repoPG) Get(ctx context.Context, code string) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM service_catalog_entry WHERE code = $1`, code))
}

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO service_catalog_entry (code, name, description, department, workflow_type,
			requires_visit, requires_consultation, allowed_roles, auto_bill, bill_timing, amount, currency)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::numeric,$12)
		RETURNING created_at, updated_at`,
		e.Code, e.Name, e.Description, e.Department, e.WorkflowType,
		e.RequiresVisit, e.RequiresConsultation, e.AllowedRoles.Strings(), e.AutoBill, e.BillTiming,
		e.Amount.String(), e.Currency,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

// ErrPublished is returned when an edit targets a published entry.
var ErrPublished = errors.New("service catalog entry is published and immutable")

func (r *repoPG) UpdateDraft(ctx context.Context, e *Entry) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE service_catalog_entry SET name=$2, description=$3, department=$4, workflow_type=$5,
			requires_visit=$6, requires_consultation=$7, allowed_roles=$8, auto_bill=$9,
			bill_timing=$10, amount=$11::numeric, currency=$12, updated_at=NOW()
		WHERE code = $1 AND published_at IS NULL
		RETURNING created_at, updated_at`,
		e.Code, e.Name, e.Description, e.Department, e.WorkflowType,
		e.RequiresVisit, e.RequiresConsultation, e.AllowedRoles.Strings(), e.AutoBill,
		e.BillTiming, e.Amount.String(), e.Currency,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, e.Code); getErr == nil {
			return ErrPublished
		}
		return ErrNotFound
	}
	return err
}

func (r *repoPG) Publish(ctx context.Context, code string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE service_catalog_entry SET published_at = NOW(), updated_at = NOW()
		WHERE code = $1 AND published_at IS NULL
		RETURNING `+entryCols, code))
	if errors.Is(err, ErrNotFound) {
		existing, getErr := r.Get(ctx, code)
		if getErr != nil {
			return nil, getErr
		}
		return existing, nil
	}
	return e, err
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Entry, int, error) {
	where := goqu.Ex{}
	if filter.Department != "" {
		where["department"] = filter.Department
	}
	if filter.PublishedOnly {
		where["published_at"] = goqu.Op{"isNot": nil}
	}

	countSQL, countArgs, err := dialect.From("service_catalog_entry").Prepared(true).
		Select(goqu.COUNT("*")).Where(where).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build catalog count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL, dataArgs, err := dialect.From("service_catalog_entry").Prepared(true).
		Select(goqu.L(entryCols)).Where(where).
		Order(goqu.I("code").Asc()).Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build catalog list: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
