package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/servicegate/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const lineItemCols = `id, visit_id, consultation_id, service_catalog_code, amount::text, paid_amount::text,
	currency, bill_status, linked_order_id, created_at, updated_at, paid_at`

func scanLineItem(row pgx.Row) (*LineItem, error) {
	var li LineItem
	var amount, paid string
	err := row.Scan(&li.ID, &li.VisitID, &li.ConsultationID, &li.ServiceCatalogCode, &amount, &paid,
		&li.Currency, &li.BillStatus, &li.LinkedOrderID, &li.CreatedAt, &li.UpdatedAt, &li.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if li.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount of %s: %w", li.ID, err)
	}
	if li.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return nil, fmt.Errorf("parse paid amount of %s: %w", li.ID, err)
	}
	return &li, nil
}

func (r *repoPG) Create(ctx context.Context, li *LineItem) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO billing_line_item (id, visit_id, consultation_id, service_catalog_code, amount,
			paid_amount, currency, bill_status, linked_order_id, created_at, updated_at, paid_at)
		VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7,$8,$9,$10,$11,$12)`,
		li.ID, li.VisitID, li.ConsultationID, li.ServiceCatalogCode, li.Amount.String(),
		li.PaidAmount.String(), li.Currency, li.BillStatus, li.LinkedOrderID, li.CreatedAt, li.UpdatedAt, li.PaidAt)
	if err != nil {
		return fmt.Errorf("insert line item for order %s: %w", li.LinkedOrderID, err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	return scanLineItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lineItemCols+` FROM billing_line_item WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	return scanLineItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lineItemCols+` FROM billing_line_item WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) GetByOrder(ctx context.Context, orderID uuid.UUID) (*LineItem, error) {
	return scanLineItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lineItemCols+` FROM billing_line_item WHERE linked_order_id = $1`, orderID))
}

func (r *repoPG) Update(ctx context.Context, li *LineItem) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE billing_line_item
		SET amount = $2::numeric, paid_amount = $3::numeric, bill_status = $4, updated_at = $5, paid_at = $6
		WHERE id = $1 AND bill_status <> 'PAID'`,
		li.ID, li.Amount.String(), li.PaidAmount.String(), li.BillStatus, li.UpdatedAt, li.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &InvariantViolation{LineItemID: li.ID, Op: "update", Reason: "row is PAID or missing"}
	}
	return nil
}

func (r *repoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineItemCols+` FROM billing_line_item WHERE visit_id = $1 ORDER BY created_at, id`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}
