package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/servicegate/internal/platform/db"
)

const dedupeConstraint = "orders_dedupe_key"

var dialect = goqu.Dialect("postgres")

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

var orderCols = []interface{}{
	"id", "visit_id", "consultation_id", "service_code", "kind", "status", "details",
	"payload_hash", "ordered_by", "ordered_by_role", "created_at", "updated_at",
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var details []byte
	err := row.Scan(&o.ID, &o.VisitID, &o.ConsultationID, &o.ServiceCode, &o.Kind, &o.Status, &details,
		&o.PayloadHash, &o.OrderedBy, &o.OrderedByRole, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Details, err = DecodeDetails(o.Kind, details); err != nil {
		return nil, fmt.Errorf("order %s: %w", o.ID, err)
	}
	return &o, nil
}

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	details, err := json.Marshal(o.Details)
	if err != nil {
		return fmt.Errorf("marshal order details: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO orders (id, visit_id, consultation_id, service_code, kind, status, details,
			payload_hash, ordered_by, ordered_by_role, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.VisitID, o.ConsultationID, o.ServiceCode, o.Kind, o.Status, details,
		o.PayloadHash, o.OrderedBy, o.OrderedByRole, o.CreatedAt, o.UpdatedAt)
	if db.IsUniqueViolation(err, dedupeConstraint) {
		return ErrDuplicate
	}
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	query, args, err := dialect.From("orders").Prepared(true).
		Select(orderCols...).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build order get: %w", err)
	}
	return scanOrder(r.conn(ctx).QueryRow(ctx, query, args...))
}

func (r *repoPG) FindDuplicate(ctx context.Context, o *Order) (*Order, error) {
	return scanOrder(r.conn(ctx).QueryRow(ctx, `
		SELECT id, visit_id, consultation_id, service_code, kind, status, details,
			payload_hash, ordered_by, ordered_by_role, created_at, updated_at
		FROM orders
		WHERE visit_id = $1
		  AND COALESCE(consultation_id, '00000000-0000-0000-0000-000000000000'::uuid)
		      = COALESCE($2::uuid, '00000000-0000-0000-0000-000000000000'::uuid)
		  AND service_code = $3 AND payload_hash = $4`,
		o.VisitID, o.ConsultationID, o.ServiceCode, o.PayloadHash))
}

func (r *repoPG) ListByVisit(ctx context.Context, visitID uuid.UUID, filter ListFilter, limit, offset int) ([]*Order, int, error) {
	where := goqu.Ex{"visit_id": visitID}
	if filter.ServiceCode != "" {
		where["service_code"] = filter.ServiceCode
	}
	if filter.Status != "" {
		where["status"] = filter.Status
	}
	if filter.Kind != "" {
		where["kind"] = filter.Kind
	}

	countSQL, countArgs, err := dialect.From("orders").Prepared(true).
		Select(goqu.COUNT("*")).Where(where).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build order count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL, dataArgs, err := dialect.From("orders").Prepared(true).
		Select(orderCols...).Where(where).
		Order(goqu.I("created_at").Asc(), goqu.I("id").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build order list: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}
