package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/servicegate/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

// RepoPG stores the audit trail in the audit_log table. A trigger on the table
// refuses UPDATE and DELETE.
type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *RepoPG) Append(ctx context.Context, e *Entry) error {
	e.prepare(time.Now())
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_log (id, actor, role, action, resource_type, resource_id, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Actor, e.Role, e.Action, e.ResourceType, e.ResourceID, meta, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("append audit entry %s: %w", e.Action, err)
	}
	return nil
}

func (r *RepoPG) List(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, int, error) {
	where := goqu.Ex{}
	if filter.ResourceType != "" {
		where["resource_type"] = filter.ResourceType
	}
	if filter.ResourceID != "" {
		where["resource_id"] = filter.ResourceID
	}
	if filter.Action != "" {
		where["action"] = filter.Action
	}
	if filter.Actor != "" {
		where["actor"] = filter.Actor
	}

	countSQL, countArgs, err := dialect.From("audit_log").Prepared(true).
		Select(goqu.COUNT("*")).Where(where).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build audit count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL, dataArgs, err := dialect.From("audit_log").Prepared(true).
		Select("id", "actor", "role", "action", "resource_type", "resource_id", "metadata", "recorded_at").
		Where(where).
		Order(goqu.I("recorded_at").Asc(), goqu.I("id").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build audit list: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.Actor, &e.Role, &e.Action, &e.ResourceType, &e.ResourceID, &meta, &e.RecordedAt); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode audit metadata %s: %w", e.ID, err)
			}
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}
