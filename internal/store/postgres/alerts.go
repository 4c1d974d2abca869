package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

type alerts struct{ db *sql.DB }

const alertColumns = `id, entity_type, entity_id, severity, status, message, data, company_id, contact_id,
    created_at, updated_at, resolved_at`

func scanAlert(row rowScanner) (*model.Alert, error) {
	var (
		out                     model.Alert
		entityType, sev, status string
		companyID, contactID    sql.NullString
		resolved                sql.NullTime
		data                    []byte
	)
	if err := row.Scan(&out.ID, &entityType, &out.EntityID, &sev, &status, &out.Message, &data,
		&companyID, &contactID, &out.CreatedAt, &out.UpdatedAt, &resolved); err != nil {
		return nil, err
	}
	out.EntityType = model.EntityType(entityType)
	out.Severity = model.Severity(sev)
	out.Status = model.AlertStatus(status)
	out.CompanyID = str(companyID)
	out.ContactID = str(contactID)
	out.ResolvedAt = timePtr(resolved)
	var err error
	if out.Data, err = decodeMap(data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &out, nil
}

func (r *alerts) FindOpen(ctx context.Context, entityType model.EntityType, entityID string) (*model.Alert, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT `+alertColumns+` FROM alerts
        WHERE entity_type=$1 AND entity_id=$2 AND status='open'
        ORDER BY created_at ASC LIMIT 1`, string(entityType), entityID)
	out, err := scanAlert(row)
	return out, notFound(err)
}

func (r *alerts) Insert(ctx context.Context, a *model.Alert) (*model.Alert, error) {
	data, err := jsonMap(a.Data)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO alerts (entity_type, entity_id, severity, status, message, data, company_id, contact_id)
        VALUES ($1, $2, $3, 'open', $4, $5, $6, $7)
        RETURNING `+alertColumns,
		string(a.EntityType), a.EntityID, string(a.Severity), a.Message, data, nullable(a.CompanyID), nullable(a.ContactID))
	out, err := scanAlert(row)
	if isUniqueViolation(err) {
		return nil, model.ErrConflict
	}
	return out, err
}

func (r *alerts) UpdateOpen(ctx context.Context, a *model.Alert) error {
	if !validID(a.ID) {
		return model.ErrNotFound
	}
	data, err := jsonMap(a.Data)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE alerts
        SET severity=$2, message=$3, data=$4, company_id=$5, contact_id=$6, updated_at=now()
        WHERE id=$1`, a.ID, string(a.Severity), a.Message, data, nullable(a.CompanyID), nullable(a.ContactID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *alerts) ResolveByEntity(ctx context.Context, entityType model.EntityType, entityID string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE alerts SET status='resolved', resolved_at=$3, updated_at=$3
        WHERE entity_type=$1 AND entity_id=$2 AND status='open'`, string(entityType), entityID, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *alerts) ResolveByID(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return model.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE alerts SET status='resolved', resolved_at=$2, updated_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *alerts) Get(ctx context.Context, id string) (*model.Alert, error) {
	if !validID(id) {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, id)
	out, err := scanAlert(row)
	return out, notFound(err)
}

func (r *alerts) List(ctx context.Context, f model.AlertFilter) (*model.AlertPage, error) {
	if (f.CompanyID != "" && !validID(f.CompanyID)) || (f.ContactID != "" && !validID(f.ContactID)) {
		return &model.AlertPage{}, nil
	}
	var conds []string
	var args []any
	add := func(col string, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	add("status", string(f.Status))
	add("severity", string(f.Severity))
	add("entity_type", string(f.EntityType))
	add("company_id", f.CompanyID)
	add("contact_id", f.ContactID)
	where := "TRUE"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM alerts WHERE `+where, args...).Scan(&count); err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	pageArgs := append(append([]any{}, args...), limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
        SELECT %s FROM alerts WHERE %s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d`, alertColumns, where, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := &model.AlertPage{Count: count}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out.Data = append(out.Data, a)
	}
	return out, rows.Err()
}

func (r *alerts) CountOpen(ctx context.Context, scope store.Scope) (int, error) {
	if !scopeValid(scope) {
		return 0, nil
	}
	where, args := scopeClause(scope, 1)
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM alerts WHERE status='open' AND `+where, args...).Scan(&n)
	return n, err
}
