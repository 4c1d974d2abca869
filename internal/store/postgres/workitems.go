package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

type workItems struct{ db *sql.DB }

const workItemColumns = `id, title, description, status, priority, due_date, owner_contact_id,
    assignee_contact_id, company_id, data, created_at, updated_at`

func scanWorkItem(row rowScanner) (*model.WorkItem, error) {
	var (
		out                               model.WorkItem
		status, priority                  string
		description, owner, assignee, cid sql.NullString
		due                               sql.NullTime
		data                              []byte
	)
	if err := row.Scan(&out.ID, &out.Title, &description, &status, &priority, &due, &owner,
		&assignee, &cid, &data, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	out.Description = str(description)
	out.Status = model.WorkItemStatus(status)
	out.Priority = model.Priority(priority)
	out.DueDate = timePtr(due)
	out.OwnerContactID = str(owner)
	out.AssigneeContactID = str(assignee)
	out.CompanyID = str(cid)
	var err error
	if out.Data, err = decodeMap(data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &out, nil
}

func scanWorkItems(rows *sql.Rows) ([]*model.WorkItem, error) {
	defer func() { _ = rows.Close() }()
	var res []*model.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r *workItems) Create(ctx context.Context, w *model.WorkItem) (*model.WorkItem, error) {
	data, err := jsonMap(w.Data)
	if err != nil {
		return nil, err
	}
	status := w.Status
	if status == "" {
		status = model.StatusPending
	}
	priority := w.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	var id any
	if w.ID != "" {
		id = w.ID
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO work_items (id, title, description, status, priority, due_date, owner_contact_id,
            assignee_contact_id, company_id, data)
        VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING `+workItemColumns,
		id, w.Title, w.Description, string(status), string(priority), nullTime(w.DueDate),
		nullable(w.OwnerContactID), nullable(w.AssigneeContactID), nullable(w.CompanyID), data)
	out, err := scanWorkItem(row)
	if isUniqueViolation(err) {
		return nil, model.ErrConflict
	}
	return out, err
}

func (r *workItems) Get(ctx context.Context, id string) (*model.WorkItem, error) {
	if !validID(id) {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=$1`, id)
	out, err := scanWorkItem(row)
	return out, notFound(err)
}

func (r *workItems) List(ctx context.Context, opts store.ListOptions) ([]*model.WorkItem, error) {
	if !validScope(opts) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+workItemColumns+`
        FROM work_items
        WHERE ($1::uuid IS NULL OR company_id=$1)
          AND ($4::uuid IS NULL OR owner_contact_id=$4 OR assignee_contact_id=$4)
        ORDER BY updated_at DESC
        LIMIT $2 OFFSET $3`, nullable(opts.CompanyID), limitOr(opts.Limit), opts.Offset, nullable(opts.ContactID))
	if err != nil {
		return nil, err
	}
	return scanWorkItems(rows)
}

func (r *workItems) FindBySource(ctx context.Context, interactionID, title string) (*model.WorkItem, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT `+workItemColumns+`
        FROM work_items
        WHERE data->>'source_interaction_id'=$1 AND title=$2
        ORDER BY created_at ASC
        LIMIT 1`, interactionID, title)
	out, err := scanWorkItem(row)
	return out, notFound(err)
}

func (r *workItems) CountOverdue(ctx context.Context, companyID string, now time.Time) (int, error) {
	if !validID(companyID) {
		return 0, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx, `
        SELECT count(*) FROM work_items
        WHERE company_id=$1 AND status <> 'completed' AND due_date < $2`, companyID, now).Scan(&n)
	return n, err
}

func (r *workItems) CountOpenAssigned(ctx context.Context, contactID string) (int, error) {
	if !validID(contactID) {
		return 0, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx, `
        SELECT count(*) FROM work_items
        WHERE assignee_contact_id=$1 AND status <> 'completed'`, contactID).Scan(&n)
	return n, err
}

func (r *workItems) ListOverdueSince(ctx context.Context, from, to time.Time, limit int) ([]*model.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+workItemColumns+`
        FROM work_items
        WHERE status <> 'completed' AND due_date >= $1 AND due_date < $2
        ORDER BY due_date ASC
        LIMIT $3`, from, to, limitOr(limit))
	if err != nil {
		return nil, err
	}
	return scanWorkItems(rows)
}
