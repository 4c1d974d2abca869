package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

type interactions struct{ db *sql.DB }

const interactionColumns = `id, channel, occurred_at, notes, participants, budget::float8, currency,
    requirements, kpis, deadline, company_id, contact_id, data, created_at, updated_at`

func scanInteraction(row rowScanner) (*model.Interaction, error) {
	var (
		out                                   model.Interaction
		channel                               string
		notes, currency, companyID, contactID sql.NullString
		budget                                sql.NullFloat64
		deadline                              sql.NullTime
		participants, reqs, kpis, data        []byte
	)
	if err := row.Scan(&out.ID, &channel, &out.OccurredAt, &notes, &participants, &budget, &currency,
		&reqs, &kpis, &deadline, &companyID, &contactID, &data, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	out.Channel = model.ParseChannel(channel)
	out.Notes = str(notes)
	out.CompanyID = str(companyID)
	out.ContactID = str(contactID)
	out.Deadline = timePtr(deadline)
	if budget.Valid {
		b := budget.Float64
		out.Budget = &b
	}
	if currency.Valid {
		c := currency.String
		out.Currency = &c
	}
	var err error
	if out.Participants, err = decodeList(participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	if out.Requirements, err = decodeList(reqs); err != nil {
		return nil, fmt.Errorf("decode requirements: %w", err)
	}
	if out.KPIs, err = decodeList(kpis); err != nil {
		return nil, fmt.Errorf("decode kpis: %w", err)
	}
	if out.Data, err = decodeMap(data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &out, nil
}

func (r *interactions) Create(ctx context.Context, in *model.Interaction) (*model.Interaction, error) {
	participants, err := jsonList(in.Participants)
	if err != nil {
		return nil, err
	}
	reqs, err := jsonList(in.Requirements)
	if err != nil {
		return nil, err
	}
	kpis, err := jsonList(in.KPIs)
	if err != nil {
		return nil, err
	}
	data, err := jsonMap(in.Data)
	if err != nil {
		return nil, err
	}
	channel := in.Channel
	if channel == "" {
		channel = model.ChannelOther
	}
	var occurred any
	if !in.OccurredAt.IsZero() {
		occurred = in.OccurredAt
	}
	var id any
	if in.ID != "" {
		id = in.ID
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO interactions (id, channel, occurred_at, notes, participants, budget, currency,
            requirements, kpis, deadline, company_id, contact_id, data)
        VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, COALESCE($3::timestamptz, now()), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING `+interactionColumns,
		id, string(channel), occurred, in.Notes, participants, in.Budget, in.Currency,
		reqs, kpis, nullTime(in.Deadline), nullable(in.CompanyID), nullable(in.ContactID), data)
	out, err := scanInteraction(row)
	if isUniqueViolation(err) {
		return nil, model.ErrConflict
	}
	return out, err
}

func (r *interactions) Get(ctx context.Context, id string) (*model.Interaction, error) {
	if !validID(id) {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id=$1`, id)
	out, err := scanInteraction(row)
	return out, notFound(err)
}

func (r *interactions) List(ctx context.Context, opts store.ListOptions) ([]*model.Interaction, error) {
	if !validScope(opts) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+interactionColumns+`
        FROM interactions
        WHERE ($1::uuid IS NULL OR company_id=$1)
          AND ($4::uuid IS NULL OR contact_id=$4)
        ORDER BY occurred_at DESC
        LIMIT $2 OFFSET $3`, nullable(opts.CompanyID), limitOr(opts.Limit), opts.Offset, nullable(opts.ContactID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (r *interactions) ApplyAnalysis(ctx context.Context, id string, p model.InteractionPatch) error {
	if !validID(id) {
		return model.ErrNotFound
	}
	var reqs, kpis any
	if len(p.Requirements) > 0 {
		b, err := jsonList(p.Requirements)
		if err != nil {
			return err
		}
		reqs = b
	}
	if len(p.KPIs) > 0 {
		b, err := jsonList(p.KPIs)
		if err != nil {
			return err
		}
		kpis = b
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE interactions SET
            budget       = COALESCE($2, budget),
            currency     = COALESCE($3, currency),
            requirements = COALESCE($4::jsonb, requirements),
            kpis         = COALESCE($5::jsonb, kpis),
            deadline     = COALESCE($6, deadline),
            updated_at   = now()
        WHERE id=$1`, id, p.Budget, p.Currency, reqs, kpis, nullTime(p.Deadline))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *interactions) CountSince(ctx context.Context, scope store.Scope, since time.Time) (int, error) {
	if !scopeValid(scope) {
		return 0, nil
	}
	where, args := scopeClause(scope, 2)
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM interactions WHERE occurred_at >= $1 AND `+where,
		append([]any{since}, args...)...).Scan(&n)
	return n, err
}

func (r *interactions) LastOccurredAt(ctx context.Context, scope store.Scope, since time.Time) (*time.Time, error) {
	if !scopeValid(scope) {
		return nil, nil
	}
	where, args := scopeClause(scope, 2)
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT max(occurred_at) FROM interactions WHERE occurred_at >= $1 AND `+where,
		append([]any{since}, args...)...).Scan(&last)
	if err != nil {
		return nil, err
	}
	return timePtr(last), nil
}

func (r *interactions) CountWithBudget(ctx context.Context, companyID string) (int, error) {
	if !validID(companyID) {
		return 0, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM interactions WHERE company_id=$1 AND budget IS NOT NULL`, companyID).Scan(&n)
	return n, err
}
