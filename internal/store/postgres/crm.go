package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

// --- Contacts ---

type contacts struct{ db *sql.DB }

const contactColumns = `id, name, email, phone, company, company_id, sentiment, health_score, health_notes,
    data, created_at, updated_at`

func scanContact(row rowScanner) (*model.Contact, error) {
	var (
		out                                    model.Contact
		name, email, phone, company, companyID sql.NullString
		sentiment, notes                       sql.NullString
		score                                  sql.NullInt64
		data                                   []byte
	)
	if err := row.Scan(&out.ID, &name, &email, &phone, &company, &companyID, &sentiment, &score, &notes,
		&data, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	out.Name = str(name)
	out.Email = str(email)
	out.Phone = str(phone)
	out.Company = str(company)
	out.CompanyID = str(companyID)
	out.Sentiment = model.Sentiment(str(sentiment))
	out.HealthScore = intPtr(score)
	out.HealthNotes = str(notes)
	var err error
	if out.Data, err = decodeMap(data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &out, nil
}

func (r *contacts) Create(ctx context.Context, c *model.Contact) (*model.Contact, error) {
	data, err := jsonMap(c.Data)
	if err != nil {
		return nil, err
	}
	var id any
	if c.ID != "" {
		id = c.ID
	}
	var score any
	if c.HealthScore != nil {
		score = *c.HealthScore
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO contacts (id, name, email, phone, company, company_id, sentiment, health_score, health_notes, data)
        VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING `+contactColumns,
		id, nullable(c.Name), nullable(c.Email), nullable(c.Phone), nullable(c.Company), nullable(c.CompanyID),
		nullable(string(c.Sentiment)), score, nullable(c.HealthNotes), data)
	out, err := scanContact(row)
	if isUniqueViolation(err) {
		return nil, model.ErrConflict
	}
	return out, err
}

func (r *contacts) Get(ctx context.Context, id string) (*model.Contact, error) {
	if !validID(id) {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id=$1`, id)
	out, err := scanContact(row)
	return out, notFound(err)
}

func (r *contacts) FindByEmail(ctx context.Context, email string) (*model.Contact, error) {
	if email == "" {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT `+contactColumns+` FROM contacts
        WHERE lower(email)=lower($1)
        ORDER BY created_at ASC LIMIT 1`, email)
	out, err := scanContact(row)
	return out, notFound(err)
}

func (r *contacts) FindByName(ctx context.Context, name string) (*model.Contact, error) {
	if name == "" {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT `+contactColumns+` FROM contacts
        WHERE name=$1
        ORDER BY created_at ASC LIMIT 1`, name)
	out, err := scanContact(row)
	return out, notFound(err)
}

func (r *contacts) List(ctx context.Context, opts store.ListOptions) ([]*model.Contact, error) {
	if opts.CompanyID != "" && !validID(opts.CompanyID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+contactColumns+`
        FROM contacts
        WHERE ($1::uuid IS NULL OR company_id=$1)
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`, nullable(opts.CompanyID), limitOr(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *contacts) Touch(ctx context.Context, id string, sentiment model.Sentiment, at time.Time) error {
	return execOne(ctx, r.db, id, `UPDATE contacts SET sentiment=$2, updated_at=$3 WHERE id=$1`,
		id, nullable(string(sentiment)), at)
}

func (r *contacts) LinkCompany(ctx context.Context, id, companyID string) error {
	if !validID(companyID) {
		return model.ErrNotFound
	}
	return execOne(ctx, r.db, id, `UPDATE contacts SET company_id=$2, updated_at=now() WHERE id=$1`, id, companyID)
}

func (r *contacts) UpdateHealth(ctx context.Context, id string, score int, notes string) error {
	return execOne(ctx, r.db, id, `UPDATE contacts SET health_score=$2, health_notes=$3 WHERE id=$1`, id, score, notes)
}

// execOne runs an update keyed by id and maps "no row touched" to ErrNotFound.
func execOne(ctx context.Context, db *sql.DB, id, query string, args ...any) error {
	if !validID(id) {
		return model.ErrNotFound
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Companies ---

type companies struct{ db *sql.DB }

const companyColumns = `id, name, domain, industry, sentiment, health_score, health_notes, created_at, updated_at`

func scanCompany(row rowScanner) (*model.Company, error) {
	var (
		out                                model.Company
		domain, industry, sentiment, notes sql.NullString
		score                              sql.NullInt64
	)
	if err := row.Scan(&out.ID, &out.Name, &domain, &industry, &sentiment, &score, &notes,
		&out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	out.Domain = str(domain)
	out.Industry = str(industry)
	out.Sentiment = model.Sentiment(str(sentiment))
	out.HealthScore = intPtr(score)
	out.HealthNotes = str(notes)
	return &out, nil
}

func (r *companies) Create(ctx context.Context, c *model.Company) (*model.Company, error) {
	var id any
	if c.ID != "" {
		id = c.ID
	}
	var score any
	if c.HealthScore != nil {
		score = *c.HealthScore
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO companies (id, name, domain, industry, sentiment, health_score, health_notes)
        VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
        RETURNING `+companyColumns,
		id, c.Name, nullable(c.Domain), nullable(c.Industry), nullable(string(c.Sentiment)), score, nullable(c.HealthNotes))
	out, err := scanCompany(row)
	if isUniqueViolation(err) {
		return nil, model.ErrConflict
	}
	return out, err
}

func (r *companies) Get(ctx context.Context, id string) (*model.Company, error) {
	if !validID(id) {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id=$1`, id)
	out, err := scanCompany(row)
	return out, notFound(err)
}

func (r *companies) List(ctx context.Context, opts store.ListOptions) ([]*model.Company, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+companyColumns+` FROM companies
        ORDER BY name ASC, created_at ASC
        LIMIT $1 OFFSET $2`, limitOr(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *companies) FindByName(ctx context.Context, name string) (*model.Company, error) {
	if name == "" {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT `+companyColumns+` FROM companies
        WHERE name=$1
        ORDER BY created_at ASC LIMIT 1`, name)
	out, err := scanCompany(row)
	return out, notFound(err)
}

func (r *companies) UpdateHealth(ctx context.Context, id string, score int, notes string) error {
	return execOne(ctx, r.db, id, `UPDATE companies SET health_score=$2, health_notes=$3 WHERE id=$1`, id, score, notes)
}

// --- Fresh data ---

type freshData struct{ db *sql.DB }

const freshColumns = `id, company_id, topic, source, source_url, title, summary, tags, analysis,
    published_at, detected_at, created_at, updated_at`

func scanFresh(row rowScanner) (*model.FreshData, error) {
	var (
		out                                              model.FreshData
		companyID, topic, source, sourceURL, title, summ sql.NullString
		tags, analysis                                   []byte
		published                                        sql.NullTime
		detected                                         time.Time
	)
	if err := row.Scan(&out.ID, &companyID, &topic, &source, &sourceURL, &title, &summ, &tags, &analysis,
		&published, &detected, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	out.CompanyID = str(companyID)
	out.Topic = str(topic)
	out.Source = str(source)
	out.SourceURL = str(sourceURL)
	out.Title = str(title)
	out.Summary = str(summ)
	out.PublishedAt = timePtr(published)
	out.DetectedAt = &detected
	var err error
	if out.Tags, err = decodeList(tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if out.Analysis, err = decodeMap(analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &out, nil
}

func (r *freshData) Create(ctx context.Context, f *model.FreshData) (*model.FreshData, error) {
	tags, err := jsonList(f.Tags)
	if err != nil {
		return nil, err
	}
	var analysis any
	if f.Analysis != nil {
		b, err := jsonMap(f.Analysis)
		if err != nil {
			return nil, err
		}
		analysis = b
	}
	var id any
	if f.ID != "" {
		id = f.ID
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO fresh_data (id, company_id, topic, source, source_url, title, summary, tags, analysis,
            published_at, detected_at)
        VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10,
            COALESCE($11::timestamptz, now()))
        RETURNING `+freshColumns,
		id, nullable(f.CompanyID), nullable(f.Topic), nullable(f.Source), nullable(f.SourceURL),
		nullable(f.Title), nullable(f.Summary), tags, analysis, nullTime(f.PublishedAt), nullTime(f.DetectedAt))
	out, err := scanFresh(row)
	if isUniqueViolation(err) {
		return nil, model.ErrConflict
	}
	return out, err
}

func (r *freshData) Get(ctx context.Context, id string) (*model.FreshData, error) {
	if !validID(id) {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+freshColumns+` FROM fresh_data WHERE id=$1`, id)
	out, err := scanFresh(row)
	return out, notFound(err)
}

func (r *freshData) List(ctx context.Context, opts store.ListOptions) ([]*model.FreshData, error) {
	if opts.CompanyID != "" && !validID(opts.CompanyID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+freshColumns+`
        FROM fresh_data
        WHERE ($1::uuid IS NULL OR company_id=$1)
        ORDER BY published_at DESC NULLS LAST
        LIMIT $2 OFFSET $3`, nullable(opts.CompanyID), limitOr(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.FreshData
	for rows.Next() {
		f, err := scanFresh(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}
