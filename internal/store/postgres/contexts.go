package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

type contexts struct{ db *sql.DB }

const contextColumns = `id, type, source_id, text, embedding::text, metadata, company_id, contact_id, created_at, updated_at`

func scanContext(row rowScanner) (*model.AiContext, error) {
	var (
		out                  model.AiContext
		typ                  string
		embedding            sql.NullString
		metadata             []byte
		companyID, contactID sql.NullString
	)
	if err := row.Scan(&out.ID, &typ, &out.SourceID, &out.Text, &embedding, &metadata,
		&companyID, &contactID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	out.Type = model.ContextType(typ)
	out.CompanyID = str(companyID)
	out.ContactID = str(contactID)
	if embedding.Valid {
		var v pgvector.Vector
		if err := v.Scan(embedding.String); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
		out.Embedding = v.Slice()
	}
	var err error
	if out.Metadata, err = decodeMap(metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &out, nil
}

func embeddingArg(e []float32) any {
	if len(e) == 0 {
		return nil
	}
	return pgvector.NewVector(e)
}

// Upsert replaces the context for (type, source_id). A missing embedding is
// stored as NULL so the row drops out of similarity search.
func (r *contexts) Upsert(ctx context.Context, c *model.AiContext) (*model.AiContext, error) {
	metadata, err := jsonMap(c.Metadata)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO ai_contexts (type, source_id, text, embedding, metadata, company_id, contact_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (type, source_id) DO UPDATE
        SET text=EXCLUDED.text, embedding=EXCLUDED.embedding, metadata=EXCLUDED.metadata,
            company_id=EXCLUDED.company_id, contact_id=EXCLUDED.contact_id, updated_at=now()
        RETURNING `+contextColumns,
		string(c.Type), c.SourceID, c.Text, embeddingArg(c.Embedding), metadata,
		nullable(c.CompanyID), nullable(c.ContactID))
	return scanContext(row)
}

func (r *contexts) Get(ctx context.Context, typ model.ContextType, sourceID string) (*model.AiContext, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+contextColumns+` FROM ai_contexts WHERE type=$1 AND source_id=$2`,
		string(typ), sourceID)
	out, err := scanContext(row)
	return out, notFound(err)
}

func (r *contexts) Match(ctx context.Context, q model.MatchQuery) ([]model.ContextMatch, error) {
	if len(q.Embedding) == 0 {
		return nil, nil
	}
	if (q.CompanyID != "" && !validID(q.CompanyID)) || (q.ContactID != "" && !validID(q.ContactID)) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, type, source_id, text, metadata, company_id, contact_id, created_at, updated_at, similarity
        FROM match_ai_contexts($1::vector, $2, $3, $4::uuid, $5::uuid)`,
		pgvector.NewVector(q.Embedding), limitOr(q.Count), nullable(string(q.Type)),
		nullable(q.CompanyID), nullable(q.ContactID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []model.ContextMatch
	for rows.Next() {
		var (
			c                    model.AiContext
			typ                  string
			metadata             []byte
			companyID, contactID sql.NullString
			similarity           float64
		)
		if err := rows.Scan(&c.ID, &typ, &c.SourceID, &c.Text, &metadata, &companyID, &contactID,
			&c.CreatedAt, &c.UpdatedAt, &similarity); err != nil {
			return nil, err
		}
		c.Type = model.ContextType(typ)
		c.CompanyID = str(companyID)
		c.ContactID = str(contactID)
		if c.Metadata, err = decodeMap(metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		res = append(res, model.ContextMatch{Context: &c, Similarity: similarity})
	}
	return res, rows.Err()
}

func (r *contexts) List(ctx context.Context, f model.ContextFilter) ([]*model.AiContext, error) {
	if (f.CompanyID != "" && !validID(f.CompanyID)) || (f.ContactID != "" && !validID(f.ContactID)) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+contextColumns+`
        FROM ai_contexts
        WHERE ($1::text IS NULL OR type=$1)
          AND ($2::uuid IS NULL OR company_id=$2)
          AND ($3::uuid IS NULL OR contact_id=$3)
          AND ($4::text IS NULL OR text ILIKE '%' || $4 || '%')
        ORDER BY updated_at DESC
        LIMIT $5`,
		nullable(string(f.Type)), nullable(f.CompanyID), nullable(f.ContactID), nullable(f.Query), limitOr(f.Limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.AiContext
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *contexts) Delete(ctx context.Context, id string) error {
	return execOne(ctx, r.db, id, `DELETE FROM ai_contexts WHERE id=$1`, id)
}
