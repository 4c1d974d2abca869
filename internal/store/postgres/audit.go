package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

// --- Jobs ---

type jobs struct{ db *sql.DB }

func (r *jobs) Append(ctx context.Context, j *model.Job) (*model.Job, error) {
	input, err := toJSON(j.Input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	output, err := toJSON(j.Output)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	out := *j
	err = r.db.QueryRowContext(ctx, `
        INSERT INTO jobs (type, status, input_data, output_data)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at`, j.Type, j.Status, input, output).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *jobs) List(ctx context.Context, limit int) ([]*model.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, type, status, input_data, output_data, created_at
        FROM jobs ORDER BY created_at DESC LIMIT $1`, limitOr(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.Job
	for rows.Next() {
		var (
			j             model.Job
			input, output []byte
		)
		if err := rows.Scan(&j.ID, &j.Type, &j.Status, &input, &output, &j.CreatedAt); err != nil {
			return nil, err
		}
		if j.Input, err = decodeAny(input); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		if j.Output, err = decodeAny(output); err != nil {
			return nil, fmt.Errorf("decode output: %w", err)
		}
		res = append(res, &j)
	}
	return res, rows.Err()
}

// --- Knowledge ---

type knowledge struct{ db *sql.DB }

const knowledgeColumns = `id, title, content, company_id, metadata, created_at`

func scanEntry(row rowScanner) (*model.KnowledgeEntry, error) {
	var (
		out       model.KnowledgeEntry
		companyID sql.NullString
		metadata  []byte
	)
	if err := row.Scan(&out.ID, &out.Title, &out.Content, &companyID, &metadata, &out.CreatedAt); err != nil {
		return nil, err
	}
	out.CompanyID = str(companyID)
	var err error
	if out.Metadata, err = decodeMap(metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &out, nil
}

func scanEntries(rows *sql.Rows) ([]*model.KnowledgeEntry, error) {
	defer func() { _ = rows.Close() }()
	var res []*model.KnowledgeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r *knowledge) Create(ctx context.Context, e *model.KnowledgeEntry) (*model.KnowledgeEntry, error) {
	metadata, err := jsonMap(e.Metadata)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO knowledge_entries (title, content, company_id, metadata)
        VALUES ($1, $2, $3, $4)
        RETURNING `+knowledgeColumns, e.Title, e.Content, nullable(e.CompanyID), metadata)
	return scanEntry(row)
}

func (r *knowledge) Get(ctx context.Context, id string) (*model.KnowledgeEntry, error) {
	if !validID(id) {
		return nil, model.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_entries WHERE id=$1`, id)
	out, err := scanEntry(row)
	return out, notFound(err)
}

func (r *knowledge) List(ctx context.Context, opts store.ListOptions) ([]*model.KnowledgeEntry, error) {
	if opts.CompanyID != "" && !validID(opts.CompanyID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+knowledgeColumns+`
        FROM knowledge_entries
        WHERE ($1::uuid IS NULL OR company_id=$1)
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`, nullable(opts.CompanyID), limitOr(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Delete removes the entry together with its indexed context.
func (r *knowledge) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return model.ErrNotFound
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ai_contexts WHERE type=$1 AND source_id=$2`,
		string(model.ContextKnowledge), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *knowledge) Search(ctx context.Context, query, companyID string, limit int) ([]*model.KnowledgeEntry, error) {
	if companyID != "" && !validID(companyID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+knowledgeColumns+`
        FROM knowledge_entries
        WHERE ($1::uuid IS NULL OR company_id=$1)
          AND ($2::text IS NULL OR title ILIKE '%' || $2 || '%' OR content ILIKE '%' || $2 || '%')
        ORDER BY created_at DESC
        LIMIT $3`, nullable(companyID), nullable(query), limitOr(limit))
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// --- Chat ---

type chat struct{ db *sql.DB }

func (r *chat) CreateSession(ctx context.Context, sess *model.ChatSession) (*model.ChatSession, error) {
	out := *sess
	err := r.db.QueryRowContext(ctx, `
        INSERT INTO ai_sessions (title, company_id, contact_id)
        VALUES ($1, $2, $3)
        RETURNING id, created_at`, nullable(sess.Title), nullable(sess.CompanyID), nullable(sess.ContactID)).
		Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *chat) GetSession(ctx context.Context, id string) (*model.ChatSession, error) {
	if !validID(id) {
		return nil, model.ErrNotFound
	}
	var (
		out                         model.ChatSession
		title, companyID, contactID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
        SELECT id, title, company_id, contact_id, created_at FROM ai_sessions WHERE id=$1`, id).
		Scan(&out.ID, &title, &companyID, &contactID, &out.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	out.Title = str(title)
	out.CompanyID = str(companyID)
	out.ContactID = str(contactID)
	return &out, nil
}

func (r *chat) AppendMessage(ctx context.Context, m *model.ChatMessage) (*model.ChatMessage, error) {
	if !validID(m.SessionID) {
		return nil, model.ErrNotFound
	}
	metadata, err := jsonMap(m.Metadata)
	if err != nil {
		return nil, err
	}
	out := *m
	err = r.db.QueryRowContext(ctx, `
        INSERT INTO ai_messages (session_id, role, content, metadata)
        SELECT id, $2, $3, $4 FROM ai_sessions WHERE id=$1
        RETURNING id, created_at`, m.SessionID, m.Role, m.Content, metadata).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

// ListMessages returns the newest limit messages in chronological order.
func (r *chat) ListMessages(ctx context.Context, sessionID string, limit int) ([]*model.ChatMessage, error) {
	if !validID(sessionID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, session_id, role, content, metadata, created_at FROM (
            SELECT id, session_id, role, content, metadata, created_at
            FROM ai_messages WHERE session_id=$1
            ORDER BY created_at DESC LIMIT $2
        ) recent ORDER BY created_at ASC`, sessionID, limitOr(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.ChatMessage
	for rows.Next() {
		var (
			m        model.ChatMessage
			metadata []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.Metadata, err = decodeMap(metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (r *chat) LogToolCall(ctx context.Context, c *model.ToolCall) error {
	input, err := toJSON(c.Input)
	if err != nil {
		return err
	}
	output, err := toJSON(c.Output)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
        INSERT INTO ai_tool_calls (session_id, tool, input, output)
        VALUES ($1, $2, $3, $4)`, nullable(c.SessionID), c.Tool, input, output)
	return err
}
