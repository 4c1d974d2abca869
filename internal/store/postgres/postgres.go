package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// MigrateOptions parameterises the embedded schema.
type MigrateOptions struct {
	NotifyChannel  string
	EmbedDimension int
}

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Migrate applies the embedded schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB, opts MigrateOptions) error {
	ddl, err := renderSchema(opts)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// renderSchema points the change triggers at the notify channel and sizes
// the embedding column.
func renderSchema(opts MigrateOptions) (string, error) {
	if opts.NotifyChannel == "" {
		opts.NotifyChannel = "crm_changes"
	}
	if !channelPattern.MatchString(opts.NotifyChannel) {
		return "", fmt.Errorf("invalid notify channel %q", opts.NotifyChannel)
	}
	if opts.EmbedDimension <= 0 {
		opts.EmbedDimension = 768
	}
	ddl := strings.ReplaceAll(schemaSQL, "'crm_changes'", "'"+opts.NotifyChannel+"'")
	ddl = strings.ReplaceAll(ddl, "vector(768)", "vector("+strconv.Itoa(opts.EmbedDimension)+")")
	return ddl, nil
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Store implements store.Store on PostgreSQL with pgvector.
type Store struct{ db *sql.DB }

func (s *Store) Interactions() store.Interactions { return &interactions{db: s.db} }
func (s *Store) WorkItems() store.WorkItems       { return &workItems{db: s.db} }
func (s *Store) Alerts() store.Alerts             { return &alerts{db: s.db} }
func (s *Store) Contexts() store.Contexts         { return &contexts{db: s.db} }
func (s *Store) Contacts() store.Contacts         { return &contacts{db: s.db} }
func (s *Store) Companies() store.Companies       { return &companies{db: s.db} }
func (s *Store) FreshData() store.FreshData       { return &freshData{db: s.db} }
func (s *Store) Jobs() store.Jobs                 { return &jobs{db: s.db} }
func (s *Store) Knowledge() store.Knowledge       { return &knowledge{db: s.db} }
func (s *Store) Chat() store.Chat                 { return &chat{db: s.db} }

// DB exposes the underlying handle for components that share the connection.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// HealthPing implements health.HealthPinger for Postgres-backed store.
func (s *Store) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Bootstrap performs a connectivity check to ensure Postgres is reachable.
func Bootstrap(ctx context.Context, dsn string) error {
	if dsn == "" {
		return nil
	}
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.PingContext(ctx)
}

// --- helpers ---

const defaultLimit = 100

func limitOr(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

// validID reports whether id can be bound to a uuid column. Malformed ids
// cannot match any row, so callers treat them as not found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// validScope reports whether the ids a listing filters on can match rows.
func validScope(opts store.ListOptions) bool {
	return (opts.CompanyID == "" || validID(opts.CompanyID)) &&
		(opts.ContactID == "" || validID(opts.ContactID))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func str(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func toJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func jsonMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func jsonList(l []string) ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func decodeMap(b []byte) (map[string]any, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeList(b []byte) ([]string, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var l []string
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, err
	}
	return l, nil
}

func decodeAny(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// scopeClause renders the company/contact filter starting at placeholder n.
func scopeClause(scope store.Scope, n int) (string, []any) {
	var parts []string
	var args []any
	if scope.CompanyID != "" {
		parts = append(parts, fmt.Sprintf("company_id=$%d", n+len(args)))
		args = append(args, scope.CompanyID)
	}
	if scope.ContactID != "" {
		parts = append(parts, fmt.Sprintf("contact_id=$%d", n+len(args)))
		args = append(args, scope.ContactID)
	}
	if len(parts) == 0 {
		return "TRUE", nil
	}
	return strings.Join(parts, " AND "), args
}

func scopeValid(scope store.Scope) bool {
	return (scope.CompanyID == "" || validID(scope.CompanyID)) && (scope.ContactID == "" || validID(scope.ContactID))
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
