package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Event is the payload the notify triggers publish.
type Event struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id"`
}

// Source delivers change events to fn until ctx is cancelled or the
// underlying connection fails.
type Source interface {
	Listen(ctx context.Context, channel string, fn func(Event)) error
}

// PGSource listens on a Postgres NOTIFY channel over a dedicated connection.
type PGSource struct {
	dsn string
	log zerolog.Logger
}

func NewPGSource(dsn string, log zerolog.Logger) *PGSource {
	return &PGSource{dsn: dsn, log: log.With().Str("component", "realtime_pg").Logger()}
}

func (s *PGSource) Listen(ctx context.Context, channel string, fn func(Event)) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	s.log.Info().Str("channel", channel).Msg("listening for changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			s.log.Warn().Err(err).Str("payload", n.Payload).Msg("malformed change event")
			continue
		}
		fn(ev)
	}
}
