// Package mailwatch polls an inbox for unseen messages and ingests each one
// as an email interaction.
package mailwatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/ingest"
	"github.com/moctezuma-dev/zappy-back/internal/model"
)

const pollLimit = 50

// Message is one raw RFC 5322 message and its mailbox UID.
type Message struct {
	UID uint32
	Raw []byte
}

// Mailbox lists unseen messages and flags them once handled.
type Mailbox interface {
	Unseen(ctx context.Context, limit int) ([]Message, error)
	MarkSeen(ctx context.Context, uids []uint32) error
}

// RawIngester stores a raw email as an interaction.
type RawIngester interface {
	IngestRawEmail(ctx context.Context, r io.Reader, company string) (*ingest.Result, error)
}

type Config struct {
	Interval time.Duration
	// Company is passed to every ingested message as the company hint.
	Company string
}

// Poller ingests unseen messages on an interval. A message is marked seen
// once stored or when it can never be stored; other failures leave it
// unseen for the next poll.
type Poller struct {
	cfg     Config
	mailbox Mailbox
	ingest  RawIngester
	log     zerolog.Logger

	pollMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, mailbox Mailbox, ing RawIngester, log zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Poller{
		cfg:     cfg,
		mailbox: mailbox,
		ingest:  ing,
		log:     log.With().Str("component", "mailwatch").Logger(),
	}
}

// Start polls once and then on every interval until Stop or ctx ends.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	p.log.Info().Dur("interval", p.cfg.Interval).Msg("inbox poller started")

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("inbox poll failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts polling and waits for an in-flight poll to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
	p.log.Info().Msg("inbox poller stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Poll ingests the current unseen messages and returns how many were stored.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	msgs, err := p.mailbox.Unseen(ctx, pollLimit)
	if err != nil {
		polls.WithLabelValues("error").Inc()
		return 0, err
	}

	stored := 0
	var seen []uint32
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			break
		}
		res, err := p.ingest.IngestRawEmail(ctx, bytes.NewReader(m.Raw), p.cfg.Company)
		switch {
		case err == nil:
			stored++
			seen = append(seen, m.UID)
			messagesHandled.WithLabelValues("stored").Inc()
			p.log.Debug().Uint32("uid", m.UID).Str("interaction_id", res.InteractionID).Msg("inbox message ingested")
		case errors.Is(err, model.ErrValidation):
			seen = append(seen, m.UID)
			messagesHandled.WithLabelValues("rejected").Inc()
			p.log.Warn().Err(err).Uint32("uid", m.UID).Msg("inbox message rejected")
		default:
			messagesHandled.WithLabelValues("error").Inc()
			p.log.Warn().Err(err).Uint32("uid", m.UID).Msg("inbox message not stored, retrying next poll")
		}
	}

	if len(seen) > 0 {
		// Flags what was already stored even after ctx is cancelled.
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := p.mailbox.MarkSeen(markCtx, seen); err != nil {
			polls.WithLabelValues("error").Inc()
			return stored, err
		}
	}
	polls.WithLabelValues("ok").Inc()
	return stored, nil
}
