// Package ingest turns channel payloads (email, Slack, WhatsApp, manual notes)
// into interaction rows, resolving or creating the counterpart contact on the way.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

// Dispatcher schedules analysis of a newly written record. It is only set
// when no database change feed delivers inserts to the analyzer.
type Dispatcher interface {
	Dispatch(ctx context.Context, table, id string)
}

// NoteIndexer indexes manual notes.
type NoteIndexer interface {
	IndexNote(ctx context.Context, in *model.Interaction, author string) (*model.AiContext, error)
}

// Result identifies the rows written for one ingested payload.
type Result struct {
	InteractionID string `json:"interactionId"`
	ContactID     string `json:"contactId,omitempty"`
	CompanyID     string `json:"companyId,omitempty"`
}

type Service struct {
	store      store.Store
	notes      NoteIndexer
	dispatcher Dispatcher
	now        func() time.Time
	log        zerolog.Logger
}

func New(st store.Store, notes NoteIndexer, log zerolog.Logger) *Service {
	return &Service{
		store: st,
		notes: notes,
		now:   time.Now,
		log:   log.With().Str("component", "ingest").Logger(),
	}
}

// WithDispatcher makes inserts schedule their own analysis.
func (s *Service) WithDispatcher(d Dispatcher) *Service {
	s.dispatcher = d
	return s
}

func (s *Service) IngestEmail(ctx context.Context, p *EmailPayload) (*Result, error) {
	if err := Validate("email", p); err != nil {
		return nil, err
	}
	return s.Insert(ctx, NormalizeEmail(p, s.now()))
}

// IngestRawEmail parses an RFC 5322 message and ingests it as an email.
func (s *Service) IngestRawEmail(ctx context.Context, r io.Reader, company string) (*Result, error) {
	p, err := ParseRawEmail(r)
	if err != nil {
		return nil, err
	}
	p.Company = company
	return s.IngestEmail(ctx, p)
}

func (s *Service) IngestSlack(ctx context.Context, p *SlackPayload) (*Result, error) {
	if err := Validate("slack", p); err != nil {
		return nil, err
	}
	return s.Insert(ctx, NormalizeSlack(p, s.now()))
}

func (s *Service) IngestWhatsApp(ctx context.Context, p *WhatsAppPayload) (*Result, error) {
	if err := Validate("whatsapp", p); err != nil {
		return nil, err
	}
	return s.Insert(ctx, NormalizeWhatsApp(p, s.now()))
}

// Insert resolves the contact and company of a normalized payload and writes
// the interaction. Contact resolution failures are logged and leave the
// reference empty; only the interaction insert itself can fail the call.
func (s *Service) Insert(ctx context.Context, n Normalized) (*Result, error) {
	in := n.Interaction
	if n.Contact.Name != "" || n.Contact.Email != "" {
		in.ContactID = s.findOrCreateContact(ctx, n.Contact)
	}
	if n.Contact.Company != "" {
		in.CompanyID = s.findCompanyID(ctx, n.Contact.Company)
	}

	created, err := s.store.Interactions().Create(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("insert interaction: %w", err)
	}
	ingested.WithLabelValues(string(created.Channel)).Inc()
	s.log.Info().
		Str("interaction_id", created.ID).
		Str("channel", string(created.Channel)).
		Str("contact_id", created.ContactID).
		Msg("interaction ingested")

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, "interactions", created.ID)
	}
	return &Result{InteractionID: created.ID, ContactID: created.ContactID, CompanyID: created.CompanyID}, nil
}

func (s *Service) findOrCreateContact(ctx context.Context, info ContactInfo) string {
	contacts := s.store.Contacts()
	if info.Email != "" {
		if c, err := contacts.FindByEmail(ctx, info.Email); err == nil {
			return c.ID
		} else if !errors.Is(err, model.ErrNotFound) {
			s.log.Warn().Err(err).Str("email", info.Email).Msg("contact lookup by email failed")
		}
	}
	if info.Name != "" {
		if c, err := contacts.FindByName(ctx, info.Name); err == nil {
			return c.ID
		} else if !errors.Is(err, model.ErrNotFound) {
			s.log.Warn().Err(err).Str("name", info.Name).Msg("contact lookup by name failed")
		}
	}

	c := &model.Contact{
		Name:    firstNonEmpty(info.Name, "Contacto sin nombre"),
		Email:   emailOnly(info.Email),
		Phone:   info.Phone,
		Company: info.Company,
	}
	if info.Company != "" {
		c.CompanyID = s.findCompanyID(ctx, info.Company)
	}
	created, err := contacts.Create(ctx, c)
	if err != nil {
		s.log.Error().Err(err).Str("name", c.Name).Msg("create contact failed")
		return ""
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, "contacts", created.ID)
	}
	return created.ID
}

func (s *Service) findCompanyID(ctx context.Context, name string) string {
	co, err := s.store.Companies().FindByName(ctx, name)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.log.Warn().Err(err).Str("company", name).Msg("company lookup failed")
		}
		return ""
	}
	return co.ID
}

// emailOnly drops values that are not addresses, such as a bare sender name.
func emailOnly(v string) string {
	if strings.Contains(v, "@") {
		return v
	}
	return ""
}

// Note is a manually entered remark about a company or contact.
type Note struct {
	CompanyID  string         `json:"companyId,omitempty"`
	ContactID  string         `json:"contactId,omitempty"`
	Author     string         `json:"author,omitempty"`
	Text       string         `json:"text" validate:"required"`
	OccurredAt *time.Time     `json:"occurredAt,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AddNote stores a note as an interaction and indexes it as a note context.
// Indexing failures are logged.
func (s *Service) AddNote(ctx context.Context, n *Note) (*model.Interaction, error) {
	if err := Validate("note", n); err != nil {
		return nil, err
	}
	occurred := s.now()
	if n.OccurredAt != nil {
		occurred = *n.OccurredAt
	}
	data := map[string]any{"manual": true}
	if n.Author != "" {
		data["author"] = n.Author
	}
	maps.Copy(data, n.Metadata)

	in, err := s.store.Interactions().Create(ctx, &model.Interaction{
		Channel:    model.ChannelOther,
		OccurredAt: occurred,
		Notes:      n.Text,
		CompanyID:  n.CompanyID,
		ContactID:  n.ContactID,
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	ingested.WithLabelValues("note").Inc()

	if s.notes != nil {
		if _, err := s.notes.IndexNote(ctx, in, n.Author); err != nil {
			s.log.Warn().Err(err).Str("interaction_id", in.ID).Msg("note indexing failed")
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, "interactions", in.ID)
	}
	return in, nil
}
