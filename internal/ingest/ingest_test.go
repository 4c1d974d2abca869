package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moctezuma-dev/zappy-back/internal/indexer"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
	"github.com/moctezuma-dev/zappy-back/internal/store/memstore"
)

var fixedNow = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

type recordedDispatch struct {
	mu    sync.Mutex
	calls []string
}

func (d *recordedDispatch) Dispatch(_ context.Context, table, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, table+":"+id)
}

func newService(t *testing.T) (*Service, *memstore.Store, *recordedDispatch) {
	t.Helper()
	ms := memstore.New()
	d := &recordedDispatch{}
	svc := New(ms, indexer.New(ms.Contexts(), nil, 0, zerolog.Nop()), zerolog.Nop()).WithDispatcher(d)
	svc.now = func() time.Time { return fixedNow }
	return svc, ms, d
}

func TestNormalizeEmail(t *testing.T) {
	n := NormalizeEmail(&EmailPayload{
		From:     "Juan Pérez <juan@empresa.com>",
		To:       "ventas@miempresa.com",
		Subject:  "Cotización",
		Body:     "Hola, necesito una cotización",
		Date:     "2025-01-15T10:30:00Z",
		Metadata: map[string]any{"campaign": "q1"},
		Company:  "Acme",
	}, fixedNow)

	in := n.Interaction
	assert.Equal(t, model.ChannelEmail, in.Channel)
	assert.Equal(t, "Asunto: Cotización\n\nHola, necesito una cotización", in.Notes)
	assert.Equal(t, []string{"Juan Pérez", "ventas@miempresa.com"}, in.Participants)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), in.OccurredAt)
	assert.Equal(t, "juan@empresa.com", in.Data["from"])
	assert.Equal(t, "q1", in.Data["campaign"])
	assert.NotContains(t, in.Data, "attachments")
	assert.Equal(t, ContactInfo{Name: "Juan Pérez", Email: "juan@empresa.com", Company: "Acme"}, n.Contact)
}

func TestNormalizeEmail_Defaults(t *testing.T) {
	n := NormalizeEmail(&EmailPayload{From: "ana@x.com", To: "v@y.com", Body: "Hola"}, fixedNow)
	assert.Equal(t, "Asunto: Sin asunto\n\nHola", n.Interaction.Notes)
	assert.Equal(t, fixedNow, n.Interaction.OccurredAt)
	assert.Equal(t, "ana@x.com", n.Contact.Name)
	assert.Equal(t, "ana@x.com", n.Contact.Email)
}

func TestNormalizeSlack(t *testing.T) {
	n := NormalizeSlack(&SlackPayload{
		User:     &SlackUser{Name: "maria.garcia", RealName: "María García"},
		Channel:  SlackChannel{Name: "ventas"},
		Text:     "Nueva oportunidad",
		TS:       "1705320600.123456",
		ThreadTS: "1705320000.000100",
	}, fixedNow)

	in := n.Interaction
	assert.Equal(t, model.ChannelChat, in.Channel)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 10, 0, 123_000_000, time.UTC), in.OccurredAt)
	assert.Equal(t, []string{"maria.garcia"}, in.Participants)
	assert.Equal(t, "ventas", in.Data["channel"])
	assert.Equal(t, "1705320000.000100", in.Data["thread_ts"])
	assert.Equal(t, "María García", n.Contact.Name)

	anon := NormalizeSlack(&SlackPayload{Channel: SlackChannel{Name: "general"}, Text: "hola"}, fixedNow)
	assert.Equal(t, []string{"Usuario Slack"}, anon.Interaction.Participants)
	assert.Equal(t, fixedNow, anon.Interaction.OccurredAt)
}

func TestNormalizeWhatsApp_Timestamps(t *testing.T) {
	var p WhatsAppPayload
	require.NoError(t, json.Unmarshal([]byte(`{"from":"+521","to":"+529","message":"hola","timestamp":1705320600000}`), &p))
	n := NormalizeWhatsApp(&p, fixedNow)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 10, 0, 0, time.UTC), n.Interaction.OccurredAt)
	assert.Equal(t, []string{"+521", "+529"}, n.Interaction.Participants)
	assert.Equal(t, ContactInfo{Name: "+521", Phone: "+521"}, n.Contact)

	require.NoError(t, json.Unmarshal([]byte(`{"from":"+521","to":"+529","message":"hola","timestamp":"2025-01-15T10:30:00Z","contactName":"Luis"}`), &p))
	n = NormalizeWhatsApp(&p, fixedNow)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), n.Interaction.OccurredAt)
	assert.Equal(t, "Luis", n.Contact.Name)

	assert.Error(t, json.Unmarshal([]byte(`{"timestamp":"ayer"}`), &p))
}

func TestValidate_ReportsFieldPaths(t *testing.T) {
	err := Validate("email", &EmailPayload{From: "a@b.com", To: "c@d.com", Date: "2025-01-15"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	paths := map[string]string{}
	for _, f := range verr.Fields {
		paths[f.Path] = f.Message
	}
	assert.Equal(t, "body es requerido", paths["body"])
	assert.Contains(t, paths, "date")

	err = Validate("slack", &SlackPayload{Text: "x", User: &SlackUser{Email: "nope"}})
	require.True(t, errors.As(err, &verr))
	paths = map[string]string{}
	for _, f := range verr.Fields {
		paths[f.Path] = f.Message
	}
	assert.Contains(t, paths, "channel.name")
	assert.Equal(t, "email inválido", paths["user.email"])
}

func TestIngestEmail_ResolvesContactOnce(t *testing.T) {
	svc, ms, d := newService(t)
	ctx := context.Background()
	co, err := ms.Companies().Create(ctx, &model.Company{Name: "Acme"})
	require.NoError(t, err)

	p := &EmailPayload{From: "Juan <juan@acme.com>", To: "ventas@z.com", Body: "Hola", Company: "Acme"}
	first, err := svc.IngestEmail(ctx, p)
	require.NoError(t, err)
	second, err := svc.IngestEmail(ctx, p)
	require.NoError(t, err)

	assert.NotEmpty(t, first.ContactID)
	assert.Equal(t, first.ContactID, second.ContactID)
	assert.Equal(t, co.ID, first.CompanyID)
	assert.NotEqual(t, first.InteractionID, second.InteractionID)

	contact, err := ms.Contacts().Get(ctx, first.ContactID)
	require.NoError(t, err)
	assert.Equal(t, "Juan", contact.Name)
	assert.Equal(t, "juan@acme.com", contact.Email)
	assert.Equal(t, co.ID, contact.CompanyID)

	in, err := ms.Interactions().Get(ctx, first.InteractionID)
	require.NoError(t, err)
	assert.Equal(t, first.ContactID, in.ContactID)

	assert.Equal(t, []string{
		"contacts:" + first.ContactID,
		"interactions:" + first.InteractionID,
		"interactions:" + second.InteractionID,
	}, d.calls)
}

func TestIngestWhatsApp_UnknownCompanyLeavesReferenceEmpty(t *testing.T) {
	svc, ms, _ := newService(t)
	res, err := svc.IngestWhatsApp(context.Background(), &WhatsAppPayload{
		From: "+5215550001", To: "+5215550002", Message: "Hola", Company: "Nadie",
	})
	require.NoError(t, err)
	assert.Empty(t, res.CompanyID)

	c, err := ms.Contacts().Get(context.Background(), res.ContactID)
	require.NoError(t, err)
	assert.Equal(t, "+5215550001", c.Phone)
	assert.Empty(t, c.Email, "a phone number is not an email")
}

func TestIngest_InvalidPayloadWritesNothing(t *testing.T) {
	svc, ms, d := newService(t)
	_, err := svc.IngestSlack(context.Background(), &SlackPayload{Channel: SlackChannel{Name: "x"}})
	require.True(t, errors.Is(err, model.ErrValidation))

	list, err := ms.Interactions().List(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, d.calls)
}

const rawMultipart = "From: Ana Ruiz <ana@cliente.com>\r\n" +
	"To: ventas@z.com, soporte@z.com\r\n" +
	"Subject: Propuesta\r\n" +
	"Date: Wed, 15 Jan 2025 10:30:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Necesitamos la propuesta esta semana.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>ignored</p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"brief.pdf\"\r\n" +
	"\r\n" +
	"%PDF-1.4\r\n" +
	"--XYZ--\r\n"

func TestParseRawEmail(t *testing.T) {
	p, err := ParseRawEmail(strings.NewReader(rawMultipart))
	require.NoError(t, err)
	assert.Equal(t, "Ana Ruiz <ana@cliente.com>", p.From)
	assert.Equal(t, "ventas@z.com, soporte@z.com", p.To)
	assert.Equal(t, "Propuesta", p.Subject)
	assert.Equal(t, "2025-01-15T10:30:00Z", p.Date)
	assert.Equal(t, "Necesitamos la propuesta esta semana.", p.Body)
	require.Len(t, p.Attachments, 1)
	assert.Equal(t, "brief.pdf", p.Attachments[0]["name"])
	assert.Equal(t, "application/pdf", p.Attachments[0]["type"])
}

func TestIngestRawEmail(t *testing.T) {
	svc, ms, _ := newService(t)
	res, err := svc.IngestRawEmail(context.Background(), strings.NewReader(rawMultipart), "")
	require.NoError(t, err)

	in, err := ms.Interactions().Get(context.Background(), res.InteractionID)
	require.NoError(t, err)
	assert.Equal(t, "Asunto: Propuesta\n\nNecesitamos la propuesta esta semana.", in.Notes)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), in.OccurredAt.UTC())
}

func TestAddNote_IndexesNoteContext(t *testing.T) {
	svc, ms, d := newService(t)
	ctx := context.Background()
	in, err := svc.AddNote(ctx, &Note{CompanyID: "co-1", Author: "ana", Text: "Cliente pide descuento", Metadata: map[string]any{"tag": "pricing"}})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelOther, in.Channel)
	assert.Equal(t, true, in.Data["manual"])
	assert.Equal(t, "pricing", in.Data["tag"])

	c, err := ms.Contexts().Get(ctx, model.ContextNote, in.ID)
	require.NoError(t, err)
	assert.Equal(t, "Note by ana on 2025-01-10T09:00:00Z\nCliente pide descuento", c.Text)
	assert.Equal(t, "co-1", c.CompanyID)
	assert.Len(t, d.calls, 1)

	_, err = svc.AddNote(ctx, &Note{})
	assert.True(t, errors.Is(err, model.ErrValidation))
}
