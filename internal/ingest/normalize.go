package ingest

import (
	"maps"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

// ContactInfo identifies the counterpart of an interaction for contact resolution.
type ContactInfo struct {
	Name    string
	Email   string
	Phone   string
	Company string
}

// Normalized is a channel payload mapped onto the interaction shape.
type Normalized struct {
	Interaction *model.Interaction
	Contact     ContactInfo
}

var addressRe = regexp.MustCompile(`^(.+?)\s*<(.+?)>$`)

// splitAddress splits "Name <addr>". A bare value is returned as both parts.
func splitAddress(from string) (name, email string) {
	if m := addressRe.FindStringSubmatch(strings.TrimSpace(from)); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return from, from
}

func NormalizeEmail(p *EmailPayload, now time.Time) Normalized {
	name, email := splitAddress(p.From)
	if name == "" {
		name = "Desconocido"
	}
	subject := p.Subject
	if subject == "" {
		subject = "Sin asunto"
	}

	data := map[string]any{"from": email, "to": p.To}
	if p.Subject != "" {
		data["subject"] = p.Subject
	}
	if len(p.Attachments) > 0 {
		data["attachments"] = p.Attachments
	}
	maps.Copy(data, p.Metadata)

	occurred := now
	if t, ok := model.ParseDate(p.Date); ok {
		occurred = t
	}
	return Normalized{
		Interaction: &model.Interaction{
			Channel:      model.ChannelEmail,
			OccurredAt:   occurred,
			Notes:        "Asunto: " + subject + "\n\n" + p.Body,
			Participants: nonEmpty(name, p.To),
			Data:         data,
		},
		Contact: ContactInfo{Name: name, Email: email, Company: p.Company},
	}
}

func NormalizeSlack(p *SlackPayload, now time.Time) Normalized {
	user := SlackUser{}
	if p.User != nil {
		user = *p.User
	}
	participant := firstNonEmpty(user.Name, user.RealName, "Usuario Slack")

	data := map[string]any{"channel": p.Channel.Name}
	if p.ThreadTS != "" {
		data["thread_ts"] = p.ThreadTS
	}
	if len(p.Attachments) > 0 {
		data["attachments"] = p.Attachments
	}
	maps.Copy(data, p.Metadata)

	occurred := now
	if secs, err := strconv.ParseFloat(p.TS, 64); err == nil {
		occurred = time.UnixMilli(int64(secs * 1000)).UTC()
	}
	return Normalized{
		Interaction: &model.Interaction{
			Channel:      model.ChannelChat,
			OccurredAt:   occurred,
			Notes:        p.Text,
			Participants: []string{participant},
			Data:         data,
		},
		Contact: ContactInfo{
			Name:    firstNonEmpty(user.RealName, user.Name, "Usuario Slack"),
			Email:   user.Email,
			Company: p.Company,
		},
	}
}

func NormalizeWhatsApp(p *WhatsAppPayload, now time.Time) Normalized {
	data := map[string]any{}
	if p.Media != nil {
		data["media"] = p.Media
	}
	maps.Copy(data, p.Metadata)

	occurred := now
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		occurred = p.Timestamp.UTC()
	}
	return Normalized{
		Interaction: &model.Interaction{
			Channel:      model.ChannelChat,
			OccurredAt:   occurred,
			Notes:        p.Message,
			Participants: nonEmpty(p.From, p.To),
			Data:         data,
		},
		Contact: ContactInfo{
			Name:    firstNonEmpty(p.ContactName, p.From, "Contacto WhatsApp"),
			Email:   p.Email,
			Phone:   p.From,
			Company: p.Company,
		},
	}
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
