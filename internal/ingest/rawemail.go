package ingest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

// ParseRawEmail reads an RFC 5322 message. The body is the first text/plain
// part; attachments are listed by name, type and size.
func ParseRawEmail(r io.Reader) (*EmailPayload, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: parse email: %v", model.ErrValidation, err)
	}
	defer mr.Close()

	p := &EmailPayload{}
	h := mr.Header
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.From = formatAddress(from[0])
	}
	if to, err := h.AddressList("To"); err == nil {
		addrs := make([]string, len(to))
		for i, a := range to {
			addrs[i] = a.Address
		}
		p.To = strings.Join(addrs, ", ")
	}
	p.Subject, _ = h.Subject()
	if d, err := h.Date(); err == nil && !d.IsZero() {
		p.Date = d.Format(time.RFC3339)
	}

	var bodySet bool
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("%w: read email part: %v", model.ErrValidation, err)
		}
		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			if bodySet || !strings.HasPrefix(ct, "text/plain") {
				continue
			}
			b, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("read email body: %w", err)
			}
			p.Body = strings.TrimSpace(string(b))
			bodySet = true
		case *mail.AttachmentHeader:
			name, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			n, _ := io.Copy(io.Discard, part.Body)
			p.Attachments = append(p.Attachments, map[string]any{"name": name, "type": ct, "size": n})
		}
	}
	return p, nil
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}
