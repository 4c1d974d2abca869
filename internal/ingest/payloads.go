package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

// EmailPayload is an email handed to the ingestion API.
type EmailPayload struct {
	From        string           `json:"from" validate:"required"`
	To          string           `json:"to" validate:"required"`
	Subject     string           `json:"subject,omitempty"`
	Body        string           `json:"body" validate:"required"`
	Date        string           `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Attachments []map[string]any `json:"attachments,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Company     string           `json:"company,omitempty"`
}

type SlackUser struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	RealName string `json:"real_name,omitempty"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
}

type SlackChannel struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name" validate:"required"`
}

// SlackPayload is a Slack message event.
type SlackPayload struct {
	User        *SlackUser       `json:"user,omitempty"`
	Channel     SlackChannel     `json:"channel"`
	Text        string           `json:"text" validate:"required"`
	TS          string           `json:"ts,omitempty"`
	ThreadTS    string           `json:"thread_ts,omitempty"`
	Attachments []map[string]any `json:"attachments,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Company     string           `json:"company,omitempty"`
}

// WhatsAppPayload is a WhatsApp message.
type WhatsAppPayload struct {
	From        string         `json:"from" validate:"required"`
	To          string         `json:"to" validate:"required"`
	Message     string         `json:"message" validate:"required"`
	Timestamp   *Timestamp     `json:"timestamp,omitempty"`
	Media       any            `json:"media,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Company     string         `json:"company,omitempty"`
	ContactName string         `json:"contactName,omitempty"`
	Email       string         `json:"email,omitempty" validate:"omitempty,email"`
}

// Timestamp accepts a date string or a number of milliseconds since the epoch.
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err == nil {
		ts.Time = time.UnixMilli(int64(ms)).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t, ok := model.ParseDate(s)
	if !ok {
		return fmt.Errorf("timestamp: unrecognised value %q", s)
	}
	ts.Time = t
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Format(time.RFC3339))
}

// FieldError names one invalid payload field by its JSON path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field. It matches model.ErrValidation.
type ValidationError struct {
	Payload string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Path + ": " + f.Message
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Payload, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return model.ErrValidation }

// Details exposes the invalid fields to API error responses.
func (e *ValidationError) Details() any { return e.Fields }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a payload against its struct tags.
func Validate(payload string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	out := &ValidationError{Payload: payload}
	for _, fe := range verrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		out.Fields = append(out.Fields, FieldError{Path: path, Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " es requerido"
	case "email":
		return "email inválido"
	case "datetime":
		return "fecha inválida, se espera RFC 3339 con zona horaria"
	default:
		return "no cumple la regla " + fe.Tag()
	}
}
