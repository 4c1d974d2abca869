package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

// Kind names the table a record comes from.
type Kind string

const (
	KindInteraction Kind = "interactions"
	KindWorkItem    Kind = "work_items"
	KindContact     Kind = "contacts"
	KindFreshData   Kind = "fresh_data"
)

// Kinds lists the watched tables in the order change events are subscribed.
var Kinds = []Kind{KindContact, KindWorkItem, KindInteraction, KindFreshData}

// ParseKind accepts table names and their singular forms.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interactions", "interaction":
		return KindInteraction, true
	case "work_items", "work_item":
		return KindWorkItem, true
	case "contacts", "contact":
		return KindContact, true
	case "fresh_data":
		return KindFreshData, true
	}
	return "", false
}

// Record is a closed union over the record types the analyzer handles. The
// unexported method keeps implementations inside this package.
type Record interface {
	Kind() Kind
	RecordID() string
	isRecord()
}

type InteractionRecord struct{ Row *model.Interaction }
type WorkItemRecord struct{ Row *model.WorkItem }
type ContactRecord struct{ Row *model.Contact }
type FreshDataRecord struct{ Row *model.FreshData }

// UnsupportedRecord stands in for a table the analyzer does not handle.
type UnsupportedRecord struct {
	Table string
	ID    string
}

func (InteractionRecord) Kind() Kind   { return KindInteraction }
func (WorkItemRecord) Kind() Kind      { return KindWorkItem }
func (ContactRecord) Kind() Kind       { return KindContact }
func (FreshDataRecord) Kind() Kind     { return KindFreshData }
func (r UnsupportedRecord) Kind() Kind { return Kind(r.Table) }

func (r InteractionRecord) RecordID() string { return r.Row.ID }
func (r WorkItemRecord) RecordID() string    { return r.Row.ID }
func (r ContactRecord) RecordID() string     { return r.Row.ID }
func (r FreshDataRecord) RecordID() string   { return r.Row.ID }
func (r UnsupportedRecord) RecordID() string { return r.ID }

func (InteractionRecord) isRecord() {}
func (WorkItemRecord) isRecord()    {}
func (ContactRecord) isRecord()     {}
func (FreshDataRecord) isRecord()   {}
func (UnsupportedRecord) isRecord() {}

// Load fetches the current row of table/id. Unknown tables yield an
// UnsupportedRecord rather than an error.
func Load(ctx context.Context, s store.Store, table, id string) (Record, error) {
	kind, ok := ParseKind(table)
	if !ok {
		return UnsupportedRecord{Table: table, ID: id}, nil
	}
	var (
		rec Record
		err error
	)
	switch kind {
	case KindInteraction:
		var row *model.Interaction
		row, err = s.Interactions().Get(ctx, id)
		rec = InteractionRecord{Row: row}
	case KindWorkItem:
		var row *model.WorkItem
		row, err = s.WorkItems().Get(ctx, id)
		rec = WorkItemRecord{Row: row}
	case KindContact:
		var row *model.Contact
		row, err = s.Contacts().Get(ctx, id)
		rec = ContactRecord{Row: row}
	case KindFreshData:
		var row *model.FreshData
		row, err = s.FreshData().Get(ctx, id)
		rec = FreshDataRecord{Row: row}
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return rec, nil
}

// list returns up to limit records of kind, newest first.
func list(ctx context.Context, s store.Store, kind Kind, opts store.ListOptions) ([]Record, error) {
	var out []Record
	switch kind {
	case KindInteraction:
		rows, err := s.Interactions().List(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, InteractionRecord{Row: r})
		}
	case KindWorkItem:
		rows, err := s.WorkItems().List(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, WorkItemRecord{Row: r})
		}
	case KindContact:
		rows, err := s.Contacts().List(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, ContactRecord{Row: r})
		}
	case KindFreshData:
		rows, err := s.FreshData().List(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, FreshDataRecord{Row: r})
		}
	default:
		return nil, fmt.Errorf("%w: unsupported record type %q", model.ErrValidation, kind)
	}
	return out, nil
}
