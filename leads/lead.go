// Package leads stores contact details captured by the chat widget forms.
package leads

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

const (
	SourceChatbot    = "chatbot"
	SourceInlineForm = "inline_form"
)

type Lead struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company"`
	Source    string    `json:"source"`
	Notes     string    `json:"notes"`
}

type Store interface {
	// Save assigns an ID and timestamp when missing and returns the stored lead.
	Save(ctx context.Context, lead Lead) (Lead, error)
	List(ctx context.Context) ([]Lead, error)
	Count(ctx context.Context) (int, error)
}

var csvHeader = []string{"Timestamp", "Name", "Email", "Company", "Source", "Notes", "ID"}

// WriteCSV writes leads in the same layout the CSV store keeps on disk.
func WriteCSV(w io.Writer, leads []Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, l := range leads {
		if err := cw.Write(l.record()); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (l Lead) record() []string {
	id := ""
	if l.ID != uuid.Nil {
		id = l.ID.String()
	}
	return []string{l.Timestamp.Format(time.RFC3339), l.Name, l.Email, l.Company, l.Source, l.Notes, id}
}

func fillDefaults(l Lead, now time.Time) Lead {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = now
	}
	if l.Source == "" {
		l.Source = SourceChatbot
	}
	return l
}
