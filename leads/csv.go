package leads

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CSVStore appends leads to a single CSV file. It is safe for concurrent use within
// one process only.
type CSVStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewCSVStore(path string) (*CSVStore, error) {
	s := &CSVStore{path: path, now: time.Now}
	if err := s.ensureFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSVStore) ensureFile() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create leads directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open leads file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat leads file: %w", err)
	}
	if info.Size() > 0 {
		return nil
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write leads header: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (s *CSVStore) Save(_ context.Context, lead Lead) (Lead, error) {
	lead = fillDefaults(lead, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		if err = s.ensureFile(); err == nil {
			f, err = os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
		}
	}
	if err != nil {
		return Lead{}, fmt.Errorf("open leads file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(lead.record()); err != nil {
		return Lead{}, fmt.Errorf("append lead: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Lead{}, fmt.Errorf("flush lead: %w", err)
	}
	return lead, nil
}

func (s *CSVStore) List(_ context.Context) ([]Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open leads file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	// Files written before the ID column existed have six fields.
	r.FieldsPerRecord = -1

	var out []Lead
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read leads file: %w", err)
		}
		if first {
			first = false
			if len(rec) > 0 && rec[0] == csvHeader[0] {
				continue
			}
		}
		out = append(out, parseRecord(rec))
	}
	return out, nil
}

func (s *CSVStore) Count(ctx context.Context) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func parseRecord(rec []string) Lead {
	field := func(i int) string {
		if i < len(rec) {
			return rec[i]
		}
		return ""
	}

	l := Lead{
		Name:    field(1),
		Email:   field(2),
		Company: field(3),
		Source:  field(4),
		Notes:   field(5),
	}
	if ts, err := time.Parse(time.RFC3339, field(0)); err == nil {
		l.Timestamp = ts
	} else if ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999", field(0), time.Local); err == nil {
		l.Timestamp = ts
	}
	if id, err := uuid.Parse(field(6)); err == nil {
		l.ID = id
	}
	return l
}

var _ Store = (*CSVStore)(nil)
