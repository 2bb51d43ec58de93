package leads

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, lead Lead) (Lead, error) {
	if s.pool == nil {
		return Lead{}, fmt.Errorf("postgres pool is nil")
	}
	lead = fillDefaults(lead, time.Now().UTC())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_leads (id, name, email, company, source, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lead.ID, lead.Name, lead.Email, lead.Company, lead.Source, lead.Notes, lead.Timestamp,
	)
	if err != nil {
		return Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	return lead, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Lead, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, company, source, notes, created_at
		FROM chat_leads
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.ID, &l.Name, &l.Email, &l.Company, &l.Source, &l.Notes, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM chat_leads").Scan(&n); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return n, nil
}

var _ Store = (*PostgresStore)(nil)
