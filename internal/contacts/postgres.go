package contacts

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const contactsQuery = `
SELECT name, email
FROM emergency_contacts
WHERE user_id = $1
ORDER BY created_at, id`

// Postgres reads contacts from the emergency_contacts table.
type Postgres struct {
	pool   *pgxpool.Pool
	userID string
}

func NewPostgres(ctx context.Context, dsn, userID string) (*Postgres, error) {
	if userID == "" {
		return nil, fmt.Errorf("contacts: postgres user id is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("contacts: failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("contacts: failed to ping db: %w", err)
	}

	return &Postgres{pool: pool, userID: userID}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Contacts(ctx context.Context) ([]Contact, error) {
	rows, err := p.pool.Query(ctx, contactsQuery, p.userID)
	if err != nil {
		return nil, fmt.Errorf("contacts: query failed: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Contact])
	if err != nil {
		return nil, fmt.Errorf("contacts: scan failed: %w", err)
	}
	return out, nil
}
