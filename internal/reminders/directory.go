package reminders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

// ContactDirectory resolves the billing contact of a client.
type ContactDirectory interface {
	BillingContact(ctx context.Context, clientID int64) (Contact, error)
}

// PostgresDirectory reads billing contacts from the clients table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory constructs the directory.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// BillingContact implements ContactDirectory.
func (d *PostgresDirectory) BillingContact(ctx context.Context, clientID int64) (Contact, error) {
	var c Contact
	err := d.pool.QueryRow(ctx, `
		SELECT COALESCE(contact_name, name), COALESCE(billing_email, email, '')
		FROM clients WHERE id = $1`, clientID).Scan(&c.Name, &c.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, fmt.Errorf("reminders: client %d: %w", clientID, shared.ErrNotFound)
		}
		return Contact{}, fmt.Errorf("reminders: client %d: %w: %w", clientID, shared.ErrStorage, err)
	}
	return c, nil
}

// StaticDirectory serves contacts from memory.
type StaticDirectory map[int64]Contact

// BillingContact implements ContactDirectory.
func (d StaticDirectory) BillingContact(_ context.Context, clientID int64) (Contact, error) {
	c, ok := d[clientID]
	if !ok {
		return Contact{}, fmt.Errorf("reminders: client %d: %w", clientID, shared.ErrNotFound)
	}
	return c, nil
}
