package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DefaultSessionTable is the CRM's session table.
const DefaultSessionTable = "sessions"

// SessionRepository reads the organization of a session from the CRM's
// session table. The table is owned by the CRM; this repository only reads it.
type SessionRepository struct {
	db    *DB
	query string
}

// NewSessionRepository creates a session repository over table.
func NewSessionRepository(db *DB, table string) *SessionRepository {
	if table == "" {
		table = DefaultSessionTable
	}
	return &SessionRepository{
		db: db,
		query: fmt.Sprintf(`
			SELECT organization_id FROM %s
			WHERE token = $1 AND expires_at > now()
		`, quoteTable(table)),
	}
}

// OrganizationID returns the organization of a live session, or "" when the
// session is unknown, expired or not bound to an organization.
func (r *SessionRepository) OrganizationID(ctx context.Context, sessionToken string) (string, error) {
	var org sql.NullString
	err := r.db.QueryRowContext(ctx, r.query, sessionToken).Scan(&org)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get session organization: %w", err)
	}
	return org.String, nil
}
