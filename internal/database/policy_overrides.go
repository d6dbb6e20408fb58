package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benvon/crm-ratelimit/internal/models"
)

// PolicyOverrideRepository stores per-policy rate overrides ("100-M") so
// operators can retune a policy without a deploy.
type PolicyOverrideRepository struct {
	db *DB
}

// NewPolicyOverrideRepository creates a new policy override repository.
func NewPolicyOverrideRepository(db *DB) *PolicyOverrideRepository {
	return &PolicyOverrideRepository{db: db}
}

// EnsureSchema creates the overrides table if it does not exist.
func (r *PolicyOverrideRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ratelimit_policy_overrides (
			policy_name TEXT PRIMARY KEY,
			rate        TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create policy overrides table: %w", err)
	}
	return nil
}

// List returns every override ordered by policy name.
func (r *PolicyOverrideRepository) List(ctx context.Context) ([]models.PolicyOverride, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT policy_name, rate, created_at, updated_at
		FROM ratelimit_policy_overrides ORDER BY policy_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list policy overrides: %w", err)
	}
	defer rows.Close()

	var out []models.PolicyOverride
	for rows.Next() {
		var o models.PolicyOverride
		if err := rows.Scan(&o.PolicyName, &o.Rate, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan policy override: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list policy overrides: %w", err)
	}
	return out, nil
}

// Overrides returns the overrides as policy name → rate.
func (r *PolicyOverrideRepository) Overrides(ctx context.Context) (map[string]string, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return models.OverrideMap(list), nil
}

// Set upserts the override for one policy. Rate format: e.g. "5-S", "100-M".
func (r *PolicyOverrideRepository) Set(ctx context.Context, o *models.PolicyOverride) error {
	name := strings.TrimSpace(o.PolicyName)
	rate := strings.TrimSpace(o.Rate)
	if name == "" {
		return fmt.Errorf("policy name cannot be empty")
	}
	if rate == "" {
		return fmt.Errorf("rate cannot be empty")
	}
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ratelimit_policy_overrides (policy_name, rate, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (policy_name) DO UPDATE SET
			rate = EXCLUDED.rate,
			updated_at = EXCLUDED.updated_at
	`, name, rate, now, now)
	if err != nil {
		return fmt.Errorf("set policy override: %w", err)
	}
	return nil
}

// Delete removes the override for one policy. Deleting a missing override is not an error.
func (r *PolicyOverrideRepository) Delete(ctx context.Context, policyName string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM ratelimit_policy_overrides WHERE policy_name = $1`, policyName); err != nil {
		return fmt.Errorf("delete policy override: %w", err)
	}
	return nil
}
