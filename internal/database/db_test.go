package database

import (
	"context"
	"os"
	"testing"

	"github.com/benvon/crm-ratelimit/internal/models"
)

func TestQuoteTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "sessions", `"sessions"`},
		{"schema qualified", "crm.sessions", `"crm"."sessions"`},
		{"embedded quote", `se"ss`, `"se""ss"`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := quoteTable(tt.in); got != tt.want {
				t.Errorf("quoteTable(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := New(" "); err == nil {
		t.Error("expected error for empty URL")
	}
}

func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}
	db, err := New(url)
	if err != nil {
		t.Skipf("Skipping integration test: database not available (%v)", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPolicyOverrideRepository_Integration(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewPolicyOverrideRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(context.Background(), "it:policy") })

	if err := repo.Set(ctx, &models.PolicyOverride{PolicyName: "it:policy", Rate: "10-M"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := repo.Set(ctx, &models.PolicyOverride{PolicyName: "it:policy", Rate: "20-M"}); err != nil {
		t.Fatalf("Set() upsert error = %v", err)
	}
	got, err := repo.Overrides(ctx)
	if err != nil {
		t.Fatalf("Overrides() error = %v", err)
	}
	if got["it:policy"] != "20-M" {
		t.Errorf("override = %q, want 20-M", got["it:policy"])
	}
	if err := repo.Delete(ctx, "it:policy"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "it:policy"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestPolicyOverrideRepository_SetValidation(t *testing.T) {
	t.Parallel()
	repo := NewPolicyOverrideRepository(nil)
	tests := []struct {
		name string
		in   models.PolicyOverride
	}{
		{"empty name", models.PolicyOverride{Rate: "1-S"}},
		{"empty rate", models.PolicyOverride{PolicyName: "demo:api", Rate: "  "}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := repo.Set(context.Background(), &tt.in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
