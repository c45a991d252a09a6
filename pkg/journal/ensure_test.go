package journal

import (
	"context"
	"strings"
	"testing"
)

const ensureTestPrefix = "journal:ensure_test"

func TestSplitDatabaseURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantDB    string
		wantMaint string
		wantErr   string
	}{
		{
			name:      "plain",
			url:       "postgres://u:p@localhost:5432/engine_journal",
			wantDB:    "engine_journal",
			wantMaint: "postgres://u:p@localhost:5432/postgres",
		},
		{
			name:      "query kept",
			url:       "postgres://localhost/engine_journal?sslmode=disable",
			wantDB:    "engine_journal",
			wantMaint: "postgres://localhost/postgres?sslmode=disable",
		},
		{name: "no database", url: "postgres://localhost", wantErr: "database name empty"},
		{name: "bad name", url: "postgres://localhost/engine-journal", wantErr: "invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, maint, err := splitDatabaseURL(tt.url)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("%s - err = %v, want %q", ensureTestPrefix, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", ensureTestPrefix, err)
			}
			if db != tt.wantDB {
				t.Errorf("%s - db = %q, want %q", ensureTestPrefix, db, tt.wantDB)
			}
			if maint != tt.wantMaint {
				t.Errorf("%s - maintenance URL = %q, want %q", ensureTestPrefix, maint, tt.wantMaint)
			}
		})
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("%s - quoteIdent = %s", ensureTestPrefix, got)
	}
}

func TestEnsureDatabase_InvalidURL(t *testing.T) {
	if err := EnsureDatabase(context.Background(), "postgres://localhost/bad-name"); err == nil {
		t.Fatalf("%s - expected error for invalid database name", ensureTestPrefix)
	}
}
