package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"conti/internal/config"
	"conti/internal/core"
	"conti/internal/guard"
	"conti/internal/log"
	sheetsmem "conti/internal/sheets/memory"
	"conti/internal/storage"
)

func TestCreateMemoryBackend(t *testing.T) {
	b, err := NewFactory(log.Discard()).CreateBackend(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer b.Close()

	if b.Publisher != nil {
		t.Error("publisher must be a nil interface without AMQP")
	}
	if _, ok := b.Guard.(*guard.MemoryGuard); !ok {
		t.Errorf("guard = %T, want *guard.MemoryGuard", b.Guard)
	}
	if _, ok := b.Exporter.(*sheetsmem.Exporter); !ok {
		t.Errorf("exporter = %T, want memory exporter", b.Exporter)
	}

	forest, err := b.Store.ListCategories(context.Background(), "new-user")
	if err != nil {
		t.Fatal(err)
	}
	if len(forest) == 0 {
		t.Error("new users should see the default forest")
	}
}

func TestBackendsSeedNewUsersAlike(t *testing.T) {
	ctx := context.Background()
	seedFile := filepath.Join(t.TempDir(), "seed.json")
	content := `[{"id":"bills","name":"Bills","type":"expense","subCategories":[{"id":"power","name":"Power"}]}]`
	if err := os.WriteFile(seedFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	configs := map[string]Config{
		"memory": {Type: MemoryBackend, SeedFile: seedFile},
		"sqlite": {Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "conti.db"), SeedFile: seedFile},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			b, err := NewFactory(log.Discard()).CreateBackend(ctx, cfg)
			if err != nil {
				t.Fatalf("CreateBackend: %v", err)
			}
			defer b.Close()

			forest, err := b.Store.ListCategories(ctx, "new-user")
			if err != nil {
				t.Fatal(err)
			}
			if len(forest) != 1 || forest[0].ID != "bills" || forest[0].SubCategories[0].ID != "power" {
				t.Errorf("new user forest = %+v, want the seed file forest", forest)
			}
		})
	}
}

func TestCreateSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "conti.db")
	b, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}

	ctx := context.Background()
	tx := core.Transaction{
		ID: "t1", Date: core.NewDate(2024, 1, 1), Description: "coffee",
		Amount: core.Cents(250), Type: core.Expense, Category: "Food",
	}
	if err := b.Store.Commit(ctx, "u1", &storage.Batch{SetTransactions: []core.Transaction{tx}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCreateBackendRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown type", Config{Type: "sheets"}},
		{"sqlite without path", Config{Type: SQLiteBackend}},
		{"required amqp missing", Config{Type: MemoryBackend, RequireAMQP: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFactory(log.Discard()).CreateBackend(context.Background(), tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	app := &config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", AMQPURL: "amqp://h", ReportSheetName: "Report"}
	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != "x.db" || cfg.AMQPURL != "amqp://h" {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "nope"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
