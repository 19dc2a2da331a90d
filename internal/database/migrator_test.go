package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/codexmonitor/agent-monitor/internal/config"
	"github.com/codexmonitor/agent-monitor/migrations"
	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
)

func TestLoadAppliedVersions_NilPool(t *testing.T) {
	if _, err := loadAppliedVersions(context.Background(), nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestApplyOneMigration_NilPool(t *testing.T) {
	err := applyOneMigration(context.Background(), nil, fstest.MapFS{}, "0001_init.sql")
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestMigrate_NilPool(t *testing.T) {
	if _, err := Migrate(context.Background(), nil, migrations.FS); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestListMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql":        {Data: []byte("SELECT 2")},
		"0001_a.sql":        {Data: []byte("SELECT 1")},
		"README.md":         {Data: []byte("docs")},
		"nested/0003_c.sql": {Data: []byte("SELECT 3")},
	}
	got, err := listMigrations(fsys)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"0001_a.sql", "0002_b.sql"}, got); diff != "" {
		t.Fatalf("listMigrations (-want +got):\n%s", diff)
	}
	if _, err := listMigrations(nil); err == nil {
		t.Fatal("expected error for nil fs")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := listMigrations(migrations.FS)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0] != "0001_conversation_items.sql" {
		t.Fatalf("embedded migrations = %v", got)
	}
}

func TestPendingMigrations(t *testing.T) {
	files := []string{"0001_a.sql", "0002_b.sql", "0003_c.sql"}
	got := pendingMigrations(files, map[string]bool{"0001_a.sql": true, "0003_c.sql": true})
	if diff := cmp.Diff([]string{"0002_b.sql"}, got); diff != "" {
		t.Fatalf("pending (-want +got):\n%s", diff)
	}
	if got := pendingMigrations(files, map[string]bool{"0001_a.sql": true, "0002_b.sql": true, "0003_c.sql": true}); len(got) != 0 {
		t.Fatalf("pending = %v, want none", got)
	}
}

func TestNewPool_NotConfigured(t *testing.T) {
	if _, err := NewPool(context.Background(), &config.Config{}); !errors.Is(err, apperrors.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if _, err := NewPool(context.Background(), nil); !errors.Is(err, apperrors.ErrNotConfigured) {
		t.Fatalf("nil cfg err = %v", err)
	}
}

func TestMigrate_Postgres(t *testing.T) {
	connStr := os.Getenv("TEST_POSTGRES_CONNECTION_STRING")
	if connStr == "" {
		t.Skip("TEST_POSTGRES_CONNECTION_STRING not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, &config.Config{PostgresConnStr: connStr, PostgresPoolMinSize: 1, PostgresPoolMaxSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if _, err := Migrate(ctx, pool, migrations.FS); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	again, err := Migrate(ctx, pool, migrations.FS)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second Migrate applied %v, want none", again)
	}
}
