package store

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/alicebob/miniredis/v2"
)

func TestMigrationNames_EmbeddedInOrder(t *testing.T) {
	names, err := migrationNames(migrationFiles)
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}

	want := []string{
		"migrations/001_subscriptions.up.sql",
		"migrations/002_delivery_attempts.up.sql",
	}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestMigrationNames_SkipsNonUpFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.up.sql":   {Data: []byte("SELECT 2")},
		"migrations/001_a.up.sql":   {Data: []byte("SELECT 1")},
		"migrations/001_a.down.sql": {Data: []byte("SELECT 0")},
		"migrations/README.md":      {Data: []byte("docs")},
	}

	names, err := migrationNames(fsys)
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}
	if strings.Join(names, ",") != "migrations/001_a.up.sql,migrations/002_b.up.sql" {
		t.Errorf("unexpected migrations %v", names)
	}
}

func TestMigrations_CreateTables(t *testing.T) {
	for name, table := range map[string]string{
		"migrations/001_subscriptions.up.sql":     "subscriptions",
		"migrations/002_delivery_attempts.up.sql": "delivery_attempts",
	} {
		data, err := migrationFiles.ReadFile(name)
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("%s does not create %s", name, table)
		}
	}
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Errorf("got %q, want v", got)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}
