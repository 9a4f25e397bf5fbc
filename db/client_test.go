package db_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-webhooks/db"
)

func TestConnect_SQLiteAppliesSchema(t *testing.T) {
	ctx := context.Background()

	client, err := db.Connect(ctx, db.Config{
		Driver: db.DriverSQLite,
		DSN:    fmt.Sprintf("file:db-connect-test-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	rows, err := client.DB().QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'webhook_%' ORDER BY name")
	if err != nil {
		t.Fatalf("query tables: %v", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan table name: %v", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate tables: %v", err)
	}

	want := []string{
		"webhook_delivery_logs",
		"webhook_events",
		"webhook_jobs",
		"webhook_subscribers",
	}
	if len(tables) != len(want) {
		t.Fatalf("expected %d tables, got %v", len(want), tables)
	}
	for i, name := range want {
		if tables[i] != name {
			t.Fatalf("expected table %q at position %d, got %q", name, i, tables[i])
		}
	}
}

func TestConnect_RejectsBadConfig(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  db.Config
	}{
		{name: "blank dsn", cfg: db.Config{Driver: db.DriverSQLite}},
		{name: "unsupported driver", cfg: db.Config{Driver: "mysql", DSN: "tcp(localhost)/app"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := db.Connect(ctx, tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
