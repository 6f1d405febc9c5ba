package db

import (
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func TestRebind(t *testing.T) {
	cases := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{SQLite, `SELECT id FROM tickets WHERE id=? AND assignee_id=?`, `SELECT id FROM tickets WHERE id=? AND assignee_id=?`},
		{Postgres, `SELECT id FROM tickets WHERE id=? AND assignee_id=?`, `SELECT id FROM tickets WHERE id=$1 AND assignee_id=$2`},
		{Postgres, `SELECT 1`, `SELECT 1`},
	}
	for _, tc := range cases {
		if got := tc.dialect.Rebind(tc.in); got != tc.want {
			t.Fatalf("%s rebind: got %q want %q", tc.dialect, got, tc.want)
		}
	}
}

func TestFormatTimeSortsChronologically(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(10 * time.Second),
		base.Add(1500 * time.Microsecond),
		base,
		base.Add(2 * time.Hour),
	}
	var formatted []string
	for _, ts := range times {
		formatted = append(formatted, FormatTime(ts))
	}
	sort.Strings(formatted)
	prev := time.Time{}
	for _, s := range formatted {
		ts, err := ParseTime(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if ts.Before(prev) {
			t.Fatalf("lexical order broke chronology at %q", s)
		}
		prev = ts
	}
}

func TestParseTimeAcceptsRFC3339(t *testing.T) {
	ts, err := ParseTime("2024-03-01T09:00:00Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ts.Equal(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", ts)
	}
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != SQLite {
		t.Fatalf("expected sqlite dialect, got %s", dialect)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if want := filepath.Join(dir, ".ticketdesk", "ticketdesk.db"); Path(dir) != want {
		t.Fatalf("path %q want %q", Path(dir), want)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open(Config{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
}
