package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestPostgresFiles_Ordered(t *testing.T) {
	files, err := PostgresFiles()
	if err != nil {
		t.Fatalf("PostgresFiles failed: %v", err)
	}
	want := []string{"001_users.sql", "002_sessions.sql"}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestPostgresFiles_Idempotent(t *testing.T) {
	files, _ := PostgresFiles()
	for _, f := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		for _, stmt := range strings.Split(string(data), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if !strings.Contains(stmt, "IF NOT EXISTS") {
				t.Errorf("%s: statement is not idempotent: %q", f, stmt)
			}
		}
	}
}
