package filehash

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestSHA256MatchesKnownDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := SHA256(path)
	if err != nil {
		t.Fatalf("SHA256: %v", err)
	}
	const want = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Errorf("SHA256(%q) = %s, want %s", "hello world", got, want)
	}
}

func TestSHA256BytesMatchesSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	content := []byte("the quick brown fox")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fromFile, err := SHA256(path)
	if err != nil {
		t.Fatalf("SHA256: %v", err)
	}
	fromBytes := SHA256Bytes(content)
	if fromFile != fromBytes {
		t.Errorf("SHA256(file) = %s, SHA256Bytes(same content) = %s", fromFile, fromBytes)
	}
}

func TestQueryReadOnlyReadsExistingRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	setup, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open for setup: %v", err)
	}
	if _, err := setup.Exec(`CREATE TABLE moz_cookies (host TEXT, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := setup.Exec(`INSERT INTO moz_cookies (host, name) VALUES (?, ?)`, "example.com", "session"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	setup.Close()

	rows, err := QueryReadOnly(path, `SELECT host, name FROM moz_cookies`)
	if err != nil {
		t.Fatalf("QueryReadOnly: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "example.com" || rows[0][1] != "session" {
		t.Errorf("rows = %v", rows)
	}
}

func TestQueryReadOnlyMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := QueryReadOnly(filepath.Join(dir, "nope.db"), "SELECT 1")
	if err == nil {
		t.Fatal("expected error for query against nonexistent database")
	}
}
