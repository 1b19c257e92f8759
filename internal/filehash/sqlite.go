package filehash

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/outrider-security/sentinel/internal/platform"
)

// QueryReadOnly opens dbPath strictly read-only (mode=ro; the browser or
// tccd process may hold the file open for writing, so no lock is taken)
// and runs query, returning every row as a slice of stringified column
// values. Used by probes that need to peek at TCC.db/Cookies/Login Data
// without risking a write to a live browser or system database.
func QueryReadOnly(dbPath, query string, args ...any) ([][]string, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("filehash: open %s: %w", dbPath, platform.ErrNotPresent)
	}
	defer db.Close()

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("filehash: query %s: %w", dbPath, platform.ErrMalformed)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("filehash: columns %s: %w", dbPath, platform.ErrMalformed)
	}

	var out [][]string
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("filehash: scan %s: %w", dbPath, platform.ErrMalformed)
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			row[i] = stringify(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filehash: iterate %s: %w", dbPath, platform.ErrTransient)
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
