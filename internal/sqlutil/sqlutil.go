// Package sqlutil holds small database/sql helpers for batched queries.
package sqlutil

import (
	"database/sql"
	"strings"
)

// InClauseArgs returns a comma-separated list of "?" placeholders and the
// matching args slice, prefixed by any leading args.
//
// If items is empty, it returns "NULL" so `IN (NULL)` matches nothing.
func InClauseArgs(items []string, leading ...any) (placeholders string, args []any) {
	args = append(make([]any, 0, len(leading)+len(items)), leading...)
	if len(items) == 0 {
		return "NULL", args
	}
	ph := make([]string, len(items))
	for i, item := range items {
		ph[i] = "?"
		args = append(args, item)
	}
	return strings.Join(ph, ", "), args
}

// ScanRows scans all rows into a slice using the provided scanner and
// closes rows.
func ScanRows[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Dedupe returns the distinct non-empty strings of items in first-seen order.
func Dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
