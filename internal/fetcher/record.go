package fetcher

import "strings"

// Record is one export row keyed by normalized column name.
type Record map[string]string

// Get returns the trimmed value of a column, or "" when absent.
func (r Record) Get(column string) string {
	return strings.TrimSpace(r[column])
}

// NormalizeHeader lower-cases and trims column names and strips a leading
// byte order mark.
func NormalizeHeader(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		if i == 0 {
			c = strings.TrimPrefix(c, "\ufeff")
		}
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return out
}

// MapRow zips a header with a data row. Extra cells are dropped and missing
// cells map to "".
func MapRow(header, row []string) Record {
	rec := make(Record, len(header))
	for i, col := range header {
		if col == "" {
			continue
		}
		if i < len(row) {
			rec[col] = row[i]
		} else {
			rec[col] = ""
		}
	}
	return rec
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
