package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultTruncateLength is the per-value character budget applied before
	// rows are handed to the business responder.
	DefaultTruncateLength = 300
	DefaultTruncateSuffix = "..."
)

// TruncateWords shortens s to at most length characters (runes), suffix
// included, cutting at the last whitespace that fits. Strings already within
// budget are returned unchanged, so the operation is idempotent.
func TruncateWords(s string, length int, suffix string) string {
	if length <= 0 || utf8.RuneCountInString(s) <= length {
		return s
	}
	sfx := []rune(suffix)
	if len(sfx) >= length {
		return string(sfx[:length])
	}
	budget := length - len(sfx)
	runes := []rune(s)

	cut := runes[:budget]
	// A space right after the budget means the whole prefix is a clean cut.
	if !unicode.IsSpace(runes[budget]) {
		if i := lastSpace(cut); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace) + suffix
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}

// TruncateRows returns a copy of rows with every string value passed through
// TruncateWords. Non-string values are left untouched.
func TruncateRows(rows []Row, length int) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		r := make(Row, len(row))
		for k, v := range row {
			switch val := v.(type) {
			case string:
				r[k] = TruncateWords(val, length, DefaultTruncateSuffix)
			case []byte:
				r[k] = TruncateWords(string(val), length, DefaultTruncateSuffix)
			default:
				r[k] = v
			}
		}
		out[i] = r
	}
	return out
}

// SampleRows returns at most n rows; n == 0 means all of them.
func SampleRows(rows []Row, n int) []Row {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[:n]
}
