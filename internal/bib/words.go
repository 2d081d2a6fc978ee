package bib

import "strings"

// CountWords counts whitespace-separated tokens. Markdown heading
// markers are not excluded; budgets everywhere are computed with the
// same counter so the comparison stays consistent.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
