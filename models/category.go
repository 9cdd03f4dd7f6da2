package models

import (
	"sort"
	"strings"
)

// CategoryAll is the filter value matching every product category.
const CategoryAll = "All"

// CategoryFilters returns the filter options for a set of stored categories:
// CategoryAll first, then each distinct non-blank category once, compared
// case-insensitively and sorted.
func CategoryFilters(categories []string) []string {
	seen := make(map[string]bool, len(categories))
	var distinct []string
	for _, c := range categories {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] || strings.EqualFold(c, CategoryAll) {
			continue
		}
		seen[key] = true
		distinct = append(distinct, c)
	}
	sort.Slice(distinct, func(i, j int) bool {
		return strings.ToLower(distinct[i]) < strings.ToLower(distinct[j])
	})
	return append([]string{CategoryAll}, distinct...)
}
