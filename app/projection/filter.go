package projection

import (
	"strings"

	"github.com/swipe/offline-catalog/models"
)

type Kind int

const (
	Loading Kind = iota
	Empty
	Success
	Error
)

func (k Kind) String() string {
	switch k {
	case Loading:
		return "loading"
	case Empty:
		return "empty"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// State is what presentation code renders.
type State struct {
	Kind     Kind
	Products []models.Product
	Message  string
}

// Matches reports whether p passes both the search query and the category
// filter. A blank query and the "All" filter match everything.
func Matches(p models.Product, query, filter string) bool {
	return matchesSearch(p, query) && matchesFilter(p, filter)
}

func matchesSearch(p models.Product, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Category), q)
}

func matchesFilter(p models.Product, filter string) bool {
	if filter == "" || filter == models.CategoryAll {
		return true
	}
	return strings.EqualFold(p.Category, filter)
}

// Apply keeps the products matching query and filter, in order.
func Apply(products []models.Product, query, filter string) []models.Product {
	filtered := make([]models.Product, 0, len(products))
	for _, p := range products {
		if Matches(p, query, filter) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// Classify turns a filtered list into a state. An empty list is Empty only
// while the query is blank; under an active search it is Success with no
// products, i.e. "no matches" rather than "no data".
func Classify(filtered []models.Product, query string) State {
	if len(filtered) == 0 && strings.TrimSpace(query) == "" {
		return State{Kind: Empty, Products: filtered}
	}
	return State{Kind: Success, Products: filtered}
}
