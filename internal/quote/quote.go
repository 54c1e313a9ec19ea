package quote

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidQuote = errors.New("invalid quote")

const DefaultCategory = "general"

// Quote is one record in a workspace collection. IDs are assigned by
// whoever creates the record and are globally meaningful within a
// workspace: the sync merge reconciles local and remote lists by ID.
type Quote struct {
	ID       int64  `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

func Normalize(q Quote) Quote {
	q.Text = strings.TrimSpace(q.Text)
	q.Category = strings.TrimSpace(q.Category)
	if q.Category == "" {
		q.Category = DefaultCategory
	}
	return q
}

func Validate(q Quote) error {
	if q.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidQuote, q.ID)
	}
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidQuote)
	}
	return nil
}

func Equal(a, b Quote) bool {
	return a.ID == b.ID && a.Text == b.Text && a.Category == b.Category
}

// Categories returns the sorted distinct categories across quotes.
func Categories(quotes []Quote) []string {
	seen := map[string]struct{}{}
	for _, q := range quotes {
		category := strings.TrimSpace(q.Category)
		if category == "" {
			category = DefaultCategory
		}
		seen[category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for category := range seen {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// FilterByCategory returns the quotes matching category, preserving order.
// An empty category or "all" matches everything.
func FilterByCategory(quotes []Quote, category string) []Quote {
	category = strings.TrimSpace(category)
	if category == "" || strings.EqualFold(category, "all") {
		return append([]Quote(nil), quotes...)
	}
	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if strings.EqualFold(strings.TrimSpace(q.Category), category) {
			out = append(out, q)
		}
	}
	return out
}
