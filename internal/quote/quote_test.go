package quote

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func TestNormalizeDefaultsCategory(t *testing.T) {
	q := Normalize(Quote{ID: 1, Text: "  hello  ", Category: "  "})
	if q.Text != "hello" {
		t.Fatalf("expected trimmed text, got %q", q.Text)
	}
	if q.Category != DefaultCategory {
		t.Fatalf("expected default category, got %q", q.Category)
	}
}

func TestValidateRejectsBadRecords(t *testing.T) {
	if err := Validate(Quote{ID: 0, Text: "x"}); !errors.Is(err, ErrInvalidQuote) {
		t.Fatalf("expected ErrInvalidQuote for zero id, got %v", err)
	}
	if err := Validate(Quote{ID: 1, Text: "   "}); !errors.Is(err, ErrInvalidQuote) {
		t.Fatalf("expected ErrInvalidQuote for blank text, got %v", err)
	}
	if err := Validate(Quote{ID: 1, Text: "ok"}); err != nil {
		t.Fatalf("expected valid quote, got %v", err)
	}
}

func TestCategoriesSortedDistinct(t *testing.T) {
	quotes := []Quote{
		{ID: 1, Text: "a", Category: "zen"},
		{ID: 2, Text: "b", Category: "life"},
		{ID: 3, Text: "c", Category: "zen"},
		{ID: 4, Text: "d"},
	}
	got := Categories(quotes)
	want := []string{DefaultCategory, "life", "zen"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestFilterByCategoryAllAndExact(t *testing.T) {
	quotes := []Quote{
		{ID: 1, Text: "a", Category: "zen"},
		{ID: 2, Text: "b", Category: "life"},
	}
	if got := FilterByCategory(quotes, "all"); len(got) != 2 {
		t.Fatalf("expected all quotes, got %d", len(got))
	}
	got := FilterByCategory(quotes, "Zen")
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected case-insensitive category match, got %+v", got)
	}
}

func TestPickHonorsCategoryFilter(t *testing.T) {
	quotes := []Quote{
		{ID: 1, Text: "a", Category: "zen"},
		{ID: 2, Text: "b", Category: "life"},
		{ID: 3, Text: "c", Category: "zen"},
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		q, ok := Pick(rng, quotes, "zen")
		if !ok {
			t.Fatalf("expected a pick")
		}
		if q.Category != "zen" {
			t.Fatalf("picked quote outside category: %+v", q)
		}
	}
	if _, ok := Pick(rng, quotes, "nope"); ok {
		t.Fatalf("expected no pick for unknown category")
	}
	if _, ok := Pick(rng, nil, ""); ok {
		t.Fatalf("expected no pick from empty list")
	}
}
