package quote

import (
	"errors"
	"strings"
	"testing"
)

func TestParseDocumentAcceptsWrappedAndBareArrays(t *testing.T) {
	wrapped := []byte(`{"quotes":[{"id":1,"text":"hello","category":"zen"}]}`)
	quotes, err := ParseDocument(wrapped)
	if err != nil {
		t.Fatalf("wrapped document failed: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Text != "hello" {
		t.Fatalf("unexpected quotes: %+v", quotes)
	}

	bare := []byte(`[{"id":2,"text":"plain"}]`)
	quotes, err = ParseDocument(bare)
	if err != nil {
		t.Fatalf("bare array failed: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Category != DefaultCategory {
		t.Fatalf("expected defaulted category, got %+v", quotes)
	}
}

func TestParseDocumentRejectsInvalidShapes(t *testing.T) {
	cases := []string{
		`{"quotes":[{"id":0,"text":"bad id"}]}`,
		`{"quotes":[{"id":1}]}`,
		`{"quotes":[{"id":1,"text":""}]}`,
		`{"nope":true}`,
		`"not a document"`,
		`{"quotes":[{"id":"1","text":"string id"}]}`,
	}
	for _, raw := range cases {
		if _, err := ParseDocument([]byte(raw)); !errors.Is(err, ErrInvalidQuote) {
			t.Fatalf("expected ErrInvalidQuote for %s, got %v", raw, err)
		}
	}
	if _, err := ParseDocument([]byte(`{"quotes":[`)); err == nil {
		t.Fatalf("expected error for truncated json")
	}
}

func TestDocumentRoundTrips(t *testing.T) {
	quotes := []Quote{{ID: 1, Text: "hello", Category: "zen"}}
	data, err := Document(quotes)
	if err != nil {
		t.Fatalf("document failed: %v", err)
	}
	if !strings.Contains(string(data), `"quotes"`) {
		t.Fatalf("expected wrapped payload, got %s", data)
	}
	parsed, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("parse of exported document failed: %v", err)
	}
	if len(parsed) != 1 || !Equal(parsed[0], quotes[0]) {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}

	empty, err := Document(nil)
	if err != nil {
		t.Fatalf("empty document failed: %v", err)
	}
	if !strings.Contains(string(empty), `"quotes": []`) {
		t.Fatalf("expected empty array, got %s", empty)
	}
}
