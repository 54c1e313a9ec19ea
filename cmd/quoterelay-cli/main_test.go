package main

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bennah995/quoterelay/internal/localstore"
	"github.com/bennah995/quoterelay/internal/quote"
)

func newTestApp(t *testing.T) (*cliApp, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	out := &bytes.Buffer{}
	app := &cliApp{
		quotes:  localstore.NewQuotesFile(filepath.Join(dir, "quotes.json")),
		session: localstore.NewSessionFile(filepath.Join(dir, "session.json")),
		rng:     rand.New(rand.NewSource(1)),
		out:     out,
	}
	return app, out
}

func seedQuotes(t *testing.T, app *cliApp, quotes []quote.Quote) {
	t.Helper()
	if err := app.quotes.Save(quotes); err != nil {
		t.Fatalf("seed quotes: %v", err)
	}
}

func TestAddAssignsNextID(t *testing.T) {
	app, out := newTestApp(t)
	seedQuotes(t, app, []quote.Quote{
		{ID: 1, Text: "first", Category: "wit"},
		{ID: 7, Text: "seventh", Category: "wit"},
	})

	if err := app.run("add", []string{"fresh words", "stoic"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.Contains(out.String(), "added quote #8 in stoic") {
		t.Fatalf("unexpected output %q", out.String())
	}

	quotes, err := app.quotes.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(quotes) != 3 || quotes[2].ID != 8 || quotes[2].Category != "stoic" {
		t.Fatalf("unexpected quotes %+v", quotes)
	}
}

func TestAddDefaultsCategoryAndRejectsEmptyText(t *testing.T) {
	app, _ := newTestApp(t)
	seedQuotes(t, app, []quote.Quote{{ID: 1, Text: "only", Category: "wit"}})

	if err := app.run("add", []string{"uncategorized words"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	quotes, _ := app.quotes.Load()
	if quotes[1].Category != "general" {
		t.Fatalf("expected default category general, got %q", quotes[1].Category)
	}

	if err := app.run("add", []string{"   "}); err == nil {
		t.Fatal("expected blank text to be rejected")
	}
}

func TestRandomHonorsCategoryAndRemembersSession(t *testing.T) {
	app, out := newTestApp(t)
	seedQuotes(t, app, []quote.Quote{
		{ID: 1, Text: "calm", Category: "stoic"},
		{ID: 2, Text: "joke", Category: "wit"},
	})

	if err := app.run("random", []string{"-category", "stoic"}); err != nil {
		t.Fatalf("random failed: %v", err)
	}
	if !strings.Contains(out.String(), "calm") {
		t.Fatalf("expected the stoic quote, got %q", out.String())
	}

	session, err := app.session.Load()
	if err != nil {
		t.Fatalf("session load: %v", err)
	}
	if session.LastViewedID != 1 || session.LastCategory != "stoic" {
		t.Fatalf("unexpected session %+v", session)
	}

	// The remembered filter applies on the next run without a flag.
	out.Reset()
	if err := app.run("random", nil); err != nil {
		t.Fatalf("random without flag failed: %v", err)
	}
	if !strings.Contains(out.String(), "calm") {
		t.Fatalf("expected the remembered category to hold, got %q", out.String())
	}
}

func TestRandomUnknownCategoryFails(t *testing.T) {
	app, _ := newTestApp(t)
	seedQuotes(t, app, []quote.Quote{{ID: 1, Text: "only", Category: "wit"}})
	if err := app.run("random", []string{"-category", "nope"}); err == nil {
		t.Fatal("expected an error for an empty category")
	}
}

func TestPickFreshAvoidsImmediateRepeat(t *testing.T) {
	quotes := []quote.Quote{
		{ID: 1, Text: "a", Category: "wit"},
		{ID: 2, Text: "b", Category: "wit"},
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		picked, ok := pickFresh(rng, quotes, "wit", 1)
		if !ok {
			t.Fatal("expected a pick")
		}
		if picked.ID == 1 {
			t.Fatal("picked the last viewed quote despite an alternative")
		}
	}

	// A single-quote pool still yields that quote.
	picked, ok := pickFresh(rng, quotes[:1], "wit", 1)
	if !ok || picked.ID != 1 {
		t.Fatalf("expected the only quote, got %+v ok=%v", picked, ok)
	}
}

func TestListAndCategories(t *testing.T) {
	app, out := newTestApp(t)
	seedQuotes(t, app, []quote.Quote{
		{ID: 2, Text: "joke", Category: "wit"},
		{ID: 1, Text: "calm", Category: "stoic"},
	})

	if err := app.run("list", nil); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "calm") {
		t.Fatalf("expected ID-ordered listing, got %q", out.String())
	}

	out.Reset()
	if err := app.run("categories", nil); err != nil {
		t.Fatalf("categories failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "stoic\nwit" {
		t.Fatalf("expected sorted categories, got %q", got)
	}
}

func TestExportAndImportRoundTrip(t *testing.T) {
	app, _ := newTestApp(t)
	seedQuotes(t, app, []quote.Quote{{ID: 1, Text: "keep me", Category: "wit"}})

	exportPath := filepath.Join(t.TempDir(), "export.json")
	if err := app.run("export", []string{"-o", exportPath}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	other, otherOut := newTestApp(t)
	seedQuotes(t, other, []quote.Quote{{ID: 1, Text: "replace me", Category: "old"}})
	if err := other.run("import", []string{exportPath}); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(otherOut.String(), "added 0, conflicts 1, total 1") {
		t.Fatalf("unexpected import summary %q", otherOut.String())
	}
	quotes, _ := other.quotes.Load()
	if len(quotes) != 1 || quotes[0].Text != "keep me" {
		t.Fatalf("expected the imported copy to win, got %+v", quotes)
	}
}

func TestImportEmptyDocumentReportsNoNewQuotes(t *testing.T) {
	app, out := newTestApp(t)
	seedQuotes(t, app, []quote.Quote{{ID: 1, Text: "keep me", Category: "wit"}})

	emptyPath := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(emptyPath, []byte(`{"quotes":[]}`), 0o644); err != nil {
		t.Fatalf("write empty doc: %v", err)
	}
	if err := app.run("import", []string{emptyPath}); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out.String(), "no new quotes") {
		t.Fatalf("expected no new quotes message, got %q", out.String())
	}
	quotes, _ := app.quotes.Load()
	if len(quotes) != 1 {
		t.Fatalf("expected local list untouched, got %+v", quotes)
	}
}

func TestImportRejectsInvalidDocument(t *testing.T) {
	app, _ := newTestApp(t)
	badPath := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(badPath, []byte(`{"quotes":"nope"}`), 0o644); err != nil {
		t.Fatalf("write bad doc: %v", err)
	}
	if err := app.run("import", []string{badPath}); err == nil {
		t.Fatal("expected schema validation to reject the document")
	}
}

func TestUnknownCommand(t *testing.T) {
	app, _ := newTestApp(t)
	if err := app.run("frobnicate", nil); err == nil {
		t.Fatal("expected unknown command error")
	}
}
