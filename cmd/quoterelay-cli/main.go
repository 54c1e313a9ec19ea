package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bennah995/quoterelay/internal/localstore"
	"github.com/bennah995/quoterelay/internal/quote"
)

const usage = `usage: quoterelay-cli [-quotes-file path] [-session-file path] <command> [args]

commands:
  random [-category name]   print a random quote
  add <text> [category]     append a quote with the next free ID
  list [-category name]     print all quotes
  categories                print the distinct categories
  export [-o path]          write the quote document to a file or stdout
  import <path>             merge a quote document into the local list
`

func main() {
	quotesPath := flag.String("quotes-file", envOrDefault("QUOTERELAY_QUOTES_FILE", "quotes.json"), "local quotes JSON file")
	sessionPath := flag.String("session-file", strings.TrimSpace(os.Getenv("QUOTERELAY_SESSION_FILE")), "session state file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *sessionPath == "" {
		*sessionPath = filepath.Join(filepath.Dir(*quotesPath), ".quoterelay-session.json")
	}

	app := &cliApp{
		quotes:  localstore.NewQuotesFile(*quotesPath),
		session: localstore.NewSessionFile(*sessionPath),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		out:     os.Stdout,
	}
	if err := app.run(flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "quoterelay-cli: %v\n", err)
		os.Exit(1)
	}
}

type cliApp struct {
	quotes  *localstore.QuotesFile
	session *localstore.SessionFile
	rng     *rand.Rand
	out     io.Writer
}

func (a *cliApp) run(command string, args []string) error {
	switch command {
	case "random":
		return a.runRandom(args)
	case "add":
		return a.runAdd(args)
	case "list":
		return a.runList(args)
	case "categories":
		return a.runCategories(args)
	case "export":
		return a.runExport(args)
	case "import":
		return a.runImport(args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *cliApp) runRandom(args []string) error {
	fs := flag.NewFlagSet("random", flag.ContinueOnError)
	category := fs.String("category", "", "restrict to one category")
	if err := fs.Parse(args); err != nil {
		return err
	}
	quotes, err := a.quotes.LoadOrSeed()
	if err != nil {
		return err
	}
	session, err := a.session.Load()
	if err != nil {
		return err
	}
	// An explicit flag overrides the remembered filter, including "all"
	// to clear it.
	if *category == "" {
		*category = session.LastCategory
	}
	picked, ok := pickFresh(a.rng, quotes, *category, session.LastViewedID)
	if !ok {
		return fmt.Errorf("no quotes in category %q", *category)
	}
	session.LastViewedID = picked.ID
	session.LastCategory = *category
	if err := a.session.Save(session); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%q [%s] (#%d)\n", picked.Text, picked.Category, picked.ID)
	return nil
}

func (a *cliApp) runAdd(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: add <text> [category]")
	}
	quotes, err := a.quotes.LoadOrSeed()
	if err != nil {
		return err
	}
	added := quote.Quote{ID: nextQuoteID(quotes), Text: args[0]}
	if len(args) == 2 {
		added.Category = args[1]
	}
	added = quote.Normalize(added)
	if err := quote.Validate(added); err != nil {
		return err
	}
	quotes = append(quotes, added)
	if err := a.quotes.Save(quotes); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "added quote #%d in %s\n", added.ID, added.Category)
	return nil
}

func (a *cliApp) runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	category := fs.String("category", "", "restrict to one category")
	if err := fs.Parse(args); err != nil {
		return err
	}
	quotes, err := a.quotes.Load()
	if err != nil {
		return err
	}
	filtered := quote.FilterByCategory(quotes, *category)
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	for _, q := range filtered {
		fmt.Fprintf(a.out, "%4d  [%s]  %s\n", q.ID, q.Category, q.Text)
	}
	return nil
}

func (a *cliApp) runCategories(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: categories")
	}
	quotes, err := a.quotes.Load()
	if err != nil {
		return err
	}
	for _, category := range quote.Categories(quotes) {
		fmt.Fprintln(a.out, category)
	}
	return nil
}

func (a *cliApp) runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	outPath := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	quotes, err := a.quotes.Load()
	if err != nil {
		return err
	}
	doc, err := quote.Document(quotes)
	if err != nil {
		return err
	}
	if *outPath == "" {
		_, err = a.out.Write(append(doc, '\n'))
		return err
	}
	return os.WriteFile(*outPath, doc, 0o644)
}

func (a *cliApp) runImport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: import <path>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	incoming, err := quote.ParseDocument(data)
	if err != nil {
		return err
	}
	local, err := a.quotes.Load()
	if err != nil {
		return err
	}
	merged, result := quote.Merge(local, incoming)
	if len(incoming) == 0 {
		fmt.Fprintln(a.out, "no new quotes")
		return nil
	}
	if err := a.quotes.Save(merged); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "added %d, conflicts %d, total %d\n", result.Added, result.Conflicts, len(merged))
	return nil
}

// pickFresh avoids repeating the last viewed quote when the pool allows.
func pickFresh(rng *rand.Rand, quotes []quote.Quote, category string, lastViewedID int64) (quote.Quote, bool) {
	pool := quote.FilterByCategory(quotes, category)
	if len(pool) > 1 && lastViewedID > 0 {
		fresh := make([]quote.Quote, 0, len(pool))
		for _, q := range pool {
			if q.ID != lastViewedID {
				fresh = append(fresh, q)
			}
		}
		if len(fresh) > 0 {
			pool = fresh
		}
	}
	return quote.Pick(rng, pool, "")
}

func nextQuoteID(quotes []quote.Quote) int64 {
	var max int64
	for _, q := range quotes {
		if q.ID > max {
			max = q.ID
		}
	}
	return max + 1
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
