package syncclient

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bennah995/quoterelay/internal/localstore"
	"github.com/bennah995/quoterelay/internal/quote"
)

type pushRecord struct {
	Quote        quote.Quote
	BaseRevision string
}

type fakeRemote struct {
	mu              sync.Mutex
	quotes          []RemoteQuote
	events          []RemoteEvent
	eventsErr       error
	conflictIDs     map[int64]bool
	pushes          []pushRecord
	listQuoteCalls  int
	revisionCounter int
}

// rejectOversizedLimit mirrors the server's page-size validation so the
// fakes fail the same way the real API would.
func rejectOversizedLimit(limit int) error {
	if limit > 500 {
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "invalid_request", Message: "limit must be an integer between 1 and 500"}
	}
	return nil
}

func (f *fakeRemote) ListQuotes(ctx context.Context, workspaceID, cursor string, limit int) (QuotePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := rejectOversizedLimit(limit); err != nil {
		return QuotePage{}, err
	}
	f.listQuoteCalls++
	return QuotePage{Items: append([]RemoteQuote(nil), f.quotes...)}, nil
}

func (f *fakeRemote) ListEvents(ctx context.Context, workspaceID, cursor string, limit int) (EventFeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := rejectOversizedLimit(limit); err != nil {
		return EventFeed{}, err
	}
	if f.eventsErr != nil {
		return EventFeed{}, f.eventsErr
	}
	start := 0
	if cursor != "" {
		for i, event := range f.events {
			if event.EventID == cursor {
				start = i + 1
				break
			}
		}
	}
	return EventFeed{Events: append([]RemoteEvent(nil), f.events[start:]...)}, nil
}

func (f *fakeRemote) GetQuote(ctx context.Context, workspaceID string, quoteID int64) (RemoteQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rq := range f.quotes {
		if rq.ID == quoteID {
			return rq, nil
		}
	}
	return RemoteQuote{}, &HTTPError{StatusCode: http.StatusNotFound, Code: "not_found"}
}

func (f *fakeRemote) PutQuote(ctx context.Context, workspaceID string, q quote.Quote, baseRevision string) (WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictIDs[q.ID] {
		return WriteResult{}, &ConflictError{QuoteID: q.ID}
	}
	f.pushes = append(f.pushes, pushRecord{Quote: q, BaseRevision: baseRevision})
	f.revisionCounter++
	revision := fmt.Sprintf("rev_%d", f.revisionCounter)
	replaced := false
	for i, rq := range f.quotes {
		if rq.ID == q.ID {
			f.quotes[i] = RemoteQuote{Quote: q, Revision: revision}
			replaced = true
			break
		}
	}
	if !replaced {
		f.quotes = append(f.quotes, RemoteQuote{Quote: q, Revision: revision})
		event := RemoteEvent{
			EventID: fmt.Sprintf("evt_%d", f.revisionCounter),
			Type:    "quote.created",
			QuoteID: q.ID,
		}
		f.events = append(f.events, event)
	}
	return WriteResult{TargetRevision: revision}, nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func newTestSyncer(t *testing.T, client RemoteClient, local []quote.Quote, opts SyncerOptions) (*Syncer, string) {
	t.Helper()
	dir := t.TempDir()
	quotesPath := filepath.Join(dir, "quotes.json")
	if local != nil {
		if err := localstore.NewQuotesFile(quotesPath).Save(local); err != nil {
			t.Fatalf("seed quotes file: %v", err)
		}
	}
	opts.WorkspaceID = "ws_sync_1"
	opts.QuotesFile = quotesPath
	syncer, err := NewSyncer(client, opts)
	if err != nil {
		t.Fatalf("new syncer: %v", err)
	}
	return syncer, quotesPath
}

func TestSyncOnceMergesRemoteWinsAndPushesLocalOnly(t *testing.T) {
	client := &fakeRemote{
		quotes: []RemoteQuote{
			{Quote: quote.Quote{ID: 1, Text: "remote one", Category: "remote"}, Revision: "rev_1"},
			{Quote: quote.Quote{ID: 2, Text: "remote two", Category: "remote"}, Revision: "rev_2"},
		},
		revisionCounter: 2,
	}
	local := []quote.Quote{
		{ID: 1, Text: "local one", Category: "local"},
		{ID: 3, Text: "local three", Category: "local"},
	}
	syncer, quotesPath := newTestSyncer(t, client, local, SyncerOptions{})

	report, err := syncer.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("sync once: %v", err)
	}
	if report.Added != 1 || report.Conflicts != 1 {
		t.Fatalf("expected added=1 conflicts=1, got %+v", report)
	}
	if report.Pushed != 1 {
		t.Fatalf("expected one push, got %d", report.Pushed)
	}
	if report.Total != 3 {
		t.Fatalf("expected 3 merged quotes, got %d", report.Total)
	}

	merged, err := localstore.NewQuotesFile(quotesPath).Load()
	if err != nil {
		t.Fatalf("reload quotes file: %v", err)
	}
	if len(merged) != 3 {
		t.Fatalf("expected 3 quotes on disk, got %d", len(merged))
	}
	if merged[0].ID != 1 || merged[0].Text != "remote one" {
		t.Fatalf("expected remote copy to win for id 1, got %+v", merged[0])
	}
	if merged[2].ID != 3 {
		t.Fatalf("expected local-only quote last, got %+v", merged[2])
	}

	if client.pushCount() != 1 {
		t.Fatalf("expected exactly one push, got %d", client.pushCount())
	}
	if client.pushes[0].Quote.ID != 3 || client.pushes[0].BaseRevision != "0" {
		t.Fatalf("unexpected push %+v", client.pushes[0])
	}
}

func TestSyncOnceEmptyRemoteReportsNoNewQuotes(t *testing.T) {
	client := &fakeRemote{}
	local := []quote.Quote{
		{ID: 1, Text: "stays", Category: "local"},
		{ID: 2, Text: "also stays", Category: "local"},
	}
	syncer, quotesPath := newTestSyncer(t, client, local, SyncerOptions{NoPush: true})

	report, err := syncer.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("sync once: %v", err)
	}
	if !report.NoNewQuotes {
		t.Fatalf("expected no-new-quotes report, got %+v", report)
	}
	if report.Added != 0 || report.Conflicts != 0 || report.Pushed != 0 {
		t.Fatalf("expected all-zero counts, got %+v", report)
	}
	if report.String() != "no new quotes" {
		t.Fatalf("expected report string 'no new quotes', got %q", report.String())
	}

	after, err := localstore.NewQuotesFile(quotesPath).Load()
	if err != nil {
		t.Fatalf("reload quotes file: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("expected local list untouched, got %d quotes", len(after))
	}
}

func TestSyncOnceIsIdempotent(t *testing.T) {
	client := &fakeRemote{
		quotes: []RemoteQuote{
			{Quote: quote.Quote{ID: 1, Text: "remote one", Category: "remote"}, Revision: "rev_1"},
		},
		revisionCounter: 1,
	}
	local := []quote.Quote{{ID: 2, Text: "local two", Category: "local"}}
	syncer, _ := newTestSyncer(t, client, local, SyncerOptions{})

	first, err := syncer.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Pushed != 1 {
		t.Fatalf("expected first pass to push, got %+v", first)
	}

	second, err := syncer.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Added != 0 || second.Conflicts != 0 || second.Pushed != 0 {
		t.Fatalf("expected quiet second pass, got %+v", second)
	}
	if client.pushCount() != 1 {
		t.Fatalf("expected no extra pushes, got %d", client.pushCount())
	}
}

func TestSyncSkipsFullFetchWhenFeedIsQuiet(t *testing.T) {
	client := &fakeRemote{
		quotes: []RemoteQuote{
			{Quote: quote.Quote{ID: 1, Text: "remote one", Category: "remote"}, Revision: "rev_1"},
		},
		events: []RemoteEvent{
			{EventID: "evt_1", Type: "quote.created", QuoteID: 1},
		},
		revisionCounter: 1,
	}
	syncer, _ := newTestSyncer(t, client, []quote.Quote{}, SyncerOptions{})

	if _, err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	firstCalls := client.listQuoteCalls
	if firstCalls == 0 {
		t.Fatal("expected first pass to pull the remote list")
	}

	if _, err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if client.listQuoteCalls != firstCalls {
		t.Fatalf("expected quiet feed to skip the fetch, calls went %d -> %d", firstCalls, client.listQuoteCalls)
	}
}

func TestSyncFallsBackToFullPullWhenFeedMissing(t *testing.T) {
	client := &fakeRemote{
		quotes: []RemoteQuote{
			{Quote: quote.Quote{ID: 5, Text: "remote five", Category: "remote"}, Revision: "rev_5"},
		},
		eventsErr:       &HTTPError{StatusCode: http.StatusNotFound, Code: "not_found"},
		revisionCounter: 5,
	}
	syncer, quotesPath := newTestSyncer(t, client, []quote.Quote{}, SyncerOptions{})

	report, err := syncer.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("sync once: %v", err)
	}
	if report.Added != 1 {
		t.Fatalf("expected the remote quote to arrive, got %+v", report)
	}

	after, err := localstore.NewQuotesFile(quotesPath).Load()
	if err != nil {
		t.Fatalf("reload quotes file: %v", err)
	}
	if len(after) != 1 || after[0].ID != 5 {
		t.Fatalf("expected quote 5 on disk, got %+v", after)
	}
}

func TestPushConflictLetsServerCopyWin(t *testing.T) {
	client := &fakeRemote{
		conflictIDs: map[int64]bool{7: true},
	}
	local := []quote.Quote{{ID: 7, Text: "contested", Category: "local"}}
	syncer, _ := newTestSyncer(t, client, local, SyncerOptions{})

	report, err := syncer.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("sync once: %v", err)
	}
	if report.Pushed != 0 {
		t.Fatalf("expected conflicted push to be skipped, got %+v", report)
	}
	if client.pushCount() != 0 {
		t.Fatalf("expected no recorded pushes, got %d", client.pushCount())
	}
}

func TestSeedOptionWritesDefaultQuotes(t *testing.T) {
	client := &fakeRemote{}
	syncer, quotesPath := newTestSyncer(t, client, nil, SyncerOptions{SeedQuotes: true, NoPush: true})

	if _, err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync once: %v", err)
	}
	quotes, err := localstore.NewQuotesFile(quotesPath).Load()
	if err != nil {
		t.Fatalf("reload quotes file: %v", err)
	}
	if len(quotes) != len(localstore.DefaultQuotes) {
		t.Fatalf("expected seeded defaults, got %d quotes", len(quotes))
	}
}

func TestWatchSyncsOnLocalEdit(t *testing.T) {
	client := &fakeRemote{}
	local := []quote.Quote{{ID: 1, Text: "first", Category: "local"}}
	syncer, quotesPath := newTestSyncer(t, client, local, SyncerOptions{})

	if _, err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("initial sync: %v", err)
	}
	baseline := client.pushCount()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- syncer.Watch(ctx)
	}()

	// Let the watcher settle before editing.
	time.Sleep(150 * time.Millisecond)

	edited := []quote.Quote{
		{ID: 1, Text: "first", Category: "local"},
		{ID: 2, Text: "second", Category: "local"},
	}
	if err := localstore.NewQuotesFile(quotesPath).Save(edited); err != nil {
		t.Fatalf("edit quotes file: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for client.pushCount() == baseline {
		if time.Now().After(deadline) {
			t.Fatal("watch did not trigger a sync for the local edit")
		}
		time.Sleep(25 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			t.Fatalf("watch returned unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

func TestStatePersistsAcrossSyncers(t *testing.T) {
	client := &fakeRemote{
		quotes: []RemoteQuote{
			{Quote: quote.Quote{ID: 1, Text: "remote one", Category: "remote"}, Revision: "rev_1"},
		},
		events: []RemoteEvent{
			{EventID: "evt_1", Type: "quote.created", QuoteID: 1},
		},
		revisionCounter: 1,
	}
	dir := t.TempDir()
	quotesPath := filepath.Join(dir, "quotes.json")
	statePath := filepath.Join(dir, "state.json")
	if err := localstore.NewQuotesFile(quotesPath).Save([]quote.Quote{}); err != nil {
		t.Fatalf("seed quotes file: %v", err)
	}

	first, err := NewSyncer(client, SyncerOptions{WorkspaceID: "ws_sync_1", QuotesFile: quotesPath, StateFile: statePath})
	if err != nil {
		t.Fatalf("new syncer: %v", err)
	}
	if _, err := first.SyncOnce(context.Background()); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("expected state file to exist: %v", err)
	}

	second, err := NewSyncer(client, SyncerOptions{WorkspaceID: "ws_sync_1", QuotesFile: quotesPath, StateFile: statePath})
	if err != nil {
		t.Fatalf("new syncer again: %v", err)
	}
	calls := client.listQuoteCalls
	if _, err := second.SyncOnce(context.Background()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	added, conflicts := second.Totals()
	if added < 1 {
		t.Fatalf("expected cumulative added count to survive restart, got %d (conflicts %d)", added, conflicts)
	}
	if client.listQuoteCalls != calls {
		t.Fatalf("expected restored cursor to skip the fetch, calls went %d -> %d", calls, client.listQuoteCalls)
	}
}
