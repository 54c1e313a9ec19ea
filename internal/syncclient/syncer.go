package syncclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bennah995/quoterelay/internal/localstore"
	"github.com/bennah995/quoterelay/internal/quote"
)

type Logger interface {
	Printf(format string, args ...any)
}

// The events endpoint rejects page limits above 500.
const eventPageSize = 500

type SyncerOptions struct {
	WorkspaceID string
	QuotesFile  string
	StateFile   string
	NoPush      bool
	SeedQuotes  bool
	Logger      Logger
}

// Report summarizes one sync pass.
type Report struct {
	Added       int    `json:"added"`
	Conflicts   int    `json:"conflicts"`
	Pushed      int    `json:"pushed"`
	Total       int    `json:"total"`
	NoNewQuotes bool   `json:"noNewQuotes"`
	SyncedAt    string `json:"syncedAt"`
}

func (r Report) String() string {
	if r.NoNewQuotes && r.Pushed == 0 {
		return "no new quotes"
	}
	return fmt.Sprintf("added %d, conflicts %d, pushed %d, total %d", r.Added, r.Conflicts, r.Pushed, r.Total)
}

// Syncer reconciles a local quotes file with a workspace on the server.
// The server side always wins an ID collision; quotes only the local file
// knows are pushed up unless NoPush is set.
type Syncer struct {
	client     RemoteClient
	workspace  string
	quotesFile *localstore.QuotesFile
	stateFile  string
	noPush     bool
	seed       bool
	logger     Logger
	state      syncState
	loaded     bool

	// Hash of the quotes document this syncer last wrote, so the watch
	// loop can tell its own saves apart from outside edits.
	lastSavedHash string
}

type syncState struct {
	Revisions      map[string]string `json:"revisions"`
	EventsCursor   string            `json:"eventsCursor,omitempty"`
	TotalAdded     int               `json:"totalAdded"`
	TotalConflicts int               `json:"totalConflicts"`
	LastSyncAt     string            `json:"lastSyncAt,omitempty"`
}

func NewSyncer(client RemoteClient, opts SyncerOptions) (*Syncer, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	workspace := strings.TrimSpace(opts.WorkspaceID)
	if workspace == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	quotesPath := strings.TrimSpace(opts.QuotesFile)
	if quotesPath == "" {
		return nil, fmt.Errorf("quotes file is required")
	}
	stateFile := strings.TrimSpace(opts.StateFile)
	if stateFile == "" {
		stateFile = filepath.Join(filepath.Dir(quotesPath), ".quoterelay-sync-state.json")
	}
	return &Syncer{
		client:     client,
		workspace:  workspace,
		quotesFile: localstore.NewQuotesFile(quotesPath),
		stateFile:  stateFile,
		noPush:     opts.NoPush,
		seed:       opts.SeedQuotes,
		logger:     opts.Logger,
		state: syncState{
			Revisions: map[string]string{},
		},
	}, nil
}

// SyncOnce runs one reconcile pass: pull the remote list (or skip it when
// the event feed says nothing changed), merge remote-wins, push local-only
// quotes, persist the merged list and the cursor state.
func (s *Syncer) SyncOnce(ctx context.Context) (Report, error) {
	if err := s.loadState(); err != nil {
		return Report{}, err
	}
	local, err := s.loadLocal()
	if err != nil {
		return Report{}, err
	}

	remote, remoteKnown, err := s.fetchRemote(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	merged := local
	if remoteKnown {
		remotePlain := make([]quote.Quote, 0, len(remote))
		for _, rq := range remote {
			remotePlain = append(remotePlain, rq.Quote)
			s.state.Revisions[quoteKey(rq.ID)] = rq.Revision
		}
		var result quote.MergeResult
		merged, result = quote.Merge(local, remotePlain)
		report.Added = result.Added
		report.Conflicts = result.Conflicts
		if len(remotePlain) == 0 {
			report.NoNewQuotes = true
		}

		if !s.noPush {
			pushed, pushErr := s.pushLocalOnly(ctx, quote.LocalOnly(merged, remotePlain))
			if pushErr != nil {
				return Report{}, pushErr
			}
			report.Pushed = pushed
		}
	} else {
		// Event feed reported no changes since the cursor, so the local
		// list already reflects the server.
		report.NoNewQuotes = true
		if !s.noPush {
			pushed, pushErr := s.pushLocalOnly(ctx, s.untrackedLocal(local))
			if pushErr != nil {
				return Report{}, pushErr
			}
			report.Pushed = pushed
		}
	}

	if err := s.quotesFile.Save(merged); err != nil {
		return Report{}, err
	}
	if doc, docErr := quote.Document(merged); docErr == nil {
		s.lastSavedHash = hashBytes(doc)
	}

	report.Total = len(merged)
	report.SyncedAt = time.Now().UTC().Format(time.RFC3339)
	s.state.TotalAdded += report.Added
	s.state.TotalConflicts += report.Conflicts
	s.state.LastSyncAt = report.SyncedAt
	if err := s.saveState(); err != nil {
		return Report{}, err
	}
	s.logf("sync: %s", report)
	return report, nil
}

// Totals reports the cumulative counters across all passes.
func (s *Syncer) Totals() (added, conflicts int) {
	return s.state.TotalAdded, s.state.TotalConflicts
}

func (s *Syncer) loadLocal() ([]quote.Quote, error) {
	if s.seed {
		return s.quotesFile.LoadOrSeed()
	}
	return s.quotesFile.Load()
}

// fetchRemote returns the remote list. The second return is false when the
// event feed proved nothing changed and the fetch was skipped entirely.
func (s *Syncer) fetchRemote(ctx context.Context) ([]RemoteQuote, bool, error) {
	if s.state.EventsCursor != "" {
		cursor, changed, err := s.checkEvents(ctx, s.state.EventsCursor)
		if err == nil {
			s.state.EventsCursor = cursor
			if !changed {
				return nil, false, nil
			}
			remote, fetchErr := s.fetchRemoteFull(ctx)
			return remote, true, fetchErr
		}
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
			return nil, false, err
		}
		s.logf("events feed unavailable; falling back to full pull")
		s.state.EventsCursor = ""
	}

	remote, err := s.fetchRemoteFull(ctx)
	if err != nil {
		return nil, false, err
	}
	cursor, err := s.resolveLatestEventCursor(ctx)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return remote, true, nil
		}
		return nil, false, err
	}
	s.state.EventsCursor = cursor
	return remote, true, nil
}

func (s *Syncer) fetchRemoteFull(ctx context.Context) ([]RemoteQuote, error) {
	var out []RemoteQuote
	cursor := ""
	for {
		page, err := s.client.ListQuotes(ctx, s.workspace, cursor, 200)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.NextCursor == nil || *page.NextCursor == "" {
			return out, nil
		}
		cursor = *page.NextCursor
	}
}

// checkEvents walks the feed from cursor and reports whether any quote
// changed, returning the advanced cursor.
func (s *Syncer) checkEvents(ctx context.Context, cursor string) (string, bool, error) {
	currentCursor := strings.TrimSpace(cursor)
	changed := false
	for {
		feed, err := s.client.ListEvents(ctx, s.workspace, currentCursor, eventPageSize)
		if err != nil {
			return cursor, false, err
		}
		if len(feed.Events) > 0 {
			changed = true
			last := strings.TrimSpace(feed.Events[len(feed.Events)-1].EventID)
			if last != "" {
				currentCursor = last
			}
		}
		if feed.NextCursor == nil || *feed.NextCursor == "" {
			return currentCursor, changed, nil
		}
		currentCursor = *feed.NextCursor
	}
}

func (s *Syncer) resolveLatestEventCursor(ctx context.Context) (string, error) {
	cursor := ""
	latest := ""
	for {
		feed, err := s.client.ListEvents(ctx, s.workspace, cursor, eventPageSize)
		if err != nil {
			return "", err
		}
		if len(feed.Events) > 0 {
			eventID := strings.TrimSpace(feed.Events[len(feed.Events)-1].EventID)
			if eventID != "" {
				latest = eventID
			}
		}
		if feed.NextCursor == nil || *feed.NextCursor == "" {
			return latest, nil
		}
		cursor = *feed.NextCursor
	}
}

// pushLocalOnly uploads quotes the server has never seen. A conflict means
// someone claimed the ID since the pull; the server copy wins on the next
// pass, so the quote is left alone here.
func (s *Syncer) pushLocalOnly(ctx context.Context, pending []quote.Quote) (int, error) {
	pushed := 0
	for _, q := range pending {
		baseRevision := s.state.Revisions[quoteKey(q.ID)]
		if baseRevision == "" {
			baseRevision = "0"
		}
		result, err := s.client.PutQuote(ctx, s.workspace, q, baseRevision)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				s.logf("conflict pushing quote %d; server copy wins next pass", q.ID)
				continue
			}
			return pushed, err
		}
		if result.TargetRevision != "" {
			s.state.Revisions[quoteKey(q.ID)] = result.TargetRevision
		}
		pushed++
	}
	return pushed, nil
}

// untrackedLocal picks the local quotes without a pushed revision on file,
// the ones added locally since the last pass.
func (s *Syncer) untrackedLocal(local []quote.Quote) []quote.Quote {
	out := make([]quote.Quote, 0)
	for _, q := range local {
		if _, ok := s.state.Revisions[quoteKey(q.ID)]; !ok {
			out = append(out, q)
		}
	}
	return out
}

func (s *Syncer) loadState() error {
	if s.loaded {
		return nil
	}
	s.loaded = true
	data, err := os.ReadFile(s.stateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.state.Revisions = map[string]string{}
			return nil
		}
		return err
	}
	var state syncState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Revisions == nil {
		state.Revisions = map[string]string{}
	}
	s.state = state
	return nil
}

func (s *Syncer) saveState() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.stateFile), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.stateFile, data, 0o644)
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func quoteKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
