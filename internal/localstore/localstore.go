// Package localstore persists the sync agent's quote list and session
// state as JSON files, standing in for the browser-storage side of the
// original application.
package localstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/bennah995/quoterelay/internal/quote"
)

// DefaultQuotes seeds a fresh quotes file so the random view has
// something to show before the first sync.
var DefaultQuotes = []quote.Quote{
	{ID: 1, Text: "The journey of a thousand miles begins with one step.", Category: "motivation"},
	{ID: 2, Text: "Life is what happens when you're busy making other plans.", Category: "life"},
	{ID: 3, Text: "The only way to do great work is to love what you do.", Category: "work"},
}

// Session carries the state the original app kept in sessionStorage and
// the filter preference it kept in localStorage.
type Session struct {
	LastViewedID int64  `json:"lastViewedId,omitempty"`
	LastCategory string `json:"lastCategory,omitempty"`
}

type QuotesFile struct {
	Path string
}

func NewQuotesFile(path string) *QuotesFile {
	return &QuotesFile{Path: strings.TrimSpace(path)}
}

// Load reads the quote list. A missing file yields an empty list, not an
// error, so a first run starts clean.
func (f *QuotesFile) Load() ([]quote.Quote, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return quote.ParseDocument(data)
}

// LoadOrSeed loads the list, writing and returning DefaultQuotes when the
// file does not exist yet.
func (f *QuotesFile) LoadOrSeed() ([]quote.Quote, error) {
	if _, err := os.Stat(f.Path); errors.Is(err, os.ErrNotExist) {
		seeded := append([]quote.Quote(nil), DefaultQuotes...)
		if err := f.Save(seeded); err != nil {
			return nil, err
		}
		return seeded, nil
	}
	return f.Load()
}

func (f *QuotesFile) Save(quotes []quote.Quote) error {
	data, err := quote.Document(quotes)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.Path, data, 0o644)
}

type SessionFile struct {
	Path string
}

func NewSessionFile(path string) *SessionFile {
	return &SessionFile{Path: strings.TrimSpace(path)}
}

func (f *SessionFile) Load() (Session, error) {
	if f == nil || f.Path == "" {
		return Session{}, nil
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, nil
		}
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (f *SessionFile) Save(session Session) error {
	if f == nil || f.Path == "" {
		return nil
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.Path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
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
