// Package history keeps the bounded log of past generations and the user's
// selections, plus the generated/selected counters.
package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tweetbot/internal/parser"
	"github.com/kalambet/tweetbot/internal/persona"
)

const (
	// HistoryKey and StatsKey are the document keys in the store.
	HistoryKey = "tweetHistory"
	StatsKey   = "stats"

	// MaxEntries bounds the log. The oldest entries are evicted first.
	MaxEntries = 200
	// ContextCount is how many selected entries feed voice matching.
	ContextCount = 10
)

// DocStore is the key-value document storage the Store needs.
type DocStore interface {
	GetDoc(ctx context.Context, key string, v any) (bool, error)
	PutDoc(ctx context.Context, key string, v any) error
}

// Original is the post a reply or quote was generated for.
type Original struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

// Selection is the suggestion the user picked, with their final edits.
type Selection struct {
	Index int       `json:"index"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Entry is one generation.
type Entry struct {
	ID          string               `json:"id"`
	Timestamp   time.Time            `json:"timestamp"`
	Action      string               `json:"action"`
	Topic       string               `json:"topic,omitempty"`
	Original    *Original            `json:"originalTweet,omitempty"`
	Suggestions []parser.Suggestion  `json:"suggestions,omitempty"`
	Thread      []parser.ThreadEntry `json:"thread,omitempty"`
	Selection   *Selection           `json:"selection,omitempty"`
	Persona     persona.Persona      `json:"persona"`
	Refinement  string               `json:"refinement,omitempty"`
}

// Selected reports whether a selection has been recorded.
func (e Entry) Selected() bool { return e.Selection != nil }

// Stats are lifetime counters. They survive Clear.
type Stats struct {
	TotalGenerated int64 `json:"totalGenerated"`
	TotalSelected  int64 `json:"totalSelected"`
}

// Store is the history repository.
//
// Every mutation is a read-modify-write of one document. mu serializes them
// within this process; other processes sharing the store can still lose an
// update (last write wins).
type Store struct {
	docs  DocStore
	now   func() time.Time
	newID func() string

	mu sync.Mutex
}

// NewStore creates a Store backed by docs.
func NewStore(docs DocStore) *Store {
	return &Store{
		docs:  docs,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// List returns every entry, oldest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if _, err := s.docs.GetDoc(ctx, HistoryKey, &entries); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return entries, nil
}

// Get returns the entry with id.
func (s *Store) Get(ctx context.Context, id string) (Entry, bool, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Append stores e, assigning ID and Timestamp when unset, evicts entries
// beyond MaxEntries and bumps TotalGenerated.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}

	entries, err := s.List(ctx)
	if err != nil {
		return Entry{}, err
	}
	entries = append(entries, e)
	if over := len(entries) - MaxEntries; over > 0 {
		entries = entries[over:]
	}
	if err := s.docs.PutDoc(ctx, HistoryKey, entries); err != nil {
		return Entry{}, fmt.Errorf("writing history: %w", err)
	}

	if err := s.bumpStats(ctx, func(st *Stats) { st.TotalGenerated++ }); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// RecordSelection marks the suggestion at index as chosen with the user's
// final text. It reports false when id is unknown, index is out of range, or
// the entry already has a selection.
func (s *Store) RecordSelection(ctx context.Context, id string, index int, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.List(ctx)
	if err != nil {
		return false, err
	}

	pos := -1
	for i := range entries {
		if entries[i].ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false, nil
	}
	e := &entries[pos]
	if e.Selected() || index < 0 || index >= e.size() {
		return false, nil
	}

	if strings.TrimSpace(text) == "" {
		text = e.itemText(index)
	}
	e.Selection = &Selection{Index: index, Text: text, At: s.now().UTC()}
	if err := s.docs.PutDoc(ctx, HistoryKey, entries); err != nil {
		return false, fmt.Errorf("writing history: %w", err)
	}
	if err := s.bumpStats(ctx, func(st *Stats) { st.TotalSelected++ }); err != nil {
		return false, err
	}
	return true, nil
}

func (e Entry) itemText(i int) string {
	if len(e.Thread) > 0 {
		return e.Thread[i].Text
	}
	return e.Suggestions[i].Text
}

func (e Entry) size() int {
	if len(e.Thread) > 0 {
		return len(e.Thread)
	}
	return len(e.Suggestions)
}

// SelectedContext returns up to ContextCount of the most recently selected
// entries, oldest first.
func (s *Store) SelectedContext(ctx context.Context) ([]Entry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var selected []Entry
	for _, e := range entries {
		if e.Selected() {
			selected = append(selected, e)
		}
	}
	if over := len(selected) - ContextCount; over > 0 {
		selected = selected[over:]
	}
	return selected, nil
}

// Clear removes every entry. Stats are kept.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.docs.PutDoc(ctx, HistoryKey, []Entry{}); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Stats returns the counters. A missing document reads as zero.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if _, err := s.docs.GetDoc(ctx, StatsKey, &st); err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	return st, nil
}

func (s *Store) bumpStats(ctx context.Context, fn func(*Stats)) error {
	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	fn(&st)
	if err := s.docs.PutDoc(ctx, StatsKey, st); err != nil {
		return fmt.Errorf("writing stats: %w", err)
	}
	return nil
}
