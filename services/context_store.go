package services

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"unicode"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/constella/horizon-backend/models"
)

// ContextStore holds context notes and their token index. Notes are
// immutable after creation, so concurrent readers only contend with the
// append path. When opened with a journal path, notes survive restarts
// in a badger database and are reloaded on startup.
type ContextStore struct {
	mu      sync.RWMutex
	entries []noteEntry
	db      *badger.DB
}

type noteEntry struct {
	note   models.ContextNote
	chunks []tokenSet
}

type tokenSet map[string]struct{}

const (
	// Text longer than this is split into overlapping chunks before
	// indexing so one giant screen dump does not dilute scoring.
	chunkThreshold = 2000
	chunkSize      = 1000
	chunkOverlap   = 100

	journalPrefix = "note:"
)

// NewContextStore creates an in-memory store. journalPath may be empty
// to disable persistence.
func NewContextStore(journalPath string) (*ContextStore, error) {
	s := &ContextStore{}
	if journalPath == "" {
		return s, nil
	}

	opts := badger.DefaultOptions(journalPath).
		WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open context journal: %w", err)
	}
	s.db = db

	if err := s.reload(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the journal, if any.
func (s *ContextStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add indexes the note and appends it to the journal. The note is
// copied into the store; callers must not rely on later mutation.
func (s *ContextStore) Add(note models.ContextNote) error {
	entry := noteEntry{note: note, chunks: chunkTokens(note.Snapshot.Text())}

	if s.db != nil {
		data, err := json.Marshal(note)
		if err != nil {
			return fmt.Errorf("failed to marshal note %s: %w", note.ID, err)
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(journalPrefix+note.ID), data)
		})
		if err != nil {
			return fmt.Errorf("failed to journal note %s: %w", note.ID, err)
		}
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored notes.
func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ScoredNote pairs a note with its search score.
type ScoredNote struct {
	Note  models.ContextNote
	Score float64
}

// Search scores notes by token overlap with the query, most relevant
// first, recency breaking ties. An empty result is not an error.
func (s *ContextStore) Search(query string, limit int) []models.ContextNote {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return []models.ContextNote{}
	}

	s.mu.RLock()
	scored := make([]ScoredNote, 0, len(s.entries))
	for _, entry := range s.entries {
		score := entry.score(queryTokens)
		if score > 0 {
			scored = append(scored, ScoredNote{Note: entry.note, Score: score})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Note.CreatedAt.After(scored[j].Note.CreatedAt)
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	notes := make([]models.ContextNote, len(scored))
	for i, sn := range scored {
		notes[i] = sn.Note
	}
	return notes
}

// score is the best overlap fraction across the entry's chunks: the
// share of query tokens present in a single chunk.
func (e noteEntry) score(queryTokens []string) float64 {
	best := 0.0
	for _, chunk := range e.chunks {
		hits := 0
		for _, tok := range queryTokens {
			if _, ok := chunk[tok]; ok {
				hits++
			}
		}
		if score := float64(hits) / float64(len(queryTokens)); score > best {
			best = score
		}
	}
	return best
}

func (s *ContextStore) reload() error {
	var loaded int
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(journalPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var note models.ContextNote
				if err := json.Unmarshal(val, &note); err != nil {
					log.Printf("STORE: skipping corrupt journal entry: %v", err)
					return nil
				}
				s.entries = append(s.entries, noteEntry{
					note:   note,
					chunks: chunkTokens(note.Snapshot.Text()),
				})
				loaded++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reload context journal: %w", err)
	}

	// Journal iteration is keyed by id, not time; restore time order.
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].note.CreatedAt.Before(s.entries[j].note.CreatedAt)
	})
	if loaded > 0 {
		log.Printf("STORE: reloaded %d context notes from journal", loaded)
	}
	return nil
}

func chunkTokens(text string) []tokenSet {
	if text == "" {
		return nil
	}
	pieces := []string{text}
	if len(text) > chunkThreshold {
		splitter := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		)
		if split, err := splitter.SplitText(text); err == nil && len(split) > 0 {
			pieces = split
		}
	}

	chunks := make([]tokenSet, 0, len(pieces))
	for _, piece := range pieces {
		set := tokenSet{}
		for _, tok := range tokenize(piece) {
			set[tok] = struct{}{}
		}
		if len(set) > 0 {
			chunks = append(chunks, set)
		}
	}
	return chunks
}

// tokenize lowercases and splits on anything that is not a letter or
// digit, dropping single-character noise.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	seen := map[string]struct{}{}
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}
