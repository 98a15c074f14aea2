package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constella/horizon-backend/models"
)

// DefaultSessionID is used when a caller does not bind a session.
const DefaultSessionID = "default"

// TagMatcher labels captured text with refs from the tag catalog.
type TagMatcher interface {
	MatchText(text string) []models.TagRef
}

// ContextService orchestrates capture requests: it merges OCR output,
// selected text, and window metadata into context notes, and exposes
// search over everything stored so far.
type ContextService struct {
	store *ContextStore
	ocr   *OCRPipeline
	tags  TagMatcher // optional

	mu      sync.RWMutex
	current map[string]models.ContextSnapshot
}

func NewContextService(store *ContextStore, ocr *OCRPipeline, tags TagMatcher) *ContextService {
	return &ContextService{
		store:   store,
		ocr:     ocr,
		tags:    tags,
		current: make(map[string]models.ContextSnapshot),
	}
}

// Capture finalizes one capture into an immutable ContextNote and makes
// its snapshot the session's current context. When the image payload is
// present it goes through the OCR pipeline; an OCR failure degrades the
// note (ocr_text stays null) instead of failing the capture. Input
// errors on the image itself abort before any note is created.
func (s *ContextService) Capture(ctx context.Context, req models.CaptureRequest) (models.ContextNote, error) {
	const op = "context.capture"

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	var (
		ocrText  *string
		degraded bool
	)
	if len(req.Image) > 0 {
		text, err := s.ocr.ExtractText(ctx, req.Image)
		switch {
		case err == nil:
			ocrText = &text
		case IsKind(err, KindImageTooLarge) || IsKind(err, KindOCRDecode) || IsKind(err, KindInvalidInput):
			return models.ContextNote{}, err
		default:
			// Transient OCR failure: keep the capture, mark it degraded.
			log.Printf("SERVICE: OCR failed for capture, storing partial context: %v", err)
			degraded = true
		}
	}

	snapshot := models.ContextSnapshot{
		CapturedAt:   time.Now().UTC(),
		OCRText:      ocrText,
		SelectedText: req.SelectedText,
		SourceApp:    req.SourceApp,
		SourceURL:    req.SourceURL,
	}
	if snapshot.IsEmpty() && !degraded {
		return models.ContextNote{}, Errorf(KindInvalidInput, op, "capture carries no context")
	}

	var tagRefs []models.TagRef
	if s.tags != nil {
		tagRefs = s.tags.MatchText(snapshot.Text())
	}

	note := models.ContextNote{
		ID:        uuid.New().String(),
		Snapshot:  snapshot,
		Tags:      tagRefs,
		Degraded:  degraded,
		CreatedAt: snapshot.CapturedAt,
	}
	if err := s.store.Add(note); err != nil {
		return models.ContextNote{}, err
	}

	s.mu.Lock()
	s.current[sessionID] = snapshot
	s.mu.Unlock()

	log.Printf("SERVICE: captured context note %s (session=%s, degraded=%v)", note.ID, sessionID, degraded)
	return note, nil
}

// Search returns stored notes ordered most relevant first. An empty
// store or a query with no matches yields an empty slice, not an error.
func (s *ContextService) Search(query string, limit int) []models.ContextNote {
	return s.store.Search(query, limit)
}

// Current returns the session's live snapshot, or false when the
// session has not captured anything yet.
func (s *ContextService) Current(sessionID string) (models.ContextSnapshot, bool) {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.current[sessionID]
	return snap, ok
}

// NoteCount reports how many notes are stored, for status surfaces.
func (s *ContextService) NoteCount() int {
	return s.store.Len()
}
