package services

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/constella/horizon-backend/models"
)

// CaptureWatcher feeds the capture pipeline from a drop directory: the
// frontend (or anything else) writes screenshot or text files there and
// they are ingested as captures against the default session.
type CaptureWatcher struct {
	contexts *ContextService
}

func NewCaptureWatcher(contexts *ContextService) *CaptureWatcher {
	return &CaptureWatcher{contexts: contexts}
}

// WatchDirectory starts a long-running process to ingest dropped files
// in real-time. It blocks until the context is cancelled.
func (w *CaptureWatcher) WatchDirectory(ctx context.Context, dirPath string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("WATCHER ERROR: Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isCapturePayload(event.Name) {
					continue
				}
				// Editors and screenshot tools often write via a temp
				// file plus rename; Create and Write are handled alike.
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					log.Printf("WATCHER: Ingesting dropped capture: %s", event.Name)
					if err := w.ingestFile(ctx, event.Name); err != nil {
						log.Printf("WATCHER ERROR: Failed to ingest %s: %v", event.Name, err)
					}
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WATCHER ERROR: %v", err)
			case <-ctx.Done():
				log.Println("WATCHER: Context cancelled, shutting down watcher.")
				return
			}
		}
	}()

	log.Printf("WATCHER: Watching capture drop directory: %s", dirPath)
	if err := watcher.Add(dirPath); err != nil {
		log.Printf("WATCHER ERROR: Failed to add path to watcher: %v", err)
	}

	<-ctx.Done()
}

func (w *CaptureWatcher) ingestFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	req := models.CaptureRequest{
		SourceApp: "capture-drop",
		SourceURL: "file://" + path,
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		req.Image = content
	default:
		text := string(content)
		req.SelectedText = &text
	}

	_, err = w.contexts.Capture(ctx, req)
	return err
}

func isCapturePayload(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".txt", ".md":
		return true
	default:
		return false
	}
}
