package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/constella/horizon-backend/models"
)

// TagSource is the remote tag catalog collaborator. One call returns
// the full tag set; the cache swaps it in wholesale.
type TagSource interface {
	FetchAll(ctx context.Context) ([]models.Tag, error)
}

// HTTPTagSource fetches the catalog from the tag service API.
type HTTPTagSource struct {
	httpClient *http.Client
	baseURL    string
	tenantName string
}

func NewHTTPTagSource(client *http.Client, baseURL, tenantName string) *HTTPTagSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTagSource{httpClient: client, baseURL: baseURL, tenantName: tenantName}
}

type getAllTagsRequest struct {
	TenantName string `json:"tenant_name"`
}

type tagAPIData struct {
	UniqueID string `json:"uniqueid"`
	Name     string `json:"name"`
	Color    string `json:"color"`
}

type getAllTagsResponse struct {
	Results []tagAPIData `json:"results"`
}

// FetchAll posts the tenant to the catalog's get-all endpoint.
func (s *HTTPTagSource) FetchAll(ctx context.Context) ([]models.Tag, error) {
	reqBody, err := json.Marshal(getAllTagsRequest{TenantName: s.tenantName})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tag request: %w", err)
	}

	url := s.baseURL + "/tag/get_all_tags_for_user"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create tag http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call tag service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tag service returned non-200 status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp getAllTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode tag response: %w", err)
	}

	tags := make([]models.Tag, 0, len(apiResp.Results))
	for _, td := range apiResp.Results {
		tags = append(tags, models.Tag{ID: td.UniqueID, Name: td.Name, Color: td.Color})
	}
	return tags, nil
}

// RefreshResult reports one refresh outcome. Stale marks callers that
// waited on a failed in-flight refresh and got the retained cache.
type RefreshResult struct {
	UpdatedCount int
	Stale        bool
}

// refreshCall is the shared pending result of one in-flight refresh.
// Concurrent callers attach to it instead of starting new work; all of
// them resolve together when done closes.
type refreshCall struct {
	done  chan struct{}
	count int
	err   error
}

// TagCache mirrors the remote catalog for low-latency lookup. The tag
// set is replaced atomically at whole-set granularity; a failed refresh
// retains the previous set.
type TagCache struct {
	source  TagSource
	timeout time.Duration

	mu        sync.RWMutex
	byID      map[string]models.Tag
	byName    []models.Tag // sorted by lowercased name
	fetchedAt time.Time
	inflight  *refreshCall
}

func NewTagCache(source TagSource, timeout time.Duration) *TagCache {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TagCache{
		source:  source,
		timeout: timeout,
		byID:    make(map[string]models.Tag),
	}
}

// Get does a point lookup by tag id.
func (c *TagCache) Get(tagID string) (models.Tag, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tag, ok := c.byID[tagID]
	return tag, ok
}

// Search returns tags whose name matches the prefix, case-insensitive,
// ordered by name.
func (c *TagCache) Search(prefix string) []models.Tag {
	prefix = strings.ToLower(prefix)

	c.mu.RLock()
	defer c.mu.RUnlock()

	// byName is sorted, so the prefix range is contiguous.
	start := sort.Search(len(c.byName), func(i int) bool {
		return strings.ToLower(c.byName[i].Name) >= prefix
	})
	matches := []models.Tag{}
	for i := start; i < len(c.byName); i++ {
		if !strings.HasPrefix(strings.ToLower(c.byName[i].Name), prefix) {
			break
		}
		matches = append(matches, c.byName[i])
	}
	return matches
}

// MatchText returns refs of cached tags whose names occur in the text.
// Every word of a tag's name must appear as a token; "Work" does not
// match inside "workshop".
func (c *TagCache) MatchText(text string) []models.TagRef {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	present := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		present[tok] = struct{}{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var refs []models.TagRef
	for _, tag := range c.byName {
		if tagNameInText(tag.Name, present) {
			refs = append(refs, models.TagRef{ID: tag.ID, Name: tag.Name})
		}
	}
	return refs
}

func tagNameInText(name string, present map[string]struct{}) bool {
	words := tokenize(name)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if _, ok := present[w]; !ok {
			return false
		}
	}
	return true
}

// Len reports the cached tag count.
func (c *TagCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// FetchedAt reports when the cache was last swapped.
func (c *TagCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Refresh fetches the full remote set and swaps it in atomically.
// Concurrent calls collapse into one in-flight fetch: callers arriving
// while a refresh runs wait on the same outcome. On failure the caller
// that triggered the fetch gets the typed error; waiters get the
// retained cache flagged stale.
func (c *TagCache) Refresh(ctx context.Context) (RefreshResult, error) {
	const op = "tags.refresh"

	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return RefreshResult{}, E(KindTagTimeout, op, ctx.Err())
		}
		if call.err != nil {
			return RefreshResult{UpdatedCount: c.Len(), Stale: true}, nil
		}
		return RefreshResult{UpdatedCount: call.count}, nil
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	tags, err := c.source.FetchAll(fetchCtx)
	cancel()

	c.mu.Lock()
	if err == nil {
		c.swapLocked(tags)
		call.count = len(tags)
		log.Printf("SERVICE: tag cache refreshed, %d tags", len(tags))
	} else {
		call.err = err
		log.Printf("SERVICE: tag refresh failed, keeping %d stale tags: %v", len(c.byID), err)
	}
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return RefreshResult{}, E(KindTagTimeout, op, err)
		}
		return RefreshResult{}, E(KindTagUnavailable, op, err)
	}
	return RefreshResult{UpdatedCount: call.count}, nil
}

func (c *TagCache) swapLocked(tags []models.Tag) {
	byID := make(map[string]models.Tag, len(tags))
	byName := make([]models.Tag, len(tags))
	copy(byName, tags)
	for _, t := range tags {
		byID[t.ID] = t
	}
	sort.Slice(byName, func(i, j int) bool {
		return strings.ToLower(byName[i].Name) < strings.ToLower(byName[j].Name)
	})
	c.byID = byID
	c.byName = byName
	c.fetchedAt = time.Now().UTC()
}
