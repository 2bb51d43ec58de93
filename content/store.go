// Package content keeps a cached snapshot of website pages and posts and scores
// them against visitor questions.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fabfab/palms-chat/logger"
	"github.com/fabfab/palms-chat/metrics"
)

// Document is one fetched page or post. Text is title, excerpt and body joined by
// newlines after markup removal.
type Document struct {
	ID     string
	Source string
	Title  string
	Text   string
}

// Snapshot is an immutable generation of the content cache.
type Snapshot struct {
	Documents []Document
	FetchedAt time.Time
}

func (s Snapshot) Empty() bool {
	return len(s.Documents) == 0
}

// ErrAllSourcesFailed is returned by Refresh when no source produced a payload.
var ErrAllSourcesFailed = errors.New("all content sources failed")

// SourceFetchError describes a single source that could not be fetched or parsed.
type SourceFetchError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *SourceFetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error {
	return e.Err
}

type Options struct {
	Sources         []string
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	MinLength       int

	HTTPClient *http.Client
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Store caches documents from a fixed list of WordPress REST endpoints. Reads never
// block on a refresh in progress: they see the previous snapshot until the new one
// is swapped in whole.
type Store struct {
	sources         []string
	refreshInterval time.Duration
	fetchTimeout    time.Duration
	minLength       int

	client  *http.Client
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	current atomic.Pointer[Snapshot]
	group   singleflight.Group

	mu          sync.Mutex
	lastSuccess time.Time
}

func NewStore(opts Options) *Store {
	s := &Store{
		sources:         opts.Sources,
		refreshInterval: opts.RefreshInterval,
		fetchTimeout:    opts.FetchTimeout,
		minLength:       opts.MinLength,
		client:          opts.HTTPClient,
		log:             opts.Logger,
		metrics:         opts.Metrics,
		now:             opts.Now,
	}
	if s.refreshInterval <= 0 {
		s.refreshInterval = time.Hour
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = 10 * time.Second
	}
	if s.minLength <= 0 {
		s.minLength = 50
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.current.Store(&Snapshot{})
	return s
}

// Current returns the cached snapshot without ever fetching.
func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

// Get returns the cached snapshot, refreshing it first when the last successful fetch
// is older than the refresh interval. A failed refresh leaves the old snapshot in
// place, so Get always returns something usable.
func (s *Store) Get(ctx context.Context) Snapshot {
	if s.fresh() {
		return s.Current()
	}
	if _, err := s.Refresh(ctx); err != nil {
		s.log.Warn("content refresh failed, serving stale snapshot", "error", err, "documents", len(s.Current().Documents))
	}
	return s.Current()
}

// Refresh fetches every source and swaps in a new snapshot when at least one source
// succeeded. Concurrent callers share a single fetch.
func (s *Store) Refresh(ctx context.Context) (Snapshot, error) {
	// The shared fetch must not die with whichever caller happened to start it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan("refresh", func() (interface{}, error) {
		return s.refresh(shared)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return s.Current(), res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return s.Current(), ctx.Err()
	}
}

func (s *Store) fresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastSuccess.IsZero() && s.now().Sub(s.lastSuccess) < s.refreshInterval
}

func (s *Store) refresh(ctx context.Context) (Snapshot, error) {
	started := s.now()
	results := make([][]Document, len(s.sources))
	failures := make([]error, len(s.sources))

	var g errgroup.Group
	for i, source := range s.sources {
		g.Go(func() error {
			docs, err := s.fetchSource(ctx, source)
			if err != nil {
				failures[i] = err
				s.metrics.RecordSourceFailure(source)
				s.log.Warn("content source failed", "source", source, "error", err)
				return nil
			}
			results[i] = docs
			s.log.Debug("content source fetched", "source", source, "documents", len(docs))
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, err := range failures {
		if err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		err := fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(failures...))
		if len(s.sources) == 0 {
			err = fmt.Errorf("%w: no sources configured", ErrAllSourcesFailed)
		}
		s.metrics.RecordRefresh(err, 0)
		return Snapshot{}, err
	}

	snapshot := Snapshot{FetchedAt: started}
	for _, docs := range results {
		snapshot.Documents = append(snapshot.Documents, docs...)
	}

	s.current.Store(&snapshot)
	s.mu.Lock()
	s.lastSuccess = started
	s.mu.Unlock()

	s.metrics.RecordRefresh(nil, len(snapshot.Documents))
	s.log.Info("content snapshot refreshed",
		"documents", len(snapshot.Documents),
		"sources_ok", succeeded,
		"sources_failed", len(s.sources)-succeeded,
		"elapsed", s.now().Sub(started).String(),
	)
	return snapshot, nil
}

type wpRendered struct {
	Rendered string `json:"rendered"`
}

type wpItem struct {
	ID      json.Number `json:"id"`
	Title   wpRendered  `json:"title"`
	Excerpt wpRendered  `json:"excerpt"`
	Content wpRendered  `json:"content"`
}

func (s *Store) fetchSource(ctx context.Context, source string) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, &SourceFetchError{Source: source, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SourceFetchError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &SourceFetchError{Source: source, StatusCode: resp.StatusCode}
	}

	var items []wpItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, &SourceFetchError{Source: source, Err: fmt.Errorf("decode payload: %w", err)}
	}

	kind := sourceKind(source)
	docs := make([]Document, 0, len(items))
	for _, item := range items {
		title := ExtractText(item.Title.Rendered)
		excerpt := ExtractText(item.Excerpt.Rendered)
		body := ExtractText(item.Content.Rendered)

		text := strings.TrimSpace(title + "\n" + excerpt + "\n" + body)
		if len([]rune(text)) < s.minLength {
			continue
		}

		docs = append(docs, Document{
			ID:     documentID(kind, item.ID.String(), title),
			Source: source,
			Title:  title,
			Text:   text,
		})
	}
	return docs, nil
}

// sourceKind names documents after the REST collection they came from, e.g.
// ".../wp/v2/pages?per_page=100" gives "pages".
func sourceKind(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Path == "" {
		return "content"
	}
	base := path.Base(strings.TrimRight(u.Path, "/"))
	if base == "." || base == "/" {
		return "content"
	}
	return base
}

func documentID(kind, id, title string) string {
	if _, err := strconv.Atoi(id); err != nil || id == "" {
		id = "0"
	}
	r := []rune(title)
	if len(r) > 30 {
		r = r[:30]
	}
	return kind + "_" + id + "_" + string(r)
}
