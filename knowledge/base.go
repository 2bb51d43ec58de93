// Package knowledge serves answers context from a local markdown knowledge base. The
// file is split into heading sections, every section is embedded once, and queries are
// ranked by cosine similarity against those vectors.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fabfab/palms-chat/content"
	"github.com/fabfab/palms-chat/embeddings"
	"github.com/fabfab/palms-chat/ingestion"
	"github.com/fabfab/palms-chat/logger"
)

const defaultDebounce = 250 * time.Millisecond

type Options struct {
	Path     string
	Embedder embeddings.Embedder
	Logger   *logger.Logger
	// Debounce coalesces bursts of file events into one reload.
	Debounce time.Duration
}

type index struct {
	sections []string
	vectors  [][]float32
	loadedAt time.Time
}

type Base struct {
	path     string
	embedder embeddings.Embedder
	log      *logger.Logger
	debounce time.Duration

	current  atomic.Pointer[index]
	reloadMu sync.Mutex
}

// New loads and embeds the knowledge base at opts.Path.
func New(ctx context.Context, opts Options) (*Base, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("knowledge base path is empty")
	}
	if opts.Embedder == nil {
		return nil, errors.New("knowledge base requires an embedder")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	b := &Base{
		path:     opts.Path,
		embedder: opts.Embedder,
		log:      opts.Logger.With("component", "knowledge", "path", opts.Path),
		debounce: opts.Debounce,
	}
	if err := b.Reload(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload re-reads and re-embeds the file. The previous index keeps serving until the
// new one is complete, and stays in place if the reload fails.
func (b *Base) Reload(ctx context.Context) error {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("read knowledge base: %w", err)
	}

	sections := ingestion.SplitSections(string(data))
	next := &index{sections: sections, loadedAt: time.Now()}

	if len(sections) > 0 {
		vectors, err := b.embedder.Embed(ctx, sections)
		if err != nil {
			return fmt.Errorf("embed knowledge base sections: %w", err)
		}
		if len(vectors) != len(sections) {
			return fmt.Errorf("embed knowledge base sections: got %d vectors for %d sections", len(vectors), len(sections))
		}
		for i := range vectors {
			embeddings.Normalize(vectors[i])
		}
		next.vectors = vectors
	}

	b.current.Store(next)
	b.log.Info("knowledge base loaded", "sections", len(sections))
	return nil
}

// Sections reports how many sections the live index holds.
func (b *Base) Sections() int {
	idx := b.current.Load()
	if idx == nil {
		return 0
	}
	return len(idx.sections)
}

// LoadedAt reports when the live index was built.
func (b *Base) LoadedAt() time.Time {
	idx := b.current.Load()
	if idx == nil {
		return time.Time{}
	}
	return idx.loadedAt
}

// Search returns up to k sections ordered by similarity to query. Equal scores keep
// file order. An empty knowledge base yields the generic product placeholder.
func (b *Base) Search(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	idx := b.current.Load()
	if idx == nil || len(idx.sections) == 0 {
		return []string{content.Placeholder}, nil
	}

	vectors, err := b.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	queryVec := embeddings.Normalize(vectors[0])

	order := make([]int, len(idx.sections))
	scores := make([]float64, len(idx.sections))
	for i := range idx.sections {
		order[i] = i
		scores[i] = embeddings.Dot(idx.vectors[i], queryVec)
	}
	sort.SliceStable(order, func(a, c int) bool {
		return scores[order[a]] > scores[order[c]]
	})

	if k > len(order) {
		k = len(order)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = idx.sections[order[i]]
	}
	return out, nil
}

// Watch reloads the knowledge base whenever its file changes. The parent directory is
// watched so editors that save by rename are still seen. Watching stops when ctx is
// done.
func (b *Base) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(b.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(b.path), err)
	}

	target := filepath.Clean(b.path)
	go func() {
		defer watcher.Close()

		var (
			timer  *time.Timer
			reload <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(b.debounce)
				} else {
					timer.Reset(b.debounce)
				}
				reload = timer.C
			case <-reload:
				reload = nil
				if err := b.Reload(ctx); err != nil {
					b.log.Warn("knowledge base reload failed; keeping previous sections", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				b.log.Warn("knowledge base watcher error", "error", err)
			}
		}
	}()
	return nil
}
