package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"spi-exam-service/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SetRef points at one candidate question-set document in a source.
type SetRef struct {
	Placement domain.Placement
	Location  string
	ModTime   time.Time
}

// SetSource abstracts where question-set documents live (directory tree, database).
type SetSource interface {
	// Scan lists candidate documents. A missing root yields no refs and no error.
	Scan(ctx context.Context) ([]SetRef, error)
	// Stat returns the current modification time of a document.
	Stat(ctx context.Context, location string) (time.Time, error)
	// Read returns the raw document bytes.
	Read(ctx context.Context, location string) ([]byte, error)
}

// SkippedSet records a document left out of the index and why.
type SkippedSet struct {
	Location string `json:"location"`
	Reason   string `json:"reason"`
}

// Index is an immutable snapshot of the catalog. It is replaced, never mutated.
type Index struct {
	sets    map[string]domain.QuestionSetMeta
	skipped []SkippedSet
	builtAt time.Time
}

func emptyIndex() *Index {
	return &Index{sets: map[string]domain.QuestionSetMeta{}}
}

// Lookup returns the meta for slug.
func (i *Index) Lookup(slug string) (domain.QuestionSetMeta, bool) {
	meta, ok := i.sets[slug]
	return meta, ok
}

// Len is the number of indexed sets.
func (i *Index) Len() int { return len(i.sets) }

// BuiltAt is when the scan producing this snapshot finished.
func (i *Index) BuiltAt() time.Time { return i.builtAt }

// Skipped lists documents excluded by the build that produced this snapshot.
func (i *Index) Skipped() []SkippedSet {
	out := make([]SkippedSet, len(i.skipped))
	copy(out, i.skipped)
	return out
}

// All returns a copy of the slug to meta mapping.
func (i *Index) All() map[string]domain.QuestionSetMeta {
	out := make(map[string]domain.QuestionSetMeta, len(i.sets))
	for slug, meta := range i.sets {
		out[slug] = meta
	}
	return out
}

// Modes lists distinct modes, sorted.
func (i *Index) Modes() []string {
	seen := map[string]struct{}{}
	for _, meta := range i.sets {
		seen[meta.Mode] = struct{}{}
	}
	return sortedKeys(seen)
}

// Categories lists distinct categories within mode, sorted.
func (i *Index) Categories(mode string) []string {
	seen := map[string]struct{}{}
	for _, meta := range i.sets {
		if meta.Mode == mode {
			seen[meta.Category] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Sets lists the metas in mode/category ordered by slug.
func (i *Index) Sets(mode, category string) []domain.QuestionSetMeta {
	var out []domain.QuestionSetMeta
	for _, meta := range i.sets {
		if meta.Mode == mode && meta.Category == category {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Slug < out[b].Slug })
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IndexSnapshot is the broadcast form of a published index.
type IndexSnapshot struct {
	Sets    int       `json:"sets"`
	Skipped int       `json:"skipped"`
	BuiltAt time.Time `json:"builtAt"`
}

// Catalog is the question-set store: an atomically swapped index plus a
// per-slug content cache keyed by modification time.
type Catalog struct {
	source SetSource
	logger *zap.Logger
	now    func() time.Time

	index   atomic.Pointer[Index]
	rebuild singleflight.Group
	reload  singleflight.Group
	cache   sync.Map // slug -> *cachedSet

	mu          sync.Mutex
	subscribers map[chan IndexSnapshot]struct{}
	onRebuild   func(*Index, time.Duration)
}

type cachedSet struct {
	location string
	modTime  time.Time
	set      domain.QuestionSet
}

// CatalogOption customizes a Catalog.
type CatalogOption func(*Catalog)

// WithClock overrides the clock used to stamp snapshots.
func WithClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) { c.now = now }
}

// WithRebuildHook registers a callback invoked after each published rebuild.
func WithRebuildHook(fn func(idx *Index, took time.Duration)) CatalogOption {
	return func(c *Catalog) { c.onRebuild = fn }
}

func NewCatalog(source SetSource, logger *zap.Logger, opts ...CatalogOption) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		source:      source,
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[chan IndexSnapshot]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.index.Store(emptyIndex())
	return c
}

// Index returns the most recently published snapshot.
func (c *Catalog) Index() *Index {
	return c.index.Load()
}

// Lookup finds slug in the current snapshot.
func (c *Catalog) Lookup(slug string) (domain.QuestionSetMeta, bool) {
	return c.Index().Lookup(slug)
}

// BuildIndex scans the source, validates every document and publishes a fresh
// snapshot. Concurrent callers share one scan. Files that fail to read, parse
// or validate are skipped and recorded, never fatal. A source-level failure
// keeps the previous snapshot.
func (c *Catalog) BuildIndex(ctx context.Context) (*Index, error) {
	result, err, _ := c.rebuild.Do("index", func() (interface{}, error) {
		return c.buildIndex(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Index), nil
}

func (c *Catalog) buildIndex(ctx context.Context) (*Index, error) {
	started := c.now()
	refs, err := c.source.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan question sets: %w", err)
	}

	idx := &Index{sets: make(map[string]domain.QuestionSetMeta, len(refs))}
	for _, ref := range refs {
		meta, err := c.indexOne(ctx, ref)
		if err != nil {
			idx.skipped = append(idx.skipped, SkippedSet{Location: ref.Location, Reason: err.Error()})
			c.logger.Warn("skipping question set", zap.String("location", ref.Location), zap.Error(err))
			continue
		}
		if prev, ok := idx.sets[meta.Slug]; ok {
			c.logger.Warn("duplicate slug, later file wins",
				zap.String("slug", meta.Slug),
				zap.String("previous", prev.Location),
				zap.String("location", meta.Location))
		}
		idx.sets[meta.Slug] = meta
	}
	idx.builtAt = c.now()

	c.index.Store(idx)
	took := idx.builtAt.Sub(started)
	c.logger.Info("question set index built",
		zap.Int("sets", idx.Len()),
		zap.Int("skipped", len(idx.skipped)),
		zap.Duration("took", took))
	if c.onRebuild != nil {
		c.onRebuild(idx, took)
	}
	c.broadcast(idx)
	return idx, nil
}

func (c *Catalog) indexOne(ctx context.Context, ref SetRef) (domain.QuestionSetMeta, error) {
	if !domain.ValidSlug(ref.Placement.Slug) {
		return domain.QuestionSetMeta{}, domain.ErrInvalidSlug
	}
	data, err := c.source.Read(ctx, ref.Location)
	if err != nil {
		return domain.QuestionSetMeta{}, err
	}
	set, err := domain.ParseQuestionSet(data, ref.Placement)
	if err != nil {
		return domain.QuestionSetMeta{}, err
	}
	return set.Meta(ref.Location, ref.ModTime), nil
}

// LoadSet returns the full question set for slug, re-reading the document only
// when its modification time moved past the cached copy.
func (c *Catalog) LoadSet(ctx context.Context, slug string) (domain.QuestionSet, error) {
	if !domain.ValidSlug(slug) {
		return domain.QuestionSet{}, domain.ErrInvalidSlug
	}
	meta, ok := c.Lookup(slug)
	if !ok {
		return domain.QuestionSet{}, domain.ErrUnknownSlug
	}

	modTime, err := c.source.Stat(ctx, meta.Location)
	if err != nil {
		return domain.QuestionSet{}, unavailable(slug, err)
	}
	if entry, ok := c.cached(slug, meta.Location, modTime); ok {
		return entry.set, nil
	}

	result, err, _ := c.reload.Do(slug, func() (interface{}, error) {
		// Re-check in case another goroutine refreshed the entry.
		if entry, ok := c.cached(slug, meta.Location, modTime); ok {
			return entry.set, nil
		}
		data, err := c.source.Read(ctx, meta.Location)
		if err != nil {
			return domain.QuestionSet{}, unavailable(slug, err)
		}
		set, err := domain.ParseQuestionSet(data, domain.Placement{
			Mode:     meta.Mode,
			Category: meta.Category,
			Slug:     meta.Slug,
		})
		if err != nil {
			return domain.QuestionSet{}, err
		}
		c.cache.Store(slug, &cachedSet{location: meta.Location, modTime: modTime, set: set})
		c.refreshMeta(set.Meta(meta.Location, modTime))
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

func (c *Catalog) cached(slug, location string, modTime time.Time) (*cachedSet, bool) {
	v, ok := c.cache.Load(slug)
	if !ok {
		return nil, false
	}
	entry := v.(*cachedSet)
	if entry.location != location || entry.modTime.Before(modTime) {
		return nil, false
	}
	return entry, true
}

// refreshMeta publishes a copy of the index with meta replaced when the
// reloaded content disagrees with the summary. A concurrent rebuild wins.
func (c *Catalog) refreshMeta(meta domain.QuestionSetMeta) {
	current := c.index.Load()
	prev, ok := current.sets[meta.Slug]
	if !ok || prev.Location != meta.Location {
		return
	}
	if prev.Title == meta.Title && prev.QuestionCount == meta.QuestionCount &&
		prev.SecondsPerQuestion == meta.SecondsPerQuestion {
		return
	}
	next := &Index{sets: current.All(), skipped: current.skipped, builtAt: current.builtAt}
	next.sets[meta.Slug] = meta
	if c.index.CompareAndSwap(current, next) {
		c.logger.Info("question set summary refreshed",
			zap.String("slug", meta.Slug),
			zap.Int("questions", meta.QuestionCount),
			zap.Int("seconds_per_question", meta.SecondsPerQuestion))
	}
}

func unavailable(slug string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: removed", domain.ErrDataUnavailable, slug)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrDataUnavailable, slug, err)
}

// Subscribe returns a channel that receives a snapshot summary after each
// rebuild. The caller must invoke the returned cancel function to avoid leaks.
func (c *Catalog) Subscribe() (<-chan IndexSnapshot, func()) {
	ch := make(chan IndexSnapshot, 4)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	ch <- snapshotOf(c.Index())
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Catalog) broadcast(idx *Index) {
	snap := snapshotOf(idx)
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
			// drop the stale snapshot so slow readers always see the latest
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func snapshotOf(idx *Index) IndexSnapshot {
	return IndexSnapshot{Sets: idx.Len(), Skipped: len(idx.skipped), BuiltAt: idx.builtAt}
}
