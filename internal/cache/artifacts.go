package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/wowfontmanager/fontcache/pkg/types"
	"github.com/wowfontmanager/fontcache/pkg/utils"
)

// Artifact kinds, used as metric labels and log fields
const (
	KindTypeface  = "typeface"
	KindThumbnail = "thumbnail"
	KindMetadata  = "metadata"
)

// Default capacities per kind
const (
	DefaultTypefaceCapacity  = 50
	DefaultThumbnailCapacity = 200
	DefaultMetadataCapacity  = 500
)

// TypefaceFactory parses the font at path. It may return a nil typeface
// and nil error when the file holds no usable font.
type TypefaceFactory func(path string) (types.Typeface, error)

// ThumbnailFactory renders a preview bitmap. A nil image with nil error
// means no preview is available.
type ThumbnailFactory func(ctx context.Context) (image.Image, error)

// MetadataFactory extracts the metadata record for the font at path. A
// nil record with nil error means the file could not be described.
type MetadataFactory func(ctx context.Context, path string) (*types.FontMetadata, error)

// Options configures an ArtifactCache
type Options struct {
	TypefaceCapacity  int
	ThumbnailCapacity int
	MetadataCapacity  int

	// Disk backs the thumbnail and metadata tiers. Nil keeps every kind in memory only.
	Disk              *DiskStore
	PersistThumbnails bool
	PersistMetadata   bool

	// OnThumbnailEvict receives bitmaps leaving the memory tier, for reuse.
	// A bitmap handed to it may still be referenced by earlier callers of
	// GetOrAddThumbnail.
	OnThumbnailEvict func(key string, img image.Image)

	Logger   *utils.StructuredLogger
	Recorder types.CacheRecorder
}

// DefaultOptions returns the capacities and persistence used by the desktop client
func DefaultOptions() Options {
	return Options{
		TypefaceCapacity:  DefaultTypefaceCapacity,
		ThumbnailCapacity: DefaultThumbnailCapacity,
		MetadataCapacity:  DefaultMetadataCapacity,
		PersistThumbnails: true,
		PersistMetadata:   true,
	}
}

// ArtifactCache caches parsed typefaces, rendered thumbnails and extracted
// metadata in independent LRU tiers. Thumbnails and metadata may also be
// persisted to a DiskStore that survives restarts.
//
// Factories run without any cache lock held. Concurrent misses on the same
// key may each run the factory; the first result stored wins and later
// results are released.
type ArtifactCache struct {
	typefaces  *tier[types.Typeface]
	thumbnails *tier[image.Image]
	metadata   *tier[*types.FontMetadata]

	disk     *DiskStore
	logger   *utils.StructuredLogger
	recorder types.CacheRecorder

	// diskMu orders background writes against ClearAll; generation is
	// bumped by every clear so writes scheduled before it are dropped.
	diskMu     sync.RWMutex
	generation uint64
	pending    *pendingWrites

	closeOnce sync.Once
}

// New creates an ArtifactCache. Zero capacities fall back to the defaults.
func New(opts Options) (*ArtifactCache, error) {
	if opts.TypefaceCapacity == 0 {
		opts.TypefaceCapacity = DefaultTypefaceCapacity
	}
	if opts.ThumbnailCapacity == 0 {
		opts.ThumbnailCapacity = DefaultThumbnailCapacity
	}
	if opts.MetadataCapacity == 0 {
		opts.MetadataCapacity = DefaultMetadataCapacity
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.Recorder == nil {
		opts.Recorder = types.NopRecorder{}
	}

	c := &ArtifactCache{
		disk:     opts.Disk,
		logger:   opts.Logger.WithComponent("cache"),
		recorder: opts.Recorder,
		pending:  newPendingWrites(),
	}

	var err error

	c.typefaces, err = newTier(c, KindTypeface, "", opts.TypefaceCapacity, tierHooks[types.Typeface]{
		empty:   func(tf types.Typeface) bool { return tf == nil },
		release: c.closeTypeface,
	})
	if err != nil {
		return nil, err
	}

	thumbCategory := ""
	if opts.Disk != nil && opts.PersistThumbnails {
		thumbCategory = CategoryThumbnails
	}
	c.thumbnails, err = newTier(c, KindThumbnail, thumbCategory, opts.ThumbnailCapacity, tierHooks[image.Image]{
		empty: func(img image.Image) bool { return img == nil },
		release: func(key string, img image.Image) {
			if opts.OnThumbnailEvict != nil {
				opts.OnThumbnailEvict(key, img)
			}
		},
		encode: encodeThumbnail,
		decode: decodeThumbnail,
	})
	if err != nil {
		return nil, err
	}

	metaCategory := ""
	if opts.Disk != nil && opts.PersistMetadata {
		metaCategory = CategoryMetadata
	}
	c.metadata, err = newTier(c, KindMetadata, metaCategory, opts.MetadataCapacity, tierHooks[*types.FontMetadata]{
		empty:  func(m *types.FontMetadata) bool { return m == nil },
		encode: encodeMetadata,
		decode: decodeMetadata,
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// GetOrAddTypeface returns the cached typeface for path, parsing it with
// factory on a miss. Typefaces are memory-only and closed on eviction, so
// callers must not close the returned handle.
func (c *ArtifactCache) GetOrAddTypeface(path string, factory TypefaceFactory) (types.Typeface, error) {
	return c.typefaces.getOrAdd(context.Background(), FileKey(path), func(context.Context) (types.Typeface, error) {
		return factory(path)
	})
}

// GetOrAddThumbnail returns the bitmap cached under key, rendering it with
// factory on a miss. Build key with ThumbnailKey so it changes with the
// font file and the render parameters.
//
// The returned image stays owned by the cache and is only valid until it is
// evicted, invalidated or cleared: OnThumbnailEvict may recycle its pixels
// for a later render. Callers that keep a bitmap longer must copy it.
func (c *ArtifactCache) GetOrAddThumbnail(ctx context.Context, key string, factory ThumbnailFactory) (image.Image, error) {
	return c.thumbnails.getOrAdd(ctx, key, factory)
}

// GetOrAddMetadata returns the metadata record for path, extracting it with
// factory on a miss. The record is shared; callers must not modify it.
func (c *ArtifactCache) GetOrAddMetadata(ctx context.Context, path string, factory MetadataFactory) (*types.FontMetadata, error) {
	return c.metadata.getOrAdd(ctx, FileKey(path), func(ctx context.Context) (*types.FontMetadata, error) {
		return factory(ctx, path)
	})
}

// InvalidateFile drops every cached artifact derived from path, for any
// modification time, along with the disk files of the dropped keys.
func (c *ArtifactCache) InvalidateFile(path string) error {
	if c.typefaces.lru.Closed() {
		return ErrClosed
	}

	// Let queued writes land first so none of them recreates a deleted file.
	c.Flush()

	match := func(key string) bool { return KeyMatchesFile(key, path) }

	typefaces := c.typefaces.invalidate(match)
	thumbnails := c.thumbnails.invalidate(match)
	// The current key and the stat-failure fallback key may only exist on disk.
	metadata := c.metadata.invalidate(match, FileKey(path), pathKey(path))

	c.logger.Debug("Invalidated file", map[string]interface{}{
		"path":       path,
		"typefaces":  typefaces,
		"thumbnails": thumbnails,
		"metadata":   metadata,
	})
	return nil
}

// ClearAll empties every memory tier, releasing resident artifacts, and
// resets the disk cache root. Disk writes still in flight are dropped.
func (c *ArtifactCache) ClearAll() error {
	if c.typefaces.lru.Closed() {
		return ErrClosed
	}

	c.typefaces.clear()
	c.thumbnails.clear()
	c.metadata.clear()

	if c.disk != nil {
		c.diskMu.Lock()
		c.generation++
		err := c.disk.Reset()
		c.diskMu.Unlock()

		if err != nil {
			c.logger.Warn("Failed to reset disk cache", map[string]interface{}{"error": err})
			c.recorder.RecordDiskError("all", "reset", err)
		}
	}

	c.Flush()
	c.logger.Info("Cache cleared")
	return nil
}

// Statistics returns a snapshot of hit/miss counters and resident counts
func (c *ArtifactCache) Statistics() Statistics {
	return Statistics{
		TypefaceHits:      c.typefaces.stats.hits.Load(),
		TypefaceMisses:    c.typefaces.stats.misses.Load(),
		ThumbnailHits:     c.thumbnails.stats.hits.Load(),
		ThumbnailMisses:   c.thumbnails.stats.misses.Load(),
		MetadataHits:      c.metadata.stats.hits.Load(),
		MetadataMisses:    c.metadata.stats.misses.Load(),
		ThumbnailDiskHits: c.thumbnails.stats.diskHits.Load(),
		MetadataDiskHits:  c.metadata.stats.diskHits.Load(),
		TypefaceCount:     c.typefaces.lru.Len(),
		ThumbnailCount:    c.thumbnails.lru.Len(),
		MetadataCount:     c.metadata.lru.Len(),
	}
}

// Flush waits until no background disk write is pending. Writes queued
// while Flush waits are waited for as well.
func (c *ArtifactCache) Flush() {
	c.pending.wait()
}

// Close releases every resident artifact exactly once and rejects further
// operations with ErrClosed. Pending disk writes are completed first.
func (c *ArtifactCache) Close() error {
	c.closeOnce.Do(func() {
		c.typefaces.lru.Close()
		c.thumbnails.lru.Close()
		c.metadata.lru.Close()
		c.updateResident()
		c.Flush()
	})
	return nil
}

func (c *ArtifactCache) closeTypeface(key string, tf types.Typeface) {
	if tf == nil {
		return
	}
	if err := tf.Close(); err != nil {
		c.logger.Warn("Failed to close typeface", map[string]interface{}{
			"key":   key,
			"error": err,
		})
	}
}

// persist writes data to the disk tier in the background. The write is
// skipped when a ClearAll ran after generation was captured.
func (c *ArtifactCache) persist(kind, category, key string, data []byte, generation uint64) {
	c.pending.add()
	go func() {
		defer c.pending.done()

		c.diskMu.RLock()
		defer c.diskMu.RUnlock()

		if c.generation != generation {
			return
		}
		if err := c.disk.Write(category, key, data); err != nil {
			c.logger.Warn("Failed to persist artifact", map[string]interface{}{
				"kind":  kind,
				"key":   key,
				"error": err,
			})
			c.recorder.RecordDiskError(kind, "write", err)
		}
	}()
}

// pendingWrites counts background disk writes. Unlike a WaitGroup it may
// be incremented from zero while another goroutine is waiting.
type pendingWrites struct {
	mu    sync.Mutex
	idle  *sync.Cond
	count int
}

func newPendingWrites() *pendingWrites {
	p := &pendingWrites{}
	p.idle = sync.NewCond(&p.mu)
	return p
}

func (p *pendingWrites) add() {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
}

func (p *pendingWrites) done() {
	p.mu.Lock()
	p.count--
	if p.count == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

func (p *pendingWrites) wait() {
	p.mu.Lock()
	for p.count > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

func (c *ArtifactCache) currentGeneration() uint64 {
	c.diskMu.RLock()
	defer c.diskMu.RUnlock()
	return c.generation
}

func (c *ArtifactCache) updateResident() {
	c.recorder.UpdateResident(KindTypeface, c.typefaces.lru.Len())
	c.recorder.UpdateResident(KindThumbnail, c.thumbnails.lru.Len())
	c.recorder.UpdateResident(KindMetadata, c.metadata.lru.Len())
}

// tierHooks are the per-kind behaviours of a tier. encode and decode are
// only used when the tier is disk-backed.
type tierHooks[V any] struct {
	empty   func(V) bool
	release func(key string, value V)
	encode  func(V) ([]byte, error)
	decode  func([]byte) (V, error)
}

// tier is one artifact kind: a memory LRU plus an optional disk category
type tier[V any] struct {
	owner    *ArtifactCache
	kind     string
	category string
	lru      *LRU[string, V]
	hooks    tierHooks[V]
	stats    counters
}

func newTier[V any](owner *ArtifactCache, kind, category string, capacity int, hooks tierHooks[V]) (*tier[V], error) {
	t := &tier[V]{
		owner:    owner,
		kind:     kind,
		category: category,
		hooks:    hooks,
	}

	lru, err := NewLRU[string, V](capacity, func(key string, value V) {
		owner.recorder.RecordEviction(kind)
		t.release(key, value)
	})
	if err != nil {
		return nil, err
	}
	t.lru = lru
	return t, nil
}

func (t *tier[V]) persistent() bool {
	return t.category != ""
}

func (t *tier[V]) release(key string, value V) {
	if t.hooks.release != nil {
		t.hooks.release(key, value)
	}
}

// getOrAdd runs the memory, disk, factory fallthrough for key
func (t *tier[V]) getOrAdd(ctx context.Context, key string, factory func(context.Context) (V, error)) (V, error) {
	var zero V

	if t.lru.Closed() {
		return zero, ErrClosed
	}

	if value, ok := t.lru.Get(key); ok {
		t.stats.hits.Add(1)
		t.owner.recorder.RecordCacheHit(t.kind, "memory")
		return value, nil
	}

	t.stats.misses.Add(1)
	t.owner.recorder.RecordCacheMiss(t.kind)

	generation := t.owner.currentGeneration()

	if t.persistent() {
		if value, ok := t.load(key); ok {
			t.stats.diskHits.Add(1)
			t.owner.recorder.RecordCacheHit(t.kind, "disk")
			return t.store(key, value, nil, generation)
		}
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	start := time.Now()
	value, err := factory(ctx)
	t.owner.recorder.RecordFactory(t.kind, time.Since(start), err == nil)
	if err != nil {
		return zero, err
	}
	if t.hooks.empty(value) {
		return zero, nil
	}

	if err := ctx.Err(); err != nil {
		t.release(key, value)
		return zero, err
	}

	var data []byte
	if t.persistent() {
		data, err = t.hooks.encode(value)
		if err != nil {
			t.owner.logger.Warn("Failed to encode artifact", map[string]interface{}{
				"kind":  t.kind,
				"key":   key,
				"error": err,
			})
			t.owner.recorder.RecordDiskError(t.kind, "encode", err)
			data = nil
		}
	}

	return t.store(key, value, data, generation)
}

// store inserts value unless another caller stored one first, and queues
// data for the disk tier when this call won.
func (t *tier[V]) store(key string, value V, data []byte, generation uint64) (V, error) {
	resident, loaded, err := t.lru.PutIfAbsent(key, value)
	if err != nil {
		t.release(key, value)
		var zero V
		return zero, err
	}

	if !loaded && data != nil {
		t.owner.persist(t.kind, t.category, key, data, generation)
	}

	t.owner.recorder.UpdateResident(t.kind, t.lru.Len())
	return resident, nil
}

// load reads and decodes key from disk. Unreadable entries are treated as
// misses and corrupt ones are deleted.
func (t *tier[V]) load(key string) (V, bool) {
	var zero V
	disk := t.owner.disk

	data, found, err := disk.Read(t.category, key)
	if err != nil {
		t.owner.logger.Warn("Failed to read disk cache", map[string]interface{}{
			"kind":  t.kind,
			"key":   key,
			"error": err,
		})
		t.owner.recorder.RecordDiskError(t.kind, "read", err)
		return zero, false
	}
	if !found {
		return zero, false
	}

	value, err := t.hooks.decode(data)
	if err != nil || t.hooks.empty(value) {
		t.owner.logger.Warn("Removing corrupt disk cache entry", map[string]interface{}{
			"kind":  t.kind,
			"key":   key,
			"path":  disk.Path(t.category, key),
			"error": err,
		})
		t.owner.recorder.RecordDiskError(t.kind, "decode", err)
		if err := disk.Delete(t.category, key); err != nil {
			t.owner.recorder.RecordDiskError(t.kind, "delete", err)
		}
		return zero, false
	}

	return value, true
}

// invalidate removes matching memory entries and deletes their disk files
// together with any extra keys given. It returns the number of memory
// entries removed.
func (t *tier[V]) invalidate(match func(string) bool, extraKeys ...string) int {
	removed := t.lru.RemoveFunc(match)
	t.owner.recorder.UpdateResident(t.kind, t.lru.Len())

	if !t.persistent() {
		return len(removed)
	}

	seen := make(map[string]struct{}, len(removed)+len(extraKeys))
	for _, key := range append(removed, extraKeys...) {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if err := t.owner.disk.Delete(t.category, key); err != nil {
			t.owner.logger.Warn("Failed to delete disk cache entry", map[string]interface{}{
				"kind":  t.kind,
				"key":   key,
				"error": err,
			})
			t.owner.recorder.RecordDiskError(t.kind, "delete", err)
		}
	}
	return len(removed)
}

func (t *tier[V]) clear() {
	t.lru.Clear()
	t.owner.recorder.UpdateResident(t.kind, 0)
}

func encodeMetadata(m *types.FontMetadata) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func decodeMetadata(data []byte) (*types.FontMetadata, error) {
	var m *types.FontMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeThumbnail(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeThumbnail decodes PNG bytes into an *image.RGBA
func decodeThumbnail(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}

	rgba := image.NewRGBA(img.Bounds())
	draw.Copy(rgba, rgba.Bounds().Min, img, img.Bounds(), draw.Src, nil)
	return rgba, nil
}
