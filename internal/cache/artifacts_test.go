package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wowfontmanager/fontcache/pkg/types"
)

// fakeTypeface counts Close calls
type fakeTypeface struct {
	path   string
	closed atomic.Int32
}

func (f *fakeTypeface) Path() string { return f.path }
func (f *fakeTypeface) FamilyName() string { return filepath.Base(f.path) }
func (f *fakeTypeface) Close() error {
	f.closed.Add(1)
	return nil
}

func newTestCache(t *testing.T, disk *DiskStore, mutate func(*Options)) *ArtifactCache {
	t.Helper()
	opts := DefaultOptions()
	opts.Disk = disk
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func metadataFactory(calls *atomic.Int32) MetadataFactory {
	return func(ctx context.Context, path string) (*types.FontMetadata, error) {
		calls.Add(1)
		return &types.FontMetadata{
			FullName:   filepath.Base(path),
			FontFamily: "Family " + filepath.Base(path),
			Format:     types.FormatTrueType,
			UnitsPerEm: 2048,
			FilePath:   path,
			CoverageRanges: []types.UnicodeRange{
				{BlockName: "Basic Latin", StartCodePoint: 0x20, EndCodePoint: 0x7F, SupportedGlyphs: 95},
			},
			LastModified: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}, nil
	}
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// TestNew_RejectsNegativeCapacity tests option validation
func TestNew_RejectsNegativeCapacity(t *testing.T) {
	opts := DefaultOptions()
	opts.ThumbnailCapacity = -1
	_, err := New(opts)
	assert.Error(t, err)
}

// TestArtifactCache_MetadataHitMiss tests memory-tier hits and miss accounting
func TestArtifactCache_MetadataHitMiss(t *testing.T) {
	c := newTestCache(t, nil, nil)
	var calls atomic.Int32
	ctx := context.Background()

	first, err := c.GetOrAddMetadata(ctx, "/fonts/x.ttf", metadataFactory(&calls))
	require.NoError(t, err)
	second, err := c.GetOrAddMetadata(ctx, "/fonts/x.ttf", metadataFactory(&calls))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	stats := c.Statistics()
	assert.Equal(t, uint64(1), stats.MetadataHits)
	assert.Equal(t, uint64(1), stats.MetadataMisses)
	assert.Equal(t, 1, stats.MetadataCount)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.0001)
}

// TestArtifactCache_MetadataSurvivesRestart tests the disk round-trip
func TestArtifactCache_MetadataSurvivesRestart(t *testing.T) {
	disk, err := NewDiskStore(memfs.New())
	require.NoError(t, err)
	ctx := context.Background()
	var calls atomic.Int32

	first := newTestCache(t, disk, nil)
	written, err := first.GetOrAddMetadata(ctx, "/fonts/x.ttf", metadataFactory(&calls))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newTestCache(t, disk, nil)
	read, err := second.GetOrAddMetadata(ctx, "/fonts/x.ttf", func(context.Context, string) (*types.FontMetadata, error) {
		t.Fatal("factory must not run when the disk tier has the record")
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, written, read)
	assert.Equal(t, int32(1), calls.Load())

	stats := second.Statistics()
	assert.Equal(t, uint64(1), stats.MetadataMisses)
	assert.Equal(t, uint64(1), stats.MetadataDiskHits)
	assert.Equal(t, 1, stats.MetadataCount)
}

// TestArtifactCache_CorruptDiskEntryIsHealed tests corruption self-healing
func TestArtifactCache_CorruptDiskEntryIsHealed(t *testing.T) {
	tests := []struct {
		name    string
		garbage []byte
	}{
		{"random bytes", []byte{0xde, 0xad, 0xbe, 0xef}},
		{"truncated json", []byte(`{"full_name":"x`)},
		{"json null", []byte(`null`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disk, err := NewDiskStore(memfs.New())
			require.NoError(t, err)
			key := FileKey("/fonts/x.ttf")
			require.NoError(t, disk.Write(CategoryMetadata, key, tt.garbage))

			c := newTestCache(t, disk, nil)
			var calls atomic.Int32
			nothing := func(context.Context, string) (*types.FontMetadata, error) {
				calls.Add(1)
				return nil, nil
			}

			got, err := c.GetOrAddMetadata(context.Background(), "/fonts/x.ttf", nothing)
			require.NoError(t, err)
			assert.Nil(t, got)
			assert.Equal(t, int32(1), calls.Load(), "corrupt entry behaves as a miss")

			_, found, err := disk.Read(CategoryMetadata, key)
			require.NoError(t, err)
			assert.False(t, found, "corrupt file is removed")
			assert.Equal(t, 0, c.Statistics().MetadataCount, "empty factory result is not cached")
		})
	}
}

// TestArtifactCache_CorruptEntryReplacedByFreshValue tests that the factory result is persisted after healing
func TestArtifactCache_CorruptEntryReplacedByFreshValue(t *testing.T) {
	disk, err := NewDiskStore(memfs.New())
	require.NoError(t, err)
	key := FileKey("/fonts/x.ttf")
	require.NoError(t, disk.Write(CategoryMetadata, key, []byte("garbage")))

	c := newTestCache(t, disk, nil)
	var calls atomic.Int32
	_, err = c.GetOrAddMetadata(context.Background(), "/fonts/x.ttf", metadataFactory(&calls))
	require.NoError(t, err)
	c.Flush()

	data, found, err := disk.Read(CategoryMetadata, key)
	require.NoError(t, err)
	require.True(t, found)

	var decoded types.FontMetadata
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "x.ttf", decoded.FullName)
}

// TestArtifactCache_InvalidateFile tests per-file invalidation across kinds
func TestArtifactCache_InvalidateFile(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	x := writeFontFile(t, dir, "x.ttf", mtime)
	y := writeFontFile(t, dir, "y.ttf", mtime)

	disk, err := NewDiskStore(memfs.New())
	require.NoError(t, err)
	c := newTestCache(t, disk, nil)
	ctx := context.Background()
	var calls atomic.Int32

	typefaces := map[string]*fakeTypeface{}
	for _, p := range []string{x, y} {
		_, err := c.GetOrAddMetadata(ctx, p, metadataFactory(&calls))
		require.NoError(t, err)

		tf := &fakeTypeface{path: p}
		typefaces[p] = tf
		_, err = c.GetOrAddTypeface(p, func(string) (types.Typeface, error) { return tf, nil })
		require.NoError(t, err)
	}
	c.Flush()

	require.NoError(t, c.InvalidateFile(x))

	stats := c.Statistics()
	assert.Equal(t, 1, stats.MetadataCount)
	assert.Equal(t, 1, stats.TypefaceCount)
	assert.Equal(t, int32(1), typefaces[x].closed.Load())
	assert.Equal(t, int32(0), typefaces[y].closed.Load())

	_, found, err := disk.Read(CategoryMetadata, FileKey(x))
	require.NoError(t, err)
	assert.False(t, found, "metadata file for x.ttf is deleted")

	_, found, err = disk.Read(CategoryMetadata, FileKey(y))
	require.NoError(t, err)
	assert.True(t, found, "metadata file for y.ttf is untouched")

	// y.ttf is still a memory hit; x.ttf recomputes.
	before := calls.Load()
	_, err = c.GetOrAddMetadata(ctx, y, metadataFactory(&calls))
	require.NoError(t, err)
	_, err = c.GetOrAddMetadata(ctx, x, metadataFactory(&calls))
	require.NoError(t, err)
	assert.Equal(t, before+1, calls.Load())
}

// TestArtifactCache_ChangedFileGetsNewKey tests timestamp-based invalidation
func TestArtifactCache_ChangedFileGetsNewKey(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	x := writeFontFile(t, dir, "x.ttf", mtime)

	c := newTestCache(t, nil, nil)
	var calls atomic.Int32
	ctx := context.Background()

	_, err := c.GetOrAddMetadata(ctx, x, metadataFactory(&calls))
	require.NoError(t, err)

	later := mtime.Add(time.Minute)
	writeFontFile(t, dir, "x.ttf", later)

	_, err = c.GetOrAddMetadata(ctx, x, metadataFactory(&calls))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	// Invalidation drops both generations.
	require.NoError(t, c.InvalidateFile(x))
	assert.Equal(t, 0, c.Statistics().MetadataCount)
}

// TestArtifactCache_ConcurrentMisses tests racing misses on one key
func TestArtifactCache_ConcurrentMisses(t *testing.T) {
	c := newTestCache(t, nil, nil)

	const callers = 2
	var (
		arrived sync.WaitGroup
		release = make(chan struct{})
		created []*fakeTypeface
		mu      sync.Mutex
	)
	arrived.Add(callers)

	factory := func(path string) (types.Typeface, error) {
		tf := &fakeTypeface{path: path}
		mu.Lock()
		created = append(created, tf)
		mu.Unlock()
		arrived.Done()
		<-release
		return tf, nil
	}

	results := make([]types.Typeface, callers)
	errs := make([]error, callers)
	var done sync.WaitGroup
	for i := 0; i < callers; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			results[i], errs[i] = c.GetOrAddTypeface("/fonts/x.ttf", factory)
		}(i)
	}

	arrived.Wait()
	close(release)
	done.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, results[0], results[1], "both callers get the resident handle")
	assert.Equal(t, 1, c.Statistics().TypefaceCount)

	winner := results[0].(*fakeTypeface)
	require.Len(t, created, callers)
	for _, tf := range created {
		if tf == winner {
			assert.Equal(t, int32(0), tf.closed.Load())
		} else {
			assert.Equal(t, int32(1), tf.closed.Load(), "losing handle is released once")
		}
	}
}

// TestArtifactCache_ConcurrentMetadataMisses tests that racing metadata misses both complete
func TestArtifactCache_ConcurrentMetadataMisses(t *testing.T) {
	disk, err := NewDiskStore(memfs.New())
	require.NoError(t, err)
	c := newTestCache(t, disk, nil)

	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]*types.FontMetadata, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := c.GetOrAddMetadata(context.Background(), "/fonts/x.ttf", metadataFactory(&calls))
			assert.NoError(t, err)
			results[i] = m
		}(i)
	}
	wg.Wait()
	c.Flush()

	for _, m := range results {
		require.NotNil(t, m)
		assert.Equal(t, "x.ttf", m.FullName)
	}
	assert.Equal(t, 1, c.Statistics().MetadataCount)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

// TestArtifactCache_InvalidateFileExactName tests that invalidation does not
// reach files whose names extend the invalidated one
func TestArtifactCache_InvalidateFileExactName(t *testing.T) {
	c := newTestCache(t, nil, nil)
	var calls atomic.Int32

	for _, path := range []string{"/fonts/a.ttf", "/fonts/a.ttf#b.ttf", "/fonts/a.ttf|c.ttf"} {
		_, err := c.GetOrAddMetadata(context.Background(), path, metadataFactory(&calls))
		require.NoError(t, err)
	}
	require.NoError(t, c.InvalidateFile("/fonts/a.ttf"))
	assert.Equal(t, 2, c.Statistics().MetadataCount)

	_, err := c.GetOrAddMetadata(context.Background(), "/fonts/a.ttf#b.ttf", metadataFactory(&calls))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "the longer name is still cached")
}

// TestArtifactCache_FlushDuringConcurrentMisses tests that flushes and
// invalidations may overlap with misses that queue disk writes
func TestArtifactCache_FlushDuringConcurrentMisses(t *testing.T) {
	disk, err := NewDiskStore(memfs.New())
	require.NoError(t, err)
	c := newTestCache(t, disk, nil)

	const workers, perWorker = 8, 50
	var calls atomic.Int32
	stop := make(chan struct{})
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			c.Flush()
			assert.NoError(t, c.InvalidateFile("/fonts/0-0.ttf"))
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				path := fmt.Sprintf("/fonts/%d-%d.ttf", w, i)
				_, err := c.GetOrAddMetadata(context.Background(), path, metadataFactory(&calls))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	<-flusherDone
	c.Flush()

	usage, err := disk.Usage()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, usage[CategoryMetadata].Files, workers*perWorker-1)
}

// TestPendingWrites tests that wait blocks until every write is done
func TestPendingWrites(t *testing.T) {
	p := newPendingWrites()
	p.wait()

	p.add()
	p.add()
	waited := make(chan struct{})
	go func() {
		p.wait()
		close(waited)
	}()

	p.done()
	select {
	case <-waited:
		t.Fatal("wait returned with a write still pending")
	case <-time.After(20 * time.Millisecond):
	}

	// A write queued from zero while a waiter is parked must not panic.
	p.done()
	p.add()
	p.done()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the last write")
	}
}

// TestArtifactCache_FactoryErrorPropagates tests that factory failures are returned unchanged
func TestArtifactCache_FactoryErrorPropagates(t *testing.T) {
	c := newTestCache(t, nil, nil)
	boom := errors.New("could not parse font")
	var calls int

	for i := 0; i < 2; i++ {
		_, err := c.GetOrAddMetadata(context.Background(), "/fonts/bad.ttf", func(context.Context, string) (*types.FontMetadata, error) {
			calls++
			return nil, boom
		})
		assert.Same(t, boom, err)
	}

	assert.Equal(t, 2, calls, "failures are not cached")
	assert.Equal(t, 0, c.Statistics().MetadataCount)
}

// TestArtifactCache_CancelledBeforeFactory tests cancellation ahead of the factory
func TestArtifactCache_CancelledBeforeFactory(t *testing.T) {
	c := newTestCache(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetOrAddThumbnail(ctx, "thumb", func(context.Context) (image.Image, error) {
		t.Fatal("factory must not run with a cancelled context")
		return nil, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Statistics().ThumbnailCount)
}

// TestArtifactCache_CancelledDuringFactory tests that late results are released, not cached
func TestArtifactCache_CancelledDuringFactory(t *testing.T) {
	var released []string
	c := newTestCache(t, nil, func(o *Options) {
		o.OnThumbnailEvict = func(key string, img image.Image) { released = append(released, key) }
	})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := c.GetOrAddThumbnail(ctx, "thumb", func(context.Context) (image.Image, error) {
		cancel()
		return solidImage(4, 4, color.RGBA{A: 255}), nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Statistics().ThumbnailCount)
	assert.Equal(t, []string{"thumb"}, released)
}

// TestArtifactCache_EvictedThumbnailIsShared tests that the eviction hook
// receives the very bitmap earlier callers hold, so keeping one means copying it
func TestArtifactCache_EvictedThumbnailIsShared(t *testing.T) {
	var evicted []image.Image
	c := newTestCache(t, nil, func(o *Options) {
		o.ThumbnailCapacity = 1
		o.OnThumbnailEvict = func(_ string, img image.Image) { evicted = append(evicted, img) }
	})
	ctx := context.Background()

	first, err := c.GetOrAddThumbnail(ctx, "a", func(context.Context) (image.Image, error) {
		return solidImage(2, 2, color.RGBA{R: 200, A: 255}), nil
	})
	require.NoError(t, err)
	kept := append([]byte(nil), first.(*image.RGBA).Pix...)

	_, err = c.GetOrAddThumbnail(ctx, "b", func(context.Context) (image.Image, error) {
		return solidImage(2, 2, color.RGBA{G: 200, A: 255}), nil
	})
	require.NoError(t, err)

	require.Len(t, evicted, 1)
	assert.Same(t, first, evicted[0])

	// A pool reusing the bitmap overwrites what the first caller sees.
	recycled := evicted[0].(*image.RGBA)
	recycled.Pix[0] = 0
	assert.Equal(t, uint8(0), first.(*image.RGBA).Pix[0])
	assert.Equal(t, uint8(200), kept[0])
}

// TestArtifactCache_ThumbnailDiskRoundTrip tests PNG persistence of thumbnails
func TestArtifactCache_ThumbnailDiskRoundTrip(t *testing.T) {
	disk, err := NewDiskStore(memfs.New())
	require.NoError(t, err)
	ctx := context.Background()
	want := solidImage(8, 4, color.RGBA{R: 200, G: 10, B: 30, A: 255})

	first := newTestCache(t, disk, nil)
	_, err = first.GetOrAddThumbnail(ctx, "x.ttf#Hello", func(context.Context) (image.Image, error) {
		return want, nil
	})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newTestCache(t, disk, nil)
	got, err := second.GetOrAddThumbnail(ctx, "x.ttf#Hello", func(context.Context) (image.Image, error) {
		t.Fatal("thumbnail should come from disk")
		return nil, nil
	})
	require.NoError(t, err)

	rgba, ok := got.(*image.RGBA)
	require.True(t, ok)
	assert.Equal(t, want.Bounds(), rgba.Bounds())
	assert.Equal(t, want.Pix, rgba.Pix)
	assert.Equal(t, uint64(1), second.Statistics().ThumbnailDiskHits)
}

// TestArtifactCache_ThumbnailsMemoryOnly tests the persistence switch
func TestArtifactCache_ThumbnailsMemoryOnly(t *testing.T) {
	disk, err := NewDiskStore(memfs.New())
	require.NoError(t, err)
	c := newTestCache(t, disk, func(o *Options) { o.PersistThumbnails = false })

	_, err = c.GetOrAddThumbnail(context.Background(), "k", func(context.Context) (image.Image, error) {
		return solidImage(2, 2, color.RGBA{A: 255}), nil
	})
	require.NoError(t, err)
	c.Flush()

	_, found, err := disk.Read(CategoryThumbnails, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

// TestArtifactCache_TypefaceEviction tests that evicted typefaces are closed
func TestArtifactCache_TypefaceEviction(t *testing.T) {
	c := newTestCache(t, nil, func(o *Options) { o.TypefaceCapacity = 1 })

	a := &fakeTypeface{path: "/fonts/a.ttf"}
	b := &fakeTypeface{path: "/fonts/b.ttf"}

	_, err := c.GetOrAddTypeface(a.path, func(string) (types.Typeface, error) { return a, nil })
	require.NoError(t, err)
	_, err = c.GetOrAddTypeface(b.path, func(string) (types.Typeface, error) { return b, nil })
	require.NoError(t, err)

	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, int32(0), b.closed.Load())
	assert.Equal(t, 1, c.Statistics().TypefaceCount)
}

// TestArtifactCache_ClearAll tests full invalidation
func TestArtifactCache_ClearAll(t *testing.T) {
	disk, err := NewDiskStore(memfs.New())
	require.NoError(t, err)
	c := newTestCache(t, disk, nil)
	ctx := context.Background()
	var calls atomic.Int32

	tf := &fakeTypeface{path: "/fonts/a.ttf"}
	_, err = c.GetOrAddTypeface(tf.path, func(string) (types.Typeface, error) { return tf, nil })
	require.NoError(t, err)
	_, err = c.GetOrAddMetadata(ctx, "/fonts/a.ttf", metadataFactory(&calls))
	require.NoError(t, err)
	_, err = c.GetOrAddThumbnail(ctx, "a#1", func(context.Context) (image.Image, error) {
		return solidImage(2, 2, color.RGBA{A: 255}), nil
	})
	require.NoError(t, err)

	require.NoError(t, c.ClearAll())

	stats := c.Statistics()
	assert.Zero(t, stats.TypefaceCount)
	assert.Zero(t, stats.ThumbnailCount)
	assert.Zero(t, stats.MetadataCount)
	assert.Equal(t, int32(1), tf.closed.Load())

	for _, category := range []string{CategoryThumbnails, CategoryMetadata} {
		entries, err := disk.fs.ReadDir(category)
		require.NoError(t, err)
		assert.Empty(t, entries, category)
	}

	// The cache keeps working after a clear.
	_, err = c.GetOrAddMetadata(ctx, "/fonts/a.ttf", metadataFactory(&calls))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// TestArtifactCache_Close tests teardown
func TestArtifactCache_Close(t *testing.T) {
	c := newTestCache(t, nil, nil)
	handles := []*fakeTypeface{{path: "/a.ttf"}, {path: "/b.ttf"}, {path: "/c.ttf"}}
	for _, h := range handles {
		h := h
		_, err := c.GetOrAddTypeface(h.path, func(string) (types.Typeface, error) { return h, nil })
		require.NoError(t, err)
	}

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	for _, h := range handles {
		assert.Equal(t, int32(1), h.closed.Load(), h.path)
	}

	late := &fakeTypeface{path: "/d.ttf"}
	_, err := c.GetOrAddTypeface(late.path, func(string) (types.Typeface, error) { return late, nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.InvalidateFile("/a.ttf"), ErrClosed)
	assert.ErrorIs(t, c.ClearAll(), ErrClosed)
}

// TestArtifactCache_CloseDuringFactory tests that a value produced after Close is released
func TestArtifactCache_CloseDuringFactory(t *testing.T) {
	c := newTestCache(t, nil, nil)
	late := &fakeTypeface{path: "/late.ttf"}

	_, err := c.GetOrAddTypeface(late.path, func(string) (types.Typeface, error) {
		require.NoError(t, c.Close())
		return late, nil
	})

	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int32(1), late.closed.Load())
}
