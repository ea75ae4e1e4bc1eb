package fonts

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wowfontmanager/fontcache/internal/buffer"
	"github.com/wowfontmanager/fontcache/internal/cache"
	"github.com/wowfontmanager/fontcache/pkg/types"
	"github.com/wowfontmanager/fontcache/pkg/utils"
)

// WarmerOptions configures a Warmer
type WarmerOptions struct {
	// Concurrency bounds the files processed at once. Values below 1 mean 1.
	Concurrency int

	// Thumbnails enables thumbnail prefetching in addition to metadata.
	Thumbnails bool

	// Render is used for every thumbnail. An empty SampleText selects text
	// with SampleTextForPath.
	Render RenderOptions

	Pool   *buffer.BitmapPool
	Logger *utils.StructuredLogger
}

// WarmResult summarizes a Warm run
type WarmResult struct {
	Files      int           `json:"files"`
	Metadata   int           `json:"metadata"`
	Thumbnails int           `json:"thumbnails"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// Warmer prefetches metadata and thumbnails into an artifact cache
type Warmer struct {
	cache  *cache.ArtifactCache
	opts   WarmerOptions
	logger *utils.StructuredLogger
	loadTF cache.TypefaceFactory
}

// NewWarmer creates a warmer for c
func NewWarmer(c *cache.ArtifactCache, opts WarmerOptions) *Warmer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}

	return &Warmer{
		cache:  c,
		opts:   opts,
		logger: opts.Logger.WithComponent("warmer"),
		loadTF: TypefaceFactory(),
	}
}

// Warm loads every file through the cache. Per-file failures are logged
// and counted; only cancellation aborts the run.
func (w *Warmer) Warm(ctx context.Context, files []types.FontFile) (WarmResult, error) {
	start := time.Now()
	var metadata, thumbnails, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)

	for _, file := range files {
		if gctx.Err() != nil {
			break
		}
		file := file
		g.Go(func() error {
			ok, err := w.warmMetadata(gctx, file)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				w.logger.Warn("Metadata prefetch failed", map[string]interface{}{
					"path":  file.Path,
					"error": err,
				})
				return nil
			}
			if !ok {
				skipped.Add(1)
				return nil
			}
			metadata.Add(1)

			if !w.opts.Thumbnails {
				return nil
			}
			rendered, err := w.warmThumbnail(gctx, file)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				w.logger.Warn("Thumbnail prefetch failed", map[string]interface{}{
					"path":  file.Path,
					"error": err,
				})
				return nil
			}
			if rendered {
				thumbnails.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	result := WarmResult{
		Files:      len(files),
		Metadata:   int(metadata.Load()),
		Thumbnails: int(thumbnails.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
		Duration:   time.Since(start),
	}
	w.logger.Info("Cache warm-up finished", map[string]interface{}{
		"files":      result.Files,
		"metadata":   result.Metadata,
		"thumbnails": result.Thumbnails,
		"skipped":    result.Skipped,
		"failed":     result.Failed,
		"duration":   result.Duration.String(),
	})
	return result, err
}

// warmMetadata reports false for files the parser cannot describe
func (w *Warmer) warmMetadata(ctx context.Context, file types.FontFile) (bool, error) {
	if file.Format == types.FormatWoff || file.Format == types.FormatWoff2 {
		return false, nil
	}
	meta, err := w.cache.GetOrAddMetadata(ctx, file.Path, ExtractMetadata)
	return meta != nil, err
}

func (w *Warmer) warmThumbnail(ctx context.Context, file types.FontFile) (bool, error) {
	tf, err := w.cache.GetOrAddTypeface(file.Path, w.loadTF)
	if err != nil {
		return false, err
	}
	src, ok := tf.(FaceSource)
	if !ok {
		return false, nil
	}

	opts := w.opts.Render
	if opts.SampleText == "" {
		opts.SampleText = SampleTextForPath(file.Path)
	}

	img, err := w.cache.GetOrAddThumbnail(ctx, opts.ThumbnailKey(file.Path), func(ctx context.Context) (image.Image, error) {
		rgba, err := RenderThumbnail(ctx, src, opts, w.opts.Pool)
		if rgba == nil {
			return nil, err
		}
		return rgba, err
	})
	return img != nil, err
}
