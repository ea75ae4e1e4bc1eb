/*
Package fonts implements the font work that the artifact cache memoizes:
discovering font files under a game's Fonts directory, extracting their
metadata, loading typefaces and rendering preview thumbnails.

Discover walks a root in lexical order and reports every file whose
extension is recognized, with the locale folder it was found in.
ExtractMetadata parses TrueType and OpenType files, including collections,
and reports names, vertical metrics, glyph count, embedding rights and an
estimate of Unicode block coverage. WOFF and WOFF2 files are recognized but
not parsed; they fail with FONT_UNSUPPORTED.

A Typeface owns a parsed font and a cache of sized faces. Faces are not
safe for concurrent use, so callers reach them through WithFace, which
serializes access. RenderThumbnail draws sample text with any FaceSource
into a bitmap taken from a buffer.BitmapPool.

Warmer fills an ArtifactCache for a list of files with a bounded number of
workers:

	files, err := fonts.Discover(ctx, root, cfg.Fonts.Extensions)
	if err != nil {
		return err
	}
	result, err := fonts.NewWarmer(artifacts, fonts.WarmerOptions{
		Concurrency: cfg.Fonts.Concurrency,
		Thumbnails:  true,
		Render:      fonts.DefaultRenderOptions(),
		Pool:        pool,
	}).Warm(ctx, files)
*/
package fonts
