/*
Package cache provides the tiered artifact cache that sits in front of font
parsing and preview rendering.

# Cache Architecture

Each artifact kind has its own memory tier, and two of them are backed by
disk:

	┌─────────────────────────────────────────────┐
	│         Caller (browser, CLI warm-up)       │
	└─────────────────────────────────────────────┘
	                      │ GetOrAdd*(key, factory)
	┌─────────────────────────────────────────────┐
	│               ArtifactCache                 │  ← This Package
	│  ┌───────────┐ ┌────────────┐ ┌──────────┐  │
	│  │ typefaces │ │ thumbnails │ │ metadata │  │
	│  │  LRU 50   │ │  LRU 200   │ │ LRU 500  │  │
	│  └───────────┘ └─────┬──────┘ └────┬─────┘  │
	└──────────────────────┼─────────────┼────────┘
	                       │             │
	┌──────────────────────┴─────────────┴────────┐
	│                 DiskStore                   │
	│     <root>/thumbnails/   <root>/metadata/   │
	└─────────────────────────────────────────────┘

A lookup checks the memory tier, then the disk tier for thumbnails and
metadata, then runs the caller's factory. Factory results are stored in
memory and queued for a background disk write.

# Keys

FileKey combines the cleaned path with the file's modification time, so a
font rewritten on disk is looked up under a new key. When the file cannot
be stat'ed the key is the path alone and changes to the file go unnoticed
until InvalidateFile or ClearAll. ThumbnailKey appends render parameters
to the file key. The key separators are escaped in the path, so
InvalidateFile("a.ttf") leaves "a.ttf#b.ttf" alone.

Disk files are named by the 8-hex-digit murmur3 hash of the
category-qualified key. Metadata is stored as indented JSON and thumbnails
as PNG.

# Ownership

The memory tier owns resident values. Typefaces are closed and thumbnail
bitmaps are handed to Options.OnThumbnailEvict when they are evicted,
replaced, invalidated or cleared, and on Close. Values returned to callers
remain valid until then; callers must not close typefaces themselves.
A recycled bitmap may be overwritten by a later render, so callers that
keep a thumbnail beyond that point must copy it.

# Failure Handling

Disk tier failures never reach the caller. Unreadable entries are misses,
undecodable entries are deleted and treated as misses, and failed writes
are logged and counted. Factory errors are returned unchanged and nothing
is cached for them.

# Concurrency

Every LRU has its own mutex, and neither disk I/O nor factories run while
it is held. Two concurrent misses on one key may both run the factory;
PutIfAbsent keeps the first result and releases the other. After Close
every operation returns ErrClosed.

DiskStore serializes its own filesystem mutations, so any billy filesystem
may back it, memfs included. Flush may run while other goroutines keep
queueing writes; it returns once none is pending.

# Usage

	disk, err := cache.OpenDiskStore(cfg.Cache.Directory)
	if err != nil {
		return err
	}
	opts := cache.DefaultOptions()
	opts.Disk = disk
	c, err := cache.New(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	meta, err := c.GetOrAddMetadata(ctx, path, fonts.ExtractMetadata)
*/
package cache
