package types

import "time"

// Typeface is a parsed font handle. Close releases every resource the
// handle owns; it is called exactly once, by the cache on eviction or by
// the owner of an uncached handle.
type Typeface interface {
	Path() string
	FamilyName() string
	Close() error
}

// CacheRecorder receives cache events for metrics collection.
// kind is one of "typeface", "thumbnail" or "metadata"; tier is "memory" or "disk".
type CacheRecorder interface {
	RecordCacheHit(kind, tier string)
	RecordCacheMiss(kind string)
	RecordEviction(kind string)
	RecordDiskError(kind, op string, err error)
	RecordFactory(kind string, duration time.Duration, success bool)
	UpdateResident(kind string, entries int)
}

// NopRecorder discards every event
type NopRecorder struct{}

func (NopRecorder) RecordCacheHit(kind, tier string) {}
func (NopRecorder) RecordCacheMiss(kind string) {}
func (NopRecorder) RecordEviction(kind string) {}
func (NopRecorder) RecordDiskError(kind, op string, err error) {}
func (NopRecorder) RecordFactory(kind string, duration time.Duration, success bool) {}
func (NopRecorder) UpdateResident(kind string, entries int) {}

// Recorders fans every event out to each recorder in order
type Recorders []CacheRecorder

func (rs Recorders) RecordCacheHit(kind, tier string) {
	for _, r := range rs {
		r.RecordCacheHit(kind, tier)
	}
}

func (rs Recorders) RecordCacheMiss(kind string) {
	for _, r := range rs {
		r.RecordCacheMiss(kind)
	}
}

func (rs Recorders) RecordEviction(kind string) {
	for _, r := range rs {
		r.RecordEviction(kind)
	}
}

func (rs Recorders) RecordDiskError(kind, op string, err error) {
	for _, r := range rs {
		r.RecordDiskError(kind, op, err)
	}
}

func (rs Recorders) RecordFactory(kind string, duration time.Duration, success bool) {
	for _, r := range rs {
		r.RecordFactory(kind, duration, success)
	}
}

func (rs Recorders) UpdateResident(kind string, entries int) {
	for _, r := range rs {
		r.UpdateResident(kind, entries)
	}
}
