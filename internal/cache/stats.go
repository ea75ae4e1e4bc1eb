package cache

import "sync/atomic"

// Statistics is a point-in-time snapshot of cache activity. Counters only
// grow for the lifetime of the cache; a memory miss that is then served by
// the disk tier counts as both a miss and a disk hit.
type Statistics struct {
	TypefaceHits    uint64 `json:"typeface_hits"`
	TypefaceMisses  uint64 `json:"typeface_misses"`
	ThumbnailHits   uint64 `json:"thumbnail_hits"`
	ThumbnailMisses uint64 `json:"thumbnail_misses"`
	MetadataHits    uint64 `json:"metadata_hits"`
	MetadataMisses  uint64 `json:"metadata_misses"`

	ThumbnailDiskHits uint64 `json:"thumbnail_disk_hits"`
	MetadataDiskHits  uint64 `json:"metadata_disk_hits"`

	TypefaceCount  int `json:"typeface_count"`
	ThumbnailCount int `json:"thumbnail_count"`
	MetadataCount  int `json:"metadata_count"`
}

// HitRate returns memory hits over all lookups across every kind
func (s Statistics) HitRate() float64 {
	hits := s.TypefaceHits + s.ThumbnailHits + s.MetadataHits
	total := hits + s.TypefaceMisses + s.ThumbnailMisses + s.MetadataMisses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// counters holds the live statistics for a single artifact kind
type counters struct {
	hits     atomic.Uint64
	misses   atomic.Uint64
	diskHits atomic.Uint64
}
