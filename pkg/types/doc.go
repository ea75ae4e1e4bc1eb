/*
Package types defines the data records and interfaces shared across the
font cache.

# Data Structures

FontMetadata:
The record produced by the metadata factory. Its JSON form is the on-disk
format of the metadata tier, so every field carries a json tag and the
enumerations (FontFormat, EmbeddingRights) marshal by name.

FontFile:
A font found by directory discovery, carrying enough information (path,
size, modification time) to derive a cache key.

UnicodeRange:
Sampled coverage of a single Unicode block.

# Interfaces

Typeface:
A parsed font handle that owns resources. The cache releases resident
handles with Close when they are evicted, replaced or cleared.

CacheRecorder:
Receives hit, miss, eviction, disk error and factory timing events. The
metrics package implements it on top of Prometheus; NopRecorder is used
when monitoring is disabled.

# Thread Safety

Implementations of CacheRecorder must be safe for concurrent use. Typeface
implementations need not be, beyond Close being called once.
*/
package types
