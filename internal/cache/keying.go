package cache

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	generationSeparator = "|"
	paramSeparator      = "#"
)

// pathEscaper keeps the separators out of the path part of a key, so a
// file named "a.ttf#b.ttf" never shares a key prefix with "a.ttf".
var pathEscaper = strings.NewReplacer("%", "%25", generationSeparator, "%7C", paramSeparator, "%23")

// pathKey is the key of a file whose modification time is unknown
func pathKey(path string) string {
	return pathEscaper.Replace(filepath.Clean(path))
}

// FileKey derives the cache key for a font file from its cleaned path and
// modification time, so a rewritten file gets a fresh key. When the file
// cannot be stat'ed the key degrades to the path alone and no longer
// tracks content changes.
func FileKey(path string) string {
	key := pathKey(path)

	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return key
	}

	return key + generationSeparator + strconv.FormatInt(info.ModTime().UTC().UnixNano(), 10)
}

// KeyMatchesFile reports whether key was derived from path by FileKey or
// ThumbnailKey, for any modification time.
func KeyMatchesFile(key, path string) bool {
	file, _, _ := strings.Cut(key, paramSeparator)
	file, _, _ = strings.Cut(file, generationSeparator)
	return file == pathKey(path)
}

// ThumbnailKey composes an explicit thumbnail key from the file key and the
// render parameters that affect the bitmap.
func ThumbnailKey(path string, params ...string) string {
	return FileKey(path) + paramSeparator + strings.Join(params, ",")
}
