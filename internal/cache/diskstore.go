package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/spaolacci/murmur3"

	fcerrors "github.com/wowfontmanager/fontcache/pkg/errors"
	"github.com/wowfontmanager/fontcache/pkg/retry"
)

// Disk tier categories, one subdirectory each under the cache root
const (
	CategoryThumbnails = "thumbnails"
	CategoryMetadata   = "metadata"
)

var categories = []string{CategoryThumbnails, CategoryMetadata}

const tempPrefix = ".tmp-"

// DiskStore maps (category, key) pairs to files named by an 8-hex-digit
// hash of the category-qualified key. Concurrent writers to the same key
// are last-writer-wins; every write is a temp file renamed into place.
// Failed writes are retried with a short backoff.
//
// The store serializes mutations of fs and lets reads run alongside each
// other, so fs need not be safe for concurrent use (memfs is not).
type DiskStore struct {
	mu    sync.RWMutex
	fs    billy.Filesystem
	retry *retry.Retryer
}

// NewDiskStore creates a store on fs, creating the category directories
func NewDiskStore(fs billy.Filesystem) (*DiskStore, error) {
	s := &DiskStore{fs: fs, retry: retry.New(retry.DefaultConfig())}
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenDiskStore creates a store rooted at dir on the local filesystem
func OpenDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fcerrors.Wrap(err, fcerrors.ErrCodeStorageWrite, "failed to create cache root").
			WithComponent("diskstore").
			WithContext("root", dir)
	}
	return NewDiskStore(osfs.New(dir))
}

// Root returns the root of the underlying filesystem
func (s *DiskStore) Root() string {
	return s.fs.Root()
}

// Path returns the file path for key, relative to the store root
func (s *DiskStore) Path(category, key string) string {
	return s.fs.Join(category, fmt.Sprintf("%08x", hashKey(category+":"+key)))
}

// hashKey is murmur3.Sum32 through the streaming hasher; Sum32 walks the
// input with uintptr arithmetic that fails checkptr under -race.
func hashKey(key string) uint32 {
	h := murmur3.New32()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

// Write stores data for key, replacing any previous content
func (s *DiskStore) Write(category, key string, data []byte) error {
	return s.retry.Do(func() error {
		return s.write(category, key, data)
	})
}

func (s *DiskStore) write(category, key string, data []byte) error {
	path := s.Path(category, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := s.fs.TempFile(category, tempPrefix)
	if err != nil {
		return s.wrap(err, fcerrors.ErrCodeStorageWrite, "write", path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return s.wrap(err, fcerrors.ErrCodeStorageWrite, "write", path)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return s.wrap(err, fcerrors.ErrCodeStorageWrite, "write", path)
	}

	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return s.wrap(err, fcerrors.ErrCodeStorageWrite, "rename", path)
	}
	return nil
}

// Read returns the stored bytes for key. A missing file is reported as
// found == false with a nil error.
func (s *DiskStore) Read(category, key string) (data []byte, found bool, err error) {
	path := s.Path(category, key)

	s.mu.RLock()
	data, err = util.ReadFile(s.fs, path)
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, s.wrap(err, fcerrors.ErrCodeStorageRead, "read", path)
	}
	return data, true, nil
}

// Open returns a reader for key, or found == false when absent
func (s *DiskStore) Open(category, key string) (rc io.ReadCloser, found bool, err error) {
	path := s.Path(category, key)

	s.mu.RLock()
	f, err := s.fs.Open(path)
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, s.wrap(err, fcerrors.ErrCodeStorageRead, "open", path)
	}
	return f, true, nil
}

// Delete removes the file for key. Deleting an absent key is not an error.
func (s *DiskStore) Delete(category, key string) error {
	path := s.Path(category, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return s.wrap(err, fcerrors.ErrCodeStorageWrite, "delete", path)
	}
	return nil
}

// Usage is the number and total size of files stored in a category
type Usage struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Usage reports the stored files per category. Writes still in progress
// are not counted.
func (s *DiskStore) Usage() (map[string]Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := make(map[string]Usage, len(categories))
	for _, category := range categories {
		entries, err := s.fs.ReadDir(category)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, s.wrap(err, fcerrors.ErrCodeStorageRead, "usage", category)
		}

		var u Usage
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
				continue
			}
			u.Files++
			u.Bytes += entry.Size()
		}
		usage[category] = u
	}
	return usage, nil
}

// Reset removes everything under the root and recreates the empty
// category directories.
func (s *DiskStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.fs.ReadDir("/")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return s.wrap(err, fcerrors.ErrCodeStorageRead, "reset", s.fs.Root())
	}

	for _, entry := range entries {
		if err := util.RemoveAll(s.fs, entry.Name()); err != nil {
			return s.wrap(err, fcerrors.ErrCodeStorageWrite, "reset", entry.Name())
		}
	}

	return s.ensureDirs()
}

func (s *DiskStore) ensureDirs() error {
	for _, category := range categories {
		if err := s.fs.MkdirAll(category, 0750); err != nil {
			return s.wrap(err, fcerrors.ErrCodeStorageWrite, "mkdir", category)
		}
	}
	return nil
}

func (s *DiskStore) wrap(err error, code fcerrors.ErrorCode, op, path string) error {
	return fcerrors.Wrap(err, code, fmt.Sprintf("disk store %s failed", op)).
		WithComponent("diskstore").
		WithOperation(op).
		WithContext("path", path)
}
