package fonts

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	fcerrors "github.com/wowfontmanager/fontcache/pkg/errors"
	"github.com/wowfontmanager/fontcache/pkg/types"
)

// DefaultExtensions lists every font extension Discover recognizes
var DefaultExtensions = []string{".ttf", ".otf", ".ttc", ".woff", ".woff2"}

// IsFontFile reports whether path has one of exts, compared case-insensitively.
// A nil exts means DefaultExtensions.
func IsFontFile(path string, exts []string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	if exts == nil {
		exts = DefaultExtensions
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range exts {
		if strings.ToLower(candidate) == ext {
			return true
		}
	}
	return false
}

// Discover walks root recursively and returns a record for every font file
// whose extension is in exts, in lexical path order. Unreadable
// subdirectories are skipped; an unreadable root is an error.
func Discover(ctx context.Context, root string, exts []string) ([]types.FontFile, error) {
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil {
		code := fcerrors.ErrCodeStorageRead
		if errors.Is(err, fs.ErrNotExist) {
			code = fcerrors.ErrCodeFileNotFound
		}
		return nil, fcerrors.Wrap(err, code, "cannot scan font directory").
			WithComponent("fonts").
			WithOperation("discover").
			WithContext("root", root)
	}
	if !info.IsDir() {
		return nil, fcerrors.NewError(fcerrors.ErrCodeInvalidConfig, "font root is not a directory").
			WithComponent("fonts").
			WithOperation("discover").
			WithContext("root", root)
	}

	var files []types.FontFile
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !IsFontFile(path, exts) {
			return nil
		}

		file, ok := newFontFile(root, path, entry)
		if ok {
			files = append(files, file)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fcerrors.Wrap(err, fcerrors.ErrCodeStorageRead, "font directory scan failed").
			WithComponent("fonts").
			WithOperation("discover").
			WithContext("root", root)
	}

	return files, nil
}

func newFontFile(root, path string, entry fs.DirEntry) (types.FontFile, bool) {
	info, err := entry.Info()
	if err != nil || !info.Mode().IsRegular() {
		return types.FontFile{}, false
	}

	folder, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || folder == "." {
		folder = ""
	}

	return types.FontFile{
		Path:     path,
		FileName: entry.Name(),
		Folder:   filepath.ToSlash(folder),
		Size:     info.Size(),
		Format:   types.FormatFromExtension(filepath.Ext(path)),
		ModTime:  info.ModTime().UTC(),
	}, true
}
