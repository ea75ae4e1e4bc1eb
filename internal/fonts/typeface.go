package fonts

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"

	"github.com/wowfontmanager/fontcache/internal/cache"
	fcerrors "github.com/wowfontmanager/fontcache/pkg/errors"
	"github.com/wowfontmanager/fontcache/pkg/types"
)

// RenderDPI is the resolution faces are created at
const RenderDPI = 96

var collectionTag = []byte("ttcf")

// FaceSource provides exclusive access to a sized face of a typeface
type FaceSource interface {
	WithFace(size float64, fn func(font.Face) error) error
}

var (
	_ types.Typeface = (*Typeface)(nil)
	_ FaceSource     = (*Typeface)(nil)
)

// Typeface is a parsed font file with lazily created faces per point size.
// A font.Face is not safe for concurrent use, so faces are only reachable
// through WithFace, which serializes callers.
type Typeface struct {
	path   string
	family string
	font   *sfnt.Font

	mu     sync.Mutex
	faces  map[float64]font.Face
	closed bool
}

// LoadTypeface parses the font at path. Collections load their first font.
func LoadTypeface(path string) (*Typeface, error) {
	f, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	family := nameOrEmpty(f, nil, sfnt.NameIDFamily)
	if family == "" {
		family = nameOrEmpty(f, nil, sfnt.NameIDFull)
	}

	return &Typeface{
		path:   filepath.Clean(path),
		family: family,
		font:   f,
		faces:  make(map[float64]font.Face),
	}, nil
}

// TypefaceFactory adapts LoadTypeface to the artifact cache
func TypefaceFactory() cache.TypefaceFactory {
	return func(path string) (types.Typeface, error) {
		tf, err := LoadTypeface(path)
		if err != nil {
			return nil, err
		}
		return tf, nil
	}
}

// Path returns the cleaned file path the typeface was loaded from
func (t *Typeface) Path() string { return t.path }

// FamilyName returns the font family name, or "" when the name table has none
func (t *Typeface) FamilyName() string { return t.family }

// Font returns the parsed font
func (t *Typeface) Font() *sfnt.Font { return t.font }

// WithFace calls fn with a face of the given point size while holding the
// typeface lock. fn must not retain the face.
func (t *Typeface) WithFace(size float64, fn func(font.Face) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fcerrors.NewError(fcerrors.ErrCodeInternalError, "typeface is closed").
			WithComponent("fonts").
			WithContext("path", t.path)
	}

	face, ok := t.faces[size]
	if !ok {
		var err error
		face, err = opentype.NewFace(t.font, &opentype.FaceOptions{
			Size:    size,
			DPI:     RenderDPI,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return fcerrors.Wrap(err, fcerrors.ErrCodeFontParse, "failed to create face").
				WithComponent("fonts").
				WithContext("path", t.path).
				WithDetail("size", size)
		}
		t.faces[size] = face
	}

	return fn(face)
}

// Close releases every face. It is safe to call more than once.
func (t *Typeface) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for size, face := range t.faces {
		if err := face.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.faces, size)
	}
	return errors.Join(errs...)
}

// parseFile reads and parses a TrueType, OpenType or collection file
func parseFile(path string) (*sfnt.Font, error) {
	data, err := readFontFile(path)
	if err != nil {
		return nil, err
	}
	return parseFont(path, data, 0)
}

func readFontFile(path string) ([]byte, error) {
	switch types.FormatFromExtension(filepath.Ext(path)) {
	case types.FormatWoff, types.FormatWoff2:
		return nil, fcerrors.NewError(fcerrors.ErrCodeFontUnsupported, "compressed web fonts are not supported").
			WithComponent("fonts").
			WithContext("path", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		code := fcerrors.ErrCodeStorageRead
		if errors.Is(err, fs.ErrNotExist) {
			code = fcerrors.ErrCodeFileNotFound
		}
		return nil, fcerrors.Wrap(err, code, "failed to read font file").
			WithComponent("fonts").
			WithContext("path", path)
	}
	return data, nil
}

// parseFont parses data as a single font, or font index of a collection
func parseFont(path string, data []byte, index int) (*sfnt.Font, error) {
	var (
		f   *sfnt.Font
		err error
	)
	if bytes.HasPrefix(data, collectionTag) {
		var c *sfnt.Collection
		if c, err = sfnt.ParseCollection(data); err == nil {
			f, err = c.Font(index)
		}
	} else {
		f, err = sfnt.Parse(data)
	}
	if err != nil {
		return nil, fcerrors.Wrap(err, fcerrors.ErrCodeFontParse, "failed to parse font").
			WithComponent("fonts").
			WithContext("path", path)
	}
	return f, nil
}

// nameOrEmpty returns a name table entry, or "" when it is missing or unreadable
func nameOrEmpty(f *sfnt.Font, buf *sfnt.Buffer, id sfnt.NameID) string {
	name, err := f.Name(buf, id)
	if err != nil {
		return ""
	}
	return name
}
