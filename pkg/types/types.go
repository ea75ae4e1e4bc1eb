package types

import (
	"fmt"
	"strings"
	"time"
)

// FontFormat identifies the container format of a font file
type FontFormat int

const (
	FormatUnknown FontFormat = iota
	FormatTrueType
	FormatOpenType
	FormatCollection
	FormatWoff
	FormatWoff2
)

var fontFormatNames = map[FontFormat]string{
	FormatUnknown:    "Unknown",
	FormatTrueType:   "TrueType",
	FormatOpenType:   "OpenType",
	FormatCollection: "Collection",
	FormatWoff:       "Woff",
	FormatWoff2:      "Woff2",
}

// String returns the format name
func (f FontFormat) String() string {
	if name, ok := fontFormatNames[f]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText encodes the format by name
func (f FontFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes a format name
func (f *FontFormat) UnmarshalText(text []byte) error {
	for format, name := range fontFormatNames {
		if strings.EqualFold(name, string(text)) {
			*f = format
			return nil
		}
	}
	return fmt.Errorf("unknown font format: %q", text)
}

// FormatFromExtension maps a file extension (with or without the dot) to a format
func FormatFromExtension(ext string) FontFormat {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "ttf":
		return FormatTrueType
	case "otf":
		return FormatOpenType
	case "ttc", "otc":
		return FormatCollection
	case "woff":
		return FormatWoff
	case "woff2":
		return FormatWoff2
	default:
		return FormatUnknown
	}
}

// EmbeddingRights describes the OS/2 fsType permissions of a font
type EmbeddingRights int

const (
	EmbeddingUnknown EmbeddingRights = iota
	EmbeddingInstallable
	EmbeddingEditable
	EmbeddingPreviewPrint
	EmbeddingRestricted
)

var embeddingNames = map[EmbeddingRights]string{
	EmbeddingUnknown:      "Unknown",
	EmbeddingInstallable:  "Installable",
	EmbeddingEditable:     "Editable",
	EmbeddingPreviewPrint: "PreviewPrint",
	EmbeddingRestricted:   "Restricted",
}

// String returns the embedding rights name
func (e EmbeddingRights) String() string {
	if name, ok := embeddingNames[e]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText encodes the rights by name
func (e EmbeddingRights) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes a rights name
func (e *EmbeddingRights) UnmarshalText(text []byte) error {
	for rights, name := range embeddingNames {
		if strings.EqualFold(name, string(text)) {
			*e = rights
			return nil
		}
	}
	return fmt.Errorf("unknown embedding rights: %q", text)
}

// UnicodeRange reports how much of a Unicode block a font covers
type UnicodeRange struct {
	BlockName       string `json:"block_name"`
	StartCodePoint  int    `json:"start_code_point"`
	EndCodePoint    int    `json:"end_code_point"`
	SupportedGlyphs int    `json:"supported_glyphs"`
}

// TotalGlyphs returns the number of code points in the block
func (r UnicodeRange) TotalGlyphs() int {
	return r.EndCodePoint - r.StartCodePoint + 1
}

// CoveragePercentage returns the supported share of the block in percent
func (r UnicodeRange) CoveragePercentage() float64 {
	total := r.TotalGlyphs()
	if total <= 0 {
		return 0
	}
	return float64(r.SupportedGlyphs) / float64(total) * 100
}

// FontMetadata is the record extracted from a font file. It is cached in
// memory and persisted as JSON in the metadata disk tier.
type FontMetadata struct {
	// Identification
	FullName       string `json:"full_name"`
	FontFamily     string `json:"font_family"`
	FontSubfamily  string `json:"font_subfamily"`
	PostScriptName string `json:"post_script_name,omitempty"`

	// Technical details
	Format          FontFormat      `json:"format"`
	Version         string          `json:"version,omitempty"`
	EmbeddingRights EmbeddingRights `json:"embedding_rights"`

	// Metrics in font units
	UnitsPerEm int `json:"units_per_em"`
	Ascent     int `json:"ascent"`
	Descent    int `json:"descent"`
	LineGap    int `json:"line_gap"`

	GlyphCount     int            `json:"glyph_count"`
	CoverageRanges []UnicodeRange `json:"coverage_ranges"`

	Designer  string `json:"designer,omitempty"`
	Copyright string `json:"copyright,omitempty"`
	Trademark string `json:"trademark,omitempty"`

	FileSize     int64     `json:"file_size"`
	FilePath     string    `json:"file_path"`
	LastModified time.Time `json:"last_modified"`
}

// FontFile is a font discovered on disk
type FontFile struct {
	Path     string     `json:"path"`
	FileName string     `json:"file_name"`
	Folder   string     `json:"folder"`
	Size     int64      `json:"size"`
	Format   FontFormat `json:"format"`
	ModTime  time.Time  `json:"mod_time"`
}
