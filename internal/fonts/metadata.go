package fonts

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	fcerrors "github.com/wowfontmanager/fontcache/pkg/errors"
	"github.com/wowfontmanager/fontcache/pkg/types"
)

// CoverageBlocks are the Unicode blocks sampled for coverage detection
var CoverageBlocks = []types.UnicodeRange{
	{BlockName: "Basic Latin", StartCodePoint: 0x0020, EndCodePoint: 0x007F},
	{BlockName: "Latin-1 Supplement", StartCodePoint: 0x0080, EndCodePoint: 0x00FF},
	{BlockName: "Latin Extended-A", StartCodePoint: 0x0100, EndCodePoint: 0x017F},
	{BlockName: "CJK Unified Ideographs", StartCodePoint: 0x4E00, EndCodePoint: 0x9FFF},
	{BlockName: "CJK Extension A", StartCodePoint: 0x3400, EndCodePoint: 0x4DBF},
	{BlockName: "Hiragana", StartCodePoint: 0x3040, EndCodePoint: 0x309F},
	{BlockName: "Katakana", StartCodePoint: 0x30A0, EndCodePoint: 0x30FF},
	{BlockName: "Hangul Syllables", StartCodePoint: 0xAC00, EndCodePoint: 0xD7AF},
	{BlockName: "Cyrillic", StartCodePoint: 0x0400, EndCodePoint: 0x04FF},
	{BlockName: "Greek and Coptic", StartCodePoint: 0x0370, EndCodePoint: 0x03FF},
}

// maxCoverageSamples bounds the code points sampled per block
const maxCoverageSamples = 100

// ExtractMetadata reads the font at path and describes it. It is the
// metadata factory used by the artifact cache.
func ExtractMetadata(ctx context.Context, path string) (*types.FontMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		code := fcerrors.ErrCodeStorageRead
		if errors.Is(err, fs.ErrNotExist) {
			code = fcerrors.ErrCodeFileNotFound
		}
		return nil, fcerrors.Wrap(err, code, "cannot stat font file").
			WithComponent("fonts").
			WithOperation("extract_metadata").
			WithContext("path", path)
	}

	data, err := readFontFile(path)
	if err != nil {
		return nil, err
	}
	f, err := parseFont(path, data, 0)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf sfnt.Buffer
	family := nameOrEmpty(f, &buf, sfnt.NameIDFamily)
	full := nameOrEmpty(f, &buf, sfnt.NameIDFull)
	if full == "" {
		full = family
	}
	subfamily := nameOrEmpty(f, &buf, sfnt.NameIDSubfamily)
	if subfamily == "" {
		subfamily = "Regular"
	}

	meta := &types.FontMetadata{
		FullName:        full,
		FontFamily:      family,
		FontSubfamily:   subfamily,
		PostScriptName:  nameOrEmpty(f, &buf, sfnt.NameIDPostScript),
		Format:          types.FormatFromExtension(filepath.Ext(path)),
		Version:         nameOrEmpty(f, &buf, sfnt.NameIDVersion),
		EmbeddingRights: embeddingRights(data, 0),
		UnitsPerEm:      int(f.UnitsPerEm()),
		GlyphCount:      f.NumGlyphs(),
		Designer:        nameOrEmpty(f, &buf, sfnt.NameIDDesigner),
		Copyright:       nameOrEmpty(f, &buf, sfnt.NameIDCopyright),
		Trademark:       nameOrEmpty(f, &buf, sfnt.NameIDTrademark),
		FileSize:        info.Size(),
		FilePath:        filepath.Clean(path),
		LastModified:    info.ModTime().UTC(),
	}

	// Requesting metrics at ppem == unitsPerEm/64 yields values in font units
	if m, err := f.Metrics(&buf, fixed.Int26_6(f.UnitsPerEm()), font.HintingNone); err == nil {
		meta.Ascent = int(m.Ascent)
		meta.Descent = int(m.Descent)
		meta.LineGap = int(m.Height - m.Ascent - m.Descent)
	}

	coverage, err := DetectCoverage(ctx, f, &buf)
	if err != nil {
		return nil, err
	}
	meta.CoverageRanges = coverage

	return meta, nil
}

// DetectCoverage samples each of CoverageBlocks and returns the blocks with
// at least one mapped glyph. Roughly maxCoverageSamples evenly spaced code
// points are sampled per block and SupportedGlyphs extrapolates the hit ratio.
func DetectCoverage(ctx context.Context, f *sfnt.Font, buf *sfnt.Buffer) ([]types.UnicodeRange, error) {
	if buf == nil {
		buf = &sfnt.Buffer{}
	}

	ranges := make([]types.UnicodeRange, 0, len(CoverageBlocks))
	for _, block := range CoverageBlocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		size := block.TotalGlyphs()
		step := max(1, size/min(maxCoverageSamples, size))

		supported, sampled := 0, 0
		for cp := block.StartCodePoint; cp <= block.EndCodePoint; cp += step {
			sampled++
			idx, err := f.GlyphIndex(buf, rune(cp))
			if err == nil && idx != 0 {
				supported++
			}
		}
		if supported == 0 {
			continue
		}

		block.SupportedGlyphs = supported * size / sampled
		ranges = append(ranges, block)
	}

	return ranges, nil
}

// embeddingRights decodes the OS/2 fsType field of the font at index within
// data. sfnt does not expose the OS/2 table, so the table directory is read
// directly.
func embeddingRights(data []byte, index int) types.EmbeddingRights {
	offset := 0
	if bytes.HasPrefix(data, collectionTag) {
		entry := 12 + 4*index
		if len(data) < entry+4 {
			return types.EmbeddingUnknown
		}
		offset = int(binary.BigEndian.Uint32(data[entry:]))
	}

	if len(data) < offset+12 {
		return types.EmbeddingUnknown
	}
	numTables := int(binary.BigEndian.Uint16(data[offset+4:]))

	for i := 0; i < numTables; i++ {
		record := offset + 12 + 16*i
		if len(data) < record+16 {
			return types.EmbeddingUnknown
		}
		if string(data[record:record+4]) != "OS/2" {
			continue
		}

		table := int(binary.BigEndian.Uint32(data[record+8:]))
		if len(data) < table+10 {
			return types.EmbeddingUnknown
		}
		return embeddingFromFsType(binary.BigEndian.Uint16(data[table+8:]))
	}

	return types.EmbeddingUnknown
}

// embeddingFromFsType maps fsType bits to the least restrictive permission
// they grant
func embeddingFromFsType(fsType uint16) types.EmbeddingRights {
	switch {
	case fsType&0x000F == 0:
		return types.EmbeddingInstallable
	case fsType&0x0008 != 0:
		return types.EmbeddingEditable
	case fsType&0x0004 != 0:
		return types.EmbeddingPreviewPrint
	case fsType&0x0002 != 0:
		return types.EmbeddingRestricted
	default:
		return types.EmbeddingUnknown
	}
}
