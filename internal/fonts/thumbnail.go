package fonts

import (
	"context"
	"image"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/wowfontmanager/fontcache/internal/buffer"
	"github.com/wowfontmanager/fontcache/internal/cache"
	fcerrors "github.com/wowfontmanager/fontcache/pkg/errors"
)

// RenderOptions controls thumbnail rendering. Width and Height are minimum
// canvas dimensions; the canvas grows to fit the text plus padding.
type RenderOptions struct {
	SampleText string
	PointSize  float64
	Width      int
	Height     int
	Padding    int
	Foreground color.Color
	Background color.Color
}

// DefaultRenderOptions returns black text on white at 18pt in a 400x48 canvas
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		SampleText: sampleTexts["enUS"],
		PointSize:  18,
		Width:      400,
		Height:     48,
		Padding:    20,
		Foreground: color.Black,
		Background: color.White,
	}
}

// KeyParams returns the render parameters that distinguish thumbnails of
// the same file, for use with cache.ThumbnailKey
func (o RenderOptions) KeyParams() []string {
	return []string{
		o.SampleText,
		strconv.FormatFloat(o.PointSize, 'g', -1, 64),
		strconv.Itoa(o.Width) + "x" + strconv.Itoa(o.Height),
	}
}

// ThumbnailKey returns the cache key for a thumbnail of path rendered with o
func (o RenderOptions) ThumbnailKey(path string) string {
	return cache.ThumbnailKey(path, o.KeyParams()...)
}

var sampleTexts = map[string]string{
	"enUS": "The quick brown fox jumps over the lazy dog.\nABCDEFGHIJKLMNOPQRSTUVWXYZ\n0123456789",
	"zhCN": "快速的棕色狐狸跳过懒狗。\n魔兽世界字体管理器\n简体中文测试文本",
	"zhTW": "快速的棕色狐狸跳過懶狗。\n魔獸世界字體管理器\n繁體中文測試文本",
	"koKR": "재빠른 갈색 여우가 게으른 개를 뛰어넘습니다.\n월드 오브 워크래프트\n한국어 테스트 텍스트",
	"ruRU": "Быстрая коричневая лиса перепрыгивает через ленивую собаку.\nWorld of Warcraft\nРусский тестовый текст",
	"jaJP": "素早い茶色のキツネが怠け者の犬を飛び越えます。\nワールド・オブ・ウォークラフト\n日本語テストテキスト",
}

var localeMarkers = []struct {
	locale  string
	markers []string
}{
	{"enUS", []string{"enus", "en_us"}},
	{"zhCN", []string{"zhcn", "zh_cn"}},
	{"zhTW", []string{"zhtw", "zh_tw"}},
	{"koKR", []string{"kokr", "ko_kr"}},
	{"ruRU", []string{"ruru", "ru_ru"}},
	{"jaJP", []string{"jajp", "ja_jp"}},
}

// SampleText returns the sample text for a client locale, falling back to enUS
func SampleText(locale string) string {
	if text, ok := sampleTexts[locale]; ok {
		return text
	}
	return sampleTexts["enUS"]
}

// SampleTextForPath picks sample text from the locale folder in a font
// path. Paths without a locale marker get Simplified Chinese text, since
// fonts outside a locale folder are usually shared CJK fonts.
func SampleTextForPath(path string) string {
	lower := strings.ToLower(path)
	for _, entry := range localeMarkers {
		for _, marker := range entry.markers {
			if strings.Contains(lower, marker) {
				return sampleTexts[entry.locale]
			}
		}
	}
	return sampleTexts["zhCN"]
}

// RenderThumbnail draws opts.SampleText with src into a bitmap taken from
// pool, or freshly allocated when pool is nil. A nil src yields no preview.
func RenderThumbnail(ctx context.Context, src FaceSource, opts RenderOptions, pool *buffer.BitmapPool) (*image.RGBA, error) {
	if src == nil {
		return nil, nil
	}
	if opts.PointSize <= 0 {
		return nil, fcerrors.NewError(fcerrors.ErrCodeRenderFailed, "point size must be positive").
			WithComponent("fonts").
			WithDetail("point_size", opts.PointSize)
	}
	if opts.Foreground == nil {
		opts.Foreground = color.Black
	}
	if opts.Background == nil {
		opts.Background = color.White
	}

	var img *image.RGBA
	err := src.WithFace(opts.PointSize, func(face font.Face) error {
		var err error
		img, err = renderLines(ctx, face, opts, pool)
		return err
	})
	if err != nil {
		if fcerrors.HasCode(err, fcerrors.ErrCodeFontParse) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fcerrors.Wrap(err, fcerrors.ErrCodeRenderFailed, "thumbnail rendering failed").
			WithComponent("fonts")
	}
	return img, nil
}

func renderLines(ctx context.Context, face font.Face, opts RenderOptions, pool *buffer.BitmapPool) (*image.RGBA, error) {
	lines := strings.Split(opts.SampleText, "\n")
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()

	textWidth := 0
	for _, line := range lines {
		textWidth = max(textWidth, font.MeasureString(face, line).Ceil())
	}
	textHeight := lineHeight * len(lines)

	width := max(textWidth+2*opts.Padding, opts.Width)
	height := max(textHeight+2*opts.Padding, opts.Height)

	var img *image.RGBA
	if pool != nil {
		img = pool.Get(width, height)
	} else {
		img = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	draw.Draw(img, img.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(opts.Foreground),
		Face: face,
	}
	baseline := fixed.I(opts.Padding) + metrics.Ascent
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			if pool != nil {
				pool.Put(img)
			}
			return nil, err
		}
		if line != "" {
			d.Dot = fixed.Point26_6{X: fixed.I(opts.Padding), Y: baseline}
			d.DrawString(line)
		}
		baseline += fixed.I(lineHeight)
	}

	return img, nil
}
