package fonts

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"

	"github.com/wowfontmanager/fontcache/internal/buffer"
	"github.com/wowfontmanager/fontcache/internal/cache"
	fcerrors "github.com/wowfontmanager/fontcache/pkg/errors"
)

// failingSource never yields a face
type failingSource struct{ err error }

func (s failingSource) WithFace(float64, func(font.Face) error) error { return s.err }

func loadGoRegular(t *testing.T) *Typeface {
	t.Helper()
	tf, err := LoadTypeface(writeGoRegular(t, t.TempDir(), "GoRegular.ttf"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tf.Close() })
	return tf
}

// countInk returns the pixels that differ from bg
func countInk(img *image.RGBA, bg color.Color) int {
	want := color.RGBAModel.Convert(bg).(color.RGBA)
	ink := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) != want {
				ink++
			}
		}
	}
	return ink
}

func TestRenderThumbnail(t *testing.T) {
	tf := loadGoRegular(t)
	opts := DefaultRenderOptions()
	opts.SampleText = "Hello"

	img, err := RenderThumbnail(context.Background(), tf, opts, nil)
	require.NoError(t, err)
	require.NotNil(t, img)

	var lineHeight int
	require.NoError(t, tf.WithFace(opts.PointSize, func(face font.Face) error {
		lineHeight = face.Metrics().Height.Ceil()
		return nil
	}))

	assert.Equal(t, opts.Width, img.Bounds().Dx(), "short text keeps the minimum width")
	assert.Equal(t, max(opts.Height, lineHeight+2*opts.Padding), img.Bounds().Dy())
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(0, 0), "padding is background")
	assert.Positive(t, countInk(img, opts.Background))
}

func TestRenderThumbnail_GrowsToFitText(t *testing.T) {
	tf := loadGoRegular(t)
	opts := DefaultRenderOptions()

	img, err := RenderThumbnail(context.Background(), tf, opts, nil)
	require.NoError(t, err)

	// Three lines at 18pt do not fit in 48 pixels.
	assert.Greater(t, img.Bounds().Dy(), opts.Height)
	assert.GreaterOrEqual(t, img.Bounds().Dx(), opts.Width)

	var lineHeight int
	require.NoError(t, tf.WithFace(opts.PointSize, func(face font.Face) error {
		lineHeight = face.Metrics().Height.Ceil()
		return nil
	}))
	assert.Equal(t, 3*lineHeight+2*opts.Padding, img.Bounds().Dy())
}

func TestRenderThumbnail_Colors(t *testing.T) {
	tf := loadGoRegular(t)
	opts := DefaultRenderOptions()
	opts.SampleText = "W"
	opts.Foreground = nil
	opts.Background = color.RGBA{0, 0, 128, 255}

	img, err := RenderThumbnail(context.Background(), tf, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0, 0, 128, 255}, img.RGBAAt(1, 1))
	assert.Positive(t, countInk(img, opts.Background))
}

func TestRenderThumbnail_UsesPool(t *testing.T) {
	tf := loadGoRegular(t)
	pool := buffer.NewBitmapPool()
	opts := DefaultRenderOptions()
	opts.SampleText = "Pooled"

	first, err := RenderThumbnail(context.Background(), tf, opts, pool)
	require.NoError(t, err)
	pool.Put(first)

	second, err := RenderThumbnail(context.Background(), tf, opts, pool)
	require.NoError(t, err)
	assert.Positive(t, countInk(second, opts.Background), "recycled buffers are repainted")

	stats := pool.GetStats()
	assert.Equal(t, uint64(2), stats.Gets)
	assert.Equal(t, uint64(1), stats.Puts)
}

func TestRenderThumbnail_NilSource(t *testing.T) {
	img, err := RenderThumbnail(context.Background(), nil, DefaultRenderOptions(), nil)
	assert.NoError(t, err)
	assert.Nil(t, img)
}

func TestRenderThumbnail_Errors(t *testing.T) {
	tf := loadGoRegular(t)

	t.Run("zero point size", func(t *testing.T) {
		opts := DefaultRenderOptions()
		opts.PointSize = 0
		_, err := RenderThumbnail(context.Background(), tf, opts, nil)
		assert.True(t, fcerrors.HasCode(err, fcerrors.ErrCodeRenderFailed))
	})

	t.Run("face failure", func(t *testing.T) {
		_, err := RenderThumbnail(context.Background(), failingSource{errors.New("no face")}, DefaultRenderOptions(), nil)
		assert.True(t, fcerrors.HasCode(err, fcerrors.ErrCodeRenderFailed))
	})

	t.Run("closed typeface", func(t *testing.T) {
		closed, err := LoadTypeface(writeGoRegular(t, t.TempDir(), "Closed.ttf"))
		require.NoError(t, err)
		require.NoError(t, closed.Close())

		_, err = RenderThumbnail(context.Background(), closed, DefaultRenderOptions(), nil)
		assert.True(t, fcerrors.HasCode(err, fcerrors.ErrCodeRenderFailed))
	})

	t.Run("canceled", func(t *testing.T) {
		pool := buffer.NewBitmapPool()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		img, err := RenderThumbnail(ctx, tf, DefaultRenderOptions(), pool)
		assert.Nil(t, img)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, uint64(1), pool.GetStats().Puts, "the canvas goes back to the pool")
	})
}

func TestSampleText(t *testing.T) {
	assert.Equal(t, sampleTexts["koKR"], SampleText("koKR"))
	assert.Equal(t, sampleTexts["enUS"], SampleText("frFR"))
	assert.Equal(t, sampleTexts["enUS"], SampleText(""))
}

func TestSampleTextForPath(t *testing.T) {
	tests := []struct {
		path   string
		locale string
	}{
		{"Fonts/enUS/FRIZQT__.TTF", "enUS"},
		{"Fonts/ZHTW/bLEI00D.ttf", "zhTW"},
		{"Fonts/zh_cn/ARKai_T.ttf", "zhCN"},
		{"Fonts/koKR/2002.ttf", "koKR"},
		{"Fonts/ruRU/FRIZQT___CYR.TTF", "ruRU"},
		{"Fonts/ja_JP/font.otf", "jaJP"},
		{"Fonts/shared.ttf", "zhCN"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, sampleTexts[tt.locale], SampleTextForPath(tt.path))
		})
	}
}

func TestRenderOptions_ThumbnailKey(t *testing.T) {
	path := writeGoRegular(t, t.TempDir(), "GoRegular.ttf")
	base := DefaultRenderOptions()

	larger := base
	larger.PointSize = 24
	wider := base
	wider.Width = 800

	key := base.ThumbnailKey(path)
	assert.True(t, cache.KeyMatchesFile(key, path))
	assert.Equal(t, key, base.ThumbnailKey(path), "keys are stable")
	assert.NotEqual(t, key, larger.ThumbnailKey(path))
	assert.NotEqual(t, key, wider.ThumbnailKey(path))
	assert.Equal(t, []string{base.SampleText, "18", "400x48"}, base.KeyParams())
}
