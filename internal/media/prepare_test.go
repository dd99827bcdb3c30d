package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"loopline/internal/models"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	// #nosec G404: weak random is fine for test image generation
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// #nosec G115: Intn(256) is safe for uint8
			img.SetRGBA(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	buf := bytes.NewBuffer(nil)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func transparentPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	buf := bytes.NewBuffer(nil)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestPrepare_ScalesAndReencodesAsJPEG(t *testing.T) {
	t.Parallel()

	content := noisyPNG(t, 1600, 1200)
	p := NewPreparer(WithMaxDimension(800))

	up, err := p.Prepare(FieldPostImage, "holiday.png", "image/png", content)
	require.NoError(t, err)
	assert.Equal(t, FieldPostImage, up.FieldName)
	assert.Equal(t, "holiday.jpg", up.Filename)
	assert.Equal(t, "image/jpeg", up.ContentType)
	assert.Less(t, len(up.Data), len(content))

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(up.Data))
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Width)
	assert.Equal(t, 600, cfg.Height)
}

func TestPrepare_WebP(t *testing.T) {
	t.Parallel()

	p := NewPreparer(WithFormat(FormatWebP))
	up, err := p.Prepare(FieldProfilePicture, "me.png", "", noisyPNG(t, 40, 30))
	require.NoError(t, err)
	assert.Equal(t, "me.webp", up.Filename)
	assert.Equal(t, "image/webp", up.ContentType)

	img, err := webp.Decode(bytes.NewReader(up.Data))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
}

func TestPrepare_TransparentAreasBecomeWhite(t *testing.T) {
	t.Parallel()

	up, err := NewPreparer().Prepare(FieldPostImage, "alpha.png", "image/png", transparentPNG(t, 16, 16))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(up.Data))
	require.NoError(t, err)
	r, g, b, _ := img.At(8, 8).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestPrepare_Validation(t *testing.T) {
	t.Parallel()

	small := NewPreparer(WithMaxUploadSizeMB(1))
	tests := []struct {
		name        string
		contentType string
		content     []byte
		want        string
	}{
		{"empty", "image/png", nil, "No file uploaded"},
		{"not an image", "text/plain", []byte("not an image"), "Invalid image type"},
		{"too large", "image/png", bytes.Repeat([]byte{'a'}, 2*1024*1024), "File too large (max 1MB)"},
		{"type mismatch", "image/gif", noisyPNG(t, 4, 4), "Image content type mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := small.Prepare(FieldPostImage, "x.png", tt.contentType, tt.content)
			require.Error(t, err)
			assert.True(t, models.IsValidation(err))
			assert.Equal(t, FieldPostImage+": "+tt.want, models.UserMessage(err))
		})
	}
}

func TestPrepareFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, noisyPNG(t, 10, 10), 0o600))

	up, err := NewPreparer().PrepareFile(FieldPostImage, path)
	require.NoError(t, err)
	assert.Equal(t, "cat.jpg", up.Filename)

	_, err = NewPreparer().PrepareFile(FieldPostImage, filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"": FormatJPEG, "JPG": FormatJPEG, "webp": FormatWebP} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("bmp")
	assert.Error(t, err)
}
