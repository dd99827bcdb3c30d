// Package media turns user-selected images into uploads: it checks the type,
// bounds the size, scales large images down and re-encodes them.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // register decoders
	"image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"loopline/internal/models"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultMaxUploadSizeMB = 10
	MaxDimension           = 2048
	JPEGQuality            = 82
	WebPQuality            = 70
)

// Multipart field names the server expects.
const (
	FieldPostImage      = "image"
	FieldProfilePicture = "picture"
)

// Format is the encoding of a prepared upload.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// ParseFormat accepts "jpeg", "jpg" or "webp".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jpeg", "jpg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("unsupported image format %q", s)
	}
}

// Preparer validates and normalizes images before upload.
type Preparer struct {
	maxBytes int64
	maxDim   int
	format   Format
}

type Option func(*Preparer)

// WithMaxUploadSizeMB bounds the accepted source size.
func WithMaxUploadSizeMB(mb int) Option {
	return func(p *Preparer) {
		if mb > 0 {
			p.maxBytes = int64(mb) * 1024 * 1024
		}
	}
}

// WithMaxDimension bounds the longer edge of the output.
func WithMaxDimension(px int) Option {
	return func(p *Preparer) {
		if px > 0 {
			p.maxDim = px
		}
	}
}

// WithFormat selects the output encoding.
func WithFormat(f Format) Option {
	return func(p *Preparer) { p.format = f }
}

func NewPreparer(opts ...Option) *Preparer {
	p := &Preparer{
		maxBytes: DefaultMaxUploadSizeMB * 1024 * 1024,
		maxDim:   MaxDimension,
		format:   FormatJPEG,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrepareFile reads path and prepares it for field.
func (p *Preparer) PrepareFile(field, path string) (models.Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Upload{}, fmt.Errorf("read image: %w", err)
	}
	if info.Size() > p.maxBytes {
		return models.Upload{}, p.tooLarge(field)
	}
	// #nosec G304: path is chosen by the local user
	content, err := os.ReadFile(path)
	if err != nil {
		return models.Upload{}, fmt.Errorf("read image: %w", err)
	}
	return p.Prepare(field, filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), content)
}

// Prepare checks content, scales it to fit and re-encodes it.
func (p *Preparer) Prepare(field, filename, contentType string, content []byte) (models.Upload, error) {
	if len(content) == 0 {
		return models.Upload{}, invalid(field, "No file uploaded")
	}
	if int64(len(content)) > p.maxBytes {
		return models.Upload{}, p.tooLarge(field)
	}

	detected := http.DetectContentType(content)
	if !isAllowedImageMIME(detected) {
		return models.Upload{}, invalid(field, "Invalid image type")
	}
	decoded, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return models.Upload{}, invalid(field, "Invalid image file")
	}
	source := decodedFormatToMime(format)
	if source == "" {
		return models.Upload{}, invalid(field, "Unsupported image format")
	}
	if provided := normalizeContentType(contentType); strings.HasPrefix(provided, "image/") && !isMatchingContentType(provided, source) {
		return models.Upload{}, invalid(field, "Image content type mismatch")
	}

	out := resizeToFit(flatten(decoded), p.maxDim, p.maxDim)

	var data []byte
	var ext, ctype string
	switch p.format {
	case FormatWebP:
		data, err = encodeWebP(out, WebPQuality)
		ext, ctype = ".webp", "image/webp"
	default:
		data, err = encodeJPEG(out, JPEGQuality)
		ext, ctype = ".jpg", "image/jpeg"
	}
	if err != nil {
		return models.Upload{}, fmt.Errorf("encode image: %w", err)
	}

	return models.Upload{
		FieldName:   field,
		Filename:    renameExt(filename, ext),
		ContentType: ctype,
		Data:        data,
	}, nil
}

func (p *Preparer) tooLarge(field string) error {
	return invalid(field, fmt.Sprintf("File too large (max %dMB)", p.maxBytes/(1024*1024)))
}

func invalid(field, msg string) error {
	return models.NewValidationError(msg, map[string][]string{field: {msg}})
}

// flatten draws src over white so transparent areas do not turn black when
// encoded without alpha.
func flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 || (w <= maxWidth && h <= maxHeight) {
		return src
	}

	scale := min(float64(maxWidth)/float64(w), float64(maxHeight)/float64(h))
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renameExt(filename, ext string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "upload"
	}
	return base + ext
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func isMatchingContentType(provided, detected string) bool {
	p := normalizeContentType(provided)
	d := normalizeContentType(detected)
	if p == d {
		return true
	}
	return (p == "image/jpg" && d == "image/jpeg") || (p == "image/jpeg" && d == "image/jpg")
}

func decodedFormatToMime(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}
