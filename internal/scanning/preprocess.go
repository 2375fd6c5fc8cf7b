package scanning

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/zombor/rx-tracker/internal/apperr"
)

const (
	// DefaultMaxDimension is the longest edge, in pixels, sent to recognition.
	DefaultMaxDimension = 1200
	// DefaultJPEGQuality is the re-encode quality for prepared images.
	DefaultJPEGQuality = 90
)

const preparedSuffix = ".prepared.jpg"

// FileStore is the part of the image store the scanning package needs
type FileStore interface {
	Save(filename string, data []byte) (string, error)
	Get(ref string) ([]byte, error)
}

// Preparer normalizes captured images before text recognition
type Preparer struct {
	files        FileStore
	maxDimension int
	quality      int
}

// NewPreparer creates a Preparer. Zero values select the defaults.
func NewPreparer(files FileStore, maxDimension, quality int) *Preparer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Preparer{
		files:        files,
		maxDimension: maxDimension,
		quality:      quality,
	}
}

// Prepare returns a reference to a downsized JPEG copy of ref. When the
// image cannot be transformed the failure is logged and ref is returned
// unchanged. A ref that is already a prepared copy is returned as is.
func (p *Preparer) Prepare(ctx context.Context, ref string) string {
	if isPrepared(ref) {
		return ref
	}

	prepared, err := p.prepare(ctx, ref)
	if err != nil {
		slog.Warn("preprocess.failed", "ref", ref, "error", err)
		return ref
	}
	slog.Debug("preprocess.done", "ref", ref, "prepared", prepared)
	return prepared
}

func (p *Preparer) prepare(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.New(apperr.KindPreprocess, "preparing image", err)
	}

	data, err := p.files.Get(ref)
	if err != nil {
		return "", apperr.New(apperr.KindPreprocess, "loading image", err)
	}

	img, err := decodeImage(data, ref)
	if err != nil {
		return "", apperr.New(apperr.KindPreprocess, "decoding image", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fit(img, p.maxDimension), &jpeg.Options{Quality: p.quality}); err != nil {
		return "", apperr.New(apperr.KindPreprocess, "encoding JPEG", err)
	}

	prepared, err := p.files.Save(preparedName(ref), buf.Bytes())
	if err != nil {
		return "", apperr.New(apperr.KindPreprocess, "saving prepared image", err)
	}
	return prepared, nil
}

// fit scales img so its longest edge is at most maxDim, flattening any
// transparency onto white. Smaller images keep their size.
func fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if long := max(w, h); long > maxDim {
		w = max(1, w*maxDim/long)
		h = max(1, h*maxDim/long)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func preparedName(ref string) string {
	return strings.TrimSuffix(ref, filepath.Ext(ref)) + preparedSuffix
}

func isPrepared(ref string) bool {
	return strings.HasSuffix(ref, preparedSuffix)
}
