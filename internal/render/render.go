// Package render writes annotated copies of photographs with a labelled box per face.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facegroup/internal/cluster"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// OutputPrefix is prepended to the source file name of every annotated copy.
	OutputPrefix = "labeled_"

	strokeWidth = 2
	stripHeight = 20
	textInsetX  = 6
	textInsetY  = 17
)

var (
	boxColor  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	textColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Renderer draws labels and saves the result into OutputDir.
type Renderer struct {
	OutputDir   string
	JPEGQuality int
	FontFace    font.Face
}

// New creates outputDir if needed.
func New(outputDir string) (*Renderer, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Renderer{OutputDir: outputDir, JPEGQuality: 95, FontFace: basicfont.Face7x13}, nil
}

// Render implements cluster.Renderer.
func (r *Renderer) Render(ctx context.Context, task cluster.LabelTask) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(task.Path)
	if err != nil {
		return "", err
	}
	src, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)
	for _, l := range task.Labels {
		r.drawLabel(canvas, l)
	}

	name := task.SourceID
	if name == "" {
		name = filepath.Base(task.Path)
	}
	dst := filepath.Join(r.OutputDir, OutputPrefix+name)
	if err := r.save(dst, format, canvas); err != nil {
		return "", err
	}
	return dst, nil
}

// drawLabel draws the face outline, a filled strip along its bottom edge and the name on it.
func (r *Renderer) drawLabel(img *image.RGBA, l cluster.Label) {
	b := l.Box
	bounds := img.Bounds()
	outline := image.Rect(b.Left, b.Top, b.Right, b.Bottom).Intersect(bounds)
	if outline.Empty() {
		return
	}

	fill := image.NewUniform(boxColor)
	edges := []image.Rectangle{
		image.Rect(outline.Min.X, outline.Min.Y, outline.Max.X, outline.Min.Y+strokeWidth),
		image.Rect(outline.Min.X, outline.Max.Y-strokeWidth, outline.Max.X, outline.Max.Y),
		image.Rect(outline.Min.X, outline.Min.Y, outline.Min.X+strokeWidth, outline.Max.Y),
		image.Rect(outline.Max.X-strokeWidth, outline.Min.Y, outline.Max.X, outline.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(outline), fill, image.Point{}, draw.Src)
	}

	strip := image.Rect(b.Left, b.Bottom-stripHeight, b.Right, b.Bottom).Intersect(bounds)
	draw.Draw(img, strip, fill, image.Point{}, draw.Src)

	face := r.FontFace
	if face == nil {
		face = basicfont.Face7x13
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
		// The drawer positions the baseline; shift down by the ascent so the inset is the glyph top.
		Dot: fixed.P(b.Left+textInsetX, b.Bottom-textInsetY+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(l.Name)
}

func (r *Renderer) save(path, format string, img image.Image) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(format) {
	case "png":
		err = png.Encode(out, img)
	case "gif":
		err = gif.Encode(out, img, nil)
	case "bmp":
		err = bmp.Encode(out, img)
	default:
		quality := r.JPEGQuality
		if quality <= 0 {
			quality = 95
		}
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: quality})
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}
