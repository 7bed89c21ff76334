package geosample

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"
)

// DefaultPreviewSize is the default maximum width and height of previews.
const DefaultPreviewSize = 512

// Preview returns a grayscale rendering of g whose longest side is at most
// maxSize pixels. Values are stretched linearly between g's minimum and
// maximum finite values and missing values are transparent. Larger grids are
// scaled directly from their samples.
func (g *Grid) Preview(maxSize int) *image.NRGBA {
	if maxSize <= 0 {
		maxSize = DefaultPreviewSize
	}

	src := newPreviewImage(g)
	if g.width <= maxSize && g.height <= maxSize {
		dst := image.NewNRGBA(src.Bounds())
		for row := range g.height {
			for col := range g.width {
				dst.SetNRGBA(col, row, src.NRGBAAt(col, row))
			}
		}
		return dst
	}

	width, height := maxSize, maxSize
	if g.width > g.height {
		height = max(1, g.height*maxSize/g.width)
	} else {
		width = max(1, g.width*maxSize/g.height)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst
}

// A previewImage is an image.Image that renders a Grid's samples as gray
// levels on demand.
type previewImage struct {
	grid      *Grid
	minSample float64
	scale     float64
}

func newPreviewImage(g *Grid) *previewImage {
	minSample, maxSample, ok := g.Range()
	scale := 0.0
	if ok && maxSample > minSample {
		scale = 255 / (maxSample - minSample)
	}
	return &previewImage{
		grid:      g,
		minSample: minSample,
		scale:     scale,
	}
}

func (p *previewImage) ColorModel() color.Model {
	return color.NRGBAModel
}

func (p *previewImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.grid.width, p.grid.height)
}

func (p *previewImage) At(x, y int) color.Color {
	return p.NRGBAAt(x, y)
}

// NRGBAAt returns the color of the sample at column x and row y.
func (p *previewImage) NRGBAAt(x, y int) color.NRGBA {
	if !(image.Point{x, y}.In(p.Bounds())) {
		return color.NRGBA{}
	}
	sample := p.grid.samples[y*p.grid.width+x]
	if !isFinite(sample) {
		return color.NRGBA{}
	}
	gray := uint8(255)
	if p.scale != 0 {
		gray = uint8(min(max((sample-p.minSample)*p.scale+0.5, 0), 255))
	}
	return color.NRGBA{R: gray, G: gray, B: gray, A: 0xff}
}

// WritePreviewPNG writes g's preview to w as a PNG.
func WritePreviewPNG(w io.Writer, g *Grid, maxSize int) error {
	return png.Encode(w, g.Preview(maxSize))
}
