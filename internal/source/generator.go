package source

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// Generator renders a moving test pattern as a sequence of JPEG images.
type Generator struct {
	img     *image.RGBA
	opts    jpeg.Options
	n       int
	scratch bytes.Buffer
}

// NewGenerator returns a Generator for width x height frames.
func NewGenerator(width, height, quality int) *Generator {
	return &Generator{
		img:  image.NewRGBA(image.Rect(0, 0, width, height)),
		opts: jpeg.Options{Quality: quality},
	}
}

// Next renders and encodes the next frame. The returned slice is owned by
// the caller.
func (g *Generator) Next() ([]byte, error) {
	b := g.img.Bounds()
	w, h := b.Dx(), b.Dy()
	bar := g.n % w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8(g.n * 4),
				A: 0xFF,
			}
			if x >= bar && x < bar+w/16+1 {
				c = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
			}
			g.img.SetRGBA(x, y, c)
		}
	}
	g.n++

	g.scratch.Reset()
	if err := jpeg.Encode(&g.scratch, g.img, &g.opts); err != nil {
		return nil, err
	}
	return bytes.Clone(g.scratch.Bytes()), nil
}

// Split cuts data into consecutive chunks whose sizes are drawn uniformly
// from [minSize, maxSize]. The last chunk may be shorter.
func Split(data []byte, rng interface{ IntN(int) int }, minSize, maxSize int) [][]byte {
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	var out [][]byte
	for len(data) > 0 {
		n := minSize + rng.IntN(maxSize-minSize+1)
		n = min(n, len(data))
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
