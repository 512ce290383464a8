package img

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Interpolation used when resizing images
type Interp int

const (
	Nearest Interp = iota
	Bilinear
)

func (i Interp) String() string {
	if i == Bilinear {
		return "bilinear"
	}
	return "nearest"
}

func (i Interp) scaler() draw.Scaler {
	if i == Bilinear {
		return draw.BiLinear
	}
	return draw.NearestNeighbor
}

// Decode an image file in any of the registered formats.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error decoding %s", path)
	}
	return m, nil
}

// Resize image to npix x npix pixels and convert to 8 bit RGBA format.
// Any alpha channel is dropped first so transparent pixels keep their colour.
func Resize(src image.Image, npix int, interp Interp) *image.RGBA {
	src = opaque(src)
	dst := image.NewRGBA(image.Rect(0, 0, npix, npix))
	interp.scaler().Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func opaque(src image.Image) image.Image {
	if m, ok := src.(interface{ Opaque() bool }); ok && m.Opaque() {
		return src
	}
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetNRGBA(x, y, noAlpha(src.At(x, y)))
		}
	}
	return dst
}

// colour values before alpha premultiplication with alpha set to 255
func noAlpha(c color.Color) color.NRGBA {
	switch c := c.(type) {
	case color.NRGBA:
		return color.NRGBA{c.R, c.G, c.B, 255}
	case color.NRGBA64:
		return color.NRGBA{uint8(c.R >> 8), uint8(c.G >> 8), uint8(c.B >> 8), 255}
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = 255
	return n
}

// Load reads an image from disk, resizes it to npix x npix and returns it as RGB values in the range 0-1.
func Load(path string, npix int, interp Interp) (*RGBImage, error) {
	if npix <= 0 {
		return nil, errors.Errorf("invalid image size %d", npix)
	}
	src, err := Decode(path)
	if err != nil {
		return nil, err
	}
	return FromImage(Resize(src, npix, interp)), nil
}
