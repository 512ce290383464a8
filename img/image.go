// Package img contains routines for indexing, loading and augmenting sets of images.
package img

import (
	"image"
	"image/color"
	"image/draw"
)

// RGBModel converts any colour to an RGB value with channels scaled to the range 0-1.
var RGBModel = color.ModelFunc(rgbModel)

// RGB color is stored as a float for each channel with values in range 0-1
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R, 0, 1), clampu(c.G, 0, 1), clampu(c.B, 0, 1), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff}
}

// RGBImage type stores the image data as float32 values in row major order with the r, g and b values
// for each pixel stored together, i.e. [height, width, channels] layout.
type RGBImage struct {
	Pix    []float32
	Height int
	Width  int
}

var _ draw.Image = (*RGBImage)(nil)

func NewRGB(width, height int) *RGBImage {
	return &RGBImage{Pix: make([]float32, height*width*3), Height: height, Width: width}
}

// Convert an image to RGB format, 8 bit values are rescaled to the range 0-1.
func FromImage(src image.Image) *RGBImage {
	b := src.Bounds()
	dst := NewRGB(b.Dx(), b.Dy())
	if m, ok := src.(*image.RGBA); ok {
		for y := 0; y < dst.Height; y++ {
			row := m.Pix[m.PixOffset(b.Min.X, y+b.Min.Y):]
			out := dst.Pix[y*dst.Width*3 : (y+1)*dst.Width*3]
			for x := 0; x < dst.Width; x++ {
				out[3*x] = float32(row[4*x]) / 255
				out[3*x+1] = float32(row[4*x+1]) / 255
				out[3*x+2] = float32(row[4*x+2]) / 255
			}
		}
		return dst
	}
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			dst.Set(x, y, src.At(x+b.Min.X, y+b.Min.Y))
		}
	}
	return dst
}

func (m *RGBImage) Channels() int {
	return 3
}

func (m *RGBImage) ColorModel() color.Model {
	return RGBModel
}

func (m *RGBImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *RGBImage) RGBAt(x, y int) RGB {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return RGB{}
	}
	i := 3 * (y*m.Width + x)
	return RGB{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2]}
}

func (m *RGBImage) At(x, y int) color.Color {
	return m.RGBAt(x, y)
}

func (m *RGBImage) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	rgb := rgbModel(c).(RGB)
	i := 3 * (y*m.Width + x)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = rgb.R, rgb.G, rgb.B
}

// Pixels returns the values for a single colour channel, or all of the data if ch is out of range.
func (m *RGBImage) Pixels(ch int) []float32 {
	if ch < 0 || ch > 2 {
		return m.Pix
	}
	res := make([]float32, m.Width*m.Height)
	for i := range res {
		res[i] = m.Pix[3*i+ch]
	}
	return res
}

// Channel returns a grayscale view of one colour channel, ch is one of "r", "g" or "b".
func (m *RGBImage) Channel(name string) *RGBImage {
	ch, ok := map[string]int{"r": 0, "g": 1, "b": 2}[name]
	if !ok {
		return m
	}
	dst := NewRGB(m.Width, m.Height)
	for i := 0; i < m.Width*m.Height; i++ {
		v := m.Pix[3*i+ch]
		dst.Pix[3*i], dst.Pix[3*i+1], dst.Pix[3*i+2] = v, v, v
	}
	return dst
}

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}
