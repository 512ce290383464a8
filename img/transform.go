package img

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Types of image transformations
type TransType int

const NoTrans TransType = 0

const (
	Rotate TransType = 1 << iota
	Shift
	Shear
	Zoom
	HorizFlip
)

// AllTrans enables every transform type.
const AllTrans = Rotate | Shift | Shear | Zoom | HorizFlip

var transTypeNames = map[TransType]string{
	Rotate:    "Rotate",
	Shift:     "Shift",
	Shear:     "Shear",
	Zoom:      "Zoom",
	HorizFlip: "HorizFlip",
}

func (t TransType) String() string {
	if t == NoTrans {
		return "None"
	}
	s := []string{}
	for key, name := range transTypeNames {
		if t&key != 0 {
			s = append(s, name)
		}
	}
	sort.Strings(s)
	return strings.Join(s, " ")
}

// Augment sets the range of each random transform. Rotation and Shear are in degrees, shifts are
// a fraction of the image size and Zoom gives scale factors in the range [1-Zoom, 1+Zoom].
type Augment struct {
	Trans       TransType
	Rotation    float64
	WidthShift  float64
	HeightShift float64
	Shear       float64
	Zoom        float64
	FlipProb    float64
}

// DefaultAugment returns the settings used to distort training images.
func DefaultAugment() Augment {
	return Augment{
		Trans:       AllTrans,
		Rotation:    20,
		WidthShift:  0.2,
		HeightShift: 0.2,
		Shear:       0.2,
		Zoom:        0.2,
		FlipProb:    0.5,
	}
}

// affine transform which maps output (row, col) coordinates to input coordinates
type affine struct {
	m      [2][2]float64
	offset [2]float64
	flip   bool
}

type matrix [3][3]float64

func identity() matrix {
	return matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func (a matrix) mul(b matrix) (c matrix) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				c[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return c
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// draw random parameters and build the transform for an image of the given size
func (a Augment) sample(rng *rand.Rand, height, width int) affine {
	var theta, tx, ty, shear float64
	zx, zy := 1.0, 1.0
	if a.Trans&Rotate != 0 && a.Rotation != 0 {
		theta = uniform(rng, -a.Rotation, a.Rotation) * math.Pi / 180
	}
	if a.Trans&Shift != 0 {
		if a.HeightShift != 0 {
			tx = uniform(rng, -a.HeightShift, a.HeightShift) * float64(height)
		}
		if a.WidthShift != 0 {
			ty = uniform(rng, -a.WidthShift, a.WidthShift) * float64(width)
		}
	}
	if a.Trans&Shear != 0 && a.Shear != 0 {
		shear = uniform(rng, -a.Shear, a.Shear) * math.Pi / 180
	}
	if a.Trans&Zoom != 0 && a.Zoom != 0 {
		zx = uniform(rng, 1-a.Zoom, 1+a.Zoom)
		zy = uniform(rng, 1-a.Zoom, 1+a.Zoom)
	}
	flip := a.Trans&HorizFlip != 0 && rng.Float64() < a.FlipProb

	sin, cos := math.Sincos(theta)
	m := matrix{{cos, -sin, 0}, {sin, cos, 0}, {0, 0, 1}}
	m = m.mul(matrix{{1, 0, tx}, {0, 1, ty}, {0, 0, 1}})
	m = m.mul(matrix{{1, -math.Sin(shear), 0}, {0, math.Cos(shear), 0}, {0, 0, 1}})
	m = m.mul(matrix{{zx, 0, 0}, {0, zy, 0}, {0, 0, 1}})
	// apply about the centre of the image
	ox, oy := float64(height)/2+0.5, float64(width)/2+0.5
	m = matrix{{1, 0, ox}, {0, 1, oy}, {0, 0, 1}}.mul(m).mul(matrix{{1, 0, -ox}, {0, 1, -oy}, {0, 0, 1}})
	return affine{
		m:      [2][2]float64{{m[0][0], m[0][1]}, {m[1][0], m[1][1]}},
		offset: [2]float64{m[0][2], m[1][2]},
		flip:   flip,
	}
}

func (t affine) isIdentity() bool {
	return t.m == [2][2]float64{{1, 0}, {0, 1}} && t.offset == [2]float64{}
}

// resample src with bilinear interpolation, coordinates outside the image take the nearest edge value
func (t affine) apply(src *RGBImage) *RGBImage {
	dst := NewRGB(src.Width, src.Height)
	if t.isIdentity() {
		copy(dst.Pix, src.Pix)
	} else {
		maxR, maxC := float64(src.Height-1), float64(src.Width-1)
		for r := 0; r < src.Height; r++ {
			for c := 0; c < src.Width; c++ {
				ir := t.m[0][0]*float64(r) + t.m[0][1]*float64(c) + t.offset[0]
				ic := t.m[1][0]*float64(r) + t.m[1][1]*float64(c) + t.offset[1]
				ir = math.Max(0, math.Min(ir, maxR))
				ic = math.Max(0, math.Min(ic, maxC))
				r0, c0 := int(ir), int(ic)
				r1, c1 := min(r0+1, src.Height-1), min(c0+1, src.Width-1)
				fr, fc := float32(ir-float64(r0)), float32(ic-float64(c0))
				out := dst.Pix[3*(r*src.Width+c):]
				for ch := 0; ch < 3; ch++ {
					v00 := src.Pix[3*(r0*src.Width+c0)+ch]
					v01 := src.Pix[3*(r0*src.Width+c1)+ch]
					v10 := src.Pix[3*(r1*src.Width+c0)+ch]
					v11 := src.Pix[3*(r1*src.Width+c1)+ch]
					top := v00*(1-fc) + v01*fc
					bot := v10*(1-fc) + v11*fc
					out[ch] = top*(1-fr) + bot*fr
				}
			}
		}
	}
	if t.flip {
		flipHoriz(dst)
	}
	return dst
}

func flipHoriz(m *RGBImage) {
	for y := 0; y < m.Height; y++ {
		row := m.Pix[3*y*m.Width : 3*(y+1)*m.Width]
		for l, r := 0, m.Width-1; l < r; l, r = l+1, r-1 {
			for ch := 0; ch < 3; ch++ {
				row[3*l+ch], row[3*r+ch] = row[3*r+ch], row[3*l+ch]
			}
		}
	}
}

// Transformer applies random augmentations to images, each worker thread has its own random source.
type Transformer struct {
	Augment
	rng []*rand.Rand
}

// Create a new transformer object, if threads < 1 then use all available CPUs.
func NewTransformer(aug Augment, threads int, rng *rand.Rand) *Transformer {
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	t := &Transformer{Augment: aug}
	for i := 0; i < threads; i++ {
		t.rng = append(t.rng, rand.New(rand.NewSource(rng.Int63())))
	}
	return t
}

// Transform a single image using the random source for the given thread.
func (t *Transformer) Transform(src *RGBImage, thread int) *RGBImage {
	return t.sample(t.rng[thread], src.Height, src.Width).apply(src)
}

// Transform a batch of images in parallel
func (t *Transformer) TransformBatch(src []*RGBImage, dst []*RGBImage) []*RGBImage {
	if dst == nil {
		dst = make([]*RGBImage, len(src))
	}
	var wg sync.WaitGroup
	queue := make(chan int, len(t.rng))
	for thread := range t.rng {
		wg.Add(1)
		go func(thread int) {
			for i := range queue {
				dst[i] = t.Transform(src[i], thread)
			}
			wg.Done()
		}(thread)
	}
	for i := range src {
		queue <- i
	}
	close(queue)
	wg.Wait()
	return dst
}
