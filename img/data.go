package img

import (
	"image"
	"runtime"

	"github.com/jnb666/fruitnet/stats"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// FileData is a set of images which are read from disk when needed. It implements the nnet.Data interface.
type FileData struct {
	Samples []Sample
	Class   []string
	Npix    int
	Interp  Interp
	Threads int
	trans   *Transformer
	labels  map[string]float32
}

// NewFileData creates a new data set. The label for each sample is the index of its class in the classes list.
func NewFileData(samples []Sample, classes []string, npix int) (*FileData, error) {
	d := &FileData{Samples: samples, Class: classes, Npix: npix, Threads: runtime.GOMAXPROCS(0)}
	d.labels = make(map[string]float32)
	for i, class := range classes {
		d.labels[class] = float32(i)
	}
	for _, s := range samples {
		if _, ok := d.labels[s.Label]; !ok {
			return nil, errors.Errorf("sample %s has unknown class %q", s.Path, s.Label)
		}
	}
	return d, nil
}

// SetTransformer sets random distortions to apply to each image as it is loaded, nil to disable.
func (d *FileData) SetTransformer(t *Transformer) {
	d.trans = t
}

// Len function returns number of images
func (d *FileData) Len() int { return len(d.Samples) }

// Classes functions returns the class names
func (d *FileData) Classes() []string { return d.Class }

// Shape returns height, width, channels
func (d *FileData) Shape() []int { return []int{d.Npix, d.Npix, 3} }

// Label returns classification for given images
func (d *FileData) Label(index []int, label []float32) {
	for i, ix := range index {
		label[i] = d.labels[d.Samples[ix].Label]
	}
}

// Input loads the images with the given indexes and copies the pixel data to buf.
func (d *FileData) Input(index []int, buf []float32) error {
	images, err := d.load(index)
	if err != nil {
		return err
	}
	if d.trans != nil {
		images = d.trans.TransformBatch(images, images)
	}
	nfeat := 3 * d.Npix * d.Npix
	for i, m := range images {
		copy(buf[i*nfeat:(i+1)*nfeat], m.Pix)
	}
	return nil
}

// decode and resize a batch of images in parallel
func (d *FileData) load(index []int) ([]*RGBImage, error) {
	images := make([]*RGBImage, len(index))
	var g errgroup.Group
	if d.Threads > 0 {
		g.SetLimit(d.Threads)
	}
	for i, ix := range index {
		i, path := i, d.Samples[ix].Path
		g.Go(func() (err error) {
			images[i], err = Load(path, d.Npix, d.Interp)
			return err
		})
	}
	return images, g.Wait()
}

// Image returns given image number without any distortion
func (d *FileData) Image(ix int) (image.Image, error) {
	return Load(d.Samples[ix].Path, d.Npix, d.Interp)
}

// Calculate per channel mean and stddev from set of images
func GetStats(images []*RGBImage) (mean, std []float32) {
	stat := make([]*stats.Average, 3)
	for ch := range stat {
		stat[ch] = new(stats.Average)
		for _, m := range images {
			for _, val := range m.Pixels(ch) {
				stat[ch].Add(float64(val))
			}
		}
	}
	mean = make([]float32, 3)
	std = make([]float32, 3)
	for i, s := range stat {
		mean[i] = float32(s.Mean)
		std[i] = float32(s.StdDev)
	}
	return mean, std
}
