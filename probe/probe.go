// Package probe classifies a single image file with a trained network.
package probe

import (
	"fmt"
	"io"

	"github.com/jnb666/fruitnet/img"
	"github.com/jnb666/fruitnet/nnet"
	"github.com/jnb666/fruitnet/num"
	"github.com/pkg/errors"
)

// Predictor returns the probability of the second class for one npix x npix RGB image in HWC order.
type Predictor interface {
	Npix() int
	Classes() []string
	Predict(pixels []float32) (float32, error)
}

type netPredictor struct {
	net     *nnet.Network
	classes []string
	input   num.Array
}

// New returns a predictor which runs the forward pass of the network in inference mode.
func New(net *nnet.Network, classes []string) Predictor {
	shape := append([]int{1}, net.InShape()[1:]...)
	return &netPredictor{net: net, classes: classes, input: net.Queue().NewArray(shape...)}
}

// FromModel creates a network from the saved model.
func FromModel(m *nnet.Model, queue num.Queue) (Predictor, error) {
	net, err := m.Network(queue, 1)
	if err != nil {
		return nil, err
	}
	return New(net, m.Classes), nil
}

func (p *netPredictor) Npix() int { return p.net.InShape()[1] }

func (p *netPredictor) Classes() []string { return p.classes }

func (p *netPredictor) Predict(pixels []float32) (float32, error) {
	if len(pixels) != p.input.Size() {
		return 0, errors.Errorf("predict: have %d values - expecting %d", len(pixels), p.input.Size())
	}
	p.net.Queue().Call(num.Write(p.input, pixels))
	return p.net.Predict(p.input)[0], nil
}

// Prediction is the classification for one image.
type Prediction struct {
	Class int
	Label string
	Prob  float64
}

func (r Prediction) String() string {
	return fmt.Sprintf("%s (prob=%.2f)", r.Label, r.Prob)
}

var labels = []string{"Fresh fruit", "Rotten fruit"}

// Label returns the display name for a class index. Class 0 is fresh and 1 is rotten whatever the
// directory names are.
func Label(class int) string {
	if class < 0 || class >= len(labels) {
		return "Unknown"
	}
	return labels[class]
}

// Classify loads the image at path, resized to the network input size with bilinear interpolation.
// An output of at least 0.5 is the second class with confidence p, else the first with confidence 1-p.
func Classify(p Predictor, path string) (Prediction, error) {
	m, err := img.Load(path, p.Npix(), img.Bilinear)
	if err != nil {
		return Prediction{}, errors.Wrap(err, "classify")
	}
	return ClassifyPixels(p, m.Pix)
}

// ClassifyPixels classifies an image which has already been loaded.
func ClassifyPixels(p Predictor, pixels []float32) (Prediction, error) {
	classes := p.Classes()
	if len(classes) != 2 {
		return Prediction{}, errors.Errorf("classify: expecting 2 classes - got %v", classes)
	}
	prob, err := p.Predict(pixels)
	if err != nil {
		return Prediction{}, err
	}
	res := Prediction{Class: 1, Prob: float64(prob)}
	if prob < 0.5 {
		res.Class, res.Prob = 0, 1-float64(prob)
	}
	res.Label = Label(res.Class)
	return res, nil
}

// Probe classifies the image and prints the result, e.g. "Rotten fruit (prob=0.80)".
func Probe(w io.Writer, p Predictor, path string) error {
	res, err := Classify(p, path)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, res)
	return err
}
