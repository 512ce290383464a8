package nnet

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/jnb666/fruitnet/num"
	"github.com/pkg/errors"
)

// Model holds a trained network definition and its weights in a form which can be saved to disk.
type Model struct {
	Conf    Config
	Classes []string
	Weights [][]float32
}

// Export the current weights from the network.
func Export(net *Network, classes []string) *Model {
	return &Model{Conf: net.Config, Classes: classes, Weights: net.Snapshot()}
}

// Network creates a new network from the model which accepts up to batchSize inputs at a time.
func (m *Model) Network(queue num.Queue, batchSize int) (*Network, error) {
	if m.Conf.Npix <= 0 || len(m.Conf.Layers) == 0 {
		return nil, errors.New("model has no network definition")
	}
	net := New(queue, m.Conf, batchSize, []int{m.Conf.Npix, m.Conf.Npix, 3}, SetSeed(1))
	if err := net.Restore(m.Weights); err != nil {
		return nil, err
	}
	return net, nil
}

// Encode model in gob format
func (m *Model) Encode(w io.Writer) error {
	return errors.Wrap(gob.NewEncoder(w).Encode(m), "error encoding model")
}

// Decode model from gob format
func (m *Model) Decode(r io.Reader) error {
	return errors.Wrap(gob.NewDecoder(r).Decode(m), "error decoding model")
}

// Save model to file
func (m *Model) Save(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	if err = m.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load model from file
func LoadModel(filePath string) (*Model, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m := new(Model)
	return m, m.Decode(f)
}
