package nnet

import (
	"image"
	"math/rand"
	"sync"

	"github.com/jnb666/fruitnet/num"
	"github.com/pkg/errors"
)

// Data interface type represents the raw data for a training or validation set
type Data interface {
	Len() int
	Classes() []string
	Shape() []int
	Label(index []int, label []float32)
	Input(index []int, buf []float32) error
	Image(i int) (image.Image, error)
}

// Dataset type encapsulates a set of training or validation data. Batches are loaded in the
// background while the previous batch is being processed.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	queue     num.Queue
	xBuffer   [2][]float32
	yBuffer   [2][]float32
	x, y      [2]num.Array
	size      [2]int
	err       [2]error
	indexes   []int
	buf       int
	epoch     int
	batch     int
	rng       *rand.Rand
	sync.WaitGroup
}

// Create a new Dataset struct, allocate array buffers and set the batch size.
func NewDataset(dev num.Device, data Data, batchSize int, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), rng: rng}
	if batchSize <= 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	if d.BatchSize > 0 {
		d.Batches = (d.Samples + d.BatchSize - 1) / d.BatchSize
	}
	nfeat := num.Prod(data.Shape())
	for i := range d.x {
		d.xBuffer[i] = make([]float32, nfeat*d.BatchSize)
		d.yBuffer[i] = make([]float32, d.BatchSize)
		d.x[i] = dev.NewArray(append([]int{d.BatchSize}, data.Shape()...)...)
		d.y[i] = dev.NewArray(d.BatchSize, 1)
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	d.queue = dev.NewQueue(1)
	return d
}

// kick of load of next batch of data in background
func (d *Dataset) loadBatch() {
	if d.batch >= d.Batches {
		return
	}
	buf := d.buf
	start := d.batch * d.BatchSize
	end := min(start+d.BatchSize, d.Samples)
	index := append([]int{}, d.indexes[start:end]...)
	d.Add(1)
	go func() {
		defer d.Done()
		n := len(index)
		d.size[buf] = n
		d.err[buf] = d.Input(index, d.xBuffer[buf])
		if d.err[buf] != nil {
			return
		}
		d.Label(index, d.yBuffer[buf])
		d.queue.Call(
			num.Write(d.x[buf].Slice(n), d.xBuffer[buf]),
			num.Write(d.y[buf].Slice(n), d.yBuffer[buf]),
		)
	}()
}

// Get next batch of data, the last batch in the epoch may be smaller than BatchSize.
func (d *Dataset) NextBatch() (x, y num.Array, err error) {
	d.Wait()
	if d.batch >= d.Batches {
		return nil, nil, errors.New("NextBatch: no more batches in this epoch")
	}
	buf := d.buf
	if d.err[buf] != nil {
		return nil, nil, d.err[buf]
	}
	n := d.size[buf]
	x, y = d.x[buf].Slice(n), d.y[buf].Slice(n)
	d.batch++
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return x, y, nil
}

// Called at start of each epoch to restart the sequence of batches.
func (d *Dataset) NextEpoch() {
	d.Wait()
	d.epoch++
	d.batch = 0
	d.loadBatch()
}

// Number of epochs started
func (d *Dataset) Epoch() int { return d.epoch }

// Shuffle the data set, takes effect from the next call to NextEpoch.
func (d *Dataset) Shuffle() {
	d.Wait()
	d.indexes = d.rng.Perm(d.Samples)
}

type data struct {
	Class  []string
	Dims   []int
	Labels []float32
	Inputs []float32
}

// NewData function creates a new in memory data set which implements the Data interface
func NewData(classes []string, shape []int, labels []float32, inputs []float32) Data {
	return data{Class: classes, Dims: shape, Labels: labels, Inputs: inputs}
}

func (d data) Len() int { return len(d.Labels) }

func (d data) Classes() []string { return d.Class }

func (d data) Shape() []int { return d.Dims }

func (d data) Label(index []int, label []float32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

func (d data) Input(index []int, buf []float32) error {
	nfeat := num.Prod(d.Dims)
	for i, ix := range index {
		copy(buf[i*nfeat:(i+1)*nfeat], d.Inputs[ix*nfeat:(ix+1)*nfeat])
	}
	return nil
}

func (d data) Image(i int) (image.Image, error) {
	return nil, errors.New("image not available for in memory data")
}
