// Package nnet contains routines for constructing, training and testing neural networks.
package nnet

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jnb666/fruitnet/num"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers    []Layer
	queue     num.Queue
	inShape   []int
	inputGrad num.Array
	batchLoss num.Array
	batchAcc  num.Array
	accuracy  num.Array
}

// New function creates a new network with the given layers. inShape is the shape of one input sample,
// batchSize is the maximum number of samples passed to each Fprop call.
func New(queue num.Queue, conf Config, batchSize int, inShape []int, rng *rand.Rand) *Network {
	n := &Network{Config: conf, queue: queue}
	n.inShape = append([]int{batchSize}, inShape...)
	shape := n.inShape
	for _, l := range conf.Layers {
		layer := l.Unmarshal()
		layer.Init(queue, shape, rng)
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape(shape)
	}
	n.inputGrad = queue.NewArray(shape...)
	n.accuracy = queue.NewArray(shape...)
	n.batchLoss = queue.NewArray()
	n.batchAcc = queue.NewArray()
	return n
}

// Queue used for this network
func (n *Network) Queue() num.Queue { return n.queue }

// Input shape including the batch size
func (n *Network) InShape() []int { return n.inShape }

// Initialise network weights using the Glorot uniform distribution with zero biases.
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			l.InitParams(rng)
		}
	}
	if n.DebugLevel >= 2 {
		n.PrintWeights()
	}
}

// Arrays returns all of the weight, bias and state arrays in order.
func (n *Network) Arrays() []num.Array {
	var list []num.Array
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			list = append(list, W, B)
		}
		if l, ok := layer.(StateLayer); ok {
			list = append(list, l.State()...)
		}
	}
	return list
}

// Snapshot takes a copy of the current weights.
func (n *Network) Snapshot() [][]float32 {
	arrays := n.Arrays()
	data := make([][]float32, len(arrays))
	for i, arr := range arrays {
		data[i] = make([]float32, arr.Size())
		n.queue.Call(num.Read(arr, data[i]))
	}
	n.queue.Finish()
	return data
}

// Restore weights from a snapshot.
func (n *Network) Restore(data [][]float32) error {
	arrays := n.Arrays()
	if len(data) != len(arrays) {
		return fmt.Errorf("restore weights: have %d arrays - expecting %d", len(data), len(arrays))
	}
	for i, arr := range arrays {
		if len(data[i]) != arr.Size() {
			return fmt.Errorf("restore weights: array %d size mismatch - have %d expecting %d", i, len(data[i]), arr.Size())
		}
		n.queue.Call(num.Write(arr, data[i]))
	}
	n.queue.Finish()
	return nil
}

// Number of trainable parameters
func (n *Network) NumParams() int {
	total := 0
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			total += W.Size() + B.Size()
		}
	}
	return total
}

// Accessor for output layer
func (n *Network) OutLayer() OutputLayer {
	return n.Layers[len(n.Layers)-1].(OutputLayer)
}

// Feed forward the input to get the predicted output, in training mode batch statistics and dropout are used.
func (n *Network) Fprop(input num.Array, train bool) num.Array {
	pred := input
	for i, layer := range n.Layers {
		if n.DebugLevel >= 3 && pred != nil {
			fmt.Printf("layer %d input\n%s", i, pred.String(n.queue))
		}
		pred = layer.Fprop(pred, train)
	}
	return pred
}

// Predict returns the output probabilities for a batch of inputs.
func (n *Network) Predict(input num.Array) []float32 {
	yPred := n.Fprop(input, false)
	res := make([]float32, yPred.Size())
	n.queue.Call(num.Read(yPred, res)).Finish()
	return res
}

// Back propagate the gradient of the loss wrt. the output through all of the layers.
func (n *Network) Bprop(grad num.Array) {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		grad = n.Layers[i].Bprop(grad)
		if n.DebugLevel >= 3 && grad != nil {
			fmt.Printf("layer %d bprop output:\n%s", i, grad.String(n.queue))
		}
	}
}

// Loss and accuracy for one batch, y are the labels and yPred the predicted probabilities.
func (n *Network) batchMetrics(y, yPred num.Array) (loss, acc float64) {
	batch := float32(y.Dims()[0])
	res := make([]float32, 2)
	n.queue.Call(
		num.Sum(n.OutLayer().Loss(y, yPred), n.batchLoss, 1/batch),
		num.BinaryAccuracy(y, yPred, n.accuracy.Slice(y.Dims()[0])),
		num.Sum(n.accuracy.Slice(y.Dims()[0]), n.batchAcc, 1/batch),
		num.Read(n.batchLoss, res[:1]),
		num.Read(n.batchAcc, res[1:]),
	).Finish()
	return float64(res[0]), float64(res[1])
}

// Evaluate the mean loss and accuracy over all the samples in the dataset in inference mode.
func (n *Network) Evaluate(dset *Dataset) (loss, acc float64, err error) {
	dset.NextEpoch()
	for batch := 0; batch < dset.Batches; batch++ {
		x, y, err := dset.NextBatch()
		if err != nil {
			return 0, 0, err
		}
		yPred := n.Fprop(x, false)
		l, a := n.batchMetrics(y, yPred)
		nb := float64(y.Dims()[0])
		loss += l * nb
		acc += a * nb
	}
	samples := float64(dset.Samples)
	return loss / samples, acc / samples, nil
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		shape = layer.OutShape(shape)
		s[i] = fmt.Sprintf("%2d: %-40s %v", i, layer.ToString(), shape)
	}
	return fmt.Sprintf("== Network ==\n%s\ninput %v  parameters %s  memory %s", strings.Join(s, "\n"), n.inShape,
		humanize.Comma(int64(n.NumParams())), humanize.Bytes(uint64(num.Bytes(n.Arrays()...))))
}

// Print network weights
func (n *Network) PrintWeights() {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			fmt.Printf("== Layer %d weights ==\n%s %s\n", i, W.String(n.queue), B.String(n.queue))
		}
	}
}

// Get random number generator, if seed is zero then it is seeded from the current time.
func SetSeed(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
