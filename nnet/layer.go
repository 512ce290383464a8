package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/jnb666/fruitnet/num"
)

// Layer interface type represents one layer of the neural net. Shapes include the batch size as the leading
// dimension, this is the capacity of the layer and Fprop may be called with a smaller batch.
type Layer interface {
	Init(q num.Queue, inShape []int, rng *rand.Rand) Layer
	OutShape(inShape []int) []int
	Fprop(in num.Array, train bool) num.Array
	Bprop(grad num.Array) num.Array
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters
type ParamLayer interface {
	Layer
	InitParams(rng *rand.Rand)
	Params() (W, B num.Array)
	ParamGrads() (dW, dB num.Array)
	SetParams(W, B num.Array)
}

// StateLayer has additional non trainable state which is saved with the weights.
type StateLayer interface {
	Layer
	State() []num.Array
}

// OutputLayer is the final layer in the stack
type OutputLayer interface {
	Layer
	Loss(y, yPred num.Array) num.Array
}

// LayerDNN hold a layer which implements the num.Layer interface
type LayerDNN interface {
	DNNLayer() num.Layer
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		return cfg.unmarshal(l.Data)
	case "maxPool":
		cfg := new(MaxPool)
		return cfg.unmarshal(l.Data)
	case "batchNorm":
		cfg := new(BatchNorm)
		return cfg.unmarshal(l.Data)
	case "linear":
		cfg := new(Linear)
		return cfg.unmarshal(l.Data)
	case "activation":
		cfg := new(Activation)
		return cfg.unmarshal(l.Data)
	case "dropout":
		cfg := new(Dropout)
		return cfg.unmarshal(l.Data)
	case "binaryOutput":
		return &binaryOutput{}
	case "flatten":
		return &flatten{}
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Convolutional layer, implements ParamLayer interface.
type Conv struct {
	Nfeats, Size, Stride, Pad int
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

func (c Conv) ToString() string {
	return fmt.Sprintf("conv %+v", c)
}

func (c *Conv) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &convDNN{Conv: *c}
}

// Max pooling layer with no padding.
type MaxPool struct {
	Size, Stride int
}

func (c MaxPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "maxPool", Data: marshal(c)}
}

func (c MaxPool) ToString() string {
	return fmt.Sprintf("maxPool %+v", c)
}

func (c *MaxPool) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &poolDNN{MaxPool: *c}
}

// Batch normalisation over the last dimension, implements ParamLayer and StateLayer interfaces.
type BatchNorm struct {
	Momentum, Epsilon float64
}

func (c BatchNorm) Marshal() LayerConfig {
	if c.Momentum == 0 {
		c.Momentum = 0.99
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-3
	}
	return LayerConfig{Type: "batchNorm", Data: marshal(c)}
}

func (c BatchNorm) ToString() string {
	return fmt.Sprintf("batchNorm %+v", c)
}

func (c *BatchNorm) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &batchNormDNN{BatchNorm: *c}
}

// Linear fully connected layer, implements ParamLayer interface.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

func (c Linear) ToString() string {
	return fmt.Sprintf("linear %+v", c)
}

func (c *Linear) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &linearDNN{Linear: *c}
}

// Sigmoid or relu activation layer.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) ToString() string {
	return fmt.Sprintf("activation %+v", c)
}

func (c *Activation) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	layer := &activation{Activation: *c}
	switch c.Atype {
	case "sigmoid":
		layer.activ = num.Sigmoid
		layer.deriv = num.SigmoidD
	case "relu":
		layer.activ = num.Relu
		layer.deriv = num.ReluD
	default:
		panic(fmt.Sprintf("activation type %s invalid", c.Atype))
	}
	return layer
}

// Dropout layer zeros a fraction Rate of its inputs during training and scales the rest by 1/(1-Rate).
type Dropout struct {
	Rate float64
}

func (c Dropout) Marshal() LayerConfig {
	return LayerConfig{Type: "dropout", Data: marshal(c)}
}

func (c Dropout) ToString() string {
	return fmt.Sprintf("dropout %+v", c)
}

func (c *Dropout) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &dropout{Dropout: *c}
}

// BinaryOutput layer with sigmoid activation and binary cross entropy loss.
type BinaryOutput struct{}

func (c BinaryOutput) Marshal() LayerConfig {
	return LayerConfig{Type: "binaryOutput"}
}

// Flatten layer reshapes to 2 dimensions.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// convolutional layer implementation
type convDNN struct {
	Conv
	paramBase
	*layerDNN
}

func (l *convDNN) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	if len(inShape) != 4 {
		panic("Conv: expect 4 dimensional input")
	}
	n, h, w, d := inShape[0], inShape[1], inShape[2], inShape[3]
	layer := queue.ConvLayer(n, h, w, d, l.Nfeats, l.Size, l.Stride, l.Pad)
	l.paramBase = newParams(queue, layer.FilterShape(), layer.BiasShape())
	l.fanIn, l.fanOut = l.Size*l.Size*d, l.Size*l.Size*l.Nfeats
	layer.SetParams(l.w, l.b, l.dw, l.db)
	l.layerDNN = newLayerDNN(queue, layer)
	return l
}

func (l *convDNN) OutShape(inShape []int) []int {
	return l.layerDNN.OutShape(inShape)
}

// pool layer implentation
type poolDNN struct {
	MaxPool
	*layerDNN
}

func (l *poolDNN) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	if len(inShape) != 4 {
		panic("MaxPool: expect 4 dimensional input")
	}
	l.layerDNN = newLayerDNN(queue, queue.MaxPoolLayer(inShape, l.Size, l.Stride))
	return l
}

func (l *poolDNN) OutShape(inShape []int) []int {
	return l.layerDNN.OutShape(inShape)
}

// batch normalisation layer, weights are the scale and biases are the offset
type batchNormDNN struct {
	BatchNorm
	paramBase
	*layerDNN
}

func (l *batchNormDNN) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	layer := queue.BatchNormLayer(inShape, l.Momentum, l.Epsilon)
	l.paramBase = newParams(queue, layer.FilterShape(), layer.BiasShape())
	layer.SetParams(l.w, l.b, l.dw, l.db)
	l.layerDNN = newLayerDNN(queue, layer)
	return l
}

func (l *batchNormDNN) OutShape(inShape []int) []int {
	return inShape
}

func (l *batchNormDNN) InitParams(rng *rand.Rand) {
	l.queue.Call(
		num.Fill(l.w, 1),
		num.Fill(l.b, 0),
	)
	for _, arr := range l.State() {
		l.queue.Call(num.Fill(arr, 0))
	}
	l.queue.Call(num.Fill(l.State()[1], 1))
}

// State returns the moving mean and variance.
func (l *batchNormDNN) State() []num.Array {
	return l.layer.(num.StatefulLayer).State()
}

// linear layer implementation
type linearDNN struct {
	Linear
	paramBase
	*layerDNN
}

func (l *linearDNN) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	if len(inShape) != 2 {
		panic("Linear: expect 2 dimensional input")
	}
	nBatch, nIn := inShape[0], inShape[1]
	layer := queue.LinearLayer(nBatch, nIn, l.Nout)
	l.paramBase = newParams(queue, layer.FilterShape(), layer.BiasShape())
	l.fanIn, l.fanOut = nIn, l.Nout
	layer.SetParams(l.w, l.b, l.dw, l.db)
	l.layerDNN = newLayerDNN(queue, layer)
	return l
}

func (l *linearDNN) OutShape(inShape []int) []int {
	return []int{inShape[0], l.Nout}
}

// activation layers
type activation struct {
	Activation
	layerBase
	activ func(x, y num.Array) num.Function
	deriv func(x, grad, y num.Array) num.Function
}

func (l *activation) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	l.layerBase = newLayerBase(queue, inShape, inShape)
	return l
}

func (l *activation) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	dst := l.output(in)
	l.queue.Call(l.activ(l.src, dst))
	return dst
}

func (l *activation) Bprop(grad num.Array) num.Array {
	dsrc := l.gradient(l.src)
	l.queue.Call(l.deriv(l.src, grad, dsrc))
	return dsrc
}

// dropout layer implementation
type dropout struct {
	Dropout
	layerBase
	mask    num.Array
	buffer  []float32
	rng     *rand.Rand
	applied bool
}

func (l *dropout) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	if l.Rate < 0 || l.Rate >= 1 {
		panic(fmt.Sprintf("Dropout: invalid rate %g", l.Rate))
	}
	l.layerBase = newLayerBase(queue, inShape, inShape)
	l.mask = queue.NewArray(inShape...)
	l.buffer = make([]float32, num.Prod(inShape))
	l.rng = rng
	return l
}

func (l *dropout) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	l.applied = train && l.Rate > 0
	if !l.applied {
		return in
	}
	scale := float32(1 / (1 - l.Rate))
	buf := l.buffer[:in.Size()]
	for i := range buf {
		if l.rng.Float64() < l.Rate {
			buf[i] = 0
		} else {
			buf[i] = scale
		}
	}
	mask := l.mask.Slice(in.Dims()[0])
	dst := l.output(in)
	l.queue.Call(
		num.Write(mask, buf),
		num.Mul(in, mask, dst),
	)
	return dst
}

func (l *dropout) Bprop(grad num.Array) num.Array {
	if !l.applied {
		return grad
	}
	dsrc := l.gradient(l.src)
	l.queue.Call(num.Mul(grad, l.mask.Slice(grad.Dims()[0]), dsrc))
	return dsrc
}

// sigmoid output layer, the gradient passed to Bprop is taken to be wrt. the layer input
type binaryOutput struct {
	layerBase
	loss num.Array
}

func (l *binaryOutput) ToString() string { return "binaryOutput" }

func (l *binaryOutput) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	if len(inShape) != 2 || inShape[1] != 1 {
		panic(fmt.Sprintf("BinaryOutput: expect input shape [batch 1] - got %v", inShape))
	}
	l.layerBase = newLayerBase(queue, inShape, inShape)
	l.loss = queue.NewArray(inShape...)
	return l
}

func (l *binaryOutput) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	dst := l.output(in)
	l.queue.Call(num.Sigmoid(l.src, dst))
	return dst
}

func (l *binaryOutput) Bprop(grad num.Array) num.Array {
	return grad
}

func (l *binaryOutput) Loss(y, yPred num.Array) num.Array {
	loss := l.loss.Slice(yPred.Dims()[0])
	l.queue.Call(num.BinaryLoss(y, yPred, loss))
	return loss
}

type flatten struct {
	layerBase
}

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) OutShape(inShape []int) []int {
	return []int{inShape[0], num.Prod(inShape[1:])}
}

func (l *flatten) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	l.queue = queue
	return l
}

func (l *flatten) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	return in.Reshape(in.Dims()[0], -1)
}

func (l *flatten) Bprop(grad num.Array) num.Array {
	return grad.Reshape(l.src.Dims()...)
}

// base layer type, dst and dsrc are allocated with the full batch size
type layerBase struct {
	queue num.Queue
	src   num.Array
	dst   num.Array
	dsrc  num.Array
}

func newLayerBase(queue num.Queue, inShape, outShape []int) layerBase {
	return layerBase{
		queue: queue,
		dst:   queue.NewArray(outShape...),
		dsrc:  queue.NewArray(inShape...),
	}
}

func (l *layerBase) OutShape(inShape []int) []int { return inShape }

func (l *layerBase) output(in num.Array) num.Array {
	return l.dst.Slice(in.Dims()[0])
}

func (l *layerBase) gradient(in num.Array) num.Array {
	return l.dsrc.Slice(in.Dims()[0])
}

type layerDNN struct {
	que   num.Queue
	layer num.Layer
}

func newLayerDNN(queue num.Queue, layer num.Layer) *layerDNN {
	return &layerDNN{que: queue, layer: layer}
}

func (l *layerDNN) DNNLayer() num.Layer {
	return l.layer
}

func (l *layerDNN) OutShape(inShape []int) []int {
	return append([]int{inShape[0]}, l.layer.OutShape()[1:]...)
}

func (l *layerDNN) Fprop(in num.Array, train bool) num.Array {
	l.layer.SetSrc(in)
	l.que.Call(num.Fprop(l.layer, train))
	return l.layer.Dst()
}

func (l *layerDNN) Bprop(grad num.Array) num.Array {
	l.layer.SetDiffDst(grad)
	l.que.Call(num.BpropData(l.layer))
	if l.layer.HasParams() {
		l.que.Call(
			num.BpropFilter(l.layer),
			num.BpropBias(l.layer),
		)
	}
	return l.layer.DiffSrc()
}

// weight and bias parameters
type paramBase struct {
	queue         num.Queue
	w, b          num.Array
	dw, db        num.Array
	fanIn, fanOut int
}

func newParams(queue num.Queue, wShape, bShape []int) paramBase {
	return paramBase{
		queue: queue,
		w:     queue.NewArray(wShape...),
		b:     queue.NewArray(bShape...),
		dw:    queue.NewArray(wShape...),
		db:    queue.NewArray(bShape...),
	}
}

func (p *paramBase) Params() (W, B num.Array) {
	return p.w, p.b
}

func (p *paramBase) ParamGrads() (dW, dB num.Array) {
	return p.dw, p.db
}

// InitParams sets weights from a Glorot uniform distribution and zeros the biases.
func (p *paramBase) InitParams(rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(p.fanIn+p.fanOut))
	weights := make([]float32, p.w.Size())
	for i := range weights {
		weights[i] = float32((2*rng.Float64() - 1) * limit)
	}
	p.queue.Call(
		num.Write(p.w, weights),
		num.Fill(p.b, 0),
	)
}

func (p *paramBase) SetParams(W, B num.Array) {
	p.queue.Call(num.Copy(p.w, W), num.Copy(p.b, B))
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
