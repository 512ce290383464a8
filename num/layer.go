package num

import (
	"fmt"
	"math"
)

// Layer interface type represents a convolution, pooling, normalisation or fully connected primitive.
// Shapes are in [batch, height, width, channels] order for image data and [batch, features] for
// linear layers. The batch dimension is the capacity of the layer, SetSrc may be called with fewer samples.
type Layer interface {
	Type() string
	InShape() []int
	OutShape() []int
	FilterShape() []int
	BiasShape() []int
	HasParams() bool
	SetParams(W, B, dW, dB Array)
	SetSrc(Array)
	SetDiffDst(Array)
	Dst() Array
	DiffSrc() Array
	fprop(threads int, train bool)
	bpropData(threads int)
	bpropFilter(threads int)
	bpropBias(threads int)
}

// Forward propagation, if train is set then batch statistics are used and updated.
func Fprop(layer Layer, train bool) Function {
	return args(layer.Type()+"_fprop", func(threads int) { layer.fprop(threads, train) })
}

// Backward propagation
func BpropData(layer Layer) Function {
	return args(layer.Type()+"_bprop_data", layer.bpropData)
}

func BpropFilter(layer Layer) Function {
	return args(layer.Type()+"_bprop_filter", layer.bpropFilter)
}

func BpropBias(layer Layer) Function {
	return args(layer.Type()+"_bprop_bias", layer.bpropBias)
}

type layerBase struct {
	typ      string
	inShape  []int
	outShape []int
	src      Array
	diffDst  Array
	dst      Array
	diffSrc  Array
	n        int
}

func newLayerBase(typ string, inShape, outShape []int) layerBase {
	return layerBase{
		typ:      typ,
		inShape:  append([]int{}, inShape...),
		outShape: append([]int{}, outShape...),
		dst:      newArrayCPU(outShape, make([]float32, Prod(outShape))),
		diffSrc:  newArrayCPU(inShape, make([]float32, Prod(inShape))),
		n:        inShape[0],
	}
}

func (l *layerBase) Type() string { return l.typ }

func (l *layerBase) InShape() []int { return l.inShape }

func (l *layerBase) OutShape() []int { return l.outShape }

func (l *layerBase) FilterShape() []int { return nil }

func (l *layerBase) BiasShape() []int { return nil }

func (l *layerBase) SetSrc(a Array) {
	dims := a.Dims()
	if len(dims) != len(l.inShape) || !SameShape(dims[1:], l.inShape[1:]) || dims[0] > l.inShape[0] {
		panic(fmt.Sprintf("%s: input shape %v incompatible with %v", l.typ, dims, l.inShape))
	}
	l.src = a
	l.n = dims[0]
}

func (l *layerBase) SetDiffDst(a Array) {
	if a.Size() != l.n*Prod(l.outShape[1:]) {
		panic(fmt.Sprintf("%s: gradient shape %v incompatible with %v", l.typ, a.Dims(), l.outShape))
	}
	l.diffDst = a
}

func (l *layerBase) Dst() Array { return l.dst.Slice(l.n) }

func (l *layerBase) DiffSrc() Array { return l.diffSrc.Slice(l.n) }

func (l *layerBase) bpropFilter(threads int) {}

func (l *layerBase) bpropBias(threads int) {}

type paramBase struct {
	w, b, dw, db Array
}

func (p *paramBase) HasParams() bool { return true }

func (p *paramBase) SetParams(W, B, dW, dB Array) {
	p.w, p.b, p.dw, p.db = W, B, dW, dB
}

func (p *paramBase) params() (W, B, dW, dB Array) {
	return p.w, p.b, p.dw, p.db
}

// convolution layer using im2col and matrix multiply, one sample per worker
type convLayer struct {
	layerBase
	paramBase
	size, stride, pad int
	cols              [][]float32
}

// ConvLayer creates a 2d convolution with nFeats output channels, square kernel of given size,
// stride and zero padding on each edge.
func (d cpuDevice) ConvLayer(nBatch, height, width, depth, nFeats, size, stride, pad int) Layer {
	if stride < 1 {
		stride = 1
	}
	oh := (height+2*pad-size)/stride + 1
	ow := (width+2*pad-size)/stride + 1
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("ConvLayer: input %dx%d too small for kernel %d stride %d", height, width, size, stride))
	}
	l := &convLayer{size: size, stride: stride, pad: pad}
	l.layerBase = newLayerBase("conv", []int{nBatch, height, width, depth}, []int{nBatch, oh, ow, nFeats})
	return l
}

func (l *convLayer) FilterShape() []int {
	return []int{l.size * l.size * l.inShape[3], l.outShape[3]}
}

func (l *convLayer) BiasShape() []int { return []int{l.outShape[3]} }

func (l *convLayer) colBuffers(nbuf int) [][]float32 {
	size := l.outShape[1] * l.outShape[2] * l.size * l.size * l.inShape[3]
	for len(l.cols) < nbuf {
		l.cols = append(l.cols, make([]float32, size))
	}
	return l.cols
}

func (l *convLayer) dims() (h, w, c, oh, ow, nf, kk int) {
	return l.inShape[1], l.inShape[2], l.inShape[3], l.outShape[1], l.outShape[2], l.outShape[3], l.size * l.size * l.inShape[3]
}

func (l *convLayer) fprop(threads int, train bool) {
	h, w, c, oh, ow, nf, kk := l.dims()
	inSize, outSize := h*w*c, oh*ow*nf
	src, dst := l.src.Data(), l.dst.Data()
	wd, bd := l.w.Data(), l.b.Data()
	cols := l.colBuffers(workers(l.n, threads))
	parallel(l.n, threads, func(worker, start, end int) {
		col := cols[worker]
		for i := start; i < end; i++ {
			im2col(src[i*inSize:(i+1)*inSize], h, w, c, l.size, l.stride, l.pad, oh, ow, col)
			out := dst[i*outSize : (i+1)*outSize]
			for j := 0; j < oh*ow; j++ {
				copy(out[j*nf:(j+1)*nf], bd)
			}
			sgemm(NoTrans, NoTrans, oh*ow, nf, kk, 1, col, kk, wd, nf, 1, out, nf)
		}
	})
}

func (l *convLayer) bpropData(threads int) {
	h, w, c, oh, ow, nf, kk := l.dims()
	inSize, outSize := h*w*c, oh*ow*nf
	grad, dsrc, wd := l.diffDst.Data(), l.diffSrc.Data(), l.w.Data()
	cols := l.colBuffers(workers(l.n, threads))
	parallel(l.n, threads, func(worker, start, end int) {
		col := cols[worker]
		for i := start; i < end; i++ {
			sgemm(NoTrans, Trans, oh*ow, kk, nf, 1, grad[i*outSize:(i+1)*outSize], nf, wd, nf, 0, col, kk)
			col2im(col, h, w, c, l.size, l.stride, l.pad, oh, ow, dsrc[i*inSize:(i+1)*inSize])
		}
	})
}

func (l *convLayer) bpropFilter(threads int) {
	h, w, c, oh, ow, nf, kk := l.dims()
	inSize, outSize := h*w*c, oh*ow*nf
	src, grad := l.src.Data(), l.diffDst.Data()
	nw := workers(l.n, threads)
	cols := l.colBuffers(nw)
	partial := make([][]float32, nw)
	parallel(l.n, threads, func(worker, start, end int) {
		col := cols[worker]
		dw := make([]float32, kk*nf)
		for i := start; i < end; i++ {
			im2col(src[i*inSize:(i+1)*inSize], h, w, c, l.size, l.stride, l.pad, oh, ow, col)
			sgemm(Trans, NoTrans, kk, nf, oh*ow, 1, col, kk, grad[i*outSize:(i+1)*outSize], nf, 1, dw, nf)
		}
		partial[worker] = dw
	})
	dw := l.dw.Data()
	copy(dw, partial[0])
	for _, p := range partial[1:] {
		for j, v := range p {
			dw[j] += v
		}
	}
}

func (l *convLayer) bpropBias(threads int) {
	nf := l.outShape[3]
	rows := l.n * l.outShape[1] * l.outShape[2]
	sumRows(l.diffDst.Data(), rows, nf, l.db.Data())
}

// copy image patches for one sample into rows of col, each row is one output pixel
func im2col(src []float32, h, w, c, k, stride, pad, oh, ow int, col []float32) {
	kc := k * c
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := col[(oy*ow+ox)*k*kc : (oy*ow+ox+1)*k*kc]
			for ky := 0; ky < k; ky++ {
				iy := oy*stride + ky - pad
				seg := row[ky*kc : (ky+1)*kc]
				if iy < 0 || iy >= h {
					zero(seg)
					continue
				}
				for kx := 0; kx < k; kx++ {
					ix := ox*stride + kx - pad
					pix := seg[kx*c : (kx+1)*c]
					if ix < 0 || ix >= w {
						zero(pix)
						continue
					}
					copy(pix, src[(iy*w+ix)*c:(iy*w+ix+1)*c])
				}
			}
		}
	}
}

// inverse of im2col, overlapping patches are summed into dst
func col2im(col []float32, h, w, c, k, stride, pad, oh, ow int, dst []float32) {
	zero(dst)
	kc := k * c
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := col[(oy*ow+ox)*k*kc : (oy*ow+ox+1)*k*kc]
			for ky := 0; ky < k; ky++ {
				iy := oy*stride + ky - pad
				if iy < 0 || iy >= h {
					continue
				}
				for kx := 0; kx < k; kx++ {
					ix := ox*stride + kx - pad
					if ix < 0 || ix >= w {
						continue
					}
					pix := row[ky*kc+kx*c : ky*kc+(kx+1)*c]
					out := dst[(iy*w+ix)*c : (iy*w+ix+1)*c]
					for ch, v := range pix {
						out[ch] += v
					}
				}
			}
		}
	}
}

// max pooling layer with no padding
type poolLayer struct {
	layerBase
	size, stride int
	index        []int32
}

// MaxPoolLayer creates a max pooling layer with input shape [batch, height, width, channels].
func (d cpuDevice) MaxPoolLayer(in []int, size, stride int) Layer {
	if stride < 1 {
		stride = size
	}
	if len(in) != 4 {
		panic("MaxPoolLayer: expect 4 dimensional input")
	}
	if in[1] < size || in[2] < size {
		panic(fmt.Sprintf("MaxPoolLayer: input %v too small for pool size %d", in, size))
	}
	oh := (in[1]-size)/stride + 1
	ow := (in[2]-size)/stride + 1
	out := []int{in[0], oh, ow, in[3]}
	l := &poolLayer{size: size, stride: stride, index: make([]int32, Prod(out))}
	l.layerBase = newLayerBase("maxPool", in, out)
	return l
}

func (l *poolLayer) HasParams() bool { return false }

func (l *poolLayer) SetParams(W, B, dW, dB Array) {}

func (l *poolLayer) fprop(threads int, train bool) {
	h, w, c := l.inShape[1], l.inShape[2], l.inShape[3]
	oh, ow := l.outShape[1], l.outShape[2]
	inSize, outSize := h*w*c, oh*ow*c
	src, dst := l.src.Data(), l.dst.Data()
	parallel(l.n, threads, func(worker, start, end int) {
		for i := start; i < end; i++ {
			in := src[i*inSize : (i+1)*inSize]
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					for ch := 0; ch < c; ch++ {
						best := int32(-1)
						maxVal := float32(math.Inf(-1))
						for ky := 0; ky < l.size; ky++ {
							for kx := 0; kx < l.size; kx++ {
								pos := ((oy*l.stride+ky)*w+ox*l.stride+kx)*c + ch
								if in[pos] > maxVal || best < 0 {
									maxVal, best = in[pos], int32(pos)
								}
							}
						}
						o := i*outSize + (oy*ow+ox)*c + ch
						dst[o] = maxVal
						l.index[o] = int32(i*inSize) + best
					}
				}
			}
		}
	})
}

func (l *poolLayer) bpropData(threads int) {
	inSize := Prod(l.inShape[1:])
	outSize := Prod(l.outShape[1:])
	grad, dsrc := l.diffDst.Data(), l.diffSrc.Data()
	zero(dsrc[:l.n*inSize])
	for o, v := range grad[:l.n*outSize] {
		dsrc[l.index[o]] += v
	}
}

// per channel batch normalisation, gamma and beta are stored as the layer weights and bias.
type batchNormLayer struct {
	layerBase
	paramBase
	momentum, epsilon float64
	runMean, runVar   Array
	mean, invStd      []float32
	xhat              []float32
}

// BatchNormLayer creates a batch normalisation layer, statistics are calculated over all but the last dimension.
// Running statistics are updated as run = run*momentum + batch*(1-momentum).
func (d cpuDevice) BatchNormLayer(in []int, momentum, epsilon float64) Layer {
	ch := in[len(in)-1]
	l := &batchNormLayer{
		momentum: momentum,
		epsilon:  epsilon,
		runMean:  newArrayCPU([]int{ch}, make([]float32, ch)),
		runVar:   newArrayCPU([]int{ch}, make([]float32, ch)),
		mean:     make([]float32, ch),
		invStd:   make([]float32, ch),
		xhat:     make([]float32, Prod(in)),
	}
	for i := range l.runVar.Data() {
		l.runVar.Data()[i] = 1
	}
	l.layerBase = newLayerBase("batchNorm", in, in)
	return l
}

func (l *batchNormLayer) FilterShape() []int { return []int{l.inShape[len(l.inShape)-1]} }

func (l *batchNormLayer) BiasShape() []int { return []int{l.inShape[len(l.inShape)-1]} }

// Running mean and variance used in inference mode.
func (l *batchNormLayer) State() []Array { return []Array{l.runMean, l.runVar} }

func (l *batchNormLayer) fprop(threads int, train bool) {
	ch := l.inShape[len(l.inShape)-1]
	rows := l.n * Prod(l.inShape[1:]) / ch
	src, dst := l.src.Data(), l.dst.Data()
	gamma, beta := l.w.Data(), l.b.Data()
	if train {
		mean := make([]float64, ch)
		variance := make([]float64, ch)
		for r := 0; r < rows; r++ {
			for c, v := range src[r*ch : (r+1)*ch] {
				mean[c] += float64(v)
			}
		}
		for c := range mean {
			mean[c] /= float64(rows)
		}
		for r := 0; r < rows; r++ {
			for c, v := range src[r*ch : (r+1)*ch] {
				d := float64(v) - mean[c]
				variance[c] += d * d
			}
		}
		rm, rv := l.runMean.Data(), l.runVar.Data()
		for c := range variance {
			variance[c] /= float64(rows)
			l.mean[c] = float32(mean[c])
			l.invStd[c] = float32(1 / math.Sqrt(variance[c]+l.epsilon))
			// moving variance uses the unbiased estimate
			unbiased := variance[c]
			if rows > 1 {
				unbiased *= float64(rows) / float64(rows-1)
			}
			rm[c] = float32(float64(rm[c])*l.momentum + mean[c]*(1-l.momentum))
			rv[c] = float32(float64(rv[c])*l.momentum + unbiased*(1-l.momentum))
		}
	} else {
		rm, rv := l.runMean.Data(), l.runVar.Data()
		for c := 0; c < ch; c++ {
			l.mean[c] = rm[c]
			l.invStd[c] = float32(1 / math.Sqrt(float64(rv[c])+l.epsilon))
		}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < ch; c++ {
			i := r*ch + c
			l.xhat[i] = (src[i] - l.mean[c]) * l.invStd[c]
			dst[i] = gamma[c]*l.xhat[i] + beta[c]
		}
	}
}

func (l *batchNormLayer) bpropData(threads int) {
	ch := l.inShape[len(l.inShape)-1]
	rows := l.n * Prod(l.inShape[1:]) / ch
	grad, dsrc, gamma := l.diffDst.Data(), l.diffSrc.Data(), l.w.Data()
	sumDy := make([]float64, ch)
	sumDyX := make([]float64, ch)
	for r := 0; r < rows; r++ {
		for c := 0; c < ch; c++ {
			i := r*ch + c
			sumDy[c] += float64(grad[i])
			sumDyX[c] += float64(grad[i] * l.xhat[i])
		}
	}
	m := float64(rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < ch; c++ {
			i := r*ch + c
			scale := float64(gamma[c]*l.invStd[c]) / m
			dsrc[i] = float32(scale * (m*float64(grad[i]) - sumDy[c] - float64(l.xhat[i])*sumDyX[c]))
		}
	}
}

func (l *batchNormLayer) bpropFilter(threads int) {
	ch := l.inShape[len(l.inShape)-1]
	rows := l.n * Prod(l.inShape[1:]) / ch
	grad, dw := l.diffDst.Data(), l.dw.Data()
	zero(dw)
	for r := 0; r < rows; r++ {
		for c := 0; c < ch; c++ {
			dw[c] += grad[r*ch+c] * l.xhat[r*ch+c]
		}
	}
}

func (l *batchNormLayer) bpropBias(threads int) {
	ch := l.inShape[len(l.inShape)-1]
	rows := l.n * Prod(l.inShape[1:]) / ch
	sumRows(l.diffDst.Data(), rows, ch, l.db.Data())
}

// fully connected layer: dst = src * W + B
type linearLayer struct {
	layerBase
	paramBase
}

// LinearLayer creates a fully connected layer with input shape [nBatch, nIn].
func (d cpuDevice) LinearLayer(nBatch, nIn, nOut int) Layer {
	l := &linearLayer{}
	l.layerBase = newLayerBase("linear", []int{nBatch, nIn}, []int{nBatch, nOut})
	return l
}

func (l *linearLayer) FilterShape() []int { return []int{l.inShape[1], l.outShape[1]} }

func (l *linearLayer) BiasShape() []int { return []int{l.outShape[1]} }

func (l *linearLayer) fprop(threads int, train bool) {
	nIn, nOut := l.inShape[1], l.outShape[1]
	dst := l.dst.Data()[:l.n*nOut]
	bd := l.b.Data()
	for i := 0; i < l.n; i++ {
		copy(dst[i*nOut:(i+1)*nOut], bd)
	}
	sgemm(NoTrans, NoTrans, l.n, nOut, nIn, 1, l.src.Data(), nIn, l.w.Data(), nOut, 1, dst, nOut)
}

func (l *linearLayer) bpropData(threads int) {
	nIn, nOut := l.inShape[1], l.outShape[1]
	sgemm(NoTrans, Trans, l.n, nIn, nOut, 1, l.diffDst.Data(), nOut, l.w.Data(), nOut, 0, l.diffSrc.Data(), nIn)
}

func (l *linearLayer) bpropFilter(threads int) {
	nIn, nOut := l.inShape[1], l.outShape[1]
	sgemm(Trans, NoTrans, nIn, nOut, l.n, 1, l.src.Data(), nIn, l.diffDst.Data(), nOut, 0, l.dw.Data(), nOut)
}

func (l *linearLayer) bpropBias(threads int) {
	sumRows(l.diffDst.Data(), l.n, l.outShape[1], l.db.Data())
}

// StatefulLayer is implemented by layers with non trainable state such as running averages.
type StatefulLayer interface {
	Layer
	State() []Array
}

func sumRows(data []float32, rows, cols int, res []float32) {
	zero(res[:cols])
	for r := 0; r < rows; r++ {
		for c, v := range data[r*cols : (r+1)*cols] {
			res[c] += v
		}
	}
}

func zero(data []float32) {
	for i := range data {
		data[i] = 0
	}
}
