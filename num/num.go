// Package num contains numeric Array processing routines such as optimised matrix multiplication
// and the convolution, pooling and normalisation primitives used by the nnet package.
package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// TransType flag indicates if matrix is transposed
type TransType int

const (
	NoTrans TransType = iota
	Trans
)

func (t TransType) blas() blas.Transpose {
	if t == Trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// Read data from array into a slice.
func Read(a Array, data []float32) Function {
	if len(data) < a.Size() {
		panic(fmt.Sprintf("Read: buffer too small - have %d need %d", len(data), a.Size()))
	}
	return args("read", func(int) { copy(data, a.Data()[:a.Size()]) })
}

// Write data from a slice into the given array.
func Write(a Array, data []float32) Function {
	if len(data) < a.Size() {
		panic(fmt.Sprintf("Write: buffer too small - have %d need %d", len(data), a.Size()))
	}
	return args("write", func(int) { copy(a.Data()[:a.Size()], data) })
}

// Fill array with a scalar value
func Fill(a Array, scalar float32) Function {
	return args("fill", func(int) {
		data := a.Data()[:a.Size()]
		for i := range data {
			data[i] = scalar
		}
	})
}

// Copy from src to dst, a vector is broadcast over the leading dimension if needed.
func Copy(dst, src Array) Function {
	ddim, sdim := dst.Dims(), src.Dims()
	switch {
	case src.Size() == dst.Size():
		return args("copy", func(int) { copy(dst.Data()[:dst.Size()], src.Data()[:src.Size()]) })
	case len(sdim) == 1 && len(ddim) >= 2 && sdim[0] == Prod(ddim[1:]):
		return args("tile", func(int) {
			d, s := dst.Data(), src.Data()
			for i := 0; i < ddim[0]; i++ {
				copy(d[i*sdim[0]:(i+1)*sdim[0]], s[:sdim[0]])
			}
		})
	default:
		panic(fmt.Sprintf("Copy: cannot copy from %v to %v shape", sdim, ddim))
	}
}

// Scale array: x <- alpha*x
func Scale(alpha float32, x Array) Function {
	return args("scale", func(int) {
		data := x.Data()[:x.Size()]
		for i := range data {
			data[i] *= alpha
		}
	})
}

// Array addition and scaling: y <- alpha*x + y
func Axpy(alpha float32, x, y Array) Function {
	if x.Size() != y.Size() {
		panic(fmt.Sprintf("Axpy: arrays must be same size - %v %v", x.Dims(), y.Dims()))
	}
	return args("axpy", func(int) {
		xd, yd := x.Data()[:x.Size()], y.Data()[:y.Size()]
		for i, v := range xd {
			yd[i] += alpha * v
		}
	})
}

// Element wise multiply: z <- x * y
func Mul(x, y, z Array) Function {
	checkSize("Mul", x, y, z)
	return args("mul", func(int) {
		xd, yd, zd := x.Data(), y.Data(), z.Data()
		for i := 0; i < z.Size(); i++ {
			zd[i] = xd[i] * yd[i]
		}
	})
}

// Calculate the scalar sum of the values in the array. Multiplies each result by scale.
func Sum(a, total Array, scale float32) Function {
	if total.Size() != 1 {
		panic("Sum: result should be a scalar")
	}
	return args("sum", func(int) {
		var sum float64
		for _, v := range a.Data()[:a.Size()] {
			sum += float64(v)
		}
		total.Data()[0] = float32(sum) * scale
	})
}

// Matrix matrix multiplication: mC <- alpha*dot(mA, mB) + beta*mC
func Gemm(alpha, beta float32, mA, mB, mC Array, aTrans, bTrans TransType) Function {
	adim, bdim, cdim := mA.Dims(), mB.Dims(), mC.Dims()
	if len(adim) != 2 || len(bdim) != 2 || len(cdim) != 2 {
		panic("Gemm: must have 2 dimensional arrays")
	}
	m, k := adim[0], adim[1]
	k2, n := bdim[0], bdim[1]
	if aTrans == Trans {
		m, k = k, m
	}
	if bTrans == Trans {
		k2, n = n, k2
	}
	if k2 != k {
		panic(fmt.Sprintf("Gemm: invalid input shape %v x %v", adim, bdim))
	}
	if cdim[0] != m || cdim[1] != n {
		panic(fmt.Sprintf("Gemm: invalid output shape %v expecting [%d %d]", cdim, m, n))
	}
	return args("gemm", func(int) {
		a := blas32.General{Rows: adim[0], Cols: adim[1], Stride: adim[1], Data: mA.Data()[:mA.Size()]}
		b := blas32.General{Rows: bdim[0], Cols: bdim[1], Stride: bdim[1], Data: mB.Data()[:mB.Size()]}
		c := blas32.General{Rows: cdim[0], Cols: cdim[1], Stride: cdim[1], Data: mC.Data()[:mC.Size()]}
		blas32.Gemm(aTrans.blas(), bTrans.blas(), alpha, a, b, beta, c)
	})
}

// Relu rectified linear activation function: y = max(x, 0)
func Relu(x, y Array) Function {
	checkSize("Relu", x, y)
	return args("relu", func(int) {
		xd, yd := x.Data(), y.Data()
		for i := 0; i < y.Size(); i++ {
			if xd[i] > 0 {
				yd[i] = xd[i]
			} else {
				yd[i] = 0
			}
		}
	})
}

// ReluD back propagates the gradient through a relu given its input x.
func ReluD(x, grad, y Array) Function {
	checkSize("ReluD", x, grad, y)
	return args("relu_d", func(int) {
		xd, gd, yd := x.Data(), grad.Data(), y.Data()
		for i := 0; i < y.Size(); i++ {
			if xd[i] > 0 {
				yd[i] = gd[i]
			} else {
				yd[i] = 0
			}
		}
	})
}

// Sigmoid activation function: y = 1/(1+e**(-x))
func Sigmoid(x, y Array) Function {
	checkSize("Sigmoid", x, y)
	return args("sigmoid", func(int) {
		xd, yd := x.Data(), y.Data()
		for i := 0; i < y.Size(); i++ {
			yd[i] = sigmoid(xd[i])
		}
	})
}

// SigmoidD back propagates the gradient through a sigmoid given its input x.
func SigmoidD(x, grad, y Array) Function {
	checkSize("SigmoidD", x, grad, y)
	return args("sigmoid_d", func(int) {
		xd, gd, yd := x.Data(), grad.Data(), y.Data()
		for i := 0; i < y.Size(); i++ {
			s := sigmoid(xd[i])
			yd[i] = gd[i] * s * (1 - s)
		}
	})
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// LossEpsilon is used to clip predicted probabilities in the cross entropy loss.
const LossEpsilon = 1e-7

// Binary cross entropy loss: -(y*log(p) + (1-y)*log(1-p)) with p clipped to [eps, 1-eps]
func BinaryLoss(y, yPred, res Array) Function {
	checkSize("BinaryLoss", y, yPred, res)
	return args("binary_loss", func(int) {
		yd, pd, rd := y.Data(), yPred.Data(), res.Data()
		for i := 0; i < res.Size(); i++ {
			p := math.Min(math.Max(float64(pd[i]), LossEpsilon), 1-LossEpsilon)
			t := float64(yd[i])
			rd[i] = float32(-(t*math.Log(p) + (1-t)*math.Log(1-p)))
		}
	})
}

// Binary accuracy: res is set to 1 where the prediction thresholded at 0.5 matches the label, else 0.
func BinaryAccuracy(y, yPred, res Array) Function {
	checkSize("BinaryAccuracy", y, yPred, res)
	return args("binary_accuracy", func(int) {
		yd, pd, rd := y.Data(), yPred.Data(), res.Data()
		for i := 0; i < res.Size(); i++ {
			if (pd[i] > 0.5) == (yd[i] > 0.5) {
				rd[i] = 1
			} else {
				rd[i] = 0
			}
		}
	})
}

func checkSize(name string, arr ...Array) {
	for _, a := range arr[1:] {
		if a.Size() != arr[0].Size() {
			panic(fmt.Sprintf("%s: arrays must be same size - %v %v", name, arr[0].Dims(), a.Dims()))
		}
	}
}

// row major single precision matrix multiply on raw slices
func sgemm(aTrans, bTrans TransType, m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	blas32.Implementation().Sgemm(aTrans.blas(), bTrans.blas(), m, n, k, alpha, a, lda, b, ldb, beta, c, ldc)
}

// Adam optimiser step with bias corrected learning rate lr, m and v are the first and second moment estimates.
func Adam(w, g, m, v Array, lr, beta1, beta2, eps float32) Function {
	checkSize("Adam", w, g, m, v)
	return args("adam", func(int) {
		wd, gd, md, vd := w.Data(), g.Data(), m.Data(), v.Data()
		for i := 0; i < w.Size(); i++ {
			md[i] = beta1*md[i] + (1-beta1)*gd[i]
			vd[i] = beta2*vd[i] + (1-beta2)*gd[i]*gd[i]
			wd[i] -= lr * md[i] / (sqrt32(vd[i]) + eps)
		}
	})
}

// Adamax optimiser step, u is the exponentially weighted infinity norm.
func Adamax(w, g, m, u Array, lr, beta1, beta2, eps float32) Function {
	checkSize("Adamax", w, g, m, u)
	return args("adamax", func(int) {
		wd, gd, md, ud := w.Data(), g.Data(), m.Data(), u.Data()
		for i := 0; i < w.Size(); i++ {
			md[i] = beta1*md[i] + (1-beta1)*gd[i]
			ud[i] = max(beta2*ud[i], abs(gd[i]))
			wd[i] -= lr * md[i] / (ud[i] + eps)
		}
	})
}

// Adadelta optimiser step, acc and accDelta are running averages of the squared gradients and updates.
func Adadelta(w, g, acc, accDelta Array, lr, rho, eps float32) Function {
	checkSize("Adadelta", w, g, acc, accDelta)
	return args("adadelta", func(int) {
		wd, gd, ad, dd := w.Data(), g.Data(), acc.Data(), accDelta.Data()
		for i := 0; i < w.Size(); i++ {
			ad[i] = rho*ad[i] + (1-rho)*gd[i]*gd[i]
			delta := gd[i] * sqrt32(dd[i]+eps) / sqrt32(ad[i]+eps)
			dd[i] = rho*dd[i] + (1-rho)*delta*delta
			wd[i] -= lr * delta
		}
	})
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
