package num

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArray(t *testing.T) {
	xd := []float32{1, 1, 2, 2, 3, 3}
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(6)
	x = x.Reshape(2, -1)
	assert.Equal(t, []int{2, 3}, x.Dims())
	res := make([]float32, 6)
	q.Call(
		Write(x, xd),
		Read(x, res),
	).Finish()
	assert.Equal(t, xd, res)

	s := x.Slice(1)
	assert.Equal(t, []int{1, 3}, s.Dims())
	assert.Equal(t, 3, s.Size())
	q.Call(Fill(s, 7)).Finish()
	q.Call(Read(x, res)).Finish()
	assert.Equal(t, []float32{7, 7, 7, 2, 3, 3}, res)
	t.Logf("x\n%s", x.String(q))
}

func TestCopy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	y := dev.NewArray(3)
	res := make([]float32, 6)
	q.Call(
		Write(y, []float32{3, 2, 1}),
		Copy(x, y),
		Read(x, res),
	).Finish()
	assert.Equal(t, []float32{3, 2, 1, 3, 2, 1}, res)
	assert.Panics(t, func() { Copy(x, dev.NewArray(4)) })
}

func TestAxpy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	y := dev.NewArray(2, 3)
	res := make([]float32, 6)
	q.Call(
		Write(x, []float32{1, 1, 2, 2, 3, 3}),
		Fill(y, 0.5),
		Axpy(2, x, y),
		Scale(2, y),
		Read(y, res),
	).Finish()
	assert.Equal(t, []float32{5, 5, 9, 9, 13, 13}, res)
}

func TestSum(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	sum := dev.NewArray()
	res := make([]float32, 1)
	q.Call(
		Write(x, []float32{1, 2, 3, 4, 5, 6}),
		Sum(x, sum, 1.0/6.0),
		Read(sum, res),
	).Finish()
	assert.InDelta(t, 3.5, res[0], 1e-6)
}

func TestGemm(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	y := dev.NewArray(3, 2)
	z := dev.NewArray(2, 2)
	q.Call(Write(x, []float32{1, 2, 3, 4, 5, 6}))
	res := make([]float32, 4)
	for _, trans := range []TransType{NoTrans, Trans} {
		if trans == Trans {
			y = y.Reshape(2, 3)
			q.Call(Write(y, []float32{7, 9, 11, 8, 10, 12}))
		} else {
			q.Call(Write(y, []float32{7, 8, 9, 10, 11, 12}))
		}
		q.Call(
			Gemm(1, 0, x, y, z, NoTrans, trans),
			Read(z, res),
		).Finish()
		assert.Equal(t, []float32{58, 64, 139, 154}, res, "trans=%d", trans)
	}
	assert.Panics(t, func() { Gemm(1, 0, x, x, z, NoTrans, NoTrans) })
}

func TestActivation(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := NewArrayFrom([]float32{-2, -0.5, 0, 0.5, 2}, 5)
	y := dev.NewArrayLike(x)
	grad := NewArrayFrom([]float32{1, 1, 1, 1, 1}, 5)
	dx := dev.NewArrayLike(x)
	q.Call(Relu(x, y), ReluD(x, grad, dx)).Finish()
	assert.Equal(t, []float32{0, 0, 0, 0.5, 2}, y.Data())
	assert.Equal(t, []float32{0, 0, 0, 1, 1}, dx.Data())

	q.Call(Sigmoid(x, y), SigmoidD(x, grad, dx)).Finish()
	for i, v := range x.Data() {
		s := 1 / (1 + math.Exp(-float64(v)))
		assert.InDelta(t, s, y.Data()[i], 1e-6)
		assert.InDelta(t, s*(1-s), dx.Data()[i], 1e-6)
	}
}

func TestBinaryLoss(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	y := NewArrayFrom([]float32{1, 0, 1, 0}, 4, 1)
	pred := NewArrayFrom([]float32{0.9, 0.2, 0, 0.5}, 4, 1)
	loss := dev.NewArray(4, 1)
	acc := dev.NewArray(4, 1)
	q.Call(BinaryLoss(y, pred, loss), BinaryAccuracy(y, pred, acc)).Finish()
	assert.InDelta(t, -math.Log(0.9), loss.Data()[0], 1e-5)
	assert.InDelta(t, -math.Log(0.8), loss.Data()[1], 1e-5)
	// clipped so log(0) is never taken
	assert.InDelta(t, -math.Log(LossEpsilon), loss.Data()[2], 1e-2)
	assert.Equal(t, []float32{1, 1, 0, 1}, acc.Data())
}

func TestParallel(t *testing.T) {
	for _, threads := range []int{1, 3, 4, 16} {
		seen := make([]int, 10)
		chunks := make([]bool, workers(10, threads))
		parallel(10, threads, func(worker, start, end int) {
			chunks[worker] = true
			for i := start; i < end; i++ {
				seen[i]++
			}
		})
		for i, n := range seen {
			require.Equal(t, 1, n, "threads=%d index=%d", threads, i)
		}
		for _, c := range chunks {
			assert.True(t, c)
		}
	}
}

func TestProfile(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(2)
	q.Profiling(true)
	x := dev.NewArray(10)
	q.Call(Fill(x, 1), Fill(x, 2), Scale(2, x)).Finish()
	prof := q.Profile()
	assert.Contains(t, prof, "fill")
	assert.Contains(t, prof, "TOTAL")
	assert.Equal(t, 2, q.Threads())
}

func randSlice(n int) []float32 {
	res := make([]float32, n)
	for i := range res {
		res[i] = float32(rand.Intn(20))
	}
	return res
}

func BenchmarkGemm(b *testing.B) {
	size := 100
	dev := NewDevice()
	q := dev.NewQueue(4)
	x := dev.NewArray(size, size)
	y := dev.NewArray(size, size)
	z := dev.NewArray(size, size)
	q.Call(
		Write(x, randSlice(size*size)),
		Write(y, randSlice(size*size)),
	).Finish()
	for i := 0; i < b.N; i++ {
		q.Call(Gemm(1, 0, x, y, z, NoTrans, NoTrans)).Finish()
	}
}
