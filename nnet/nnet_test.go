package nnet

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/jnb666/fruitnet/num"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// images with mean brightness above 0.5 are class 1
func brightnessData(rng *rand.Rand, samples, npix int) Data {
	nfeat := npix * npix * 3
	labels := make([]float32, samples)
	inputs := make([]float32, samples*nfeat)
	for i := range labels {
		base := float32(0.2)
		if i%2 == 1 {
			labels[i] = 1
			base = 0.8
		}
		for j := 0; j < nfeat; j++ {
			inputs[i*nfeat+j] = base + 0.1*(rng.Float32()-0.5)
		}
	}
	return NewData([]string{"fresh", "rotten"}, []int{npix, npix, 3}, labels, inputs)
}

func smallConfig() Config {
	conf := DefaultConfig()
	conf.Npix = 6
	conf.TrainBatch = 8
	conf.MaxEpoch = 30
	conf.EarlyStop = false
	return conf.AddLayers(
		Conv{Nfeats: 4, Size: 3, Pad: 1},
		Activation{Atype: "relu"},
		MaxPool{Size: 2},
		Flatten{},
		Linear{Nout: 8},
		Activation{Atype: "relu"},
		Dropout{Rate: 0.1},
		Linear{Nout: 1},
		BinaryOutput{},
	)
}

func TestParseOptimizer(t *testing.T) {
	for _, name := range []string{"Adam", "SGD", "Adadelta", "Adamax", "adam"} {
		opt, err := ParseOptimizer(name, 0.01)
		require.NoError(t, err, name)
		lr, ok := LearningRate(opt)
		if opt.Name() == "Adadelta" {
			assert.False(t, ok)
			assert.Equal(t, Adadelta{}, opt)
		} else {
			assert.True(t, ok)
			assert.Equal(t, 0.01, lr)
		}
	}
	_, err := ParseOptimizer("Foobar", 0.01)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Foobar"`)
}

func TestOptimizerStep(t *testing.T) {
	tests := []struct {
		opt    Optimizer
		expect float32
	}{
		{SGD{LearningRate: 0.1}, 0.95},
		{Adam{LearningRate: 0.1}, 0.9},
		{Adamax{LearningRate: 0.1}, 0.9},
		{Adadelta{}, 0.9999986},
	}
	q := num.NewDevice().NewQueue(1)
	for _, test := range tests {
		w := num.NewArrayFrom([]float32{1}, 1)
		g := num.NewArrayFrom([]float32{0.5}, 1)
		upd := test.opt.newUpdater(q, []num.Array{w})
		upd.update([]num.Array{w}, []num.Array{g})
		assert.InDelta(t, test.expect, w.Data()[0], 1e-6, test.opt.String())
	}
}

func TestDataset(t *testing.T) {
	dev := num.NewDevice()
	rng := rand.New(rand.NewSource(1))
	data := brightnessData(rng, 10, 2)
	dset := NewDataset(dev, data, 4, rng)
	assert.Equal(t, 3, dset.Batches)
	for epoch := 0; epoch < 3; epoch++ {
		dset.Shuffle()
		dset.NextEpoch()
		seen := map[float32]int{}
		var sizes []int
		for batch := 0; batch < dset.Batches; batch++ {
			x, y, err := dset.NextBatch()
			require.NoError(t, err)
			sizes = append(sizes, y.Dims()[0])
			assert.Equal(t, []int{y.Dims()[0], 2, 2, 3}, x.Dims())
			for _, v := range y.Data()[:y.Size()] {
				seen[v]++
			}
		}
		assert.Equal(t, []int{4, 4, 2}, sizes)
		assert.Equal(t, map[float32]int{0: 5, 1: 5}, seen)
		_, _, err := dset.NextBatch()
		assert.Error(t, err)
	}
	assert.Equal(t, 3, dset.Epoch())
}

func TestDatasetLabelsMatchInputs(t *testing.T) {
	dev := num.NewDevice()
	rng := rand.New(rand.NewSource(2))
	dset := NewDataset(dev, brightnessData(rng, 9, 2), 4, rng)
	dset.Shuffle()
	dset.NextEpoch()
	for batch := 0; batch < dset.Batches; batch++ {
		x, y, err := dset.NextBatch()
		require.NoError(t, err)
		for i, label := range y.Data()[:y.Size()] {
			pix := x.Data()[i*12]
			assert.Equal(t, label == 1, pix > 0.5)
		}
	}
}

func TestAlexNet(t *testing.T) {
	_, err := AlexNet(MinAlexNetPixels-1, 0.5)
	assert.Error(t, err)
	_, err = AlexNet(256, 1)
	assert.Error(t, err)
	_, err = AlexNet(256, -0.1)
	assert.Error(t, err)

	conf, err := AlexNet(MinAlexNetPixels, 0.5)
	require.NoError(t, err)
	assert.Equal(t, MinAlexNetPixels, conf.Npix)
	assert.Len(t, conf.Layers, 24)

	q := num.NewDevice().NewQueue(0)
	rng := rand.New(rand.NewSource(1))
	net := New(q, conf, 2, []int{conf.Npix, conf.Npix, 3}, rng)
	net.InitWeights(rng)
	assert.Equal(t, 21585985, net.NumParams())
	shape := net.InShape()
	expect := [][]int{
		{2, 15, 15, 96}, {2, 15, 15, 96}, {2, 15, 15, 96}, {2, 7, 7, 96},
		{2, 7, 7, 256}, {2, 7, 7, 256}, {2, 7, 7, 256}, {2, 3, 3, 256},
		{2, 3, 3, 384}, {2, 3, 3, 384}, {2, 3, 3, 384}, {2, 3, 3, 384},
		{2, 3, 3, 256}, {2, 3, 3, 256}, {2, 1, 1, 256}, {2, 256},
		{2, 4096}, {2, 4096}, {2, 4096}, {2, 4096}, {2, 4096}, {2, 4096},
		{2, 1}, {2, 1},
	}
	for i, layer := range net.Layers {
		shape = layer.OutShape(shape)
		assert.Equal(t, expect[i], shape, "layer %d %s", i, layer.ToString())
	}
	input := num.NewArrayFrom(make([]float32, 1*conf.Npix*conf.Npix*3), 1, conf.Npix, conf.Npix, 3)
	pred := net.Predict(input)
	require.Len(t, pred, 1)
	assert.True(t, pred[0] > 0 && pred[0] < 1)
}

func TestGlorotInit(t *testing.T) {
	conf := smallConfig()
	q := num.NewDevice().NewQueue(1)
	rng := rand.New(rand.NewSource(1))
	net := New(q, conf, 4, []int{6, 6, 3}, rng)
	net.InitWeights(rng)
	W, B := net.Layers[0].(ParamLayer).Params()
	limit := float32(0.3086067) // sqrt(6/(27+36))
	for _, v := range W.Data() {
		assert.True(t, v >= -limit && v <= limit)
	}
	for _, v := range B.Data() {
		assert.Equal(t, float32(0), v)
	}
}

func TestDropout(t *testing.T) {
	q := num.NewDevice().NewQueue(1)
	rng := rand.New(rand.NewSource(1))
	l := Dropout{Rate: 0.5}.Marshal().Unmarshal().Init(q, []int{4, 100}, rng)
	in := num.NewArrayFrom(make([]float32, 400), 4, 100)
	q.Call(num.Fill(in, 1))
	out := l.Fprop(in, false)
	assert.Equal(t, in.Data(), out.Data())

	out = l.Fprop(in.Slice(2), true)
	zeros := 0
	for _, v := range out.Data()[:out.Size()] {
		require.True(t, v == 0 || v == 2)
		if v == 0 {
			zeros++
		}
	}
	assert.True(t, zeros > 50 && zeros < 150, "zeros=%d", zeros)
	grad := l.Bprop(out)
	for i, v := range grad.Data()[:grad.Size()] {
		assert.Equal(t, 2*out.Data()[i], v)
	}
}

func TestTrain(t *testing.T) {
	conf := smallConfig()
	dev := num.NewDevice()
	q := dev.NewQueue(2)
	rng := rand.New(rand.NewSource(42))
	train := NewDataset(dev, brightnessData(rng, 32, 6), conf.TrainBatch, rng)
	valid := NewDataset(dev, brightnessData(rng, 8, 6), conf.TrainBatch, rng)
	net := New(q, conf, conf.TrainBatch, train.Shape(), rng)
	net.InitWeights(rng)
	var out bytes.Buffer
	test := NewTestLogger(valid, &out)
	err := Train(context.Background(), net, Adam{LearningRate: 0.01}, train, test)
	require.NoError(t, err)

	stats := test.Stats
	require.Len(t, stats, conf.MaxEpoch)
	last := stats[len(stats)-1]
	assert.True(t, last.TrainAcc >= 0.85, "train accuracy %g", last.TrainAcc)
	assert.True(t, last.ValAcc >= 0 && last.ValAcc <= 1)
	assert.True(t, last.Loss < stats[0].Loss)
	assert.True(t, last.Elapsed > 0)
	assert.Contains(t, out.String(), "epoch  30:")
	assert.Contains(t, out.String(), "run time:")
}

func TestTrainCancel(t *testing.T) {
	conf := smallConfig()
	dev := num.NewDevice()
	q := dev.NewQueue(1)
	rng := rand.New(rand.NewSource(1))
	train := NewDataset(dev, brightnessData(rng, 8, 6), conf.TrainBatch, rng)
	net := New(q, conf, conf.TrainBatch, train.Shape(), rng)
	net.InitWeights(rng)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test := NewTestBase(nil)
	err := Train(ctx, net, SGD{LearningRate: 0.1}, train, test)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, test.Stats)
}

func TestMaxEpoch(t *testing.T) {
	net := &Network{Config: Config{MaxEpoch: 4, StopAfter: 2}}
	test := NewTestBase(nil)
	start := time.Now()
	for epoch := 1; epoch <= 4; epoch++ {
		done, err := test.Test(net, epoch, 1, 0.5, start)
		require.NoError(t, err)
		assert.Equal(t, epoch == 4, done)
	}
	last, ok := test.Last()
	require.True(t, ok)
	assert.Equal(t, -1, last.BestSince)
	test.Reset()
	_, ok = test.Last()
	assert.False(t, ok)
}

func TestStopAfter(t *testing.T) {
	conf := DefaultConfig()
	conf.Npix = 2
	conf.MaxEpoch = 100
	conf.StopAfter = 2
	conf = conf.AddLayers(Flatten{}, Linear{Nout: 1}, BinaryOutput{})
	dev := num.NewDevice()
	rng := rand.New(rand.NewSource(1))
	valid := NewDataset(dev, brightnessData(rng, 6, 2), 4, rng)
	net := New(dev.NewQueue(1), conf, 4, valid.Shape(), rng)
	net.InitWeights(rng)

	test := NewTestBase(valid)
	test.Stats = append(test.Stats, Stats{Epoch: 1, ValAvg: 2})
	done, err := test.Test(net, 2, 1, 0.5, time.Now())
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, test.Stats[1].BestSince)
	done, err = test.Test(net, 3, 1, 0.5, time.Now())
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 2, test.Stats[2].BestSince)
	assert.Equal(t, test.Stats[1].ValAcc, test.Stats[2].ValAcc)
}

func TestEarlyStop(t *testing.T) {
	conf := smallConfig()
	q := num.NewDevice().NewQueue(1)
	rng := rand.New(rand.NewSource(1))
	net := New(q, conf, 4, []int{6, 6, 3}, rng)
	net.InitWeights(rng)
	W, _ := net.Layers[0].(ParamLayer).Params()
	best := W.Data()[0]

	e := &EarlyStop{MinDelta: 1.0}
	stop, err := e.Update(net, 1, 0.6)
	require.NoError(t, err)
	assert.False(t, stop)
	// small improvements never reach the threshold
	q.Call(num.Fill(W, 0.5))
	stop, err = e.Update(net, 2, 0.55)
	require.NoError(t, err)
	assert.False(t, stop)
	stop, err = e.Update(net, 3, 0.58)
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Equal(t, 1, e.BestEpoch)

	e = &EarlyStop{MinDelta: 0.01}
	e.Update(net, 1, 0.7)
	q.Call(num.Fill(W, 0.25))
	e.Update(net, 2, 0.5)
	stop, err = e.Update(net, 3, 0.6)
	require.NoError(t, err)
	assert.True(t, stop)
	// weights restored from epoch 1
	assert.Equal(t, float32(0.5), W.Data()[0])
	assert.NotEqual(t, best, W.Data()[0])
}

func TestModelSaveLoad(t *testing.T) {
	conf := smallConfig()
	q := num.NewDevice().NewQueue(1)
	rng := rand.New(rand.NewSource(1))
	net := New(q, conf, 4, []int{6, 6, 3}, rng)
	net.InitWeights(rng)
	input := num.NewArrayFrom(brightnessData(rng, 4, 6).(data).Inputs, 4, 6, 6, 3)
	expect := net.Predict(input)

	var buf bytes.Buffer
	require.NoError(t, Export(net, []string{"fresh", "rotten"}).Encode(&buf))
	m := new(Model)
	require.NoError(t, m.Decode(&buf))
	assert.Equal(t, []string{"fresh", "rotten"}, m.Classes)
	net2, err := m.Network(q, 4)
	require.NoError(t, err)
	assert.Equal(t, expect, net2.Predict(input))

	assert.Error(t, new(Model).Decode(io.MultiReader()))
}

func TestConfig(t *testing.T) {
	conf := DefaultConfig()
	conf, err := conf.SetString("MaxEpoch", "5")
	require.NoError(t, err)
	assert.Equal(t, 5, conf.Get("MaxEpoch"))
	conf, err = conf.SetString("LearningRate", "0.25")
	require.NoError(t, err)
	assert.Equal(t, 0.25, conf.LearningRate)
	conf, err = conf.SetString("CleanValidation", "true")
	require.NoError(t, err)
	assert.True(t, conf.CleanValidation)
	_, err = conf.SetString("NoSuchField", "1")
	assert.Error(t, err)
	assert.NotContains(t, conf.Fields(), "Layers")
	opt, err := conf.NewOptimizer()
	require.NoError(t, err)
	assert.Equal(t, Adam{LearningRate: 0.25}, opt)

	path := t.TempDir() + "/net.json"
	conf = conf.AddLayers(Linear{Nout: 2}, BinaryOutput{})
	require.NoError(t, conf.Save(path))
	conf2, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, conf.String(), conf2.String())
}
