package probe

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/jnb666/fruitnet/nnet"
	"github.com/jnb666/fruitnet/num"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// predictor with a fixed output which records its input
type stubPredictor struct {
	classes []string
	prob    float32
	npix    int
	input   []float32
}

func (p *stubPredictor) Npix() int { return p.npix }

func (p *stubPredictor) Classes() []string {
	if p.classes == nil {
		return []string{"fresh", "rotten"}
	}
	return p.classes
}

func (p *stubPredictor) Predict(pixels []float32) (float32, error) {
	p.input = pixels
	return p.prob, nil
}

func solidImage(t *testing.T, c color.Color) string {
	m := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			m.Set(x, y, c)
		}
	}
	path := filepath.Join(t.TempDir(), "test.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, m))
	require.NoError(t, f.Close())
	return path
}

func TestProbe(t *testing.T) {
	path := solidImage(t, color.RGBA{255, 0, 102, 255})
	stub := &stubPredictor{prob: 0.8, npix: 8}
	var buf bytes.Buffer
	require.NoError(t, Probe(&buf, stub, path))
	assert.Equal(t, "Rotten fruit (prob=0.80)\n", buf.String())

	// input is resized with channels in RGB order and scaled to [0,1]
	require.Len(t, stub.input, 8*8*3)
	assert.InDelta(t, 1.0, stub.input[0], 1e-6)
	assert.InDelta(t, 0.0, stub.input[1], 1e-6)
	assert.InDelta(t, 0.4, stub.input[2], 1e-6)

	stub.prob = 0.07
	buf.Reset()
	require.NoError(t, Probe(&buf, stub, path))
	assert.Equal(t, "Fresh fruit (prob=0.93)\n", buf.String())

	stub.prob = 0.5
	res, err := Classify(stub, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Class)
}

func TestProbeMissingFile(t *testing.T) {
	var buf bytes.Buffer
	err := Probe(&buf, &stubPredictor{prob: 0.8, npix: 8}, filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.jpg")
	assert.Empty(t, buf.String())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Fresh fruit", Label(0))
	assert.Equal(t, "Rotten fruit", Label(1))
	assert.Equal(t, "Unknown", Label(2))
	assert.Equal(t, "Unknown", Label(-1))
}

func TestClassifyFixedLabels(t *testing.T) {
	path := solidImage(t, color.RGBA{0, 128, 0, 255})
	stub := &stubPredictor{classes: []string{"freshapples", "rottenapples"}, prob: 0.9, npix: 8}
	res, err := Classify(stub, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Class)
	assert.Equal(t, "Rotten fruit", res.Label)

	stub.prob = 0.2
	res, err = Classify(stub, path)
	require.NoError(t, err)
	assert.Equal(t, "Fresh fruit (prob=0.80)", res.String())
}

func TestNetworkPredictor(t *testing.T) {
	conf := nnet.DefaultConfig()
	conf.Npix = 4
	conf = conf.AddLayers(nnet.Flatten{}, nnet.Linear{Nout: 1}, nnet.BinaryOutput{})
	q := num.NewDevice().NewQueue(1)
	rng := rand.New(rand.NewSource(1))
	net := nnet.New(q, conf, 8, []int{4, 4, 3}, rng)
	net.InitWeights(rng)
	p := New(net, []string{"fresh", "rotten"})
	assert.Equal(t, 4, p.Npix())

	pixels := make([]float32, 4*4*3)
	for i := range pixels {
		pixels[i] = rng.Float32()
	}
	prob, err := p.Predict(pixels)
	require.NoError(t, err)
	assert.True(t, prob > 0 && prob < 1)
	_, err = p.Predict(pixels[:10])
	assert.Error(t, err)

	// same result from the exported model
	var buf bytes.Buffer
	require.NoError(t, nnet.Export(net, []string{"fresh", "rotten"}).Encode(&buf))
	m := new(nnet.Model)
	require.NoError(t, m.Decode(&buf))
	p2, err := FromModel(m, q)
	require.NoError(t, err)
	prob2, err := p2.Predict(pixels)
	require.NoError(t, err)
	assert.Equal(t, prob, prob2)
	assert.Equal(t, []string{"fresh", "rotten"}, p2.Classes())
}
