package sweep

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jnb666/fruitnet/nnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// write n solid colour images for each class
func makeTree(t *testing.T, n int, classes ...string) string {
	root := t.TempDir()
	for ci, class := range classes {
		dir := filepath.Join(root, class)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for i := 0; i < n; i++ {
			m := image.NewRGBA(image.Rect(0, 0, 16, 16))
			shade := uint8(40 + 150*ci + i)
			for y := 0; y < 16; y++ {
				for x := 0; x < 16; x++ {
					m.Set(x, y, color.RGBA{shade, shade / 2, 255 - shade, 255})
				}
			}
			f, err := os.Create(filepath.Join(dir, "img"+strconv.Itoa(i)+".png"))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, m))
			require.NoError(t, f.Close())
		}
	}
	return root
}

func testConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.TrainDir = dir
	cfg.Npix = nnet.MinAlexNetPixels
	cfg.Seed = 1
	cfg.Grid = Grid{
		BatchSizes:    []int{4},
		Optimizers:    []string{"Adam"},
		LearningRates: []float64{0.001},
		Dropouts:      []float64{0.5},
		Epochs:        1,
		Frac:          1,
	}
	return cfg
}

func TestPoints(t *testing.T) {
	g := Grid{
		BatchSizes:    []int{32, 16},
		Optimizers:    []string{"Adam", "adadelta"},
		LearningRates: []float64{1e-5, 0.1},
		Dropouts:      []float64{0.5, 0.2},
		Epochs:        26,
		Frac:          1,
	}
	points, err := g.Points()
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, Point{BatchSize: 32, Optimizer: nnet.Adam{LearningRate: 1e-5}, Dropout: 0.5, Epochs: 26, Frac: 1}, points[0])
	assert.Equal(t, nnet.Adadelta{}, points[1].Optimizer)

	bad := g
	bad.Dropouts = []float64{0.5}
	_, err = bad.Points()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same length")
	assert.Contains(t, err.Error(), "dropouts=1")

	bad = g
	bad.Optimizers = []string{"Adam", "Foobar"}
	_, err = bad.Points()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported optimizer "Foobar"`)

	bad = g
	bad.Frac = 0
	_, err = bad.Points()
	assert.Error(t, err)

	bad = g
	bad.Dropouts = []float64{0.5, 1}
	_, err = bad.Points()
	assert.Error(t, err)

	_, err = Grid{Epochs: 1, Frac: 1}.Points()
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	yamlFile := filepath.Join(dir, "sweep.yaml")
	require.NoError(t, os.WriteFile(yamlFile, []byte(`
train_dir: /data/fruit
clean_validation: true
grid:
  batch_sizes: [32, 64]
  optimizers: [Adam, SGD]
  learning_rates: [0.00001, 0.01]
  dropouts: [0.5, 0.5]
  epochs: 10
  frac: 0.5
`), 0644))
	cfg, err := LoadConfig(yamlFile)
	require.NoError(t, err)
	assert.Equal(t, "/data/fruit", cfg.TrainDir)
	assert.Equal(t, 256, cfg.Npix)
	assert.True(t, cfg.CleanValidation)
	assert.True(t, cfg.EarlyStop)
	assert.Equal(t, 1.0, cfg.MinDelta)
	assert.Equal(t, []int{32, 64}, cfg.Grid.BatchSizes)
	assert.Equal(t, []string{"Adam", "SGD"}, cfg.Grid.Optimizers)
	assert.Equal(t, 10, cfg.Grid.Epochs)
	assert.Equal(t, 0.5, cfg.Grid.Frac)

	jsonFile := filepath.Join(dir, "sweep.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"train_dir": "train", "npix": 128, "grid": {"epochs": 3}}`), 0644))
	cfg, err = LoadConfig(jsonFile)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Npix)
	assert.Equal(t, 3, cfg.Grid.Epochs)
	assert.Equal(t, []float64{0.5}, cfg.Grid.Dropouts)

	saved := filepath.Join(dir, "saved.yaml")
	require.NoError(t, cfg.Save(saved))
	cfg2, err := LoadConfig(saved)
	require.NoError(t, err)
	assert.Equal(t, cfg.Grid, cfg2.Grid)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRunTrial(t *testing.T) {
	cfg := testConfig(makeTree(t, 10, "fresh", "rotten"))
	var out bytes.Buffer
	cfg.Out = &out
	epochs := 0
	cfg.OnEpoch = func(trial int, s nnet.Stats) {
		assert.Equal(t, 0, trial)
		epochs++
	}
	results, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, 1, epochs)
	assert.Equal(t, 1, res.Epochs)
	assert.Len(t, res.Stats, 1)
	assert.True(t, res.ValAcc >= 0 && res.ValAcc <= 1, "val_acc %g", res.ValAcc)
	assert.True(t, res.TrainAcc >= 0 && res.TrainAcc <= 1, "train_acc %g", res.TrainAcc)
	assert.True(t, res.RunTime > 0)
	assert.Equal(t, []string{"fresh", "rotten"}, res.Classes)
	assert.NotEmpty(t, res.ID)
	assert.Contains(t, out.String(), "epoch   1:")

	m := res.Model()
	assert.Equal(t, nnet.MinAlexNetPixels, m.Conf.Npix)
	assert.Equal(t, "Adam", m.Conf.Optimizer)
	assert.Equal(t, 4, m.Conf.TrainBatch)
}

func TestRunErrors(t *testing.T) {
	// first trial fails so no results are returned
	cfg := testConfig(filepath.Join(t.TempDir(), "missing"))
	cfg.Grid.BatchSizes = []int{4, 8}
	cfg.Grid.Optimizers = []string{"Adam", "SGD"}
	cfg.Grid.LearningRates = []float64{0.001, 0.01}
	cfg.Grid.Dropouts = []float64{0.5, 0.5}
	calls := 0
	results, err := Run(context.Background(), cfg, func(Results) { calls++ })
	assert.Error(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, calls)

	cfg = testConfig(makeTree(t, 2, "fresh"))
	_, err = Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 classes")

	cfg = testConfig(makeTree(t, 2, "fresh", "rotten"))
	cfg.Grid.Dropouts = nil
	_, err = Run(context.Background(), cfg, nil)
	assert.Error(t, err)

	// corrupt image aborts the trial
	dir := makeTree(t, 4, "fresh", "rotten")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rotten", "bad.jpg"), []byte("not an image"), 0644))
	cfg = testConfig(dir)
	cfg.Grid.BatchSizes = []int{16}
	_, err = Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.jpg")
}

func TestRunCancel(t *testing.T) {
	cfg := testConfig(makeTree(t, 2, "fresh", "rotten"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, cfg, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func testResults() Results {
	return Results{
		{ID: "a", Point: Point{BatchSize: 32, Optimizer: nnet.Adam{LearningRate: 1e-5}, Dropout: 0.5, Epochs: 26, Frac: 1},
			ValAcc: 0.5, TrainAcc: 0.6, RunTime: 90 * time.Second},
		{ID: "b", Point: Point{BatchSize: 16, Optimizer: nnet.Adadelta{}, Dropout: 0.2, Epochs: 26, Frac: 1},
			ValAcc: 0.75, TrainAcc: 0.8, RunTime: 1500 * time.Millisecond},
	}
}

func TestResultsTable(t *testing.T) {
	res := testResults()
	var buf bytes.Buffer
	res.WriteTable(&buf)
	text := buf.String()
	for _, col := range Headers() {
		assert.Contains(t, text, col)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[3], "Adam")
	assert.Contains(t, lines[3], "1e-05")
	assert.Contains(t, lines[4], "Adadelta")
	assert.Contains(t, lines[4], " - ")
	assert.Contains(t, lines[4], "0.7500")
	assert.Equal(t, 1, res.Best())
	assert.Equal(t, -1, Results{}.Best())
}

func TestResultsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testResults().WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "batch_size,optimizer,learning_rate,dropout,epoch,val_acc,train_acc,run_time,run_id", lines[0])
	assert.Equal(t, "32,Adam,1e-05,0.5,26,0.5,0.6,90,a", lines[1])
	assert.Equal(t, "16,Adadelta,-,0.2,26,0.75,0.8,1.5,b", lines[2])
}

func TestResultsSummary(t *testing.T) {
	val, train, err := testResults().Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, val.Count)
	assert.InDelta(t, 0.625, val.Mean, 1e-12)
	assert.InDelta(t, 0.7, train.Mean, 1e-12)
	_, _, err = Results{}.Summary()
	assert.Error(t, err)
}

func TestNetConfig(t *testing.T) {
	cfg := testConfig("data")
	cfg.Network = map[string]string{"Shuffle": "false", "LogEvery": "3"}
	p := Point{BatchSize: 8, Optimizer: nnet.SGD{LearningRate: 0.1}, Dropout: 0.25, Epochs: 10, Frac: 1}
	conf, err := cfg.netConfig(p)
	require.NoError(t, err)
	assert.Equal(t, 8, conf.TrainBatch)
	assert.Equal(t, 10, conf.MaxEpoch)
	assert.Equal(t, 3, conf.LogEvery)
	assert.False(t, conf.Shuffle)
	assert.Equal(t, "SGD", conf.Optimizer)
	assert.Equal(t, 0.1, conf.LearningRate)
	opt, err := conf.NewOptimizer()
	require.NoError(t, err)
	assert.Equal(t, p.Optimizer, opt)

	cfg.Network = map[string]string{"NoSuchField": "1"}
	_, err = cfg.netConfig(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network setting NoSuchField")
}

func TestNetConfigSweepFields(t *testing.T) {
	p := Point{BatchSize: 8, Optimizer: nnet.SGD{LearningRate: 0.1}, Dropout: 0.25, Epochs: 10, Frac: 1}
	for _, key := range []string{"Npix", "TrainBatch", "MaxEpoch", "Optimizer", "LearningRate",
		"EarlyStop", "MinDelta", "StopAfter", "CleanValidation"} {
		cfg := testConfig("data")
		cfg.Network = map[string]string{key: "1"}
		_, err := cfg.netConfig(p)
		require.Error(t, err, key)
		assert.Equal(t, "network setting "+key+" is set by the sweep config", err.Error())
	}

	cfg := testConfig("data")
	cfg.Network = map[string]string{"MaxEpoch": "3", "Npix": "128", "Shuffle": "false"}
	err := cfg.CheckNetwork()
	require.Error(t, err)
	assert.Equal(t, "network setting MaxEpoch, Npix is set by the sweep config", err.Error())

	// rejected before any trial runs
	results, err := Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Empty(t, results)
}
