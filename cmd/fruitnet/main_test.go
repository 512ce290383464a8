package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, shade uint8) {
	m := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			m.Set(x, y, color.RGBA{shade, 255 - shade, shade / 2, 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, m))
	require.NoError(t, f.Close())
}

func makeTree(t *testing.T, n int) string {
	root := t.TempDir()
	for ci, class := range []string{"fresh", "rotten"} {
		dir := filepath.Join(root, class)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for i := 0; i < n; i++ {
			writePNG(t, filepath.Join(dir, "img"+strconv.Itoa(i)+".png"), uint8(40+160*ci+i))
		}
	}
	return root
}

func execute(args ...string) (string, error) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSweepConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	conf := `train_dir: /data/fruit
npix: 128
grid:
  batch_sizes: [32]
  optimizers: [Adam]
  learning_rates: [0.0001]
  dropouts: [0.5]
  epochs: 10
  frac: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(conf), 0644))

	cmd := NewSweepCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--npix", "96",
		"--batch", "8,16", "--optimizer", "SGD,Adadelta", "--lr", "0.1,0", "--dropout", "0.1,0.2",
		"--no-early-stop", "--clean-valid", "--seed", "7"}))
	cfg, err := sweepConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/data/fruit", cfg.TrainDir)
	assert.Equal(t, 96, cfg.Npix)
	assert.Equal(t, []int{8, 16}, cfg.Grid.BatchSizes)
	assert.Equal(t, []string{"SGD", "Adadelta"}, cfg.Grid.Optimizers)
	assert.Equal(t, []float64{0.1, 0}, cfg.Grid.LearningRates)
	assert.Equal(t, []float64{0.1, 0.2}, cfg.Grid.Dropouts)
	assert.Equal(t, 10, cfg.Grid.Epochs)
	assert.Equal(t, 0.5, cfg.Grid.Frac)
	assert.False(t, cfg.EarlyStop)
	assert.True(t, cfg.CleanValidation)
	assert.Equal(t, int64(7), cfg.Seed)
}

func TestSweepConfigErrors(t *testing.T) {
	cmd := NewSweepCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	_, err := sweepConfig(cmd)
	assert.EqualError(t, err, "training directory is not set")

	cmd = NewSweepCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--train-dir", "x", "--batch", "8,16"}))
	_, err = sweepConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same length")

	cmd = NewSweepCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--train-dir", "x", "--optimizer", "RMSprop"}))
	_, err = sweepConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RMSprop")

	cmd = NewSweepCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--train-dir", "x", "--set", "Npix=128,Shuffle=false"}))
	_, err = sweepConfig(cmd)
	assert.EqualError(t, err, "network setting Npix is set by the sweep config")

	_, err = execute("sweep", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIndex(t *testing.T) {
	dir := makeTree(t, 3)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0755))
	out, err := execute("index", dir)
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	var rows []string
	for _, line := range lines {
		if strings.HasPrefix(line, "|") {
			rows = append(rows, strings.Join(strings.Fields(strings.Trim(line, "| ")), " "))
		}
	}
	assert.Equal(t, []string{"class | images", "fresh | 3", "rotten | 3", "total | 6"}, rows)

	_, err = execute("index", filepath.Join(dir, "missing"))
	assert.Error(t, err)
	_, err = execute("index")
	assert.Error(t, err)
}

func TestSweepAndPredict(t *testing.T) {
	dir := makeTree(t, 5)
	tmp := t.TempDir()
	imgPath := filepath.Join(dir, "rotten", "img0.png")
	model := filepath.Join(tmp, "model.gob")
	csv := filepath.Join(tmp, "results.csv")

	out, err := execute("sweep", "--train-dir", dir, "--npix", "67", "--batch", "4", "--optimizer", "Adam",
		"--lr", "0.001", "--dropout", "0.5", "--epochs", "1", "--seed", "1", "--threads", "2",
		"--save", model, "--csv", csv, "--probe", imgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "epoch   1:")
	assert.Contains(t, out, "batch_size")
	assert.Regexp(t, `(Fresh|Rotten) fruit \(prob=[0-9.]+\)\n`, out)

	data, err := os.ReadFile(csv)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
	assert.True(t, strings.HasPrefix(string(data), "batch_size,optimizer,learning_rate,dropout,epoch,"))

	out, err = execute("predict", "--model", model, imgPath)
	require.NoError(t, err)
	assert.Regexp(t, `^(Fresh|Rotten) fruit \(prob=[0-9.]+\)\n$`, out)

	out, err = execute("predict", "--model", model, imgPath, filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
	assert.Contains(t, out, imgPath+": ")
	assert.Contains(t, out, "missing.png: error")

	_, err = execute("predict", "--model", filepath.Join(tmp, "none.gob"), imgPath)
	assert.Error(t, err)
	_, err = execute("predict", imgPath)
	assert.Error(t, err)
}

func TestIndexStats(t *testing.T) {
	dir := makeTree(t, 2)
	out, err := execute("index", "--stats", "10", "--npix", "8", dir)
	require.NoError(t, err)
	assert.Regexp(t, `4 images: mean \[[0-9. ]+\]  std \[[0-9. ]+\]`, out)
}

func TestNet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alexnet.json")
	out, err := execute("net", "--npix", "67", "--save", path)
	require.NoError(t, err)
	assert.Contains(t, out, "== Config ==")
	assert.Contains(t, out, "parameters 21,585,985")

	out2, err := execute("net", path)
	require.NoError(t, err)
	assert.Equal(t, out, out2)

	_, err = execute("net", "--npix", "32")
	assert.Error(t, err)
	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("{}"), 0644))
	_, err = execute("net", empty)
	assert.Error(t, err)
}
