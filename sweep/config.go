// Package sweep trains the AlexNet model once for each point in a list of hyperparameter settings.
package sweep

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jnb666/fruitnet/nnet"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config has the settings which are common to all of the trials in a sweep.
type Config struct {
	TrainDir        string  `yaml:"train_dir" json:"train_dir"`
	Npix            int     `yaml:"npix" json:"npix"`
	Grid            Grid    `yaml:"grid" json:"grid"`
	CleanValidation bool    `yaml:"clean_validation" json:"clean_validation"`
	EarlyStop       bool    `yaml:"early_stop" json:"early_stop"`
	MinDelta        float64 `yaml:"min_delta" json:"min_delta"`
	StopAfter       int     `yaml:"stop_after" json:"stop_after"`
	Seed            int64   `yaml:"seed" json:"seed"`
	Threads         int     `yaml:"threads" json:"threads"`
	LogEvery        int     `yaml:"log_every" json:"log_every"`
	DebugLevel      int     `yaml:"debug_level" json:"debug_level"`
	Profile         bool    `yaml:"profile" json:"profile"`
	// Extra network settings keyed by nnet.Config field name, these are applied last.
	// Fields which are set from the sweep config or grid are not allowed.
	Network map[string]string `yaml:"network,omitempty" json:"network,omitempty"`
	// Epoch stats are printed here, nil to discard.
	Out io.Writer          `yaml:"-" json:"-"`
	Log *zap.SugaredLogger `yaml:"-" json:"-"`
	// Called after each epoch from the training goroutine.
	OnEpoch func(trial int, s nnet.Stats) `yaml:"-" json:"-"`
}

// DefaultConfig has a single point: batch size 32, Adam with learning rate 1e-5, dropout 0.5 and 26 epochs.
func DefaultConfig() Config {
	net := nnet.DefaultConfig()
	return Config{
		Npix: net.Npix,
		Grid: Grid{
			BatchSizes:    []int{net.TrainBatch},
			Optimizers:    []string{net.Optimizer},
			LearningRates: []float64{net.LearningRate},
			Dropouts:      []float64{0.5},
			Epochs:        net.MaxEpoch,
			Frac:          1,
		},
		EarlyStop: net.EarlyStop,
		MinDelta:  net.MinDelta,
	}
}

// LoadConfig reads the settings from a YAML or JSON file, JSON is used if the extension is .json.
// Any values not in the file are taken from DefaultConfig.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrap(err, "error reading sweep config")
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &c)
	} else {
		err = yaml.Unmarshal(data, &c)
	}
	return c, errors.Wrapf(err, "error decoding %s", path)
}

// Save the config in YAML format.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c Config) logger() *zap.SugaredLogger {
	if c.Log == nil {
		return zap.NewNop().Sugar()
	}
	return c.Log
}

func (c Config) out() io.Writer {
	if c.Out == nil {
		return io.Discard
	}
	return c.Out
}

// nnet.Config fields which are set for each trial from the sweep config and grid
var sweepFields = map[string]bool{
	"Npix": true, "TrainBatch": true, "MaxEpoch": true, "Optimizer": true, "LearningRate": true,
	"EarlyStop": true, "MinDelta": true, "StopAfter": true, "CleanValidation": true,
}

// CheckNetwork returns an error if an extra network setting would override a sweep parameter.
func (c Config) CheckNetwork() error {
	keys := make([]string, 0, len(c.Network))
	for key := range c.Network {
		if sweepFields[key] {
			keys = append(keys, key)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		return errors.Errorf("network setting %s is set by the sweep config", strings.Join(keys, ", "))
	}
	return nil
}

// network settings for one trial
func (c Config) netConfig(p Point) (nnet.Config, error) {
	if err := c.CheckNetwork(); err != nil {
		return nnet.Config{}, err
	}
	conf, err := nnet.AlexNet(c.Npix, p.Dropout)
	if err != nil {
		return conf, err
	}
	conf.TrainBatch = p.BatchSize
	conf.MaxEpoch = p.Epochs
	conf.Optimizer = p.Optimizer.Name()
	conf.LearningRate, _ = nnet.LearningRate(p.Optimizer)
	conf.EarlyStop = c.EarlyStop
	conf.MinDelta = c.MinDelta
	conf.StopAfter = c.StopAfter
	conf.CleanValidation = c.CleanValidation
	conf.RandSeed = c.Seed
	conf.Threads = c.Threads
	conf.LogEvery = c.LogEvery
	conf.DebugLevel = c.DebugLevel
	conf.Profile = c.Profile
	keys := make([]string, 0, len(c.Network))
	for key := range c.Network {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if conf, err = conf.SetString(key, c.Network[key]); err != nil {
			return conf, errors.Wrapf(err, "network setting %s", key)
		}
	}
	return conf, nil
}

// Grid is a set of parallel lists of hyperparameters, trial i uses element i from each list.
// The learning rate is not used for the Adadelta optimizer.
type Grid struct {
	BatchSizes    []int     `yaml:"batch_sizes" json:"batch_sizes"`
	Optimizers    []string  `yaml:"optimizers" json:"optimizers"`
	LearningRates []float64 `yaml:"learning_rates" json:"learning_rates"`
	Dropouts      []float64 `yaml:"dropouts" json:"dropouts"`
	Epochs        int       `yaml:"epochs" json:"epochs"`
	Frac          float64   `yaml:"frac" json:"frac"`
}

// Point is the hyperparameter settings for a single trial.
type Point struct {
	BatchSize int
	Optimizer nnet.Optimizer
	Dropout   float64
	Epochs    int
	Frac      float64
}

// Points checks the grid and returns the list of trials. All of the lists must have the same length.
func (g Grid) Points() ([]Point, error) {
	n := len(g.BatchSizes)
	if n == 0 {
		return nil, errors.New("sweep grid is empty")
	}
	if len(g.Optimizers) != n || len(g.LearningRates) != n || len(g.Dropouts) != n {
		return nil, errors.Errorf("sweep lists must have the same length: batch_sizes=%d optimizers=%d learning_rates=%d dropouts=%d",
			n, len(g.Optimizers), len(g.LearningRates), len(g.Dropouts))
	}
	if g.Epochs < 1 {
		return nil, errors.Errorf("invalid number of epochs %d", g.Epochs)
	}
	if g.Frac <= 0 || g.Frac > 1 {
		return nil, errors.Errorf("sample fraction %g must be in range (0,1]", g.Frac)
	}
	points := make([]Point, n)
	for i := range points {
		opt, err := nnet.ParseOptimizer(g.Optimizers[i], g.LearningRates[i])
		if err != nil {
			return nil, errors.Wrapf(err, "trial %d", i+1)
		}
		if g.BatchSizes[i] < 1 {
			return nil, errors.Errorf("trial %d: invalid batch size %d", i+1, g.BatchSizes[i])
		}
		if g.Dropouts[i] < 0 || g.Dropouts[i] >= 1 {
			return nil, errors.Errorf("trial %d: dropout rate %g must be in range [0,1)", i+1, g.Dropouts[i])
		}
		points[i] = Point{BatchSize: g.BatchSizes[i], Optimizer: opt, Dropout: g.Dropouts[i], Epochs: g.Epochs, Frac: g.Frac}
	}
	return points, nil
}
