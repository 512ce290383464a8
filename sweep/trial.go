package sweep

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jnb666/fruitnet/img"
	"github.com/jnb666/fruitnet/nnet"
	"github.com/jnb666/fruitnet/num"
	"github.com/pkg/errors"
)

// Result from training the network with one set of hyperparameters.
type Result struct {
	ID string
	Point
	ValAcc   float64
	TrainAcc float64
	Epochs   int
	RunTime  time.Duration
	Stats    []nnet.Stats
	Classes  []string
	Net      *nnet.Network
}

// Model exports the trained weights so they can be saved.
func (r Result) Model() *nnet.Model {
	return nnet.Export(r.Net, r.Classes)
}

// tester which forwards each epoch's stats to the config callback
type trialTester struct {
	*nnet.TestLogger
	trial   int
	onEpoch func(int, nnet.Stats)
}

func (t trialTester) Test(net *nnet.Network, epoch int, loss, acc float64, start time.Time) (bool, error) {
	done, err := t.TestLogger.Test(net, epoch, loss, acc, start)
	if err == nil && t.onEpoch != nil {
		if s, ok := t.Last(); ok {
			t.onEpoch(t.trial, s)
		}
	}
	return done, err
}

// RunTrial indexes the training directory, splits the samples, builds a new network and trains it.
// The trial number is passed to the OnEpoch callback.
func RunTrial(ctx context.Context, cfg Config, trial int, p Point) (res Result, err error) {
	log := cfg.logger()
	res = Result{ID: uuid.New().String(), Point: p}
	start := time.Now()
	conf, err := cfg.netConfig(p)
	if err != nil {
		return res, err
	}
	opt, err := conf.NewOptimizer()
	if err != nil {
		return res, err
	}
	rng := nnet.SetSeed(cfg.Seed)

	samples, err := img.IndexDir(cfg.TrainDir, log)
	if err != nil {
		return res, err
	}
	if res.Classes, err = img.Classes(samples); err != nil {
		return res, err
	}
	train, valid, err := img.Split(samples, p.Frac, rng)
	if err != nil {
		return res, err
	}
	if len(train) == 0 {
		return res, errors.Errorf("no training samples: have %d files with fraction %g", len(samples), p.Frac)
	}
	log.Infow("start trial", "id", res.ID, "trial", trial+1, "batch", p.BatchSize, "optimizer", p.Optimizer,
		"dropout", p.Dropout, "epochs", p.Epochs, "train", len(train), "valid", len(valid))

	trainData, err := newFileData(cfg, train, res.Classes, rng, true)
	if err != nil {
		return res, err
	}
	validData, err := newFileData(cfg, valid, res.Classes, rng, !cfg.CleanValidation)
	if err != nil {
		return res, err
	}
	dev := num.NewDevice()
	queue := dev.NewQueue(conf.Threads)
	queue.Profiling(conf.Profile)
	trainSet := nnet.NewDataset(dev, trainData, p.BatchSize, rng)
	validSet := nnet.NewDataset(dev, validData, p.BatchSize, rng)

	res.Net = nnet.New(queue, conf, trainSet.BatchSize, trainSet.Shape(), rng)
	res.Net.InitWeights(rng)
	log.Infof("network has %s parameters", humanize.Comma(int64(res.Net.NumParams())))
	if conf.DebugLevel >= 1 {
		fmt.Fprintln(cfg.out(), conf)
		fmt.Fprintln(cfg.out(), res.Net)
	}

	test := trialTester{TestLogger: nnet.NewTestLogger(validSet, cfg.out()), trial: trial, onEpoch: cfg.OnEpoch}
	if err = nnet.Train(ctx, res.Net, opt, trainSet, test); err != nil {
		return res, errors.Wrapf(err, "trial %d", trial+1)
	}
	if conf.Profile {
		fmt.Fprintf(cfg.out(), "== Profile ==\n%s\n", queue.Profile())
	}
	res.Stats = test.Stats
	if last, ok := test.Last(); ok {
		res.Epochs = last.Epoch
		res.TrainAcc = last.TrainAcc
		res.ValAcc = last.ValAcc
	}
	res.RunTime = time.Since(start)
	log.Infow("end trial", "id", res.ID, "trial", trial+1, "train_acc", res.TrainAcc, "val_acc", res.ValAcc,
		"run_time", res.RunTime.Round(time.Millisecond))
	return res, nil
}

func newFileData(cfg Config, samples []img.Sample, classes []string, rng *rand.Rand, augment bool) (*img.FileData, error) {
	data, err := img.NewFileData(samples, classes, cfg.Npix)
	if err != nil {
		return nil, err
	}
	if cfg.Threads > 0 {
		data.Threads = cfg.Threads
	}
	if augment {
		data.SetTransformer(img.NewTransformer(img.DefaultAugment(), cfg.Threads, rng))
	}
	return data, nil
}

// Run calls RunTrial for each point in the grid in turn. onResult, if not nil, is called with the results
// so far after each trial completes. The sweep stops at the first error, the completed results are returned.
func Run(ctx context.Context, cfg Config, onResult func(Results)) (Results, error) {
	points, err := cfg.Grid.Points()
	if err != nil {
		return nil, err
	}
	if err := cfg.CheckNetwork(); err != nil {
		return nil, err
	}
	var results Results
	for i, p := range points {
		res, err := RunTrial(ctx, cfg, i, p)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if onResult != nil {
			onResult(results)
		}
	}
	return results, nil
}
