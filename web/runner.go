// Package web has a web based interface to run a hyperparameter sweep and view the progress and results.
package web

import (
	"context"
	"fmt"
	"html/template"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jnb666/fruitnet/img"
	"github.com/jnb666/fruitnet/nnet"
	"github.com/jnb666/fruitnet/probe"
	"github.com/jnb666/fruitnet/sweep"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Runner executes a sweep in the background and keeps the stats and results for display.
type Runner struct {
	Config    sweep.Config
	Trial     int
	Trials    int
	Epoch     int
	Stats     [][]nnet.Stats
	Results   sweep.Results
	Err       error
	predictor probe.Predictor
	samples   []img.Sample
	classes   []string
	indexDir  string
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	log       *zap.SugaredLogger
	conns     map[*websocket.Conn]bool
	connLock  sync.Mutex
	sync.Mutex
}

// NewRunner creates a new runner with the given config, log may be nil.
func NewRunner(cfg sweep.Config, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{Config: cfg, log: log, conns: map[*websocket.Conn]bool{}}
}

// Start a new sweep, returns an error if one is already running or the config is invalid.
// Must be called with the lock held.
func (r *Runner) Start() error {
	if r.running {
		return errors.New("sweep is already running")
	}
	points, err := r.Config.Grid.Points()
	if err != nil {
		return err
	}
	if err := r.Config.CheckNetwork(); err != nil {
		return err
	}
	cfg := r.Config
	cfg.Log = r.log
	cfg.OnEpoch = r.nextEpoch
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.Trial, r.Trials, r.Epoch = 0, len(points), 0
	r.Stats = make([][]nnet.Stats, len(points))
	r.Results, r.Err = nil, nil
	r.log.Infow("start sweep", "trials", len(points), "train_dir", cfg.TrainDir)
	go func(done chan struct{}) {
		defer close(done)
		res, err := sweep.Run(ctx, cfg, r.trialDone)
		r.Lock()
		r.running = false
		r.Results, r.Err = res, err
		r.Unlock()
		cancel()
		if err != nil {
			r.log.Errorw("sweep failed", "error", err)
			r.notify("error")
		} else {
			r.log.Infow("sweep complete", "trials", len(res))
			r.notify("done")
		}
	}(r.done)
	return nil
}

// Stop requests the running sweep to end, this takes effect at the end of the current epoch.
// Must be called with the lock held.
func (r *Runner) Stop() {
	if r.running && r.cancel != nil {
		r.log.Info("stop sweep")
		r.cancel()
	}
}

// Wait for the current sweep to finish.
func (r *Runner) Wait() {
	r.Lock()
	done := r.done
	r.Unlock()
	if done != nil {
		<-done
	}
}

// Running returns true if a sweep is in progress. Must be called with the lock held.
func (r *Runner) Running() bool { return r.running }

// SetPredictor sets the model used to classify uploaded images.
func (r *Runner) SetPredictor(p probe.Predictor) {
	r.Lock()
	r.predictor = p
	r.Unlock()
}

// Classify an image with the most recently trained model.
func (r *Runner) Classify(path string) (probe.Prediction, error) {
	r.Lock()
	defer r.Unlock()
	if r.predictor == nil {
		return probe.Prediction{}, errors.New("no trained model available")
	}
	return probe.Classify(r.predictor, path)
}

// Samples returns the list of training images, the directory is indexed on first use.
// Must be called with the lock held.
func (r *Runner) Samples() ([]img.Sample, []string, error) {
	if r.samples == nil || r.indexDir != r.Config.TrainDir {
		samples, err := img.IndexDir(r.Config.TrainDir, r.log)
		if err != nil {
			return nil, nil, err
		}
		classes, err := img.Classes(samples)
		if err != nil {
			return nil, nil, err
		}
		r.samples, r.classes, r.indexDir = samples, classes, r.Config.TrainDir
	}
	return r.samples, r.classes, nil
}

// Current returns the stats for the trial in progress, or the last trial if the sweep is finished.
// Must be called with the lock held.
func (r *Runner) Current() []nnet.Stats {
	if r.Trial < len(r.Stats) {
		return r.Stats[r.Trial]
	}
	return nil
}

func (r *Runner) heading() template.HTML {
	if r.Trials == 0 {
		return template.HTML("no sweep run yet")
	}
	s := fmt.Sprintf(`trial <span id="trial">%d</span>/%d  epoch <span id="epoch">%d</span>/%d`,
		r.Trial+1, r.Trials, r.Epoch, r.Config.Grid.Epochs)
	if r.running {
		s += " running"
	}
	return template.HTML(s)
}

// callback at end of each epoch
func (r *Runner) nextEpoch(trial int, s nnet.Stats) {
	r.Lock()
	r.Trial, r.Epoch = trial, s.Epoch
	if trial < len(r.Stats) {
		r.Stats[trial] = append(r.Stats[trial], s)
	}
	r.Unlock()
	r.notify(fmt.Sprintf("%d:%d", trial+1, s.Epoch))
}

// callback at end of each trial, the last trained model is used for predictions
func (r *Runner) trialDone(res sweep.Results) {
	last := res[len(res)-1]
	r.Lock()
	r.Results = append(sweep.Results{}, res...)
	r.predictor = probe.New(last.Net, last.Classes)
	r.Unlock()
	r.notify("trial")
}

// AddConn registers a websocket connection to be notified of progress.
func (r *Runner) AddConn(conn *websocket.Conn) {
	r.connLock.Lock()
	r.conns[conn] = true
	r.connLock.Unlock()
}

// send message to all connected clients, closing any which fail
func (r *Runner) notify(msg string) {
	r.connLock.Lock()
	defer r.connLock.Unlock()
	for conn := range r.conns {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			r.log.Debugw("websocket write failed", "error", err)
			conn.Close()
			delete(r.conns, conn)
		}
	}
}
