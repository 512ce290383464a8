package nnet

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jnb666/fruitnet/num"
	"github.com/jnb666/fruitnet/stats"
)

// number of epochs for the moving average of the validation accuracy
const emaEpochs = 5

// Training statistics
type Stats struct {
	Epoch     int
	Loss      float64
	TrainAcc  float64
	ValLoss   float64
	ValAcc    float64
	ValAvg    float64
	BestSince int
	Elapsed   time.Duration
}

// Column headers for the values returned by Format
func StatsHeaders() []string {
	return []string{"loss", "train acc", "valid loss", "valid acc", "valid avg"}
}

func (s Stats) Format() []string {
	return []string{
		fmt.Sprintf("%7.4f", s.Loss),
		fmt.Sprintf("%6.2f%%", s.TrainAcc*100),
		fmt.Sprintf("%7.4f", s.ValLoss),
		fmt.Sprintf("%6.2f%%", s.ValAcc*100),
		fmt.Sprintf("%6.2f%%", s.ValAvg*100),
	}
}

// Tester interface to evaluate the performance after each epoch, Test method returns true if training should stop.
type Tester interface {
	Test(net *Network, epoch int, loss, acc float64, start time.Time) (bool, error)
}

// Tester which evaluates the loss and accuracy on the validation set and updates the stats.
type TestBase struct {
	Valid   *Dataset
	Stats   []Stats
	Headers []string
}

// Create a new base class which implements the Tester interface, valid may be nil.
func NewTestBase(valid *Dataset) *TestBase {
	return &TestBase{Valid: valid, Stats: []Stats{}, Headers: StatsHeaders()}
}

// Reset stats prior to new run
func (t *TestBase) Reset() {
	t.Stats = t.Stats[:0]
}

// Last returns the stats from the most recent epoch.
func (t *TestBase) Last() (Stats, bool) {
	if len(t.Stats) == 0 {
		return Stats{}, false
	}
	return t.Stats[len(t.Stats)-1], true
}

// Test performance of the network, called from the Train function on completion of each epoch.
func (t *TestBase) Test(net *Network, epoch int, loss, acc float64, start time.Time) (bool, error) {
	s := Stats{Epoch: epoch, Loss: loss, TrainAcc: acc, BestSince: -1}
	if t.Valid != nil && t.Valid.Samples > 0 {
		var err error
		if s.ValLoss, s.ValAcc, err = net.Evaluate(t.Valid); err != nil {
			return true, err
		}
		prev := 0.0
		if n := len(t.Stats); n > 0 {
			prev = t.Stats[n-1].ValAvg
		}
		s.ValAvg = stats.EMA(prev).Add(s.ValAcc, emaEpochs)
		// number of epochs since the best average validation accuracy
		s.BestSince = 0
		best := s.ValAvg
		for i := len(t.Stats) - 1; i >= 0; i-- {
			if t.Stats[i].ValAvg > best {
				best = t.Stats[i].ValAvg
				s.BestSince = epoch - t.Stats[i].Epoch
			}
		}
	}
	s.Elapsed = time.Since(start)
	t.Stats = append(t.Stats, s)
	return epoch >= net.MaxEpoch || (net.StopAfter > 0 && s.BestSince >= net.StopAfter), nil
}

// TestLogger is a tester which also prints the stats every LogEvery epochs.
type TestLogger struct {
	*TestBase
	out io.Writer
}

// Create a new tester which logs stats to the given writer.
func NewTestLogger(valid *Dataset, out io.Writer) *TestLogger {
	return &TestLogger{TestBase: NewTestBase(valid), out: out}
}

func (t *TestLogger) Test(net *Network, epoch int, loss, acc float64, start time.Time) (bool, error) {
	done, err := t.TestBase.Test(net, epoch, loss, acc, start)
	if err != nil {
		return done, err
	}
	s := t.Stats[len(t.Stats)-1]
	if done || net.LogEvery == 0 || epoch%net.LogEvery == 0 {
		msg := fmt.Sprintf("epoch %3d:", epoch)
		for i, val := range s.Format() {
			msg += fmt.Sprintf("  %s =%s", t.Headers[i], val)
		}
		if s.BestSince > 0 {
			msg += fmt.Sprintf(" [%d]", s.BestSince)
		}
		fmt.Fprintln(t.out, msg)
	}
	if done {
		fmt.Fprintf(t.out, "run time: %s\n", s.Elapsed.Round(10*time.Millisecond))
	}
	return done, nil
}

// EarlyStop monitors the training accuracy. Training is stopped once the accuracy improves on the previous
// epoch by at least MinDelta and the weights from the epoch with the best accuracy are restored.
type EarlyStop struct {
	MinDelta  float64
	Best      float64
	BestEpoch int
	prev      float64
	weights   [][]float32
}

// Update is called after each epoch with the training accuracy, returns true if training should stop.
func (e *EarlyStop) Update(net *Network, epoch int, acc float64) (bool, error) {
	if e.BestEpoch == 0 || acc > e.Best {
		e.Best, e.BestEpoch = acc, epoch
		e.weights = net.Snapshot()
	}
	stop := epoch > 1 && acc-e.prev >= e.MinDelta
	e.prev = acc
	if stop && e.BestEpoch != epoch {
		return true, net.Restore(e.weights)
	}
	return stop, nil
}

// Train the network on the given training set by updating the weights. Stops after MaxEpoch epochs or
// earlier if the tester or early stopping rule says so. The context is checked between epochs.
func Train(ctx context.Context, net *Network, opt Optimizer, dset *Dataset, test Tester) error {
	params, grads := trainableArrays(net)
	upd := opt.newUpdater(net.queue, params)
	var early *EarlyStop
	if net.EarlyStop {
		early = &EarlyStop{MinDelta: net.MinDelta}
	}
	start := time.Now()
	for epoch := 1; epoch <= net.MaxEpoch; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		loss, acc, err := trainEpoch(net, upd, params, grads, dset)
		if err != nil {
			return err
		}
		done, err := test.Test(net, epoch, loss, acc, start)
		if err != nil {
			return err
		}
		if early != nil {
			stop, err := early.Update(net, epoch, acc)
			if err != nil {
				return err
			}
			done = done || stop
		}
		if done {
			break
		}
	}
	return nil
}

// perform one training epoch on dataset, returns the mean loss and accuracy over the batches.
func trainEpoch(net *Network, upd updater, params, grads []num.Array, dset *Dataset) (loss, acc float64, err error) {
	q := net.queue
	if net.Shuffle {
		dset.Shuffle()
	}
	dset.NextEpoch()
	for batch := 0; batch < dset.Batches; batch++ {
		if net.DebugLevel >= 2 || (net.DebugLevel == 1 && batch == 0) {
			fmt.Printf("== train batch %d ==\n", batch)
		}
		x, y, err := dset.NextBatch()
		if err != nil {
			return 0, 0, err
		}
		n := y.Dims()[0]
		yPred := net.Fprop(x, true)
		l, a := net.batchMetrics(y, yPred)
		loss += l * float64(n)
		acc += a * float64(n)
		// gradient of mean cross entropy loss wrt. the sigmoid input
		grad := net.inputGrad.Slice(n)
		q.Call(
			num.Copy(grad, yPred),
			num.Axpy(-1, y, grad),
			num.Scale(1/float32(n), grad),
		)
		if net.DebugLevel >= 2 {
			fmt.Printf("input grad:\n%s", grad.String(q))
		}
		net.Bprop(grad)
		upd.update(params, grads)
	}
	q.Finish()
	return loss / float64(dset.Samples), acc / float64(dset.Samples), nil
}

func trainableArrays(net *Network) (params, grads []num.Array) {
	for _, layer := range net.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			dW, dB := l.ParamGrads()
			params = append(params, W, B)
			grads = append(grads, dW, dB)
		}
	}
	return
}
