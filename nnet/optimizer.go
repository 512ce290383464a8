package nnet

import (
	"fmt"
	"math"
	"strings"

	"github.com/jnb666/fruitnet/num"
	"github.com/pkg/errors"
)

const (
	beta1      = 0.9
	beta2      = 0.999
	optEpsilon = 1e-7
	// fixed settings for Adadelta
	adadeltaRate = 0.001
	adadeltaRho  = 0.95
)

// Optimizer is one of Adam, SGD, Adadelta or Adamax.
type Optimizer interface {
	Name() string
	String() string
	newUpdater(q num.Queue, params []num.Array) updater
}

// updater holds the per parameter state for an optimizer
type updater interface {
	update(params, grads []num.Array)
}

// Adam optimizer with beta1=0.9, beta2=0.999 and epsilon=1e-7.
type Adam struct {
	LearningRate float64
}

func (o Adam) Name() string { return "Adam" }

func (o Adam) String() string { return fmt.Sprintf("Adam(lr=%g)", o.LearningRate) }

func (o Adam) newUpdater(q num.Queue, params []num.Array) updater {
	return &momentUpdater{queue: q, lr: o.LearningRate, m: zerosLike(q, params), v: zerosLike(q, params), kernel: num.Adam}
}

// Adamax optimizer, a variant of Adam based on the infinity norm.
type Adamax struct {
	LearningRate float64
}

func (o Adamax) Name() string { return "Adamax" }

func (o Adamax) String() string { return fmt.Sprintf("Adamax(lr=%g)", o.LearningRate) }

func (o Adamax) newUpdater(q num.Queue, params []num.Array) updater {
	return &momentUpdater{queue: q, lr: o.LearningRate, m: zerosLike(q, params), v: zerosLike(q, params), kernel: num.Adamax, maxNorm: true}
}

// SGD is plain stochastic gradient descent.
type SGD struct {
	LearningRate float64
}

func (o SGD) Name() string { return "SGD" }

func (o SGD) String() string { return fmt.Sprintf("SGD(lr=%g)", o.LearningRate) }

func (o SGD) newUpdater(q num.Queue, params []num.Array) updater {
	return sgdUpdater{queue: q, lr: float32(o.LearningRate)}
}

// Adadelta optimizer has no learning rate setting, it uses a fixed rate of 0.001 with rho=0.95.
type Adadelta struct{}

func (o Adadelta) Name() string { return "Adadelta" }

func (o Adadelta) String() string { return "Adadelta" }

func (o Adadelta) newUpdater(q num.Queue, params []num.Array) updater {
	return &adadeltaUpdater{queue: q, acc: zerosLike(q, params), accDelta: zerosLike(q, params)}
}

// ParseOptimizer returns the optimizer with the given name, the learning rate is ignored for Adadelta.
func ParseOptimizer(name string, learningRate float64) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "adam":
		return Adam{LearningRate: learningRate}, nil
	case "sgd":
		return SGD{LearningRate: learningRate}, nil
	case "adadelta":
		return Adadelta{}, nil
	case "adamax":
		return Adamax{LearningRate: learningRate}, nil
	default:
		return nil, errors.Errorf("unsupported optimizer %q", name)
	}
}

// LearningRate returns the learning rate for the optimizer and false if it does not have one.
func LearningRate(opt Optimizer) (float64, bool) {
	switch o := opt.(type) {
	case Adam:
		return o.LearningRate, true
	case Adamax:
		return o.LearningRate, true
	case SGD:
		return o.LearningRate, true
	default:
		return 0, false
	}
}

func zerosLike(q num.Queue, params []num.Array) []num.Array {
	res := make([]num.Array, len(params))
	for i, p := range params {
		res[i] = q.NewArrayLike(p)
	}
	return res
}

type sgdUpdater struct {
	queue num.Queue
	lr    float32
}

func (u sgdUpdater) update(params, grads []num.Array) {
	for i, p := range params {
		u.queue.Call(num.Axpy(-u.lr, grads[i], p))
	}
}

type momentKernel func(w, g, m, v num.Array, lr, beta1, beta2, eps float32) num.Function

// Adam and Adamax with bias corrected step size
type momentUpdater struct {
	queue   num.Queue
	lr      float64
	m, v    []num.Array
	step    int
	kernel  momentKernel
	maxNorm bool
}

func (u *momentUpdater) update(params, grads []num.Array) {
	u.step++
	t := float64(u.step)
	var lr float64
	if u.maxNorm {
		lr = u.lr / (1 - math.Pow(beta1, t))
	} else {
		lr = u.lr * math.Sqrt(1-math.Pow(beta2, t)) / (1 - math.Pow(beta1, t))
	}
	for i, p := range params {
		u.queue.Call(u.kernel(p, grads[i], u.m[i], u.v[i], float32(lr), beta1, beta2, optEpsilon))
	}
}

type adadeltaUpdater struct {
	queue         num.Queue
	acc, accDelta []num.Array
}

func (u *adadeltaUpdater) update(params, grads []num.Array) {
	for i, p := range params {
		u.queue.Call(num.Adadelta(p, grads[i], u.acc[i], u.accDelta[i], adadeltaRate, adadeltaRho, optEpsilon))
	}
}
