package num

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Device interface type
type Device interface {
	// Setup new worker queue
	NewQueue(threads int) Queue
	// Allocate new n dimensional array
	NewArray(dims ...int) Array
	NewArrayLike(a Array) Array
	// Create new layers
	ConvLayer(nBatch, height, width, depth, nFeats, size, stride, pad int) Layer
	MaxPoolLayer(inShape []int, size, stride int) Layer
	BatchNormLayer(inShape []int, momentum, epsilon float64) Layer
	LinearLayer(nBatch, nIn, nOut int) Layer
}

// Initialise new CPU device
func NewDevice() Device {
	return cpuDevice{}
}

// A Queue processes a series of operations on a Device
type Queue interface {
	Device
	Dev() Device
	// Number of worker goroutines used by the kernels
	Threads() int
	// Function call, executed in order
	Call(args ...Function) Queue
	// Wait for any pending requests to complete
	Finish()
	// Shutdown the queue and release any resources
	Shutdown()
	// Enable profiling
	Profiling(on bool)
	Profile() string
}

// Function which may be called via the queue
type Function struct {
	name string
	fn   func(threads int)
}

func args(name string, fn func(threads int)) Function {
	return Function{name: name, fn: fn}
}

// Name of the operation, used for profiling
func (f Function) Name() string { return f.name }

type cpuDevice struct{}

// cpuQueue runs each function as soon as it is called, the kernels split work over threads goroutines.
type cpuQueue struct {
	cpuDevice
	threads int
	*profile
}

// Create a new queue, if threads < 1 then use all available CPUs.
func (d cpuDevice) NewQueue(threads int) Queue {
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	return &cpuQueue{cpuDevice: d, threads: threads, profile: newProfile()}
}

func (q *cpuQueue) Dev() Device { return q.cpuDevice }

func (q *cpuQueue) Threads() int { return q.threads }

func (q *cpuQueue) Call(args ...Function) Queue {
	for _, f := range args {
		if f.fn == nil {
			continue
		}
		if q.profile.enabled {
			start := time.Now()
			f.fn(q.threads)
			q.profile.add(f.name, time.Since(start))
		} else {
			f.fn(q.threads)
		}
	}
	return q
}

func (q *cpuQueue) Finish() {}

func (q *cpuQueue) Shutdown() {
	q.Finish()
	if q.profile.enabled {
		fmt.Printf("== Profile ==\n%s\n", q.Profile())
	}
}

// profiling functions
type profile struct {
	prof    map[string]profileRec
	enabled bool
	sync.Mutex
}

type profileRec struct {
	name    string
	calls   int64
	elapsed time.Duration
}

func newProfile() *profile {
	return &profile{prof: make(map[string]profileRec)}
}

func (p *profile) Profiling(on bool) {
	p.Lock()
	p.enabled = on
	p.prof = make(map[string]profileRec)
	p.Unlock()
}

func (p *profile) add(name string, elapsed time.Duration) {
	p.Lock()
	r := p.prof[name]
	r.name = name
	r.calls++
	r.elapsed += elapsed
	p.prof[name] = r
	p.Unlock()
}

func (p *profile) Profile() string {
	p.Lock()
	defer p.Unlock()
	list := make([]profileRec, 0, len(p.prof))
	for _, v := range p.prof {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[j].elapsed < list[i].elapsed })
	totalCalls := int64(0)
	var totalTime time.Duration
	s := make([]string, 0, len(list)+1)
	for _, r := range list {
		s = append(s, fmt.Sprintf("%-25s %8d calls %10.1f msec", r.name, r.calls, msec(r.elapsed)))
		totalCalls += r.calls
		totalTime += r.elapsed
	}
	s = append(s, fmt.Sprintf("%-25s %8d calls %10.1f msec", "TOTAL", totalCalls, msec(totalTime)))
	return strings.Join(s, "\n")
}

func msec(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// split the range 0:n into at most threads contiguous chunks and run body on each in parallel
func parallel(n, threads int, body func(worker, start, end int)) {
	if n <= 0 {
		return
	}
	if threads > n {
		threads = n
	}
	if threads <= 1 {
		body(0, 0, n)
		return
	}
	chunk := (n + threads - 1) / threads
	var wg sync.WaitGroup
	for worker := 0; worker*chunk < n; worker++ {
		start := worker * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(worker, start, end int) {
			defer wg.Done()
			body(worker, start, end)
		}(worker, start, end)
	}
	wg.Wait()
}

// number of chunks parallel will use for n items
func workers(n, threads int) int {
	if threads > n {
		threads = n
	}
	if threads <= 1 {
		return 1
	}
	chunk := (n + threads - 1) / threads
	return (n + chunk - 1) / chunk
}
