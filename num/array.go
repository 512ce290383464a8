package num

import (
	"fmt"
	"strings"
)

// Parameters for array printing
var (
	PrintThreshold = 12
	PrintEdgeitems = 4
)

// Array interface is a general n dimensional float32 tensor similar to a numpy ndarray.
// Data is stored in row major order with the batch index first.
type Array interface {
	// Dims returns the shape of the array
	Dims() []int
	// Size is total number of elements
	Size() int
	// Reshape returns a new array of the same size with a view on the same data but with a different shape
	Reshape(dims ...int) Array
	// Slice returns a view on the first n entries along the leading dimension
	Slice(n int) Array
	// Reference to the raw data
	Data() []float32
	// Formatted output
	String(q Queue) string
}

// array resident in main memory
type arrayCPU struct {
	arrayBase
	data []float32
}

func (d cpuDevice) NewArray(dims ...int) Array {
	return newArrayCPU(dims, make([]float32, Prod(dims)))
}

func (d cpuDevice) NewArrayLike(a Array) Array {
	return newArrayCPU(a.Dims(), make([]float32, a.Size()))
}

// NewArrayFrom wraps an existing slice, which must have Prod(dims) elements.
func NewArrayFrom(data []float32, dims ...int) Array {
	if len(data) != Prod(dims) {
		panic(fmt.Sprintf("NewArrayFrom: have %d elements for shape %v", len(data), dims))
	}
	return newArrayCPU(dims, data)
}

func newArrayCPU(dims []int, data []float32) *arrayCPU {
	dims = append([]int{}, dims...)
	return &arrayCPU{arrayBase: arrayBase{size: Prod(dims), dims: dims}, data: data}
}

func (a *arrayCPU) Data() []float32 { return a.data }

func (a *arrayCPU) Reshape(dims ...int) Array {
	return &arrayCPU{arrayBase: a.reshape(dims), data: a.data}
}

func (a *arrayCPU) Slice(n int) Array {
	if len(a.dims) == 0 {
		panic("Slice: cannot slice a scalar")
	}
	if n < 0 || n > a.dims[0] {
		panic(fmt.Sprintf("Slice: %d out of range for shape %v", n, a.dims))
	}
	if n == a.dims[0] {
		return a
	}
	dims := append([]int{n}, a.dims[1:]...)
	size := Prod(dims)
	return &arrayCPU{arrayBase: arrayBase{size: size, dims: dims}, data: a.data[:size]}
}

func (a *arrayCPU) String(q Queue) string { return toString(a, q) }

// common array functions
type arrayBase struct {
	size int
	dims []int
}

func (a arrayBase) Size() int { return a.size }

func (a arrayBase) Dims() []int { return a.dims }

func (a arrayBase) reshape(dims []int) arrayBase {
	dims = append([]int{}, dims...)
	n := a.size
	for i := range dims {
		if dims[i] == -1 {
			other := 1
			for j, dim := range dims {
				if i != j {
					if dim == -1 {
						panic("Reshape: can only have single -1 value")
					}
					other *= dim
				}
			}
			dims[i] = n / other
		}
	}
	if Prod(dims) != n {
		panic("reshape must be to array of same size")
	}
	return arrayBase{size: n, dims: dims}
}

func toString(a Array, q Queue) string {
	data := make([]float32, a.Size())
	q.Call(Read(a, data)).Finish()
	return format(a.Dims(), data, "") + "\n"
}

func format(dims []int, data []float32, indent string) string {
	switch len(dims) {
	case 0:
		return formatValue(data[0])
	case 1:
		s := make([]string, 0, dims[0])
		for i := 0; i < dims[0]; i++ {
			if dims[0] > PrintThreshold+1 && i == PrintEdgeitems {
				s = append(s, "    ... ")
				i = dims[0] - PrintEdgeitems - 1
				continue
			}
			s = append(s, formatValue(data[i]))
		}
		return "[" + strings.Join(s, "") + "]"
	default:
		stride := Prod(dims[1:])
		s := make([]string, 0, dims[0])
		for i := 0; i < dims[0]; i++ {
			if dims[0] > PrintThreshold+1 && i == PrintEdgeitems {
				s = append(s, indent+" ...")
				i = dims[0] - PrintEdgeitems - 1
				continue
			}
			s = append(s, format(dims[1:], data[i*stride:(i+1)*stride], indent+" "))
		}
		return "[" + strings.Join(s, "\n"+indent+" ") + "]"
	}
}

func formatValue(val float32) string {
	if abs(val) < 1 {
		val = float32(int(10000*val+0.5)) / 10000
	}
	return fmt.Sprintf("%7.5g ", val)
}

func abs(x float32) float32 {
	if x >= 0 {
		return x
	}
	return -x
}

// Product of elements of an integer array. Zero dimension array (scalar) has size 1.
func Prod(arr []int) int {
	prod := 1
	for _, v := range arr {
		prod *= v
	}
	return prod
}

// Check if two arrays are the same shape
func SameShape(xd, yd []int) bool {
	if len(xd) != len(yd) {
		return false
	}
	for i := range xd {
		if xd[i] != yd[i] {
			return false
		}
	}
	return true
}

// Total size of one of more arrays in bytes
func Bytes(arr ...Array) (bytes int) {
	for _, a := range arr {
		if a != nil {
			bytes += 4 * a.Size()
		}
	}
	return bytes
}
