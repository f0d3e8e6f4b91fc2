package calculator

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
)

var constants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
}

type function struct {
	// arity is the exact argument count, or -1 for functions over a
	// sequence, which accept either one list or several numbers.
	arity int
	fn    func(args []float64) (float64, error)
}

var functions = map[string]function{
	"sqrt": {1, func(a []float64) (float64, error) {
		if a[0] < 0 {
			return 0, errors.New("math domain error: sqrt of a negative number")
		}
		return math.Sqrt(a[0]), nil
	}},
	"sin":   {1, unary(math.Sin)},
	"cos":   {1, unary(math.Cos)},
	"tan":   {1, unary(math.Tan)},
	"exp":   {1, unary(math.Exp)},
	"abs":   {1, unary(math.Abs)},
	"floor": {1, unary(math.Floor)},
	"ceil":  {1, unary(math.Ceil)},
	"round": {1, unary(math.RoundToEven)},
	"pow": {2, func(a []float64) (float64, error) {
		v, err := arith("**", number(a[0]), number(a[1]))
		return v.num, err
	}},
	"log":    {-1, logarithm},
	"min":    {-1, nonEmpty(func(a []float64) float64 { return slices.Min(a) })},
	"max":    {-1, nonEmpty(func(a []float64) float64 { return slices.Max(a) })},
	"sum":    {-1, sum},
	"mean":   {-1, nonEmpty(mean)},
	"median": {-1, nonEmpty(median)},
	"mode":   {-1, nonEmpty(mode)},
	"stdev":  {-1, stdev},
}

// FunctionNames lists the callable functions, sorted.
func FunctionNames() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func call(name string, args []value) (value, error) {
	f, ok := functions[name]
	if !ok {
		return value{}, fmt.Errorf("unknown function %q (available: %s)", name, strings.Join(FunctionNames(), ", "))
	}

	var nums []float64
	switch {
	case f.arity == -1 && len(args) == 1 && args[0].isList:
		nums = args[0].list
	default:
		for _, a := range args {
			if a.isList {
				return value{}, fmt.Errorf("%s() does not accept a list here", name)
			}
			nums = append(nums, a.num)
		}
		if f.arity >= 0 && len(nums) != f.arity {
			return value{}, fmt.Errorf("%s() takes %d argument(s), got %d", name, f.arity, len(nums))
		}
	}

	r, err := f.fn(nums)
	if err != nil {
		return value{}, fmt.Errorf("%s(): %w", name, err)
	}
	return number(r), nil
}

func unary(fn func(float64) float64) func([]float64) (float64, error) {
	return func(a []float64) (float64, error) { return fn(a[0]), nil }
}

func nonEmpty(fn func([]float64) float64) func([]float64) (float64, error) {
	return func(a []float64) (float64, error) {
		if len(a) == 0 {
			return 0, errors.New("requires at least one data point")
		}
		return fn(a), nil
	}
}

// logarithm is log(x) for the natural log or log(x, base).
func logarithm(a []float64) (float64, error) {
	if len(a) < 1 || len(a) > 2 {
		return 0, fmt.Errorf("takes 1 or 2 arguments, got %d", len(a))
	}
	if a[0] <= 0 {
		return 0, errors.New("math domain error: log of a non-positive number")
	}
	if len(a) == 1 {
		return math.Log(a[0]), nil
	}
	if a[1] <= 0 || a[1] == 1 {
		return 0, fmt.Errorf("invalid logarithm base %v", a[1])
	}
	return math.Log(a[0]) / math.Log(a[1]), nil
}

func sum(a []float64) (float64, error) {
	var s float64
	for _, v := range a {
		s += v
	}
	return s, nil
}

func mean(a []float64) float64 {
	s, _ := sum(a)
	return s / float64(len(a))
}

func median(a []float64) float64 {
	s := slices.Clone(a)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// mode returns the most common value; ties go to the first seen.
func mode(a []float64) float64 {
	counts := make(map[float64]int, len(a))
	for _, v := range a {
		counts[v]++
	}
	best := a[0]
	for _, v := range a {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}

// stdev is the sample standard deviation.
func stdev(a []float64) (float64, error) {
	if len(a) < 2 {
		return 0, errors.New("requires at least two data points")
	}
	m := mean(a)
	var ss float64
	for _, v := range a {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(a)-1)), nil
}
