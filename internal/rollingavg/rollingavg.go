// Package rollingavg provides a fixed-capacity rolling average window.
//
// One window is used per metric stream (mouse velocity, scroll speed) on the
// student client. The window keeps a running sum so each push is O(1)
// regardless of window size.
package rollingavg

import (
	"fmt"
	"math"
	"sync"
)

// ErrWindowSize is returned when a window is constructed with size < 1.
var ErrWindowSize = fmt.Errorf("rollingavg: window size must be at least 1")

// Window tracks the mean of the most recent N values.
type Window struct {
	mu sync.Mutex

	size   int
	values []float64
	sum    float64
}

// New creates a rolling window holding up to size values.
func New(size int) (*Window, error) {
	if size < 1 {
		return nil, ErrWindowSize
	}
	return &Window{
		size:   size,
		values: make([]float64, 0, size),
	}, nil
}

// Push adds a value and returns the new average. When the window is full the
// oldest value is evicted and subtracted from the running sum.
func (w *Window) Push(v float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.values = append(w.values, v)
	w.sum += v

	if len(w.values) > w.size {
		w.sum -= w.values[0]
		w.values = w.values[1:]
	}

	return w.averageLocked()
}

// Average returns the mean of the values in the window, or 0 when empty.
func (w *Window) Average() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.averageLocked()
}

func (w *Window) averageLocked() float64 {
	if len(w.values) == 0 {
		return 0
	}
	return w.sum / float64(len(w.values))
}

// Count returns the number of values currently held.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.values)
}

// Min returns the smallest value in the window, or 0 when empty.
func (w *Window) Min() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.values) == 0 {
		return 0
	}
	min := math.Inf(1)
	for _, v := range w.values {
		if v < min {
			min = v
		}
	}
	return min
}

// Max returns the largest value in the window, or 0 when empty.
func (w *Window) Max() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.values) == 0 {
		return 0
	}
	max := math.Inf(-1)
	for _, v := range w.values {
		if v > max {
			max = v
		}
	}
	return max
}

// Reset clears all values and the running sum.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values = w.values[:0]
	w.sum = 0
}
