// Package anomaly implements per-device statistical outlier detection over a
// rolling window of numeric observations.
//
// The test is a plain 3-sigma rule: a value is anomalous when it deviates from
// the window mean by more than three population standard deviations. With
// fewer than MinSamples observations the detector stays silent rather than
// guessing.
package anomaly

import (
	"math"
	"sync"
)

// MinSamples is the number of observations required before the detector will
// flag anything. Below this the window carries too little signal to assert
// an outlier.
const MinSamples = 10

// sigmaMultiplier is the deviation threshold in standard deviations.
const sigmaMultiplier = 3.0

// Detector keeps a rolling numeric window per device and flags 3-sigma
// outliers. Windows are never shared across devices.
type Detector struct {
	mu        sync.Mutex
	windows   map[string][]float64
	maxWindow int // 0 = unbounded
}

// NewDetector creates a Detector. maxWindow caps the per-device window
// length; 0 disables the cap.
func NewDetector(maxWindow int) *Detector {
	return &Detector{
		windows:   make(map[string][]float64),
		maxWindow: maxWindow,
	}
}

// Observe appends value to the device's window and reports whether it is a
// statistical anomaly relative to the window contents (value included).
//
// The value joins the window before the test, so an all-equal history plus an
// equal value never triggers: the deviation is exactly zero.
func (d *Detector) Observe(deviceID string, value float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := append(d.windows[deviceID], value)
	if d.maxWindow > 0 && len(w) > d.maxWindow {
		w = w[len(w)-d.maxWindow:]
	}
	d.windows[deviceID] = w

	if len(w) < MinSamples {
		return false
	}

	mean, sigma := meanStddev(w)
	return math.Abs(value-mean) > sigmaMultiplier*sigma
}

// WindowLen returns the current number of observations held for a device.
func (d *Detector) WindowLen(deviceID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows[deviceID])
}

// Reset discards a device's window.
func (d *Detector) Reset(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.windows, deviceID)
}

// meanStddev returns the sample mean and population standard deviation.
func meanStddev(values []float64) (mean, sigma float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	var sq float64
	for _, v := range values {
		diff := v - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / n)
}
