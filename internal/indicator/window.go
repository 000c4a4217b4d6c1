package indicator

import "math"

// window is a fixed-capacity ring of the most recent values.
type window struct {
	buf   []float64
	len   int
	start int
}

func newWindow(capacity int) *window {
	if capacity <= 0 {
		capacity = 1
	}
	return &window{buf: make([]float64, capacity)}
}

func (w *window) push(v float64) {
	c := len(w.buf)
	if w.len < c {
		w.buf[(w.start+w.len)%c] = v
		w.len++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % c
}

func (w *window) full() bool { return w.len == len(w.buf) }

func (w *window) mean() float64 {
	if w.len == 0 {
		return math.NaN()
	}
	var sum float64
	for i := 0; i < w.len; i++ {
		sum += w.buf[(w.start+i)%len(w.buf)]
	}
	return sum / float64(w.len)
}

// std returns the standard deviation of the window contents. ddof is 0 for the
// population estimate and 1 for the sample estimate.
func (w *window) std(ddof int) float64 {
	n := w.len - ddof
	if n <= 0 {
		return math.NaN()
	}
	m := w.mean()
	var ss float64
	for i := 0; i < w.len; i++ {
		d := w.buf[(w.start+i)%len(w.buf)] - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}
