package registry

import "time"

type sample struct {
	latencyMs float64
	success   bool
	at        time.Time
}

// window is a fixed-size ring of the most recent outcomes for one model.
// It is not safe for concurrent use; the Registry lock guards it.
type window struct {
	samples []sample
	next    int
	filled  int
	total   int64
	updated time.Time
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{samples: make([]sample, size)}
}

func (w *window) add(s sample) {
	w.samples[w.next] = s
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
	w.total++
	w.updated = s.at
}

// stats returns the average latency and success rate over the samples taken
// at or after since, and how many samples that is. A zero since counts all.
func (w *window) stats(since time.Time) (avgLatencyMs, successRate float64, n int) {
	var latency float64
	var ok int
	for i := 0; i < w.filled; i++ {
		s := w.samples[i]
		if s.at.Before(since) {
			continue
		}
		n++
		latency += s.latencyMs
		if s.success {
			ok++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	return latency / float64(n), float64(ok) / float64(n), n
}
