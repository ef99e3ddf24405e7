package fit

import "sort"

// History is the per-epoch record of a Fit call.
type History struct {
	Epochs  []int
	Metrics map[string][]float64
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{Metrics: make(map[string][]float64)}
}

func (h *History) record(epoch int, logs Logs) {
	h.Epochs = append(h.Epochs, epoch)
	for name, v := range logs {
		h.Metrics[name] = append(h.Metrics[name], v)
	}
}

// Last returns the final recorded value of a metric.
func (h *History) Last(name string) (float64, bool) {
	values := h.Metrics[name]
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// Keys returns the recorded metric names in sorted order.
func (h *History) Keys() []string {
	keys := make([]string, 0, len(h.Metrics))
	for k := range h.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
