package viz

import (
	"fmt"
	"math"
	"strings"
)

const (
	maxSeries        = 8
	defaultLineWidth = 40
)

var ticks = []rune("▁▂▃▄▅▆▇█")

// Sparklines renders one line per series scaled to its own min/max.
// Width is the number of columns per line; 0 uses a default (40). Series
// longer than width are averaged into buckets.
func Sparklines(series []Series, width int) string {
	if len(series) == 0 {
		return ""
	}
	if width <= 0 {
		width = defaultLineWidth
	}

	overflow := 0
	if len(series) > maxSeries {
		overflow = len(series) - maxSeries
		series = series[:maxSeries]
	}

	labelWidth := 0
	for _, s := range series {
		if len(s.Key) > labelWidth {
			labelWidth = len(s.Key)
		}
	}
	if labelWidth > 20 {
		labelWidth = 20
	}

	var b strings.Builder
	b.WriteString("Telemetry\n")
	for _, s := range series {
		key := s.Key
		if len(key) > labelWidth {
			key = key[:labelWidth-1] + "…"
		}

		values := bucket(s.Values, width)
		if len(values) == 0 {
			fmt.Fprintf(&b, "  %-*s  (no samples)\n", labelWidth, key)
			continue
		}

		lo, hi := bounds(values)
		fmt.Fprintf(&b, "  %-*s  %s  %s .. %s\n", labelWidth, key, line(values, lo, hi), formatValue(lo), formatValue(hi))
	}
	if overflow > 0 {
		fmt.Fprintf(&b, "  ... and %d more keys\n", overflow)
	}

	return b.String()
}

// bucket drops non-finite values and averages the rest down to at most width points.
func bucket(values []float64, width int) []float64 {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) <= width {
		return finite
	}

	out := make([]float64, width)
	for i := range out {
		start := i * len(finite) / width
		end := (i + 1) * len(finite) / width
		sum := 0.0
		for _, v := range finite[start:end] {
			sum += v
		}
		out[i] = sum / float64(end-start)
	}
	return out
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func line(values []float64, lo, hi float64) string {
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) * float64(len(ticks)-1) / (hi - lo))
		}
		b.WriteRune(ticks[idx])
	}
	return b.String()
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e9 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
