// Package stats summarises latency samples for the bench tools.
package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
)

// trim drops trimPercent of the samples from each end of a sorted copy.
func trim(data []float64, trimPercent float64) []float64 {
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	n := int(float64(len(sorted)) * trimPercent / 100.0)
	if n*2 >= len(sorted) {
		n = len(sorted) / 2
	}
	return sorted[n : len(sorted)-n]
}

// TrimmedMean is the mean after trimming extremes.
func TrimmedMean(data []float64, trimPercent float64) float64 {
	t := trim(data, trimPercent)
	if len(t) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t {
		sum += v
	}
	return sum / float64(len(t))
}

// Percentile interpolates the p-th percentile of unsorted data.
func Percentile(data []float64, p float64) float64 {
	return percentileSorted(trim(data, 0), p)
}

// TrimmedPercentile is Percentile after trimming extremes.
func TrimmedPercentile(data []float64, p, trimPercent float64) float64 {
	return percentileSorted(trim(data, trimPercent), p)
}

func percentileSorted(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	return data[f]*(float64(c)-k) + data[c]*(k-float64(f))
}

// WriteCSV saves one latency per row under a latency_ms header.
func WriteCSV(path string, latencies []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"latency_ms"})
	for _, v := range latencies {
		w.Write([]string{fmt.Sprintf("%.3f", v)})
	}
	w.Flush()
	return w.Error()
}
