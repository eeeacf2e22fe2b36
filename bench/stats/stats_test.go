package stats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	data := []float64{5, 1, 4, 2, 3}
	assert.Equal(t, 1.0, Percentile(data, 0))
	assert.Equal(t, 3.0, Percentile(data, 50))
	assert.Equal(t, 5.0, Percentile(data, 100))
	assert.InDelta(t, 4.6, Percentile(data, 90), 1e-9)
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, data, "input is not reordered")
	assert.Zero(t, Percentile(nil, 50))
}

func TestTrimmedMean(t *testing.T) {
	data := []float64{1000, 2, 2, 2, 2, 2, 2, 2, 2, 0}
	assert.Equal(t, 2.0, TrimmedMean(data, 10))
	assert.Zero(t, TrimmedMean(nil, 1))
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lat.csv")
	require.NoError(t, WriteCSV(path, []float64{1.5, 2}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "latency_ms\n1.500\n2.000\n", string(b))
}
