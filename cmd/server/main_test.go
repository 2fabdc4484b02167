package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/hydrorisk-backend/internal/analysis"
	"github.com/hydrowatch/hydrorisk-backend/internal/service"
)

// writeDEM writes a south-draining valley around lon 9, lat 50 in UTM 32N.
func writeDEM(t *testing.T) string {
	t.Helper()
	const x0, y0, cell, size = 499700.0, 5538330.0, 10.0, 60
	var sb strings.Builder
	fmt.Fprintf(&sb, "ncols %d\nnrows %d\nxllcorner %g\nyllcorner %g\ncellsize %g\nNODATA_value -9999\n", size, size, x0, y0, cell)
	for r := 0; r < size; r++ {
		y := y0 + size*cell - (float64(r)+0.5)*cell
		for c := 0; c < size; c++ {
			x := x0 + (float64(c)+0.5)*cell
			if c > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatFloat(100+0.05*(y-y0)+0.05*math.Abs(x-500005), 'f', 3, 64))
		}
		sb.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "dem.asc")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	dem := writeDEM(t)
	out := filepath.Join(t.TempDir(), "result.json")
	_, err := run(t, "analyze", "--dem", dem, "--bbox", "8.998,49.998,9.002,50.002",
		"--resolution", "10", "--threshold", "20", "--kind", "erosion", "-o", out)
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var res analysis.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, "FeatureCollection", res.Type)
	assert.Equal(t, "erosion", res.Analysis.Kind)
	assert.NotEmpty(t, res.Features)
}

func TestWatershedCommand(t *testing.T) {
	stdout, err := run(t, "watershed", "--dem", writeDEM(t), "--bbox", "8.998,49.998,9.002,50.002",
		"--resolution", "10", "--threshold", "20", "--lat", "49.9985", "--lon", "9.0")
	require.NoError(t, err)

	var res service.WatershedResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Greater(t, res.Meta.Cells, 1)
	assert.Len(t, res.GeoJSON.Features, 1)
}

func TestCommandErrors(t *testing.T) {
	_, err := run(t, "analyze", "--bbox", "8.998,49.998,9.002,50.002")
	assert.ErrorContains(t, err, "dem")

	_, err = run(t, "analyze", "--dem", writeDEM(t), "--bbox", "9,50,9,50")
	assert.Error(t, err)
}
