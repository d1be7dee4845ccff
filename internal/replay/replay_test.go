package replay

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/char5742/pen-deadzone/internal/filter"
)

var scenarioParams = filter.Params{
	MaxDeadZone:        4,
	FullSpeedThreshold: 12,
	Curve:              1,
	SpeedSmoothAlpha:   1,
	MinSmoothFactor:    0.8,
}

const scenarioCSV = `t_ms,x,y
# 静止からの揺れのあとに素早く動かす
0,0,0
1,0.5,0
2,1,0
3,10,0
`

func TestReadSamples(t *testing.T) {
	samples, err := ReadSamples(strings.NewReader(scenarioCSV))
	require.NoError(t, err)
	require.Len(t, samples, 4)
	assert.Equal(t, Sample{TimeMS: 2, Pos: filter.Vector2{X: 1}}, samples[2])
}

func TestReadSamples_WithoutHeader(t *testing.T) {
	samples, err := ReadSamples(strings.NewReader("0, 1, 2\n5, 3, 4\n"))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, Sample{TimeMS: 5, Pos: filter.Vector2{X: 3, Y: 4}}, samples[1])
}

func TestReadSamples_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "bad number", input: "0,0,0\n1,abc,0\n"},
		{name: "wrong column count", input: "0,0,0\n1,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSamples(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestRun_HoldThenJump(t *testing.T) {
	var out bytes.Buffer
	n, err := Run(strings.NewReader(scenarioCSV), &out, scenarioParams)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, header, rows[0])

	outX := func(row []string) float64 {
		v, err := strconv.ParseFloat(row[3], 64)
		require.NoError(t, err)
		return v
	}

	assert.InDelta(t, 0, outX(rows[1]), 1e-9)
	assert.InDelta(t, 0, outX(rows[2]), 1e-9)
	assert.Equal(t, "true", rows[2][6])
	assert.InDelta(t, 0, outX(rows[3]), 1e-9)
	assert.Equal(t, "true", rows[3][6])
	assert.InDelta(t, 8, outX(rows[4]), 1e-9)
	assert.Equal(t, "false", rows[4][6])

	radius, err := strconv.ParseFloat(rows[4][5], 64)
	require.NoError(t, err)
	assert.InDelta(t, 1, radius, 1e-9)
}

func TestRun_IsDeterministic(t *testing.T) {
	input := "0,10,10\n8,10.4,10.2\n16,14,12\n24,30,20\n24,31,20\n40,31.2,20.1\n"

	var a, b bytes.Buffer
	_, err := Run(strings.NewReader(input), &a, filter.DefaultParams())
	require.NoError(t, err)
	_, err = Run(strings.NewReader(input), &b, filter.DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, a.String(), b.String())
}

func TestProcess_FirstSamplePassesThrough(t *testing.T) {
	results := Process([]Sample{{TimeMS: 100, Pos: filter.Vector2{X: 3, Y: 4}}}, filter.DefaultParams())
	require.Len(t, results, 1)
	assert.Equal(t, filter.Vector2{X: 3, Y: 4}, results[0].Out)
	assert.False(t, results[0].Held)
}
