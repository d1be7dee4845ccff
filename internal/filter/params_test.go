package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParams_Clamped(t *testing.T) {
	tests := []struct {
		name string
		in   Params
		want Params
	}{
		{
			name: "defaults are already valid",
			in:   DefaultParams(),
			want: DefaultParams(),
		},
		{
			name: "lower bounds",
			in:   Params{MaxDeadZone: -1, FullSpeedThreshold: 0, Curve: 0, SpeedSmoothAlpha: 0, MinSmoothFactor: 0, PredictionStrength: -3},
			want: Params{MaxDeadZone: 0, FullSpeedThreshold: 0.001, Curve: 0.01, SpeedSmoothAlpha: 0.001, MinSmoothFactor: 0.01, PredictionStrength: 0},
		},
		{
			name: "upper bounds",
			in:   Params{MaxDeadZone: 99, FullSpeedThreshold: 500, Curve: 7, SpeedSmoothAlpha: 3, MinSmoothFactor: 2, PredictionStrength: 9},
			want: Params{MaxDeadZone: 20, FullSpeedThreshold: 500, Curve: 7, SpeedSmoothAlpha: 1, MinSmoothFactor: 1, PredictionStrength: 2},
		},
		{
			name: "non-finite values fall back to defaults",
			in: Params{
				MaxDeadZone:        math.NaN(),
				FullSpeedThreshold: math.Inf(1),
				Curve:              math.Inf(-1),
				SpeedSmoothAlpha:   math.NaN(),
				MinSmoothFactor:    math.NaN(),
				PredictionStrength: math.Inf(1),
			},
			want: Params{
				MaxDeadZone:        defaultMaxDeadZone,
				FullSpeedThreshold: defaultFullSpeed,
				Curve:              defaultCurve,
				SpeedSmoothAlpha:   defaultSpeedSmoothAlpha,
				MinSmoothFactor:    defaultMinSmoothFactor,
				PredictionStrength: 0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Clamped())
		})
	}
}
