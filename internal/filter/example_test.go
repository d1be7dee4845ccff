package filter_test

import (
	"fmt"
	"time"

	"github.com/char5742/pen-deadzone/internal/filter"
)

func ExampleFilter_Process() {
	clock := filter.NewManualClock(time.Unix(0, 0))
	f := filter.New(filter.Params{
		MaxDeadZone:        4,
		FullSpeedThreshold: 12,
		Curve:              1,
		SpeedSmoothAlpha:   1,
		MinSmoothFactor:    0.8,
	}, clock)

	for _, p := range []filter.Vector2{{X: 0}, {X: 0.5}, {X: 1}, {X: 10}} {
		out := f.Process(p)
		fmt.Printf("in=%.1f out=%.1f held=%v\n", p.X, out.X, f.LastStep().Held)
		clock.Advance(time.Millisecond)
	}
	// Output:
	// in=0.0 out=0.0 held=false
	// in=0.5 out=0.0 held=true
	// in=1.0 out=0.0 held=true
	// in=10.0 out=8.0 held=false
}
