// Package replay は記録したペンの座標列をフィルターに通し、結果を CSV で書き出す。
//
// 入力は t_ms,x,y の行（ヘッダー行と # で始まるコメント行は読み飛ばす）、
// 出力は t_ms,x,y,out_x,out_y,radius,held の行。時刻は各行の t_ms を
// 手動時計に設定して与えるので、同じ入力からは常に同じ出力が得られる。
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/char5742/pen-deadzone/internal/filter"
)

// Sample は入力の1行
type Sample struct {
	TimeMS float64
	Pos    filter.Vector2
}

// Result はフィルターに通した1行分の結果
type Result struct {
	Sample
	Out    filter.Vector2
	Radius float64
	Held   bool
}

var header = []string{"t_ms", "x", "y", "out_x", "out_y", "radius", "held"}

// epoch は t_ms=0 に対応する時刻
var epoch = time.Unix(0, 0).UTC()

// ReadSamples は CSV からサンプル列を読み込む
func ReadSamples(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	var samples []Sample
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read samples: %w", err)
		}

		// 1行目が数値でなければヘッダーとみなす
		if line == 1 && isHeader(rec) {
			continue
		}

		s, err := parseSample(rec)
		if err != nil {
			row, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("read samples: line %d: %w", row, err)
		}
		samples = append(samples, s)
	}
}

func isHeader(rec []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	return err != nil
}

func parseSample(rec []string) (Sample, error) {
	var vals [3]float64
	for i, field := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return Sample{TimeMS: vals[0], Pos: filter.Vector2{X: vals[1], Y: vals[2]}}, nil
}

// Process はサンプル列を新しいフィルターに順に通す
func Process(samples []Sample, params filter.Params) []Result {
	clock := filter.NewManualClock(epoch)
	f := filter.New(params, clock)

	results := make([]Result, 0, len(samples))
	for _, s := range samples {
		clock.Set(epoch.Add(time.Duration(s.TimeMS * float64(time.Millisecond))))
		out := f.Process(s.Pos)
		step := f.LastStep()
		results = append(results, Result{
			Sample: s,
			Out:    out,
			Radius: step.Radius,
			Held:   step.Held,
		})
	}
	return results
}

// WriteResults は結果を CSV で書き出す
func WriteResults(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range results {
		rec := []string{
			formatFloat(r.TimeMS),
			formatFloat(r.Pos.X),
			formatFloat(r.Pos.Y),
			formatFloat(r.Out.X),
			formatFloat(r.Out.Y),
			formatFloat(r.Radius),
			strconv.FormatBool(r.Held),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Run は r のサンプルをフィルターに通して w に書き出し、処理した行数を返す
func Run(r io.Reader, w io.Writer, params filter.Params) (int, error) {
	samples, err := ReadSamples(r)
	if err != nil {
		return 0, err
	}
	results := Process(samples, params)
	if err := WriteResults(w, results); err != nil {
		return 0, fmt.Errorf("write results: %w", err)
	}
	return len(results), nil
}
