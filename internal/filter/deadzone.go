// Package filter はペン/デジタイザの座標列からチャタリング（高周波の揺れ）を取り除く
// アダプティブデッドゾーンフィルターを実装する。
//
// 静止・低速時は最後の出力の周りにデッドゾーンを張って細かな揺れを無視し、
// 速度が上がるにつれてデッドゾーンを縮めて素早い動きには遅延を加えない。
//
// Filter は1本の入力ストリームにつき1つ作り、1つの呼び出し元から
// サンプルの到着順に呼び出すこと。複数ストリームを扱う場合はストリームごとに
// Filter を持てばよく、インスタンス間で共有する状態はない。
package filter

import (
	"math"
	"time"
)

// epsilon は経過時間（ms）と移動量の下限。これ以下はゼロとして扱う
const epsilon = 0.001

// State はフィルターが呼び出しをまたいで保持する状態
type State struct {
	// 最後に出力した位置
	LastOutput Vector2 `json:"last_output"`
	// 最後に受け取った生の位置
	LastInput Vector2 `json:"last_input"`
	// 最後に処理したサンプルの時刻
	LastTimestamp time.Time `json:"last_timestamp"`
	// EMAで平滑化した速度（距離単位/ms）
	SmoothedSpeed float64 `json:"smoothed_speed"`
	// 最初のサンプルを処理したかどうか
	Initialized bool `json:"initialized"`
}

// Step は直近の1回の処理で計算された中間値
type Step struct {
	// 経過時間（ms）
	DeltaMS float64 `json:"dt_ms"`
	// 平滑化前の瞬間速度
	RawSpeed float64 `json:"raw_speed"`
	// 平滑化後の速度
	SmoothedSpeed float64 `json:"smoothed_speed"`
	// 整形後の速度（0〜1）
	Shaped float64 `json:"shaped"`
	// デッドゾーン半径
	Radius float64 `json:"radius"`
	// 先読み適用後の入力位置
	Effective Vector2 `json:"effective"`
	// デッドゾーン内として出力を据え置いたかどうか
	Held bool `json:"held"`
	// 初回サンプルとしてそのまま通したかどうか
	Passthrough bool `json:"passthrough"`
}

// Filter はアダプティブデッドゾーンフィルター
type Filter struct {
	params Params
	clock  Clock
	state  State
	step   Step
}

// New は新しいフィルターを作成する
// clock が nil の場合は SystemClock を使う
func New(params Params, clock Clock) *Filter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Filter{
		params: params,
		clock:  clock,
	}
}

// SetParams は次の呼び出しから使うパラメータを設定する
func (f *Filter) SetParams(params Params) {
	f.params = params
}

// Params は設定されているパラメータを返す（クランプ前の値）
func (f *Filter) Params() Params {
	return f.params
}

// Process は時計から現在時刻を読み、1サンプルを処理してフィルター後の位置を返す
func (f *Filter) Process(position Vector2) Vector2 {
	return f.ProcessAt(position, f.clock.Now())
}

// ProcessAt は now を受信時刻として1サンプルを処理する
func (f *Filter) ProcessAt(position Vector2, now time.Time) Vector2 {
	p := f.params.Clamped()
	s := &f.state

	dt := 0.0
	if s.Initialized {
		dt = float64(now.Sub(s.LastTimestamp)) / float64(time.Millisecond)
	}
	s.LastTimestamp = now
	f.step = Step{DeltaMS: dt}

	if !position.IsFinite() {
		// 不正なサンプルは捨てて直前の出力を維持する
		f.step.Held = true
		f.step.Effective = s.LastOutput
		f.step.SmoothedSpeed = s.SmoothedSpeed
		return s.LastOutput
	}

	if !s.Initialized {
		s.Initialized = true
		s.LastInput = position
		s.LastOutput = position
		f.step.Effective = position
		f.step.Passthrough = true
		return position
	}

	rawSpeed := 0.0
	if dt > epsilon {
		rawSpeed = position.Distance(s.LastInput) / dt
	}
	// 極端な座標で溢れても速度は有限の最大値で頭打ちにする
	rawSpeed = math.Min(rawSpeed, math.MaxFloat64)

	smoothed := p.SpeedSmoothAlpha*rawSpeed + (1-p.SpeedSmoothAlpha)*s.SmoothedSpeed
	s.SmoothedSpeed = math.Min(smoothed, math.MaxFloat64)
	prevInput := s.LastInput
	s.LastInput = position

	t := clamp(s.SmoothedSpeed/p.FullSpeedThreshold, 0, 1)
	shaped := math.Pow(t, p.Curve)
	radius := p.MaxDeadZone * (1 - shaped)

	effective := position
	if p.PredictionStrength > 0 && dt > epsilon {
		delta := position.Sub(prevInput)
		if l := delta.Len(); l > epsilon {
			direction := delta.Scale(1 / l)
			effective = position.Add(direction.Scale(p.PredictionStrength * s.SmoothedSpeed * dt))
		}
		if !effective.IsFinite() {
			effective = position
		}
	}

	held := effective.Distance(s.LastOutput) <= radius
	if !held {
		smoothFactor := math.Max(shaped, p.MinSmoothFactor)
		out := s.LastOutput.Lerp(effective, smoothFactor)
		if !out.IsFinite() {
			out = effective
		}
		s.LastOutput = out
	}

	f.step.RawSpeed = rawSpeed
	f.step.SmoothedSpeed = s.SmoothedSpeed
	f.step.Shaped = shaped
	f.step.Radius = radius
	f.step.Effective = effective
	f.step.Held = held

	return s.LastOutput
}

// Reset は状態を破棄し、次のサンプルを初回サンプルとして扱うようにする
func (f *Filter) Reset() {
	f.state = State{}
	f.step = Step{}
}

// State は現在の状態のコピーを返す
func (f *Filter) State() State {
	return f.state
}

// Restore は保存しておいた状態を読み込む
func (f *Filter) Restore(s State) {
	if s.SmoothedSpeed < 0 || math.IsNaN(s.SmoothedSpeed) || math.IsInf(s.SmoothedSpeed, 0) {
		s.SmoothedSpeed = 0
	}
	f.state = s
}

// LastStep は直近の Process / ProcessAt で計算された中間値を返す
func (f *Filter) LastStep() Step {
	return f.step
}
