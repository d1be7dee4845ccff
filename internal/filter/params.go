package filter

import "math"

// 各パラメータの安全な値域
const (
	maxDeadZoneLimit        = 20.0
	minFullSpeedThreshold   = 0.001
	minCurve                = 0.01
	minSpeedSmoothAlpha     = 0.001
	minSmoothFactorFloor    = 0.01
	maxPredictionStrength   = 2.0
	defaultMaxDeadZone      = 3.0
	defaultFullSpeed        = 10.0
	defaultCurve            = 1.0
	defaultSpeedSmoothAlpha = 0.3
	defaultMinSmoothFactor  = 0.1
)

// Params はアダプティブデッドゾーンフィルターの設定値
//
// ホストから渡された値はそのまま保持し、処理のたびに Clamped で
// 安全な値域に収めてから使う。
type Params struct {
	// 速度0のときのデッドゾーン半径（距離単位）
	MaxDeadZone float64 `toml:"max_dead_zone" yaml:"max_dead_zone" json:"max_dead_zone"`
	// デッドゾーンが0になる速度（距離単位/ms）
	FullSpeedThreshold float64 `toml:"full_speed_threshold" yaml:"full_speed_threshold" json:"full_speed_threshold"`
	// デッドゾーンの縮み方を決める指数。1未満で早く縮み、1より大きいと粘る
	Curve float64 `toml:"curve" yaml:"curve" json:"curve"`
	// 速度EMAの新しいサンプルへの重み
	SpeedSmoothAlpha float64 `toml:"speed_smooth_alpha" yaml:"speed_smooth_alpha" json:"speed_smooth_alpha"`
	// 出力補間係数の下限
	MinSmoothFactor float64 `toml:"min_smooth_factor" yaml:"min_smooth_factor" json:"min_smooth_factor"`
	// 先読みの強さ。0で無効
	PredictionStrength float64 `toml:"prediction_strength" yaml:"prediction_strength" json:"prediction_strength"`
}

// DefaultParams はデフォルトのパラメータを返す
func DefaultParams() Params {
	return Params{
		MaxDeadZone:        defaultMaxDeadZone,
		FullSpeedThreshold: defaultFullSpeed,
		Curve:              defaultCurve,
		SpeedSmoothAlpha:   defaultSpeedSmoothAlpha,
		MinSmoothFactor:    defaultMinSmoothFactor,
		PredictionStrength: 0,
	}
}

// Clamped は全フィールドを安全な値域に収めたコピーを返す
// NaN や Inf はそのフィールドのデフォルト値に置き換える
func (p Params) Clamped() Params {
	return Params{
		MaxDeadZone:        clamp(finiteOr(p.MaxDeadZone, defaultMaxDeadZone), 0, maxDeadZoneLimit),
		FullSpeedThreshold: math.Max(finiteOr(p.FullSpeedThreshold, defaultFullSpeed), minFullSpeedThreshold),
		Curve:              math.Max(finiteOr(p.Curve, defaultCurve), minCurve),
		SpeedSmoothAlpha:   clamp(finiteOr(p.SpeedSmoothAlpha, defaultSpeedSmoothAlpha), minSpeedSmoothAlpha, 1),
		MinSmoothFactor:    clamp(finiteOr(p.MinSmoothFactor, defaultMinSmoothFactor), minSmoothFactorFloor, 1),
		PredictionStrength: clamp(finiteOr(p.PredictionStrength, 0), 0, maxPredictionStrength),
	}
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// clamp は値を最小値と最大値の間に制限する
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
