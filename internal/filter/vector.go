package filter

import "math"

// Vector2 は2次元の座標（スクリーン座標やタブレット座標）を表す
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vector2) Add(o Vector2) Vector2 {
	return Vector2{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vector2) Sub(o Vector2) Vector2 {
	return Vector2{X: v.X - o.X, Y: v.Y - o.Y}
}

func (v Vector2) Scale(s float64) Vector2 {
	return Vector2{X: v.X * s, Y: v.Y * s}
}

// Len はベクトルの長さ（ユークリッドノルム）を返す
func (v Vector2) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

// Distance は2点間のユークリッド距離を返す
func (v Vector2) Distance(o Vector2) float64 {
	return v.Sub(o).Len()
}

// Lerp は v から o へ t の割合だけ進んだ位置を返す
// t=0 で v、t=1 で o になる
func (v Vector2) Lerp(o Vector2, t float64) Vector2 {
	return Vector2{
		X: v.X + (o.X-v.X)*t,
		Y: v.Y + (o.Y-v.Y)*t,
	}
}

// IsFinite は両方の成分が有限値かどうかを返す
func (v Vector2) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) && !math.IsNaN(v.Y) && !math.IsInf(v.Y, 0)
}
