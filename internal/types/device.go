package types

import "github.com/char5742/pen-deadzone/internal/consts"

// InputID はデバイス識別子を表す構造体
type InputID struct {
	Bustype uint16 // バスタイプ
	Vendor  uint16 // ベンダーID
	Product uint16 // 製品ID
	Version uint16 // バージョン
}

// UserDev はuinputユーザーデバイスの設定を表す構造体
type UserDev struct {
	Name       [consts.MaxNameSize]byte // デバイス名
	ID         InputID                  // デバイス識別子
	EffectsMax uint32                   // 最大エフェクト数
	Absmax     [consts.AbsSize]int32    // 絶対座標の最大値
	Absmin     [consts.AbsSize]int32    // 絶対座標の最小値
	Absfuzz    [consts.AbsSize]int32    // 絶対座標のファジー値
	Absflat    [consts.AbsSize]int32    // 絶対座標のフラット値
}

// AbsInfo は絶対座標軸の情報（struct input_absinfo）
type AbsInfo struct {
	Value      int32 `json:"value"`
	Minimum    int32 `json:"minimum"`
	Maximum    int32 `json:"maximum"`
	Fuzz       int32 `json:"fuzz"`
	Flat       int32 `json:"flat"`
	Resolution int32 `json:"resolution"`
}

// Clamp は値を軸の範囲に収める
func (a AbsInfo) Clamp(v int32) int32 {
	if a.Maximum <= a.Minimum {
		return v
	}
	if v < a.Minimum {
		return a.Minimum
	}
	if v > a.Maximum {
		return a.Maximum
	}
	return v
}
