package event

// イベントタイプの定数（input-event-codes.hより）
const (
	Syn = 0x00 // 同期イベント
	Key = 0x01 // キーイベント
	Rel = 0x02 // 相対座標イベント
	Abs = 0x03 // 絶対座標イベント
	Msc = 0x04 // その他のイベント

	AbsX        = 0x00 // X軸の絶対座標
	AbsY        = 0x01 // Y軸の絶対座標
	AbsPressure = 0x18 // 筆圧
	AbsDistance = 0x19 // ホバー距離
	AbsTiltX    = 0x1a // X方向の傾き
	AbsTiltY    = 0x1b // Y方向の傾き

	SynReport  = 0 // イベント報告の同期
	SynDropped = 3 // カーネル側のバッファ溢れ

	BtnToolPen      = 0x140 // ペン
	BtnToolRubber   = 0x141 // 消しゴム
	BtnToolBrush    = 0x142 // ブラシ
	BtnToolPencil   = 0x143 // 鉛筆
	BtnToolAirbrush = 0x144 // エアブラシ
	BtnToolMouse    = 0x146 // タブレットマウス
	BtnToolLens     = 0x147 // レンズカーソル
	BtnTouch        = 0x14a // 接触
	BtnStylus       = 0x14b // サイドボタン1
	BtnStylus2      = 0x14c // サイドボタン2
	BtnStylus3      = 0x149 // サイドボタン3

	KeyMax = 0x2ff // キーコードの最大値
	AbsMax = 0x3f  // 絶対座標コードの最大値
)

// ToolCodes はペンが近接範囲にあることを示すツールボタン
var ToolCodes = []uint16{
	BtnToolPen,
	BtnToolRubber,
	BtnToolBrush,
	BtnToolPencil,
	BtnToolAirbrush,
	BtnToolMouse,
	BtnToolLens,
}

// IsTool はキーコードがツールボタンかどうかを返す
func IsTool(code uint16) bool {
	for _, c := range ToolCodes {
		if c == code {
			return true
		}
	}
	return false
}
