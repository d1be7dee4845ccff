package types

// Event は入力イベントを表す構造体
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; } (64bit)
type Event struct {
	Sec   int64  // イベント発生時刻（秒）
	Usec  int64  // イベント発生時刻（マイクロ秒）
	Type  uint16 // イベントタイプ
	Code  uint16 // イベントコード
	Value int32  // イベント値
}

// EventSize は input_event 1件分のバイト数
const EventSize = 24
