package consts

// UIInput デバイスの定数（uinput.hから）
const (
	MaxNameSize = 80         // デバイス名の最大サイズ
	DevCreate   = 0x5501     // デバイス作成用のIOCTL
	DevDestroy  = 0x5502     // デバイス破棄用のIOCTL
	SetEvBit    = 0x40045564 // イベントビット設定用のIOCTL
	SetKeyBit   = 0x40045565 // キービット設定用のIOCTL
	SetAbsBit   = 0x40045567 // 絶対座標ビット設定用のIOCTL
	SetPropBit  = 0x4004556e // プロパティビット設定用のIOCTL
	BusUsb      = 0x03       // USBバスタイプ
)

// その他のデバイス制御用定数
const (
	AbsSize        = 64         // 絶対座標の配列サイズ
	EVIOCGRAB      = 0x40044590 // デバイスの排他制御用のIOCTL
	EVIOCSCLOCKID  = 0x400445a0 // イベントのタイムスタンプに使う時計の設定
	PropPointer    = 0x00       // ポインターデバイスプロパティ
	PropDirect     = 0x01       // 画面一体型デバイスプロパティ
	ClockMonotonic = 1          // CLOCK_MONOTONIC
)

const (
	iocRead   = 2
	iocShift  = 30
	sizeShift = 16
	evdevType = 'E' << 8
)

// EVIOCGNAME はデバイス名取得用のIOCTL番号を返す
func EVIOCGNAME(length int) uintptr {
	return uintptr(iocRead<<iocShift | length<<sizeShift | evdevType | 0x06)
}

// EVIOCGBIT はイベントタイプ evType の対応ビット取得用のIOCTL番号を返す
func EVIOCGBIT(evType int, length int) uintptr {
	return uintptr(iocRead<<iocShift | length<<sizeShift | evdevType | (0x20 + evType))
}

// EVIOCGPROP はデバイスプロパティのビット取得用のIOCTL番号を返す
func EVIOCGPROP(length int) uintptr {
	return uintptr(iocRead<<iocShift | length<<sizeShift | evdevType | 0x09)
}

// EVIOCGKEY は現在押されているキーのビット取得用のIOCTL番号を返す
func EVIOCGKEY(length int) uintptr {
	return uintptr(iocRead<<iocShift | length<<sizeShift | evdevType | 0x18)
}

// EVIOCGABS は絶対座標軸 code の情報取得用のIOCTL番号を返す
func EVIOCGABS(code int) uintptr {
	const absInfoSize = 24
	return uintptr(iocRead<<iocShift | absInfoSize<<sizeShift | evdevType | (0x40 + code))
}
