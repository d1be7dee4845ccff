package features

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"syscall"

	"github.com/char5742/pen-deadzone/internal/consts"
	"github.com/char5742/pen-deadzone/internal/event"
	"github.com/char5742/pen-deadzone/internal/types"
	"github.com/char5742/pen-deadzone/internal/utils"
)

// フィルター後の座標を出力する仮想タブレットのインターフェース
type Tablet interface {
	// SYN_REPORT までを含むイベント列を書き込む
	WriteEvents(events []types.Event) error
	io.Closer
}

// TabletSpec は仮想タブレットが持つ絶対座標軸
// 元のペンデバイスの軸情報をそのまま写す
type TabletSpec struct {
	Axes   map[uint16]types.AbsInfo
	Direct bool // 液晶タブレットなど画面一体型かどうか
}

type virtualTablet struct {
	name       []byte
	deviceFile *os.File
}

// tabletButtons は仮想タブレットが登録するボタン
// 転送するツールは全て登録しておかないとカーネルに捨てられる
func tabletButtons() []uint16 {
	buttons := append([]uint16(nil), event.ToolCodes...)
	return append(buttons, event.BtnTouch, event.BtnStylus, event.BtnStylus2, event.BtnStylus3)
}

// 新しい仮想タブレットデバイスを作成する
func CreateTablet(path string, name []byte, spec TabletSpec) (Tablet, error) {
	if _, ok := spec.Axes[event.AbsX]; !ok {
		return nil, errors.New("tablet spec has no ABS_X axis")
	}
	if _, ok := spec.Axes[event.AbsY]; !ok {
		return nil, errors.New("tablet spec has no ABS_Y axis")
	}

	fd, err := createTablet(path, name, spec)
	if err != nil {
		return nil, err
	}

	return &virtualTablet{name: name, deviceFile: fd}, nil
}

func (vt *virtualTablet) WriteEvents(events []types.Event) error {
	return writeEvents(vt.deviceFile, events)
}

func (vt *virtualTablet) Close() error {
	_ = releaseDevice(vt.deviceFile)
	return vt.deviceFile.Close()
}

func createTablet(path string, name []byte, spec TabletSpec) (*os.File, error) {
	deviceFile, err := createDeviceFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not create absolute axis input device: %v", err)
	}

	// ペンのボタンとツールを登録する
	if err := registerDevice(deviceFile, uintptr(event.Key)); err != nil {
		return nil, fmt.Errorf("キー入力イベント(EV_KEY)の登録に失敗しました: %v", err)
	}
	for _, ev := range tabletButtons() {
		if err := utils.IOCtl(deviceFile, consts.SetKeyBit, uintptr(ev)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("キー入力種別の登録に失敗しました %v: %v", ev, err)
		}
	}

	// 絶対座標入力イベント(EV_ABS)を登録する
	if err := registerDevice(deviceFile, uintptr(event.Abs)); err != nil {
		return nil, fmt.Errorf("絶対座標入力イベント(EV_ABS)の登録に失敗しました: %v", err)
	}

	prop := consts.PropPointer
	if spec.Direct {
		prop = consts.PropDirect
	}
	if err := utils.IOCtl(deviceFile, consts.SetPropBit, uintptr(prop)); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイスプロパティの設定に失敗しました: %v", err)
	}

	var absMin, absMax, absFuzz, absFlat [consts.AbsSize]int32
	for _, code := range sortedAxes(spec.Axes) {
		if int(code) >= consts.AbsSize {
			continue
		}
		if err := utils.IOCtl(deviceFile, consts.SetAbsBit, uintptr(code)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("座標軸の登録に失敗しました %v: %v", code, err)
		}
		info := spec.Axes[code]
		absMin[code] = info.Minimum
		absMax[code] = info.Maximum
		absFuzz[code] = info.Fuzz
		absFlat[code] = info.Flat
	}

	userDev := types.UserDev{
		Name: toUinputName(name),
		ID: types.InputID{
			Bustype: consts.BusUsb,
			Vendor:  0x4711,
			Product: 0x0818,
			Version: 1,
		},
		Absmin:  absMin,
		Absmax:  absMax,
		Absfuzz: absFuzz,
		Absflat: absFlat,
	}

	fd, err := createUsbDevice(deviceFile, userDev)
	if err != nil {
		return nil, fmt.Errorf("USBデバイスの作成に失敗しました: %v", err)
	}

	return fd, nil
}

func sortedAxes(axes map[uint16]types.AbsInfo) []uint16 {
	codes := make([]uint16, 0, len(axes))
	for code := range axes {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// デバイスファイルを作成する
func createDeviceFile(path string) (fd *os.File, err error) {
	deviceFile, err := os.OpenFile(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0660)
	if err != nil {
		return nil, fmt.Errorf("デバイスファイルを開くのに失敗しました: %w", err)
	}
	return deviceFile, nil
}

// デバイスを解放する
func releaseDevice(deviceFile *os.File) error {
	return utils.IOCtl(deviceFile, consts.DevDestroy, uintptr(0))
}

// デバイスを登録する
func registerDevice(deviceFile *os.File, evType uintptr) error {
	err := utils.IOCtl(deviceFile, consts.SetEvBit, evType)
	if err != nil {
		defer deviceFile.Close()
		if rerr := releaseDevice(deviceFile); rerr != nil {
			return fmt.Errorf("デバイスを解放するのに失敗しました: %v", rerr)
		}
		return fmt.Errorf("無効なファイルハンドルがutils.IOCtlから返されました: %v", err)
	}
	return nil
}

// USBデバイスを作成する
func createUsbDevice(deviceFile *os.File, dev types.UserDev) (fd *os.File, err error) {
	buf := new(bytes.Buffer)
	err = binary.Write(buf, binary.LittleEndian, dev)
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("ユーザーデバイスバッファの書き込みに失敗しました: %v", err)
	}
	_, err = deviceFile.Write(buf.Bytes())
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイス構造体をデバイスファイルに書き込むのに失敗しました: %v", err)
	}

	err = utils.IOCtl(deviceFile, consts.DevCreate, uintptr(0))
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイスの作成に失敗しました: %v", err)
	}

	return deviceFile, nil
}

// イベントを書き込む
// フレームが途中で分断されないよう1回の write で書き込む
func writeEvents(deviceFile *os.File, events []types.Event) error {
	buf, err := encodeEvents(events)
	if err != nil {
		return err
	}
	if _, err := deviceFile.Write(buf); err != nil {
		return fmt.Errorf("イベントの書き込みに失敗しました: %v", err)
	}
	return nil
}

// 名前をuinput用の固定長配列に変換する
func toUinputName(name []byte) (uinputName [consts.MaxNameSize]byte) {
	copy(uinputName[:], name)
	return uinputName
}
