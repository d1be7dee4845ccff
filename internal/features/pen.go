package features

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"unsafe"

	"github.com/char5742/pen-deadzone/internal/consts"
	"github.com/char5742/pen-deadzone/internal/event"
	"github.com/char5742/pen-deadzone/internal/types"
	"github.com/char5742/pen-deadzone/internal/utils"
)

// ペンタブレットからの入力を扱うインターフェース
type Pen interface {
	// イベントを1件読み込む。届くまでブロックする
	ReadEvent() (types.Event, error)
	// 絶対座標軸の情報を取得する
	AbsInfo(code uint16) (types.AbsInfo, error)
	// 液晶タブレットなど画面一体型かどうか
	Direct() bool
	// 現在近接範囲にあるツール (BTN_TOOL_*)
	ActiveTools() ([]uint16, error)
	// ペン操作を専有する
	Grab() error
	// ペン操作の専有を解除する
	Release() error
	Close() error
}

type penDevice struct {
	file    *os.File
	buf     []byte
	grabbed bool
}

// 指定されたパスでペンデバイスを開く
func CreatePen(path string) (Pen, error) {
	f, err := os.OpenFile(path, syscall.O_RDONLY|syscall.O_NONBLOCK, 0660)
	if err != nil {
		return nil, fmt.Errorf("failed to open device file: %w", err)
	}

	// タイムスタンプを壁時計からモノトニック時計に切り替える
	// 古いカーネルでは失敗するが、フィルターは自前の時計を使うので無視してよい
	clockID := int32(consts.ClockMonotonic)
	_ = utils.IOCtlPtr(f, consts.EVIOCSCLOCKID, unsafe.Pointer(&clockID))

	return &penDevice{file: f, buf: make([]byte, types.EventSize)}, nil
}

func (p *penDevice) ReadEvent() (types.Event, error) {
	if _, err := io.ReadFull(p.file, p.buf); err != nil {
		return types.Event{}, err
	}
	return decodeEvent(p.buf)
}

func (p *penDevice) AbsInfo(code uint16) (types.AbsInfo, error) {
	var info types.AbsInfo
	if err := utils.IOCtlPtr(p.file, consts.EVIOCGABS(int(code)), unsafe.Pointer(&info)); err != nil {
		return info, fmt.Errorf("failed to read abs info %#x: %w", code, err)
	}
	return info, nil
}

func (p *penDevice) Direct() bool {
	props := make([]byte, 4)
	if err := utils.IOCtlPtr(p.file, consts.EVIOCGPROP(len(props)), unsafe.Pointer(&props[0])); err != nil {
		return false
	}
	return testBit(props, consts.PropDirect)
}

func (p *penDevice) ActiveTools() ([]uint16, error) {
	keys := make([]byte, event.KeyMax/8+1)
	if err := utils.IOCtlPtr(p.file, consts.EVIOCGKEY(len(keys)), unsafe.Pointer(&keys[0])); err != nil {
		return nil, fmt.Errorf("failed to read key state: %w", err)
	}
	return activeTools(keys), nil
}

// activeTools はキーの状態ビットから押されているツールを取り出す
func activeTools(keys []byte) []uint16 {
	var tools []uint16
	for _, code := range event.ToolCodes {
		if testBit(keys, int(code)) {
			tools = append(tools, code)
		}
	}
	return tools
}

func (p *penDevice) Grab() error {
	if p.grabbed {
		return nil
	}
	if err := utils.IOCtl(p.file, consts.EVIOCGRAB, 1); err != nil {
		return fmt.Errorf("failed to grab device: %w", err)
	}
	p.grabbed = true
	return nil
}

func (p *penDevice) Release() error {
	if !p.grabbed {
		return nil
	}
	if err := utils.IOCtl(p.file, consts.EVIOCGRAB, 0); err != nil {
		return fmt.Errorf("failed to release device: %w", err)
	}
	p.grabbed = false
	return nil
}

func (p *penDevice) Close() error {
	_ = p.Release()
	return p.file.Close()
}
