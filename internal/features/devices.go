package features

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"unsafe"

	"github.com/char5742/pen-deadzone/internal/consts"
	"github.com/char5742/pen-deadzone/internal/event"
	"github.com/char5742/pen-deadzone/internal/utils"
)

type Device struct {
	Name string     `json:"name"`
	Path string     `json:"path"`
	Type DeviceType `json:"type"`
}

// デバイスタイプを表す列挙型
type DeviceType int

const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeTablet
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeTablet:
		return "tablet"
	default:
		return "other"
	}
}

func (t DeviceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// 入力デバイスの置き場所
var inputDir = "/dev/input"

// ScanDevices は /dev/input/event* を走査し、ペンタブレットとして使えるデバイスを返します
// ペンのツールボタンと ABS_X/ABS_Y を両方持つデバイスをタブレットとみなします
// exclude に一致する名前のデバイス（自分が作った仮想タブレットなど）は除外します
func ScanDevices(exclude ...string) ([]Device, error) {
	return scanDevices(inputDir, exclude)
}

func scanDevices(dir string, exclude []string) ([]Device, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "event*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var devices []Device
	for _, path := range paths {
		dev, ok := probeDevice(path)
		if !ok || dev.Type != DeviceTypeTablet {
			continue
		}
		if contains(exclude, dev.Name) {
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// probeDevice はデバイスを開いて名前と対応イベントを調べる
func probeDevice(path string) (Device, bool) {
	f, err := os.OpenFile(path, syscall.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return Device{}, false
	}
	defer f.Close()

	name := make([]byte, 256)
	if err := utils.IOCtlPtr(f, consts.EVIOCGNAME(len(name)), unsafe.Pointer(&name[0])); err != nil {
		return Device{}, false
	}

	keyBits := make([]byte, event.KeyMax/8+1)
	if err := utils.IOCtlPtr(f, consts.EVIOCGBIT(event.Key, len(keyBits)), unsafe.Pointer(&keyBits[0])); err != nil {
		return Device{}, false
	}
	absBits := make([]byte, event.AbsMax/8+1)
	if err := utils.IOCtlPtr(f, consts.EVIOCGBIT(event.Abs, len(absBits)), unsafe.Pointer(&absBits[0])); err != nil {
		return Device{}, false
	}

	dev := Device{Name: cString(name), Path: path, Type: DeviceTypeOther}
	if isTablet(keyBits, absBits) {
		dev.Type = DeviceTypeTablet
	}
	return dev, true
}

// isTablet はケーパビリティのビット列からペンタブレットかどうかを判定する
func isTablet(keyBits, absBits []byte) bool {
	if !testBit(absBits, event.AbsX) || !testBit(absBits, event.AbsY) {
		return false
	}
	return testBit(keyBits, event.BtnToolPen) || testBit(keyBits, event.BtnToolRubber)
}

func testBit(bits []byte, n int) bool {
	byteIndex := n / 8
	bitIndex := n % 8
	if byteIndex >= len(bits) {
		return false
	}
	return bits[byteIndex]&(1<<bitIndex) != 0
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SelectDevice は優先デバイス名に一致するデバイス、なければ最初のデバイスを返す
func SelectDevice(devices []Device, preferred string) *Device {
	var first *Device
	for i := range devices {
		if devices[i].Type != DeviceTypeTablet {
			continue
		}
		if first == nil {
			first = &devices[i]
		}
		if preferred != "" && devices[i].Name == preferred {
			return &devices[i]
		}
	}
	return first
}
