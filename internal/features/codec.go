package features

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/char5742/pen-deadzone/internal/types"
)

// decodeEvent は input_event 1件分のバイト列をイベントに変換する
func decodeEvent(buf []byte) (types.Event, error) {
	var e types.Event
	if len(buf) < types.EventSize {
		return e, fmt.Errorf("short input event: %d bytes", len(buf))
	}
	e.Sec = int64(binary.LittleEndian.Uint64(buf[0:8]))
	e.Usec = int64(binary.LittleEndian.Uint64(buf[8:16]))
	e.Type = binary.LittleEndian.Uint16(buf[16:18])
	e.Code = binary.LittleEndian.Uint16(buf[18:20])
	e.Value = int32(binary.LittleEndian.Uint32(buf[20:24]))
	return e, nil
}

// encodeEvents はイベント列を input_event のバイト列に変換する
func encodeEvents(events []types.Event) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(len(events) * types.EventSize)
	for _, ev := range events {
		if err := binary.Write(buf, binary.LittleEndian, ev); err != nil {
			return nil, fmt.Errorf("イベントをバッファに書き込むのに失敗しました: %v", err)
		}
	}
	return buf.Bytes(), nil
}
