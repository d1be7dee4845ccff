package features

import (
	"github.com/char5742/pen-deadzone/internal/event"
	"github.com/char5742/pen-deadzone/internal/types"
)

// Frame は SYN_REPORT で区切られた1フレーム分のイベント
type Frame struct {
	// SYN_REPORT を含むフレーム内の全イベント
	Events []types.Event
	// フレーム適用後の絶対座標
	X, Y int32
	// このフレームで X または Y が変化したかどうか
	Moved bool
	// フレーム適用後にツールが近接範囲内にあるかどうか
	InProximity bool
	// このフレームでツールが近接範囲外に出たかどうか
	ProximityLeft bool
}

// FrameAssembler はイベント列を SYN_REPORT 単位のフレームにまとめる
//
// evdev は変化した軸しか報告しないため、現在の X/Y とツールの状態を保持しておく。
type FrameAssembler struct {
	x, y      int32
	tools     map[uint16]bool
	pending   []types.Event
	moved     bool
	wasInProx bool
	dropping  bool
}

// NewFrameAssembler は初期座標 x, y からフレームの組み立てを開始する
// activeTools は開始時点で近接範囲にあるツール。起動時にペンがかざされていた場合に渡す
func NewFrameAssembler(x, y int32, activeTools ...uint16) *FrameAssembler {
	a := &FrameAssembler{
		x:     x,
		y:     y,
		tools: make(map[uint16]bool),
	}
	for _, code := range activeTools {
		if event.IsTool(code) {
			a.tools[code] = true
		}
	}
	a.wasInProx = a.inProximity()
	return a
}

// Push はイベントを1件追加する
// SYN_REPORT でフレームが完成した場合は true を返す
func (a *FrameAssembler) Push(ev types.Event) (Frame, bool) {
	if ev.Type == event.Syn && ev.Code == event.SynDropped {
		// 次の SYN_REPORT までのイベントは信用できないので捨てる
		a.pending = a.pending[:0]
		a.moved = false
		a.dropping = true
		return Frame{}, false
	}
	if a.dropping {
		if ev.Type == event.Syn && ev.Code == event.SynReport {
			a.dropping = false
		}
		return Frame{}, false
	}

	a.pending = append(a.pending, ev)

	switch ev.Type {
	case event.Abs:
		switch ev.Code {
		case event.AbsX:
			a.x = ev.Value
			a.moved = true
		case event.AbsY:
			a.y = ev.Value
			a.moved = true
		}
	case event.Key:
		if event.IsTool(ev.Code) {
			a.tools[ev.Code] = ev.Value != 0
		}
	case event.Syn:
		if ev.Code != event.SynReport {
			return Frame{}, false
		}
		inProx := a.inProximity()
		frame := Frame{
			Events:        append([]types.Event(nil), a.pending...),
			X:             a.x,
			Y:             a.y,
			Moved:         a.moved,
			InProximity:   inProx,
			ProximityLeft: a.wasInProx && !inProx,
		}
		a.pending = a.pending[:0]
		a.moved = false
		a.wasInProx = inProx
		return frame, true
	}

	return Frame{}, false
}

func (a *FrameAssembler) inProximity() bool {
	for _, down := range a.tools {
		if down {
			return true
		}
	}
	return false
}

// WithPosition はフレームの ABS_X/ABS_Y を x, y に置き換えたイベント列を返す
// prevX, prevY は直前に出力した座標で、変化のない軸は出力しない
func (f Frame) WithPosition(x, y, prevX, prevY int32, hasPrev bool) []types.Event {
	out := make([]types.Event, 0, len(f.Events)+2)
	var syn types.Event
	for _, ev := range f.Events {
		if ev.Type == event.Abs && (ev.Code == event.AbsX || ev.Code == event.AbsY) {
			continue
		}
		if ev.Type == event.Syn && ev.Code == event.SynReport {
			syn = ev
			continue
		}
		out = append(out, ev)
	}
	if !hasPrev || x != prevX {
		out = append(out, types.Event{Sec: syn.Sec, Usec: syn.Usec, Type: event.Abs, Code: event.AbsX, Value: x})
	}
	if !hasPrev || y != prevY {
		out = append(out, types.Event{Sec: syn.Sec, Usec: syn.Usec, Type: event.Abs, Code: event.AbsY, Value: y})
	}
	return append(out, syn)
}
