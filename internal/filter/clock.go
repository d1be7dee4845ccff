package filter

import (
	"sync"
	"time"
)

// Clock はフィルターが経過時間を計算するための時刻源
//
// 返す時刻は単調増加であることが前提。壁時計（システム時刻）は
// NTP補正などで飛ぶことがあるため使わない。
type Clock interface {
	Now() time.Time
}

// SystemClock は time.Now() を返す
// time.Now() の戻り値にはモノトニック時計の読みが含まれ、Sub はそちらを使う
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock はテストやリプレイ用の手動で進める時計
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock は start を現在時刻とする時計を作成する
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set は現在時刻を t に設定する
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance は現在時刻を d だけ進める
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
