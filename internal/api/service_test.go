package api

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/char5742/pen-deadzone/internal/config"
	"github.com/char5742/pen-deadzone/internal/event"
	"github.com/char5742/pen-deadzone/internal/features"
	"github.com/char5742/pen-deadzone/internal/filter"
	"github.com/char5742/pen-deadzone/internal/logging"
	"github.com/char5742/pen-deadzone/internal/types"
)

type fakePen struct {
	events    chan types.Event
	axes      map[uint16]types.AbsInfo
	closed    chan struct{}
	closeOnce sync.Once
	grabbed   atomic.Bool
	tools     []uint16
}

func newFakePen() *fakePen {
	return &fakePen{
		events: make(chan types.Event, 64),
		axes: map[uint16]types.AbsInfo{
			event.AbsX:        {Value: 1000, Maximum: 1023},
			event.AbsY:        {Value: 500, Maximum: 767},
			event.AbsPressure: {Maximum: 2047},
		},
		closed: make(chan struct{}),
	}
}

func (p *fakePen) ReadEvent() (types.Event, error) {
	select {
	case ev := <-p.events:
		return ev, nil
	case <-p.closed:
		return types.Event{}, os.ErrClosed
	}
}

func (p *fakePen) AbsInfo(code uint16) (types.AbsInfo, error) {
	info, ok := p.axes[code]
	if !ok {
		return info, errors.New("no such axis")
	}
	return info, nil
}

func (p *fakePen) Direct() bool                   { return false }
func (p *fakePen) ActiveTools() ([]uint16, error) { return p.tools, nil }
func (p *fakePen) Grab() error                    { p.grabbed.Store(true); return nil }
func (p *fakePen) Release() error                 { p.grabbed.Store(false); return nil }

func (p *fakePen) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePen) send(events ...types.Event) {
	for _, ev := range events {
		p.events <- ev
	}
}

type fakeTablet struct {
	mu     sync.Mutex
	writes [][]types.Event
	spec   features.TabletSpec
	closed bool
}

func (t *fakeTablet) WriteEvents(events []types.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, append([]types.Event(nil), events...))
	return nil
}

func (t *fakeTablet) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTablet) Writes() [][]types.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]types.Event(nil), t.writes...)
}

func (t *fakeTablet) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakePublisher struct {
	mu      sync.Mutex
	samples []StreamSample
}

func (p *fakePublisher) Publish(msgType string, at time.Time, data any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := data.(StreamSample); ok && msgType == "sample" {
		p.samples = append(p.samples, s)
	}
	return true
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples)
}

func absEv(code uint16, v int32) types.Event {
	return types.Event{Type: event.Abs, Code: code, Value: v}
}

func keyEv(code uint16, v int32) types.Event {
	return types.Event{Type: event.Key, Code: code, Value: v}
}

func synEv() types.Event {
	return types.Event{Type: event.Syn, Code: event.SynReport}
}

// findAbs はイベント列から指定軸の値を探す
func findAbs(events []types.Event, code uint16) (int32, bool) {
	for _, ev := range events {
		if ev.Type == event.Abs && ev.Code == code {
			return ev.Value, true
		}
	}
	return 0, false
}

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestPipeline(params filter.Params, clock filter.Clock) (*pipeline, *fakeTablet, *fakePublisher) {
	tablet := &fakeTablet{}
	pub := &fakePublisher{}
	p := &pipeline{
		filter:      filter.New(params, clock),
		assembler:   features.NewFrameAssembler(1000, 500),
		tablet:      tablet,
		xAxis:       types.AbsInfo{Maximum: 1023},
		yAxis:       types.AbsInfo{Maximum: 767},
		resetOnProx: true,
		publisher:   pub,
		stats:       &serviceStats{},
	}
	return p, tablet, pub
}

func handleAll(t *testing.T, p *pipeline, events ...types.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, p.handle(ev))
	}
}

func TestPipeline_HoldsJitterAndFollowsMovement(t *testing.T) {
	clock := filter.NewManualClock(testStart)
	p, tablet, pub := newTestPipeline(filter.DefaultParams(), clock)

	// 初回はそのまま通す
	handleAll(t, p, keyEv(event.BtnToolPen, 1), absEv(event.AbsX, 1000), absEv(event.AbsY, 500), synEv())
	require.Len(t, tablet.Writes(), 1)
	x, ok := findAbs(tablet.Writes()[0], event.AbsX)
	require.True(t, ok)
	assert.Equal(t, int32(1000), x)

	// 低速の1単位の揺れはデッドゾーン内なので何も書かない
	clock.Advance(100 * time.Millisecond)
	handleAll(t, p, absEv(event.AbsX, 1001), synEv())
	assert.Len(t, tablet.Writes(), 1)
	assert.True(t, p.filter.LastStep().Held)

	// 速い動きはデッドゾーンを超えて追従する
	// speed = 49/10ms, smoothed = 0.3*4.9 + 0.7*0.003 = 1.4721, out = 1000 + 50*0.14721
	clock.Advance(10 * time.Millisecond)
	handleAll(t, p, absEv(event.AbsX, 1050), synEv())
	writes := tablet.Writes()
	require.Len(t, writes, 2)
	x, ok = findAbs(writes[1], event.AbsX)
	require.True(t, ok)
	assert.Equal(t, int32(1007), x)
	_, ok = findAbs(writes[1], event.AbsY)
	assert.False(t, ok, "unchanged Y must not be re-sent")

	assert.Equal(t, uint64(3), p.stats.samples.Load())
	assert.Equal(t, uint64(1), p.stats.held.Load())
	assert.Equal(t, 3, pub.count())
}

func TestPipeline_NonPositionFramesPassThrough(t *testing.T) {
	clock := filter.NewManualClock(testStart)
	p, tablet, _ := newTestPipeline(filter.DefaultParams(), clock)

	handleAll(t, p, keyEv(event.BtnToolPen, 1), absEv(event.AbsX, 1000), absEv(event.AbsY, 500), synEv())
	handleAll(t, p, absEv(event.AbsPressure, 512), synEv())

	writes := tablet.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, []types.Event{absEv(event.AbsPressure, 512), synEv()}, writes[1])
	assert.Equal(t, uint64(1), p.stats.samples.Load())
}

func TestPipeline_HeldFrameKeepsOtherAxes(t *testing.T) {
	clock := filter.NewManualClock(testStart)
	p, tablet, _ := newTestPipeline(filter.DefaultParams(), clock)

	handleAll(t, p, keyEv(event.BtnToolPen, 1), absEv(event.AbsX, 1000), absEv(event.AbsY, 500), synEv())
	clock.Advance(100 * time.Millisecond)
	handleAll(t, p, absEv(event.AbsX, 1001), absEv(event.AbsPressure, 100), synEv())

	writes := tablet.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, []types.Event{absEv(event.AbsPressure, 100), synEv()}, writes[1])
}

func TestPipeline_ProximityOutResetsFilter(t *testing.T) {
	clock := filter.NewManualClock(testStart)
	p, tablet, _ := newTestPipeline(filter.DefaultParams(), clock)

	handleAll(t, p, keyEv(event.BtnToolPen, 1), absEv(event.AbsX, 1000), absEv(event.AbsY, 500), synEv())
	require.True(t, p.filter.State().Initialized)

	handleAll(t, p, keyEv(event.BtnToolPen, 0), synEv())
	assert.False(t, p.filter.State().Initialized)
	assert.Len(t, tablet.Writes(), 2)

	// 近接に戻った最初のサンプルは離れた位置でもそのまま通る
	clock.Advance(time.Second)
	handleAll(t, p, keyEv(event.BtnToolPen, 1), absEv(event.AbsX, 10), absEv(event.AbsY, 20), synEv())
	writes := tablet.Writes()
	x, _ := findAbs(writes[len(writes)-1], event.AbsX)
	y, _ := findAbs(writes[len(writes)-1], event.AbsY)
	assert.Equal(t, int32(10), x)
	assert.Equal(t, int32(20), y)
}

func TestPipeline_ProximityOutWithoutReset(t *testing.T) {
	clock := filter.NewManualClock(testStart)
	p, _, _ := newTestPipeline(filter.DefaultParams(), clock)
	cfg := config.DefaultConfig()
	cfg.Device.ResetOnProximityOut = false
	p.apply(cfg)

	handleAll(t, p, keyEv(event.BtnToolPen, 1), absEv(event.AbsX, 1000), absEv(event.AbsY, 500), synEv())
	handleAll(t, p, keyEv(event.BtnToolPen, 0), synEv())
	assert.True(t, p.filter.State().Initialized)
}

func TestPipeline_OutputIsClampedToAxis(t *testing.T) {
	clock := filter.NewManualClock(testStart)
	params := filter.DefaultParams()
	params.SpeedSmoothAlpha = 1
	params.MinSmoothFactor = 1
	params.PredictionStrength = 2
	p, tablet, _ := newTestPipeline(params, clock)

	handleAll(t, p, keyEv(event.BtnToolPen, 1), absEv(event.AbsX, 1000), absEv(event.AbsY, 500), synEv())
	// 先読みで 1020 + 2*2*10 = 1060 になるが軸の最大値で止まる
	clock.Advance(10 * time.Millisecond)
	handleAll(t, p, absEv(event.AbsX, 1020), synEv())

	writes := tablet.Writes()
	require.Len(t, writes, 2)
	x, ok := findAbs(writes[1], event.AbsX)
	require.True(t, ok)
	assert.Equal(t, int32(1023), x)
}

func TestPipeline_ApplyUpdatesParams(t *testing.T) {
	p, _, _ := newTestPipeline(filter.DefaultParams(), filter.NewManualClock(testStart))

	cfg := config.DefaultConfig()
	cfg.Filter.MaxDeadZone = 0
	p.apply(cfg)

	assert.Equal(t, 0.0, p.filter.Params().MaxDeadZone)
}

func newTestService(t *testing.T, pen *fakePen, devices []features.Device) (*FilterService, *fakeTablet) {
	t.Helper()
	tablet := &fakeTablet{}
	s := NewFilterService(config.DefaultConfig(), logging.Discard(), &fakePublisher{})
	s.clock = filter.NewManualClock(testStart)
	s.scanDevices = func(exclude ...string) ([]features.Device, error) {
		return devices, nil
	}
	s.openPen = func(path string) (features.Pen, error) {
		return pen, nil
	}
	s.openTablet = func(path string, name []byte, spec features.TabletSpec) (features.Tablet, error) {
		tablet.spec = spec
		return tablet, nil
	}
	t.Cleanup(func() {
		if s.IsRunning() {
			_ = s.Stop()
		}
	})
	return s, tablet
}

var testDevices = []features.Device{
	{Name: "Test Pen", Path: "/dev/input/event5", Type: features.DeviceTypeTablet},
}

func TestFilterService_StartWithoutTablet(t *testing.T) {
	s, _ := newTestService(t, newFakePen(), nil)

	err := s.Start()
	assert.ErrorIs(t, err, ErrNoTabletDevice)
	assert.False(t, s.IsRunning())
}

func TestFilterService_StartStop(t *testing.T) {
	pen := newFakePen()
	s, tablet := newTestService(t, pen, testDevices)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.True(t, pen.grabbed.Load())
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)

	// 筆圧軸は写し、存在しない傾き軸は写さない
	assert.Contains(t, tablet.spec.Axes, uint16(event.AbsPressure))
	assert.NotContains(t, tablet.spec.Axes, uint16(event.AbsTiltX))

	status := s.Status()
	require.NotNil(t, status.Device)
	assert.Equal(t, "Test Pen", status.Device.Name)

	pen.send(keyEv(event.BtnToolPen, 1), absEv(event.AbsX, 1000), absEv(event.AbsY, 500), synEv())
	waitUntil(t, time.Second, func() bool { return len(tablet.Writes()) == 1 }, "frame not written")

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.True(t, tablet.isClosed())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
	assert.Equal(t, uint64(1), s.Status().Samples)
}

func TestFilterService_StartsWithPenInProximity(t *testing.T) {
	pen := newFakePen()
	pen.tools = []uint16{event.BtnToolPen}
	s, tablet := newTestService(t, pen, testDevices)
	require.NoError(t, s.Start())

	// BTN_TOOL_PEN が届かなくても最初の移動からフィルターを通す
	pen.send(absEv(event.AbsX, 1001), synEv())
	waitUntil(t, time.Second, func() bool { return s.Status().Samples == 1 }, "sample not filtered")
	waitUntil(t, time.Second, func() bool { return len(tablet.Writes()) == 1 }, "frame not written")
}

func TestFilterService_StopsWhenDeviceDisappears(t *testing.T) {
	pen := newFakePen()
	s, tablet := newTestService(t, pen, testDevices)

	require.NoError(t, s.Start())
	_ = pen.Close()

	waitUntil(t, time.Second, func() bool { return !s.IsRunning() }, "service did not stop")
	waitUntil(t, time.Second, tablet.isClosed, "tablet not closed")
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
}

func TestFilterService_UpdateConfig(t *testing.T) {
	pen := newFakePen()
	s, _ := newTestService(t, pen, testDevices)

	cfg := config.DefaultConfig()
	cfg.Filter.MaxDeadZone = 50
	s.UpdateConfig(cfg)

	// 状態にはクランプ後の値が出る
	assert.Equal(t, 20.0, s.Status().Params.MaxDeadZone)

	require.NoError(t, s.Start())
	cfg2 := cfg.Clone()
	cfg2.Filter.Curve = 2
	s.UpdateConfig(cfg2)
	assert.Equal(t, 2.0, s.Status().Params.Curve)
}

func TestFilterService_RespectsGrabSetting(t *testing.T) {
	pen := newFakePen()
	s, _ := newTestService(t, pen, testDevices)
	cfg := config.DefaultConfig()
	cfg.Device.Grab = false
	s.UpdateConfig(cfg)

	require.NoError(t, s.Start())
	assert.False(t, pen.grabbed.Load())
}

func TestReadTabletSpec_RequiresXY(t *testing.T) {
	pen := newFakePen()
	delete(pen.axes, event.AbsY)

	_, err := readTabletSpec(pen)
	assert.Error(t, err)

	pen = newFakePen()
	pen.axes[event.AbsX] = types.AbsInfo{Minimum: 0, Maximum: 0}
	_, err = readTabletSpec(pen)
	assert.ErrorContains(t, err, "invalid range")
}
