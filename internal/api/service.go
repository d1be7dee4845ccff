package api

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/char5742/pen-deadzone/internal/config"
	"github.com/char5742/pen-deadzone/internal/event"
	"github.com/char5742/pen-deadzone/internal/features"
	"github.com/char5742/pen-deadzone/internal/filter"
	"github.com/char5742/pen-deadzone/internal/types"
)

var (
	ErrAlreadyRunning = errors.New("サービスは既に実行中です")
	ErrNotRunning     = errors.New("サービスは実行されていません")
	ErrNoTabletDevice = errors.New("ペンタブレットが見つかりませんでした")
)

// 仮想タブレットに写す任意の軸
var optionalAxes = []uint16{
	event.AbsPressure,
	event.AbsDistance,
	event.AbsTiltX,
	event.AbsTiltY,
}

// Publisher はフィルター結果の配信先
type Publisher interface {
	Publish(msgType string, at time.Time, data any) bool
}

// StreamSample はライブストリームに流す1サンプル分の結果
type StreamSample struct {
	Raw           filter.Vector2 `json:"raw"`
	Filtered      filter.Vector2 `json:"filtered"`
	OutX          int32          `json:"out_x"`
	OutY          int32          `json:"out_y"`
	Radius        float64        `json:"radius"`
	SmoothedSpeed float64        `json:"smoothed_speed"`
	Shaped        float64        `json:"shaped"`
	Held          bool           `json:"held"`
}

// ServiceStatus はサービスの状態と統計
type ServiceStatus struct {
	Running bool             `json:"running"`
	Device  *features.Device `json:"device,omitempty"`
	Frames  uint64           `json:"frames"`
	Samples uint64           `json:"samples"`
	Held    uint64           `json:"held"`
	Dropped uint64           `json:"stream_dropped"`
	Params  filter.Params    `json:"params"`
}

type serviceStats struct {
	frames  atomic.Uint64
	samples atomic.Uint64
	held    atomic.Uint64
	dropped atomic.Uint64
}

// FilterService はペンタブレットの入力にフィルターをかけて仮想タブレットへ出力するサービス
type FilterService struct {
	cfg       *config.Config
	logger    *slog.Logger
	publisher Publisher
	clock     filter.Clock

	openPen     func(path string) (features.Pen, error)
	openTablet  func(path string, name []byte, spec features.TabletSpec) (features.Tablet, error)
	scanDevices func(exclude ...string) ([]features.Device, error)

	statusMutex  sync.RWMutex
	running      bool
	stopChan     chan struct{}
	done         chan struct{}
	pen          features.Pen
	device       *features.Device
	updateConfig chan *config.Config

	stats serviceStats
}

// NewFilterService は新しいフィルターサービスを作成する
// publisher は nil でもよい
func NewFilterService(cfg *config.Config, logger *slog.Logger, publisher Publisher) *FilterService {
	return &FilterService{
		cfg:          cfg,
		logger:       logger,
		publisher:    publisher,
		clock:        filter.SystemClock{},
		openPen:      features.CreatePen,
		openTablet:   features.CreateTablet,
		scanDevices:  features.ScanDevices,
		updateConfig: make(chan *config.Config, 1),
	}
}

// ScanDevices は利用できるペンタブレットを返す。自分の仮想タブレットは除く
func (s *FilterService) ScanDevices() ([]features.Device, error) {
	return s.scanDevices(s.currentConfig().Device.VirtualName)
}

func (s *FilterService) currentConfig() *config.Config {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.cfg
}

// Start はフィルターサービスを開始する
func (s *FilterService) Start() error {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	cfg := s.cfg

	devices, err := s.scanDevices(cfg.Device.VirtualName)
	if err != nil {
		return fmt.Errorf("デバイス一覧の取得に失敗しました: %w", err)
	}
	dev := features.SelectDevice(devices, cfg.Device.PreferredTablet)
	if dev == nil {
		return ErrNoTabletDevice
	}
	if cfg.Device.PreferredTablet != "" && dev.Name != cfg.Device.PreferredTablet {
		s.logger.Warn("preferred tablet not found, using first tablet", "preferred", cfg.Device.PreferredTablet, "device", dev.Name)
	}

	pen, err := s.openPen(dev.Path)
	if err != nil {
		return fmt.Errorf("ペンデバイスのオープンに失敗しました[path=%s]: %w", dev.Path, err)
	}

	spec, err := readTabletSpec(pen)
	if err != nil {
		pen.Close()
		return err
	}

	tablet, err := s.openTablet(cfg.Device.UinputPath, []byte(cfg.Device.VirtualName), spec)
	if err != nil {
		pen.Close()
		return fmt.Errorf("仮想タブレットの作成に失敗しました: %w", err)
	}

	if cfg.Device.Grab {
		if err := pen.Grab(); err != nil {
			tablet.Close()
			pen.Close()
			return err
		}
	}

	s.logger.Info("filter service started",
		"device", dev.Name,
		"path", dev.Path,
		"x_max", spec.Axes[event.AbsX].Maximum,
		"y_max", spec.Axes[event.AbsY].Maximum,
		"grab", cfg.Device.Grab,
	)

	// 起動時にペンがかざされていればその状態から始める
	tools, err := pen.ActiveTools()
	if err != nil {
		s.logger.Debug("could not read tool state", "error", err)
	}

	p := &pipeline{
		filter:      filter.New(cfg.Filter, s.clock),
		assembler:   features.NewFrameAssembler(spec.Axes[event.AbsX].Value, spec.Axes[event.AbsY].Value, tools...),
		tablet:      tablet,
		xAxis:       spec.Axes[event.AbsX],
		yAxis:       spec.Axes[event.AbsY],
		resetOnProx: cfg.Device.ResetOnProximityOut,
		publisher:   s.publisher,
		stats:       &s.stats,
	}

	// 停止中に溜まった古い設定は捨てる
	select {
	case <-s.updateConfig:
	default:
	}

	d := *dev
	s.device = &d
	s.pen = pen
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.runFilterLoop(pen, p, s.stopChan, s.done)

	return nil
}

// readTabletSpec はペンの軸情報を読み取る。X/Y は必須
func readTabletSpec(pen features.Pen) (features.TabletSpec, error) {
	spec := features.TabletSpec{
		Axes:   make(map[uint16]types.AbsInfo),
		Direct: pen.Direct(),
	}
	for _, code := range []uint16{event.AbsX, event.AbsY} {
		info, err := pen.AbsInfo(code)
		if err != nil {
			return spec, err
		}
		if info.Maximum <= info.Minimum {
			return spec, fmt.Errorf("invalid range for axis %#x: [%d, %d]", code, info.Minimum, info.Maximum)
		}
		spec.Axes[code] = info
	}
	for _, code := range optionalAxes {
		info, err := pen.AbsInfo(code)
		if err != nil || info.Maximum <= info.Minimum {
			continue
		}
		spec.Axes[code] = info
	}
	return spec, nil
}

// Stop はフィルターサービスを停止し、ループの終了を待つ
func (s *FilterService) Stop() error {
	s.statusMutex.Lock()
	if !s.running {
		s.statusMutex.Unlock()
		return ErrNotRunning
	}
	s.running = false
	stop, done, pen := s.stopChan, s.done, s.pen
	s.statusMutex.Unlock()

	close(stop)
	// 読み込み中の ReadEvent を抜けさせる
	_ = pen.Close()
	<-done
	return nil
}

// UpdateConfig は設定を更新する
// 実行中であれば次のイベントを処理する前に反映される
func (s *FilterService) UpdateConfig(cfg *config.Config) {
	s.statusMutex.Lock()
	s.cfg = cfg
	s.statusMutex.Unlock()

	select {
	case s.updateConfig <- cfg:
	default:
		// 古い設定を破棄して新しい設定を送信
		select {
		case <-s.updateConfig:
		default:
		}
		s.updateConfig <- cfg
	}
}

// IsRunning はサービスが実行中かどうかを返す
func (s *FilterService) IsRunning() bool {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.running
}

// Status はサービスの状態と統計を返す
func (s *FilterService) Status() ServiceStatus {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()

	st := ServiceStatus{
		Running: s.running,
		Frames:  s.stats.frames.Load(),
		Samples: s.stats.samples.Load(),
		Held:    s.stats.held.Load(),
		Dropped: s.stats.dropped.Load(),
		Params:  s.cfg.Filter.Clamped(),
	}
	if s.running {
		st.Device = s.device
	}
	return st
}

// runFilterLoop はフィルターのメインループ
func (s *FilterService) runFilterLoop(pen features.Pen, p *pipeline, stop, done chan struct{}) {
	defer close(done)
	defer p.tablet.Close()

	events := make(chan types.Event, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			ev, err := pen.ReadEvent()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case events <- ev:
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-stop:
			s.logger.Info("filter service stopped")
			return

		case cfg := <-s.updateConfig:
			p.apply(cfg)
			s.logger.Info("filter params updated", "params", cfg.Filter.Clamped())

		case err := <-readErr:
			select {
			case <-stop:
				s.logger.Info("filter service stopped")
				return
			default:
			}
			s.logger.Error("pen read failed, stopping filter service", "error", err)
			s.abort(done, pen)
			return

		case ev := <-events:
			if err := p.handle(ev); err != nil {
				s.logger.Warn("virtual tablet write failed", "error", err)
			}
		}
	}
}

// abort はデバイスの取り外しなどでループが自ら終了したときに状態を戻す
func (s *FilterService) abort(done chan struct{}, pen features.Pen) {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()
	if s.done == done && s.running {
		s.running = false
		_ = pen.Close()
	}
}

// pipeline はイベント列をフレームにまとめてフィルターをかけ、仮想タブレットに書き出す
type pipeline struct {
	filter    *filter.Filter
	assembler *features.FrameAssembler
	tablet    features.Tablet

	xAxis, yAxis types.AbsInfo
	// 仮想タブレットに最後に出力した座標
	lastX, lastY int32
	hasLast      bool

	resetOnProx bool
	publisher   Publisher
	stats       *serviceStats
}

func (p *pipeline) apply(cfg *config.Config) {
	p.filter.SetParams(cfg.Filter)
	p.resetOnProx = cfg.Device.ResetOnProximityOut
}

func (p *pipeline) handle(ev types.Event) error {
	frame, ok := p.assembler.Push(ev)
	if !ok {
		return nil
	}
	p.stats.frames.Add(1)

	var out []types.Event
	if frame.Moved && frame.InProximity {
		out = p.filterFrame(frame)
	} else {
		out = frame.Events
		if frame.Moved {
			p.lastX, p.lastY, p.hasLast = frame.X, frame.Y, true
		}
	}

	if frame.ProximityLeft && p.resetOnProx {
		p.filter.Reset()
	}

	// SYN_REPORT だけのフレームは書かない
	if len(out) <= 1 {
		return nil
	}
	return p.tablet.WriteEvents(out)
}

func (p *pipeline) filterFrame(frame features.Frame) []types.Event {
	raw := filter.Vector2{X: float64(frame.X), Y: float64(frame.Y)}
	filtered := p.filter.Process(raw)
	step := p.filter.LastStep()

	x := p.xAxis.Clamp(roundToInt32(filtered.X))
	y := p.yAxis.Clamp(roundToInt32(filtered.Y))
	out := frame.WithPosition(x, y, p.lastX, p.lastY, p.hasLast)
	p.lastX, p.lastY, p.hasLast = x, y, true

	p.stats.samples.Add(1)
	if step.Held {
		p.stats.held.Add(1)
	}

	if p.publisher != nil {
		sample := StreamSample{
			Raw:           raw,
			Filtered:      filtered,
			OutX:          x,
			OutY:          y,
			Radius:        step.Radius,
			SmoothedSpeed: step.SmoothedSpeed,
			Shaped:        step.Shaped,
			Held:          step.Held,
		}
		if !p.publisher.Publish("sample", time.Now(), sample) {
			p.stats.dropped.Add(1)
		}
	}
	return out
}

func roundToInt32(v float64) int32 {
	r := math.Round(v)
	if r > math.MaxInt32 {
		return math.MaxInt32
	}
	if r < math.MinInt32 {
		return math.MinInt32
	}
	return int32(r)
}
