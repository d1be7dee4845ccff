package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay はエディタの連続書き込みをまとめるための待ち時間
const reloadDelay = 100 * time.Millisecond

// Watcher は設定ファイルの変更を監視し、読み直した設定を通知する
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan *Config
	logger  *slog.Logger
}

// NewWatcher は path の設定ファイルを監視する Watcher を作成する
// エディタはファイルを置き換えて保存することがあるため、親ディレクトリを監視する
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	return &Watcher{
		path:    abs,
		watcher: watcher,
		updates: make(chan *Config, 1),
		logger:  logger,
	}, nil
}

// Updates は読み直した設定が届くチャネルを返す
// 受信側が遅れた場合は古い設定を捨てて最新の設定だけを残す
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Run は ctx がキャンセルされるまで監視を続ける
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				reload = time.After(reloadDelay)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-reload:
			reload = nil
			cfg, err := ReadConfig(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping current config", "path", w.path, "error", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				w.logger.Warn("reloaded config is invalid, keeping current config", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			w.publish(cfg)
		}
	}
}

func (w *Watcher) publish(cfg *Config) {
	select {
	case w.updates <- cfg:
	default:
		select {
		case <-w.updates:
		default:
		}
		w.updates <- cfg
	}
}
