package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/sync/errgroup"

	"github.com/char5742/pen-deadzone/internal/api"
	"github.com/char5742/pen-deadzone/internal/config"
	"github.com/char5742/pen-deadzone/internal/logging"
	"github.com/char5742/pen-deadzone/internal/replay"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "replay" {
		os.Exit(runReplay(os.Args[2:], os.Stdin, os.Stdout, os.Stderr))
	}

	// コマンドライン引数の解析
	useApi := flag.Bool("api", false, "APIサーバーモードで起動します")
	configPath := flag.String("config", "", "設定ファイルのパス (指定しない場合はデフォルトパスを使用)")
	port := flag.Int("port", 0, "APIサーバーのポート番号 (指定しない場合は設定ファイルの値)")
	openBrowser := flag.Bool("open", false, "起動後にブラウザでサービス状態を開きます (APIモードのみ)")
	logLevel := flag.String("log-level", "", "ログレベル: error, warn, info, debug (指定しない場合は設定ファイルの値)")
	showVersion := flag.Bool("version", false, "バージョンを表示して終了します")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfgPath := resolveConfigPath(*configPath)
	cfg, loadErr := loadConfig(cfgPath)

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	slogLevel, err := logging.ParseLevel(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(slogLevel, os.Stdout)
	slog.SetDefault(logger)

	if loadErr != nil {
		logger.Warn("設定ファイルの読み込みに失敗しました。デフォルト設定を使用します", "path", cfgPath, "error", loadErr)
	} else if cfgPath != "" {
		logger.Info("設定ファイルを読み込みました", "path", cfgPath)
	}
	if *port > 0 {
		cfg.API.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cfgPath, *useApi, *openBrowser, logger); err != nil {
		logger.Error("終了します", "error", err)
		os.Exit(1)
	}
}

func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	p, err := config.DefaultConfigPath()
	if err != nil {
		return ""
	}
	return p
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return config.DefaultConfig(), err
	}
	if err := cfg.Validate(); err != nil {
		return config.DefaultConfig(), err
	}
	return cfg, nil
}

// run はサービスとAPIサーバー、設定の監視を ctx がキャンセルされるまで動かす
func run(ctx context.Context, cfg *config.Config, cfgPath string, useApi, openBrowser bool, logger *slog.Logger) error {
	hub := api.NewHub(logger, api.HubConfig{
		SendBuf:      cfg.API.StreamSendBuf,
		BroadcastBuf: cfg.API.StreamBroadcast,
	})
	service := api.NewFilterService(cfg, logger, hub)

	var server *api.Server
	if useApi {
		server = api.NewServer(cfg, cfgPath, service, hub, logger)
	} else {
		// CLIモードではすぐにフィルターを開始する
		if err := service.Start(); err != nil {
			return fmt.Errorf("フィルターサービスの起動に失敗しました: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if cfgPath != "" {
		watcher, err := config.NewWatcher(cfgPath, logger)
		if err != nil {
			logger.Warn("設定ファイルの監視を開始できませんでした", "path", cfgPath, "error", err)
		} else {
			g.Go(func() error { return watcher.Run(ctx) })
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case newCfg := <-watcher.Updates():
						if server != nil {
							server.UpdateConfig(newCfg)
						} else {
							service.UpdateConfig(newCfg)
						}
					}
				}
			})
		}
	}

	if server != nil {
		g.Go(server.Start)
		if openBrowser {
			go func() {
				// サーバーが listen するまで少し待つ
				time.Sleep(300 * time.Millisecond)
				if err := browser.OpenURL(server.URL() + "/api/service/status"); err != nil {
					logger.Warn("ブラウザを開けませんでした", "error", err)
				}
			}()
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("シャットダウンします...")

		var errs []error
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs = append(errs, server.Stop(shutdownCtx))
		}
		if err := service.Stop(); err != nil && !errors.Is(err, api.ErrNotRunning) {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// runReplay は replay サブコマンドを実行し、終了コードを返す
func runReplay(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "-", "入力CSV (t_ms,x,y)。- は標準入力")
	out := fs.String("out", "-", "出力CSV。- は標準出力")
	configPath := fs.String("config", "", "フィルターパラメータを読む設定ファイル (指定しない場合はデフォルト値)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		c, err := config.ReadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "設定ファイルの読み込みに失敗しました: %v\n", err)
			return 1
		}
		cfg = c
	}

	r := stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			fmt.Fprintf(stderr, "入力ファイルを開けませんでした: %v\n", err)
			return 1
		}
		defer f.Close()
		r = f
	}

	w := stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(stderr, "出力ファイルを作成できませんでした: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}

	n, err := replay.Run(r, w, cfg.Filter)
	if err != nil {
		fmt.Fprintf(stderr, "リプレイに失敗しました: %v\n", err)
		return 1
	}
	if *out != "-" {
		fmt.Fprintf(stderr, "%d サンプルを書き出しました: %s\n", n, *out)
	}
	return 0
}
