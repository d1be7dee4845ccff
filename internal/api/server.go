package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/char5742/pen-deadzone/internal/config"
)

// Server はAPIサーバーを表す構造体
type Server struct {
	server     *http.Server
	cfg        *config.Config
	configPath string
	mutex      sync.RWMutex
	host       string
	port       int

	service *FilterService
	hub     *Hub
	logger  *slog.Logger
}

// NewServer は新しいAPIサーバーを作成する
// configPath は POST /api/config/save でパスが省略されたときの保存先
func NewServer(cfg *config.Config, configPath string, service *FilterService, hub *Hub, logger *slog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		host:       cfg.API.Host,
		port:       cfg.API.Port,
		service:    service,
		hub:        hub,
		logger:     logger,
	}
}

// Handler はAPIのルーティングを設定したハンドラを返す
func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()
	s.setupRoutes(router)
	return router
}

// Start はAPIサーバーを開始する。Stop されるまで戻らない
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.host, strconv.Itoa(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mutex.Lock()
	s.server = srv
	s.mutex.Unlock()

	s.logger.Info("api server starting", "url", s.URL())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop はAPIサーバーを停止する
func (s *Server) Stop(ctx context.Context) error {
	s.mutex.RLock()
	srv := s.server
	s.mutex.RUnlock()

	if srv != nil {
		s.logger.Info("api server stopping")
		return srv.Shutdown(ctx)
	}
	return nil
}

// URL はAPIサーバーのベースURLを返す
func (s *Server) URL() string {
	host := s.host
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.port))
}

// GetConfig は現在の設定のコピーを返す
func (s *Server) GetConfig() *config.Config {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.cfg.Clone()
}

// UpdateConfig は設定を更新し、実行中のサービスにも反映する
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mutex.Lock()
	s.cfg = cfg
	s.mutex.Unlock()

	if s.service != nil {
		s.service.UpdateConfig(cfg)
	}
}

// writeJSON はJSONレスポンスを書き込む
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Warn("json encode failed", "error", err)
		}
	}
}

// writeError はエラーレスポンスを書き込む
func writeError(w http.ResponseWriter, status int, message string) {
	response := map[string]string{"error": message}
	writeJSON(w, status, response)
}
