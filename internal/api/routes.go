package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/char5742/pen-deadzone/internal/config"
	"github.com/char5742/pen-deadzone/internal/features"
	"github.com/char5742/pen-deadzone/internal/filter"
)

// ルートの設定
func (s *Server) setupRoutes(router *http.ServeMux) {
	// 設定関連のエンドポイント
	router.HandleFunc("GET /api/config", s.handleGetConfig)
	router.HandleFunc("PUT /api/config", s.handleUpdateConfig)
	router.HandleFunc("POST /api/config/save", s.handleSaveConfig)

	// フィルターパラメータ
	router.HandleFunc("GET /api/filter", s.handleGetFilter)
	router.HandleFunc("PUT /api/filter", s.handleUpdateFilter)

	// デバイス関連のエンドポイント
	router.HandleFunc("GET /api/devices", s.handleGetDevices)
	router.HandleFunc("PUT /api/devices/preferred", s.handleSetPreferredDevice)

	// サービス関連のエンドポイント
	router.HandleFunc("POST /api/service/start", s.handleStartService)
	router.HandleFunc("POST /api/service/stop", s.handleStopService)
	router.HandleFunc("GET /api/service/status", s.handleServiceStatus)

	// ライブストリーム
	if s.hub != nil {
		router.HandleFunc("GET /api/stream", s.hub.ServeWS)
	}

	// ヘルスチェック用エンドポイント
	router.HandleFunc("GET /api/health", s.handleHealthCheck)
}

// 設定取得ハンドラ
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.GetConfig())
}

// 設定更新ハンドラ
// 省略された項目は現在の値のまま
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	newConfig := s.GetConfig()

	if err := json.NewDecoder(r.Body).Decode(newConfig); err != nil {
		writeError(w, http.StatusBadRequest, "設定の解析に失敗しました")
		return
	}
	if err := newConfig.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.UpdateConfig(newConfig)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// errSavePathNotAllowed は指定された保存先に書き込めない場合のエラー
var errSavePathNotAllowed = errors.New("保存先は設定ディレクトリ直下の .toml / .yaml ファイルを絶対パスで指定してください")

// saveDirs は設定の保存を許可するディレクトリ
// 起動時の設定ファイルのディレクトリとデフォルトの設定ディレクトリ
func (s *Server) saveDirs() []string {
	var dirs []string
	if s.configPath != "" {
		if abs, err := filepath.Abs(s.configPath); err == nil {
			dirs = append(dirs, filepath.Dir(abs))
		}
	}
	if dir, err := config.GetDefaultConfigDir(); err == nil {
		dirs = append(dirs, filepath.Clean(dir))
	}
	return dirs
}

// resolveSavePath はリクエストで指定された保存先が許可されたディレクトリ内か確認する
func (s *Server) resolveSavePath(requested string) (string, error) {
	if !filepath.IsAbs(requested) || !config.IsConfigFile(requested) {
		return "", errSavePathNotAllowed
	}
	p := filepath.Clean(requested)
	for _, dir := range s.saveDirs() {
		if filepath.Dir(p) == dir {
			return p, nil
		}
	}
	return "", errSavePathNotAllowed
}

// 設定保存ハンドラ
func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var saveRequest struct {
		Path string `json:"path"`
	}

	// ボディは省略できる
	if err := json.NewDecoder(r.Body).Decode(&saveRequest); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "リクエストの解析に失敗しました")
		return
	}

	configPath := s.configPath
	if saveRequest.Path != "" {
		p, err := s.resolveSavePath(saveRequest.Path)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		configPath = p
	}
	if configPath == "" {
		// デフォルトパスを使用
		p, err := config.DefaultConfigPath()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "デフォルト設定ディレクトリの取得に失敗しました")
			return
		}
		configPath = p
	}

	if err := config.SaveConfig(configPath, s.GetConfig()); err != nil {
		writeError(w, http.StatusInternalServerError, "設定の保存に失敗しました: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"path":   configPath,
	})
}

type filterResponse struct {
	// 設定された値
	Params filter.Params `json:"params"`
	// 実際に使われる値
	Effective filter.Params `json:"effective"`
}

// フィルターパラメータ取得ハンドラ
func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	p := s.GetConfig().Filter
	writeJSON(w, http.StatusOK, filterResponse{Params: p, Effective: p.Clamped()})
}

// フィルターパラメータ更新ハンドラ
// 範囲外の値はエラーにせず、フィルター側で安全な値に丸める
func (s *Server) handleUpdateFilter(w http.ResponseWriter, r *http.Request) {
	cfg := s.GetConfig()

	if err := json.NewDecoder(r.Body).Decode(&cfg.Filter); err != nil {
		writeError(w, http.StatusBadRequest, "パラメータの解析に失敗しました")
		return
	}

	s.UpdateConfig(cfg)
	writeJSON(w, http.StatusOK, filterResponse{Params: cfg.Filter, Effective: cfg.Filter.Clamped()})
}

// デバイス一覧取得ハンドラ
func (s *Server) handleGetDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.service.ScanDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "デバイス一覧の取得に失敗しました: "+err.Error())
		return
	}
	if devices == nil {
		devices = []features.Device{}
	}

	writeJSON(w, http.StatusOK, devices)
}

// 優先デバイス設定ハンドラ
func (s *Server) handleSetPreferredDevice(w http.ResponseWriter, r *http.Request) {
	var request struct {
		TabletDevice string `json:"tablet_device"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "リクエストの解析に失敗しました")
		return
	}

	cfg := s.GetConfig()
	cfg.Device.PreferredTablet = request.TabletDevice
	s.UpdateConfig(cfg)

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// サービス起動ハンドラ
func (s *Server) handleStartService(w http.ResponseWriter, r *http.Request) {
	err := s.service.Start()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
	case errors.Is(err, ErrAlreadyRunning):
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_running"})
	case errors.Is(err, ErrNoTabletDevice):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("サービスの起動に失敗しました: %v", err))
	}
}

// サービス停止ハンドラ
func (s *Server) handleStopService(w http.ResponseWriter, r *http.Request) {
	err := s.service.Stop()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	case errors.Is(err, ErrNotRunning):
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_running"})
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("サービスの停止に失敗しました: %v", err))
	}
}

// サービス状態取得ハンドラ
func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	st := s.service.Status()
	status := "stopped"
	if st.Running {
		status = "running"
	}

	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, struct {
		Status        string `json:"status"`
		StreamClients int    `json:"stream_clients"`
		ServiceStatus
	}{status, clients, st})
}

// ヘルスチェックハンドラ
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
