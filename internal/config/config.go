package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/char5742/pen-deadzone/internal/filter"
)

// アプリケーション名（設定ディレクトリ名にも使う）
const appName = "pen-deadzone"

// Config はアプリケーション全体の設定を表す構造体
type Config struct {
	Filter  filter.Params `toml:"filter" yaml:"filter" json:"filter"`
	Device  DeviceConfig  `toml:"device" yaml:"device" json:"device"`
	API     APIConfig     `toml:"api" yaml:"api" json:"api"`
	Logging LoggingConfig `toml:"logging" yaml:"logging" json:"logging"`
}

// DeviceConfig は入力元のタブレットと出力先の仮想タブレットの設定
type DeviceConfig struct {
	PreferredTablet     string `toml:"preferred_tablet" yaml:"preferred_tablet" json:"preferred_tablet"`
	UinputPath          string `toml:"uinput_path" yaml:"uinput_path" json:"uinput_path"`
	VirtualName         string `toml:"virtual_name" yaml:"virtual_name" json:"virtual_name"`
	Grab                bool   `toml:"grab" yaml:"grab" json:"grab"`
	ResetOnProximityOut bool   `toml:"reset_on_proximity_out" yaml:"reset_on_proximity_out" json:"reset_on_proximity_out"`
}

// APIConfig はAPIサーバーとライブストリームの設定
// Host を空にはできない。全インターフェースで待ち受けるには 0.0.0.0 を明示する
type APIConfig struct {
	Host            string `toml:"host" yaml:"host" json:"host"`
	Port            int    `toml:"port" yaml:"port" json:"port"`
	StreamSendBuf   int    `toml:"stream_send_buf" yaml:"stream_send_buf" json:"stream_send_buf"`
	StreamBroadcast int    `toml:"stream_broadcast_buf" yaml:"stream_broadcast_buf" json:"stream_broadcast_buf"`
}

// LoggingConfig はログ出力の設定
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level" json:"level"`
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		Filter: filter.DefaultParams(),
		Device: DeviceConfig{
			PreferredTablet:     "",
			UinputPath:          "/dev/uinput",
			VirtualName:         "Pen Deadzone Virtual Tablet",
			Grab:                true,
			ResetOnProximityOut: true,
		},
		API: APIConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			StreamSendBuf:   256,
			StreamBroadcast: 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetDefaultConfigDir はデフォルトの設定ディレクトリを返す
func GetDefaultConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// DefaultConfigPath はデフォルトの設定ファイルパスを返す
func DefaultConfigPath() (string, error) {
	dir, err := GetDefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LoadConfig は設定ファイルから設定を読み込む
// ファイルがなければデフォルト設定を書き出して返す
func LoadConfig(configPath string) (*Config, error) {
	// ファイルが存在しない場合はデフォルト設定を保存して返す
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := SaveConfig(configPath, config); err != nil {
			return config, err
		}
		return config, nil
	}

	return ReadConfig(configPath)
}

// ReadConfig は既存の設定ファイルを読み込む
// 拡張子が .yaml/.yml なら YAML、それ以外は TOML として解釈する
func ReadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return config, fmt.Errorf("read config file: %w", err)
	}

	if isYAML(configPath) {
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		// 空のファイルはデフォルト設定として扱う
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return DefaultConfig(), fmt.Errorf("decode config yaml: %w", err)
		}
		return config, nil
	}

	md, err := toml.Decode(string(b), config)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("decode config toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return DefaultConfig(), fmt.Errorf("decode config toml: unknown key %q", undecoded[0].String())
	}
	return config, nil
}

// SaveConfig は設定をファイルに保存する
func SaveConfig(configPath string, config *Config) error {
	// 設定ディレクトリの作成
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	// ファイルを開く（なければ作成）
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(configPath) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(config); err != nil {
			return err
		}
		return enc.Close()
	}

	// TOML形式でエンコードして書き込み
	encoder := toml.NewEncoder(f)
	return encoder.Encode(config)
}

// Validate は設定値の整合性を確認する
// フィルターのパラメータはフィルター側で安全な値域に収めるためここでは確認しない
func (c *Config) Validate() error {
	if c.Device.UinputPath == "" {
		return errors.New("device.uinput_path must not be empty")
	}
	if c.Device.VirtualName == "" {
		return errors.New("device.virtual_name must not be empty")
	}
	if c.API.Host == "" {
		return errors.New("api.host must not be empty")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	if c.API.StreamSendBuf < 0 || c.API.StreamBroadcast < 0 {
		return errors.New("api stream buffers must be >= 0")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "error", "warn", "warning", "info", "debug":
	default:
		return fmt.Errorf("logging.level must be error, warn, info, or debug, got %q", c.Logging.Level)
	}
	return nil
}

// Clone は設定のコピーを返す
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// IsConfigFile は拡張子が設定ファイルとして扱える形式かどうかを返す
func IsConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".yaml", ".yml":
		return true
	}
	return false
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
