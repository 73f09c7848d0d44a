package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/zsiec/mjpegview/internal/session"
	"github.com/zsiec/mjpegview/internal/stream"
	"github.com/zsiec/mjpegview/internal/transport"
)

const defaultEndpoint = "wss://rtsp-backend.onrender.com/ws/stream/"

type config struct {
	APIAddr        string
	WebDir         string
	Endpoint       string
	MaxPending     int
	MaxMessageSize int
	RecordDir      string
	CertHash       string
	SRTStreamID    string
	Viewers        []stream.Spec
}

func defaultConfig() config {
	return config{
		APIAddr:        ":8080",
		Endpoint:       defaultEndpoint,
		MaxPending:     session.DefaultMaxPending,
		MaxMessageSize: transport.DefaultMaxMessageSize,
	}
}

type fileConfig struct {
	Server struct {
		APIAddr        string `toml:"api_addr"`
		WebDir         string `toml:"web_dir"`
		Endpoint       string `toml:"endpoint"`
		MaxPending     int    `toml:"max_pending"`
		MaxMessageSize int    `toml:"max_message_size"`
		RecordDir      string `toml:"record_dir"`
		CertHash       string `toml:"cert_hash"`
		SRTStreamID    string `toml:"srt_stream_id"`
	} `toml:"server"`
	Viewers []stream.Spec `toml:"viewer"`
}

// loadConfigFile overlays the keys present in the TOML file at path onto cfg.
func loadConfigFile(path string, cfg config) (config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	s := raw.Server
	if meta.IsDefined("server", "api_addr") {
		cfg.APIAddr = strings.TrimSpace(s.APIAddr)
	}
	if meta.IsDefined("server", "web_dir") {
		cfg.WebDir = strings.TrimSpace(s.WebDir)
	}
	if meta.IsDefined("server", "endpoint") {
		cfg.Endpoint = strings.TrimSpace(s.Endpoint)
	}
	if meta.IsDefined("server", "max_pending") {
		cfg.MaxPending = s.MaxPending
	}
	if meta.IsDefined("server", "max_message_size") {
		cfg.MaxMessageSize = s.MaxMessageSize
	}
	if meta.IsDefined("server", "record_dir") {
		cfg.RecordDir = strings.TrimSpace(s.RecordDir)
	}
	if meta.IsDefined("server", "cert_hash") {
		cfg.CertHash = strings.TrimSpace(s.CertHash)
	}
	if meta.IsDefined("server", "srt_stream_id") {
		cfg.SRTStreamID = strings.TrimSpace(s.SRTStreamID)
	}
	if meta.IsDefined("viewer") {
		cfg.Viewers = append(cfg.Viewers, raw.Viewers...)
	}
	return cfg, nil
}

// applyEnv lets environment variables override file and default values.
func applyEnv(cfg config) (config, error) {
	cfg.APIAddr = envOr("API_ADDR", cfg.APIAddr)
	cfg.WebDir = envOr("WEB_DIR", cfg.WebDir)
	cfg.Endpoint = envOr("MJPEG_ENDPOINT", cfg.Endpoint)
	cfg.RecordDir = envOr("RECORD_DIR", cfg.RecordDir)
	cfg.CertHash = envOr("MJPEG_CERT_HASH", cfg.CertHash)
	cfg.SRTStreamID = envOr("MJPEG_SRT_STREAM_ID", cfg.SRTStreamID)

	var err error
	if cfg.MaxPending, err = envInt("MJPEG_MAX_PENDING", cfg.MaxPending); err != nil {
		return config{}, err
	}
	if cfg.MaxMessageSize, err = envInt("MJPEG_MAX_MESSAGE_SIZE", cfg.MaxMessageSize); err != nil {
		return config{}, err
	}
	if u := strings.TrimSpace(os.Getenv("MJPEG_URL")); u != "" {
		cfg.Viewers = append(cfg.Viewers, stream.Spec{Key: envOr("MJPEG_KEY", "default"), URL: u})
	}
	return cfg, nil
}

func loadConfig() (config, error) {
	cfg := defaultConfig()
	if path := os.Getenv("MJPEG_CONFIG"); path != "" {
		var err error
		if cfg, err = loadConfigFile(path, cfg); err != nil {
			return config{}, err
		}
	}
	return applyEnv(cfg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
