package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvTelegramToken   = "EMPATHD_TELEGRAM_TOKEN"
	EnvSupportEndpoint = "EMPATHD_SUPPORT_ENDPOINT"
	EnvHTTPToken       = "EMPATHD_HTTP_TOKEN"
)

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays secrets and endpoints from the environment onto cfg.
func ApplyEnv(cfg *Config) { applyEnv(cfg, os.Getenv) }

func applyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvSupportEndpoint)); v != "" {
		cfg.Support.Endpoint = v
	}
	if v := strings.TrimSpace(getenv(EnvHTTPToken)); v != "" {
		cfg.HTTP.Token = v
	}
}
