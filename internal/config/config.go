package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL         = "https://cmore-mobile-bff.b17g.services"
	DefaultPlaybackInitURL = "https://bonnier-player-android-prod.b17g.net/init"
	DefaultAppVersion      = "3.14.1"
	DefaultClient          = "cmore-kodi"
	DefaultLocale          = "sv_SE"
)

// Config holds the host-side settings: where the service lives, which locale
// to request and the stored credentials. The service's own endpoint map comes
// from the remote configuration blob (see Remote), not from here.
type Config struct {
	// Service
	Locale          string // sv_SE | da_DK | nb_NO
	BaseURL         string // configuration bootstrap host
	PlaybackInitURL string // playback bootstrap (init) URL
	AppVersion      string // minimum remote config version we understand
	Client          string // client id sent as ?client=

	// Stored credentials (Credential/Settings boundary). Operator set = operator login.
	Username string
	Password string
	Operator string

	// Paths
	ConfigCachePath string // cached remote configuration blob
	SettingsDB      string // sqlite credential/token store; "" = env-only credentials

	// Artwork hosts that reject the image proxy; URLs on them are used as-is.
	ImageProxyExempt []string

	// Transport
	HTTPTimeout time.Duration
	RateLimit   float64 // requests per second to the service

	// Host surfaces
	Listen   string // serve address
	LogLevel string
}

// Load reads config from environment. Call LoadEnvFile(".env") before Load() to use a .env file,
// and ApplyFile afterwards to overlay a YAML file.
func Load() *Config {
	c := &Config{
		Locale:           getEnv("CMORE_LOCALE", DefaultLocale),
		BaseURL:          getEnv("CMORE_BASE_URL", DefaultBaseURL),
		PlaybackInitURL:  getEnv("CMORE_PLAYBACK_INIT_URL", DefaultPlaybackInitURL),
		AppVersion:       getEnv("CMORE_APP_VERSION", DefaultAppVersion),
		Client:           getEnv("CMORE_CLIENT", DefaultClient),
		Username:         os.Getenv("CMORE_USERNAME"),
		Password:         os.Getenv("CMORE_PASSWORD"),
		Operator:         os.Getenv("CMORE_OPERATOR"),
		ConfigCachePath:  getEnv("CMORE_CONFIG_CACHE", "./configuration.json"),
		SettingsDB:       os.Getenv("CMORE_SETTINGS_DB"),
		ImageProxyExempt: getEnvList("CMORE_IMAGE_PROXY_EXEMPT"),
		HTTPTimeout:      getEnvDuration("CMORE_HTTP_TIMEOUT", 30*time.Second),
		RateLimit:        getEnvFloat("CMORE_RATE_LIMIT", 5),
		Listen:           getEnv("CMORE_LISTEN", "127.0.0.1:8089"),
		LogLevel:         os.Getenv("CMORE_LOG_LEVEL"),
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 5
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Validate rejects configs the core cannot run with.
func (c *Config) Validate() error {
	if _, err := ParseLocale(c.Locale); err != nil {
		return err
	}
	if c.BaseURL == "" {
		return fmt.Errorf("config: base URL is empty")
	}
	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("config: username and password must be set together")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated env var, dropping blanks.
func getEnvList(key string) []string {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
