package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape accepted by ApplyFile. Only set keys override.
type fileConfig struct {
	Locale           string   `yaml:"locale"`
	BaseURL          string   `yaml:"base_url"`
	PlaybackInitURL  string   `yaml:"playback_init_url"`
	AppVersion       string   `yaml:"app_version"`
	Client           string   `yaml:"client"`
	ConfigCachePath  string   `yaml:"config_cache"`
	SettingsDB       string   `yaml:"settings_db"`
	ImageProxyExempt []string `yaml:"image_proxy_exempt"`
	HTTPTimeout      string   `yaml:"http_timeout"`
	RateLimit        float64  `yaml:"rate_limit"`
	Listen           string   `yaml:"listen"`
	LogLevel         string   `yaml:"log_level"`
	Credentials      struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Operator string `yaml:"operator"`
	} `yaml:"credentials"`
}

// ApplyFile overlays the YAML file at path onto c. Unknown keys are rejected so
// typos surface instead of silently falling back to defaults.
func (c *Config) ApplyFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var fc fileConfig
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	setString(&c.Locale, fc.Locale)
	setString(&c.BaseURL, fc.BaseURL)
	setString(&c.PlaybackInitURL, fc.PlaybackInitURL)
	setString(&c.AppVersion, fc.AppVersion)
	setString(&c.Client, fc.Client)
	setString(&c.ConfigCachePath, fc.ConfigCachePath)
	setString(&c.SettingsDB, fc.SettingsDB)
	setString(&c.Listen, fc.Listen)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.Username, fc.Credentials.Username)
	setString(&c.Password, fc.Credentials.Password)
	setString(&c.Operator, fc.Credentials.Operator)
	if len(fc.ImageProxyExempt) > 0 {
		c.ImageProxyExempt = fc.ImageProxyExempt
	}
	if fc.HTTPTimeout != "" {
		d, err := time.ParseDuration(fc.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("config file %s: http_timeout: %w", path, err)
		}
		c.HTTPTimeout = d
	}
	if fc.RateLimit > 0 {
		c.RateLimit = fc.RateLimit
	}
	c.applyDefaults()
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
