package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	os.Clearenv()
	c := Load()
	if c.Locale != "sv_SE" {
		t.Errorf("Locale = %q", c.Locale)
	}
	if c.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q", c.BaseURL)
	}
	if c.Client != "cmore-kodi" {
		t.Errorf("Client = %q", c.Client)
	}
	if c.HTTPTimeout != 30*time.Second {
		t.Errorf("HTTPTimeout = %v", c.HTTPTimeout)
	}
	if c.RateLimit != 5 {
		t.Errorf("RateLimit = %v", c.RateLimit)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_fromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("CMORE_LOCALE", "da_DK")
	os.Setenv("CMORE_BASE_URL", "http://bff.local/")
	os.Setenv("CMORE_USERNAME", "u")
	os.Setenv("CMORE_PASSWORD", "p")
	os.Setenv("CMORE_OPERATOR", "telia")
	os.Setenv("CMORE_IMAGE_PROXY_EXEMPT", "a.example, ,b.example")
	os.Setenv("CMORE_HTTP_TIMEOUT", "5s")
	os.Setenv("CMORE_RATE_LIMIT", "2.5")
	c := Load()
	if c.Locale != "da_DK" || c.BaseURL != "http://bff.local" {
		t.Errorf("locale/base = %q %q", c.Locale, c.BaseURL)
	}
	if c.Username != "u" || c.Password != "p" || c.Operator != "telia" {
		t.Errorf("credentials = %q %q %q", c.Username, c.Password, c.Operator)
	}
	if !reflect.DeepEqual(c.ImageProxyExempt, []string{"a.example", "b.example"}) {
		t.Errorf("ImageProxyExempt = %v", c.ImageProxyExempt)
	}
	if c.HTTPTimeout != 5*time.Second || c.RateLimit != 2.5 {
		t.Errorf("timeout/rate = %v %v", c.HTTPTimeout, c.RateLimit)
	}
}

func TestLoad_invalidNumbersFallBack(t *testing.T) {
	os.Clearenv()
	os.Setenv("CMORE_HTTP_TIMEOUT", "soon")
	os.Setenv("CMORE_RATE_LIMIT", "-3")
	c := Load()
	if c.HTTPTimeout != 30*time.Second {
		t.Errorf("HTTPTimeout = %v", c.HTTPTimeout)
	}
	if c.RateLimit != 5 {
		t.Errorf("RateLimit = %v", c.RateLimit)
	}
}

func TestValidate(t *testing.T) {
	os.Clearenv()
	c := Load()
	c.Locale = "en_US"
	if err := c.Validate(); err == nil {
		t.Error("unsupported region should fail")
	}
	c = Load()
	c.Username = "only-user"
	if err := c.Validate(); err == nil {
		t.Error("username without password should fail")
	}
}

func TestApplyFile(t *testing.T) {
	os.Clearenv()
	dir := t.TempDir()
	path := filepath.Join(dir, "cmore.yaml")
	data := `locale: nb_NO
http_timeout: 12s
image_proxy_exempt: [cdn.example]
credentials:
  username: viewer
  password: secret
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	c := Load()
	if err := c.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if c.Locale != "nb_NO" || c.HTTPTimeout != 12*time.Second {
		t.Errorf("locale/timeout = %q %v", c.Locale, c.HTTPTimeout)
	}
	if c.Username != "viewer" || c.Password != "secret" {
		t.Errorf("credentials = %q %q", c.Username, c.Password)
	}
	if len(c.ImageProxyExempt) != 1 || c.ImageProxyExempt[0] != "cdn.example" {
		t.Errorf("ImageProxyExempt = %v", c.ImageProxyExempt)
	}
	if c.BaseURL != DefaultBaseURL {
		t.Errorf("unset keys must keep env/default values; BaseURL = %q", c.BaseURL)
	}
}

func TestApplyFile_unknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmore.yaml")
	os.WriteFile(path, []byte("lcoale: sv_SE\n"), 0600)
	c := Load()
	if err := c.ApplyFile(path); err == nil {
		t.Error("typo'd key should be rejected")
	}
}

func TestParseLocale(t *testing.T) {
	tests := []struct {
		in      string
		want    Locale
		wantErr bool
	}{
		{"sv_SE", Locale{Tag: "sv_SE", Language: "sv", Region: "se"}, false},
		{"da-DK", Locale{Tag: "da_DK", Language: "da", Region: "dk"}, false},
		{"nb_NO", Locale{Tag: "nb_NO", Language: "nb", Region: "no"}, false},
		{"sv", Locale{}, true},
		{"en_US", Locale{}, true},
		{"", Locale{}, true},
	}
	for _, tt := range tests {
		got, err := ParseLocale(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLocale(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLocale(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if s := MustLocale("sv_SE").Site(); s != "cmore.se" {
		t.Errorf("Site() = %q", s)
	}
}
