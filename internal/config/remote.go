package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/safeurl"
	"github.com/snapetech/cmore/internal/upstream"
)

// Logical endpoint names in the configuration blob.
const (
	EndpointPage       = "pageAPI"
	EndpointSearch     = "bbSearchAPI"
	EndpointOperators  = "tveAPI"
	EndpointLogin      = "accountDelta"
	EndpointLoginTVE   = "accountJune"
	EndpointGraphQL    = "graphqlAPI"
	EndpointImageProxy = "imageProxy"
	EndpointDRMProxy   = "drmProxy"
)

// ErrEndpointMissing is returned when the blob has no usable URL for a name.
var ErrEndpointMissing = errors.New("config: endpoint missing")

// Provider is what the core needs from configuration: named endpoints and the locale.
type Provider interface {
	Endpoint(name string) (string, error)
	Locale() string
}

// Blob is one immutable snapshot of the service configuration.
type Blob struct {
	Version  string
	Locale   string
	Links    map[string]string
	Settings map[string]string
	raw      json.RawMessage
}

// Endpoint resolves name from links first, then from settings (drmProxy lives there).
func (b *Blob) Endpoint(name string) (string, error) {
	v := b.Links[name]
	if v == "" {
		v = b.Settings[name]
	}
	if v == "" || !safeurl.IsHTTPOrHTTPS(v) {
		return "", fmt.Errorf("%w: %s", ErrEndpointMissing, name)
	}
	return v, nil
}

// decodeBlob reads the {"data": {...}} document the configuration endpoint returns.
func decodeBlob(body []byte) (*Blob, error) {
	var doc struct {
		Data struct {
			Settings  map[string]json.RawMessage `json:"settings"`
			Bootstrap struct {
				SuggestedSite struct {
					Locale string `json:"locale"`
				} `json:"suggested_site"`
			} `json:"bootstrap"`
			Links map[string]string `json:"links"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("config blob: %w", err)
	}
	b := &Blob{
		Locale:   doc.Data.Bootstrap.SuggestedSite.Locale,
		Links:    doc.Data.Links,
		Settings: make(map[string]string, len(doc.Data.Settings)),
		raw:      append(json.RawMessage(nil), body...),
	}
	for k, v := range doc.Data.Settings {
		if s := scalar(v); s != "" {
			b.Settings[k] = s
		}
	}
	b.Version = b.Settings["currentAppVersion"]
	if b.Links == nil {
		b.Links = map[string]string{}
	}
	return b, nil
}

func scalar(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// versionNumber turns "3.14.1" into 3141, the way the service's own apps compare versions.
func versionNumber(v string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(v), ".", ""))
	if err != nil {
		return 0
	}
	return n
}

// stale reports whether b must be replaced: it is older than the version we
// need or was fetched for another locale.
func stale(b *Blob, wantVersion, locale string) bool {
	return versionNumber(wantVersion) > versionNumber(b.Version) || b.Locale != locale
}

// RemoteOptions configures a Remote.
type RemoteOptions struct {
	BaseURL    string
	Locale     string
	AppVersion string
	CachePath  string // "" disables the on-disk copy
	Device     string // defaults to android_tab
}

// Remote is the Config Provider: it serves endpoints from a cached blob and
// re-downloads the blob wholesale when it is stale. It never edits a blob.
type Remote struct {
	api    *upstream.Client
	opts   RemoteOptions
	logger zerolog.Logger

	mu   sync.RWMutex
	blob *Blob
}

// NewRemote returns a Remote. Call Load before using Endpoint.
func NewRemote(api *upstream.Client, opts RemoteOptions) *Remote {
	if opts.Device == "" {
		opts.Device = "android_tab"
	}
	if opts.AppVersion == "" {
		opts.AppVersion = DefaultAppVersion
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Remote{api: api, opts: opts, logger: xlog.WithComponent("config")}
}

// Load returns the current blob, reading the cache or downloading as needed.
func (r *Remote) Load(ctx context.Context) (*Blob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blob != nil && !stale(r.blob, r.opts.AppVersion, r.opts.Locale) {
		return r.blob, nil
	}
	if b, err := r.readCache(); err == nil && !stale(b, r.opts.AppVersion, r.opts.Locale) {
		r.blob = b
		return b, nil
	} else if err != nil && !os.IsNotExist(err) {
		r.logger.Warn().Err(err).Msg("ignoring unreadable configuration cache")
	}
	b, err := r.download(ctx)
	if err != nil {
		return nil, err
	}
	r.blob = b
	return b, nil
}

// Refresh drops the in-memory blob and reloads (cache or network).
func (r *Remote) Refresh(ctx context.Context) (*Blob, error) {
	r.mu.Lock()
	r.blob = nil
	r.mu.Unlock()
	return r.Load(ctx)
}

// SetLocale repoints r at locale and reloads. The previous blob stays in
// use if the reload fails.
func (r *Remote) SetLocale(ctx context.Context, locale string) (*Blob, error) {
	r.mu.Lock()
	prev, prevBlob := r.opts.Locale, r.blob
	r.opts.Locale = locale
	r.mu.Unlock()
	b, err := r.Refresh(ctx)
	if err != nil {
		r.mu.Lock()
		r.opts.Locale, r.blob = prev, prevBlob
		r.mu.Unlock()
		return nil, err
	}
	return b, nil
}

// Endpoint implements Provider.
func (r *Remote) Endpoint(name string) (string, error) {
	r.mu.RLock()
	b := r.blob
	r.mu.RUnlock()
	if b == nil {
		return "", fmt.Errorf("%w: %s (configuration not loaded)", ErrEndpointMissing, name)
	}
	return b.Endpoint(name)
}

// Locale implements Provider.
func (r *Remote) Locale() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts.Locale
}

func (r *Remote) readCache() (*Blob, error) {
	if r.opts.CachePath == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(r.opts.CachePath)
	if err != nil {
		return nil, err
	}
	return decodeBlob(data)
}

func (r *Remote) download(ctx context.Context) (*Blob, error) {
	body, err := r.api.Do(ctx, upstream.Request{
		Endpoint: "configuration",
		URL:      r.opts.BaseURL + "/configuration",
		Query:    url.Values{"device": {r.opts.Device}, "locale": {r.opts.Locale}},
	})
	if err != nil {
		return nil, fmt.Errorf("download configuration: %w", err)
	}
	b, err := decodeBlob(body)
	if err != nil {
		return nil, err
	}
	r.logger.Info().
		Str("version", b.Version).
		Str(xlog.FieldLocale, b.Locale).
		Int("links", len(b.Links)).
		Msg("downloaded configuration")
	if r.opts.CachePath != "" {
		if err := renameio.WriteFile(r.opts.CachePath, b.raw, 0o600); err != nil {
			r.logger.Warn().Err(err).Str("path", r.opts.CachePath).Msg("configuration cache not written")
		}
	}
	return b, nil
}

// Static is a fixed Provider for hosts that already know their endpoints (and for tests).
type Static struct {
	Links      map[string]string
	LocaleCode string
}

func (s Static) Endpoint(name string) (string, error) {
	v := s.Links[name]
	if v == "" || !safeurl.IsHTTPOrHTTPS(v) {
		return "", fmt.Errorf("%w: %s", ErrEndpointMissing, name)
	}
	return v, nil
}

func (s Static) Locale() string {
	return s.LocaleCode
}
