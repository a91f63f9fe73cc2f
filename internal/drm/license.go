package drm

import (
	"context"
	"fmt"
	"strings"

	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/safeurl"
	"github.com/snapetech/cmore/internal/upstream"
)

// License is what the player needs to decrypt one stream.
type License struct {
	Blob      []byte `json:"-"`         // license payload, once acquired
	Server    string `json:"server"`    // license server named by the playback item
	AuthToken string `json:"authToken"` // token for Server
	KeyID     string `json:"keyId,omitempty"`
}

// InputstreamKey renders the license-key property used by inputstream-style
// players: server|headers|R{SSM}|.
func (l *License) InputstreamKey() string {
	headers := strings.Join([]string{"Content-Type=", "x-dt-auth-token=" + l.AuthToken}, "&")
	return fmt.Sprintf("%s|%s|%s|", l.Server, headers, "R{SSM}")
}

// Exchanger talks to the manifest host and the license proxy.
type Exchanger struct {
	api *upstream.Client
	cfg config.Provider
}

// NewExchanger returns an Exchanger. The license proxy comes from cfg (drmProxy).
func NewExchanger(api *upstream.Client, cfg config.Provider) *Exchanger {
	return &Exchanger{api: api, cfg: cfg}
}

// FetchKeyID downloads the manifest at manifestURL and extracts its key id.
func (e *Exchanger) FetchKeyID(ctx context.Context, manifestURL string) (string, error) {
	if !safeurl.IsHTTPOrHTTPS(manifestURL) {
		return "", &ManifestParseError{Err: fmt.Errorf("manifest URL %q is not http(s)", manifestURL)}
	}
	body, err := e.api.Do(ctx, upstream.Request{Endpoint: "manifest", URL: manifestURL})
	if err != nil {
		return "", fmt.Errorf("fetch manifest: %w", err)
	}
	return KeyID(body)
}

type licenseRequest struct {
	DRMInfo []int  `json:"drm_info"`
	KID     string `json:"kid"`
	Token   string `json:"token"`
}

// Exchange posts challenge to the license proxy and returns the license.
// The challenge goes out as a JSON array of byte values, not base64.
func (e *Exchanger) Exchange(ctx context.Context, challenge []byte, kid, token string) ([]byte, error) {
	proxy, err := e.cfg.Endpoint(config.EndpointDRMProxy)
	if err != nil {
		return nil, err
	}
	info := make([]int, len(challenge))
	for i, b := range challenge {
		info[i] = int(b)
	}
	body, err := e.api.Do(ctx, upstream.Request{
		Endpoint: "license",
		Method:   "POST",
		URL:      proxy,
		Body:     licenseRequest{DRMInfo: info, KID: kid, Token: token},
	})
	if err != nil {
		return nil, fmt.Errorf("license exchange: %w", err)
	}
	return body, nil
}
