package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/drm"
	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/metrics"
	"github.com/snapetech/cmore/internal/safeurl"
	"github.com/snapetech/cmore/internal/session"
	"github.com/snapetech/cmore/internal/upstream"
)

// Protocol is the streaming format of a manifest.
type Protocol string

const (
	ProtocolDASH Protocol = "dash"
	ProtocolHLS  Protocol = "hls"
)

// ErrNoChallenge is returned by AcquireLicense when the player sent no challenge.
var ErrNoChallenge = errors.New("playback: empty license challenge")

// StreamDescriptor is what the external player consumes.
type StreamDescriptor struct {
	ManifestURL string       `json:"manifestUrl"`
	Protocol    Protocol     `json:"protocol"`
	DRMRequired bool         `json:"drmRequired"`
	License     *drm.License `json:"license,omitempty"`
}

// Options configures a Resolver.
type Options struct {
	API       *upstream.Client
	Config    config.Provider
	InitURL   string // playback bootstrap; defaults to config.DefaultPlaybackInitURL
	Exchanger *drm.Exchanger
	Session   *session.Manager // needed by Play only
}

// Resolver runs the playback handshake. It holds no per-request state.
type Resolver struct {
	api     *upstream.Client
	cfg     config.Provider
	initURL string
	drm     *drm.Exchanger
	session *session.Manager
	logger  zerolog.Logger
}

// New returns a Resolver.
func New(opts Options) *Resolver {
	if opts.InitURL == "" {
		opts.InitURL = config.DefaultPlaybackInitURL
	}
	if opts.Exchanger == nil {
		opts.Exchanger = drm.NewExchanger(opts.API, opts.Config)
	}
	return &Resolver{
		api:     opts.API,
		cfg:     opts.Config,
		initURL: opts.InitURL,
		drm:     opts.Exchanger,
		session: opts.Session,
		logger:  xlog.WithComponent("playback"),
	}
}

// bootstrap is the init document: where the playback API lives and which
// device/protocol/drm capabilities to ask it for.
type bootstrap struct {
	API      string `json:"envPlaybackApi"`
	Device   string `json:"envPlaybackDevice"`
	Protocol string `json:"envPlaybackProtocol"`
	DRM      string `json:"envPlaybackDrm"`
}

type playbackItem struct {
	Type        string `json:"type"`
	ManifestURL string `json:"manifestUrl"`
	License     *struct {
		Server string `json:"castlabsServer"`
		Token  string `json:"castlabsToken"`
	} `json:"license"`
}

// Resolve runs the handshake for videoID with an already valid token.
func (r *Resolver) Resolve(ctx context.Context, token, videoID string) (*StreamDescriptor, error) {
	req := newRequest(videoID)
	req.advance(TokenEnsured)
	desc, err := r.resolve(ctx, req, token)
	if err != nil {
		return nil, req.fail(err)
	}
	return desc, nil
}

func (r *Resolver) resolve(ctx context.Context, req *Request, token string) (*StreamDescriptor, error) {
	if strings.TrimSpace(req.VideoID) == "" {
		return nil, errors.New("playback: empty video id")
	}
	loc, err := config.ParseLocale(r.cfg.Locale())
	if err != nil {
		return nil, err
	}

	var initDoc struct {
		Config bootstrap `json:"config"`
	}
	if err := r.api.DoJSON(ctx, upstream.Request{
		Endpoint: "playback_init",
		URL:      r.initURL,
		Query:    url.Values{"domain": {loc.Site()}},
	}, &initDoc); err != nil {
		return nil, fmt.Errorf("playback init: %w", err)
	}
	boot := initDoc.Config
	if !safeurl.IsHTTPOrHTTPS(boot.API) {
		return nil, fmt.Errorf("playback init: no usable playback api (%q)", boot.API)
	}
	boot.API = strings.TrimRight(boot.API, "/")

	var asset struct {
		MediaURI string `json:"mediaUri"`
	}
	if err := r.api.DoJSON(ctx, upstream.Request{
		Endpoint: "playback_asset",
		URL:      boot.API + "/asset/" + url.PathEscape(req.VideoID),
		Query: url.Values{
			"service":  {loc.Site()},
			"device":   {boot.Device},
			"protocol": {boot.Protocol},
			"drm":      {boot.DRM},
		},
	}, &asset); err != nil {
		return nil, fmt.Errorf("playback asset %s: %w", req.VideoID, err)
	}
	if asset.MediaURI == "" {
		return nil, fmt.Errorf("playback asset %s: no media uri", req.VideoID)
	}
	req.advance(AssetLocated)

	var item struct {
		PlaybackItem playbackItem `json:"playbackItem"`
	}
	if err := r.api.DoJSON(ctx, upstream.Request{
		Endpoint: "playback_item",
		URL:      boot.API + asset.MediaURI,
		Header:   http.Header{"X-Jwt": {"Bearer " + token}},
	}, &item); err != nil {
		return nil, fmt.Errorf("playback item %s: %w", req.VideoID, err)
	}
	pi := item.PlaybackItem
	if pi.ManifestURL == "" {
		return nil, fmt.Errorf("playback item %s: no manifest url", req.VideoID)
	}
	desc := &StreamDescriptor{ManifestURL: pi.ManifestURL, Protocol: ProtocolDASH}
	if strings.EqualFold(pi.Type, "hls") {
		desc.Protocol = ProtocolHLS
	}
	if pi.License != nil {
		desc.DRMRequired = true
		desc.License = &drm.License{Server: pi.License.Server, AuthToken: pi.License.Token}
	}
	req.advance(ManifestResolved)

	if desc.DRMRequired && desc.Protocol == ProtocolDASH {
		kid, err := r.drm.FetchKeyID(ctx, desc.ManifestURL)
		if err != nil {
			return nil, err
		}
		desc.License.KeyID = kid
	}
	return desc, nil
}

// AcquireLicense trades challenge for a license blob and stores it on desc.
func (r *Resolver) AcquireLicense(ctx context.Context, desc *StreamDescriptor, token string, challenge []byte) error {
	if desc == nil || !desc.DRMRequired || desc.License == nil {
		return errors.New("playback: stream is not protected")
	}
	if len(challenge) == 0 {
		return ErrNoChallenge
	}
	blob, err := r.drm.Exchange(ctx, challenge, desc.License.KeyID, token)
	if err != nil {
		return err
	}
	desc.License.Blob = blob
	return nil
}

// Play runs a whole play request: token, handshake, then the license step.
// A protected stream without a challenge ends in LicenseAcquired carrying the
// license server parameters only; the player performs the exchange itself.
// A not-authenticated failure gets exactly one re-login and a fresh attempt.
func (r *Resolver) Play(ctx context.Context, videoID string, challenge []byte) (*Request, *StreamDescriptor, error) {
	if r.session == nil {
		return nil, nil, errors.New("playback: no session manager")
	}
	req := newRequest(videoID)
	var desc *StreamDescriptor
	err := session.Retry(ctx, r.session, func(token string) error {
		if req.State != Idle {
			req = newRequest(videoID)
		}
		req.advance(TokenEnsured)
		d, err := r.resolve(ctx, req, token)
		if err != nil {
			return err
		}
		if d.DRMRequired {
			if len(challenge) > 0 {
				if err := r.AcquireLicense(ctx, d, token, challenge); err != nil {
					return err
				}
			}
			req.advance(LicenseAcquired)
		} else {
			req.advance(NoDrmNeeded)
		}
		req.advance(Ready)
		desc = d
		return nil
	})
	protocol := ""
	if err != nil {
		req.fail(err)
		r.logger.Warn().Err(err).Str(xlog.FieldVideoID, videoID).Msg("playback failed")
	} else {
		protocol = string(desc.Protocol)
		r.logger.Info().
			Str(xlog.FieldVideoID, videoID).
			Str("protocol", protocol).
			Bool("drm", desc.DRMRequired).
			Msg("playback ready")
	}
	metrics.IncPlayback(string(req.State), protocol)
	if err != nil {
		return req, nil, err
	}
	return req, desc, nil
}
