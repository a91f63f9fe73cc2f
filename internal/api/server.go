// Package api is the HTTP facade over the cmore core. It is a host surface:
// it owns no catalog state and forwards every request to the session,
// indexer and playback packages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snapetech/cmore/internal/catalog"
	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/drm"
	"github.com/snapetech/cmore/internal/health"
	"github.com/snapetech/cmore/internal/indexer"
	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/metrics"
	"github.com/snapetech/cmore/internal/playback"
	"github.com/snapetech/cmore/internal/session"
	"github.com/snapetech/cmore/internal/upstream"
)

const maxChallengeBytes = 64 << 10

// LocaleSwitcher repoints the host's configuration and session at loc and
// returns a normalizer built for it.
type LocaleSwitcher func(ctx context.Context, loc config.Locale) (*indexer.Normalizer, error)

// Options wires a Server.
type Options struct {
	Session      *session.Manager
	Indexer      *indexer.Normalizer
	Playback     *playback.Resolver
	Config       config.Provider
	SwitchLocale LocaleSwitcher // nil disables PUT /locale
}

// Server serves the facade routes.
type Server struct {
	sess     *session.Manager
	play     *playback.Resolver
	cfg      config.Provider
	switcher LocaleSwitcher
	logger   zerolog.Logger

	mu  sync.RWMutex
	idx *indexer.Normalizer
}

// New returns a Server.
func New(opts Options) *Server {
	return &Server{
		sess:     opts.Session,
		idx:      opts.Indexer,
		play:     opts.Playback,
		cfg:      opts.Config,
		switcher: opts.SwitchLocale,
		logger:   xlog.WithComponent("api"),
	}
}

func (s *Server) normalizer() *indexer.Normalizer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/pages", s.handleRootPages)
	r.Get("/pages/{id}", s.handlePage)
	r.Get("/assets", s.handleAssets)
	r.Get("/search", s.handleSearch)
	r.Get("/channels", s.handleChannels)
	r.Get("/series/{brand}/episodes", s.handleEpisodes)
	r.Get("/operators", s.handleOperators)
	r.Get("/session", s.handleSession)
	r.Put("/locale/{locale}", s.handleLocale)
	r.Get("/play/{video}", s.handlePlay)
	r.Post("/play/{video}/license", s.handleLicense)
	return r
}

// observe logs and measures each request by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
		s.logger.Debug().
			Str(xlog.FieldRequestID, middleware.GetReqID(r.Context())).
			Str(xlog.FieldMethod, r.Method).
			Str("route", route).
			Int(xlog.FieldStatus, status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := health.CheckEndpoints(r.Context(), s.cfg)
	status := http.StatusOK
	if health.FirstError(results) != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"locale": s.cfg.Locale(), "endpoints": results})
}

func (s *Server) handleRootPages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, indexer.RootPages(s.cfg.Locale()))
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	root, _ := strconv.ParseBool(q.Get("root"))
	var page *indexer.Page
	err := s.withToken(r.Context(), func(token string) error {
		var err error
		page, err = s.normalizer().NormalizePage(r.Context(), token, chi.URLParam(r, "id"), q.Get("namespace"), root)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        page.ID,
		"namespace": page.Namespace,
		"shape":     page.Shape,
		"nodes":     catalog.Tag(page.Nodes),
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := catalog.AssetQuery{
		VideoIDs: splitList(q.Get("video_ids")),
		BrandIDs: splitList(q.Get("brand_ids")),
		Type:     q.Get("type"),
		SortBy:   q.Get("sort_by"),
	}
	if query.Empty() {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "video_ids or brand_ids is required")
		return
	}
	s.respondGroup(w, r, func(token string) (*catalog.AssetGroup, error) {
		return s.normalizer().Expand(r.Context(), token, "assets", q.Get("label"), query)
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.respondGroup(w, r, func(token string) (*catalog.AssetGroup, error) {
		return s.normalizer().NormalizeSearch(r.Context(), token, r.URL.Query().Get("q"))
	})
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	season := 0
	if v := r.URL.Query().Get("season"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "season must be a non-negative integer")
			return
		}
		season = n
	}
	s.respondGroup(w, r, func(token string) (*catalog.AssetGroup, error) {
		return s.normalizer().Episodes(r.Context(), token, chi.URLParam(r, "brand"), season)
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	var nodes []catalog.Node
	err := s.withToken(r.Context(), func(token string) error {
		var err error
		nodes, err = s.normalizer().Channels(r.Context(), token)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog.Tag(nodes))
}

func (s *Server) handleOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := s.sess.ListProviders(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

type sessionView struct {
	Locale        string `json:"locale"`
	ProviderID    string `json:"providerId,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	cur := s.sess.Current()
	writeJSON(w, http.StatusOK, sessionView{Locale: cur.Locale, ProviderID: cur.ProviderID, Authenticated: cur.Token != ""})
}

// handleLocale switches the whole core to another locale. The session is
// dropped and the next catalog request logs in again.
func (s *Server) handleLocale(w http.ResponseWriter, r *http.Request) {
	if s.switcher == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_supported", "locale switching is not enabled")
		return
	}
	loc, err := config.ParseLocale(chi.URLParam(r, "locale"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.switcher(r.Context(), loc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.idx = idx
	s.logger.Info().Str(xlog.FieldLocale, loc.Tag).Msg("facade locale switched")
	s.handleSession(w, r)
}

type playResponse struct {
	Request        *playback.Request          `json:"request"`
	Stream         *playback.StreamDescriptor `json:"stream,omitempty"`
	InputstreamKey string                     `json:"inputstreamKey,omitempty"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	req, desc, err := s.play.Play(r.Context(), chi.URLParam(r, "video"), nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := playResponse{Request: req, Stream: desc}
	if desc.License != nil {
		resp.InputstreamKey = desc.License.InputstreamKey()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLicense takes the raw challenge as the request body and answers with
// the raw license.
func (s *Server) handleLicense(w http.ResponseWriter, r *http.Request) {
	challenge, err := io.ReadAll(io.LimitReader(r.Body, maxChallengeBytes))
	if err != nil || len(challenge) == 0 {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "license challenge body is required")
		return
	}
	_, desc, err := s.play.Play(r.Context(), chi.URLParam(r, "video"), challenge)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if desc.License == nil || len(desc.License.Blob) == 0 {
		writeJSONError(w, http.StatusConflict, "not_protected", "stream needs no license")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(desc.License.Blob)
}

func (s *Server) withToken(ctx context.Context, fn func(token string) error) error {
	return session.Retry(ctx, s.sess, fn)
}

func (s *Server) respondGroup(w http.ResponseWriter, r *http.Request, fn func(token string) (*catalog.AssetGroup, error)) {
	var group *catalog.AssetGroup
	err := s.withToken(r.Context(), func(token string) error {
		var err error
		group, err = fn(token)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// statusFor maps the core's error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	var (
		authErr      *upstream.AuthError
		providerErr  *upstream.ProviderError
		transportErr *upstream.TransportError
		manifestErr  *drm.ManifestParseError
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, string(authErr.Kind)
	case errors.Is(err, indexer.ErrEmptyQuery), errors.Is(err, playback.ErrNoChallenge):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, indexer.ErrUnrecognizedPageShape):
		return http.StatusBadGateway, "unrecognized_page_shape"
	case errors.Is(err, drm.ErrKeyIDNotFound):
		return http.StatusBadGateway, "key_id_not_found"
	case errors.As(err, &manifestErr):
		return http.StatusBadGateway, "manifest_parse_error"
	case errors.As(err, &providerErr):
		if providerErr.Status == http.StatusNotFound {
			return http.StatusNotFound, "not_found"
		}
		return http.StatusBadGateway, "provider_error"
	case errors.As(err, &transportErr):
		return http.StatusGatewayTimeout, "transport_error"
	case errors.Is(err, config.ErrEndpointMissing):
		return http.StatusServiceUnavailable, "endpoint_missing"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status >= 500 {
		s.logger.Warn().Err(err).Int(xlog.FieldStatus, status).Msg("request failed")
	}
	writeJSONError(w, status, kind, err.Error())
}

func writeJSONError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"kind": kind, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
