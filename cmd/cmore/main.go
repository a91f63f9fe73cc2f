// Command cmore: browse the C More catalog and resolve streams from a terminal.
//
//	pages      List the root pages for the locale
//	page       Normalize one page (-id, -namespace, -root)
//	expand     Look up assets by id (-videos, -brands, -sort)
//	search     Free-text search over movies and series (-q)
//	episodes   Episodes of a series (-brand, -season)
//	channels   Live channels with what is airing now
//	operators  TV operators that can log in for the locale
//	login      Log in and cache the session token (-username, -password, -operator)
//	play       Resolve a video to a manifest and license parameters (-video, -challenge)
//	check      Check that the configured service endpoints answer
//	serve      Run the HTTP facade (-listen)
//
// Output is JSON on stdout; logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/cmore/internal/api"
	"github.com/snapetech/cmore/internal/catalog"
	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/health"
	"github.com/snapetech/cmore/internal/httpclient"
	"github.com/snapetech/cmore/internal/indexer"
	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/playback"
	"github.com/snapetech/cmore/internal/session"
	"github.com/snapetech/cmore/internal/settings"
	"github.com/snapetech/cmore/internal/upstream"
)

const usage = "Usage: %s <pages|page|expand|search|episodes|channels|operators|login|play|check|serve> [flags]\n"

// common holds the flags every subcommand takes.
type common struct {
	configFile string
	locale     string
	logLevel   string
	pretty     bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "YAML config file overlaid on CMORE_* env")
	fs.StringVar(&c.locale, "locale", "", "Locale (sv_SE, da_DK, nb_NO); default CMORE_LOCALE")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level; default CMORE_LOG_LEVEL or info")
	fs.BoolVar(&c.pretty, "pretty", false, "Human-readable logs")
}

// app is the wired core for one process.
type app struct {
	cfg      *config.Config
	up       *upstream.Client
	remote   *config.Remote
	store    *settings.Store // nil without CMORE_SETTINGS_DB
	session  *session.Manager
	indexer  *indexer.Normalizer
	playback *playback.Resolver
}

func newApp(ctx context.Context, c common) (*app, error) {
	for _, p := range []string{".env", "../.env"} {
		if err := config.LoadEnvFile(p); err != nil {
			return nil, err
		}
	}
	cfg := config.Load()
	if c.configFile != "" {
		if err := cfg.ApplyFile(c.configFile); err != nil {
			return nil, err
		}
	}
	if c.locale != "" {
		cfg.Locale = c.locale
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Pretty: c.pretty})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc := config.MustLocale(cfg.Locale)
	cfg.Locale = loc.Tag

	up := upstream.New(upstream.Options{
		HTTPClient: httpclient.WithTimeout(cfg.HTTPTimeout),
		RateLimit:  rate.Limit(cfg.RateLimit),
	})
	remote := config.NewRemote(up, config.RemoteOptions{
		BaseURL:    cfg.BaseURL,
		Locale:     cfg.Locale,
		AppVersion: cfg.AppVersion,
		CachePath:  cfg.ConfigCachePath,
	})
	if _, err := remote.Load(ctx); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, up: up, remote: remote}
	envCreds := session.Credentials{Username: cfg.Username, Password: cfg.Password, ProviderID: cfg.Operator}
	opts := session.Options{API: up, Config: remote, Client: cfg.Client}
	if cfg.SettingsDB != "" {
		store, err := settings.Open(cfg.SettingsDB, envCreds)
		if err != nil {
			return nil, err
		}
		a.store = store
		opts.Credentials, opts.Tokens = store, store
	} else {
		opts.Credentials = settings.Static{Credentials: envCreds}
	}
	a.session = session.NewManager(opts)

	a.indexer = a.newNormalizer(loc)
	a.playback = playback.New(playback.Options{
		API:     up,
		Config:  remote,
		InitURL: cfg.PlaybackInitURL,
		Session: a.session,
	})
	return a, nil
}

// newNormalizer builds the catalog normalizer for loc against the loaded
// configuration.
func (a *app) newNormalizer(loc config.Locale) *indexer.Normalizer {
	imageProxy, err := a.remote.Endpoint(config.EndpointImageProxy)
	if err != nil {
		l := xlog.WithComponent("cli")
		l.Debug().Err(err).Msg("no image proxy; artwork URLs used as-is")
		imageProxy = ""
	}
	return indexer.New(indexer.Options{
		API:    a.up,
		Config: a.remote,
		Mapper: catalog.NewMapper(loc, imageProxy, a.cfg.ImageProxyExempt),
		Client: a.cfg.Client,
	})
}

// switchLocale reloads the configuration for loc, drops the session and
// rebuilds the normalizer. Playback reads the locale from the configuration.
func (a *app) switchLocale(ctx context.Context, loc config.Locale) (*indexer.Normalizer, error) {
	if _, err := a.remote.SetLocale(ctx, loc.Tag); err != nil {
		return nil, err
	}
	a.cfg.Locale = loc.Tag
	a.session.SwitchLocale(a.remote)
	a.indexer = a.newNormalizer(loc)
	return a.indexer, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func main() {
	var c common
	pagesCmd := flag.NewFlagSet("pages", flag.ExitOnError)
	c.register(pagesCmd)

	pageCmd := flag.NewFlagSet("page", flag.ExitOnError)
	c.register(pageCmd)
	pageID := pageCmd.String("id", "", "Page id (e.g. start, movies)")
	pageNS := pageCmd.String("namespace", "page", "Page namespace")
	pageRoot := pageCmd.Bool("root", false, "Treat as a top-level page (accepts page-link lists)")

	expandCmd := flag.NewFlagSet("expand", flag.ExitOnError)
	c.register(expandCmd)
	expandVideos := expandCmd.String("videos", "", "Comma-separated video ids")
	expandBrands := expandCmd.String("brands", "", "Comma-separated brand (series) ids")
	expandSort := expandCmd.String("sort", "", "Sort key: episode_number | start_time")

	searchCmd := flag.NewFlagSet("search", flag.ExitOnError)
	c.register(searchCmd)
	searchQ := searchCmd.String("q", "", "Search text")

	episodesCmd := flag.NewFlagSet("episodes", flag.ExitOnError)
	c.register(episodesCmd)
	episodesBrand := episodesCmd.String("brand", "", "Series brand id")
	episodesSeason := episodesCmd.Int("season", 0, "Season number; 0 = all")

	channelsCmd := flag.NewFlagSet("channels", flag.ExitOnError)
	c.register(channelsCmd)

	operatorsCmd := flag.NewFlagSet("operators", flag.ExitOnError)
	c.register(operatorsCmd)

	loginCmd := flag.NewFlagSet("login", flag.ExitOnError)
	c.register(loginCmd)
	loginUser := loginCmd.String("username", "", "Username (stored when CMORE_SETTINGS_DB is set)")
	loginPass := loginCmd.String("password", "", "Password")
	loginOperator := loginCmd.String("operator", "", "TV operator name for operator login")

	playCmd := flag.NewFlagSet("play", flag.ExitOnError)
	c.register(playCmd)
	playVideo := playCmd.String("video", "", "Video id")
	playChallenge := playCmd.String("challenge", "", "File with a Widevine license challenge to exchange")
	playLicenseOut := playCmd.String("license-out", "", "Write the license blob here")

	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
	c.register(checkCmd)

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	c.register(serveCmd)
	serveListen := serveCmd.String("listen", "", "Listen address; default CMORE_LISTEN")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}
	sets := map[string]*flag.FlagSet{
		"pages": pagesCmd, "page": pageCmd, "expand": expandCmd, "search": searchCmd,
		"episodes": episodesCmd, "channels": channelsCmd, "operators": operatorsCmd,
		"login": loginCmd, "play": playCmd, "check": checkCmd, "serve": serveCmd,
	}
	fs, ok := sets[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}
	_ = fs.Parse(os.Args[2:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := newApp(ctx, c)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	switch os.Args[1] {
	case "pages":
		err = printJSON(indexer.RootPages(a.cfg.Locale))
	case "page":
		if *pageID == "" {
			fatal(errors.New("page: -id is required"))
		}
		err = a.withToken(ctx, func(token string) error {
			p, err := a.indexer.NormalizePage(ctx, token, *pageID, *pageNS, *pageRoot)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"id": p.ID, "namespace": p.Namespace, "shape": p.Shape, "nodes": catalog.Tag(p.Nodes)})
		})
	case "expand":
		q := catalog.AssetQuery{VideoIDs: splitList(*expandVideos), SortBy: *expandSort}
		if brands := splitList(*expandBrands); len(brands) > 0 {
			q = catalog.AssetQuery{BrandIDs: brands, Type: "series", SortBy: *expandSort}
		}
		if q.Empty() {
			fatal(errors.New("expand: -videos or -brands is required"))
		}
		err = a.withToken(ctx, func(token string) error {
			g, err := a.indexer.Expand(ctx, token, "expand", "", q)
			if err != nil {
				return err
			}
			return printJSON(g)
		})
	case "search":
		err = a.withToken(ctx, func(token string) error {
			g, err := a.indexer.NormalizeSearch(ctx, token, *searchQ)
			if err != nil {
				return err
			}
			return printJSON(g)
		})
	case "episodes":
		if *episodesBrand == "" {
			fatal(errors.New("episodes: -brand is required"))
		}
		err = a.withToken(ctx, func(token string) error {
			g, err := a.indexer.Episodes(ctx, token, *episodesBrand, *episodesSeason)
			if err != nil {
				return err
			}
			return printJSON(g)
		})
	case "channels":
		err = a.withToken(ctx, func(token string) error {
			nodes, err := a.indexer.Channels(ctx, token)
			if err != nil {
				return err
			}
			return printJSON(catalog.Tag(nodes))
		})
	case "operators":
		ops, lerr := a.session.ListProviders(ctx)
		if lerr != nil {
			fatal(lerr)
		}
		err = printJSON(ops)
	case "login":
		err = a.login(ctx, session.Credentials{Username: *loginUser, Password: *loginPass, ProviderID: *loginOperator})
	case "play":
		err = a.play(ctx, *playVideo, *playChallenge, *playLicenseOut)
	case "check":
		results := health.CheckEndpoints(ctx, a.remote)
		if perr := printJSON(results); perr != nil {
			fatal(perr)
		}
		err = health.FirstError(results)
	case "serve":
		listen := *serveListen
		if listen == "" {
			listen = a.cfg.Listen
		}
		err = a.serve(ctx, listen)
	}
	if err != nil {
		fatal(err)
	}
}

func (a *app) withToken(ctx context.Context, fn func(token string) error) error {
	return session.Retry(ctx, a.session, fn)
}

// login logs in with the given credentials, or the stored ones when none are
// given. New credentials are stored only after the service accepts them.
func (a *app) login(ctx context.Context, creds session.Credentials) error {
	if creds.Username == "" {
		if a.store != nil {
			stored, err := a.store.StoredCredentials(ctx)
			if err != nil {
				return err
			}
			creds = stored
		} else {
			creds = session.Credentials{Username: a.cfg.Username, Password: a.cfg.Password, ProviderID: a.cfg.Operator}
		}
	}
	s, err := a.session.Login(ctx, creds)
	if err != nil {
		return err
	}
	if a.store != nil {
		if err := a.store.SetCredentials(ctx, creds); err != nil {
			return err
		}
	}
	return printJSON(map[string]interface{}{"locale": s.Locale, "operator": s.ProviderID, "authenticated": s.Token != ""})
}

func (a *app) play(ctx context.Context, videoID, challengePath, licenseOut string) error {
	if videoID == "" {
		return errors.New("play: -video is required")
	}
	var challenge []byte
	if challengePath != "" {
		b, err := os.ReadFile(challengePath)
		if err != nil {
			return fmt.Errorf("read challenge: %w", err)
		}
		challenge = b
	}
	req, desc, err := a.playback.Play(ctx, videoID, challenge)
	if err != nil {
		_ = printJSON(req)
		return err
	}
	out := map[string]interface{}{"request": req, "stream": desc}
	if desc.License != nil {
		out["inputstreamKey"] = desc.License.InputstreamKey()
		if licenseOut != "" && len(desc.License.Blob) > 0 {
			if err := os.WriteFile(licenseOut, desc.License.Blob, 0o600); err != nil {
				return fmt.Errorf("write license: %w", err)
			}
		}
	}
	return printJSON(out)
}

func (a *app) serve(ctx context.Context, listen string) error {
	s := api.New(api.Options{
		Session:      a.session,
		Indexer:      a.indexer,
		Playback:     a.playback,
		Config:       a.remote,
		SwitchLocale: a.switchLocale,
	})
	srv := &http.Server{Addr: listen, Handler: s.Routes(), ReadHeaderTimeout: 10 * time.Second}
	l := xlog.WithComponent("cli")
	l.Info().Str("listen", listen).Str(xlog.FieldLocale, a.cfg.Locale).Msg("serving")
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
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

func fatal(err error) {
	var authErr *upstream.AuthError
	if errors.As(err, &authErr) && authErr.Kind == upstream.KindCredentialsRequired {
		fmt.Fprintln(os.Stderr, "cmore: no credentials; run `cmore login -username ... -password ...` or set CMORE_USERNAME/CMORE_PASSWORD")
	}
	fmt.Fprintf(os.Stderr, "cmore: %v\n", err)
	os.Exit(1)
}
