// Package session owns the viewer's authentication state: direct and operator
// login, the cached bearer token and the one-shot re-login contract.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/snapetech/cmore/internal/config"
	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/provider"
	"github.com/snapetech/cmore/internal/upstream"
)

// Credentials identify the viewer. ProviderID selects operator login.
type Credentials struct {
	Username   string
	Password   string
	ProviderID string
}

func (c Credentials) complete() bool {
	return c.Username != "" && c.Password != ""
}

// Session is the authenticated state for one locale.
type Session struct {
	Token      string
	ProviderID string
	Locale     string
}

// CredentialSource is the host's settings boundary.
type CredentialSource interface {
	StoredCredentials(ctx context.Context) (Credentials, error)
	// OnAuthRequired asks the host to collect credentials interactively.
	OnAuthRequired()
}

// TokenCache optionally persists the token between runs.
type TokenCache interface {
	LoadToken(ctx context.Context, locale string) (string, error)
	SaveToken(ctx context.Context, locale, token string) error
	ClearToken(ctx context.Context, locale string) error
}

// Options configures a Manager.
type Options struct {
	API         *upstream.Client
	Config      config.Provider
	Credentials CredentialSource
	Tokens      TokenCache // may be nil
	Client      string     // ?client= value
}

// Manager is the single owner of the Session. Construct one per host.
type Manager struct {
	api    *upstream.Client
	creds  CredentialSource
	tokens TokenCache
	client string
	logger zerolog.Logger

	mu      sync.Mutex
	cfg     config.Provider
	session Session
	group   singleflight.Group
}

// NewManager returns a Manager with no session.
func NewManager(opts Options) *Manager {
	if opts.Client == "" {
		opts.Client = config.DefaultClient
	}
	return &Manager{
		api:     opts.API,
		cfg:     opts.Config,
		creds:   opts.Credentials,
		tokens:  opts.Tokens,
		client:  opts.Client,
		logger:  xlog.WithComponent("session"),
		session: Session{Locale: opts.Config.Locale()},
	}
}

const directLoginQuery = `mutation($username: String!, $password: String, $site: String) {
  login(credentials: {username: $username, password: $password}, site: $site) {
    session { token }
  }
}`

const operatorLoginQuery = `mutation loginTve($operatorName: String!, $username: String!, $password: String, $countryCode: String!) {
  login(tveCredentials: {operator: $operatorName, username: $username, password: $password, countryCode: $countryCode}) {
    session { token }
  }
}`

type loginResponse struct {
	Data struct {
		Login struct {
			Session struct {
				Token string `json:"token"`
			} `json:"session"`
		} `json:"login"`
	} `json:"data"`
}

// Login authenticates with creds and replaces the current session.
func (m *Manager) Login(ctx context.Context, creds Credentials) (Session, error) {
	cfg := m.config()
	loc, err := config.ParseLocale(cfg.Locale())
	if err != nil {
		return Session{}, err
	}

	endpoint, kind := config.EndpointLogin, upstream.KindInvalidCredentials
	vars := map[string]string{"username": creds.Username, "password": creds.Password}
	query := directLoginQuery
	if creds.ProviderID != "" {
		endpoint, kind = config.EndpointLoginTVE, upstream.KindProviderRejected
		query = operatorLoginQuery
		vars["operatorName"] = creds.ProviderID
		vars["countryCode"] = loc.Region
	} else {
		vars["site"] = "CMORE_" + strings.ToUpper(loc.Region)
	}
	target, err := cfg.Endpoint(endpoint)
	if err != nil {
		return Session{}, err
	}

	var resp loginResponse
	err = m.api.DoJSON(ctx, upstream.Request{
		Endpoint: "login",
		Method:   "POST",
		URL:      target,
		Query:    url.Values{"client": {m.client}},
		Body:     map[string]interface{}{"query": query, "variables": vars},
	}, &resp)
	if err != nil {
		return Session{}, loginError(err, kind)
	}
	token := resp.Data.Login.Session.Token
	if token == "" {
		return Session{}, &upstream.AuthError{Kind: kind, Message: "login response carried no session token"}
	}

	s := Session{Token: token, ProviderID: creds.ProviderID, Locale: loc.Tag}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	if m.tokens != nil {
		if err := m.tokens.SaveToken(ctx, loc.Tag, token); err != nil {
			m.logger.Warn().Err(err).Msg("token not persisted")
		}
	}
	m.logger.Info().
		Str(xlog.FieldLocale, loc.Tag).
		Str(xlog.FieldOperator, creds.ProviderID).
		Msg("logged in")
	return s, nil
}

// loginError maps service envelopes on the login endpoints to AuthError of kind.
func loginError(err error, kind upstream.AuthKind) error {
	var pe *upstream.ProviderError
	if errors.As(err, &pe) && pe.Status < 500 {
		return &upstream.AuthError{Kind: kind, Code: pe.Code, Message: pe.Message}
	}
	var ae *upstream.AuthError
	if errors.As(err, &ae) {
		return &upstream.AuthError{Kind: kind, Code: ae.Code, Message: ae.Message}
	}
	return fmt.Errorf("login: %w", err)
}

// EnsureAuthenticated returns the current token, logging in with the stored
// credentials when there is none. Concurrent callers share one login.
func (m *Manager) EnsureAuthenticated(ctx context.Context) (string, error) {
	if tok := m.Token(); tok != "" {
		return tok, nil
	}
	v, err, _ := m.group.Do("login", func() (interface{}, error) {
		// Another caller may have finished a login since our check.
		if tok := m.Token(); tok != "" {
			return tok, nil
		}
		locale := m.config().Locale()
		if m.tokens != nil {
			if tok, err := m.tokens.LoadToken(ctx, locale); err == nil && tok != "" {
				m.mu.Lock()
				m.session = Session{Token: tok, Locale: locale}
				m.mu.Unlock()
				return tok, nil
			}
		}
		var creds Credentials
		if m.creds != nil {
			c, err := m.creds.StoredCredentials(ctx)
			if err != nil {
				return nil, fmt.Errorf("stored credentials: %w", err)
			}
			creds = c
		}
		if !creds.complete() {
			if m.creds != nil {
				m.creds.OnAuthRequired()
			}
			return nil, &upstream.AuthError{Kind: upstream.KindCredentialsRequired, Message: "no stored credentials"}
		}
		s, err := m.Login(ctx, creds)
		if err != nil {
			return nil, err
		}
		return s.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, in memory and in the token cache.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	locale := m.session.Locale
	m.session.Token = ""
	m.mu.Unlock()
	if m.tokens != nil {
		if err := m.tokens.ClearToken(context.Background(), locale); err != nil {
			m.logger.Warn().Err(err).Msg("cached token not cleared")
		}
	}
	m.logger.Debug().Str(xlog.FieldLocale, locale).Msg("session invalidated")
}

// ListProviders returns the operators available for the current locale.
func (m *Manager) ListProviders(ctx context.Context) ([]provider.Operator, error) {
	return provider.List(ctx, m.api, m.config(), m.client)
}

// SwitchLocale points the manager at cfg's locale and drops the session:
// there is at most one session per locale.
func (m *Manager) SwitchLocale(cfg config.Provider) {
	m.mu.Lock()
	old := m.session.Locale
	m.cfg = cfg
	m.session = Session{Locale: cfg.Locale()}
	m.mu.Unlock()
	m.logger.Info().Str("from", old).Str(xlog.FieldLocale, cfg.Locale()).Msg("locale switched")
}

// Token returns the cached token or "".
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Token
}

// Current returns a copy of the session.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) config() config.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}
