package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/upstream"
)

type loginRequest struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

// fakeService serves the two login endpoints and a protected resource.
type fakeService struct {
	mu       sync.Mutex
	logins   []loginRequest
	reject   bool
	protects int32 // number of leading protected calls answered "not authenticated"
	calls    int32
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	login := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Query().Get("client") != "cmore-kodi" {
			t.Errorf("login request %s %s", r.Method, r.URL)
		}
		var req loginRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.logins = append(f.logins, req)
		n := len(f.logins)
		f.mu.Unlock()
		if f.reject {
			w.Write([]byte(`{"errors":[{"message":"Wrong username or password"}]}`))
			return
		}
		w.Write([]byte(`{"data":{"login":{"session":{"token":"tok-` + string(rune('0'+n)) + `"}}}}`))
	}
	mux.HandleFunc("/delta", login)
	mux.HandleFunc("/june", login)
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&f.calls, 1) <= atomic.LoadInt32(&f.protects) {
			w.Write([]byte(`{"error":{"code":"SESSION_NOT_AUTHENTICATED","message":"User is not authenticated"}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

func (f *fakeService) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logins)
}

type stubCreds struct {
	creds    Credentials
	prompted int
}

func (s *stubCreds) StoredCredentials(context.Context) (Credentials, error) { return s.creds, nil }
func (s *stubCreds) OnAuthRequired()                                       { s.prompted++ }

type memTokens struct{ m map[string]string }

func (c *memTokens) LoadToken(_ context.Context, locale string) (string, error) {
	return c.m[locale], nil
}
func (c *memTokens) SaveToken(_ context.Context, locale, token string) error {
	c.m[locale] = token
	return nil
}
func (c *memTokens) ClearToken(_ context.Context, locale string) error {
	delete(c.m, locale)
	return nil
}

func newTestManager(t *testing.T, svc *fakeService, creds CredentialSource, tokens TokenCache) (*Manager, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)
	cfg := config.Static{
		Links: map[string]string{
			config.EndpointLogin:    srv.URL + "/delta",
			config.EndpointLoginTVE: srv.URL + "/june",
		},
		LocaleCode: "sv_SE",
	}
	m := NewManager(Options{
		API:         upstream.New(upstream.Options{RateLimit: 1000, RateLimitBurst: 1000}),
		Config:      cfg,
		Credentials: creds,
		Tokens:      tokens,
	})
	return m, srv
}

func TestLogin_direct(t *testing.T) {
	svc := &fakeService{}
	m, _ := newTestManager(t, svc, nil, nil)
	s, err := m.Login(context.Background(), Credentials{Username: "u", Password: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Token != "tok-1" || s.Locale != "sv_SE" || s.ProviderID != "" {
		t.Errorf("session = %+v", s)
	}
	got := svc.logins[0].Variables
	if got["site"] != "CMORE_SE" || got["username"] != "u" || got["password"] != "p" {
		t.Errorf("variables = %v", got)
	}
	if _, ok := got["operatorName"]; ok {
		t.Error("direct login must not send operatorName")
	}
	if m.Token() != "tok-1" {
		t.Errorf("Token() = %q", m.Token())
	}
}

func TestLogin_operator(t *testing.T) {
	svc := &fakeService{}
	m, _ := newTestManager(t, svc, nil, nil)
	s, err := m.Login(context.Background(), Credentials{Username: "u", Password: "p", ProviderID: "telia"})
	if err != nil {
		t.Fatal(err)
	}
	if s.ProviderID != "telia" {
		t.Errorf("ProviderID = %q", s.ProviderID)
	}
	got := svc.logins[0]
	if got.Variables["operatorName"] != "telia" || got.Variables["countryCode"] != "se" {
		t.Errorf("variables = %v", got.Variables)
	}
	if got.Query != operatorLoginQuery {
		t.Error("operator login should use the loginTve mutation")
	}
}

func TestLogin_rejected(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		want     upstream.AuthKind
	}{
		{"direct", "", upstream.KindInvalidCredentials},
		{"operator", "telia", upstream.KindProviderRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{reject: true}
			m, _ := newTestManager(t, svc, nil, nil)
			_, err := m.Login(context.Background(), Credentials{Username: "u", Password: "bad", ProviderID: tt.provider})
			var ae *upstream.AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("err = %v, want AuthError", err)
			}
			if ae.Kind != tt.want || ae.Message != "Wrong username or password" {
				t.Errorf("AuthError = %+v", ae)
			}
			if m.Token() != "" {
				t.Error("failed login must not set a token")
			}
		})
	}
}

func TestEnsureAuthenticated_usesStoredCredentialsOnce(t *testing.T) {
	svc := &fakeService{}
	m, _ := newTestManager(t, svc, &stubCreds{creds: Credentials{Username: "u", Password: "p"}}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := m.EnsureAuthenticated(context.Background()); err != nil || tok != "tok-1" {
				t.Errorf("EnsureAuthenticated = %q, %v", tok, err)
			}
		}()
	}
	wg.Wait()
	if n := svc.loginCount(); n != 1 {
		t.Errorf("logins = %d, want 1", n)
	}
}

func TestEnsureAuthenticated_noCredentials(t *testing.T) {
	creds := &stubCreds{}
	m, _ := newTestManager(t, &fakeService{}, creds, nil)
	_, err := m.EnsureAuthenticated(context.Background())
	var ae *upstream.AuthError
	if !errors.As(err, &ae) || ae.Kind != upstream.KindCredentialsRequired {
		t.Fatalf("err = %v", err)
	}
	if creds.prompted != 1 {
		t.Errorf("OnAuthRequired called %d times", creds.prompted)
	}
}

func TestEnsureAuthenticated_tokenCache(t *testing.T) {
	svc := &fakeService{}
	tokens := &memTokens{m: map[string]string{"sv_SE": "cached"}}
	m, _ := newTestManager(t, svc, &stubCreds{creds: Credentials{Username: "u", Password: "p"}}, tokens)
	tok, err := m.EnsureAuthenticated(context.Background())
	if err != nil || tok != "cached" {
		t.Fatalf("EnsureAuthenticated = %q, %v", tok, err)
	}
	if svc.loginCount() != 0 {
		t.Error("cached token should avoid a login")
	}
	m.Invalidate()
	if _, ok := tokens.m["sv_SE"]; ok {
		t.Error("Invalidate should clear the token cache")
	}
	if tok, _ := m.EnsureAuthenticated(context.Background()); tok != "tok-1" {
		t.Errorf("after invalidate token = %q", tok)
	}
	if tokens.m["sv_SE"] != "tok-1" {
		t.Errorf("new token not persisted: %v", tokens.m)
	}
}

func TestSwitchLocale_clearsSession(t *testing.T) {
	m, _ := newTestManager(t, &fakeService{}, nil, nil)
	if _, err := m.Login(context.Background(), Credentials{Username: "u", Password: "p"}); err != nil {
		t.Fatal(err)
	}
	m.SwitchLocale(config.Static{LocaleCode: "da_DK"})
	if s := m.Current(); s.Token != "" || s.Locale != "da_DK" {
		t.Errorf("session after switch = %+v", s)
	}
}
