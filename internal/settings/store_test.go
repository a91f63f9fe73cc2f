package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/snapetech/cmore/internal/session"
)

func openTestStore(t *testing.T, fallback session.Credentials) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "settings.db"), fallback)
	if err != nil {
		t.Skipf("sqlite not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_credentials(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, session.Credentials{Username: "env-user", Password: "env-pass"})

	c, err := s.StoredCredentials(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Username != "env-user" || c.Password != "env-pass" || c.ProviderID != "" {
		t.Errorf("fallback credentials = %+v", c)
	}

	if err := s.SetCredentials(ctx, session.Credentials{Username: "viewer", Password: "pw", ProviderID: "telia"}); err != nil {
		t.Fatal(err)
	}
	c, _ = s.StoredCredentials(ctx)
	if c != (session.Credentials{Username: "viewer", Password: "pw", ProviderID: "telia"}) {
		t.Errorf("stored credentials = %+v", c)
	}

	// Clearing the operator drops back to direct login.
	if err := s.SetCredentials(ctx, session.Credentials{Username: "viewer", Password: "pw2"}); err != nil {
		t.Fatal(err)
	}
	c, _ = s.StoredCredentials(ctx)
	if c.ProviderID != "" || c.Password != "pw2" {
		t.Errorf("after update = %+v", c)
	}
}

func TestStore_tokens(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, session.Credentials{})

	if tok, err := s.LoadToken(ctx, "sv_SE"); err != nil || tok != "" {
		t.Fatalf("empty LoadToken = %q, %v", tok, err)
	}
	s.SaveToken(ctx, "sv_SE", "a")
	s.SaveToken(ctx, "da_DK", "b")
	s.SaveToken(ctx, "sv_SE", "c")
	if tok, _ := s.LoadToken(ctx, "sv_SE"); tok != "c" {
		t.Errorf("sv_SE token = %q", tok)
	}
	if err := s.ClearToken(ctx, "sv_SE"); err != nil {
		t.Fatal(err)
	}
	if tok, _ := s.LoadToken(ctx, "sv_SE"); tok != "" {
		t.Errorf("cleared token = %q", tok)
	}
	if tok, _ := s.LoadToken(ctx, "da_DK"); tok != "b" {
		t.Errorf("tokens are per locale; da_DK = %q", tok)
	}
}

func TestStore_reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.db")
	s, err := Open(path, session.Credentials{})
	if err != nil {
		t.Skipf("sqlite not available: %v", err)
	}
	s.SetCredentials(ctx, session.Credentials{Username: "u", Password: "p"})
	s.SaveToken(ctx, "nb_NO", "tok")
	s.Close()

	s2, err := Open(path, session.Credentials{})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	c, _ := s2.StoredCredentials(ctx)
	tok, _ := s2.LoadToken(ctx, "nb_NO")
	if c.Username != "u" || tok != "tok" {
		t.Errorf("reopened: %+v %q", c, tok)
	}
}

func TestPrompt(t *testing.T) {
	s := openTestStore(t, session.Credentials{})
	n := 0
	s.OnPrompt(func() { n++ })
	s.OnAuthRequired()
	Static{Prompt: func() { n++ }}.OnAuthRequired()
	if n != 2 {
		t.Errorf("prompts = %d", n)
	}
	if c, _ := (Static{Credentials: session.Credentials{Username: "x"}}).StoredCredentials(context.Background()); c.Username != "x" {
		t.Errorf("Static = %+v", c)
	}
}
