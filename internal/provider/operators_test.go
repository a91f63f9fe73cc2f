package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/upstream"
)

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tve/country/dk/operator" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("client") != "cmore-kodi" {
			t.Errorf("client = %q", r.URL.Query().Get("client"))
		}
		w.Write([]byte(`{"data":{"operators":[
			{"name":"yousee","title":"YouSee","username":"E-mail","password":"Kodeord","login":"<p>Log ind med dit <b>YouSee</b> login.</p><p>Glemt &amp; kodeord?</p>"},
			{"name":"","title":"broken"},
			{"name":"stofa","title":"Stofa","username":"Brugernavn","password":"Adgangskode","login":"Plain text"}
		]}}`))
	}))
	defer srv.Close()

	cfg := config.Static{Links: map[string]string{config.EndpointOperators: srv.URL + "/tve/"}, LocaleCode: "da_DK"}
	ops, err := List(context.Background(), upstream.New(upstream.Options{}), cfg, "cmore-kodi")
	if err != nil {
		t.Fatal(err)
	}
	want := []Operator{
		{Name: "yousee", Title: "YouSee", UsernameLabel: "E-mail", PasswordLabel: "Kodeord", LoginInfo: "Log ind med dit YouSee login.\nGlemt & kodeord?"},
		{Name: "stofa", Title: "Stofa", UsernameLabel: "Brugernavn", PasswordLabel: "Adgangskode", LoginInfo: "Plain text"},
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("operators mismatch (-want +got):\n%s", diff)
	}
	if op, ok := Find(ops, "stofa"); !ok || op.Title != "Stofa" {
		t.Errorf("Find = %+v %v", op, ok)
	}
	if _, ok := Find(ops, "nope"); ok {
		t.Error("Find unknown should be false")
	}
}

func TestList_providerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errorCode":"RATE_LIMITED","message":"slow down"}`))
	}))
	defer srv.Close()
	cfg := config.Static{Links: map[string]string{config.EndpointOperators: srv.URL + "/"}, LocaleCode: "sv_SE"}
	_, err := List(context.Background(), upstream.New(upstream.Options{}), cfg, "c")
	var pe *upstream.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
}

func TestList_missingEndpoint(t *testing.T) {
	_, err := List(context.Background(), upstream.New(upstream.Options{}), config.Static{LocaleCode: "sv_SE"}, "c")
	if !errors.Is(err, config.ErrEndpointMissing) {
		t.Errorf("err = %v", err)
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"  no markup  ", "no markup"},
		{"a<br/>b", "a\nb"},
		{"<div>  spaced   out </div>", "spaced out"},
		{"<p>one</p>\n\n<p>two</p>", "one\ntwo"},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
