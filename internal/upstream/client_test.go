package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestDo_queryHeadersAndBody(t *testing.T) {
	var gotQuery url.Values
	var gotBody map[string]interface{}
	var gotJWT, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotJWT = r.Header.Get("x-jwt")
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Options{})
	var out struct {
		OK bool `json:"ok"`
	}
	err := c.DoJSON(context.Background(), Request{
		Endpoint: "login",
		Method:   http.MethodPost,
		URL:      srv.URL + "/graphql?client=cmore-kodi",
		Query:    url.Values{"locale": {"sv_SE"}},
		Header:   http.Header{"X-Jwt": {"Bearer t"}},
		Body:     map[string]string{"query": "q"},
	}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !out.OK {
		t.Error("decode failed")
	}
	if gotQuery.Get("client") != "cmore-kodi" || gotQuery.Get("locale") != "sv_SE" {
		t.Errorf("query = %v", gotQuery)
	}
	if gotJWT != "Bearer t" {
		t.Errorf("x-jwt = %q", gotJWT)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if gotBody["query"] != "q" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestDo_envelopeOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"User is not authenticated"}}`))
	}))
	defer srv.Close()

	_, err := New(Options{}).Do(context.Background(), Request{Endpoint: "page", URL: srv.URL})
	if !IsNotAuthenticated(err) {
		t.Fatalf("want not-authenticated, got %v", err)
	}
}

func TestDo_badStatusWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	_, err := New(Options{}).Do(context.Background(), Request{Endpoint: "search", URL: srv.URL})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProviderError, got %T %v", err, err)
	}
	if pe.Status != http.StatusBadGateway {
		t.Errorf("status = %d", pe.Status)
	}
}

func TestDo_transportErrorNotRetried(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	addr := srv.URL
	srv.Close()

	_, err := New(Options{}).Do(context.Background(), Request{Endpoint: "page", URL: addr + "/x?password=secret"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("want TransportError, got %T %v", err, err)
	}
	if strings.Contains(te.Error(), "secret") {
		t.Errorf("password leaked into error: %q", te.Error())
	}
	if hits != 0 {
		t.Errorf("hits = %d", hits)
	}
}

func TestDo_nonJSONBodyPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><MPD/>`))
	}))
	defer srv.Close()

	body, err := New(Options{}).Do(context.Background(), Request{Endpoint: "manifest", URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(body), "<?xml") {
		t.Errorf("body = %q", body)
	}
}

func TestRedact(t *testing.T) {
	got := redact("https://u:p@host/path?username=a&password=b&token=c")
	if strings.Contains(got, "p@") || strings.Contains(got, "password=b") || strings.Contains(got, "token=c") {
		t.Errorf("redact = %q", got)
	}
	if !strings.Contains(got, "username=a") {
		t.Errorf("redact dropped non-secret param: %q", got)
	}
}
