package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snapetech/cmore/internal/config"
)

func TestCheckURL(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"bare request rejected", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"server error", http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			err := CheckURL(context.Background(), srv.Client(), srv.URL)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckURL err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckURL_emptyURL(t *testing.T) {
	if err := CheckURL(context.Background(), http.DefaultClient, ""); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestCheckEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(503) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Static{Links: map[string]string{
		config.EndpointPage:   srv.URL + "/page/",
		config.EndpointSearch: srv.URL + "/search",
	}}
	res := CheckEndpoints(context.Background(), cfg, config.EndpointPage, config.EndpointSearch, config.EndpointLogin)
	if len(res) != 3 {
		t.Fatalf("results = %d", len(res))
	}
	if !res[0].OK() || res[0].URL != srv.URL+"/page/" {
		t.Errorf("page = %+v", res[0])
	}
	if res[1].OK() || !strings.Contains(res[1].Error, "503") {
		t.Errorf("search = %+v", res[1])
	}
	if res[2].OK() || res[2].URL != "" {
		t.Errorf("unconfigured login = %+v", res[2])
	}
	if err := FirstError(res); err == nil || !strings.HasPrefix(err.Error(), config.EndpointSearch) {
		t.Errorf("FirstError = %v", err)
	}
	if FirstError(res[:1]) != nil {
		t.Error("FirstError on healthy results")
	}
}

func TestCheckEndpoints_defaults(t *testing.T) {
	res := CheckEndpoints(context.Background(), config.Static{})
	if len(res) != len(DefaultEndpoints) {
		t.Errorf("results = %d, want %d", len(res), len(DefaultEndpoints))
	}
}
