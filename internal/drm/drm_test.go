package drm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/upstream"
)

const twoSetMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" xmlns:cenc="urn:mpeg:cenc:2013" type="static">
  <Period id="p0">
    <AdaptationSet mimeType="audio/mp4">
      <Representation id="a1" bandwidth="128000"/>
    </AdaptationSet>
    <AdaptationSet mimeType="video/mp4">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" value="cenc" cenc:default_KID="0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"/>
      <ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"/>
      <Representation id="v1" bandwidth="3000000"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestKeyID(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    string
		wantErr error
	}{
		{"second adaptation set", twoSetMPD, "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0", nil},
		{"first match wins", `<MPD xmlns:cenc="urn:mpeg:cenc:2013"><Period>
			<AdaptationSet><ContentProtection cenc:default_KID="AAAAAAAA-0000-0000-0000-000000000001"/></AdaptationSet>
			<AdaptationSet><ContentProtection cenc:default_KID="BBBBBBBB-0000-0000-0000-000000000002"/></AdaptationSet></Period></MPD>`,
			"aaaaaaaa-0000-0000-0000-000000000001", nil},
		{"later period", `<MPD xmlns:cenc="urn:mpeg:cenc:2013"><Period><AdaptationSet/></Period>
			<Period><AdaptationSet><ContentProtection cenc:default_KID="00112233-4455-6677-8899-aabbccddeeff"/></AdaptationSet></Period></MPD>`,
			"00112233-4455-6677-8899-aabbccddeeff", nil},
		{"representation level", `<MPD xmlns:cenc="urn:mpeg:cenc:2013"><Period><AdaptationSet><Representation id="v">
			<ContentProtection cenc:default_KID="cccccccc-0000-0000-0000-000000000003"/></Representation></AdaptationSet></Period></MPD>`,
			"cccccccc-0000-0000-0000-000000000003", nil},
		{"outside adaptation set ignored", `<MPD xmlns:cenc="urn:mpeg:cenc:2013"><ContentProtection cenc:default_KID="dddddddd-0000-0000-0000-000000000004"/><Period>
			<AdaptationSet/></Period></MPD>`, "", ErrKeyIDNotFound},
		{"protection without kid", `<MPD><Period><AdaptationSet>
			<ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"/></AdaptationSet></Period></MPD>`, "", ErrKeyIDNotFound},
		{"unprotected", `<MPD><Period><AdaptationSet><Representation/></AdaptationSet></Period></MPD>`, "", ErrKeyIDNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KeyID([]byte(tt.doc))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("KeyID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyID_malformed(t *testing.T) {
	for _, doc := range []string{"", "#EXTM3U\n", "<html><body/></html>", "<MPD><Period>"} {
		_, err := KeyID([]byte(doc))
		var mpe *ManifestParseError
		if !errors.As(err, &mpe) {
			t.Errorf("KeyID(%q) err = %v, want ManifestParseError", doc, err)
		}
	}
}

func TestExchange(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manifest.mpd":
			w.Write([]byte(twoSetMPD))
		case "/wv":
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("license request %s %s", r.Method, r.Header.Get("Content-Type"))
			}
			json.NewDecoder(r.Body).Decode(&got)
			w.Write([]byte{0x08, 0x02, 0xff})
		}
	}))
	defer srv.Close()

	ex := NewExchanger(upstream.New(upstream.Options{}), config.Static{
		Links:      map[string]string{config.EndpointDRMProxy: srv.URL + "/wv"},
		LocaleCode: "sv_SE",
	})
	kid, err := ex.FetchKeyID(context.Background(), srv.URL+"/manifest.mpd")
	if err != nil || kid != "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0" {
		t.Fatalf("FetchKeyID = %q, %v", kid, err)
	}
	blob, err := ex.Exchange(context.Background(), []byte{1, 2, 250}, kid, "tok")
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) != 3 || blob[2] != 0xff {
		t.Errorf("blob = %v", blob)
	}
	info, ok := got["drm_info"].([]interface{})
	if !ok || len(info) != 3 || info[2].(float64) != 250 {
		t.Errorf("drm_info = %#v, want integer array", got["drm_info"])
	}
	if got["kid"] != kid || got["token"] != "tok" {
		t.Errorf("body = %v", got)
	}
}

func TestFetchKeyID_rejectsNonHTTP(t *testing.T) {
	ex := NewExchanger(upstream.New(upstream.Options{}), config.Static{})
	_, err := ex.FetchKeyID(context.Background(), "file:///etc/passwd")
	var mpe *ManifestParseError
	if !errors.As(err, &mpe) {
		t.Errorf("err = %v", err)
	}
}

func TestInputstreamKey(t *testing.T) {
	l := &License{Server: "https://lic.example/wv", AuthToken: "abc"}
	want := "https://lic.example/wv|Content-Type=&x-dt-auth-token=abc|R{SSM}|"
	if got := l.InputstreamKey(); got != want {
		t.Errorf("InputstreamKey = %q, want %q", got, want)
	}
}
