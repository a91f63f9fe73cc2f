// Package provider lists the TV operators ("providers") a viewer can log in
// through instead of using direct service credentials.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/safeurl"
	"github.com/snapetech/cmore/internal/upstream"
)

// Operator is one TV operator accepted by the login service.
type Operator struct {
	Name          string `json:"name"`  // id sent as operatorName at login
	Title         string `json:"title"` // display name
	UsernameLabel string `json:"usernameLabel"`
	PasswordLabel string `json:"passwordLabel"`
	LoginInfo     string `json:"loginInfo"` // plain-text login help
}

type rawOperator struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Username string `json:"username"`
	Password string `json:"password"`
	Login    string `json:"login"`
}

// List returns the operators for the locale's country, in server order.
func List(ctx context.Context, api *upstream.Client, cfg config.Provider, client string) ([]Operator, error) {
	base, err := cfg.Endpoint(config.EndpointOperators)
	if err != nil {
		return nil, err
	}
	loc, err := config.ParseLocale(cfg.Locale())
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Operators []rawOperator `json:"operators"`
		} `json:"data"`
	}
	err = api.DoJSON(ctx, upstream.Request{
		Endpoint: "operators",
		URL:      safeurl.Join(base, "country/"+loc.Region+"/operator"),
		Query:    url.Values{"client": {client}},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	out := make([]Operator, 0, len(resp.Data.Operators))
	for _, r := range resp.Data.Operators {
		if r.Name == "" {
			continue
		}
		out = append(out, Operator{
			Name:          r.Name,
			Title:         r.Title,
			UsernameLabel: r.Username,
			PasswordLabel: r.Password,
			LoginInfo:     PlainText(r.Login),
		})
	}
	return out, nil
}

// Find returns the operator named name, or false.
func Find(ops []Operator, name string) (Operator, bool) {
	for _, op := range ops {
		if op.Name == name {
			return op, true
		}
	}
	return Operator{}, false
}

// PlainText strips markup from s, keeping text and turning <br>/<p> into line breaks.
func PlainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input: keep what was read.
			return collapseLines(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br", "p", "div", "li":
				b.WriteByte('\n')
			}
		}
	}
}

func collapseLines(s string) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
