package indexer

import "github.com/snapetech/cmore/internal/catalog"

// Top-level pages the service publishes per locale.
var rootPages = map[string][]string{
	"sv_SE": {"start", "movies", "series", "sports", "tv", "programs", "kids"},
	"da_DK": {"start", "movies", "series", "sports", "tv", "kids"},
	"nb_NO": {"start", "movies", "series", "tv", "kids"},
}

// RootPages returns the entry pages for locale, in menu order. Display names
// are the host's concern; Title carries the page id.
func RootPages(locale string) []catalog.PageLink {
	ids := rootPages[locale]
	out := make([]catalog.PageLink, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog.PageLink{PageID: id, Namespace: "page", Title: id})
	}
	return out
}
