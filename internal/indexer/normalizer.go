// Package indexer turns the service's page, search and EPG documents into the
// catalog Node tree.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snapetech/cmore/internal/catalog"
	"github.com/snapetech/cmore/internal/config"
	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/metrics"
	"github.com/snapetech/cmore/internal/safeurl"
	"github.com/snapetech/cmore/internal/upstream"
)

// Options configures a Normalizer.
type Options struct {
	API    *upstream.Client
	Config config.Provider
	Mapper *catalog.Mapper
	Client string // ?client= value for the asset backend
}

// Normalizer fetches and normalizes catalog documents. It keeps no cache:
// every call goes to the service.
type Normalizer struct {
	api    *upstream.Client
	cfg    config.Provider
	mapper *catalog.Mapper
	client string
	logger zerolog.Logger
}

// New returns a Normalizer.
func New(opts Options) *Normalizer {
	if opts.Client == "" {
		opts.Client = config.DefaultClient
	}
	return &Normalizer{
		api:    opts.API,
		cfg:    opts.Config,
		mapper: opts.Mapper,
		client: opts.Client,
		logger: xlog.WithComponent("indexer"),
	}
}

// Page is one normalized page.
type Page struct {
	ID        string         `json:"id"`
	Namespace string         `json:"namespace"`
	Shape     Shape          `json:"shape"`
	Nodes     []catalog.Node `json:"nodes"`
}

// NormalizePage fetches pageID and returns its node tree. root marks a
// top-level page, the only kind whose page-link list is accepted. Documents
// of no known shape fail with *ShapeError.
func (n *Normalizer) NormalizePage(ctx context.Context, token, pageID, namespace string, root bool) (*Page, error) {
	if namespace == "" {
		namespace = "page"
	}
	base, err := n.cfg.Endpoint(config.EndpointPage)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Data json.RawMessage `json:"data"`
	}
	err = n.api.DoJSON(ctx, upstream.Request{
		Endpoint: "page",
		URL:      safeurl.Join(base, pageID),
		Query:    url.Values{"locale": {n.cfg.Locale()}, "namespace": {namespace}},
		Header:   authHeader(token),
	}, &doc)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", pageID, err)
	}

	shape, keys, err := decodeShape(doc.Data, root)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", pageID, err)
	}
	if shape == nil {
		metrics.IncPageShape("unrecognized")
		return nil, &ShapeError{PageID: pageID, Namespace: namespace, Keys: keys}
	}

	nodes, err := n.build(ctx, token, pageID, shape)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", pageID, err)
	}
	metrics.IncPageShape(string(shape.kind))
	n.logger.Debug().
		Str(xlog.FieldPageID, pageID).
		Str(xlog.FieldNamespace, namespace).
		Str(xlog.FieldShape, string(shape.kind)).
		Int("nodes", len(nodes)).
		Msg("normalized page")
	return &Page{ID: pageID, Namespace: namespace, Shape: shape.kind, Nodes: catalog.Prune(nodes)}, nil
}

func (n *Normalizer) build(ctx context.Context, token, pageID string, s *pageShape) ([]catalog.Node, error) {
	switch s.kind {
	case ShapeTargets:
		q := splitTargets(s.targets)
		g, err := n.Expand(ctx, token, pageID, pageID, q...)
		if err != nil {
			return nil, err
		}
		return []catalog.Node{g}, nil
	case ShapeNowPlaying:
		nodes := make([]catalog.Node, 0, len(s.nowPlaying))
		for _, np := range s.nowPlaying {
			nodes = append(nodes, &catalog.ChannelSlot{Channel: channelAsset(
				firstNonEmpty(np.ChannelID, np.ID), np.VideoID, firstNonEmpty(np.Title, np.Name), np.Program.Title)})
		}
		return nodes, nil
	case ShapeScheduled:
		return dateGroups(s.scheduled), nil
	case ShapeCarousels:
		var nodes []catalog.Node
		if len(s.showcase) > 0 {
			nodes = append(nodes, &catalog.CarouselGroup{
				Key:     "showcase",
				Title:   "Showcase",
				Queries: []catalog.AssetQuery{{VideoIDs: s.showcase}},
			})
		}
		for i, c := range s.carousels {
			key := c.ID
			if key == "" {
				key = "carousel-" + strconv.Itoa(i)
			}
			nodes = append(nodes, &catalog.CarouselGroup{
				Key:     key,
				Title:   c.Attributes.Headline,
				Queries: splitTargets(c.Targets),
			})
		}
		return nodes, nil
	case ShapePageLinks:
		nodes := make([]catalog.Node, 0, len(s.links))
		for _, l := range s.links {
			nodes = append(nodes, &catalog.PageLink{PageID: l.ID, Namespace: l.Namespace, Title: l.Headline})
		}
		return nodes, nil
	}
	return nil, fmt.Errorf("unhandled shape %q", s.kind)
}

// splitTargets separates series targets (looked up by brand id) from the rest
// (looked up by video id). Either query is omitted when empty.
func splitTargets(targets []rawTarget) []catalog.AssetQuery {
	var brands, videos []string
	for _, t := range targets {
		if t.Type == "series" {
			if t.ID != "" {
				brands = append(brands, t.ID)
			}
		} else if t.VideoID != "" {
			videos = append(videos, t.VideoID)
		}
	}
	var out []catalog.AssetQuery
	if len(brands) > 0 {
		out = append(out, catalog.AssetQuery{BrandIDs: brands, Type: "series"})
	}
	if len(videos) > 0 {
		out = append(out, catalog.AssetQuery{VideoIDs: videos})
	}
	return out
}

// dateGroups builds one DateGroup per distinct displayable date, merging
// repeated dates and keeping first-seen order.
func dateGroups(dates []rawScheduledDate) []catalog.Node {
	var order []string
	byDate := map[string]*catalog.DateGroup{}
	for _, d := range dates {
		g, ok := byDate[d.DisplayableDate]
		if !ok {
			g = &catalog.DateGroup{Date: d.DisplayableDate, Query: catalog.AssetQuery{SortBy: SortStartTime}}
			byDate[d.DisplayableDate] = g
			order = append(order, d.DisplayableDate)
		}
		for _, e := range d.Events {
			if e.VideoID != "" {
				g.Query.VideoIDs = append(g.Query.VideoIDs, e.VideoID)
			}
		}
	}
	out := make([]catalog.Node, 0, len(order))
	for _, date := range order {
		out = append(out, byDate[date])
	}
	return out
}

func channelAsset(id, videoID, title, programme string) catalog.Asset {
	label := title
	if programme != "" {
		label = title + ": " + programme
	}
	return catalog.Asset{
		Kind:       catalog.KindChannel,
		ID:         id,
		VideoID:    videoID,
		Title:      title,
		Label:      label,
		NowPlaying: programme,
		Playable:   videoID != "",
	}
}

func authHeader(token string) http.Header {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return http.Header{"X-Jwt": {"Bearer " + token}}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
