package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/snapetech/cmore/internal/catalog"
	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/safeurl"
	"github.com/snapetech/cmore/internal/upstream"
)

// Sort keys understood by SortAssets.
const (
	SortEpisodeNumber = "episode_number"
	SortStartTime     = "start_time"
)

const searchPageSize = "100"

// ErrEmptyQuery is returned by NormalizeSearch for a blank query.
var ErrEmptyQuery = errors.New("search: empty query")

// Expand resolves queries against the asset backend and returns the mapped
// assets as one group, in query order. Each query's assets are sorted by its
// SortBy key when set.
func (n *Normalizer) Expand(ctx context.Context, token, key, label string, queries ...catalog.AssetQuery) (*catalog.AssetGroup, error) {
	g := &catalog.AssetGroup{Key: key, Title: label, Assets: []catalog.Asset{}}
	var split []catalog.AssetQuery
	for _, q := range queries {
		split = append(split, q.Split()...)
	}
	for _, q := range split {
		params := url.Values{}
		if len(q.BrandIDs) > 0 {
			params.Set("brand_ids", strings.Join(q.BrandIDs, ","))
		} else {
			params.Set("video_ids", strings.Join(q.VideoIDs, ","))
		}
		if q.Type != "" {
			params.Set("type", q.Type)
		}
		raws, err := n.search(ctx, token, params)
		if err != nil {
			return nil, err
		}
		assets, err := n.mapper.MapAll(raws, catalog.MapOptions{})
		if err != nil {
			return nil, err
		}
		if q.SortBy != "" {
			SortAssets(assets, q.SortBy)
		}
		g.Assets = append(g.Assets, assets...)
	}
	return g, nil
}

// NormalizeSearch runs a free-text search restricted to movies and series.
func (n *Normalizer) NormalizeSearch(ctx context.Context, token, query string) (*catalog.AssetGroup, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	raws, err := n.search(ctx, token, url.Values{"q": {query}, "type": {"movie,series"}})
	if err != nil {
		return nil, err
	}
	assets, err := n.mapper.MapAll(raws, catalog.MapOptions{Search: true})
	if err != nil {
		return nil, err
	}
	return &catalog.AssetGroup{Key: "search", Title: query, Assets: assets}, nil
}

// Episodes returns the episodes of a series, optionally limited to one
// season, sorted by season and episode number.
func (n *Normalizer) Episodes(ctx context.Context, token, brandID string, season int) (*catalog.AssetGroup, error) {
	params := url.Values{"brand_ids": {brandID}, "type": {"episode"}}
	if season > 0 {
		params.Set("season", strconv.Itoa(season))
	}
	raws, err := n.search(ctx, token, params)
	if err != nil {
		return nil, err
	}
	assets, err := n.mapper.MapAll(raws, catalog.MapOptions{})
	if err != nil {
		return nil, err
	}
	if season > 0 {
		kept := assets[:0]
		for _, a := range assets {
			if a.Season == 0 || a.Season == season {
				kept = append(kept, a)
			}
		}
		assets = kept
	}
	SortAssets(assets, SortEpisodeNumber)
	return &catalog.AssetGroup{Key: brandID, Title: brandID, Assets: assets}, nil
}

func (n *Normalizer) search(ctx context.Context, token string, params url.Values) ([]json.RawMessage, error) {
	base, err := n.cfg.Endpoint(config.EndpointSearch)
	if err != nil {
		return nil, err
	}
	loc, err := config.ParseLocale(n.cfg.Locale())
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"site":      {loc.Site()},
		"client":    {n.client},
		"page_size": {searchPageSize},
	}
	for k, v := range params {
		q[k] = v
	}
	var resp struct {
		Assets []json.RawMessage `json:"assets"`
	}
	err = n.api.DoJSON(ctx, upstream.Request{
		Endpoint: "search",
		URL:      safeurl.Join(base, "search"),
		Query:    q,
		Header:   authHeader(token),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("asset search: %w", err)
	}
	return resp.Assets, nil
}

// SortAssets sorts in place, stable and ascending, by key. Unknown keys leave
// the order unchanged.
func SortAssets(assets []catalog.Asset, key string) {
	switch key {
	case SortEpisodeNumber:
		sort.SliceStable(assets, func(i, j int) bool {
			if assets[i].Season != assets[j].Season {
				return assets[i].Season < assets[j].Season
			}
			return assets[i].Episode < assets[j].Episode
		})
	case SortStartTime:
		sort.SliceStable(assets, func(i, j int) bool {
			return assets[i].StartTime.Before(assets[j].StartTime)
		})
	}
}
