package indexer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnrecognizedPageShape is matched (errors.Is) by every *ShapeError.
var ErrUnrecognizedPageShape = errors.New("unrecognized page shape")

// ShapeError reports a page document that matches none of the known shapes.
type ShapeError struct {
	PageID    string
	Namespace string
	Keys      []string // top-level keys that were present
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("page %q (namespace %q): %s; keys: %s",
		e.PageID, e.Namespace, ErrUnrecognizedPageShape, strings.Join(e.Keys, ","))
}

func (e *ShapeError) Unwrap() error {
	return ErrUnrecognizedPageShape
}

// Shape names the layout a page document was recognized as.
type Shape string

const (
	ShapeTargets    Shape = "targets"
	ShapeNowPlaying Shape = "now_playing"
	ShapeScheduled  Shape = "scheduled_events"
	ShapeCarousels  Shape = "carousels"
	ShapePageLinks  Shape = "page_links"
)

type rawTarget struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	VideoID string `json:"videoId"`
}

type rawCarousel struct {
	ID         string `json:"id"`
	Attributes struct {
		Headline string `json:"headline"`
	} `json:"attributes"`
	Targets []rawTarget `json:"targets"`
}

type rawScheduledDate struct {
	DisplayableDate string `json:"displayableDate"`
	Events          []struct {
		VideoID string `json:"videoId"`
	} `json:"events"`
}

type rawNowPlaying struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	Name      string `json:"name"`
	Program   struct {
		Title string `json:"title"`
	} `json:"program"`
}

type rawPageLink struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Headline  string `json:"headline"`
}

type rawContainers struct {
	Showcase *struct {
		Items []struct {
			Targets []rawTarget `json:"targets"`
		} `json:"items"`
	} `json:"showcase"`
	Sections        json.RawMessage `json:"section_containers"`
	Genres          json.RawMessage `json:"genre_containers"`
	PageLinkSection *struct {
		PageLinks json.RawMessage `json:"pageLinks"`
	} `json:"page_link_container"`
}

// pageShape is a page document decoded once into exactly one variant.
type pageShape struct {
	kind       Shape
	targets    []rawTarget
	nowPlaying []rawNowPlaying
	scheduled  []rawScheduledDate
	showcase   []string // video ids
	carousels  []rawCarousel
	links      []rawPageLink
}

// decodeShape classifies data (the page's "data" object). Key presence decides,
// in this order: targets, nowPlaying, scheduledEvents, section/genre
// containers, then page links (only for root pages).
func decodeShape(data json.RawMessage, root bool) (*pageShape, []string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("decode page data: %w", err)
	}
	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if present(top["targets"]) {
		s := &pageShape{kind: ShapeTargets}
		return s, keys, json.Unmarshal(top["targets"], &s.targets)
	}
	if present(top["nowPlaying"]) {
		s := &pageShape{kind: ShapeNowPlaying}
		return s, keys, json.Unmarshal(top["nowPlaying"], &s.nowPlaying)
	}
	if present(top["scheduledEvents"]) {
		s := &pageShape{kind: ShapeScheduled}
		return s, keys, json.Unmarshal(top["scheduledEvents"], &s.scheduled)
	}
	if !present(top["containers"]) {
		return nil, keys, nil
	}
	var c rawContainers
	if err := json.Unmarshal(top["containers"], &c); err != nil {
		return nil, keys, fmt.Errorf("decode containers: %w", err)
	}
	if present(c.Sections) || present(c.Genres) {
		s := &pageShape{kind: ShapeCarousels}
		if c.Showcase != nil {
			for _, item := range c.Showcase.Items {
				if len(item.Targets) > 0 && item.Targets[0].VideoID != "" {
					s.showcase = append(s.showcase, item.Targets[0].VideoID)
				}
			}
		}
		for _, raw := range []json.RawMessage{c.Sections, c.Genres} {
			if !present(raw) {
				continue
			}
			var list []rawCarousel
			if err := json.Unmarshal(raw, &list); err != nil {
				return nil, keys, fmt.Errorf("decode carousels: %w", err)
			}
			s.carousels = append(s.carousels, list...)
		}
		return s, keys, nil
	}
	if root && c.PageLinkSection != nil && present(c.PageLinkSection.PageLinks) {
		s := &pageShape{kind: ShapePageLinks}
		return s, keys, json.Unmarshal(c.PageLinkSection.PageLinks, &s.links)
	}
	return nil, keys, nil
}

func present(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}
