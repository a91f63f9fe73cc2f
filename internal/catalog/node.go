package catalog

import "strings"

// NodeKind discriminates the Node variants.
type NodeKind string

const (
	NodeCarousel NodeKind = "carousel"
	NodeAssets   NodeKind = "assets"
	NodeDate     NodeKind = "date"
	NodeChannel  NodeKind = "channel"
	NodePageLink NodeKind = "page_link"
)

// Node is one entry of a normalized page. The set of implementations is closed:
// *CarouselGroup, *AssetGroup, *DateGroup, *ChannelSlot and *PageLink.
type Node interface {
	ID() string
	Label() string
	Kind() NodeKind
	node()
}

// AssetQuery is a deferred lookup against the asset backend. Exactly one of
// VideoIDs and BrandIDs is set.
type AssetQuery struct {
	VideoIDs []string `json:"videoIds,omitempty"`
	BrandIDs []string `json:"brandIds,omitempty"`
	Type     string   `json:"type,omitempty"`   // "series" for brand lookups
	SortBy   string   `json:"sortBy,omitempty"` // episode_number | start_time
}

// Empty reports whether q would look nothing up.
func (q AssetQuery) Empty() bool {
	return len(q.VideoIDs) == 0 && len(q.BrandIDs) == 0
}

// Split returns q as single-list queries, brand lookup first. A query that
// carries both lists becomes two; Type is kept only on the brand half.
func (q AssetQuery) Split() []AssetQuery {
	if len(q.BrandIDs) == 0 || len(q.VideoIDs) == 0 {
		if q.Empty() {
			return nil
		}
		return []AssetQuery{q}
	}
	brands, videos := q, q
	brands.VideoIDs = nil
	videos.BrandIDs = nil
	videos.Type = ""
	return []AssetQuery{brands, videos}
}

// CarouselGroup is a titled row of assets, resolved lazily via its queries.
type CarouselGroup struct {
	Key     string       `json:"id"`
	Title   string       `json:"title"`
	Queries []AssetQuery `json:"queries"`
}

func (c *CarouselGroup) ID() string     { return c.Key }
func (c *CarouselGroup) Label() string  { return c.Title }
func (c *CarouselGroup) Kind() NodeKind { return NodeCarousel }
func (c *CarouselGroup) node()          {}

// AssetGroup is a resolved list of assets.
type AssetGroup struct {
	Key    string  `json:"id"`
	Title  string  `json:"title"`
	Assets []Asset `json:"assets"`
}

func (g *AssetGroup) ID() string     { return g.Key }
func (g *AssetGroup) Label() string  { return g.Title }
func (g *AssetGroup) Kind() NodeKind { return NodeAssets }
func (g *AssetGroup) node()          {}

// DateGroup holds the events scheduled on one displayable date.
type DateGroup struct {
	Date  string     `json:"date"`
	Query AssetQuery `json:"query"`
}

func (d *DateGroup) ID() string     { return d.Date }
func (d *DateGroup) Label() string  { return d.Date }
func (d *DateGroup) Kind() NodeKind { return NodeDate }
func (d *DateGroup) node()          {}

// ChannelSlot is a live channel and what it is showing.
type ChannelSlot struct {
	Channel Asset `json:"channel"`
}

func (c *ChannelSlot) ID() string     { return c.Channel.ID }
func (c *ChannelSlot) Label() string  { return c.Channel.Label }
func (c *ChannelSlot) Kind() NodeKind { return NodeChannel }
func (c *ChannelSlot) node()          {}

// PageLink points at another page.
type PageLink struct {
	PageID    string `json:"pageId"`
	Namespace string `json:"namespace"`
	Title     string `json:"title"`
}

func (p *PageLink) ID() string     { return p.PageID }
func (p *PageLink) Label() string  { return p.Title }
func (p *PageLink) Kind() NodeKind { return NodePageLink }
func (p *PageLink) node()          {}

// HasChildren reports whether n is a leaf or has at least one child.
func HasChildren(n Node) bool {
	switch v := n.(type) {
	case *CarouselGroup:
		for _, q := range v.Queries {
			if !q.Empty() {
				return true
			}
		}
		return false
	case *AssetGroup:
		return len(v.Assets) > 0
	case *DateGroup:
		return !v.Query.Empty()
	case *ChannelSlot:
		return true
	case *PageLink:
		return strings.TrimSpace(v.PageID) != ""
	}
	return false
}

// Prune drops nodes without children, keeping order.
func Prune(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if HasChildren(n) {
			out = append(out, n)
		}
	}
	return out
}

// Tagged is a Node with its kind spelled out, for JSON output.
type Tagged struct {
	Kind NodeKind `json:"kind"`
	Node Node     `json:"node"`
}

// Tag wraps nodes for encoding.
func Tag(nodes []Node) []Tagged {
	out := make([]Tagged, len(nodes))
	for i, n := range nodes {
		out[i] = Tagged{Kind: n.Kind(), Node: n}
	}
	return out
}
