package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/cmore/internal/config"
	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/metrics"
	"github.com/snapetech/cmore/internal/safeurl"
)

// ErrUnknownType is returned by Map for records whose type is not handled.
// Listing code logs and skips them.
var ErrUnknownType = errors.New("catalog: unknown asset type")

// Raw type values of the asset backend.
const (
	rawMovie             = "movie"
	rawSeries            = "series"
	rawEpisode           = "episode"
	rawUnscriptedEpisode = "unscripted_episode"
	rawSport             = "sport"
	rawLiveEvent         = "live_event"
	rawChannel           = "channel"
)

// MapOptions tunes a single Map call.
type MapOptions struct {
	// Search marks records from free-text search, which may omit type. An
	// untyped record is then inferred as a series (brand id only) or a movie.
	Search bool
}

// Mapper turns raw asset records into Assets for one locale.
type Mapper struct {
	Locale config.Locale
	// ImageProxy is the proxy URL. It may contain {source}; otherwise
	// ?source=<url> is appended. Empty disables proxying.
	ImageProxy  string
	ProxyExempt []string // hosts that reject proxying
	Now         func() time.Time

	logger zerolog.Logger
}

// NewMapper returns a Mapper for loc.
func NewMapper(loc config.Locale, imageProxy string, exempt []string) *Mapper {
	return &Mapper{
		Locale:      loc,
		ImageProxy:  imageProxy,
		ProxyExempt: exempt,
		Now:         time.Now,
		logger:      xlog.WithComponent("mapper"),
	}
}

// Map converts one raw record. It does not modify any state, so mapping the
// same record twice yields equal Assets (given the same clock).
func (m *Mapper) Map(data []byte, opts MapOptions) (Asset, error) {
	r, err := decodeRaw(data)
	if err != nil {
		return Asset{}, fmt.Errorf("decode asset: %w", err)
	}
	typ := r.Type
	if typ == "" && opts.Search {
		typ = rawMovie
		if r.BrandID != "" && r.VideoID == "" {
			typ = rawSeries
		}
	}

	lang := m.Locale.Language
	a := Asset{
		ID:            firstNonEmpty(r.ID, r.VideoID, r.BrandID),
		VideoID:       r.VideoID,
		BrandID:       r.BrandID,
		Title:         r.text(fieldTitle, lang),
		OriginalTitle: r.OriginalTitle.Text,
		Plot:          r.text(fieldPlot, lang),
		PlotOutline:   r.text(fieldPlotOutline, lang),
		Year:          int(r.ProductionYear),
		Duration:      int(r.Duration),
		Genre:         r.text(fieldGenre, lang),
		Country:       string(r.Country),
		Studio:        string(r.Studio),
		Cast:          r.credits("actor"),
		Directors:     r.credits("director"),
	}
	poster := m.proxy(m.pickImage(r.Poster))
	landscape := m.proxy(m.pickImage(r.Landscape))
	a.Artwork = Artwork{Poster: poster, Fanart: landscape, Landscape: landscape, Thumb: landscape}

	switch typ {
	case rawMovie:
		a.Kind = KindMovie
		a.Artwork.Thumb = poster
		a.Playable = true
		a.Label = a.Title
	case rawSeries:
		a.Kind = KindSeries
		a.SeasonCount = r.seasons[m.Locale.Region]
		a.SeriesTitle = a.Title
		a.Label = a.Title
	case rawEpisode, rawUnscriptedEpisode:
		a.Kind = KindEpisode
		a.Season = int(r.Season)
		a.Episode = int(r.EpisodeNumber)
		a.SeriesTitle = r.text(fieldSeriesTitle, lang)
		a.Playable = true
		label, ok := FormatEpisodeTitle(a.Title, a.Season, a.Episode)
		if !ok {
			m.logger.Debug().Str(xlog.FieldVideoID, a.VideoID).Msg("no season/episode information")
		}
		a.Label = label
	case rawSport, rawLiveEvent:
		a.Kind = KindSport
		start, err := parseStartTime(r.StartTime)
		if err != nil {
			return Asset{}, fmt.Errorf("sport event %s: start_time %q: %w", a.ID, r.StartTime, err)
		}
		a.StartTime = start
		a.Status = SportStatusAt(start, m.now(), r.hasEnded())
		a.Playable = a.Status != StatusUpcoming
		a.Label = sportLabel(a.Status, start, a.Title)
	case rawChannel:
		a.Kind = KindChannel
		a.Playable = true
		a.Label = a.Title
	default:
		return Asset{}, fmt.Errorf("%w: %q", ErrUnknownType, r.Type)
	}
	return a, nil
}

// MapAll maps a batch in order, logging and skipping records of unknown type.
// Other mapping failures abort the batch.
func (m *Mapper) MapAll(raws []json.RawMessage, opts MapOptions) ([]Asset, error) {
	out := make([]Asset, 0, len(raws))
	for _, raw := range raws {
		a, err := m.Map(raw, opts)
		if errors.Is(err, ErrUnknownType) {
			typ := peekType(raw)
			metrics.IncSkippedAsset(typ)
			m.logger.Info().Str(xlog.FieldAssetType, typ).Msg("skipping unsupported asset")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func peekType(raw json.RawMessage) string {
	var v struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &v)
	return v.Type
}

// pickImage resolves an image: the localization for the active locale (full
// tag, then language), else the first localization, else the plain url.
func (m *Mapper) pickImage(img image) string {
	for _, want := range []string{m.Locale.Tag, m.Locale.Language} {
		for _, l := range img.Localizations {
			if l.URL != "" && strings.EqualFold(strings.ReplaceAll(l.Language, "-", "_"), want) {
				return l.URL
			}
		}
	}
	for _, l := range img.Localizations {
		if l.URL != "" {
			return l.URL
		}
	}
	return img.URL
}

// proxy rewrites u through the image proxy unless its host is exempt.
func (m *Mapper) proxy(u string) string {
	if u == "" || m.ImageProxy == "" || safeurl.HostMatches(u, m.ProxyExempt) {
		return u
	}
	if strings.Contains(m.ImageProxy, "{source}") {
		return strings.ReplaceAll(m.ImageProxy, "{source}", url.QueryEscape(u))
	}
	sep := "?"
	if strings.Contains(m.ImageProxy, "?") {
		sep = "&"
	}
	return m.ImageProxy + sep + "source=" + url.QueryEscape(u)
}

func (m *Mapper) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// startTimeLayouts are tried in order; the feed mixes "+02:00" and "+0200".
var startTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05-0700"}

func parseStartTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	var firstErr error
	for _, layout := range startTimeLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
