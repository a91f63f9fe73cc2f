package catalog

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Localized holds one field's values keyed by language, decoded from
// locale-suffixed keys such as title_sv and title_da.
type Localized map[string]string

// Get returns the value for lang, or "".
func (l Localized) Get(lang string) string {
	return l[strings.ToLower(lang)]
}

// Prefixes of the locale-suffixed fields we read.
const (
	fieldTitle       = "title_"
	fieldSeriesTitle = "series_title_"
	fieldGenre       = "genre_description_"
	fieldPlot        = "description_extended_"
	fieldPlotOutline = "description_short_"
	fieldSeasons     = "seasons_cmore_"
)

var localizedPrefixes = []string{fieldTitle, fieldSeriesTitle, fieldGenre, fieldPlot, fieldPlotOutline}

type credit struct {
	Name     string `json:"name"`
	Function string `json:"function"`
}

type image struct {
	URL           string `json:"url"`
	Localizations []struct {
		Language string `json:"language"`
		URL      string `json:"url"`
	} `json:"localizations"`
}

// rawAsset is one record from the asset backend, decoded once.
type rawAsset struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	VideoID       string `json:"video_id"`
	BrandID       string `json:"brand_id"`
	OriginalTitle struct {
		Text string `json:"text"`
	} `json:"original_title"`
	Country        flexString      `json:"country"`
	Studio         flexString      `json:"studio"`
	Credits        []credit        `json:"credits"`
	ProductionYear flexInt         `json:"production_year"`
	Duration       flexInt         `json:"duration"`
	Season         flexInt         `json:"season"`
	EpisodeNumber  flexInt         `json:"episode_number"`
	StartTime      string          `json:"start_time"`
	EndOfLive      json.RawMessage `json:"end_of_live"`
	Poster         image           `json:"poster"`
	Landscape      image           `json:"landscape"`

	localized map[string]Localized // prefix -> lang -> value
	seasons   map[string]int       // region -> season count
}

func decodeRaw(data []byte) (*rawAsset, error) {
	var r rawAsset
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	r.localized = make(map[string]Localized, len(localizedPrefixes))
	r.seasons = map[string]int{}
	for key, val := range fields {
		if region, ok := suffixAfter(key, fieldSeasons); ok {
			var list []json.RawMessage
			if json.Unmarshal(val, &list) == nil {
				r.seasons[region] = len(list)
			}
			continue
		}
		for _, p := range localizedPrefixes {
			lang, ok := suffixAfter(key, p)
			if !ok {
				continue
			}
			var s string
			if json.Unmarshal(val, &s) != nil {
				break
			}
			if r.localized[p] == nil {
				r.localized[p] = Localized{}
			}
			r.localized[p][lang] = s
			break
		}
	}
	return &r, nil
}

// suffixAfter returns the language/region code following prefix in key.
func suffixAfter(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	code := key[len(prefix):]
	if len(code) < 2 || len(code) > 3 {
		return "", false
	}
	for _, c := range code {
		if c < 'a' || c > 'z' {
			return "", false
		}
	}
	return code, true
}

func (r *rawAsset) text(prefix, lang string) string {
	return r.localized[prefix].Get(lang)
}

func (r *rawAsset) credits(function string) []string {
	var out []string
	for _, c := range r.Credits {
		if c.Function == function && c.Name != "" {
			out = append(out, c.Name)
		}
	}
	return out
}

// hasEnded reports whether the end-of-live marker is set to anything but
// null, false or "".
func (r *rawAsset) hasEnded() bool {
	switch strings.TrimSpace(string(r.EndOfLive)) {
	case "", "null", "false", `""`:
		return false
	}
	return true
}

// flexString accepts a string, a number or a list of strings (joined with ", ").
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) == nil {
		*f = flexString(s)
		return nil
	}
	var list []string
	if json.Unmarshal(b, &list) == nil {
		*f = flexString(strings.Join(list, ", "))
		return nil
	}
	var n json.Number
	if json.Unmarshal(b, &n) == nil {
		*f = flexString(n.String())
	}
	return nil
}

// flexInt accepts 7, "7" and null.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt(n)
		return nil
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(fl)
	}
	return nil
}
