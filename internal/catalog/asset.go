// Package catalog is the normalized model of the service catalog: Asset value
// objects, the page Node tree and the Mapper that builds Assets from raw records.
package catalog

import (
	"fmt"
	"time"
)

// Kind is the normalized asset kind.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindSeries  Kind = "series"
	KindEpisode Kind = "episode"
	KindSport   Kind = "sport"
	KindChannel Kind = "channel"
)

// SportStatus is where a sport event is relative to now.
type SportStatus string

const (
	StatusUpcoming SportStatus = "upcoming"
	StatusLive     SportStatus = "live"
	StatusArchive  SportStatus = "archive"
)

// Artwork holds proxied image URLs by role. Empty means none.
type Artwork struct {
	Poster    string `json:"poster,omitempty"`
	Fanart    string `json:"fanart,omitempty"`
	Landscape string `json:"landscape,omitempty"`
	Thumb     string `json:"thumb,omitempty"`
}

// Asset is one normalized catalog record. Assets are built by Mapper and
// never modified afterwards.
type Asset struct {
	Kind          Kind     `json:"kind"`
	ID            string   `json:"id"`
	VideoID       string   `json:"videoId,omitempty"` // playback id
	BrandID       string   `json:"brandId,omitempty"` // series id
	Title         string   `json:"title"`
	Label         string   `json:"label"` // display title, decorated per kind
	OriginalTitle string   `json:"originalTitle,omitempty"`
	Plot          string   `json:"plot,omitempty"`
	PlotOutline   string   `json:"plotOutline,omitempty"`
	Year          int      `json:"year,omitempty"`
	Duration      int      `json:"duration,omitempty"` // seconds
	Genre         string   `json:"genre,omitempty"`
	Country       string   `json:"country,omitempty"`
	Studio        string   `json:"studio,omitempty"`
	Cast          []string `json:"cast,omitempty"`
	Directors     []string `json:"directors,omitempty"`
	Artwork       Artwork  `json:"artwork"`
	Playable      bool     `json:"playable"`

	// Series
	SeasonCount int `json:"seasonCount,omitempty"`

	// Episode
	Season      int    `json:"season,omitempty"`
	Episode     int    `json:"episode,omitempty"`
	SeriesTitle string `json:"seriesTitle,omitempty"`

	// Sport
	StartTime time.Time   `json:"startTime,omitempty"`
	Status    SportStatus `json:"status,omitempty"`

	// Channel
	NowPlaying string `json:"nowPlaying,omitempty"`
}

// FormatEpisodeTitle prefixes title with S<season>E<episode>, zero-padded to
// two digits. It returns title unchanged (ok=false) when either number is missing.
func FormatEpisodeTitle(title string, season, episode int) (string, bool) {
	if season <= 0 || episode <= 0 {
		return title, false
	}
	return fmt.Sprintf("S%02dE%02d: %s", season, episode, title), true
}

// sportLabel decorates a sport event title with its color-coded status.
func sportLabel(status SportStatus, start time.Time, title string) string {
	switch status {
	case StatusUpcoming:
		return fmt.Sprintf("[COLOR blue]%s[/COLOR] %s", start.Local().Format("2006-01-02 15:04"), title)
	case StatusLive:
		return "[COLOR red]LIVE[/COLOR] " + title
	default:
		return "[COLOR grey]" + title + "[/COLOR]"
	}
}

// SportStatusAt derives the status of an event starting at start. hasEnded is
// the end-of-live marker of the raw record.
func SportStatusAt(start, now time.Time, hasEnded bool) SportStatus {
	switch {
	case start.After(now):
		return StatusUpcoming
	case hasEnded:
		return StatusArchive
	default:
		return StatusLive
	}
}
