package indexer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/snapetech/cmore/internal/catalog"
	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/upstream"
)

const epgQuery = `query EpgQuery($date: String!) {
  epg(date: $date) {
    days {
      channels {
        asset { id }
        channelId
        name
        title
        schedules {
          calendarDate
          nextStart
          isLive
          asset { title }
          program { title }
        }
      }
    }
  }
}`

type epgSchedule struct {
	CalendarDate string `json:"calendarDate"`
	NextStart    string `json:"nextStart"`
	IsLive       bool   `json:"isLive"`
	Asset        struct {
		Title string `json:"title"`
	} `json:"asset"`
	Program struct {
		Title string `json:"title"`
	} `json:"program"`
}

type epgChannel struct {
	Asset struct {
		ID string `json:"id"`
	} `json:"asset"`
	ChannelID string        `json:"channelId"`
	Name      string        `json:"name"`
	Title     string        `json:"title"`
	Schedules []epgSchedule `json:"schedules"`
}

// Channels returns today's channels with the programme airing now.
func (n *Normalizer) Channels(ctx context.Context, token string) ([]catalog.Node, error) {
	endpoint, err := n.cfg.Endpoint(config.EndpointGraphQL)
	if err != nil {
		return nil, err
	}
	loc, err := config.ParseLocale(n.cfg.Locale())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if n.mapper != nil && n.mapper.Now != nil {
		now = n.mapper.Now()
	}
	var resp struct {
		Data struct {
			EPG struct {
				Days []struct {
					Channels []epgChannel `json:"channels"`
				} `json:"days"`
			} `json:"epg"`
		} `json:"data"`
	}
	err = n.api.DoJSON(ctx, upstream.Request{
		Endpoint: "epg",
		Method:   "POST",
		URL:      endpoint,
		Query:    url.Values{"country": {loc.Region}},
		Header:   authHeader(token),
		Body: map[string]interface{}{
			"operationName": "EpgQuery",
			"variables":     map[string]string{"date": now.Format("2006-01-02")},
			"query":         epgQuery,
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	if len(resp.Data.EPG.Days) == 0 {
		return []catalog.Node{}, nil
	}
	chans := resp.Data.EPG.Days[0].Channels
	nodes := make([]catalog.Node, 0, len(chans))
	for _, c := range chans {
		title := firstNonEmpty(c.Title, c.Name)
		nodes = append(nodes, &catalog.ChannelSlot{
			Channel: channelAsset(firstNonEmpty(c.ChannelID, c.Asset.ID), c.Asset.ID, title, airing(c.Schedules, now)),
		})
	}
	return nodes, nil
}

// airing picks the title of the schedule running at now: one flagged live,
// else the last one that started before now.
func airing(schedules []epgSchedule, now time.Time) string {
	current := ""
	for _, s := range schedules {
		title := firstNonEmpty(s.Program.Title, s.Asset.Title)
		if s.IsLive {
			return title
		}
		start, err := time.Parse(time.RFC3339, s.CalendarDate)
		if err != nil || start.After(now) {
			continue
		}
		if next, err := time.Parse(time.RFC3339, s.NextStart); err == nil && !next.After(now) {
			continue
		}
		current = title
	}
	return current
}
