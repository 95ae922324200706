package external

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/internal"
	ics "github.com/arran4/golang-ical"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// RaceEvent is a single session of the race calendar
type RaceEvent struct {
	UID      string    `json:"uid"`
	Summary  string    `json:"summary"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type Schedule struct {
	url   string
	cache *internal.TieredCache
	fetch fetcher
}

func NewSchedule(url string, cache *internal.TieredCache, client *http.Client) *Schedule {
	return &Schedule{url: url, cache: cache, fetch: newFetcher(client)}
}

// Events returns the calendar sorted by start time
func (s *Schedule) Events(ctx context.Context) ([]RaceEvent, error) {
	raw, err := s.cache.GetOrRefresh(ctx, internal.CacheKey("schedule", s.url), s.refresh)
	if err != nil {
		return nil, err
	}
	var events []RaceEvent
	if err = json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decoding cached schedule: %w", err)
	}
	return events, nil
}

func (s *Schedule) refresh(ctx context.Context) ([]byte, error) {
	body, err := s.fetch.getUrlWithRetry(ctx, "schedule", s.url)
	if err != nil {
		return nil, err
	}
	events, err := ParseSchedule(body)
	if err != nil {
		return nil, &SourceError{Source: "schedule", URL: s.url, Err: err}
	}
	zap.S().Debugf("Fetched %d calendar events from %s", len(events), s.url)
	return json.Marshal(events)
}

// ParseSchedule reads the VEVENTs of an iCalendar document.
// Events without a start are skipped.
func ParseSchedule(body []byte) ([]RaceEvent, error) {
	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing calendar: %w", err)
	}

	events := make([]RaceEvent, 0, len(cal.Events()))
	for _, e := range cal.Events() {
		start, err := eventTime(e.GetStartAt, e.GetAllDayStartAt)
		if err != nil {
			zap.S().Debugf("Skipping calendar event %s: %s", e.Id(), err)
			continue
		}
		end, err := eventTime(e.GetEndAt, e.GetAllDayEndAt)
		if err != nil {
			end = start
		}
		events = append(events, RaceEvent{
			UID:      e.Id(),
			Summary:  propertyValue(e, ics.ComponentPropertySummary),
			Location: propertyValue(e, ics.ComponentPropertyLocation),
			Start:    start.UTC(),
			End:      end.UTC(),
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
	return events, nil
}

func eventTime(timed, allDay func() (time.Time, error)) (time.Time, error) {
	t, err := timed()
	if err == nil {
		return t, nil
	}
	return allDay()
}

func propertyValue(e *ics.VEvent, property ics.ComponentProperty) string {
	p := e.GetProperty(property)
	if p == nil {
		return ""
	}
	return p.Value
}
