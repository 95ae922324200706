package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Frank-III/f1-swifty-sub002/internal"
	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

var ErrNoTable = errors.New("no results table found")

type DriverStanding struct {
	Position    string  `json:"position"`
	Driver      string  `json:"driver"`
	Nationality string  `json:"nationality"`
	Team        string  `json:"team"`
	Points      float64 `json:"points"`
}

type TeamStanding struct {
	Position string  `json:"position"`
	Team     string  `json:"team"`
	Points   float64 `json:"points"`
}

type Standings struct {
	baseURL string
	cache   *internal.TieredCache
	fetch   fetcher
}

func NewStandings(baseURL string, cache *internal.TieredCache, client *http.Client) *Standings {
	return &Standings{baseURL: strings.TrimSuffix(baseURL, "/"), cache: cache, fetch: newFetcher(client)}
}

// Season returns the driver and team championship of year. Both tables are fetched concurrently.
func (s *Standings) Season(ctx context.Context, year int) ([]DriverStanding, []TeamStanding, error) {
	var drivers []DriverStanding
	var teams []TeamStanding

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.cached(gctx, year, "drivers", func(body []byte) (interface{}, error) {
			return ParseDriverStandings(body)
		}, &drivers)
	})
	g.Go(func() error {
		return s.cached(gctx, year, "team", func(body []byte) (interface{}, error) {
			return ParseTeamStandings(body)
		}, &teams)
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return drivers, teams, nil
}

func (s *Standings) cached(ctx context.Context, year int, page string, parse func([]byte) (interface{}, error), out interface{}) error {
	url := fmt.Sprintf("%s/%d/%s.html", s.baseURL, year, page)
	raw, err := s.cache.GetOrRefresh(ctx, internal.CacheKey("standings", page, year), func(ctx context.Context) ([]byte, error) {
		body, err := s.fetch.getUrlWithRetry(ctx, "standings", url)
		if err != nil {
			return nil, err
		}
		parsed, err := parse(body)
		if err != nil {
			return nil, &SourceError{Source: "standings", URL: url, Err: err}
		}
		return json.Marshal(parsed)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// ParseDriverStandings reads the rows of the first results table.
// Columns: position, driver, nationality, team, points.
func ParseDriverStandings(body []byte) ([]DriverStanding, error) {
	rows, err := tableRows(body)
	if err != nil {
		return nil, err
	}
	standings := make([]DriverStanding, 0, len(rows))
	for _, cells := range rows {
		if len(cells) < 5 {
			continue
		}
		standings = append(standings, DriverStanding{
			Position:    cells[0],
			Driver:      cells[1],
			Nationality: cells[2],
			Team:        cells[3],
			Points:      parsePoints(cells[4]),
		})
	}
	return standings, nil
}

// ParseTeamStandings reads position, team and points of the first results table
func ParseTeamStandings(body []byte) ([]TeamStanding, error) {
	rows, err := tableRows(body)
	if err != nil {
		return nil, err
	}
	standings := make([]TeamStanding, 0, len(rows))
	for _, cells := range rows {
		if len(cells) < 3 {
			continue
		}
		standings = append(standings, TeamStanding{
			Position: cells[0],
			Team:     cells[1],
			Points:   parsePoints(cells[len(cells)-1]),
		})
	}
	return standings, nil
}

// tableRows returns the whitespace-normalized cell texts of every body row of the first table
func tableRows(body []byte) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, ErrNoTable
	}

	var rows [][]string
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(td.Text()), " "))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	return rows, nil
}

func parsePoints(s string) float64 {
	points, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return points
}
