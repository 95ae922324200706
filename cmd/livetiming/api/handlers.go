package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/external"
	"github.com/Frank-III/f1-swifty-sub002/internal"
	"github.com/Frank-III/f1-swifty-sub002/pkg/datamodel"
	"github.com/gin-gonic/gin"
)

var driverNumberPattern = regexp.MustCompile(`^[0-9]{1,3}$`)

// First season of the world championship
const firstSeason = 1950

func (s *Server) getHealthHandler(c *gin.Context) {
	if s.ShuttingDown != nil && s.ShuttingDown() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting down"})
		return
	}
	stats := s.State.Statistics()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"subscribers": stats.SubscriberCount,
		"uptime":      time.Since(stats.StartedAt).Round(time.Second).String(),
	})
}

// getStateHandler answers the canonical state with an ETag of its encoding
func (s *Server) getStateHandler(c *gin.Context) {
	body, err := s.State.Snapshot().MarshalJSON()
	if err != nil {
		HandleInternalServerError(c, err)
		return
	}
	etag := internal.AsETag(body)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "no-cache")
	if matchesETag(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func matchesETag(header string, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}

func (s *Server) getStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.State.Statistics())
}

func (s *Server) getDriversHandler(c *gin.Context) {
	c.JSON(http.StatusOK, datamodel.DecodeDriverList(s.State.Snapshot()))
}

func (s *Server) getLaptimeHandler(c *gin.Context) {
	driverNumber, ok := driverNumberParam(c)
	if !ok {
		return
	}
	points, err := s.Analytics.GetLaptimes(c.Request.Context(), driverNumber)
	if err != nil {
		HandleUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

func (s *Server) getGapHandler(c *gin.Context) {
	driverNumber, ok := driverNumberParam(c)
	if !ok {
		return
	}
	points, err := s.Analytics.GetGaps(c.Request.Context(), driverNumber)
	if err != nil {
		HandleUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

func (s *Server) getAnalyticsHealthHandler(c *gin.Context) {
	if !s.Analytics.IsAvailable() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"database": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"database": "ok"})
}

func (s *Server) getScheduleHandler(c *gin.Context) {
	events, err := s.Schedule.Events(c.Request.Context())
	if err != nil {
		HandleUpstreamError(c, err)
		return
	}
	if events == nil {
		events = []external.RaceEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) getStandingsHandler(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < firstSeason || year > time.Now().Year()+1 {
		HandleInvalidInputError(c, fmt.Errorf("invalid year %q", c.Param("year")))
		return
	}
	drivers, teams, err := s.Standings.Season(c.Request.Context(), year)
	if err != nil {
		HandleUpstreamError(c, err)
		return
	}
	if drivers == nil {
		drivers = []external.DriverStanding{}
	}
	if teams == nil {
		teams = []external.TeamStanding{}
	}
	c.JSON(http.StatusOK, gin.H{"drivers": drivers, "teams": teams})
}

func driverNumberParam(c *gin.Context) (string, bool) {
	driverNumber := c.Param("driverNumber")
	if !driverNumberPattern.MatchString(driverNumber) {
		HandleInvalidInputError(c, fmt.Errorf("invalid driver number %q", driverNumber))
		return "", false
	}
	return driverNumber, true
}
