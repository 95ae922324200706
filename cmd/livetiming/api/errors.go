package api

import (
	"errors"
	"net/http"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/external"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/postgresql"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

// HandleInternalServerError logs err and answers 500 without leaking it
func HandleInternalServerError(c *gin.Context, err error) {
	zap.S().Errorw("Internal server error",
		"error", err,
		"path", c.FullPath(),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "The server had an internal error."})
}

func HandleInvalidInputError(c *gin.Context, err error) {
	zap.S().Debugw("Invalid input error",
		"error", err,
		"path", c.FullPath(),
	)
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "You have provided a wrong input. Please check your parameters."})
}

// HandleUpstreamError answers 502 for failing external sources and 503 when the database is not configured
func HandleUpstreamError(c *gin.Context, err error) {
	var sourceErr *external.SourceError
	switch {
	case errors.As(err, &sourceErr):
		zap.S().Warnw("Upstream source error",
			"error", err,
			"source", sourceErr.Source,
		)
		c.AbortWithStatusJSON(http.StatusBadGateway, errorResponse{Error: "An upstream data source is currently unavailable."})
	case errors.Is(err, postgresql.ErrNotAvailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "Persistence is not available."})
	default:
		HandleInternalServerError(c, err)
	}
}
