package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/fleet"
	"copier-fleet-backend/internal/model"
	"copier-fleet-backend/internal/mw"
	"copier-fleet-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc     *fleet.Service
	store   store.Store
	webpush *webpush.Options
	loc     *time.Location
}

// NewHandler creates a new API handler. loc interprets date-only order dates.
func NewHandler(svc *fleet.Service, s store.Store, webpushOptions *webpush.Options, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		svc:     svc,
		store:   s,
		webpush: webpushOptions,
		loc:     loc,
	}
}

// actor returns the authenticated caller. Routes without mw.Auth have none and are rejected.
func actor(c *gin.Context) (model.Actor, bool) {
	a, ok := mw.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return a, ok
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

// respondError maps the engine's error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var locked *errs.LockedError
	switch {
	case errors.Is(err, errs.ErrConfig):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": errs.Fields(err)})
	case errors.Is(err, errs.ErrInvalid):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": errs.Fields(err)})
	case errors.As(err, &locked):
		c.AbortWithStatusJSON(http.StatusLocked, gin.H{
			"error":  err.Error(),
			"year":   locked.Year,
			"month":  locked.Month,
			"branch": locked.Branch,
		})
	case errors.Is(err, errs.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrIncomplete), errors.Is(err, errs.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
