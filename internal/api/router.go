package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"copier-fleet-backend/internal/mw"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	JWTSecret       []byte
	RateLimitPerSec float64
	RateLimitBurst  int
	CacheTTL        time.Duration
	Logger          *zap.Logger
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(opts.Logger))

	// Keyed by IP before authentication and by actor after it.
	rateLimiter := mw.RateLimiter(rate.Limit(opts.RateLimitPerSec), opts.RateLimitBurst)

	cacheStore := cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	caching := mw.Cache(cacheStore, opts.CacheTTL)

	api := r.Group("/api")
	api.GET("/vapid_public_key", rateLimiter, h.GetVAPIDPublicKey)

	authed := api.Group("", mw.Auth(opts.JWTSecret), rateLimiter, caching)
	{
		authed.GET("/readings", h.GetMonth)
		authed.GET("/readings/export", h.ExportMonth)
		authed.POST("/readings/batch", h.PostBatch)
		authed.PUT("/machines/:machine_id/readings/:period", h.PutReading)
		authed.DELETE("/machines/:machine_id/readings/:period", h.DeleteReading)

		authed.POST("/submissions", h.Submit)
		authed.DELETE("/submissions/:period", h.Unlock)

		authed.POST("/models/:model_id/parts", h.CreateModelPart)
		authed.POST("/machines/:machine_id/orders", h.RecordOrder)
		authed.GET("/machines/:machine_id/consumables", h.GetConsumables)
		authed.GET("/machines/:machine_id/life", h.GetLife)
		authed.DELETE("/orders/:order_id", h.DeleteOrder)
		authed.POST("/orders/import", h.ImportOrders)

		authed.GET("/subscriptions", h.GetSubscription)
		authed.PUT("/subscriptions", h.PutSubscription)
		authed.DELETE("/subscriptions", h.DeleteSubscription)
	}

	return r
}
