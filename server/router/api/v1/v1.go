package v1

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/tagcache/internal/profile"
	tmiddleware "github.com/hrygo/tagcache/server/middleware"
	"github.com/hrygo/tagcache/server/runner/tagging"
	"github.com/hrygo/tagcache/server/stats"
	"github.com/hrygo/tagcache/store"
)

// Tagger runs tagging batches.
type Tagger interface {
	TagBatch(ctx context.Context, refs []string) ([]tagging.Result, error)
}

const (
	// maxBatchRefs bounds the references accepted by one request.
	maxBatchRefs = 1000
	statsMaxAge  = 30 * time.Second
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Tagger  Tagger

	rateLimiter *tmiddleware.RateLimiter
	stats       *stats.Collector
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, tagger Tagger) *APIV1Service {
	return &APIV1Service{
		Profile:     profile,
		Store:       store,
		Tagger:      tagger,
		rateLimiter: tmiddleware.NewRateLimiter(tmiddleware.DefaultRequestsPerSecond, tmiddleware.DefaultBurst),
		stats:       stats.NewCollector(store, stats.DefaultTopTags, statsMaxAge),
	}
}

// RegisterRoutes registers the HTTP API with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	echoServer.GET("/healthz", s.Healthz)

	api := echoServer.Group("/api/v1")
	api.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	api.GET("/records", s.ListRecords)
	api.GET("/records/:id", s.GetRecord)
	api.GET("/stats", s.GetStats)
	// tagging may reach the oracle, so it is rate limited per client
	api.POST("/tag", s.TagBatch, tmiddleware.RateLimit(s.rateLimiter))
}

// Healthz reports liveness and the cache size.
// GET /healthz
func (s *APIV1Service) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"records": s.Store.Len(),
		"version": s.Profile.Version,
	})
}

// GetStats summarizes the cache.
// GET /api/v1/stats
func (s *APIV1Service) GetStats(c echo.Context) error {
	summary, err := s.stats.GetStats(c.Request().Context())
	if err != nil {
		slog.Warn("failed to collect stats", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to collect stats"})
	}
	return c.JSON(http.StatusOK, summary)
}
