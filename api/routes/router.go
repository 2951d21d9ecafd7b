package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/signup-sync/api/controllers"
	"github.com/angelmondragon/signup-sync/api/middleware"
	"github.com/angelmondragon/signup-sync/internal/analytics"
	"github.com/angelmondragon/signup-sync/internal/funnel"
	"github.com/angelmondragon/signup-sync/internal/sources"
	"github.com/angelmondragon/signup-sync/internal/syncer"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/metrics"
	"github.com/angelmondragon/signup-sync/pkg/redis"
)

// Deps are the collaborators the HTTP surface needs. Redis and Gatherer are
// optional.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       redis.Pinger
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
	Sync        syncer.Service
	Sources     sources.Service
	Funnel      funnel.Service
	Analytics   analytics.Service
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(d.HTTPMetrics),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Get("/", controllers.Root(cfg))
	r.Get("/health", controllers.Health(logg, d.DB, d.Redis))
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.ServiceAuth(cfg.Auth.ServiceToken, logg))

		r.Route("/sync", func(r chi.Router) {
			r.Post("/all", controllers.SyncAll(d.Sync, logg))
			r.Get("/status/{"+controllers.SourceTypeParam+"}", controllers.SyncStatus(d.Sources, logg))
			r.Post("/{"+controllers.SourceTypeParam+"}", controllers.SyncSource(d.Sync, logg))
		})

		r.Route("/funnel", func(r chi.Router) {
			r.Post("/event", controllers.RecordEvent(d.Funnel, logg))
			r.Post("/conversion", controllers.RecordConversion(d.Funnel, logg))
		})

		r.Get("/analytics/funnel-metrics", controllers.FunnelMetrics(d.Analytics, logg))
	})

	return r
}
