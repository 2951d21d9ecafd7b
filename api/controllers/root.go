package controllers

import (
	"net/http"

	"github.com/angelmondragon/signup-sync/api/responses"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

const (
	ServiceName    = "signup-sync"
	ServiceVersion = "2.0.0"
)

// Root describes the service and the sources it can sync.
func Root(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]any{
			"service":           ServiceName,
			"status":            "running",
			"version":           ServiceVersion,
			"environment":       cfg.App.Env,
			"supported_sources": enums.SyncableSourceTypes(),
		})
	}
}
